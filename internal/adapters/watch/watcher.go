// Package watch turns filesystem activity in the working directory into debounced
// change signals.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/MyCarrier-DevOps/docsync/internal/domain"
)

// Logger defines the logging interface for the watcher.
type Logger interface {
	Debug(ctx context.Context, msg string, fields map[string]interface{})
	Warn(ctx context.Context, msg string, fields map[string]interface{})
}

// Watcher implements domain.ChangeSource on top of fsnotify.
// Directories are watched recursively; new directories join the watch set as they appear.
type Watcher struct {
	root     string
	fsw      *fsnotify.Watcher
	debounce *Debouncer
	changes  chan struct{}
	logger   Logger

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

var _ domain.ChangeSource = (*Watcher)(nil)

// New starts watching root. A signal is sent on Changes once no event has arrived for delay.
func New(root string, delay time.Duration, log Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}

	w := &Watcher{
		root:    root,
		fsw:     fsw,
		changes: make(chan struct{}, 1),
		logger:  log,
		done:    make(chan struct{}),
	}
	w.debounce = NewDebouncer(delay, w.emit)

	if err := w.addTree(root); err != nil {
		return nil, errors.Join(err, fsw.Close())
	}

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Changes returns the channel of debounced change signals.
// Signals coalesce: at most one is pending at any time.
func (w *Watcher) Changes() <-chan struct{} {
	return w.changes
}

// Close stops watching. It is safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		w.debounce.Stop()
		err = w.fsw.Close()
		w.wg.Wait()
	})
	return err
}

func (w *Watcher) emit() {
	select {
	case <-w.done:
	case w.changes <- struct{}{}:
	default:
	}
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	ctx := context.Background()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if w.shouldIgnore(ev.Name) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addTree(ev.Name); err != nil {
						w.logger.Warn(ctx, "failed to watch new directory", map[string]interface{}{
							"path":  ev.Name,
							"error": err.Error(),
						})
					}
				}
			}
			w.logger.Debug(ctx, "filesystem event", map[string]interface{}{
				"op":   ev.Op.String(),
				"path": ev.Name,
			})
			w.debounce.Trigger()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, "fsnotify error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}

// addTree watches dir and every directory below it except .git.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p != dir && errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}

// shouldIgnore filters repository internals and editor or lock artifacts.
func (w *Watcher) shouldIgnore(name string) bool {
	rel, err := filepath.Rel(w.root, name)
	if err == nil {
		first, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
		if first == ".git" {
			return true
		}
	}
	base := filepath.Base(name)
	if strings.HasSuffix(base, "~") {
		return true
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".lock", ".swp", ".swx":
		return true
	}
	return false
}
