// Package git provides the embedded backend: every git operation runs in-process on
// go-git over host-provided storage and a host-provided network exchange.
// This package implements the domain.Backend interface.
package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	gittransport "github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/MyCarrier-DevOps/docsync/internal/adapters/hostfs"
	"github.com/MyCarrier-DevOps/docsync/internal/adapters/transport"
	"github.com/MyCarrier-DevOps/docsync/internal/domain"
)

// Logger defines the logging interface for the embedded engine.
// This interface enables dependency injection and testability.
type Logger interface {
	Debug(ctx context.Context, msg string, fields map[string]interface{})
	Info(ctx context.Context, msg string, fields map[string]interface{})
	Warn(ctx context.Context, msg string, fields map[string]interface{})
}

// Engine implements domain.Backend using go-git.
// Each operation builds its own repository handle over a fresh overlay.
type Engine struct {
	settings domain.Settings
	storage  domain.HostStorage
	client   gittransport.Transport
	auth     *transport.TokenAuth
	logger   Logger
	now      func() time.Time
}

var _ domain.Backend = (*Engine)(nil)

// NewEngine creates an Engine for settings. Files are read from and written to storage
// and every network exchange goes through host.
func NewEngine(settings domain.Settings, storage domain.HostStorage, host domain.HostHTTP, log Logger) *Engine {
	return &Engine{
		settings: settings,
		storage:  storage,
		client:   transport.NewClient(host),
		auth:     transport.NewTokenAuth(transport.StaticToken(settings.Token)),
		logger:   log,
		now:      time.Now,
	}
}

// Clone prepares the directory as a checkout of the remote branch.
//
// An empty directory is initialized and synced. A directory that already holds a
// repository is re-pointed at the configured remote and synced. Any other non-empty
// directory is rejected with domain.ErrDirectoryNotEmpty.
func (e *Engine) Clone(ctx context.Context) (*domain.SyncResult, error) {
	names, err := e.storage.List("")
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: list directory: %w", domain.ErrFilesystem, err)
	}

	hasRepo := false
	for _, name := range names {
		if name == ".git" {
			hasRepo = true
			break
		}
	}
	if len(names) > 0 && !hasRepo {
		return nil, domain.ErrDirectoryNotEmpty
	}

	e.logger.Info(ctx, "cloning repository", map[string]interface{}{
		"repository": repoLabel(e.settings.RemoteURL),
		"branch":     e.settings.TrackedBranch(),
		"existing":   hasRepo,
	})
	return e.runSync(ctx, true)
}

// Sync fetches the remote branch and overwrites the working tree with it.
func (e *Engine) Sync(ctx context.Context) (*domain.SyncResult, error) {
	return e.runSync(ctx, false)
}

func (e *Engine) runSync(ctx context.Context, create bool) (*domain.SyncResult, error) {
	session := domain.NewSyncSession()
	result := &domain.SyncResult{}
	overlay := hostfs.New(e.storage)

	err := overlay.WithFlush(func() error {
		h, err := e.openHandle(ctx, overlay, create)
		if err != nil {
			return err
		}

		session.Advance(domain.SyncFetching)
		remote, err := e.fetch(ctx, h)
		if err != nil {
			return session.Fail(err)
		}

		session.Advance(domain.SyncCheckingOut)
		if err := e.checkout(ctx, h, remote); err != nil {
			return session.Fail(err)
		}

		session.Advance(domain.SyncResetting)
		head, err := e.resetHard(ctx, h)
		if err != nil {
			return session.Fail(err)
		}
		result.Head = head.String()

		session.Advance(domain.SyncCleaning)
		if result.Skipped, err = e.clean(ctx, h); err != nil {
			return session.Fail(err)
		}

		session.Advance(domain.SyncDone)
		return nil
	})

	result.State = session.State()
	if err != nil {
		if !session.Terminal() {
			_ = session.Fail(err)
			result.State = session.State()
		}
		return result, err
	}

	e.logger.Info(ctx, "sync completed", map[string]interface{}{
		"head_sha": result.Head,
		"skipped":  len(result.Skipped),
	})
	return result, nil
}

// Push stages every change, commits when the stage differs from the tip, and
// transmits local commits when the remote tracking ref is behind.
func (e *Engine) Push(ctx context.Context) (*domain.PushResult, error) {
	session := domain.NewPushSession()
	result := &domain.PushResult{}
	overlay := hostfs.New(e.storage)

	err := overlay.WithFlush(func() error {
		h, err := e.openHandle(ctx, overlay, false)
		if err != nil {
			return err
		}

		session.Advance(domain.PushStaging)
		if _, err := e.stage(ctx, h); err != nil {
			return session.Fail(err)
		}

		pending, err := e.stagedChanges(ctx, h)
		if err != nil {
			return session.Fail(err)
		}
		if pending {
			session.Advance(domain.PushCommitting)
			hash, err := e.commit(ctx, h)
			if err != nil {
				return session.Fail(err)
			}
			result.Committed = !hash.IsZero()
			if result.Committed {
				result.Commit = hash.String()
			}
		}

		session.Advance(domain.PushCountingAhead)
		if result.Ahead, err = e.countAhead(ctx, h); err != nil {
			return session.Fail(err)
		}
		if result.Ahead == 0 {
			session.Advance(domain.PushDone)
			return nil
		}

		session.Advance(domain.PushPushing)
		if result.Pushed, err = e.push(ctx, h); err != nil {
			return session.Fail(err)
		}

		session.Advance(domain.PushDone)
		return nil
	})

	result.State = session.State()
	if err != nil {
		if !session.Terminal() {
			_ = session.Fail(err)
			result.State = session.State()
		}
		return result, err
	}

	e.logger.Info(ctx, "push completed", map[string]interface{}{
		"committed": result.Committed,
		"ahead":     result.Ahead,
		"pushed":    result.Pushed,
	})
	return result, nil
}
