// Package hostfs adapts host-provided storage to the go-billy filesystem used by the
// embedded git engine. Mutations are buffered in memory and only reach the host on Flush.
package hostfs

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/helper/chroot"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/MyCarrier-DevOps/docsync/internal/domain"
)

// Overlay is a billy.Filesystem layered over domain.HostStorage.
//
// Reads fall back to the host lazily and are cached in memory without being marked
// dirty. Writes, renames and removals stay in memory until Flush, which is the only
// point where host storage is mutated.
//
// A tombstone means the host content at that path, and everything below it, is gone.
// Writing the path again does not clear the tombstone, so Flush still removes whatever
// the host holds there before the buffered content is written. This is what lets a
// file become a directory and back.
type Overlay struct {
	host domain.HostStorage

	mu         sync.Mutex
	mem        billy.Filesystem
	dirty      map[string]struct{}
	tombstones map[string]struct{}
}

var _ billy.Filesystem = (*Overlay)(nil)

// New creates an Overlay over host with an empty in-memory layer.
func New(host domain.HostStorage) *Overlay {
	return &Overlay{
		host:       host,
		mem:        memfs.New(),
		dirty:      make(map[string]struct{}),
		tombstones: make(map[string]struct{}),
	}
}

// Pending returns the number of buffered writes and removals.
func (o *Overlay) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.dirty) + len(o.tombstones)
}

// Flush persists tombstones (deepest first) and dirty files to the host, then resets
// the in-memory layer. Paths that fail to persist stay buffered for the next flush.
func (o *Overlay) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var errs []error
	keptTombstones := make(map[string]struct{})
	for _, key := range deepestFirst(o.tombstones) {
		if err := o.removeHost(key); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", key, err))
			keptTombstones[key] = struct{}{}
		}
	}

	next := memfs.New()
	keptDirty := make(map[string]struct{})
	for _, key := range sortedKeys(o.dirty) {
		data, perm, err := o.buffered(key)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			errs = append(errs, fmt.Errorf("read buffered %s: %w", key, err))
			continue
		}
		if err := o.host.Write(key, data, perm); err != nil {
			errs = append(errs, fmt.Errorf("write %s: %w", key, err))
			if err := util.WriteFile(next, key, data, perm); err == nil {
				keptDirty[key] = struct{}{}
			}
		}
	}

	o.mem = next
	o.dirty = keptDirty
	o.tombstones = keptTombstones

	if len(errs) > 0 {
		return fmt.Errorf("%w: flush: %w", domain.ErrFilesystem, errors.Join(errs...))
	}
	return nil
}

// WithFlush runs fn and flushes afterwards on every exit path, including panics.
func (o *Overlay) WithFlush(fn func() error) (err error) {
	defer func() {
		if flushErr := o.Flush(); flushErr != nil {
			err = errors.Join(err, flushErr)
		}
	}()
	return fn()
}

// Create creates or truncates the named file.
func (o *Overlay) Create(filename string) (billy.File, error) {
	return o.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o666)
}

// Open opens the named file for reading.
func (o *Overlay) Open(filename string) (billy.File, error) {
	return o.OpenFile(filename, os.O_RDONLY, 0)
}

// OpenFile opens the named file, pulling it from the host first when needed.
func (o *Overlay) OpenFile(filename string, flag int, perm os.FileMode) (billy.File, error) {
	key := clean(filename)

	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.load(key); err != nil {
		return nil, err
	}

	writing := flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0
	if _, err := o.mem.Lstat(key); err != nil {
		if flag&os.O_CREATE == 0 {
			return nil, notExist("open", filename)
		}
		if err := o.checkParents("open", key); err != nil {
			return nil, err
		}
	}

	f, err := o.mem.OpenFile(key, flag, perm)
	if err != nil {
		return nil, err
	}
	if writing {
		o.markDirty(key)
	}
	return f, nil
}

// Stat returns file info from memory, loading it from the host first.
func (o *Overlay) Stat(filename string) (os.FileInfo, error) {
	key := clean(filename)

	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.load(key); err != nil {
		return nil, err
	}
	fi, err := o.mem.Stat(key)
	if err != nil {
		return nil, notExist("stat", filename)
	}
	return fi, nil
}

// Lstat is Stat; links are stored as regular files.
func (o *Overlay) Lstat(filename string) (os.FileInfo, error) {
	return o.Stat(filename)
}

// Rename moves a file or directory and marks everything moved as dirty.
func (o *Overlay) Rename(from, to string) error {
	fromKey, toKey := clean(from), clean(to)

	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.loadTree(fromKey); err != nil {
		return err
	}
	if _, err := o.mem.Lstat(fromKey); err != nil {
		return notExist("rename", from)
	}
	if _, err := o.loadParents(toKey); err != nil {
		return err
	}
	if err := o.checkParents("rename", toKey); err != nil {
		return err
	}
	if err := o.mem.Rename(fromKey, toKey); err != nil {
		return err
	}

	moved, err := o.memFiles(toKey)
	if err != nil {
		return err
	}
	for _, key := range moved {
		old := fromKey + strings.TrimPrefix(key, toKey)
		o.tombstone(old)
		o.markDirty(key)
	}
	o.tombstone(fromKey)
	return nil
}

// Remove deletes a file or an empty directory.
func (o *Overlay) Remove(filename string) error {
	key := clean(filename)

	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.load(key); err != nil {
		return err
	}
	fi, err := o.mem.Stat(key)
	if err != nil {
		return notExist("remove", filename)
	}
	if fi.IsDir() {
		entries, err := o.readDir(key)
		if err != nil {
			return err
		}
		if len(entries) > 0 {
			return &os.PathError{Op: "remove", Path: filename, Err: errors.New("directory not empty")}
		}
	}
	if err := o.mem.Remove(key); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	o.tombstone(key)
	return nil
}

// Join joins path elements with forward slashes.
func (o *Overlay) Join(elem ...string) string {
	return path.Join(elem...)
}

// TempFile creates a buffered temporary file.
func (o *Overlay) TempFile(dir, prefix string) (billy.File, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	dirKey := clean(dir)
	if err := o.load(dirKey); err != nil {
		return nil, err
	}
	if err := o.checkParents("tempfile", path.Join(dirKey, prefix)); err != nil {
		return nil, err
	}
	f, err := o.mem.TempFile(dirKey, prefix)
	if err != nil {
		return nil, err
	}
	o.markDirty(clean(f.Name()))
	return f, nil
}

// ReadDir lists the union of buffered and host entries, sorted by name.
func (o *Overlay) ReadDir(dirname string) ([]os.FileInfo, error) {
	key := clean(dirname)

	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.load(key); err != nil {
		return nil, err
	}
	if o.dead(key) {
		return nil, notExist("readdir", dirname)
	}
	if fi, err := o.mem.Lstat(memPath(key)); err == nil && !fi.IsDir() {
		return nil, &os.PathError{Op: "readdir", Path: dirname, Err: syscall.ENOTDIR}
	}
	return o.readDir(key)
}

// MkdirAll creates a directory and its parents in memory.
// Directories reach the host implicitly when files inside them are flushed.
func (o *Overlay) MkdirAll(filename string, perm os.FileMode) error {
	key := clean(filename)

	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.load(key); err != nil {
		return err
	}
	if fi, err := o.mem.Lstat(key); err == nil && !fi.IsDir() {
		return &os.PathError{Op: "mkdir", Path: filename, Err: syscall.ENOTDIR}
	}
	if err := o.checkParents("mkdir", key); err != nil {
		return err
	}
	return o.mem.MkdirAll(key, perm)
}

// Symlink stores link as a regular file whose content is target, the way git checks
// out links where the filesystem has none. The staged entry keeps its link mode.
func (o *Overlay) Symlink(target, link string) error {
	key := clean(link)

	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.load(key); err != nil {
		return err
	}
	if _, err := o.mem.Lstat(key); err == nil {
		return &os.PathError{Op: "symlink", Path: link, Err: os.ErrExist}
	}
	if err := o.checkParents("symlink", key); err != nil {
		return err
	}
	if err := util.WriteFile(o.mem, key, []byte(target), 0o644); err != nil {
		return err
	}
	o.markDirty(key)
	return nil
}

// Readlink always fails: links are stored as regular files.
func (o *Overlay) Readlink(link string) (string, error) {
	if _, err := o.Stat(link); err != nil {
		return "", err
	}
	return "", &os.PathError{Op: "readlink", Path: link, Err: syscall.EINVAL}
}

// Chroot returns a view of the overlay rooted at p. The view's Root is absolute so
// go-git recognises a ".git" chroot as the default repository location.
func (o *Overlay) Chroot(p string) (billy.Filesystem, error) {
	return chroot.New(o, path.Join("/", clean(p))), nil
}

// Root returns the overlay root.
func (o *Overlay) Root() string {
	return "/"
}

// Capabilities reports the capabilities of the in-memory layer.
func (o *Overlay) Capabilities() billy.Capability {
	return billy.Capabilities(o.mem)
}

// load pulls key and its ancestors from the host into memory unless they are buffered
// or buried.
func (o *Overlay) load(key string) error {
	if key == "" {
		return nil
	}
	if _, err := o.mem.Lstat(key); err == nil {
		return nil
	}
	if o.buried(key) {
		return nil
	}
	if ok, err := o.loadParents(key); err != nil || !ok {
		return err
	}

	info, err := o.host.Stat(key)
	if err != nil {
		if missing(err) {
			return nil
		}
		return fmt.Errorf("%w: stat %s: %w", domain.ErrFilesystem, key, err)
	}
	return o.loadEntry(key, info)
}

// loadParents pulls the ancestors of key into memory so buffered kinds match the host.
// It reports false when some ancestor is buffered as a file, is buried, or does not
// exist on the host, in which case key cannot exist on the host either.
func (o *Overlay) loadParents(key string) (bool, error) {
	parts := strings.Split(key, "/")
	for i := 1; i < len(parts); i++ {
		dir := strings.Join(parts[:i], "/")
		if fi, err := o.mem.Lstat(dir); err == nil {
			if !fi.IsDir() {
				return false, nil
			}
			continue
		}
		if o.buried(dir) {
			return false, nil
		}

		info, err := o.host.Stat(dir)
		if err != nil {
			if missing(err) {
				return false, nil
			}
			return false, fmt.Errorf("%w: stat %s: %w", domain.ErrFilesystem, dir, err)
		}
		if err := o.loadEntry(dir, info); err != nil {
			return false, err
		}
		if !info.IsDir {
			return false, nil
		}
	}
	return true, nil
}

func (o *Overlay) loadEntry(key string, info domain.HostFileInfo) error {
	if info.IsDir {
		return o.mem.MkdirAll(key, 0o755)
	}

	data, err := o.host.Read(key)
	if err != nil {
		if missing(err) {
			return nil
		}
		return fmt.Errorf("%w: read %s: %w", domain.ErrFilesystem, key, err)
	}
	return util.WriteFile(o.mem, key, data, hostPerm(info))
}

// checkParents fails with ENOTDIR when an ancestor of key is buffered as a file.
func (o *Overlay) checkParents(op, key string) error {
	for dir := path.Dir(key); dir != "." && dir != "/" && dir != ""; dir = path.Dir(dir) {
		if fi, err := o.mem.Lstat(dir); err == nil && !fi.IsDir() {
			return &os.PathError{Op: op, Path: key, Err: syscall.ENOTDIR}
		}
	}
	return nil
}

// buffered returns the content and permission bits of a buffered file.
func (o *Overlay) buffered(key string) ([]byte, os.FileMode, error) {
	fi, err := o.mem.Stat(key)
	if err != nil {
		return nil, 0, err
	}
	if fi.IsDir() {
		return nil, 0, notExist("read", key)
	}
	data, err := util.ReadFile(o.mem, key)
	if err != nil {
		return nil, 0, err
	}
	perm := fi.Mode().Perm()
	if perm == 0 {
		perm = 0o644
	}
	return data, perm, nil
}

// removeHost deletes key from the host, recursively for directories. A host file that
// a buffered file is about to overwrite is left for the write to replace.
func (o *Overlay) removeHost(key string) error {
	info, err := o.host.Stat(key)
	if err != nil {
		if missing(err) {
			return nil
		}
		return err
	}
	if !info.IsDir {
		if _, ok := o.dirty[key]; ok {
			if fi, err := o.mem.Lstat(key); err == nil && !fi.IsDir() {
				return nil
			}
		}
		return o.host.Remove(key)
	}

	names, err := o.host.List(key)
	if err != nil && !missing(err) {
		return err
	}
	for _, name := range names {
		if err := o.removeHost(path.Join(key, name)); err != nil {
			return err
		}
	}
	return o.host.Remove(key)
}

// loadTree loads key and, for directories, everything below it.
func (o *Overlay) loadTree(key string) error {
	if err := o.load(key); err != nil {
		return err
	}
	fi, err := o.mem.Stat(key)
	if err != nil || !fi.IsDir() {
		return nil
	}
	entries, err := o.readDir(key)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := o.loadTree(path.Join(key, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (o *Overlay) readDir(key string) ([]os.FileInfo, error) {
	byName := make(map[string]os.FileInfo)

	memEntries, memErr := o.mem.ReadDir(memPath(key))
	for _, fi := range memEntries {
		byName[fi.Name()] = fi
	}

	var names []string
	var hostErr error
	if o.buried(key) {
		hostErr = os.ErrNotExist
	} else if names, hostErr = o.host.List(key); hostErr != nil && !missing(hostErr) {
		return nil, fmt.Errorf("%w: list %s: %w", domain.ErrFilesystem, key, hostErr)
	}
	for _, name := range names {
		if _, ok := byName[name]; ok {
			continue
		}
		child := path.Join(key, name)
		if o.buried(child) {
			continue
		}
		info, err := o.host.Stat(child)
		if err != nil {
			if missing(err) {
				continue
			}
			return nil, fmt.Errorf("%w: stat %s: %w", domain.ErrFilesystem, child, err)
		}
		byName[name] = hostFileInfo{name: name, info: info}
	}

	if memErr != nil && hostErr != nil && key != "" {
		return nil, notExist("readdir", key)
	}

	out := make([]os.FileInfo, 0, len(byName))
	for _, fi := range byName {
		out = append(out, fi)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, nil
}

// memFiles returns key itself when it is a file, or every file below it.
func (o *Overlay) memFiles(key string) ([]string, error) {
	fi, err := o.mem.Stat(key)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return []string{key}, nil
	}

	var files []string
	err = util.Walk(o.mem, memPath(key), func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			files = append(files, clean(p))
		}
		return nil
	})
	return files, err
}

// dead reports whether key reads as missing: nothing is buffered there and the host
// content is buried.
func (o *Overlay) dead(key string) bool {
	if _, err := o.mem.Lstat(memPath(key)); err == nil {
		return false
	}
	return o.buried(key)
}

// buried reports whether key or one of its ancestors is tombstoned.
func (o *Overlay) buried(key string) bool {
	for p := key; p != "" && p != "." && p != "/"; p = path.Dir(p) {
		if _, ok := o.tombstones[p]; ok {
			return true
		}
	}
	return false
}

func (o *Overlay) tombstone(key string) {
	delete(o.dirty, key)
	o.tombstones[key] = struct{}{}
}

func (o *Overlay) markDirty(key string) {
	o.dirty[key] = struct{}{}
}

func clean(p string) string {
	p = path.Clean("/" + filepath.ToSlash(p))
	return strings.TrimPrefix(p, "/")
}

func memPath(key string) string {
	if key == "" {
		return "/"
	}
	return key
}

func notExist(op, p string) error {
	return &os.PathError{Op: op, Path: p, Err: os.ErrNotExist}
}

// missing treats a path below a regular file like a path that does not exist.
func missing(err error) bool {
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}

func hostPerm(info domain.HostFileInfo) os.FileMode {
	if perm := info.Mode.Perm(); perm != 0 {
		return perm
	}
	return 0o644
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func deepestFirst(set map[string]struct{}) []string {
	keys := sortedKeys(set)
	sort.SliceStable(keys, func(i, j int) bool {
		return strings.Count(keys[i], "/") > strings.Count(keys[j], "/")
	})
	return keys
}

type hostFileInfo struct {
	name string
	info domain.HostFileInfo
}

func (h hostFileInfo) Name() string       { return h.name }
func (h hostFileInfo) Size() int64        { return h.info.Size }
func (h hostFileInfo) ModTime() time.Time { return h.info.ModTime }
func (h hostFileInfo) IsDir() bool        { return h.info.IsDir }
func (h hostFileInfo) Sys() any           { return nil }

func (h hostFileInfo) Mode() os.FileMode {
	if h.info.IsDir {
		return os.ModeDir | 0o755
	}
	return hostPerm(h.info)
}
