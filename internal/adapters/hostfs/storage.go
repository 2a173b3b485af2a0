package hostfs

import (
	"errors"
	"os"
	"path"
	"sort"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/MyCarrier-DevOps/docsync/internal/domain"
)

// BillyStorage implements domain.HostStorage over any billy.Filesystem.
type BillyStorage struct {
	fs billy.Filesystem
}

var _ domain.HostStorage = (*BillyStorage)(nil)

// NewBillyStorage wraps fs as host storage.
func NewBillyStorage(fs billy.Filesystem) *BillyStorage {
	return &BillyStorage{fs: fs}
}

// NewOSStorage returns host storage rooted at dir on the local disk.
func NewOSStorage(dir string) *BillyStorage {
	return NewBillyStorage(osfs.New(dir))
}

// Read returns the content of p.
func (s *BillyStorage) Read(p string) ([]byte, error) {
	return util.ReadFile(s.fs, p)
}

// Write replaces the content of p, creating parent directories. New files are created
// with perm; existing files only follow its executable bits.
func (s *BillyStorage) Write(p string, data []byte, perm os.FileMode) error {
	if dir := path.Dir(p); dir != "." && dir != "/" {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := util.WriteFile(s.fs, p, data, perm); err != nil {
		return err
	}
	return s.syncExecutable(p, perm)
}

// syncExecutable sets or clears the executable bits of p to match perm, granting
// execute wherever read is granted.
func (s *BillyStorage) syncExecutable(p string, perm os.FileMode) error {
	ch, ok := s.fs.(billy.Chmod)
	if !ok {
		return nil
	}
	fi, err := s.fs.Stat(p)
	if err != nil {
		return err
	}

	have := fi.Mode().Perm()
	want := have &^ 0o111
	if perm&0o111 != 0 {
		want |= (have & 0o444) >> 2
	}
	if want == have {
		return nil
	}
	return ch.Chmod(p, want)
}

// Remove deletes p. A missing path is not an error.
func (s *BillyStorage) Remove(p string) error {
	if err := s.fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// List returns the sorted entry names of dir.
func (s *BillyStorage) List(dir string) ([]string, error) {
	entries, err := s.fs.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Stat returns metadata for p.
func (s *BillyStorage) Stat(p string) (domain.HostFileInfo, error) {
	fi, err := s.fs.Stat(p)
	if err != nil {
		return domain.HostFileInfo{}, err
	}
	return domain.HostFileInfo{
		IsDir:   fi.IsDir(),
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
		Mode:    fi.Mode().Perm(),
	}, nil
}
