package treewalk

import (
	"errors"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const gitDir = ".git"

// WorktreeSnapshot reads a working tree from a billy filesystem.
type WorktreeSnapshot struct {
	fs billy.Filesystem
}

// NewWorktreeSnapshot returns a snapshot of fs. The .git directory is never listed.
func NewWorktreeSnapshot(fs billy.Filesystem) *WorktreeSnapshot {
	return &WorktreeSnapshot{fs: fs}
}

// Children lists dir. Regular files are blobs, directories are trees and anything
// else is special.
func (s *WorktreeSnapshot) Children(dir string) ([]Entry, error) {
	infos, err := s.fs.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	out := make([]Entry, 0, len(infos))
	for _, fi := range infos {
		if dir == "" && fi.Name() == gitDir {
			continue
		}
		kind := KindSpecial
		switch {
		case fi.IsDir():
			kind = KindTree
		case fi.Mode().IsRegular():
			kind = KindBlob
		}
		out = append(out, Entry{Name: fi.Name(), Path: join(dir, fi.Name()), Kind: kind})
	}
	sortEntries(out)
	return out, nil
}

// Hash reads the file and computes its blob id.
func (s *WorktreeSnapshot) Hash(e Entry) (plumbing.Hash, error) {
	if !e.Hash.IsZero() {
		return e.Hash, nil
	}
	data, err := util.ReadFile(s.fs, e.Path)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return plumbing.ComputeHash(plumbing.BlobObject, data), nil
}

// IndexSnapshot exposes a git index as a tree. Directories are implied by entry paths.
type IndexSnapshot struct {
	children map[string][]Entry
}

// NewIndexSnapshot builds the directory structure of idx once.
func NewIndexSnapshot(idx *index.Index) *IndexSnapshot {
	s := &IndexSnapshot{children: make(map[string][]Entry)}
	if idx == nil {
		return s
	}

	seenDirs := make(map[string]struct{})
	for _, e := range idx.Entries {
		name := path.Base(e.Name)
		dir := parent(e.Name)
		s.children[dir] = append(s.children[dir], Entry{
			Name: name,
			Path: e.Name,
			Kind: kindOfMode(e.Mode),
			Hash: e.Hash,
		})

		for dir != "" {
			if _, ok := seenDirs[dir]; ok {
				break
			}
			seenDirs[dir] = struct{}{}
			up := parent(dir)
			s.children[up] = append(s.children[up], Entry{Name: path.Base(dir), Path: dir, Kind: KindTree})
			dir = up
		}
	}

	for _, entries := range s.children {
		sortEntries(entries)
	}
	return s
}

// Children returns the staged entries under dir.
func (s *IndexSnapshot) Children(dir string) ([]Entry, error) {
	return s.children[dir], nil
}

// Hash returns the staged blob id.
func (s *IndexSnapshot) Hash(e Entry) (plumbing.Hash, error) {
	return e.Hash, nil
}

// TreeSnapshot exposes a committed tree. A nil tree is an unborn branch with no entries.
type TreeSnapshot struct {
	tree *object.Tree
}

// NewTreeSnapshot returns a snapshot of tree.
func NewTreeSnapshot(tree *object.Tree) *TreeSnapshot {
	return &TreeSnapshot{tree: tree}
}

// Children lists the subtree at dir.
func (s *TreeSnapshot) Children(dir string) ([]Entry, error) {
	if s.tree == nil {
		return nil, nil
	}
	t := s.tree
	if dir != "" {
		sub, err := s.tree.Tree(dir)
		if err != nil {
			if errors.Is(err, object.ErrDirectoryNotFound) || errors.Is(err, object.ErrEntryNotFound) {
				return nil, nil
			}
			return nil, err
		}
		t = sub
	}

	out := make([]Entry, 0, len(t.Entries))
	for _, te := range t.Entries {
		out = append(out, Entry{
			Name: te.Name,
			Path: join(dir, te.Name),
			Kind: kindOfMode(te.Mode),
			Hash: te.Hash,
		})
	}
	sortEntries(out)
	return out, nil
}

// Hash returns the committed blob id.
func (s *TreeSnapshot) Hash(e Entry) (plumbing.Hash, error) {
	return e.Hash, nil
}

func kindOfMode(m filemode.FileMode) Kind {
	switch m {
	case filemode.Dir:
		return KindTree
	case filemode.Submodule:
		return KindCommit
	case filemode.Regular, filemode.Executable, filemode.Deprecated, filemode.Symlink:
		return KindBlob
	default:
		return KindSpecial
	}
}

func join(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

func parent(p string) string {
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return ""
	}
	return p[:i]
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
}
