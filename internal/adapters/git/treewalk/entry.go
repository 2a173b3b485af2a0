// Package treewalk computes the set of paths whose stage entries differ from a
// working tree, walking both sides in lock step.
package treewalk

import (
	"github.com/go-git/go-git/v5/plumbing"
)

// Kind is the object kind of a tree entry.
type Kind int

// Entry kinds.
const (
	KindBlob Kind = iota
	KindTree
	KindCommit
	KindSpecial
)

func (k Kind) String() string {
	switch k {
	case KindBlob:
		return "blob"
	case KindTree:
		return "tree"
	case KindCommit:
		return "commit"
	default:
		return "special"
	}
}

// Entry is one child of a directory in a snapshot.
type Entry struct {
	// Name is the base name.
	Name string

	// Path is the slash separated path from the snapshot root.
	Path string

	// Kind is the object kind.
	Kind Kind

	// Hash is the object id. It is zero until the owning snapshot computes it.
	Hash plumbing.Hash
}

// Snapshot is one side of a walk: a working tree, a stage or a committed tree.
type Snapshot interface {
	// Children returns the entries of dir sorted by name. A missing directory has no children.
	Children(dir string) ([]Entry, error)

	// Hash returns the object id of a blob entry, computing it when necessary.
	Hash(e Entry) (plumbing.Hash, error)
}
