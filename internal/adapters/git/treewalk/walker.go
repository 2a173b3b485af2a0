package treewalk

import (
	"context"
	"fmt"

	"github.com/MyCarrier-DevOps/docsync/internal/domain"
)

// Walker compares a working snapshot with a staged snapshot.
//
// The same walker serves two comparisons: working tree against the index when staging,
// and index against the HEAD tree when deciding whether to commit.
type Walker struct {
	working Snapshot
	staged  Snapshot
	ignore  *IgnorePolicy
}

// NewWalker creates a walker. ignore may be nil.
func NewWalker(working, staged Snapshot, ignore *IgnorePolicy) *Walker {
	return &Walker{working: working, staged: staged, ignore: ignore}
}

// pair is one name present on at least one side of a directory.
type pair struct {
	path   string
	work   *Entry
	staged *Entry
}

// Diff returns every path whose staged entry must change to match the working side,
// in depth-first lexical order. A kind change from anything other than blob to blob
// counts as a modification.
func (w *Walker) Diff(ctx context.Context) ([]domain.UnstagedFile, error) {
	var out []domain.UnstagedFile
	if err := w.diff(ctx, "", true, true, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (w *Walker) diff(ctx context.Context, dir string, workOK, stagedOK bool, out *[]domain.UnstagedFile) error {
	pairs, err := w.pairs(ctx, dir, workOK, stagedOK)
	if err != nil {
		return err
	}

	for _, p := range pairs {
		work, staged := p.work, p.staged
		if work != nil && work.Kind == KindSpecial {
			work = nil
		}

		switch {
		case work == nil && staged == nil:
			continue
		case staged == nil && w.ignore.Ignored(p.path, work.Kind == KindTree):
			continue
		case staged != nil && staged.Kind == KindCommit:
			continue
		}

		switch {
		case work != nil && work.Kind == KindTree:
			if staged != nil && staged.Kind == KindBlob {
				*out = append(*out, domain.UnstagedFile{Path: p.path, Deleted: true})
			}
			stagedTree := staged != nil && staged.Kind == KindTree
			if err := w.diff(ctx, p.path, true, stagedTree, out); err != nil {
				return err
			}

		case staged != nil && staged.Kind == KindTree:
			if err := w.diff(ctx, p.path, false, true, out); err != nil {
				return err
			}
			if work != nil {
				*out = append(*out, domain.UnstagedFile{Path: p.path})
			}

		case work != nil:
			if staged == nil || staged.Kind != KindBlob {
				*out = append(*out, domain.UnstagedFile{Path: p.path})
				continue
			}
			changed, err := w.blobChanged(*work, *staged)
			if err != nil {
				return err
			}
			if changed {
				*out = append(*out, domain.UnstagedFile{Path: p.path})
			}

		case staged != nil && staged.Kind == KindBlob:
			*out = append(*out, domain.UnstagedFile{Path: p.path, Deleted: true})
		}
	}
	return nil
}

// Untracked returns the top-most working paths that are absent from the stage and
// not ignored. A directory is reported once when nothing inside it must survive.
func (w *Walker) Untracked(ctx context.Context) ([]string, error) {
	out, _, err := w.untracked(ctx, "", true)
	return out, err
}

// untracked returns the untracked paths under dir and whether every entry of dir is
// untracked and removable.
func (w *Walker) untracked(ctx context.Context, dir string, stagedOK bool) ([]string, bool, error) {
	pairs, err := w.pairs(ctx, dir, true, stagedOK)
	if err != nil {
		return nil, false, err
	}

	var out []string
	whole := true
	for _, p := range pairs {
		work, staged := p.work, p.staged
		if staged != nil {
			whole = false
		}
		if work == nil {
			continue
		}
		if work.Kind == KindSpecial {
			whole = false
			continue
		}

		isDir := work.Kind == KindTree
		switch {
		case staged == nil:
			if w.ignore.Ignored(p.path, isDir) {
				whole = false
				continue
			}
			if !isDir {
				out = append(out, p.path)
				continue
			}
			sub, subWhole, err := w.untracked(ctx, p.path, false)
			if err != nil {
				return nil, false, err
			}
			if subWhole {
				out = append(out, p.path)
			} else {
				whole = false
				out = append(out, sub...)
			}

		case isDir && staged.Kind == KindTree:
			sub, _, err := w.untracked(ctx, p.path, true)
			if err != nil {
				return nil, false, err
			}
			out = append(out, sub...)

		case isDir != (staged.Kind == KindTree) && staged.Kind != KindCommit:
			out = append(out, p.path)
		}
	}
	return out, whole, nil
}

// pairs merges the sorted children of dir on both sides.
func (w *Walker) pairs(ctx context.Context, dir string, workOK, stagedOK bool) ([]pair, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var work, staged []Entry
	var err error
	if workOK {
		if work, err = w.working.Children(dir); err != nil {
			return nil, fmt.Errorf("list working %q: %w", dir, err)
		}
	}
	if stagedOK {
		if staged, err = w.staged.Children(dir); err != nil {
			return nil, fmt.Errorf("list staged %q: %w", dir, err)
		}
	}

	out := make([]pair, 0, len(work)+len(staged))
	i, j := 0, 0
	for i < len(work) || j < len(staged) {
		switch {
		case j >= len(staged) || (i < len(work) && work[i].Name < staged[j].Name):
			out = append(out, pair{path: work[i].Path, work: &work[i]})
			i++
		case i >= len(work) || staged[j].Name < work[i].Name:
			out = append(out, pair{path: staged[j].Path, staged: &staged[j]})
			j++
		default:
			out = append(out, pair{path: work[i].Path, work: &work[i], staged: &staged[j]})
			i++
			j++
		}
	}
	return out, nil
}

func (w *Walker) blobChanged(work, staged Entry) (bool, error) {
	wh, err := w.working.Hash(work)
	if err != nil {
		return false, fmt.Errorf("hash %s: %w", work.Path, err)
	}
	sh, err := w.staged.Hash(staged)
	if err != nil {
		return false, fmt.Errorf("hash staged %s: %w", staged.Path, err)
	}
	return wh != sh, nil
}
