package git

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
	"golang.org/x/sync/errgroup"

	"github.com/MyCarrier-DevOps/docsync/internal/adapters/git/treewalk"
	"github.com/MyCarrier-DevOps/docsync/internal/domain"
)

// StageConcurrency bounds the number of files read and hashed at once while staging.
const StageConcurrency = 8

// stagedBlob is the result of reading one changed file.
type stagedBlob struct {
	data    []byte
	hash    plumbing.Hash
	modTime time.Time
	mode    filemode.FileMode
}

// stage brings the index in line with the working tree and returns the number of
// paths it changed.
func (e *Engine) stage(ctx context.Context, h *handle) (int, error) {
	idx, err := h.storage.Index()
	if err != nil {
		return 0, fmt.Errorf("read index: %w", err)
	}
	ignore, err := treewalk.LoadIgnorePolicy(h.worktreeFS())
	if err != nil {
		return 0, fmt.Errorf("read ignore patterns: %w", err)
	}

	changes, err := treewalk.NewWalker(
		treewalk.NewWorktreeSnapshot(h.worktreeFS()),
		treewalk.NewIndexSnapshot(idx),
		ignore,
	).Diff(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: diff working tree: %w", domain.ErrStage, err)
	}
	if len(changes) == 0 {
		return 0, nil
	}

	blobs, err := e.readChanges(ctx, h, changes)
	if err != nil {
		return 0, err
	}

	for i, change := range changes {
		if change.Deleted {
			if _, err := idx.Remove(change.Path); err != nil && !errors.Is(err, index.ErrEntryNotFound) {
				return 0, fmt.Errorf("%w: unstage %s: %w", domain.ErrStage, change.Path, err)
			}
			continue
		}

		blob := blobs[i]
		if err := writeBlob(h, blob); err != nil {
			return 0, fmt.Errorf("%w: write blob for %s: %w", domain.ErrStage, change.Path, err)
		}

		// Existing entries keep their mode, so executables and links stay what they are.
		entry, err := idx.Entry(change.Path)
		if err != nil {
			entry = idx.Add(change.Path)
			entry.Mode = blob.mode
		}
		entry.Hash = blob.hash
		entry.Size = uint32(len(blob.data))
		entry.ModifiedAt = blob.modTime
	}

	if err := h.storage.SetIndex(idx); err != nil {
		return 0, fmt.Errorf("%w: write index: %w", domain.ErrStage, err)
	}

	e.logger.Debug(ctx, "staged changes", map[string]interface{}{
		"paths": len(changes),
	})
	return len(changes), nil
}

// readChanges reads and hashes every non-deleted change concurrently. Every slot runs
// to completion; any failure fails the whole stage with the individual errors joined.
func (e *Engine) readChanges(ctx context.Context, h *handle, changes []domain.UnstagedFile) ([]stagedBlob, error) {
	blobs := make([]stagedBlob, len(changes))
	errs := make([]error, len(changes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(StageConcurrency)
	for i, change := range changes {
		if change.Deleted {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			data, err := util.ReadFile(h.worktreeFS(), change.Path)
			if err != nil {
				errs[i] = fmt.Errorf("read %s: %w", change.Path, err)
				return nil
			}
			var modTime time.Time
			mode := filemode.Regular
			if fi, err := h.worktreeFS().Stat(change.Path); err == nil {
				modTime = fi.ModTime()
				if fi.Mode().Perm()&0o111 != 0 {
					mode = filemode.Executable
				}
			}
			blobs[i] = stagedBlob{
				data:    data,
				hash:    plumbing.ComputeHash(plumbing.BlobObject, data),
				modTime: modTime,
				mode:    mode,
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStage, err)
	}
	return blobs, nil
}

func writeBlob(h *handle, blob stagedBlob) error {
	if h.storage.HasEncodedObject(blob.hash) == nil {
		return nil
	}
	obj := h.storage.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	obj.SetSize(int64(len(blob.data)))
	w, err := obj.Writer()
	if err != nil {
		return err
	}
	if _, err := w.Write(blob.data); err != nil {
		_ = w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	_, err = h.storage.SetEncodedObject(obj)
	return err
}

// commit records the stage as a new commit on the tracked branch.
// It returns the zero hash when the stage matches the tip tree.
func (e *Engine) commit(ctx context.Context, h *handle) (plumbing.Hash, error) {
	wt, err := h.repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}

	now := e.now().UTC()
	sig := &object.Signature{Name: domain.CommitAuthorName, Email: domain.CommitAuthorEmail, When: now}
	hash, err := wt.Commit(domain.CommitMessagePrefix+now.Format(time.RFC3339), &git.CommitOptions{
		Author:    sig,
		Committer: sig,
	})
	if errors.Is(err, git.ErrEmptyCommit) {
		return plumbing.ZeroHash, nil
	}
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit: %w", err)
	}

	e.logger.Info(ctx, "created commit", map[string]interface{}{
		"commit_sha": hash.String(),
	})
	return hash, nil
}

// stagedChanges reports whether the index differs from the tree of the local tip.
func (e *Engine) stagedChanges(ctx context.Context, h *handle) (bool, error) {
	idx, err := h.storage.Index()
	if err != nil {
		return false, fmt.Errorf("read index: %w", err)
	}

	var tree *object.Tree
	tip, err := h.refHash(h.localRef())
	if err != nil {
		return false, err
	}
	if !tip.IsZero() {
		c, err := object.GetCommit(h.storage, tip)
		if err != nil {
			return false, fmt.Errorf("read tip commit: %w", err)
		}
		if tree, err = c.Tree(); err != nil {
			return false, fmt.Errorf("read tip tree: %w", err)
		}
	}

	diff, err := treewalk.NewWalker(
		treewalk.NewIndexSnapshot(idx),
		treewalk.NewTreeSnapshot(tree),
		nil,
	).Diff(ctx)
	if err != nil {
		return false, fmt.Errorf("diff stage against tip: %w", err)
	}
	return len(diff) > 0, nil
}
