package git

import (
	"context"
	"fmt"

	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/MyCarrier-DevOps/docsync/internal/adapters/git/treewalk"
)

// checkout switches to the tracked branch, creating it at remote when it does not exist.
// A non-forced attempt is made first, followed by exactly one forced retry.
func (e *Engine) checkout(ctx context.Context, h *handle, remote plumbing.Hash) error {
	wt, err := h.repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}

	err = wt.Checkout(e.checkoutOptions(h, remote, false))
	if err == nil {
		return nil
	}
	e.logger.Debug(ctx, "checkout failed; retrying with force", map[string]interface{}{
		"branch": h.branch,
		"error":  err.Error(),
	})

	if err := wt.Checkout(e.checkoutOptions(h, remote, true)); err != nil {
		return fmt.Errorf("checkout %s: %w", h.branch, err)
	}
	return nil
}

func (e *Engine) checkoutOptions(h *handle, remote plumbing.Hash, force bool) *git.CheckoutOptions {
	opts := &git.CheckoutOptions{Branch: h.localRef(), Force: force}
	if local, err := h.refHash(h.localRef()); err != nil || local.IsZero() {
		opts.Create = true
		opts.Hash = remote
	}
	return opts
}

// resetHard points the branch, stage and working tree at the remote tracking commit.
func (e *Engine) resetHard(ctx context.Context, h *handle) (plumbing.Hash, error) {
	target, err := h.refHash(h.trackingRef())
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if target.IsZero() {
		return plumbing.ZeroHash, fmt.Errorf("reset: %s does not exist", h.trackingRef())
	}

	wt, err := h.repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}
	if err := wt.Reset(&git.ResetOptions{Commit: target, Mode: git.HardReset}); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("reset to %s: %w", target, err)
	}

	e.logger.Debug(ctx, "reset working tree", map[string]interface{}{
		"head_sha": target.String(),
	})
	return target, nil
}

// clean removes untracked, non-ignored paths. A path that cannot be removed is
// logged, reported in the returned list, and does not stop the others.
func (e *Engine) clean(ctx context.Context, h *handle) ([]string, error) {
	idx, err := h.storage.Index()
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	ignore, err := treewalk.LoadIgnorePolicy(h.worktreeFS())
	if err != nil {
		return nil, fmt.Errorf("read ignore patterns: %w", err)
	}

	walker := treewalk.NewWalker(
		treewalk.NewWorktreeSnapshot(h.worktreeFS()),
		treewalk.NewIndexSnapshot(idx),
		ignore,
	)
	untracked, err := walker.Untracked(ctx)
	if err != nil {
		return nil, fmt.Errorf("list untracked paths: %w", err)
	}

	var skipped []string
	for _, p := range untracked {
		if err := util.RemoveAll(h.worktreeFS(), p); err != nil {
			e.logger.Warn(ctx, "failed to remove untracked path", map[string]interface{}{
				"path":  p,
				"error": err.Error(),
			})
			skipped = append(skipped, p)
		}
	}

	if len(untracked) > 0 {
		e.logger.Debug(ctx, "removed untracked paths", map[string]interface{}{
			"removed": len(untracked) - len(skipped),
			"skipped": len(skipped),
		})
	}
	return skipped, nil
}
