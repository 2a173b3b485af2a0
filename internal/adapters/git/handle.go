package git

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	gittransport "github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage/filesystem"

	"github.com/MyCarrier-DevOps/docsync/internal/adapters/hostfs"
	"github.com/MyCarrier-DevOps/docsync/internal/domain"
)

// handle is the per-operation view of one repository. It is never shared between calls.
type handle struct {
	overlay *hostfs.Overlay
	storage *filesystem.Storage
	repo    *git.Repository
	branch  string
	url     string
}

func (h *handle) localRef() plumbing.ReferenceName {
	return plumbing.NewBranchReferenceName(h.branch)
}

func (h *handle) trackingRef() plumbing.ReferenceName {
	return plumbing.NewRemoteReferenceName(domain.RemoteName, h.branch)
}

func (h *handle) endpoint() (*gittransport.Endpoint, error) {
	ep, err := gittransport.NewEndpoint(h.url)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid remote URL: %w", domain.ErrConfiguration, err)
	}
	return ep, nil
}

// refHash resolves name to a hash, returning the zero hash when it does not exist.
func (h *handle) refHash(name plumbing.ReferenceName) (plumbing.Hash, error) {
	ref, err := h.storage.Reference(name)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return plumbing.ZeroHash, nil
	}
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve %s: %w", name, err)
	}
	return ref.Hash(), nil
}

// openHandle opens the repository stored in overlay, creating it when create is set.
func (e *Engine) openHandle(ctx context.Context, overlay *hostfs.Overlay, create bool) (*handle, error) {
	dotgit, err := overlay.Chroot(git.GitDirName)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrFilesystem, err)
	}
	storage := filesystem.NewStorage(dotgit, cache.NewObjectLRUDefault())

	h := &handle{
		overlay: overlay,
		storage: storage,
		branch:  e.settings.TrackedBranch(),
		url:     e.settings.RemoteURL,
	}

	repo, err := git.Open(storage, overlay)
	switch {
	case err == nil:
	case errors.Is(err, git.ErrRepositoryNotExists) && create:
		e.logger.Info(ctx, "initializing repository", map[string]interface{}{
			"branch": h.branch,
		})
		repo, err = git.InitWithOptions(storage, overlay, git.InitOptions{
			DefaultBranch: h.localRef(),
		})
		if err != nil {
			return nil, fmt.Errorf("init repository: %w", err)
		}
	case errors.Is(err, git.ErrRepositoryNotExists):
		return nil, domain.ErrRepositoryNotInitialized
	default:
		return nil, fmt.Errorf("open repository: %w", err)
	}
	h.repo = repo

	if err := e.ensureRemote(ctx, h); err != nil {
		return nil, err
	}
	return h, nil
}

// ensureRemote makes origin point at the configured URL and track the branch.
// With no configured URL, the URL already stored in the repository is used.
func (e *Engine) ensureRemote(ctx context.Context, h *handle) error {
	cfg, err := h.repo.Config()
	if err != nil {
		return fmt.Errorf("read repository config: %w", err)
	}

	changed := false
	remote, ok := cfg.Remotes[domain.RemoteName]
	switch {
	case h.url == "" && ok && len(remote.URLs) > 0:
		h.url = remote.URLs[0]
	case h.url == "":
		return domain.ErrRemoteURLNotConfigured
	case !ok:
		cfg.Remotes[domain.RemoteName] = &config.RemoteConfig{
			Name:  domain.RemoteName,
			URLs:  []string{h.url},
			Fetch: []config.RefSpec{fetchRefSpec(h.branch)},
		}
		changed = true
	case len(remote.URLs) == 0 || remote.URLs[0] != h.url:
		e.logger.Info(ctx, "updating remote URL", map[string]interface{}{
			"repository": repoLabel(h.url),
		})
		remote.URLs = []string{h.url}
		changed = true
	}

	if _, ok := cfg.Branches[h.branch]; !ok {
		cfg.Branches[h.branch] = &config.Branch{
			Name:   h.branch,
			Remote: domain.RemoteName,
			Merge:  h.localRef(),
		}
		changed = true
	}

	if !changed {
		return nil
	}
	if err := h.storage.SetConfig(cfg); err != nil {
		return fmt.Errorf("write repository config: %w", err)
	}
	return nil
}

func fetchRefSpec(branch string) config.RefSpec {
	return config.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/remotes/%s/%s", branch, domain.RemoteName, branch))
}

// worktreeFS returns the working tree filesystem of h.
func (h *handle) worktreeFS() billy.Filesystem {
	return h.overlay
}
