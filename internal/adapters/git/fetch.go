package git

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/packfile"
	"github.com/go-git/go-git/v5/plumbing/protocol/packp"
	"github.com/go-git/go-git/v5/plumbing/protocol/packp/capability"
	"github.com/go-git/go-git/v5/plumbing/protocol/packp/sideband"
	gittransport "github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/MyCarrier-DevOps/docsync/internal/adapters/transport"
	"github.com/MyCarrier-DevOps/docsync/internal/domain"
)

// fetch downloads the tracked branch and points the remote tracking ref at it.
// The working tree is never touched.
func (e *Engine) fetch(ctx context.Context, h *handle) (plumbing.Hash, error) {
	ep, err := h.endpoint()
	if err != nil {
		return plumbing.ZeroHash, err
	}

	sess, err := e.client.NewUploadPackSession(ep, e.auth)
	if err != nil {
		return plumbing.ZeroHash, transport.Classify(err)
	}
	defer func() { _ = sess.Close() }()

	ar, err := sess.AdvertisedReferencesContext(ctx)
	if errors.Is(err, gittransport.ErrEmptyRemoteRepository) {
		return plumbing.ZeroHash, fmt.Errorf("%w: %s (remote is empty)", domain.ErrRemoteBranchNotFound, h.branch)
	}
	if err != nil {
		return plumbing.ZeroHash, transport.Classify(err)
	}

	refs, err := ar.AllReferences()
	if err != nil {
		return plumbing.ZeroHash, transport.Classify(err)
	}
	ref, err := refs.Reference(h.localRef())
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("%w: %s", domain.ErrRemoteBranchNotFound, h.branch)
	}
	remote := ref.Hash()

	if h.storage.HasEncodedObject(remote) != nil {
		if err := e.fetchPack(ctx, h, sess, ar, remote); err != nil {
			return plumbing.ZeroHash, err
		}
	} else {
		e.logger.Debug(ctx, "remote tip already present", map[string]interface{}{
			"remote_sha": remote.String(),
		})
	}

	if err := h.storage.SetReference(plumbing.NewHashReference(h.trackingRef(), remote)); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("update %s: %w", h.trackingRef(), err)
	}

	e.logger.Debug(ctx, "fetched remote branch", map[string]interface{}{
		"branch":     h.branch,
		"remote_sha": remote.String(),
	})
	return remote, nil
}

func (e *Engine) fetchPack(
	ctx context.Context,
	h *handle,
	sess gittransport.UploadPackSession,
	ar *packp.AdvRefs,
	want plumbing.Hash,
) (err error) {
	req := packp.NewUploadPackRequestFromCapabilities(ar.Capabilities)
	req.Wants = []plumbing.Hash{want}
	if ar.Capabilities.Supports(capability.NoProgress) {
		_ = req.Capabilities.Set(capability.NoProgress)
	}

	shallow := ar.Capabilities.Supports(capability.Shallow)
	if shallow {
		req.Depth = packp.DepthCommits(1)
		if err := req.Capabilities.Set(capability.Shallow); err != nil {
			return fmt.Errorf("request shallow fetch: %w", err)
		}
		if req.Shallows, err = h.storage.Shallow(); err != nil {
			return fmt.Errorf("read shallow list: %w", err)
		}
	}

	if req.Haves, err = e.haves(h); err != nil {
		return err
	}

	resp, err := sess.UploadPack(ctx, req)
	if errors.Is(err, gittransport.ErrEmptyUploadPackRequest) {
		return nil
	}
	if err != nil {
		return transport.Classify(err)
	}
	defer func() {
		if closeErr := resp.Close(); closeErr != nil && err == nil {
			err = transport.Classify(closeErr)
		}
	}()

	if shallow {
		if err := mergeShallows(h, resp.Shallows); err != nil {
			return err
		}
	}

	if err := packfile.UpdateObjectStorage(h.storage, demux(req.Capabilities, resp)); err != nil {
		return transport.Classify(fmt.Errorf("read packfile: %w", err))
	}
	return nil
}

// haves lists the local tips the remote can build a delta against.
func (e *Engine) haves(h *handle) ([]plumbing.Hash, error) {
	var out []plumbing.Hash
	seen := make(map[plumbing.Hash]struct{})
	for _, name := range []plumbing.ReferenceName{h.trackingRef(), h.localRef()} {
		hash, err := h.refHash(name)
		if err != nil {
			return nil, err
		}
		if hash.IsZero() || h.storage.HasEncodedObject(hash) != nil {
			continue
		}
		if _, ok := seen[hash]; ok {
			continue
		}
		seen[hash] = struct{}{}
		out = append(out, hash)
	}
	return out, nil
}

func mergeShallows(h *handle, received []plumbing.Hash) error {
	if len(received) == 0 {
		return nil
	}
	current, err := h.storage.Shallow()
	if err != nil {
		return fmt.Errorf("read shallow list: %w", err)
	}
	known := make(map[plumbing.Hash]struct{}, len(current))
	for _, s := range current {
		known[s] = struct{}{}
	}
	for _, s := range received {
		if _, ok := known[s]; !ok {
			current = append(current, s)
			known[s] = struct{}{}
		}
	}
	if err := h.storage.SetShallow(current); err != nil {
		return fmt.Errorf("write shallow list: %w", err)
	}
	return nil
}

func demux(caps *capability.List, r io.Reader) io.Reader {
	switch {
	case caps.Supports(capability.Sideband64k):
		return sideband.NewDemuxer(sideband.Sideband64k, r)
	case caps.Supports(capability.Sideband):
		return sideband.NewDemuxer(sideband.Sideband, r)
	default:
		return r
	}
}
