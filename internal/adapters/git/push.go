package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/packfile"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/protocol/packp"
	"github.com/go-git/go-git/v5/plumbing/protocol/packp/capability"
	"github.com/go-git/go-git/v5/plumbing/revlist"
	gittransport "github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/MyCarrier-DevOps/docsync/internal/adapters/transport"
)

// countAhead counts commits reachable from the local tip that are not the remote
// tracking commit, walking parents breadth first. Missing objects and shallow
// boundaries end the walk. No network call is made.
func (e *Engine) countAhead(ctx context.Context, h *handle) (int, error) {
	local, err := h.refHash(h.localRef())
	if err != nil || local.IsZero() {
		return 0, err
	}
	remote, err := h.refHash(h.trackingRef())
	if err != nil {
		return 0, err
	}

	shallows, err := h.storage.Shallow()
	if err != nil {
		return 0, fmt.Errorf("read shallow list: %w", err)
	}
	boundary := make(map[plumbing.Hash]struct{}, len(shallows))
	for _, s := range shallows {
		boundary[s] = struct{}{}
	}

	count := 0
	seen := map[plumbing.Hash]struct{}{local: {}}
	queue := []plumbing.Hash{local}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		hash := queue[0]
		queue = queue[1:]
		if hash == remote {
			continue
		}

		c, err := object.GetCommit(h.storage, hash)
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("read commit %s: %w", hash, err)
		}
		count++

		if _, ok := boundary[hash]; ok {
			continue
		}
		for _, parent := range c.ParentHashes {
			if _, ok := seen[parent]; ok {
				continue
			}
			seen[parent] = struct{}{}
			queue = append(queue, parent)
		}
	}
	return count, nil
}

// push sends the local tip to the remote branch and advances the tracking ref.
// It reports whether the remote was updated.
func (e *Engine) push(ctx context.Context, h *handle) (bool, error) {
	local, err := h.refHash(h.localRef())
	if err != nil {
		return false, err
	}
	ep, err := h.endpoint()
	if err != nil {
		return false, err
	}

	sess, err := e.client.NewReceivePackSession(ep, e.auth)
	if err != nil {
		return false, transport.Classify(err)
	}
	defer func() { _ = sess.Close() }()

	ar, err := sess.AdvertisedReferencesContext(ctx)
	if err != nil {
		return false, transport.Classify(err)
	}
	refs, err := ar.AllReferences()
	if err != nil {
		return false, transport.Classify(err)
	}

	old := plumbing.ZeroHash
	if ref, err := refs.Reference(h.localRef()); err == nil {
		old = ref.Hash()
	}

	if old != local {
		if err := e.sendPack(ctx, h, sess, ar, refs, old, local); err != nil {
			return false, err
		}
	}

	if err := h.storage.SetReference(plumbing.NewHashReference(h.trackingRef(), local)); err != nil {
		return false, fmt.Errorf("update %s: %w", h.trackingRef(), err)
	}

	e.logger.Debug(ctx, "pushed branch", map[string]interface{}{
		"branch":     h.branch,
		"old_sha":    old.String(),
		"new_sha":    local.String(),
		"up_to_date": old == local,
	})
	return old != local, nil
}

func (e *Engine) sendPack(
	ctx context.Context,
	h *handle,
	sess gittransport.ReceivePackSession,
	ar *packp.AdvRefs,
	refs memory.ReferenceStorage,
	old, local plumbing.Hash,
) error {
	req := packp.NewReferenceUpdateRequestFromCapabilities(ar.Capabilities)
	req.Commands = []*packp.Command{{Name: h.localRef(), Old: old, New: local}}

	haves := advertisedHashes(refs)
	shallows, err := h.storage.Shallow()
	if err != nil {
		return fmt.Errorf("read shallow list: %w", err)
	}
	haves = append(haves, shallows...)

	hashes, err := revlist.Objects(h.storage, []plumbing.Hash{local}, haves)
	if err != nil {
		return fmt.Errorf("list objects to push: %w", err)
	}

	cfg, err := h.storage.Config()
	if err != nil {
		return fmt.Errorf("read repository config: %w", err)
	}
	var pack bytes.Buffer
	useRefDeltas := !ar.Capabilities.Supports(capability.OFSDelta)
	if _, err := packfile.NewEncoder(&pack, h.storage, useRefDeltas).Encode(hashes, cfg.Pack.Window); err != nil {
		return fmt.Errorf("encode packfile: %w", err)
	}
	req.Packfile = io.NopCloser(&pack)

	e.logger.Debug(ctx, "sending packfile", map[string]interface{}{
		"objects": len(hashes),
		"bytes":   pack.Len(),
	})

	rs, err := sess.ReceivePack(ctx, req)
	if err != nil {
		return transport.Classify(err)
	}
	if rs != nil {
		if err := rs.Error(); err != nil {
			return transport.Classify(fmt.Errorf("remote rejected push: %w", err))
		}
	}
	return nil
}

func advertisedHashes(refs memory.ReferenceStorage) []plumbing.Hash {
	out := make([]plumbing.Hash, 0, len(refs))
	for _, ref := range refs {
		if ref.Type() == plumbing.HashReference {
			out = append(out, ref.Hash())
		}
	}
	return out
}
