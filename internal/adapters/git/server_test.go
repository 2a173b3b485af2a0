package git

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/format/pktline"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/protocol/packp"
	gittransport "github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/server"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/stretchr/testify/require"

	"github.com/MyCarrier-DevOps/docsync/internal/domain"
)

const (
	testRemoteURL = "https://git.example.com/team/notes.git"
	testToken     = "s3cret"
)

// gitServer is a smart-HTTP git remote served in memory. It implements
// domain.HostHTTP so the engine talks to it exactly as it would to a host.
type gitServer struct {
	t       *testing.T
	storage *memory.Storage
	fs      billy.Filesystem
	repo    *git.Repository
	backend gittransport.Transport

	mu     sync.Mutex
	calls  map[string]int
	err    error
	status int
}

var _ domain.HostHTTP = (*gitServer)(nil)

// newGitServer creates an empty remote whose HEAD points at main.
func newGitServer(t *testing.T) *gitServer {
	t.Helper()

	storage := memory.NewStorage()
	fs := memfs.New()
	repo, err := git.InitWithOptions(storage, fs, git.InitOptions{
		DefaultBranch: plumbing.NewBranchReferenceName(domain.DefaultBranch),
	})
	require.NoError(t, err)

	ep, err := gittransport.NewEndpoint(testRemoteURL)
	require.NoError(t, err)

	return &gitServer{
		t:       t,
		storage: storage,
		fs:      fs,
		repo:    repo,
		backend: server.NewServer(server.MapLoader{ep.String(): storage}),
		calls:   make(map[string]int),
	}
}

// commit records files on the remote branch. An empty content deletes the path.
// Deletions apply first so a path can switch between file and directory in one commit.
func (s *gitServer) commit(files map[string]string) plumbing.Hash {
	s.t.Helper()

	wt := s.worktree()
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		if files[p] == "" {
			_, err := wt.Remove(p)
			require.NoError(s.t, err)
		}
	}
	for _, p := range paths {
		if content := files[p]; content != "" {
			s.add(wt, p, func() error { return util.WriteFile(s.fs, p, []byte(content), 0o644) })
		}
	}
	return s.record(wt)
}

// commitExecutable records one file with the executable mode.
func (s *gitServer) commitExecutable(p, content string) plumbing.Hash {
	s.t.Helper()

	wt := s.worktree()
	s.add(wt, p, func() error { return util.WriteFile(s.fs, p, []byte(content), 0o755) })
	return s.record(wt)
}

// commitSymlink records link as a symbolic link pointing at target.
func (s *gitServer) commitSymlink(link, target string) plumbing.Hash {
	s.t.Helper()

	wt := s.worktree()
	s.add(wt, link, func() error { return s.fs.Symlink(target, link) })
	return s.record(wt)
}

func (s *gitServer) worktree() *git.Worktree {
	s.t.Helper()

	wt, err := s.repo.Worktree()
	require.NoError(s.t, err)
	if _, err := s.repo.Head(); err == nil {
		// Pushes move the branch without touching this worktree.
		require.NoError(s.t, wt.Reset(&git.ResetOptions{Mode: git.HardReset}))
	}
	return wt
}

// add replaces whatever sits at p using write and stages the result.
func (s *gitServer) add(wt *git.Worktree, p string, write func() error) {
	s.t.Helper()

	if _, err := s.fs.Lstat(p); err == nil {
		require.NoError(s.t, util.RemoveAll(s.fs, p))
	}
	require.NoError(s.t, write())
	_, err := wt.Add(p)
	require.NoError(s.t, err)
}

func (s *gitServer) record(wt *git.Worktree) plumbing.Hash {
	s.t.Helper()

	sig := &object.Signature{Name: "Remote User", Email: "remote@example.com", When: time.Now()}
	hash, err := wt.Commit("remote change", &git.CommitOptions{Author: sig, Committer: sig})
	require.NoError(s.t, err)
	return hash
}

// head returns the tip of the remote branch, or the zero hash.
func (s *gitServer) head() plumbing.Hash {
	ref, err := s.storage.Reference(plumbing.NewBranchReferenceName(domain.DefaultBranch))
	if err != nil {
		return plumbing.ZeroHash
	}
	return ref.Hash()
}

// file returns the content of p in the remote tip.
func (s *gitServer) file(p string) (string, bool) {
	s.t.Helper()

	head := s.head()
	if head.IsZero() {
		return "", false
	}
	c, err := object.GetCommit(s.storage, head)
	require.NoError(s.t, err)
	f, err := c.File(p)
	if err != nil {
		return "", false
	}
	content, err := f.Contents()
	require.NoError(s.t, err)
	return content, true
}

// mode returns the tree entry mode of p in the remote tip.
func (s *gitServer) mode(p string) filemode.FileMode {
	s.t.Helper()

	c, err := object.GetCommit(s.storage, s.head())
	require.NoError(s.t, err)
	tree, err := c.Tree()
	require.NoError(s.t, err)
	entry, err := tree.FindEntry(p)
	require.NoError(s.t, err)
	return entry.Mode
}

// count returns how many requests hit key ("GET git-upload-pack", "POST git-receive-pack", ...).
func (s *gitServer) count(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[key]
}

func (s *gitServer) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

// failWith makes every following request fail before reaching the remote.
func (s *gitServer) failWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// respondWith makes every following request return status.
func (s *gitServer) respondWith(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Do serves one smart-HTTP exchange.
func (s *gitServer) Do(ctx context.Context, req domain.HTTPRequest) (*domain.HTTPResponse, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, err
	}

	var service, base string
	switch {
	case strings.HasSuffix(u.Path, "/info/refs"):
		service = u.Query().Get("service")
		base = strings.TrimSuffix(u.Path, "/info/refs")
	default:
		idx := strings.LastIndex(u.Path, "/")
		service = u.Path[idx+1:]
		base = u.Path[:idx]
	}

	s.mu.Lock()
	s.calls[req.Method+" "+service]++
	failErr, status := s.err, s.status
	s.mu.Unlock()

	if failErr != nil {
		return nil, failErr
	}
	if status != 0 {
		return respond(req.URL, status, nil), nil
	}
	if !authorized(req.Headers) {
		return respond(req.URL, http.StatusUnauthorized, nil), nil
	}

	ep, err := gittransport.NewEndpoint(u.Scheme + "://" + u.Host + base)
	if err != nil {
		return nil, err
	}

	var body []byte
	switch {
	case req.Method == http.MethodGet:
		body, err = s.advertise(ctx, ep, service)
	case service == gittransport.UploadPackServiceName:
		body, err = s.uploadPack(ctx, ep, req.Body)
	case service == gittransport.ReceivePackServiceName:
		body, err = s.receivePack(ctx, ep, req.Body)
	default:
		return respond(req.URL, http.StatusNotFound, nil), nil
	}
	if err != nil {
		s.t.Logf("git server: %s %s: %v", req.Method, service, err)
		return respond(req.URL, http.StatusInternalServerError, []byte(err.Error())), nil
	}
	return respond(req.URL, http.StatusOK, body), nil
}

func (s *gitServer) advertise(ctx context.Context, ep *gittransport.Endpoint, service string) ([]byte, error) {
	var (
		ar  *packp.AdvRefs
		err error
	)
	switch service {
	case gittransport.UploadPackServiceName:
		sess, serr := s.backend.NewUploadPackSession(ep, nil)
		if serr != nil {
			return nil, serr
		}
		ar, err = sess.AdvertisedReferencesContext(ctx)
	case gittransport.ReceivePackServiceName:
		sess, serr := s.backend.NewReceivePackSession(ep, nil)
		if serr != nil {
			return nil, serr
		}
		ar, err = sess.AdvertisedReferencesContext(ctx)
	default:
		return nil, gittransport.ErrRepositoryNotFound
	}
	if err != nil {
		return nil, err
	}

	ar.Prefix = [][]byte{[]byte("# service=" + service), pktline.Flush}
	var buf bytes.Buffer
	if err := ar.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *gitServer) uploadPack(ctx context.Context, ep *gittransport.Endpoint, body []byte) ([]byte, error) {
	r := bytes.NewReader(body)
	req := packp.NewUploadPackRequest()
	if err := req.UploadRequest.Decode(r); err != nil {
		return nil, err
	}
	haves, err := s.decodeHaves(r)
	if err != nil {
		return nil, err
	}
	req.Haves = haves

	sess, err := s.backend.NewUploadPackSession(ep, nil)
	if err != nil {
		return nil, err
	}
	resp, err := sess.UploadPack(ctx, req)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := resp.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeHaves reads "have" lines up to "done", keeping only objects the remote holds.
func (s *gitServer) decodeHaves(r io.Reader) ([]plumbing.Hash, error) {
	var haves []plumbing.Hash
	sc := pktline.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(string(sc.Bytes()))
		hex, ok := strings.CutPrefix(line, "have ")
		if !ok {
			continue
		}
		hash := plumbing.NewHash(hex)
		if s.storage.HasEncodedObject(hash) == nil {
			haves = append(haves, hash)
		}
	}
	return haves, sc.Err()
}

func (s *gitServer) receivePack(ctx context.Context, ep *gittransport.Endpoint, body []byte) ([]byte, error) {
	req := packp.NewReferenceUpdateRequest()
	if err := req.Decode(bytes.NewReader(body)); err != nil {
		return nil, err
	}

	sess, err := s.backend.NewReceivePackSession(ep, nil)
	if err != nil {
		return nil, err
	}
	rs, err := sess.ReceivePack(ctx, req)
	if rs == nil {
		return nil, err
	}

	var buf bytes.Buffer
	if encErr := rs.Encode(&buf); encErr != nil {
		return nil, encErr
	}
	return buf.Bytes(), nil
}

func authorized(headers map[string][]string) bool {
	r := &http.Request{Header: http.Header(headers)}
	user, pass, ok := r.BasicAuth()
	return ok && user == domain.AuthUsername && pass == testToken
}

func respond(u string, status int, body []byte) *domain.HTTPResponse {
	return &domain.HTTPResponse{
		URL:        u,
		StatusCode: status,
		Headers:    map[string][]string{"Content-Type": {"application/octet-stream"}},
		Body:       body,
	}
}
