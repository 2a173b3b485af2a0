// Package gitcli provides the subprocess backend: every operation shells out to the
// git binary inside the working directory.
// This package implements the domain.Backend interface.
package gitcli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MyCarrier-DevOps/docsync/internal/domain"
)

// tokenEnv carries the access token to the credential helper without placing it on
// the command line.
const tokenEnv = "DOCSYNC_GIT_TOKEN"

// Logger defines the logging interface for the subprocess backend.
type Logger interface {
	Debug(ctx context.Context, msg string, fields map[string]interface{})
	Info(ctx context.Context, msg string, fields map[string]interface{})
	Warn(ctx context.Context, msg string, fields map[string]interface{})
}

// Backend implements domain.Backend by running git.
type Backend struct {
	settings domain.Settings
	runner   Runner
	logger   Logger
	now      func() time.Time
}

var _ domain.Backend = (*Backend)(nil)

// NewBackend creates a Backend operating on settings.WorkDir.
func NewBackend(settings domain.Settings, runner Runner, log Logger) *Backend {
	return &Backend{
		settings: settings,
		runner:   runner,
		logger:   log,
		now:      time.Now,
	}
}

// Clone prepares the directory as a checkout of the remote branch.
// A missing or empty directory is initialized, a directory holding a repository is
// re-pointed at the remote, and anything else is rejected with domain.ErrDirectoryNotEmpty.
func (b *Backend) Clone(ctx context.Context) (*domain.SyncResult, error) {
	dir := b.settings.WorkDir
	entries, err := os.ReadDir(dir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create %s: %w", domain.ErrFilesystem, dir, err)
		}
	case err != nil:
		return nil, fmt.Errorf("%w: list directory: %w", domain.ErrFilesystem, err)
	}

	hasRepo := false
	for _, entry := range entries {
		if entry.Name() == ".git" {
			hasRepo = true
			break
		}
	}
	if len(entries) > 0 && !hasRepo {
		return nil, domain.ErrDirectoryNotEmpty
	}
	if b.settings.RemoteURL == "" {
		return nil, domain.ErrRemoteURLNotConfigured
	}

	branch := b.settings.TrackedBranch()
	b.logger.Info(ctx, "cloning repository", map[string]interface{}{
		"branch":   branch,
		"existing": hasRepo,
	})

	if !hasRepo {
		if _, err := b.run(ctx, nil, "init", "--quiet"); err != nil {
			return nil, fmt.Errorf("init repository: %w", err)
		}
		if _, err := b.run(ctx, nil, "symbolic-ref", "HEAD", localRef(branch)); err != nil {
			return nil, fmt.Errorf("init repository: %w", err)
		}
	}
	return b.runSync(ctx)
}

// Sync fetches the remote branch and overwrites the working tree with it.
func (b *Backend) Sync(ctx context.Context) (*domain.SyncResult, error) {
	return b.runSync(ctx)
}

func (b *Backend) runSync(ctx context.Context) (*domain.SyncResult, error) {
	session := domain.NewSyncSession()
	result := &domain.SyncResult{}

	err := func() error {
		if err := b.open(ctx); err != nil {
			return err
		}

		session.Advance(domain.SyncFetching)
		if err := b.fetch(ctx); err != nil {
			return session.Fail(err)
		}

		session.Advance(domain.SyncCheckingOut)
		if err := b.checkout(ctx); err != nil {
			return session.Fail(err)
		}

		session.Advance(domain.SyncResetting)
		head, err := b.resetHard(ctx)
		if err != nil {
			return session.Fail(err)
		}
		result.Head = head

		session.Advance(domain.SyncCleaning)
		result.Skipped = b.clean(ctx)

		session.Advance(domain.SyncDone)
		return nil
	}()

	if err != nil {
		if !session.Terminal() {
			_ = session.Fail(err)
		}
		result.State = session.State()
		return result, err
	}

	result.State = session.State()
	b.logger.Info(ctx, "sync completed", map[string]interface{}{
		"head_sha": result.Head,
		"skipped":  len(result.Skipped),
	})
	return result, nil
}

// Push stages every change, commits when the stage differs from the tip, and
// pushes when the remote tracking ref is behind.
func (b *Backend) Push(ctx context.Context) (*domain.PushResult, error) {
	session := domain.NewPushSession()
	result := &domain.PushResult{}

	err := func() error {
		if err := b.open(ctx); err != nil {
			return err
		}

		session.Advance(domain.PushStaging)
		if _, err := b.run(ctx, nil, "add", "--all"); err != nil {
			return session.Fail(fmt.Errorf("%w: %w", domain.ErrStage, err))
		}

		staged, err := b.run(ctx, nil, "diff", "--cached", "--name-only")
		if err != nil {
			return session.Fail(fmt.Errorf("%w: %w", domain.ErrStage, err))
		}
		if strings.TrimSpace(staged.Stdout) != "" {
			session.Advance(domain.PushCommitting)
			if result.Commit, err = b.commit(ctx); err != nil {
				return session.Fail(err)
			}
			result.Committed = true
		}

		session.Advance(domain.PushCountingAhead)
		if result.Ahead, err = b.countAhead(ctx); err != nil {
			return session.Fail(err)
		}
		if result.Ahead == 0 {
			session.Advance(domain.PushDone)
			return nil
		}

		session.Advance(domain.PushPushing)
		if result.Pushed, err = b.push(ctx); err != nil {
			return session.Fail(err)
		}

		session.Advance(domain.PushDone)
		return nil
	}()

	if err != nil {
		if !session.Terminal() {
			_ = session.Fail(err)
		}
		result.State = session.State()
		return result, err
	}

	result.State = session.State()
	b.logger.Info(ctx, "push completed", map[string]interface{}{
		"committed": result.Committed,
		"ahead":     result.Ahead,
		"pushed":    result.Pushed,
	})
	return result, nil
}

// open checks that the directory holds a repository and points origin at the remote.
func (b *Backend) open(ctx context.Context) error {
	if _, err := os.Stat(filepath.Join(b.settings.WorkDir, ".git")); err != nil {
		return domain.ErrRepositoryNotInitialized
	}

	current, err := b.run(ctx, nil, "remote", "get-url", domain.RemoteName)
	url := strings.TrimSpace(current.Stdout)
	switch {
	case err != nil && b.settings.RemoteURL == "":
		return domain.ErrRemoteURLNotConfigured
	case err != nil:
		if _, err := b.run(ctx, nil, "remote", "add", domain.RemoteName, b.settings.RemoteURL); err != nil {
			return fmt.Errorf("add remote: %w", err)
		}
	case b.settings.RemoteURL != "" && url != b.settings.RemoteURL:
		b.logger.Info(ctx, "updating remote URL", nil)
		if _, err := b.run(ctx, nil, "remote", "set-url", domain.RemoteName, b.settings.RemoteURL); err != nil {
			return fmt.Errorf("update remote: %w", err)
		}
	}
	return nil
}

func (b *Backend) fetch(ctx context.Context) error {
	branch := b.settings.TrackedBranch()
	refspec := fmt.Sprintf("+%s:%s", localRef(branch), trackingRef(branch))
	if _, err := b.network(ctx, "fetch", "--no-tags", "--quiet", domain.RemoteName, refspec); err != nil {
		return classify(err, branch)
	}
	return nil
}

// checkout switches to the tracked branch, creating it at the tracking ref when missing.
// A non-forced attempt is made first, followed by exactly one forced retry.
func (b *Backend) checkout(ctx context.Context) error {
	branch := b.settings.TrackedBranch()
	exists := b.refExists(ctx, localRef(branch))

	args := []string{"checkout", "--quiet", branch}
	retry := []string{"checkout", "--quiet", "--force", branch}
	if !exists {
		args = []string{"checkout", "--quiet", "-b", branch, trackingRef(branch)}
		retry = []string{"checkout", "--quiet", "--force", "-B", branch, trackingRef(branch)}
	}

	_, err := b.run(ctx, nil, args...)
	if err == nil {
		return nil
	}
	b.logger.Debug(ctx, "checkout failed; retrying with force", map[string]interface{}{
		"branch": branch,
		"error":  err.Error(),
	})
	if _, err := b.run(ctx, nil, retry...); err != nil {
		return fmt.Errorf("checkout %s: %w", branch, err)
	}
	return nil
}

func (b *Backend) resetHard(ctx context.Context) (string, error) {
	branch := b.settings.TrackedBranch()
	if _, err := b.run(ctx, nil, "reset", "--quiet", "--hard", trackingRef(branch)); err != nil {
		return "", fmt.Errorf("reset to %s: %w", trackingRef(branch), err)
	}
	head, err := b.run(ctx, nil, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	return strings.TrimSpace(head.Stdout), nil
}

// clean removes untracked, non-ignored paths. Paths git could not remove are
// logged and returned.
func (b *Backend) clean(ctx context.Context) []string {
	res, err := b.run(ctx, nil, "clean", "-f", "-d")
	skipped := failedRemovals(res.Stderr)
	for _, p := range skipped {
		b.logger.Warn(ctx, "failed to remove untracked path", map[string]interface{}{
			"path": p,
		})
	}
	if err != nil && len(skipped) == 0 {
		b.logger.Warn(ctx, "clean failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return skipped
}

const failedRemovalPrefix = "warning: failed to remove "

// failedRemovals extracts the paths from "warning: failed to remove <path>: <reason>" lines.
func failedRemovals(stderr string) []string {
	var out []string
	for _, line := range strings.Split(stderr, "\n") {
		rest, ok := strings.CutPrefix(strings.TrimSpace(line), failedRemovalPrefix)
		if !ok {
			continue
		}
		if i := strings.LastIndex(rest, ": "); i > 0 {
			rest = rest[:i]
		}
		out = append(out, rest)
	}
	return out
}

func (b *Backend) commit(ctx context.Context) (string, error) {
	now := b.now().UTC()
	stamp := now.Format(time.RFC3339)
	env := []string{
		"GIT_AUTHOR_NAME=" + domain.CommitAuthorName,
		"GIT_AUTHOR_EMAIL=" + domain.CommitAuthorEmail,
		"GIT_AUTHOR_DATE=" + stamp,
		"GIT_COMMITTER_NAME=" + domain.CommitAuthorName,
		"GIT_COMMITTER_EMAIL=" + domain.CommitAuthorEmail,
		"GIT_COMMITTER_DATE=" + stamp,
	}
	if _, err := b.run(ctx, env, "-c", "commit.gpgsign=false", "commit", "--quiet", "--no-verify", "-m", domain.CommitMessagePrefix+stamp); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	head, err := b.run(ctx, nil, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	hash := strings.TrimSpace(head.Stdout)
	b.logger.Info(ctx, "created commit", map[string]interface{}{
		"commit_sha": hash,
	})
	return hash, nil
}

// countAhead counts commits on the local branch missing from the remote tracking ref.
func (b *Backend) countAhead(ctx context.Context) (int, error) {
	branch := b.settings.TrackedBranch()
	if !b.refExists(ctx, localRef(branch)) {
		return 0, nil
	}
	rng := localRef(branch)
	if b.refExists(ctx, trackingRef(branch)) {
		rng = trackingRef(branch) + ".." + localRef(branch)
	}
	res, err := b.run(ctx, nil, "rev-list", "--count", rng)
	if err != nil {
		return 0, fmt.Errorf("count commits ahead: %w", err)
	}
	n, err := strconv.Atoi(strings.TrimSpace(res.Stdout))
	if err != nil {
		return 0, fmt.Errorf("count commits ahead: parse %q: %w", res.Stdout, err)
	}
	return n, nil
}

// push sends the local branch to the remote and reports whether the remote moved.
func (b *Backend) push(ctx context.Context) (bool, error) {
	branch := b.settings.TrackedBranch()
	refspec := localRef(branch) + ":" + localRef(branch)
	res, err := b.network(ctx, "push", "--porcelain", domain.RemoteName, refspec)
	if err != nil {
		return false, classify(err, branch)
	}
	upToDate := strings.Contains(res.Stdout, "[up to date]")

	// The tracking ref follows the pushed tip even when origin has a narrow fetch refspec.
	if _, err := b.run(ctx, nil, "update-ref", trackingRef(branch), localRef(branch)); err != nil {
		return false, fmt.Errorf("update %s: %w", trackingRef(branch), err)
	}

	b.logger.Debug(ctx, "pushed branch", map[string]interface{}{
		"branch":     branch,
		"up_to_date": upToDate,
	})
	return !upToDate, nil
}

func (b *Backend) refExists(ctx context.Context, ref string) bool {
	_, err := b.run(ctx, nil, "rev-parse", "--verify", "--quiet", ref)
	return err == nil
}

// network runs a command that talks to the remote, supplying the token through a
// credential helper that reads it from the environment.
func (b *Backend) network(ctx context.Context, args ...string) (Result, error) {
	helper := fmt.Sprintf(`!f() { echo "username=%s"; echo "password=$%s"; }; f`, domain.AuthUsername, tokenEnv)
	full := append([]string{"-c", "credential.helper=", "-c", "credential.helper=" + helper}, args...)
	env := []string{
		"GIT_TERMINAL_PROMPT=0",
		tokenEnv + "=" + b.settings.Token,
	}
	return b.run(ctx, env, full...)
}

func (b *Backend) run(ctx context.Context, env []string, args ...string) (Result, error) {
	b.logger.Debug(ctx, "running git", map[string]interface{}{
		"command": sanitizeArgs(args),
	})
	return b.runner.Run(ctx, b.settings.WorkDir, env, args...)
}

var authFailureMarkers = []string{
	"authentication failed",
	"could not read username",
	"could not read password",
	"invalid username or password",
	"invalid credentials",
	"permission denied",
	"access denied",
	"the requested url returned error: 401",
	"the requested url returned error: 403",
}

// classify maps a failed network command onto the domain error taxonomy.
func classify(err error, branch string) error {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		msg := strings.ToLower(cmdErr.Stderr)
		if strings.Contains(msg, "couldn't find remote ref") {
			return fmt.Errorf("%w: %s: %w", domain.ErrRemoteBranchNotFound, branch, err)
		}
		for _, marker := range authFailureMarkers {
			if strings.Contains(msg, marker) {
				return fmt.Errorf("%w: %w", domain.ErrAuthentication, err)
			}
		}
	}
	return fmt.Errorf("%w: %w", domain.ErrTransport, err)
}

func localRef(branch string) string {
	return "refs/heads/" + branch
}

func trackingRef(branch string) string {
	return "refs/remotes/" + domain.RemoteName + "/" + branch
}
