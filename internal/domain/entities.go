// Package domain defines the core business entities and interfaces for docsync.
package domain

import (
	"os"
	"time"
)

// Default values for settings that are not provided by the user.
const (
	// DefaultBranch is the tracked branch when none is configured.
	DefaultBranch = "main"

	// DefaultPushInterval is the period between automatic pushes.
	DefaultPushInterval = 60 * time.Second

	// DefaultSlowNoticeAfter is how long an operation may run before a
	// "still working" notice is raised.
	DefaultSlowNoticeAfter = 15 * time.Second

	// DefaultWatchDebounce coalesces bursts of filesystem events into one push.
	DefaultWatchDebounce = 5 * time.Second

	// AuthUsername is the fixed username sent alongside the access token.
	AuthUsername = "x-access-token"

	// CommitAuthorName and CommitAuthorEmail form the synthetic identity
	// used for every commit created by docsync.
	CommitAuthorName  = "docsync"
	CommitAuthorEmail = "docsync@users.noreply.local"

	// CommitMessagePrefix prefixes the timestamp in generated commit messages.
	CommitMessagePrefix = "vault sync "

	// RemoteName is the only remote docsync manages.
	RemoteName = "origin"
)

// Settings is the user configuration consumed by the controller and backends.
// It is treated as read-only by everything below the configuration layer.
type Settings struct {
	// Token is the access token used for HTTPS authentication.
	Token string

	// RemoteURL is the HTTPS URL of the remote repository.
	RemoteURL string

	// Branch is the single tracked branch.
	Branch string

	// WorkDir is the synchronized directory.
	WorkDir string

	// AutoSync enables a sync when the long-running loop starts.
	AutoSync bool

	// PushInterval is the period between automatic pushes.
	PushInterval time.Duration

	// SlowNoticeAfter raises an informational notice for slow operations.
	// Zero disables the notice.
	SlowNoticeAfter time.Duration

	// Watch enables pushing after debounced filesystem changes.
	Watch bool

	// WatchDebounce is the quiet period required before a watch-triggered push.
	WatchDebounce time.Duration

	// ForceEmbedded selects the embedded backend even when subprocesses are available.
	ForceEmbedded bool
}

// TrackedBranch returns the configured branch or DefaultBranch.
func (s Settings) TrackedBranch() string {
	if s.Branch == "" {
		return DefaultBranch
	}
	return s.Branch
}

// HostCapabilities describes what the execution environment offers.
// It is injected once and never re-checked during an operation.
type HostCapabilities struct {
	// CanSpawnProcesses is true when an external git binary can be executed.
	CanSpawnProcesses bool
}

// UnstagedFile is one path whose stage entry must change to match the working tree.
// Deleted and content-changed are mutually exclusive.
type UnstagedFile struct {
	Path    string
	Deleted bool
}

// SyncResult describes the outcome of a clone or sync.
type SyncResult struct {
	// State is the terminal session state.
	State SyncState

	// Head is the commit the working tree was reset to.
	Head string

	// Skipped lists untracked paths that clean could not remove.
	Skipped []string
}

// PushResult describes the outcome of a push session.
type PushResult struct {
	// State is the terminal session state.
	State PushState

	// Committed is true when a new commit was created.
	Committed bool

	// Commit is the hash of the new commit, if any.
	Commit string

	// Ahead is the number of local commits missing from the remote tracking ref.
	Ahead int

	// Pushed is true when commits were transmitted to the remote.
	Pushed bool
}

// Operation names a controller entry point.
type Operation string

// Controller operations.
const (
	OperationClone Operation = "clone"
	OperationSync  Operation = "sync"
	OperationPush  Operation = "push"
)

// Trigger records who asked for an operation.
type Trigger string

// Operation triggers.
const (
	// TriggerManual is a user-invoked operation; outcomes are notified.
	TriggerManual Trigger = "manual"

	// TriggerAutomatic is an interval or watch push; it stays silent.
	TriggerAutomatic Trigger = "automatic"

	// TriggerTeardown is the best-effort push at shutdown; it stays silent.
	TriggerTeardown Trigger = "teardown"
)

// Silent reports whether operations with this trigger suppress notifications.
func (t Trigger) Silent() bool {
	return t == TriggerAutomatic || t == TriggerTeardown
}

// BackendKind names the backend variant chosen for an operation.
type BackendKind string

// Backend variants.
const (
	BackendSubprocess BackendKind = "subprocess"
	BackendEmbedded   BackendKind = "embedded"
)

// Outcome is what the controller returns for every call.
// Err is nil on success; the controller never returns an error value.
type Outcome struct {
	Operation Operation
	Backend   BackendKind
	Trigger   Trigger
	Err       error
	Sync      *SyncResult
	Push      *PushResult
}

// Succeeded reports whether the operation completed without error.
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// NoticeLevel classifies a user-visible notification.
type NoticeLevel string

// Notice levels.
const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

// Notice is a transient user-visible message.
type Notice struct {
	Level     NoticeLevel
	Operation Operation
	Message   string
}

// HostFileInfo is the metadata returned by HostStorage.Stat.
// Mode holds permission bits; zero means the host does not track them.
type HostFileInfo struct {
	IsDir   bool
	Size    int64
	ModTime time.Time
	Mode    os.FileMode
}

// HTTPRequest is a fully buffered request handed to the host network capability.
type HTTPRequest struct {
	URL     string
	Method  string
	Headers map[string][]string
	Body    []byte
}

// HTTPResponse is a fully buffered response returned by the host network capability.
type HTTPResponse struct {
	URL        string
	StatusCode int
	Headers    map[string][]string
	Body       []byte
}
