// Package domain defines the core business entities and interfaces for docsync.
// This package contains no external dependencies and represents the innermost layer
// of the CLEAN architecture.
package domain

import (
	"context"
	"os"
	"time"
)

// Backend is the uniform contract implemented by the subprocess and embedded variants.
type Backend interface {
	// Clone prepares the working directory as a checkout of the remote branch.
	// Returns ErrDirectoryNotEmpty if the directory holds files but no repository.
	Clone(ctx context.Context) (*SyncResult, error)

	// Sync fetches the remote branch and overwrites the working tree with it.
	// Local modifications are discarded and untracked files are removed.
	Sync(ctx context.Context) (*SyncResult, error)

	// Push stages every change, commits when the stage differs from the tip,
	// and transmits local commits when the remote is behind.
	Push(ctx context.Context) (*PushResult, error)
}

// HostStorage is the durable storage exposed by the host for the synchronized directory.
// Paths are slash separated and relative to the directory root.
type HostStorage interface {
	// Read returns the file content, or an error wrapping os.ErrNotExist.
	Read(path string) ([]byte, error)

	// Write replaces the file content, creating parent directories as needed.
	// Hosts that track permissions must at least honor the executable bits of perm.
	Write(path string, data []byte, perm os.FileMode) error

	// Remove deletes a file or an empty directory. Missing paths are not an error.
	Remove(path string) error

	// List returns the sorted entry names of a directory.
	List(dir string) ([]string, error)

	// Stat returns metadata for a path, or an error wrapping os.ErrNotExist.
	// A path below a regular file may report syscall.ENOTDIR instead.
	Stat(path string) (HostFileInfo, error)
}

// HostHTTP is the host's single-shot, fully buffered network exchange.
type HostHTTP interface {
	// Do performs exactly one request and returns the complete response.
	Do(ctx context.Context, req HTTPRequest) (*HTTPResponse, error)
}

// Notifier surfaces transient messages to the user.
type Notifier interface {
	// Notify shows a notice. Implementations must not block for long.
	Notify(ctx context.Context, n Notice)
}

// OperationLocker serializes operations on one working directory.
type OperationLocker interface {
	// Lock acquires the lock for dir, waiting at most wait.
	// Returns ErrOperationInProgress when the lock stays held by someone else.
	Lock(ctx context.Context, dir string, wait time.Duration) (unlock func(), err error)
}

// ChangeSource emits a value whenever the working directory settles after changes.
type ChangeSource interface {
	// Changes returns the channel of debounced change signals.
	Changes() <-chan struct{}

	// Close stops watching.
	Close() error
}
