package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy. Every error produced by a backend wraps one of these kinds.
var (
	// ErrConfiguration indicates missing or invalid settings.
	ErrConfiguration = errors.New("configuration error")

	// ErrTransport indicates a failed network call or a non-success status.
	ErrTransport = errors.New("transport error")

	// ErrFilesystem indicates a read, write or flush failure on host storage.
	ErrFilesystem = errors.New("filesystem error")

	// ErrStage indicates that staging could not complete for every path.
	ErrStage = errors.New("staging error")

	// ErrAuthentication indicates the remote rejected the configured credentials.
	ErrAuthentication = errors.New("remote rejected credentials")
)

// Specific errors derived from the taxonomy.
var (
	// ErrAuthNotConfigured indicates the access token is empty.
	ErrAuthNotConfigured = fmt.Errorf("%w: authentication not configured", ErrConfiguration)

	// ErrRemoteURLNotConfigured indicates the remote URL is empty.
	ErrRemoteURLNotConfigured = fmt.Errorf("%w: remote URL not configured", ErrConfiguration)

	// ErrDirectoryNotEmpty indicates clone was asked to use a non-empty directory
	// that is not a repository.
	ErrDirectoryNotEmpty = fmt.Errorf("%w: directory is not empty and has no repository", ErrConfiguration)

	// ErrRepositoryNotInitialized indicates sync or push ran before clone.
	ErrRepositoryNotInitialized = fmt.Errorf("%w: directory is not a repository; run clone first", ErrConfiguration)

	// ErrRemoteBranchNotFound indicates the tracked branch does not exist on the remote.
	ErrRemoteBranchNotFound = fmt.Errorf("%w: branch not found on remote", ErrTransport)

	// ErrOperationInProgress indicates another operation holds the directory lock.
	ErrOperationInProgress = errors.New("another operation is in progress")
)

// ErrorKind names a taxonomy class for logs and notifications.
type ErrorKind string

// Error kinds.
const (
	KindNone           ErrorKind = ""
	KindConfiguration  ErrorKind = "configuration"
	KindAuthentication ErrorKind = "authentication"
	KindTransport      ErrorKind = "transport"
	KindFilesystem     ErrorKind = "filesystem"
	KindStage          ErrorKind = "stage"
	KindBusy           ErrorKind = "busy"
	KindUnknown        ErrorKind = "unknown"
)

// KindOf classifies err. Authentication is checked before transport so that
// rejected credentials are never reported as a generic network failure.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrAuthentication):
		return KindAuthentication
	case errors.Is(err, ErrTransport):
		return KindTransport
	case errors.Is(err, ErrFilesystem):
		return KindFilesystem
	case errors.Is(err, ErrStage):
		return KindStage
	case errors.Is(err, ErrOperationInProgress):
		return KindBusy
	default:
		return KindUnknown
	}
}
