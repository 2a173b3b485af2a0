// Package lock serializes operations on a working directory across processes.
package lock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/MyCarrier-DevOps/docsync/internal/domain"
)

// RetryDelay is how often a held lock is polled while waiting.
const RetryDelay = 100 * time.Millisecond

// FileLocker implements domain.OperationLocker with advisory file locks.
// Lock files live outside the working directory so they are never committed,
// cleaned, or mistaken for user content.
type FileLocker struct {
	dir string
}

var _ domain.OperationLocker = (*FileLocker)(nil)

// NewFileLocker creates a locker keeping its lock files in the system temp directory.
func NewFileLocker() *FileLocker {
	return NewFileLockerIn(os.TempDir())
}

// NewFileLockerIn creates a locker keeping its lock files in dir.
func NewFileLockerIn(dir string) *FileLocker {
	return &FileLocker{dir: dir}
}

// Path returns the lock file used for workDir.
func (l *FileLocker) Path(workDir string) string {
	abs, err := filepath.Abs(workDir)
	if err != nil {
		abs = filepath.Clean(workDir)
	}
	sum := sha256.Sum256([]byte(abs))
	return filepath.Join(l.dir, "docsync-"+hex.EncodeToString(sum[:])[:16]+".lock")
}

// Lock acquires the lock for workDir, polling for at most wait.
// A zero wait tries exactly once. When the lock stays held the error is
// domain.ErrOperationInProgress; nothing is queued.
func (l *FileLocker) Lock(ctx context.Context, workDir string, wait time.Duration) (func(), error) {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create lock directory: %w", domain.ErrFilesystem, err)
	}
	fl := flock.New(l.Path(workDir))

	var (
		locked bool
		err    error
	)
	if wait <= 0 {
		locked, err = fl.TryLock()
	} else {
		waitCtx, cancel := context.WithTimeout(ctx, wait)
		locked, err = fl.TryLockContext(waitCtx, RetryDelay)
		cancel()
		if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			err = nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("acquiring lock for %s: %w", workDir, err)
	}
	if !locked {
		return nil, domain.ErrOperationInProgress
	}

	return func() { _ = fl.Unlock() }, nil
}
