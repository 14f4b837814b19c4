package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
)

// lockRetryDelay is how often a waiting seeder polls the lock file.
const lockRetryDelay = 100 * time.Millisecond

// FileLock is a cross-process lock that keeps two seeders from rewriting the
// same store at once.
type FileLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewFileLock creates a lock at <dir>/.seed.lock.
func NewFileLock(dir string) *FileLock {
	lockPath := filepath.Join(dir, ".seed.lock")
	return &FileLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// Lock waits for the lock until ctx is done.
func (l *FileLock) Lock(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		if ctx.Err() != nil {
			return kberrors.New(kberrors.ErrCodeLockHeld,
				fmt.Sprintf("another process is seeding (%s)", l.path), err)
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !acquired {
		return kberrors.New(kberrors.ErrCodeLockHeld,
			fmt.Sprintf("another process is seeding (%s)", l.path), nil)
	}
	l.locked = true
	return nil
}

// TryLock acquires the lock without waiting.
func (l *FileLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if acquired {
		l.locked = true
	}
	return acquired, nil
}

// Unlock releases the lock. It is safe to call on an unlocked FileLock.
func (l *FileLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *FileLock) Path() string {
	return l.path
}
