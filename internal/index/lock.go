package index

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// FileLock guards the data directory with a cross-process flock so that at
// most one indexer writes the store set at a time. Searches don't take it;
// SQLite WAL and the vector index's own locking cover readers.
type FileLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewFileLock creates a lock for the given data directory. The lock file
// lives at <dir>/.index.lock.
func NewFileLock(dir string) *FileLock {
	lockPath := filepath.Join(dir, ".index.lock")
	return &FileLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// TryLock attempts to acquire the lock without blocking.
// Returns true if acquired, false if another process holds it.
func (l *FileLock) TryLock() (bool, error) {
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
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

// Unlock releases the lock. Safe to call on an unlocked FileLock.
func (l *FileLock) Unlock() error {
	if !l.locked {
		return nil
	}
	if err := l.flock.Unlock(); err != nil {
		l.locked = false
		return fmt.Errorf("failed to release lock: %w", err)
	}
	l.locked = false
	return nil
}

// Path returns the lock file path.
func (l *FileLock) Path() string {
	return l.path
}
