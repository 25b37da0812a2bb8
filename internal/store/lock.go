package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// BuildLock is a cross-process advisory lock guarding a collection's
// dual-write phase. It prevents two builds (or a build and a fetch)
// from mutating the same artifacts concurrently. Works on all
// platforms (Unix, Linux, macOS, Windows).
type BuildLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewBuildLock creates the advisory lock for a collection.
func NewBuildLock(root, collection string) *BuildLock {
	path := LockPath(root, collection)
	return &BuildLock{
		path:  path,
		flock: flock.New(path),
	}
}

// Lock acquires an exclusive lock, blocking until available.
func (l *BuildLock) Lock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	if err := l.flock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	l.locked = true
	return nil
}

// TryLock attempts to acquire the lock without blocking.
// Returns true if acquired, false if held by another process.
func (l *BuildLock) TryLock() (bool, error) {
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

// Unlock releases the lock. Safe to call on an unlocked BuildLock.
func (l *BuildLock) Unlock() error {
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
func (l *BuildLock) Path() string {
	return l.path
}

// IsLocked reports whether this process holds the lock.
func (l *BuildLock) IsLocked() bool {
	return l.locked
}
