// Package workspace guards the data directories against concurrent
// voxguard processes. process and train move files between pools, so only
// one of them may run at a time.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"voxguard/internal/config"
)

// ErrLocked reports that another voxguard process holds the workspace.
var ErrLocked = errors.New("workspace is locked by another voxguard process")

// Lock is an exclusive advisory lock on the workspace lock file.
type Lock struct {
	path string
	lock *flock.Flock
}

// Acquire takes the workspace lock without blocking.
func Acquire(cfg *config.Config) (*Lock, error) {
	path := cfg.LockPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure state directory: %w", err)
	}
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (%s)", ErrLocked, path)
	}
	return &Lock{path: path, lock: fl}, nil
}

// Path returns the lock file location.
func (l *Lock) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Release unlocks the workspace. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	if err := l.lock.Unlock(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
