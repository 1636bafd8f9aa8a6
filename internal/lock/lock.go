// Package lock implements the advisory exclusive root lock: at most one rvn
// process may mutate installed-package state at a time. A contending
// process fails fast with AlreadyLocked rather than blocking, per spec.md
// §5's shared-resource policy.
package lock

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/ravenlinux/rvn/internal/rvnerr"
)

// Lock holds an open, flock(2)-locked file. The lock is released by Unlock
// or, if the process dies without calling it, by the kernel when the file
// descriptor closes on exit.
type Lock struct {
	path string
	file *os.File
}

// Acquire opens (creating if needed) path and takes a non-blocking exclusive
// flock on it. If another process already holds the lock, it returns
// *rvnerr.AlreadyLocked immediately instead of waiting.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, &rvnerr.IOError{Path: path, Cause: err}
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, &rvnerr.AlreadyLocked{Path: path}
		}
		return nil, &rvnerr.IOError{Path: path, Cause: err}
	}

	return &Lock{path: path, file: f}, nil
}

// Unlock releases the flock and closes the underlying file. Calls after the
// first, and calls on a nil *Lock, are no-ops that return nil.
func (l *Lock) Unlock() error {
	if l == nil || l.file == nil {
		return nil
	}
	unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	err := l.file.Close()
	l.file = nil
	return err
}
