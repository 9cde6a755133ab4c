// Package lockfile provides the advisory single-writer lock a collection
// takes over its storage directory on open, so a second process opening the
// same path gets a clear error instead of corrupting the WAL.
package lockfile

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// ErrAlreadyLocked is returned by Acquire when another process (or another
// open in this process) already holds the lock.
var ErrAlreadyLocked = fmt.Errorf("lockfile: already held by another session")

// Lock represents a held advisory lock. Release it with Release.
type Lock struct {
	file    *os.File
	Session string // the uuid this process wrote, for diagnostics
}

// Acquire opens (creating if necessary) the lock file at path and takes an
// exclusive, non-blocking flock on it. On success it overwrites the file's
// contents with a fresh session token so `cat`-ing a stale lock file tells
// an operator which session last held it.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("lockfile: open: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, ErrAlreadyLocked
		}
		return nil, fmt.Errorf("lockfile: flock: %w", err)
	}

	session := uuid.NewString()
	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("lockfile: truncate: %w", err)
	}
	if _, err := f.WriteAt([]byte(session+"\n"), 0); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("lockfile: write session token: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("lockfile: sync: %w", err)
	}

	return &Lock{file: f, Session: session}, nil
}

// Release unlocks and closes the lock file. The file itself is left on
// disk; its presence is not what signals ownership, the held flock is.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("lockfile: unlock: %w", err)
	}
	return closeErr
}
