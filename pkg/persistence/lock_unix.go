//go:build !windows

package persistence

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ErrDirLocked is returned when another process holds the data directory.
var ErrDirLocked = errors.New("data directory is locked by another process")

// LockFile is the advisory lock file name inside a data directory.
const LockFile = "LOCK"

// dirLock holds an advisory flock on the data directory's LOCK file so two
// engines cannot open the same directory concurrently.
type dirLock struct {
	file *os.File
}

func acquireDirLock(dir string) (*dirLock, error) {
	path := filepath.Join(dir, LockFile)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrDirLocked, dir)
		}
		return nil, fmt.Errorf("failed to lock data directory: %w", err)
	}

	return &dirLock{file: file}, nil
}

func (l *dirLock) release() error {
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		l.file.Close()
		return fmt.Errorf("failed to unlock data directory: %w", err)
	}
	return l.file.Close()
}
