package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
)

// lockDirPermissions matches the state directory permissions (owner only).
const lockDirPermissions = 0o700

// errAlreadyRunning is returned when another process holds the state lock.
var errAlreadyRunning = errors.New("another vaultsync process is using this state directory")

// processLock is an exclusive advisory lock on the state directory. The
// lock file holds the owner's PID for diagnostics.
type processLock struct {
	fl *flock.Flock
}

// acquireLock takes the lock at path without blocking.
func acquireLock(path string) (*processLock, error) {
	if path == "" {
		return nil, errors.New("lock file path is empty; cannot determine state directory")
	}

	if err := os.MkdirAll(filepath.Dir(path), lockDirPermissions); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	fl := flock.New(path)

	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}

	if !locked {
		if pid, readErr := readLockPID(path); readErr == nil {
			return nil, fmt.Errorf("%w (PID %d)", errAlreadyRunning, pid)
		}

		return nil, errAlreadyRunning
	}

	// The flock descriptor is opened read-only; write the PID separately.
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o600); err != nil {
		_ = fl.Unlock()
		return nil, fmt.Errorf("writing lock file: %w", err)
	}

	return &processLock{fl: fl}, nil
}

// Release unlocks and removes the lock file.
func (l *processLock) Release() error {
	if l == nil || !l.fl.Locked() {
		return nil
	}

	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("unlocking %s: %w", l.fl.Path(), err)
	}

	if err := os.Remove(l.fl.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing lock file: %w", err)
	}

	return nil
}

// readLockPID reads the PID recorded in a lock file.
func readLockPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading lock file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in %s: %w", path, err)
	}

	return pid, nil
}
