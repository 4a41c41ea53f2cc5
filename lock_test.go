package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireLock_WritesCurrentPID(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state", "vaultsync.lock")

	lock, err := acquireLock(path)
	require.NoError(t, err)

	defer lock.Release()

	pid, err := readLockPID(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestAcquireLock_SecondAcquisitionFails(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "vaultsync.lock")

	first, err := acquireLock(path)
	require.NoError(t, err)

	defer first.Release()

	second, err := acquireLock(path)
	require.ErrorIs(t, err, errAlreadyRunning)
	assert.Nil(t, second)
	assert.Contains(t, err.Error(), "PID")
}

func TestProcessLock_ReleaseRemovesFileAndAllowsRelock(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "vaultsync.lock")

	lock, err := acquireLock(path)
	require.NoError(t, err)
	require.NoError(t, lock.Release())

	_, err = os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)

	again, err := acquireLock(path)
	require.NoError(t, err)
	require.NoError(t, again.Release())

	// Releasing twice is harmless.
	require.NoError(t, again.Release())
}

func TestAcquireLock_EmptyPath(t *testing.T) {
	t.Parallel()

	_, err := acquireLock("")
	require.Error(t, err)
}

func TestReadLockPID_InvalidContent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "vaultsync.lock")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid\n"), 0o600))

	_, err := readLockPID(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid PID")
}
