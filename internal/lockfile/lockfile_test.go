package lockfile_test

import (
	"path/filepath"
	"testing"

	"github.com/hugoev/PolarisDB/internal/lockfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireAndRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "LOCK")
	lock, err := lockfile.Acquire(path)
	require.NoError(t, err)
	require.NotEmpty(t, lock.Session)
	require.NoError(t, lock.Release())
}

func TestSecondAcquireFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "LOCK")
	first, err := lockfile.Acquire(path)
	require.NoError(t, err)
	defer first.Release()

	_, err = lockfile.Acquire(path)
	assert.ErrorIs(t, err, lockfile.ErrAlreadyLocked)
}

func TestAcquireAfterReleaseSucceeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "LOCK")
	first, err := lockfile.Acquire(path)
	require.NoError(t, err)
	require.NoError(t, first.Release())

	second, err := lockfile.Acquire(path)
	require.NoError(t, err)
	require.NoError(t, second.Release())
}
