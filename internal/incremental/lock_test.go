package incremental_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tmlc/tmlc/internal/fsys"
	"github.com/tmlc/tmlc/internal/incremental"
)

func TestDirLock_TryLock_SecondAttemptWouldBlock(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	locker := incremental.NewDirLock(fsys.NewReal())

	first, err := locker.TryLock(dir)
	require.NoError(t, err)
	defer func() { _ = first.Close() }()

	_, err = locker.TryLock(dir)
	require.True(t, errors.Is(err, incremental.ErrWouldBlock))
}

func TestDirLock_Close_ReleasesLockForNextAcquirer(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	locker := incremental.NewDirLock(fsys.NewReal())

	first, err := locker.TryLock(dir)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := locker.TryLock(dir)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestDirLock_Close_IsIdempotent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	locker := incremental.NewDirLock(fsys.NewReal())

	lock, err := locker.TryLock(dir)
	require.NoError(t, err)
	require.NoError(t, lock.Close())
	require.NoError(t, lock.Close())
}
