package hostfs

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOSStorage_ReadWriteList(t *testing.T) {
	dir := t.TempDir()
	storage := NewOSStorage(dir)

	// Act
	require.NoError(t, storage.Write("notes/daily/today.md", []byte("# today"), 0o644))
	require.NoError(t, storage.Write("b.md", []byte("b"), 0o644))
	require.NoError(t, storage.Write("a.md", []byte("a"), 0o644))

	// Assert
	data, err := os.ReadFile(filepath.Join(dir, "notes", "daily", "today.md"))
	require.NoError(t, err)
	assert.Equal(t, "# today", string(data))

	got, err := storage.Read("a.md")
	require.NoError(t, err)
	assert.Equal(t, "a", string(got))

	names, err := storage.List("")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.md", "b.md", "notes"}, names)
}

func TestOSStorage_Stat(t *testing.T) {
	storage := NewOSStorage(t.TempDir())
	require.NoError(t, storage.Write("dir/file.md", []byte("12345"), 0o644))

	file, err := storage.Stat("dir/file.md")
	require.NoError(t, err)
	assert.False(t, file.IsDir)
	assert.Equal(t, int64(5), file.Size)

	dir, err := storage.Stat("dir")
	require.NoError(t, err)
	assert.True(t, dir.IsDir)

	_, err = storage.Stat("missing.md")
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestOSStorage_Remove(t *testing.T) {
	storage := NewOSStorage(t.TempDir())
	require.NoError(t, storage.Write("gone.md", []byte("x"), 0o644))

	require.NoError(t, storage.Remove("gone.md"))
	require.NoError(t, storage.Remove("gone.md"), "missing path is not an error")

	_, err := storage.Read("gone.md")
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestOSStorage_WriteFollowsExecutableBit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("no executable bit on windows")
	}
	dir := t.TempDir()
	storage := NewOSStorage(dir)

	require.NoError(t, storage.Write("run.sh", []byte("#!/bin/sh\n"), 0o755))
	info, err := storage.Stat("run.sh")
	require.NoError(t, err)
	assert.NotZero(t, info.Mode&0o100, "owner execute is set")

	require.NoError(t, storage.Write("run.sh", []byte("#!/bin/sh\nexit 0\n"), 0o644))
	info, err = storage.Stat("run.sh")
	require.NoError(t, err)
	assert.Zero(t, info.Mode&0o111, "execute bits are cleared on rewrite")
	assert.NotZero(t, info.Mode&0o400, "read bits survive")

	require.NoError(t, storage.Write("run.sh", []byte("#!/bin/sh\n"), 0o755))
	fi, err := os.Stat(filepath.Join(dir, "run.sh"))
	require.NoError(t, err)
	assert.NotZero(t, fi.Mode().Perm()&0o100, "an existing file gains execute")
}

func TestOSStorage_StatBelowFile(t *testing.T) {
	storage := NewOSStorage(t.TempDir())
	require.NoError(t, storage.Write("a", []byte("file"), 0o644))

	_, err := storage.Stat("a/b")
	require.Error(t, err)
	assert.True(t, missing(err), "a path below a file counts as missing: %v", err)
}
