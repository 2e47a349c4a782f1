package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWriteFileAtomic checks that atomic writes create parents, replace old contents and leave no temp files.
func TestWriteFileAtomic(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "proof.json")

	require.NoError(t, WriteFileAtomic(path, []byte("first")))
	require.NoError(t, WriteFileAtomic(path, []byte("second")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must be renamed away")
}

// TestMakeDirectoryOverFile checks that MakeDirectory refuses to shadow an existing file.
func TestMakeDirectoryOverFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, nil, 0644))
	assert.Error(t, MakeDirectory(path))
}

// TestCopyDirectory checks a recursive copy.
func TestCopyDirectory(t *testing.T) {
	t.Parallel()
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "a", "b"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a", "b", "c.txt"), []byte("c"), 0644))

	dst := filepath.Join(t.TempDir(), "copy")
	require.NoError(t, CopyDirectory(src, dst))
	data, err := os.ReadFile(filepath.Join(dst, "a", "b", "c.txt"))
	require.NoError(t, err)
	assert.Equal(t, "c", string(data))

	assert.Equal(t, "proof", GetFileNameWithoutExtension("/x/y/proof.json"))
}
