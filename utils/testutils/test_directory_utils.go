package testutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/crytic/kprove/utils"
	"github.com/stretchr/testify/require"
)

// CopyToTestDirectory copies a file or directory from the provided path (relative to the working directory of the
// test) into an ephemeral directory and returns the absolute path of the copy.
func CopyToTestDirectory(t *testing.T, filePath string) string {
	cwd, err := os.Getwd()
	require.NoError(t, err)
	sourcePath := filepath.Join(cwd, filePath)

	sourcePathInfo, err := os.Stat(sourcePath)
	require.NoError(t, err)

	targetPath := filepath.Join(t.TempDir(), "kproveTest", sourcePathInfo.Name())
	if sourcePathInfo.IsDir() {
		err = utils.CopyDirectory(sourcePath, targetPath)
	} else {
		err = utils.CopyFile(sourcePath, targetPath)
	}
	require.NoError(t, err)

	targetPath, err = filepath.Abs(targetPath)
	require.NoError(t, err)
	return targetPath
}

// WriteTestFile writes contents to a path relative to dir, creating parent directories, and returns the full path.
func WriteTestFile(t *testing.T, dir string, relPath string, contents []byte) string {
	path := filepath.Join(dir, relPath)
	require.NoError(t, utils.MakeDirectory(filepath.Dir(path)))
	require.NoError(t, os.WriteFile(path, contents, 0644))
	return path
}
