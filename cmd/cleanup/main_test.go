package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitKeep(t *testing.T) {
	assert.Nil(t, splitKeep(""))
	assert.Equal(t, []string{"a", "b"}, splitKeep(" a, ,b "))
}

func TestRun_MissingPath(t *testing.T) {
	assert.Equal(t, 2, run(nil))
}

func TestRun_RemovesDirectory(t *testing.T) {
	chdir(t, t.TempDir())
	target := filepath.Join(t.TempDir(), "ws")
	require.NoError(t, os.MkdirAll(filepath.Join(target, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(target, "sub", "f.txt"), []byte("x"), 0o444))

	assert.Equal(t, 0, run([]string{"-path", target}))
	assert.NoDirExists(t, target)
}

func TestRun_ChildrenKeep(t *testing.T) {
	chdir(t, t.TempDir())
	root := t.TempDir()
	for _, name := range []string{"keep-me", "drop-me"} {
		require.NoError(t, os.Mkdir(filepath.Join(root, name), 0o755))
	}

	assert.Equal(t, 0, run([]string{"-path", root, "-children", "-keep", "keep-me"}))
	assert.DirExists(t, filepath.Join(root, "keep-me"))
	assert.NoDirExists(t, filepath.Join(root, "drop-me"))
	assert.DirExists(t, root)
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
