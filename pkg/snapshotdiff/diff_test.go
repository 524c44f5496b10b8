package snapshotdiff

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

func TestComputeAddedRemovedModified(t *testing.T) {
	dir := t.TempDir()
	oldZip := filepath.Join(dir, "old.zip")
	newZip := filepath.Join(dir, "new.zip")

	writeZip(t, oldZip, map[string]string{
		"main.go":  "package main\n\nfunc main() {}\n",
		"gone.txt": "bye\n",
	})
	writeZip(t, newZip, map[string]string{
		"main.go": "package main\n\nfunc main() {\n\tprintln(1)\n}\n",
		"new.txt": "hello\n",
	})

	diff, err := Compute(oldZip, newZip, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"new.txt"}, diff.Added)
	assert.Equal(t, []string{"gone.txt"}, diff.Removed)
	require.Len(t, diff.Modified, 1)
	assert.Equal(t, "main.go", diff.Modified[0].Path)
	assert.Contains(t, diff.Modified[0].DiffText, "--- a/main.go")
	assert.Contains(t, diff.Modified[0].DiffText, "+++ b/main.go")
	assert.Contains(t, diff.Modified[0].DiffText, "+\tprintln(1)")
}

func TestComputeDetectsMoves(t *testing.T) {
	dir := t.TempDir()
	oldZip := filepath.Join(dir, "old.zip")
	newZip := filepath.Join(dir, "new.zip")

	writeZip(t, oldZip, map[string]string{
		"src/a.go": "package a\n",
	})
	writeZip(t, newZip, map[string]string{
		"lib/a.go": "package a\n",
	})

	diff, err := Compute(oldZip, newZip, Options{})
	require.NoError(t, err)

	require.Len(t, diff.Moved, 1)
	assert.Equal(t, [2]string{"src/a.go", "lib/a.go"}, diff.Moved[0])
	assert.Empty(t, diff.Added)
	assert.Empty(t, diff.Removed)
}

func TestComputeStripsWrapperDirectory(t *testing.T) {
	dir := t.TempDir()
	oldZip := filepath.Join(dir, "old.zip")
	newZip := filepath.Join(dir, "new.zip")

	writeZip(t, oldZip, map[string]string{
		"Project-v1/main.go": "package main\n",
	})
	writeZip(t, newZip, map[string]string{
		"Project-v2/main.go": "package main\n\n// updated\n",
	})

	diff, err := Compute(oldZip, newZip, Options{})
	require.NoError(t, err)
	require.Len(t, diff.Modified, 1)
	assert.Equal(t, "main.go", diff.Modified[0].Path)
}

func TestIsBinaryByExtension(t *testing.T) {
	assert.True(t, IsBinary("assets/logo.png", DefaultBinaryExtensions, nil))
	assert.False(t, IsBinary("main.go", DefaultBinaryExtensions, nil))
}

func TestIsStatusDoc(t *testing.T) {
	assert.True(t, IsStatusDoc("STATUS.md"))
	assert.True(t, IsStatusDoc("devlog-2024.md"))
	assert.False(t, IsStatusDoc("main.go"))
}

func TestUnchangedFilesSkipped(t *testing.T) {
	dir := t.TempDir()
	oldZip := filepath.Join(dir, "old.zip")
	newZip := filepath.Join(dir, "new.zip")

	writeZip(t, oldZip, map[string]string{"same.txt": "identical\n"})
	writeZip(t, newZip, map[string]string{"same.txt": "identical\n"})

	diff, err := Compute(oldZip, newZip, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"same.txt"}, diff.Unchanged)
	assert.Empty(t, diff.Modified)
}
