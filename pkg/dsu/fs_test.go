package dsu_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/dittodsu/pkg/dsu"
	"github.com/marmos91/dittodsu/pkg/fault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeHostFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestAddFolder_ImportsTreeInOneVersion(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	id := newSeed(t)
	unit := w.open(id)

	src := t.TempDir()
	writeHostFile(t, filepath.Join(src, "top.txt"), "top")
	writeHostFile(t, filepath.Join(src, "sub", "inner.txt"), "inner")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "empty"), 0755))

	require.NoError(t, unit.AddFolder(ctx, src, "/imported", nil))

	assert.Len(t, w.versions(id), 1)
	assert.False(t, unit.InBatch())

	files, err := unit.ListFiles(ctx, "/imported", &dsu.Options{Recursive: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"sub/inner.txt", "top.txt"}, files)

	folders, err := unit.ListFolders(ctx, "/imported", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"empty", "sub"}, folders)
}

func TestAddFiles_JoinsOpenBatch(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	id := newSeed(t)
	unit := w.open(id)

	src := t.TempDir()
	a := filepath.Join(src, "a.txt")
	b := filepath.Join(src, "b.txt")
	writeHostFile(t, a, "A")
	writeHostFile(t, b, "B")

	_, err := unit.BeginBatch()
	require.NoError(t, err)
	require.NoError(t, unit.AddFiles(ctx, []string{a, b}, "/in", nil))

	// The caller's batch stays open
	assert.True(t, unit.InBatch())
	assert.Empty(t, w.versions(id))
	require.NoError(t, unit.CommitBatch(ctx))

	data, err := unit.ReadFile(ctx, "/in/b.txt", nil)
	require.NoError(t, err)
	assert.Equal(t, "B", string(data))
}

func TestAddFiles_FailureCancelsOwnBatch(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	id := newSeed(t)
	unit := w.open(id)

	src := t.TempDir()
	good := filepath.Join(src, "good.txt")
	writeHostFile(t, good, "ok")

	err := unit.AddFiles(ctx, []string{good, filepath.Join(src, "missing.txt")}, "/in", nil)
	assert.True(t, fault.IsMissingData(err))

	assert.False(t, unit.InBatch())
	assert.NotContains(t, unit.Snapshot().Files, "in/good.txt")
	assert.Empty(t, w.versions(id))
}

func TestExtractFolder_IncludesMounts(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	parentID, childID := newSeed(t), newSeed(t)
	parent := w.open(parentID)
	w.open(childID)

	require.NoError(t, parent.WriteFile(ctx, "/docs/readme.md", []byte("# readme"), nil))
	require.NoError(t, parent.Mount(ctx, "/docs/lib", childID, nil))
	require.NoError(t, parent.WriteFile(ctx, "/docs/lib/code.go", []byte("package lib"), nil))

	dst := t.TempDir()
	require.NoError(t, parent.ExtractFolder(ctx, "/docs", dst, nil))

	data, err := os.ReadFile(filepath.Join(dst, "readme.md"))
	require.NoError(t, err)
	assert.Equal(t, "# readme", string(data))

	data, err = os.ReadFile(filepath.Join(dst, "lib", "code.go"))
	require.NoError(t, err)
	assert.Equal(t, "package lib", string(data))

	single := filepath.Join(t.TempDir(), "nested", "out.md")
	require.NoError(t, parent.ExtractFile(ctx, "/docs/readme.md", single, nil))
	data, err = os.ReadFile(single)
	require.NoError(t, err)
	assert.Equal(t, "# readme", string(data))

	err = parent.ExtractFile(ctx, "/docs/missing.md", single, nil)
	assert.True(t, fault.IsMissingData(err))
}
