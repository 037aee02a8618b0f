package dsu_test

import (
	"context"
	"errors"
	"testing"

	"github.com/marmos91/dittodsu/pkg/dsu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatch_DoubleBeginFails(t *testing.T) {
	w := newWorld(t)
	unit := w.open(newSeed(t))

	id, err := unit.BeginBatch()
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.True(t, unit.InBatch())
	assert.Equal(t, id, unit.BatchID())

	_, err = unit.BeginBatch()
	assert.True(t, errors.Is(err, dsu.ErrBatchInProgress))

	attached, started, err := unit.StartOrAttachBatch()
	require.NoError(t, err)
	assert.False(t, started)
	assert.Equal(t, id, attached)
}

func TestBatch_CommitPersistsOnce(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	id := newSeed(t)
	unit := w.open(id)

	_, err := unit.BeginBatch()
	require.NoError(t, err)
	for _, p := range []string{"/1", "/2", "/3"} {
		require.NoError(t, unit.WriteFile(ctx, p, []byte(p), nil))
	}
	assert.Empty(t, w.versions(id))
	assert.True(t, unit.HasUnanchoredChanges())

	require.NoError(t, unit.CommitBatch(ctx))
	assert.Len(t, w.versions(id), 1)
	assert.False(t, unit.InBatch())
	assert.False(t, unit.HasUnanchoredChanges())

	// A batch without changes saves nothing
	_, err = unit.BeginBatch()
	require.NoError(t, err)
	require.NoError(t, unit.CommitBatch(ctx))
	assert.Len(t, w.versions(id), 1)

	assert.True(t, errors.Is(unit.CommitBatch(ctx), dsu.ErrNoBatch))
	assert.True(t, errors.Is(unit.CancelBatch(ctx), dsu.ErrNoBatch))
}

func TestBatch_CancelRestoresSnapshot(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	id := newSeed(t)
	unit := w.open(id)
	require.NoError(t, unit.WriteFile(ctx, "/keep.txt", []byte("keep"), nil))

	_, err := unit.BeginBatch()
	require.NoError(t, err)
	require.NoError(t, unit.WriteFile(ctx, "/drop.txt", []byte("drop"), nil))
	require.NoError(t, unit.Delete(ctx, "/keep.txt", nil))

	require.NoError(t, unit.CancelBatch(ctx))
	assert.False(t, unit.InBatch())
	assert.False(t, unit.HasUnanchoredChanges())

	content := unit.Snapshot()
	assert.Contains(t, content.Files, "keep.txt")
	assert.NotContains(t, content.Files, "drop.txt")
	assert.Len(t, w.versions(id), 1)
}

func TestBatch_CancelWithoutPersistedHead(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	unit := w.open(newSeed(t))

	_, err := unit.BeginBatch()
	require.NoError(t, err)
	require.NoError(t, unit.WriteFile(ctx, "/drop.txt", nil, nil))
	require.NoError(t, unit.CancelBatch(ctx))

	assert.Empty(t, unit.Snapshot().Files)
}

func TestBatch_MountedUnitsJoinAndCommitFirst(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	parentID, bID, cID := newSeed(t), newSeed(t), newSeed(t)
	parent := w.open(parentID)

	var log []string
	b := &recordingArchive{Archive: w.open(bID), name: "b", log: &log}
	c := &recordingArchive{Archive: w.open(cID), name: "c", log: &log}
	w.register(b)
	w.register(c)

	require.NoError(t, parent.Mount(ctx, "/b", bID, nil))
	require.NoError(t, parent.Mount(ctx, "/c", cID, nil))
	parentVersions := len(w.versions(parentID))

	_, err := parent.BeginBatch()
	require.NoError(t, err)
	require.NoError(t, parent.WriteFile(ctx, "/b/f", []byte("b"), nil))
	require.NoError(t, parent.WriteFile(ctx, "/c/f", []byte("c"), nil))
	require.NoError(t, parent.WriteFile(ctx, "/b/g", []byte("b"), nil))
	require.NoError(t, parent.WriteFile(ctx, "/own", []byte("p"), nil))

	assert.True(t, b.InBatch())
	assert.True(t, c.InBatch())
	assert.Empty(t, w.versions(bID))

	require.NoError(t, parent.CommitBatch(ctx))

	// Most recently touched first, each unit once
	assert.Equal(t, []string{"c", "b"}, log)
	assert.False(t, b.InBatch())
	assert.False(t, c.InBatch())
	assert.Len(t, w.versions(bID), 1)
	assert.Len(t, w.versions(cID), 1)
	assert.Len(t, w.versions(parentID), parentVersions+1)
}

func TestBatch_PartialCommit(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	parentID, bID, cID := newSeed(t), newSeed(t), newSeed(t)
	parent := w.open(parentID)

	var log []string
	b := &recordingArchive{Archive: w.open(bID), name: "b", log: &log, commitErr: errors.New("boom")}
	c := &recordingArchive{Archive: w.open(cID), name: "c", log: &log}
	w.register(b)
	w.register(c)

	require.NoError(t, parent.Mount(ctx, "/b", bID, nil))
	require.NoError(t, parent.Mount(ctx, "/c", cID, nil))
	parentVersions := len(w.versions(parentID))

	_, err := parent.BeginBatch()
	require.NoError(t, err)
	require.NoError(t, parent.WriteFile(ctx, "/b/f", []byte("b"), nil))
	require.NoError(t, parent.WriteFile(ctx, "/c/f", []byte("c"), nil))
	require.NoError(t, parent.WriteFile(ctx, "/own", []byte("p"), nil))

	err = parent.CommitBatch(ctx)
	require.Error(t, err)

	// c committed before b failed and stays committed
	assert.Equal(t, []string{"c"}, log)
	assert.Len(t, w.versions(cID), 1)
	assert.Empty(t, w.versions(bID))

	// The parent keeps its batch open and saved nothing
	assert.True(t, parent.InBatch())
	assert.Len(t, w.versions(parentID), parentVersions)

	// Retrying commits only what is left
	b.commitErr = nil
	require.NoError(t, parent.CommitBatch(ctx))
	assert.Equal(t, []string{"c", "b"}, log)
	assert.Len(t, w.versions(bID), 1)
	assert.Len(t, w.versions(parentID), parentVersions+1)
}

func TestBatch_AttachedMountIsLeftToItsOwner(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	parentID, childID := newSeed(t), newSeed(t)
	parent := w.open(parentID)
	child := w.open(childID)
	require.NoError(t, parent.Mount(ctx, "/child", childID, nil))

	_, err := child.BeginBatch()
	require.NoError(t, err)

	_, err = parent.BeginBatch()
	require.NoError(t, err)
	require.NoError(t, parent.WriteFile(ctx, "/child/f", []byte("x"), nil))
	require.NoError(t, parent.CommitBatch(ctx))

	assert.True(t, child.InBatch())
	assert.Empty(t, w.versions(childID))

	require.NoError(t, child.CommitBatch(ctx))
	assert.Len(t, w.versions(childID), 1)
}

func TestBatch_CancelPropagatesToMounts(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	parentID, childID := newSeed(t), newSeed(t)
	parent := w.open(parentID)
	child := w.open(childID)
	require.NoError(t, parent.Mount(ctx, "/child", childID, nil))

	_, err := parent.BeginBatch()
	require.NoError(t, err)
	require.NoError(t, parent.WriteFile(ctx, "/child/f", []byte("x"), nil))
	require.NoError(t, parent.CancelBatch(ctx))

	assert.False(t, child.InBatch())
	assert.NotContains(t, child.Snapshot().Files, "f")
	assert.Empty(t, w.versions(childID))
}

func TestBatch_TracksMountsByKey(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)
	parentID, childID := newSeed(t), newSeed(t)
	require.NoError(t, w.open(childID).WriteFile(ctx, "/seed", []byte("s"), nil))

	parent, err := dsu.New(dsu.Config{
		Identifier: parentID,
		Persister:  dsu.NewAnchoredPersister(parentID, w.anchoring, w.bricks, dsu.AnchoredOptions{Now: w.clock.Now}),
		Loader:     uncachedLoader{w: w},
		Now:        w.clock.Now,
	})
	require.NoError(t, err)
	require.NoError(t, parent.Mount(ctx, "/m", childID, nil))

	_, err = parent.BeginBatch()
	require.NoError(t, err)
	require.NoError(t, parent.WriteFile(ctx, "/m/a", []byte("a"), nil))
	require.NoError(t, parent.WriteFile(ctx, "/m/b", []byte("b"), nil))
	assert.Len(t, w.versions(childID), 1)
	assert.Equal(t, "a", readFile(t, parent, "/m/a"))

	require.NoError(t, parent.CommitBatch(ctx))
	assert.Len(t, w.versions(childID), 2)

	reloaded, err := w.build(childID)
	require.NoError(t, err)
	assert.Equal(t, "a", readFile(t, reloaded, "/a"))
	assert.Equal(t, "b", readFile(t, reloaded, "/b"))
}
