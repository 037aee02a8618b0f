package resolver_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittodsu/pkg/anchoring"
	anchormem "github.com/marmos91/dittodsu/pkg/anchoring/memory"
	"github.com/marmos91/dittodsu/pkg/bricks"
	"github.com/marmos91/dittodsu/pkg/dsu"
	"github.com/marmos91/dittodsu/pkg/fault"
	"github.com/marmos91/dittodsu/pkg/identifier"
	"github.com/marmos91/dittodsu/pkg/resolver"
	"github.com/marmos91/dittodsu/pkg/store/object/memory"
	"github.com/marmos91/dittodsu/pkg/versionless"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lossyBricks forgets selected bricks on read.
type lossyBricks struct {
	bricks.Store

	mu   sync.Mutex
	lost map[string]bool
}

func (b *lossyBricks) lose(version identifier.Identifier) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lost[version.(interface{ BrickHash() string }).BrickHash()] = true
}

func (b *lossyBricks) GetBrick(ctx context.Context, domain, hash string) ([]byte, error) {
	b.mu.Lock()
	lost := b.lost[hash]
	b.mu.Unlock()
	if lost {
		return nil, fault.Newf(fault.MissingData, "brick %s not found", hash)
	}
	return b.Store.GetBrick(ctx, domain, hash)
}

type recordingMetrics struct {
	mu     sync.Mutex
	ops    []string
	hits   int
	misses int
}

func (m *recordingMetrics) RecordOperation(op string, _ time.Duration, _ error) {
	m.mu.Lock()
	m.ops = append(m.ops, op)
	m.mu.Unlock()
}

func (m *recordingMetrics) RecordCacheLookup(hit bool) {
	m.mu.Lock()
	if hit {
		m.hits++
	} else {
		m.misses++
	}
	m.mu.Unlock()
}

type fixture struct {
	anchors   *anchormem.Persistence
	anchoring *anchoring.Behaviour
	bricks    *lossyBricks
	blobs     versionless.Store
	metrics   *recordingMetrics
	resolver  *resolver.Resolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	objects := memory.New()
	anchors := anchormem.New()
	f := &fixture{
		anchors:   anchors,
		anchoring: anchoring.New(anchors, anchoring.Options{}),
		bricks:    &lossyBricks{Store: bricks.NewLocal(objects), lost: make(map[string]bool)},
		blobs:     versionless.NewLocal(objects),
		metrics:   &recordingMetrics{},
	}
	f.resolver = resolver.New(resolver.Options{
		Anchoring: f.anchoring,
		Bricks:    f.bricks,
		Blobs:     f.blobs,
		Metrics:   f.metrics,
	})
	return f
}

func (f *fixture) versions(t *testing.T, id identifier.Identifier) []identifier.Identifier {
	t.Helper()
	versions, err := f.anchoring.GetAllVersions(context.Background(), id, anchoring.GetVersionsOptions{RealHistory: true})
	require.NoError(t, err)
	return versions
}

func newSeed(t *testing.T) *identifier.KeySSI {
	t.Helper()
	seed, err := identifier.NewSeed("default")
	require.NoError(t, err)
	return seed
}

// writeVersions creates id and writes one file per content, one version each.
func (f *fixture) writeVersions(t *testing.T, id identifier.Identifier, contents ...string) {
	t.Helper()
	ctx := context.Background()
	unit, err := f.resolver.CreateDSU(ctx, id, &resolver.CreateOptions{})
	require.NoError(t, err)
	for _, c := range contents {
		require.NoError(t, unit.WriteFile(ctx, "/f", []byte(c), nil))
	}
}

func readString(t *testing.T, unit *dsu.DSU, path string) string {
	t.Helper()
	data, err := unit.ReadFile(context.Background(), path, nil)
	require.NoError(t, err)
	return string(data)
}

// ============================================================================
// Create
// ============================================================================

func TestCreateDSU_WritesOneVersionWithLog(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := newSeed(t)

	unit, err := f.resolver.CreateDSU(ctx, id, nil)
	require.NoError(t, err)
	assert.Len(t, f.versions(t, id), 1)

	entries, err := unit.ReadLog(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, dsu.LogEventInit, entries[0].Event)

	_, err = f.resolver.CreateDSU(ctx, id, nil)
	assert.True(t, errors.Is(err, anchoring.ErrAnchorExists))
}

func TestCreateDSU_WithoutLog(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := newSeed(t)

	unit, err := f.resolver.CreateDSU(ctx, id, &resolver.CreateOptions{AddLog: false})
	require.NoError(t, err)
	assert.Len(t, f.versions(t, id), 1)
	assert.Empty(t, unit.Snapshot().Files)
}

func TestCreateDSU_RejectsReadOnlyIdentifiers(t *testing.T) {
	f := newFixture(t)
	readKey, err := newSeed(t).DeriveSRead()
	require.NoError(t, err)

	_, err = f.resolver.CreateDSU(context.Background(), readKey, nil)
	assert.True(t, fault.IsDataInput(err))

	_, err = f.resolver.CreateDSU(context.Background(), nil, nil)
	assert.True(t, fault.IsDataInput(err))
}

// ============================================================================
// Load
// ============================================================================

func TestLoadDSU_MissingUnit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := newSeed(t)

	exists, err := f.resolver.DSUExists(ctx, id)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = f.resolver.LoadDSU(ctx, id, nil)
	assert.True(t, fault.IsMissingData(err))

	f.writeVersions(t, id)
	exists, err = f.resolver.DSUExists(ctx, id)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLoadDSU_CacheReturnsLiveInstance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := newSeed(t)

	created, err := f.resolver.CreateDSU(ctx, id, nil)
	require.NoError(t, err)

	loaded, err := f.resolver.LoadDSU(ctx, id, nil)
	require.NoError(t, err)
	assert.Same(t, created, loaded)
	assert.Equal(t, 1, f.metrics.hits)

	fresh, err := f.resolver.LoadDSU(ctx, id, &resolver.LoadOptions{SkipCache: true})
	require.NoError(t, err)
	assert.NotSame(t, created, fresh)

	// Another instance moves the head: the cached one is refreshed on load
	require.NoError(t, fresh.WriteFile(ctx, "/from-fresh", []byte("x"), nil))
	loaded, err = f.resolver.LoadDSU(ctx, id, nil)
	require.NoError(t, err)
	assert.Same(t, created, loaded)
	assert.Equal(t, "x", readString(t, loaded, "/from-fresh"))
}

func TestLoadDSU_CachedInstanceWithPendingChangesIsKept(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := newSeed(t)

	cached, err := f.resolver.CreateDSU(ctx, id, nil)
	require.NoError(t, err)
	_, err = cached.BeginBatch()
	require.NoError(t, err)
	require.NoError(t, cached.WriteFile(ctx, "/pending", []byte("p"), nil))

	other, err := f.resolver.LoadDSU(ctx, id, &resolver.LoadOptions{SkipCache: true})
	require.NoError(t, err)
	require.NoError(t, other.WriteFile(ctx, "/remote", []byte("r"), nil))

	loaded, err := f.resolver.LoadDSU(ctx, id, nil)
	require.NoError(t, err)
	assert.Same(t, cached, loaded)
	assert.Equal(t, "p", readString(t, loaded, "/pending"))
	_, err = loaded.ReadFile(ctx, "/remote", nil)
	assert.True(t, fault.IsMissingData(err))
}

func TestLoadDSU_ReadKeyIsCachedSeparately(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := newSeed(t)
	f.writeVersions(t, id, "one")

	readKey, err := id.DeriveSRead()
	require.NoError(t, err)
	reader, err := f.resolver.LoadDSU(ctx, readKey, nil)
	require.NoError(t, err)
	assert.True(t, reader.IsReadOnly())
	assert.Equal(t, "one", readString(t, reader, "/f"))

	writer, err := f.resolver.LoadDSU(ctx, id, nil)
	require.NoError(t, err)
	assert.False(t, writer.IsReadOnly())
}

func TestLoadDSU_VersionHintLoadsSnapshot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := newSeed(t)
	f.writeVersions(t, id, "one", "two")

	// Version 0 is the empty initial content
	snapshot, err := f.resolver.LoadDSU(ctx, id.WithVersion(1), nil)
	require.NoError(t, err)
	assert.True(t, snapshot.IsReadOnly())
	assert.Equal(t, "one", readString(t, snapshot, "/f"))

	err = snapshot.WriteFile(ctx, "/f", []byte("x"), nil)
	assert.True(t, errors.Is(err, dsu.ErrReadOnly))

	_, err = f.resolver.LoadDSU(ctx, id.WithVersion(9), nil)
	assert.True(t, fault.IsMissingData(err))
}

// ============================================================================
// Fallback
// ============================================================================

func TestLoadFallbackDSU_SkipsUnloadableHead(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := newSeed(t)
	f.writeVersions(t, id, "one", "two")
	versions := f.versions(t, id)
	require.Len(t, versions, 3)
	f.bricks.lose(versions[2])

	_, err := f.resolver.LoadDSU(ctx, id, &resolver.LoadOptions{SkipCache: true})
	assert.Error(t, err)

	unit, err := f.resolver.LoadDSU(ctx, id, &resolver.LoadOptions{RecoveryMode: true})
	require.NoError(t, err)
	assert.Equal(t, "one", readString(t, unit, "/f"))
	assert.Equal(t, versions[1].String(), unit.CurrentVersion().String())
}

func TestLoadFallbackDSU_ContentRecovery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := newSeed(t)
	f.writeVersions(t, id, "one", "two")
	versions := f.versions(t, id)
	f.bricks.lose(versions[2])

	var called bool
	repair := func(ctx context.Context, unit *dsu.DSU) error {
		called = true

		// The anchor reports the fake history while the recovery runs
		fake, err := f.anchoring.GetAllVersions(ctx, id, anchoring.GetVersionsOptions{})
		require.NoError(t, err)
		require.Len(t, fake, 1)
		assert.Equal(t, versions[0].String(), fake[0].String())

		last, err := f.anchoring.GetLastVersion(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, versions[2].String(), last.String())

		return unit.WriteFile(ctx, "/f", []byte("repaired"), nil)
	}

	unit, err := f.resolver.LoadFallbackDSU(ctx, id, &resolver.LoadOptions{ContentRecoveryFnc: repair})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "repaired", readString(t, unit, "/f"))

	// The repair was appended to the real history and cleared the override
	assert.Len(t, f.versions(t, id), 4)
	_, active := f.anchoring.Recovery().Get(mustAnchorID(t, id))
	assert.False(t, active)

	reloaded, err := f.resolver.LoadDSU(ctx, id, &resolver.LoadOptions{SkipCache: true})
	require.NoError(t, err)
	assert.Equal(t, "repaired", readString(t, reloaded, "/f"))
}

func TestLoadFallbackDSU_OnlyOldestVersionLoads(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := newSeed(t)
	f.writeVersions(t, id, "one", "two")
	versions := f.versions(t, id)
	require.Len(t, versions, 3)
	f.bricks.lose(versions[1])
	f.bricks.lose(versions[2])

	repair := func(ctx context.Context, unit *dsu.DSU) error {
		fake, err := f.anchoring.GetAllVersions(ctx, id, anchoring.GetVersionsOptions{})
		require.NoError(t, err)
		assert.Empty(t, fake)

		last, err := f.anchoring.GetLastVersion(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, last)
		assert.Equal(t, versions[2].String(), last.String())

		// The unit holds the oldest version's content
		assert.Empty(t, unit.Snapshot().Files)
		return nil
	}

	unit, err := f.resolver.LoadFallbackDSU(ctx, id, &resolver.LoadOptions{ContentRecoveryFnc: repair})
	require.NoError(t, err)
	_, err = unit.ReadFile(ctx, "/f", nil)
	assert.True(t, fault.IsMissingData(err))
}

func TestLoadFallbackDSU_RecoveredChainVerifies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := newSeed(t)
	f.writeVersions(t, id, "one", "two")
	versions := f.versions(t, id)
	f.bricks.lose(versions[1])
	f.bricks.lose(versions[2])

	repair := func(ctx context.Context, unit *dsu.DSU) error {
		return unit.WriteFile(ctx, "/f", []byte("repaired"), nil)
	}
	unit, err := f.resolver.LoadFallbackDSU(ctx, id, &resolver.LoadOptions{ContentRecoveryFnc: repair})
	require.NoError(t, err)
	assert.Equal(t, "repaired", readString(t, unit, "/f"))

	// The repair is signed over the real head, so the whole chain verifies
	verifying := anchoring.New(f.anchors, anchoring.Options{TrustLevel: anchoring.Level(anchoring.TrustLevelZero)})
	verified, err := verifying.GetAllVersions(ctx, id, anchoring.GetVersionsOptions{})
	require.NoError(t, err)
	require.Len(t, verified, 4)
	assert.Equal(t, versions[2].String(), verified[2].String())

	// The unit keeps appending on top of the repair
	require.NoError(t, unit.WriteFile(ctx, "/g", []byte("after"), nil))
	verified, err = verifying.GetAllVersions(ctx, id, anchoring.GetVersionsOptions{})
	require.NoError(t, err)
	assert.Len(t, verified, 5)
}

func TestLoadFallbackDSU_NothingLoadable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := newSeed(t)
	f.writeVersions(t, id, "one")
	for _, v := range f.versions(t, id) {
		f.bricks.lose(v)
	}

	unit, err := f.resolver.LoadFallbackDSU(ctx, id, nil)
	require.NoError(t, err)
	assert.Empty(t, unit.Snapshot().Files)

	// The empty unit continues the existing chain
	require.NoError(t, unit.WriteFile(ctx, "/f", []byte("fresh start"), nil))
	assert.Len(t, f.versions(t, id), 3)
}

func TestLoadFallbackDSU_RecoveryErrorIsWrapped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := newSeed(t)
	f.writeVersions(t, id, "one")

	boom := errors.New("boom")
	_, err := f.resolver.LoadFallbackDSU(ctx, id, &resolver.LoadOptions{
		ContentRecoveryFnc: func(context.Context, *dsu.DSU) error { return boom },
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

// ============================================================================
// Mounts, versionless units and registry
// ============================================================================

func TestResolver_LoadsMountedUnits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	parentID, childID := newSeed(t), newSeed(t)

	parent, err := f.resolver.CreateDSU(ctx, parentID, nil)
	require.NoError(t, err)
	child, err := f.resolver.CreateDSU(ctx, childID, nil)
	require.NoError(t, err)
	require.NoError(t, child.WriteFile(ctx, "/shared.txt", []byte("from child"), nil))
	require.NoError(t, parent.Mount(ctx, "/mnt", childID, nil))

	f.resolver.Evict(childID)
	reopened, err := f.resolver.LoadDSU(ctx, parentID, &resolver.LoadOptions{SkipCache: true})
	require.NoError(t, err)
	assert.Equal(t, "from child", readString(t, reopened, "/mnt/shared.txt"))
}

func TestResolver_VersionlessUnits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id, err := identifier.NewVersionless("default", "apps/config", nil)
	require.NoError(t, err)

	exists, err := f.resolver.DSUExists(ctx, id)
	require.NoError(t, err)
	assert.False(t, exists)

	unit, err := f.resolver.CreateDSU(ctx, id, nil)
	require.NoError(t, err)
	require.NoError(t, unit.WriteFile(ctx, "/settings.json", []byte("{}"), nil))

	exists, err = f.resolver.DSUExists(ctx, id)
	require.NoError(t, err)
	assert.True(t, exists)

	loaded, err := f.resolver.LoadDSU(ctx, id, &resolver.LoadOptions{SkipCache: true})
	require.NoError(t, err)
	assert.Equal(t, "{}", readString(t, loaded, "/settings.json"))
	assert.Nil(t, loaded.CurrentVersion())
}

func TestResolver_FactoryRegistry(t *testing.T) {
	f := newFixture(t)

	err := f.resolver.RegisterFactory(identifier.TypeSeed, func(identifier.Identifier, resolver.FactoryOptions) (dsu.Persister, error) {
		return nil, nil
	})
	assert.Error(t, err)
	assert.Error(t, f.resolver.RegisterFactory("custom", nil))

	assert.Equal(t, []identifier.Type{
		identifier.TypeConst,
		identifier.TypeSeed,
		identifier.TypeSRead,
		identifier.TypeVersionless,
	}, f.resolver.SupportedTypes())

	unwired := resolver.New(resolver.Options{Factories: nil})
	_, err = unwired.CreateDSU(context.Background(), newSeed(t), nil)
	assert.True(t, fault.IsDataInput(err))
}

func TestResolver_DisabledCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := resolver.New(resolver.Options{
		Anchoring: f.anchoring,
		Bricks:    f.bricks,
		CacheTTL:  -1,
	})
	id := newSeed(t)

	created, err := r.CreateDSU(ctx, id, nil)
	require.NoError(t, err)
	loaded, err := r.LoadDSU(ctx, id, nil)
	require.NoError(t, err)
	assert.NotSame(t, created, loaded)
	assert.Zero(t, r.CachedUnits())
}

func TestResolver_BatchDefersMountWritesWithoutCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := resolver.New(resolver.Options{
		Anchoring: f.anchoring,
		Bricks:    f.bricks,
		CacheTTL:  -1,
	})
	parentID, childID := newSeed(t), newSeed(t)

	parent, err := r.CreateDSU(ctx, parentID, nil)
	require.NoError(t, err)
	_, err = r.CreateDSU(ctx, childID, nil)
	require.NoError(t, err)
	require.NoError(t, parent.Mount(ctx, "/m", childID, nil))
	before := len(f.versions(t, childID))

	_, err = parent.BeginBatch()
	require.NoError(t, err)
	require.NoError(t, parent.WriteFile(ctx, "/m/a", []byte("a"), nil))
	require.NoError(t, parent.WriteFile(ctx, "/m/b", []byte("b"), nil))
	assert.Len(t, f.versions(t, childID), before)
	assert.Equal(t, "a", readString(t, parent, "/m/a"))

	require.NoError(t, parent.CommitBatch(ctx))
	assert.Len(t, f.versions(t, childID), before+1)

	child, err := r.LoadDSU(ctx, childID, nil)
	require.NoError(t, err)
	assert.Equal(t, "a", readString(t, child, "/a"))
	assert.Equal(t, "b", readString(t, child, "/b"))
}

func TestResolver_RenameInsideUncachedMount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := resolver.New(resolver.Options{
		Anchoring: f.anchoring,
		Bricks:    f.bricks,
		CacheTTL:  -1,
	})
	parentID, childID := newSeed(t), newSeed(t)

	parent, err := r.CreateDSU(ctx, parentID, nil)
	require.NoError(t, err)
	_, err = r.CreateDSU(ctx, childID, nil)
	require.NoError(t, err)
	require.NoError(t, parent.Mount(ctx, "/m", childID, nil))
	require.NoError(t, parent.WriteFile(ctx, "/m/old", []byte("x"), nil))

	require.NoError(t, parent.Rename(ctx, "/m/old", "/m/new", nil))
	assert.Equal(t, "x", readString(t, parent, "/m/new"))
}

func mustAnchorID(t *testing.T, id identifier.Identifier) string {
	t.Helper()
	anchorID, err := id.AnchorID()
	require.NoError(t, err)
	return anchorID
}
