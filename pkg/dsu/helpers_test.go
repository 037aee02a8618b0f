package dsu_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/dittodsu/pkg/anchoring"
	anchormem "github.com/marmos91/dittodsu/pkg/anchoring/memory"
	"github.com/marmos91/dittodsu/pkg/bricks"
	"github.com/marmos91/dittodsu/pkg/dsu"
	"github.com/marmos91/dittodsu/pkg/identifier"
	"github.com/marmos91/dittodsu/pkg/store/object/memory"
	"github.com/marmos91/dittodsu/pkg/versionless"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// world wires units to in-memory anchoring, brick and blob stores, and acts
// as the loader of mounted units. Units are cached by identifier string so
// that mounts resolve to the instances opened by the test.
type world struct {
	t         *testing.T
	clock     *fakeClock
	objects   *memory.Store
	anchoring *anchoring.Behaviour
	bricks    bricks.Store
	blobs     versionless.Store

	mu    sync.Mutex
	units map[string]dsu.Archive
}

func newWorld(t *testing.T) *world {
	t.Helper()
	objects := memory.New()
	return &world{
		t:         t,
		clock:     newFakeClock(),
		objects:   objects,
		anchoring: anchoring.New(anchormem.New(), anchoring.Options{}),
		bricks:    bricks.NewLocal(objects),
		blobs:     versionless.NewLocal(objects),
		units:     make(map[string]dsu.Archive),
	}
}

// open creates and refreshes a fresh instance for id, replacing any cached
// instance.
func (w *world) open(id identifier.Identifier) *dsu.DSU {
	w.t.Helper()
	unit, err := w.build(id)
	require.NoError(w.t, err)
	w.register(unit)
	return unit
}

func (w *world) build(id identifier.Identifier) (*dsu.DSU, error) {
	var persister dsu.Persister
	if id.Type() == identifier.TypeVersionless {
		p, err := dsu.NewVersionlessPersister(id, w.blobs)
		if err != nil {
			return nil, err
		}
		persister = p
	} else {
		persister = dsu.NewAnchoredPersister(id, w.anchoring, w.bricks, dsu.AnchoredOptions{Now: w.clock.Now})
	}

	unit, err := dsu.New(dsu.Config{
		Identifier: id,
		Persister:  persister,
		Loader:     w,
		Now:        w.clock.Now,
	})
	if err != nil {
		return nil, err
	}
	if err := unit.Refresh(context.Background()); err != nil {
		return nil, err
	}
	return unit, nil
}

func (w *world) register(a dsu.Archive) {
	w.mu.Lock()
	w.units[a.Identifier().String()] = a
	w.mu.Unlock()
}

// LoadArchive implements dsu.Loader.
func (w *world) LoadArchive(_ context.Context, id identifier.Identifier) (dsu.Archive, error) {
	w.mu.Lock()
	a, ok := w.units[id.String()]
	w.mu.Unlock()
	if ok {
		return a, nil
	}
	unit, err := w.build(id)
	if err != nil {
		return nil, err
	}
	w.register(unit)
	return unit, nil
}

func (w *world) versions(id identifier.Identifier) []identifier.Identifier {
	w.t.Helper()
	versions, err := w.anchoring.GetAllVersions(context.Background(), id, anchoring.GetVersionsOptions{})
	require.NoError(w.t, err)
	return versions
}

func newSeed(t *testing.T) *identifier.KeySSI {
	t.Helper()
	seed, err := identifier.NewSeed("default")
	require.NoError(t, err)
	return seed
}

// recordingArchive records batch commits into a shared log and can be told
// to fail them.
type recordingArchive struct {
	dsu.Archive
	name      string
	log       *[]string
	commitErr error
}

func (r *recordingArchive) CommitBatch(ctx context.Context) error {
	if r.commitErr != nil {
		return r.commitErr
	}
	*r.log = append(*r.log, r.name)
	return r.Archive.CommitBatch(ctx)
}

// uncachedLoader builds a new instance on every load.
type uncachedLoader struct {
	w *world
}

func (l uncachedLoader) LoadArchive(_ context.Context, id identifier.Identifier) (dsu.Archive, error) {
	unit, err := l.w.build(id)
	if err != nil {
		return nil, err
	}
	return unit, nil
}

// blockingPersister holds every Load until release is closed, and records
// how many loads ran at once.
type blockingPersister struct {
	dsu.Persister
	entered chan struct{}
	release chan struct{}

	mu          sync.Mutex
	inFlight    int
	maxInFlight int
}

func newBlockingPersister(inner dsu.Persister) *blockingPersister {
	return &blockingPersister{
		Persister: inner,
		entered:   make(chan struct{}, 8),
		release:   make(chan struct{}),
	}
}

func (p *blockingPersister) Load(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	p.inFlight++
	if p.inFlight > p.maxInFlight {
		p.maxInFlight = p.inFlight
	}
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
	}()

	p.entered <- struct{}{}
	<-p.release
	return p.Persister.Load(ctx)
}

func readFile(t *testing.T, a dsu.Archive, path string) string {
	t.Helper()
	data, err := a.ReadFile(context.Background(), path, nil)
	require.NoError(t, err)
	return string(data)
}
