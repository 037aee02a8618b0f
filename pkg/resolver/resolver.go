// Package resolver creates and loads storage units.
//
// The resolver is the entry point for obtaining a *dsu.DSU from an
// identifier. It picks the persister through a factory registry keyed by
// identifier type, resolves explicit version hints to immutable snapshots,
// walks the history backwards when the head is unreachable, and keeps a TTL
// cache of live instances.
//
// Default factories:
//
//   - seed, sread, const: content stored as bricks, versions anchored
//   - vless: content stored as one (optionally sealed) blob
package resolver

import (
	"context"
	"sort"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/marmos91/dittodsu/internal/logger"
	"github.com/marmos91/dittodsu/pkg/anchoring"
	"github.com/marmos91/dittodsu/pkg/bricks"
	"github.com/marmos91/dittodsu/pkg/dsu"
	"github.com/marmos91/dittodsu/pkg/fault"
	"github.com/marmos91/dittodsu/pkg/identifier"
	"github.com/marmos91/dittodsu/pkg/versionless"
)

// DefaultCacheTTL is how long an unused unit instance stays cached.
const DefaultCacheTTL = 10 * time.Minute

// Metrics observes resolver operations.
type Metrics interface {
	RecordOperation(operation string, duration time.Duration, err error)
	RecordCacheLookup(hit bool)
}

type noopMetrics struct{}

func (noopMetrics) RecordOperation(string, time.Duration, error) {}
func (noopMetrics) RecordCacheLookup(bool)                       {}

// Options configures a Resolver.
type Options struct {
	// Anchoring resolves and appends versions. Required for anchored types.
	Anchoring *anchoring.Behaviour

	// Bricks stores the content of anchored units. Required for anchored types.
	Bricks bricks.Store

	// Blobs stores versionless units. Required for the vless type.
	Blobs versionless.Store

	// CacheTTL is the expiry of cached instances. Zero means DefaultCacheTTL,
	// a negative value disables the cache.
	CacheTTL time.Duration

	// Factories overrides or extends the default factories.
	Factories map[identifier.Type]Factory

	// Metrics is optional.
	Metrics Metrics

	// Now is the clock handed to units (default time.Now).
	Now func() time.Time
}

// CreateOptions configures CreateDSU.
type CreateOptions struct {
	// AddLog writes an init entry to the unit's activity log. Defaults to
	// true when the options are nil.
	AddLog bool
}

// ContentRecoveryFunc repairs a unit opened by fallback loading before it
// is handed to the caller.
type ContentRecoveryFunc func(ctx context.Context, unit *dsu.DSU) error

// LoadOptions configures LoadDSU.
type LoadOptions struct {
	// RecoveryMode loads through LoadFallbackDSU.
	RecoveryMode bool

	// SkipCache bypasses the instance cache for lookup and population.
	SkipCache bool

	// ContentRecoveryFnc is invoked by fallback loading. Optional.
	ContentRecoveryFnc ContentRecoveryFunc
}

// Resolver creates and loads storage units.
//
// Thread safety:
// Safe for concurrent use.
type Resolver struct {
	anchoring *anchoring.Behaviour
	bricks    bricks.Store
	blobs     versionless.Store
	factories *factoryRegistry
	cache     *gocache.Cache
	metrics   Metrics
	now       func() time.Time
}

var _ dsu.Loader = (*Resolver)(nil)

// New creates a resolver with the default factories.
func New(opts Options) *Resolver {
	r := &Resolver{
		anchoring: opts.Anchoring,
		bricks:    opts.Bricks,
		blobs:     opts.Blobs,
		factories: newFactoryRegistry(),
		metrics:   opts.Metrics,
		now:       opts.Now,
	}
	if r.metrics == nil {
		r.metrics = noopMetrics{}
	}
	if r.now == nil {
		r.now = time.Now
	}

	ttl := opts.CacheTTL
	if ttl == 0 {
		ttl = DefaultCacheTTL
	}
	if ttl > 0 {
		r.cache = gocache.New(ttl, 2*ttl)
	}

	for _, t := range []identifier.Type{identifier.TypeSeed, identifier.TypeSRead, identifier.TypeConst} {
		r.factories.replace(t, r.anchoredFactory)
	}
	r.factories.replace(identifier.TypeVersionless, r.versionlessFactory)
	for t, f := range opts.Factories {
		r.factories.replace(t, f)
	}
	return r
}

// RegisterFactory adds a factory for an identifier type without one.
func (r *Resolver) RegisterFactory(t identifier.Type, f Factory) error {
	return r.factories.register(t, f)
}

// SupportedTypes returns the identifier types with a factory, sorted.
func (r *Resolver) SupportedTypes() []identifier.Type {
	types := r.factories.types()
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Anchoring returns the anchoring behaviour shared by anchored units.
func (r *Resolver) Anchoring() *anchoring.Behaviour {
	return r.anchoring
}

func (r *Resolver) anchoredFactory(id identifier.Identifier, opts FactoryOptions) (dsu.Persister, error) {
	if r.anchoring == nil || r.bricks == nil {
		return nil, fault.Newf(fault.DataInput, "anchored units of type %q require anchoring and brick storage", id.Type())
	}
	return dsu.NewAnchoredPersister(id, r.anchoring, r.bricks, dsu.AnchoredOptions{
		Pinned: opts.Pinned,
		Now:    r.now,
	}), nil
}

func (r *Resolver) versionlessFactory(id identifier.Identifier, _ FactoryOptions) (dsu.Persister, error) {
	if r.blobs == nil {
		return nil, fault.New(fault.DataInput, "versionless units require blob storage")
	}
	return dsu.NewVersionlessPersister(id, r.blobs)
}

// build creates an empty unit for id through its factory.
func (r *Resolver) build(id identifier.Identifier, opts FactoryOptions) (*dsu.DSU, dsu.Persister, error) {
	factory, err := r.factories.get(id.Type())
	if err != nil {
		return nil, nil, err
	}
	persister, err := factory(id, opts)
	if err != nil {
		return nil, nil, err
	}
	unit, err := dsu.New(dsu.Config{
		Identifier: id,
		Persister:  persister,
		Loader:     r,
		Now:        r.now,
	})
	if err != nil {
		return nil, nil, err
	}
	return unit, persister, nil
}

// ============================================================================
// Create
// ============================================================================

// CreateDSU creates a new unit for id and persists its initial content.
//
// With AddLog (the default) the initial content holds the activity log init
// entry, otherwise it is empty. Either way exactly one version is written.
func (r *Resolver) CreateDSU(ctx context.Context, id identifier.Identifier, opts *CreateOptions) (unit *dsu.DSU, err error) {
	start := time.Now()
	defer func() { r.metrics.RecordOperation("create", time.Since(start), err) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == nil {
		return nil, fault.New(fault.DataInput, "identifier is required")
	}
	if id.IsReadOnly() {
		return nil, fault.Newf(fault.DataInput, "cannot create a unit from read-only identifier %s", id.String())
	}
	addLog := opts == nil || opts.AddLog

	unit, _, err = r.build(id, FactoryOptions{})
	if err != nil {
		return nil, err
	}

	if addLog {
		err = unit.AddLogEntry(ctx, dsu.LogEventInit, "")
	} else {
		err = unit.Persist(ctx)
	}
	if err != nil {
		return nil, fault.Wrapf(err, "failed to create unit %s", id.String())
	}

	r.cachePut(id, unit)
	logger.Info("Created storage unit %s", id.String())
	return unit, nil
}

// ============================================================================
// Load
// ============================================================================

// LoadDSU returns the unit addressed by id.
//
// An explicit version hint loads that immutable snapshot. RecoveryMode
// delegates to LoadFallbackDSU. Otherwise a cached instance is returned,
// refreshed first when the anchored head moved and the instance holds no
// pending changes, or the unit is loaded and cached.
func (r *Resolver) LoadDSU(ctx context.Context, id identifier.Identifier, opts *LoadOptions) (unit *dsu.DSU, err error) {
	if id == nil {
		return nil, fault.New(fault.DataInput, "identifier is required")
	}
	if opts == nil {
		opts = &LoadOptions{}
	}

	// ========================================================================
	// Step 1: Explicit version
	// ========================================================================

	if index, ok := id.Version(); ok {
		return r.loadSnapshot(ctx, id, index)
	}

	// ========================================================================
	// Step 2: Recovery
	// ========================================================================

	if opts.RecoveryMode {
		return r.LoadFallbackDSU(ctx, id, opts)
	}

	start := time.Now()
	defer func() { r.metrics.RecordOperation("load", time.Since(start), err) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 3: Cache
	// ========================================================================

	if !opts.SkipCache {
		if cached, ok := r.cacheGet(id); ok {
			r.metrics.RecordCacheLookup(true)
			if err := r.refreshIfStale(ctx, id, cached); err != nil {
				return nil, err
			}
			return cached, nil
		}
		r.metrics.RecordCacheLookup(false)
	}

	// ========================================================================
	// Step 4: Load and cache
	// ========================================================================

	unit, err = r.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if opts.SkipCache {
		return unit, nil
	}
	return r.cacheAdd(id, unit), nil
}

// LoadArchive implements dsu.Loader.
func (r *Resolver) LoadArchive(ctx context.Context, id identifier.Identifier) (dsu.Archive, error) {
	unit, err := r.LoadDSU(ctx, id, nil)
	if err != nil {
		return nil, err
	}
	return unit, nil
}

// load builds a unit and loads its head. Missing units fail with a
// missing-data fault.
func (r *Resolver) load(ctx context.Context, id identifier.Identifier) (*dsu.DSU, error) {
	exists, err := r.DSUExists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fault.Newf(fault.MissingData, "storage unit %s does not exist", id.String())
	}

	unit, _, err := r.build(id, FactoryOptions{})
	if err != nil {
		return nil, err
	}
	if err := unit.Refresh(ctx); err != nil {
		return nil, err
	}
	logger.Debug("Loaded storage unit %s", id.String())
	return unit, nil
}

// loadSnapshot resolves a version index through the anchor history and
// opens that version read-only.
func (r *Resolver) loadSnapshot(ctx context.Context, id identifier.Identifier, index uint64) (unit *dsu.DSU, err error) {
	start := time.Now()
	defer func() { r.metrics.RecordOperation("load_snapshot", time.Since(start), err) }()

	if r.anchoring == nil {
		return nil, fault.New(fault.DataInput, "version hints require anchoring")
	}

	base := withoutVersion(id)
	versions, err := r.anchoring.GetAllVersions(ctx, base, anchoring.GetVersionsOptions{})
	if err != nil {
		return nil, fault.Wrapf(err, "failed to resolve versions of %s", base.String())
	}
	if index >= uint64(len(versions)) {
		return nil, fault.Newf(fault.MissingData, "version %d of %s does not exist (%d versions)", index, base.String(), len(versions))
	}

	unit, _, err = r.build(base, FactoryOptions{Pinned: true})
	if err != nil {
		return nil, err
	}
	if err := unit.Rebase(ctx, versions[index]); err != nil {
		return nil, err
	}
	logger.Debug("Loaded version %d of %s", index, base.String())
	return unit, nil
}

// refreshIfStale refreshes a cached unit when its anchored head moved.
//
// Units with unanchored changes or an open batch are returned as they are.
func (r *Resolver) refreshIfStale(ctx context.Context, id identifier.Identifier, unit *dsu.DSU) error {
	if unit.HasUnanchoredChanges() || unit.InBatch() {
		return nil
	}

	if !anchored(id) {
		return unit.Refresh(ctx)
	}

	head, err := r.anchoring.GetLastVersion(ctx, id)
	if err != nil {
		return fault.Wrapf(err, "failed to check head of %s", id.String())
	}
	current := unit.CurrentVersion()
	if sameVersion(head, current) {
		return nil
	}

	logger.Debug("Cached unit %s is behind its anchor, refreshing", id.String())
	return unit.Refresh(ctx)
}

// ============================================================================
// Existence
// ============================================================================

// DSUExists reports whether a unit has been persisted for id.
//
// An anchor without versions or a missing blob means false; any other
// failure is returned.
func (r *Resolver) DSUExists(ctx context.Context, id identifier.Identifier) (bool, error) {
	if id == nil {
		return false, fault.New(fault.DataInput, "identifier is required")
	}

	if !anchored(id) {
		return r.blobExists(ctx, id)
	}
	if r.anchoring == nil {
		return false, fault.New(fault.DataInput, "anchored units require anchoring")
	}

	last, err := r.anchoring.GetLastVersion(ctx, withoutVersion(id))
	if err != nil {
		return false, err
	}
	return last != nil, nil
}

func (r *Resolver) blobExists(ctx context.Context, id identifier.Identifier) (bool, error) {
	addr, ok := id.(interface{ FilePath() string })
	if !ok || addr.FilePath() == "" || r.blobs == nil {
		return false, fault.Newf(fault.DataInput, "cannot check existence of %s", id.String())
	}
	_, err := r.blobs.GetBlob(ctx, id.Domain(), addr.FilePath())
	if err != nil {
		if fault.IsMissingData(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ============================================================================
// Helpers
// ============================================================================

// anchored reports whether units of id's type keep an anchored history.
func anchored(id identifier.Identifier) bool {
	switch id.Type() {
	case identifier.TypeSeed, identifier.TypeSRead, identifier.TypeConst:
		return true
	default:
		return false
	}
}

func withoutVersion(id identifier.Identifier) identifier.Identifier {
	if v, ok := id.(interface {
		WithoutVersion() *identifier.KeySSI
	}); ok {
		return v.WithoutVersion()
	}
	return id
}

func sameVersion(a, b identifier.Identifier) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.String() == b.String()
}
