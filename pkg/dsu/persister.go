package dsu

import (
	"context"
	"sync"
	"time"

	"github.com/marmos91/dittodsu/internal/logger"
	"github.com/marmos91/dittodsu/pkg/bricks"
	"github.com/marmos91/dittodsu/pkg/fault"
	"github.com/marmos91/dittodsu/pkg/identifier"
	"github.com/marmos91/dittodsu/pkg/versionless"
)

// Persister loads and saves the serialized content of one unit.
type Persister interface {
	// Load returns the content of the unit's head, or nil when the unit has
	// never been saved.
	Load(ctx context.Context) ([]byte, error)

	// LoadVersion returns the content of a specific version and makes it the
	// base of the next Save.
	LoadVersion(ctx context.Context, version identifier.Identifier) ([]byte, error)

	// Save persists data as the unit's new head.
	Save(ctx context.Context, data []byte) error

	// Version returns the version the in-memory content is based on, or nil.
	Version() identifier.Identifier

	// ReadOnly reports whether Save is rejected.
	ReadOnly() bool
}

// Anchoring is the subset of the anchoring behaviour used by anchored units.
type Anchoring interface {
	CreateAnchor(ctx context.Context, id, value identifier.Identifier) error
	AppendAnchor(ctx context.Context, id, value identifier.Identifier) error
	GetLastVersion(ctx context.Context, id identifier.Identifier) (identifier.Identifier, error)
}

type brickHasher interface {
	BrickHash() string
}

type blobAddressed interface {
	FilePath() string
	EncryptionKey() []byte
}

// ============================================================================
// Anchored persister
// ============================================================================

// AnchoredPersister stores content as a brick and anchors a hashlink to it.
//
// Every save creates a hashlink signed by the unit identifier over the
// previous version. Hashlink timestamps strictly increase even when the
// clock does not.
type AnchoredPersister struct {
	id        identifier.Identifier
	anchoring Anchoring
	bricks    bricks.Store
	now       func() time.Time
	pinned    bool

	mu      sync.Mutex
	current identifier.Identifier
}

// AnchoredOptions configures an AnchoredPersister.
type AnchoredOptions struct {
	// Pinned makes the persister read-only: it always loads the version
	// passed to LoadVersion and never saves.
	Pinned bool

	// Now is the clock used for hashlink timestamps (default time.Now).
	Now func() time.Time
}

// NewAnchoredPersister creates a persister for id.
func NewAnchoredPersister(id identifier.Identifier, anchoring Anchoring, store bricks.Store, opts AnchoredOptions) *AnchoredPersister {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &AnchoredPersister{
		id:        id,
		anchoring: anchoring,
		bricks:    store,
		now:       now,
		pinned:    opts.Pinned,
	}
}

// Load implements Persister.
func (p *AnchoredPersister) Load(ctx context.Context) ([]byte, error) {
	if p.pinned {
		p.mu.Lock()
		current := p.current
		p.mu.Unlock()
		if current == nil {
			return nil, nil
		}
		return p.readBrick(ctx, current)
	}

	last, err := p.anchoring.GetLastVersion(ctx, p.id)
	if err != nil {
		return nil, fault.Wrap(err, "failed to resolve head version")
	}
	if last == nil {
		p.setCurrent(nil)
		return nil, nil
	}
	return p.LoadVersion(ctx, last)
}

// LoadVersion implements Persister.
func (p *AnchoredPersister) LoadVersion(ctx context.Context, version identifier.Identifier) ([]byte, error) {
	data, err := p.readBrick(ctx, version)
	if err != nil {
		return nil, err
	}
	p.setCurrent(version)
	return data, nil
}

func (p *AnchoredPersister) readBrick(ctx context.Context, version identifier.Identifier) ([]byte, error) {
	hl, ok := version.(brickHasher)
	if !ok || hl.BrickHash() == "" {
		return nil, fault.Newf(fault.DataInput, "version %s does not reference a brick", identifier.StringOf(version))
	}
	data, err := p.bricks.GetBrick(ctx, p.id.Domain(), hl.BrickHash())
	if err != nil {
		return nil, fault.Wrapf(err, "failed to load version brick %s", hl.BrickHash())
	}
	return data, nil
}

// Save implements Persister.
func (p *AnchoredPersister) Save(ctx context.Context, data []byte) error {
	if p.ReadOnly() {
		return businessError(ErrReadOnly, identifier.StringOf(p.id))
	}

	hash, err := p.bricks.PutBrick(ctx, p.id.Domain(), data)
	if err != nil {
		return fault.Wrap(err, "failed to store content brick")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ts := p.now()
	if p.current != nil && ts.UnixNano() <= p.current.Timestamp() {
		ts = time.Unix(0, p.current.Timestamp()+1)
	}

	hl, err := identifier.NewHashLink(p.id, hash, p.current, ts, p.id)
	if err != nil {
		return fault.Wrap(err, "failed to build version entry")
	}

	if p.current == nil {
		err = p.anchoring.CreateAnchor(ctx, p.id, hl)
	} else {
		err = p.anchoring.AppendAnchor(ctx, p.id, hl)
	}
	if err != nil {
		return fault.Wrap(err, "failed to anchor new version")
	}

	p.current = hl
	logger.Debug("Anchored version %s (brick %s)", hl.String(), hash)
	return nil
}

// Reset makes version the base of the next Save without loading it. Used to
// rebuild a unit whose anchored content is unreachable.
func (p *AnchoredPersister) Reset(version identifier.Identifier) {
	p.setCurrent(version)
}

// Version implements Persister.
func (p *AnchoredPersister) Version() identifier.Identifier {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// ReadOnly implements Persister.
func (p *AnchoredPersister) ReadOnly() bool {
	return p.pinned || p.id.IsReadOnly()
}

func (p *AnchoredPersister) setCurrent(v identifier.Identifier) {
	p.mu.Lock()
	p.current = v
	p.mu.Unlock()
}

// ============================================================================
// Versionless persister
// ============================================================================

// VersionlessPersister stores content as one blob at the identifier's file
// path. Blobs are sealed when the identifier carries an encryption key.
type VersionlessPersister struct {
	id     identifier.Identifier
	path   string
	blobs  versionless.Store
	sealer *versionless.Sealer
}

// NewVersionlessPersister creates a persister for a versionless identifier.
func NewVersionlessPersister(id identifier.Identifier, blobs versionless.Store) (*VersionlessPersister, error) {
	addr, ok := id.(blobAddressed)
	if !ok || addr.FilePath() == "" {
		return nil, fault.Newf(fault.DataInput, "identifier %s has no file path", identifier.StringOf(id))
	}

	p := &VersionlessPersister{id: id, path: addr.FilePath(), blobs: blobs}
	if key := addr.EncryptionKey(); len(key) > 0 {
		sealer, err := versionless.NewSealer(key)
		if err != nil {
			return nil, err
		}
		p.sealer = sealer
	}
	return p, nil
}

// Load implements Persister.
func (p *VersionlessPersister) Load(ctx context.Context) ([]byte, error) {
	raw, err := p.blobs.GetBlob(ctx, p.id.Domain(), p.path)
	if err != nil {
		if fault.IsMissingData(err) {
			return nil, nil
		}
		return nil, err
	}
	if p.sealer == nil {
		return raw, nil
	}
	return p.sealer.Open(p.path, raw)
}

// LoadVersion implements Persister. Versionless units have a single
// version, so this is Load.
func (p *VersionlessPersister) LoadVersion(ctx context.Context, _ identifier.Identifier) ([]byte, error) {
	return p.Load(ctx)
}

// Save implements Persister.
func (p *VersionlessPersister) Save(ctx context.Context, data []byte) error {
	if p.sealer != nil {
		sealed, err := p.sealer.Seal(p.path, data)
		if err != nil {
			return err
		}
		data = sealed
	}
	return p.blobs.PutBlob(ctx, p.id.Domain(), p.path, data)
}

// Version implements Persister.
func (p *VersionlessPersister) Version() identifier.Identifier { return nil }

// ReadOnly implements Persister.
func (p *VersionlessPersister) ReadOnly() bool { return p.id.IsReadOnly() }
