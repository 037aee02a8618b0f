// Package leveldb provides a goleveldb-backed anchoring persistence.
//
// It uses the same key layout as the Badger backend:
//
//	a:<domain>:<anchorID> -> JSON array of identifier strings
//
// Create and append run inside a LevelDB transaction, which holds the write
// lock for its duration.
package leveldb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/marmos91/dittodsu/internal/logger"
	"github.com/marmos91/dittodsu/pkg/anchoring"
	"github.com/syndtr/goleveldb/leveldb"
	ldbopt "github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// Config configures the LevelDB persistence.
type Config struct {
	// Path is the database directory. Required unless InMemory is set.
	Path string

	// InMemory uses a memory-backed LevelDB storage (tests).
	InMemory bool
}

// Persistence implements anchoring.Persistence on LevelDB.
type Persistence struct {
	db *leveldb.DB
}

var _ anchoring.Persistence = (*Persistence)(nil)

// New opens (or creates) the database.
func New(ctx context.Context, cfg Config) (*Persistence, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		db  *leveldb.DB
		err error
	)
	switch {
	case cfg.InMemory:
		db, err = leveldb.Open(storage.NewMemStorage(), nil)
	case cfg.Path != "":
		db, err = leveldb.OpenFile(cfg.Path, &ldbopt.Options{ErrorIfExist: false})
	default:
		return nil, fmt.Errorf("leveldb anchoring store: path is required")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb database: %w", err)
	}

	logger.Info("LevelDB anchoring store opened (path=%q, in_memory=%v)", cfg.Path, cfg.InMemory)
	return &Persistence{db: db}, nil
}

// Close closes the database.
func (p *Persistence) Close() error {
	return p.db.Close()
}

func anchorKey(domain, anchorID string) []byte {
	return []byte("a:" + domain + ":" + anchorID)
}

type reader interface {
	Get(key []byte, ro *ldbopt.ReadOptions) ([]byte, error)
}

func readVersions(r reader, key []byte) ([]string, bool, error) {
	data, err := r.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var versions []string
	if err := json.Unmarshal(data, &versions); err != nil {
		return nil, false, fmt.Errorf("failed to decode anchor: %w", err)
	}
	return versions, true, nil
}

// mutate runs fn inside a transaction and commits the returned versions.
func (p *Persistence) mutate(ctx context.Context, key []byte, fn func(versions []string, exists bool) ([]string, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tr, err := p.db.OpenTransaction()
	if err != nil {
		return fmt.Errorf("failed to open transaction: %w", err)
	}

	versions, exists, err := readVersions(tr, key)
	if err != nil {
		tr.Discard()
		return err
	}

	next, err := fn(versions, exists)
	if err != nil {
		tr.Discard()
		return err
	}

	data, err := json.Marshal(next)
	if err != nil {
		tr.Discard()
		return err
	}
	if err := tr.Put(key, data, nil); err != nil {
		tr.Discard()
		return err
	}
	return tr.Commit()
}

// CreateAnchor implements anchoring.Persistence.
func (p *Persistence) CreateAnchor(ctx context.Context, domain, anchorID, value string) error {
	return p.mutate(ctx, anchorKey(domain, anchorID), func(_ []string, exists bool) ([]string, error) {
		if exists {
			return nil, anchoring.AnchorExists(anchorID)
		}
		return []string{value}, nil
	})
}

// AppendAnchor implements anchoring.Persistence.
func (p *Persistence) AppendAnchor(ctx context.Context, domain, anchorID, value string) error {
	return p.mutate(ctx, anchorKey(domain, anchorID), func(versions []string, exists bool) ([]string, error) {
		if !exists {
			return nil, anchoring.AnchorNotFound(anchorID)
		}
		return append(versions, value), nil
	})
}

// GetAllVersions implements anchoring.Persistence.
func (p *Persistence) GetAllVersions(ctx context.Context, domain, anchorID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	versions, exists, err := readVersions(p.db, anchorKey(domain, anchorID))
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, anchoring.AnchorNotFound(anchorID)
	}
	return versions, nil
}

// GetLastVersion implements anchoring.Persistence.
func (p *Persistence) GetLastVersion(ctx context.Context, domain, anchorID string) (string, error) {
	versions, err := p.GetAllVersions(ctx, domain, anchorID)
	if err != nil {
		return "", err
	}
	if len(versions) == 0 {
		return "", nil
	}
	return versions[len(versions)-1], nil
}
