// Package badger provides a BadgerDB-backed anchoring persistence.
//
// Key layout:
//
//	a:<domain>:<anchorID> -> JSON array of identifier strings, oldest first
//
// Each create or append is a single read-modify-write transaction, so two
// concurrent appends on one anchor can never lose an entry (Badger aborts the
// loser with ErrConflict, which is retried).
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/dittodsu/internal/logger"
	"github.com/marmos91/dittodsu/pkg/anchoring"
	"github.com/marmos91/dittodsu/pkg/fault"
)

// maxConflictRetries bounds retries of a transaction aborted by a conflict.
const maxConflictRetries = 32

// Config configures the Badger persistence.
type Config struct {
	// DBPath is the database directory. Required unless InMemory is set.
	DBPath string

	// InMemory runs Badger without touching disk (tests).
	InMemory bool

	// BlockCacheSizeMB and IndexCacheSizeMB tune Badger caches (0 = Badger defaults).
	BlockCacheSizeMB int64
	IndexCacheSizeMB int64
}

// Persistence implements anchoring.Persistence on BadgerDB.
type Persistence struct {
	db *badgerdb.DB
}

var _ anchoring.Persistence = (*Persistence)(nil)

// New opens (or creates) the database.
func New(ctx context.Context, cfg Config) (*Persistence, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badgerdb.Options
	switch {
	case cfg.InMemory:
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	case cfg.DBPath != "":
		opts = badgerdb.DefaultOptions(cfg.DBPath)
	default:
		return nil, fmt.Errorf("badger anchoring store: db_path is required")
	}

	opts = opts.WithLoggingLevel(badgerdb.WARNING)
	opts = opts.WithCompression(options.None) // entries are short strings
	if cfg.BlockCacheSizeMB > 0 {
		opts = opts.WithBlockCacheSize(cfg.BlockCacheSizeMB << 20)
	}
	if cfg.IndexCacheSizeMB > 0 {
		opts = opts.WithIndexCacheSize(cfg.IndexCacheSizeMB << 20)
	}

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	logger.Info("Badger anchoring store opened (path=%q, in_memory=%v)", cfg.DBPath, cfg.InMemory)
	return &Persistence{db: db}, nil
}

// Close closes the database.
func (p *Persistence) Close() error {
	return p.db.Close()
}

func anchorKey(domain, anchorID string) []byte {
	return []byte("a:" + domain + ":" + anchorID)
}

// update runs fn in a read-write transaction, retrying on conflicts.
func (p *Persistence) update(ctx context.Context, fn func(txn *badgerdb.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = p.db.Update(fn)
		if !errors.Is(err, badgerdb.ErrConflict) {
			return err
		}
	}
	return fault.Classify(fault.Unknown, err, "anchor update kept conflicting")
}

func readVersions(txn *badgerdb.Txn, key []byte) ([]string, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var versions []string
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &versions)
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode anchor: %w", err)
	}
	return versions, true, nil
}

func writeVersions(txn *badgerdb.Txn, key []byte, versions []string) error {
	data, err := json.Marshal(versions)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// CreateAnchor implements anchoring.Persistence.
func (p *Persistence) CreateAnchor(ctx context.Context, domain, anchorID, value string) error {
	key := anchorKey(domain, anchorID)
	return p.update(ctx, func(txn *badgerdb.Txn) error {
		_, exists, err := readVersions(txn, key)
		if err != nil {
			return err
		}
		if exists {
			return anchoring.AnchorExists(anchorID)
		}
		return writeVersions(txn, key, []string{value})
	})
}

// AppendAnchor implements anchoring.Persistence.
func (p *Persistence) AppendAnchor(ctx context.Context, domain, anchorID, value string) error {
	key := anchorKey(domain, anchorID)
	return p.update(ctx, func(txn *badgerdb.Txn) error {
		versions, exists, err := readVersions(txn, key)
		if err != nil {
			return err
		}
		if !exists {
			return anchoring.AnchorNotFound(anchorID)
		}
		return writeVersions(txn, key, append(versions, value))
	})
}

// GetAllVersions implements anchoring.Persistence.
func (p *Persistence) GetAllVersions(ctx context.Context, domain, anchorID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var versions []string
	err := p.db.View(func(txn *badgerdb.Txn) error {
		v, exists, err := readVersions(txn, anchorKey(domain, anchorID))
		if err != nil {
			return err
		}
		if !exists {
			return anchoring.AnchorNotFound(anchorID)
		}
		versions = v
		return nil
	})
	if err != nil {
		return nil, err
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
