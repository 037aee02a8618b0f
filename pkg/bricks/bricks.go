// Package bricks stores immutable, content-addressed blobs ("bricks").
//
// A brick is addressed by the hex encoded BLAKE3-256 digest of its bytes.
// Every read re-hashes the returned bytes and rejects mismatches, so a
// corrupted or malicious endpoint can never hand back different content
// under a valid hash.
package bricks

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/marmos91/dittodsu/pkg/fault"
	"github.com/marmos91/dittodsu/pkg/store/object"
	"github.com/zeebo/blake3"
)

// hexHashLen is the length of a hex encoded 32 byte digest.
const hexHashLen = 64

// ErrIntegrity indicates that brick bytes do not match their hash.
var ErrIntegrity = errors.New("brick integrity check failed")

// Store persists bricks for a domain.
type Store interface {
	// PutBrick stores data and returns its hash.
	PutBrick(ctx context.Context, domain string, data []byte) (string, error)

	// GetBrick returns the brick stored under hash.
	//
	// Returns a missing-data fault when the brick is unknown.
	GetBrick(ctx context.Context, domain, hash string) ([]byte, error)
}

// Hash returns the hex encoded BLAKE3-256 digest of data.
func Hash(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verify checks that data hashes to hash.
func Verify(hash string, data []byte) error {
	if got := Hash(data); got != hash {
		return fault.Classify(fault.Unknown, ErrIntegrity, fmt.Sprintf("expected %s, got %s", hash, got))
	}
	return nil
}

// ValidHash reports whether s looks like a brick hash.
func ValidHash(s string) bool {
	if len(s) != hexHashLen {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// Local stores bricks in an object store under
// "bricks/<domain>/<hash[0:2]>/<hash>".
type Local struct {
	store object.Store
}

var _ Store = (*Local)(nil)

// NewLocal creates a brick store backed by store.
func NewLocal(store object.Store) *Local {
	return &Local{store: store}
}

func brickKey(domain, hash string) string {
	return strings.Join([]string{"bricks", domain, hash[:2], hash}, "/")
}

// PutBrick implements Store. Writing an existing brick is a no-op.
func (l *Local) PutBrick(ctx context.Context, domain string, data []byte) (string, error) {
	hash := Hash(data)
	key := brickKey(domain, hash)

	exists, err := l.store.Exists(ctx, key)
	if err != nil {
		return "", fault.Wrapf(err, "failed to check brick %s", hash)
	}
	if exists {
		return hash, nil
	}
	if err := l.store.Put(ctx, key, data); err != nil {
		return "", fault.Wrapf(err, "failed to store brick %s", hash)
	}
	return hash, nil
}

// GetBrick implements Store.
func (l *Local) GetBrick(ctx context.Context, domain, hash string) ([]byte, error) {
	if !ValidHash(hash) {
		return nil, fault.Newf(fault.DataInput, "invalid brick hash %q", hash)
	}
	data, err := l.store.Get(ctx, brickKey(domain, hash))
	if err != nil {
		return nil, fault.Wrapf(err, "failed to load brick %s", hash)
	}
	if err := Verify(hash, data); err != nil {
		return nil, err
	}
	return data, nil
}
