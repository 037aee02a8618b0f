// Package versionless stores the single content blob of a versionless
// storage unit.
//
// Versionless units have no anchor chain: every save overwrites the blob at
// the unit's file path (last writer wins). On the wire the blob travels
// base64url encoded at /versionlessdsu/{filePath}.
package versionless

import (
	"context"
	"encoding/base64"
	"net/url"
	"strings"

	"github.com/marmos91/dittodsu/internal/logger"
	"github.com/marmos91/dittodsu/pkg/fault"
	"github.com/marmos91/dittodsu/pkg/store/object"
	"github.com/marmos91/dittodsu/pkg/transport"
)

// Store reads and writes versionless blobs.
type Store interface {
	// GetBlob returns the blob at path.
	//
	// Returns a missing-data fault when nothing was stored yet.
	GetBlob(ctx context.Context, domain, path string) ([]byte, error)

	// PutBlob replaces the blob at path.
	PutBlob(ctx context.Context, domain, path string, data []byte) error
}

// Encode returns the wire form of a blob.
func Encode(data []byte) []byte {
	out := make([]byte, base64.RawURLEncoding.EncodedLen(len(data)))
	base64.RawURLEncoding.Encode(out, data)
	return out
}

// Decode parses the wire form of a blob.
func Decode(wire []byte) ([]byte, error) {
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(string(wire)))
	if err != nil {
		return nil, fault.Classify(fault.DataInput, err, "invalid base64url blob")
	}
	return data, nil
}

// cleanPath validates a blob path and strips leading and trailing slashes.
func cleanPath(path string) (string, error) {
	path = strings.Trim(path, "/")
	if path == "" {
		return "", fault.New(fault.DataInput, "blob path must not be empty")
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == ".." || seg == "." || seg == "" {
			return "", fault.Newf(fault.DataInput, "invalid blob path %q", path)
		}
	}
	return path, nil
}

// Local stores blobs in an object store under "versionlessdsu/<path>".
type Local struct {
	store object.Store
}

var _ Store = (*Local)(nil)

// NewLocal creates a blob store backed by store.
func NewLocal(store object.Store) *Local {
	return &Local{store: store}
}

// GetBlob implements Store.
func (l *Local) GetBlob(ctx context.Context, domain, path string) ([]byte, error) {
	path, err := cleanPath(path)
	if err != nil {
		return nil, err
	}
	data, err := l.store.Get(ctx, "versionlessdsu/"+path)
	if err != nil {
		return nil, fault.Wrapf(err, "failed to load versionless blob %s", path)
	}
	return data, nil
}

// PutBlob implements Store.
func (l *Local) PutBlob(ctx context.Context, domain, path string, data []byte) error {
	path, err := cleanPath(path)
	if err != nil {
		return err
	}
	if err := l.store.Put(ctx, "versionlessdsu/"+path, data); err != nil {
		return fault.Wrapf(err, "failed to store versionless blob %s", path)
	}
	return nil
}

// Remote stores blobs on the bricking endpoints of a domain.
type Remote struct {
	directory transport.Directory
	client    *transport.Client
}

var _ Store = (*Remote)(nil)

// NewRemote creates a remote blob store.
func NewRemote(directory transport.Directory, client *transport.Client) *Remote {
	return &Remote{directory: directory, client: client}
}

func blobURL(base, path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return base + "/versionlessdsu/" + strings.Join(segments, "/")
}

// GetBlob implements Store.
//
// Endpoint: GET {base}/versionlessdsu/{path}
func (r *Remote) GetBlob(ctx context.Context, domain, path string) ([]byte, error) {
	path, err := cleanPath(path)
	if err != nil {
		return nil, err
	}
	endpoints, err := r.directory.Lookup(ctx, domain, transport.ServiceBricking)
	if err != nil {
		return nil, fault.Wrapf(err, "no endpoints for domain %s", domain)
	}

	wire, err := transport.RaceFirst(ctx, endpoints, func(ctx context.Context, base string) ([]byte, error) {
		return r.client.DoGet(ctx, blobURL(base, path))
	})
	if err != nil {
		return nil, fault.Wrapf(err, "failed to load versionless blob %s", path)
	}
	return Decode(wire)
}

// PutBlob implements Store.
//
// Endpoint: PUT {base}/versionlessdsu/{path} (body = base64url blob)
func (r *Remote) PutBlob(ctx context.Context, domain, path string, data []byte) error {
	path, err := cleanPath(path)
	if err != nil {
		return err
	}
	endpoints, err := r.directory.Lookup(ctx, domain, transport.ServiceBricking)
	if err != nil {
		return fault.Wrapf(err, "no endpoints for domain %s", domain)
	}

	wire := Encode(data)
	_, err = transport.RaceFirst(ctx, endpoints, func(ctx context.Context, base string) (struct{}, error) {
		_, err := r.client.DoPut(ctx, blobURL(base, path), wire)
		return struct{}{}, err
	})
	if err != nil {
		return fault.Wrapf(err, "failed to store versionless blob %s", path)
	}

	logger.Debug("Stored versionless blob %s (%d bytes)", path, len(data))
	return nil
}
