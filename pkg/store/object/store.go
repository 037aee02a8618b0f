// Package object defines a minimal key/value object store used as the local
// backing for bricks, versionless blobs and server-side storage.
//
// Keys are slash separated relative paths ("bricks/default/ab12..."). Values
// are opaque byte slices, written and read whole.
package object

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the requested key does not exist.
//
// Implementations return it wrapped in a missing-data fault:
//
//	return nil, fault.Classify(fault.MissingData, object.ErrNotFound, key)
var ErrNotFound = errors.New("object not found")

// Store is a flat key/value object store.
//
// Thread safety:
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value stored under key.
	//
	// Returns a missing-data fault wrapping ErrNotFound when key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores data under key, replacing any previous value.
	Put(ctx context.Context, key string, data []byte) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns every key starting with prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Metrics observes store operations.
type Metrics interface {
	// RecordOperation records one operation on the named store.
	RecordOperation(store, operation string, duration time.Duration, bytes int, err error)
}

// Instrument wraps store so every call is reported to metrics under name.
// Returns store unchanged when metrics is nil.
func Instrument(store Store, name string, metrics Metrics) Store {
	if metrics == nil {
		return store
	}
	return &instrumented{next: store, name: name, metrics: metrics}
}

type instrumented struct {
	next    Store
	name    string
	metrics Metrics
}

func (s *instrumented) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	data, err := s.next.Get(ctx, key)
	s.metrics.RecordOperation(s.name, "get", time.Since(start), len(data), err)
	return data, err
}

func (s *instrumented) Put(ctx context.Context, key string, data []byte) error {
	start := time.Now()
	err := s.next.Put(ctx, key, data)
	s.metrics.RecordOperation(s.name, "put", time.Since(start), len(data), err)
	return err
}

func (s *instrumented) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ok, err := s.next.Exists(ctx, key)
	s.metrics.RecordOperation(s.name, "exists", time.Since(start), 0, err)
	return ok, err
}

func (s *instrumented) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.next.Delete(ctx, key)
	s.metrics.RecordOperation(s.name, "delete", time.Since(start), 0, err)
	return err
}

func (s *instrumented) List(ctx context.Context, prefix string) ([]string, error) {
	start := time.Now()
	keys, err := s.next.List(ctx, prefix)
	s.metrics.RecordOperation(s.name, "list", time.Since(start), 0, err)
	return keys, err
}
