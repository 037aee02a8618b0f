package dsu

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/marmos91/dittodsu/internal/logger"
	"github.com/marmos91/dittodsu/pkg/fault"
)

// batchState is the state of an open batch.
type batchState struct {
	id       string
	snapshot *Content
	dirty    bool
	tracked  []*trackedMount
}

// trackedMount is a mounted unit touched during the batch.
type trackedMount struct {
	key     string
	archive Archive
	batchID string

	// attached is set when the unit was already in a batch opened by
	// someone else. Attached units are neither committed nor cancelled here.
	attached bool
}

// InBatch implements Archive.
func (d *DSU) InBatch() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.batch != nil
}

// BatchID returns the id of the open batch, or "".
func (d *DSU) BatchID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.batch == nil {
		return ""
	}
	return d.batch.id
}

// BeginBatch implements Archive.
//
// Snapshots the content and defers persistence until CommitBatch. Fails with
// ErrBatchInProgress when a batch is already open.
func (d *DSU) BeginBatch() (string, error) {
	unlock := d.lockContent()
	defer unlock()

	if d.batch != nil {
		return "", fault.Classify(fault.Business, ErrBatchInProgress, d.key)
	}
	d.batch = &batchState{
		id:       uuid.NewString(),
		snapshot: d.content.Clone(),
	}
	logger.Debug("Batch %s started on %s", d.batch.id, d.key)
	return d.batch.id, nil
}

// StartOrAttachBatch begins a batch unless one is open, and returns the id
// of the open batch. started reports whether this call opened it.
func (d *DSU) StartOrAttachBatch() (id string, started bool, err error) {
	d.mu.Lock()
	if d.batch != nil {
		id = d.batch.id
		d.mu.Unlock()
		return id, false, nil
	}
	d.mu.Unlock()

	id, err = d.BeginBatch()
	if errors.Is(err, ErrBatchInProgress) {
		// Lost a race with another BeginBatch
		return d.BatchID(), false, nil
	}
	return id, err == nil, err
}

// trackMount joins archive to the open batch on first touch and returns the
// instance operations must run on. Units are tracked by key: once a unit is
// tracked, later resolutions are redirected to the tracked instance even
// when the loader hands back a different one.
func (d *DSU) trackMount(archive Archive) (Archive, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.batch == nil {
		return archive, nil
	}

	key := archiveKey(archive.Identifier())
	for _, t := range d.batch.tracked {
		if t.key == key {
			return t.archive, nil
		}
	}

	t := &trackedMount{key: key, archive: archive}
	batchID, err := archive.BeginBatch()
	switch {
	case errors.Is(err, ErrBatchInProgress):
		t.attached = true
	case err != nil:
		return nil, fault.Wrapf(err, "failed to start batch on mounted unit %s", key)
	default:
		t.batchID = batchID
	}

	d.batch.tracked = append(d.batch.tracked, t)
	logger.Debug("Batch %s tracks mounted unit %s", d.batch.id, key)
	return archive, nil
}

// CommitBatch implements Archive.
//
// Tracked mounted units are committed first, most recently touched first.
// The first failure aborts the commit and leaves the batch open; units
// committed before the failure stay committed. On success the unit's own
// content is persisted once, if it changed.
func (d *DSU) CommitBatch(ctx context.Context) error {
	unlock := d.lockContent()
	defer unlock()

	b := d.batch
	if b == nil {
		return fault.Classify(fault.Business, ErrNoBatch, d.key)
	}

	// ========================================================================
	// Step 1: Commit tracked mounts in reverse order of first touch
	// ========================================================================

	for i := len(b.tracked) - 1; i >= 0; i-- {
		t := b.tracked[i]
		if !t.attached {
			if err := t.archive.CommitBatch(ctx); err != nil {
				// Committed mounts cannot be rolled back; forget them
				b.tracked = b.tracked[:i+1]
				return fault.Wrapf(err, "failed to commit mounted unit %s", t.key)
			}
		}
	}
	b.tracked = nil

	// ========================================================================
	// Step 2: Persist own content once
	// ========================================================================

	if b.dirty {
		if err := d.saveLocked(ctx); err != nil {
			return err
		}
	}

	d.batch = nil
	d.dirty = false
	logger.Debug("Batch %s committed on %s", b.id, d.key)
	return nil
}

// CancelBatch implements Archive.
//
// Tracked mounted units are cancelled in reverse order, the content snapshot
// taken by BeginBatch is restored, then the unit is reloaded from its
// persisted head.
func (d *DSU) CancelBatch(ctx context.Context) error {
	unlock := d.lockContent()
	b := d.batch
	if b == nil {
		unlock()
		return fault.Classify(fault.Business, ErrNoBatch, d.key)
	}

	var errs []error
	for i := len(b.tracked) - 1; i >= 0; i-- {
		t := b.tracked[i]
		if t.attached {
			continue
		}
		if err := t.archive.CancelBatch(ctx); err != nil {
			logger.Warn("Failed to cancel batch on mounted unit %s: %v", t.key, err)
			errs = append(errs, fault.Wrapf(err, "mounted unit %s", t.key))
		}
	}

	d.content = b.snapshot
	d.batch = nil
	unlock()

	logger.Debug("Batch %s cancelled on %s", b.id, d.key)

	if err := d.reload(ctx); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fault.Wrap(errors.Join(errs...), "batch cancel incomplete")
	}
	return nil
}

// reload refreshes the unit from its persisted head, keeping the restored
// snapshot when nothing was ever persisted.
func (d *DSU) reload(ctx context.Context) error {
	d.gate.Lock()
	defer d.gate.Unlock()

	data, err := d.persister.Load(ctx)
	if err != nil {
		return fault.Wrapf(err, "failed to reload %s", d.key)
	}
	if data == nil {
		return nil
	}
	return d.replaceContent(data)
}
