// Package dsu implements the mountable storage unit: an in-memory file tree
// persisted as a single document, whose sub-paths can be delegated to other
// units through mount points, with nested batch transactions.
//
// Every file operation follows the same template:
//
//  1. Wait for an in-flight Refresh to complete
//  2. Unless Options.IgnoreMounts, resolve the unit owning the path through
//     the manifest (recursively across nested mounts)
//  3. Reject writes when the owner, or a mount crossed to reach it, is read-only
//  4. Run the operation on the owner with the path rebased to the owner's root
//
// Outside a batch every mutation persists the whole content document. Inside
// a batch persistence is deferred to CommitBatch, and every mounted unit
// touched through path resolution joins the batch with its own nested batch.
package dsu

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/dittodsu/internal/logger"
	"github.com/marmos91/dittodsu/pkg/fault"
	"github.com/marmos91/dittodsu/pkg/identifier"
)

// Config configures a DSU.
type Config struct {
	// Identifier addresses the unit. Required.
	Identifier identifier.Identifier

	// Persister loads and saves the content document. Required.
	Persister Persister

	// Loader loads mounted units. Without it, resolving a mount fails with
	// ErrNoLoader.
	Loader Loader

	// Now is the clock used for file timestamps (default time.Now).
	Now func() time.Time
}

// DSU is a mountable storage unit.
//
// Thread safety:
// Safe for concurrent use. Content operations on one unit are serialized.
// Refresh is exclusive with every other operation.
type DSU struct {
	id        identifier.Identifier
	key       string
	persister Persister
	loader    Loader
	now       func() time.Time

	// gate is write-locked for the duration of a Refresh. Operations hold a
	// read lock, taken before mu, while they read or change content.
	gate sync.RWMutex

	mu      sync.Mutex
	content *Content
	dirty   bool
	batch   *batchState
}

var _ Archive = (*DSU)(nil)

// New creates an empty unit. Call Refresh to load the persisted content.
func New(cfg Config) (*DSU, error) {
	if cfg.Identifier == nil {
		return nil, fault.New(fault.DataInput, "storage unit requires an identifier")
	}
	if cfg.Persister == nil {
		return nil, fault.New(fault.DataInput, "storage unit requires a persister")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &DSU{
		id:        cfg.Identifier,
		key:       archiveKey(cfg.Identifier),
		persister: cfg.Persister,
		loader:    cfg.Loader,
		now:       now,
		content:   NewContent(),
	}, nil
}

// archiveKey identifies a unit for batch tracking and cycle detection.
// sameOwner reports whether two routed owners are the same unit. Loaders
// may return a fresh instance on every resolution, so units are compared by
// key.
func sameOwner(a, b Archive) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return archiveKey(a.Identifier()) == archiveKey(b.Identifier())
}

func archiveKey(id identifier.Identifier) string {
	if id == nil {
		return ""
	}
	if anchorID, err := id.AnchorID(); err == nil {
		return anchorID
	}
	return id.String()
}

// Identifier implements Archive.
func (d *DSU) Identifier() identifier.Identifier { return d.id }

// IsReadOnly implements Archive.
func (d *DSU) IsReadOnly() bool { return d.persister.ReadOnly() }

// CurrentVersion returns the anchored version the content is based on, or
// nil for versionless and never-saved units.
func (d *DSU) CurrentVersion() identifier.Identifier {
	return d.persister.Version()
}

// HasUnanchoredChanges reports whether the in-memory content holds changes
// that are not persisted (pending batch or failed save).
func (d *DSU) HasUnanchoredChanges() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dirty || (d.batch != nil && d.batch.dirty)
}

// Snapshot returns a deep copy of the current content.
func (d *DSU) Snapshot() *Content {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.content.Clone()
}

// ============================================================================
// Loading and persistence
// ============================================================================

// Refresh reloads the content from the persisted head.
//
// Concurrent calls are queued: each waits for the previous one. Operations
// issued during a refresh wait for it to complete.
func (d *DSU) Refresh(ctx context.Context) error {
	d.gate.Lock()
	defer d.gate.Unlock()

	data, err := d.persister.Load(ctx)
	if err != nil {
		return fault.Wrapf(err, "failed to refresh %s", d.key)
	}
	return d.replaceContent(data)
}

// Rebase loads the content of version and makes it the base of the next
// save. Used to open a unit at an older version (fallback loading, pinned
// snapshots).
func (d *DSU) Rebase(ctx context.Context, version identifier.Identifier) error {
	if version == nil {
		return fault.New(fault.DataInput, "version is required")
	}

	d.gate.Lock()
	defer d.gate.Unlock()

	data, err := d.persister.LoadVersion(ctx, version)
	if err != nil {
		return fault.Wrapf(err, "failed to load version %s", version.String())
	}
	return d.replaceContent(data)
}

func (d *DSU) replaceContent(data []byte) error {
	content, err := DecodeContent(data)
	if err != nil {
		return fault.Classify(fault.DataInput, err, "malformed storage unit content")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.content = content
	d.dirty = false
	return nil
}

// Persist saves the current content. Inside a batch it only marks the batch
// dirty.
func (d *DSU) Persist(ctx context.Context) error {
	unlock := d.lockContent()
	defer unlock()
	return d.persistLocked(ctx)
}

// persistLocked saves the content, or defers the save to CommitBatch.
// Caller holds d.mu.
func (d *DSU) persistLocked(ctx context.Context) error {
	if d.batch != nil {
		d.batch.dirty = true
		return nil
	}
	if err := d.saveLocked(ctx); err != nil {
		d.dirty = true
		return err
	}
	d.dirty = false
	return nil
}

func (d *DSU) saveLocked(ctx context.Context) error {
	data, err := d.content.Encode()
	if err != nil {
		return fault.Classify(fault.Unknown, err, "failed to encode content")
	}
	if err := d.persister.Save(ctx, data); err != nil {
		return fault.Wrapf(err, "failed to persist %s", d.key)
	}
	return nil
}

// waitForRefresh blocks while a Refresh is in flight.
func (d *DSU) waitForRefresh() {
	d.gate.RLock()
	defer d.gate.RUnlock()
}

// lockContent excludes Refresh and other content operations until the
// returned func is called. The gate is not reentrant: a holder must not call
// back into an operation of the same unit that takes it.
func (d *DSU) lockContent() func() {
	d.gate.RLock()
	d.mu.Lock()
	return func() {
		d.mu.Unlock()
		d.gate.RUnlock()
	}
}

// ============================================================================
// Operation template
// ============================================================================

// route resolves the archive owning p.
//
// Resolution reads the manifest before the operation locks content, so a
// Refresh landing in between may move the mount the path was resolved
// against. The operation then runs on the owner chosen before the refresh.
//
// Returns a nil archive when the operation must run on d's own content, in
// which case the returned path is p normalized.
func (d *DSU) route(ctx context.Context, p string, opts *Options, write bool) (Archive, string, error) {
	d.waitForRefresh()

	if !opts.ignoreMounts() {
		actx, err := d.GetArchiveForPath(ctx, p)
		if err != nil {
			return nil, "", err
		}
		if actx.Archive != Archive(d) {
			if write && actx.ReadOnly {
				return nil, "", businessError(ErrReadOnly, absPath(p))
			}
			owner, err := d.trackMount(actx.Archive)
			if err != nil {
				return nil, "", err
			}
			return owner, actx.RelativePath, nil
		}
	}

	if write && d.IsReadOnly() {
		return nil, "", businessError(ErrReadOnly, absPath(p))
	}
	return nil, NormalizePath(p), nil
}

// mutate applies fn to the content and persists the result.
func (d *DSU) mutate(ctx context.Context, fn func(c *Content, now time.Time) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	unlock := d.lockContent()
	defer unlock()

	if err := fn(d.content, d.now()); err != nil {
		return err
	}
	return d.persistLocked(ctx)
}

// view runs fn with the content locked.
func (d *DSU) view(fn func(c *Content, now time.Time) error) error {
	unlock := d.lockContent()
	defer unlock()
	return fn(d.content, d.now())
}

// ============================================================================
// File operations
// ============================================================================

// WriteFile implements Archive.
func (d *DSU) WriteFile(ctx context.Context, path string, data []byte, opts *Options) error {
	owner, rel, err := d.route(ctx, path, opts, true)
	if err != nil {
		return err
	}
	if owner != nil {
		return owner.WriteFile(ctx, rel, data, opts.local())
	}
	logger.Debug("WriteFile %s/%s (%d bytes)", d.key, rel, len(data))
	return d.mutate(ctx, func(c *Content, now time.Time) error {
		return c.WriteFile(rel, data, now)
	})
}

// AppendToFile implements Archive.
func (d *DSU) AppendToFile(ctx context.Context, path string, data []byte, opts *Options) error {
	owner, rel, err := d.route(ctx, path, opts, true)
	if err != nil {
		return err
	}
	if owner != nil {
		return owner.AppendToFile(ctx, rel, data, opts.local())
	}
	return d.mutate(ctx, func(c *Content, now time.Time) error {
		return c.AppendToFile(rel, data, now)
	})
}

// ReadFile implements Archive.
func (d *DSU) ReadFile(ctx context.Context, path string, opts *Options) ([]byte, error) {
	owner, rel, err := d.route(ctx, path, opts, false)
	if err != nil {
		return nil, err
	}
	if owner != nil {
		return owner.ReadFile(ctx, rel, opts.local())
	}

	var data []byte
	err = d.view(func(c *Content, now time.Time) error {
		var err error
		data, err = c.ReadFile(rel, now)
		return err
	})
	return data, err
}

// Delete implements Archive.
func (d *DSU) Delete(ctx context.Context, path string, opts *Options) error {
	owner, rel, err := d.route(ctx, path, opts, true)
	if err != nil {
		return err
	}
	if owner != nil {
		return owner.Delete(ctx, rel, opts.local())
	}
	return d.mutate(ctx, func(c *Content, now time.Time) error {
		return c.Delete(rel, now)
	})
}

// Rename implements Archive.
//
// Both paths must resolve to the same unit: moving entries across a mount
// boundary is rejected.
func (d *DSU) Rename(ctx context.Context, src, dst string, opts *Options) error {
	owner, srcRel, err := d.route(ctx, src, opts, true)
	if err != nil {
		return err
	}
	dstOwner, dstRel, err := d.route(ctx, dst, opts, true)
	if err != nil {
		return err
	}
	if !sameOwner(owner, dstOwner) {
		return fault.Newf(fault.Business, "cannot rename %s to %s across a mount boundary", src, dst)
	}
	if owner != nil {
		return owner.Rename(ctx, srcRel, dstRel, opts.local())
	}
	return d.mutate(ctx, func(c *Content, now time.Time) error {
		return c.Rename(srcRel, dstRel, now)
	})
}

// CreateFolder implements Archive.
func (d *DSU) CreateFolder(ctx context.Context, path string, opts *Options) error {
	owner, rel, err := d.route(ctx, path, opts, true)
	if err != nil {
		return err
	}
	if owner != nil {
		return owner.CreateFolder(ctx, rel, opts.local())
	}
	return d.mutate(ctx, func(c *Content, now time.Time) error {
		return c.CreateFolder(rel, now)
	})
}

// CloneFolder implements Archive.
func (d *DSU) CloneFolder(ctx context.Context, src, dst string, opts *Options) error {
	owner, srcRel, err := d.route(ctx, src, opts, true)
	if err != nil {
		return err
	}
	dstOwner, dstRel, err := d.route(ctx, dst, opts, true)
	if err != nil {
		return err
	}
	if !sameOwner(owner, dstOwner) {
		return fault.Newf(fault.Business, "cannot clone %s to %s across a mount boundary", src, dst)
	}
	if owner != nil {
		return owner.CloneFolder(ctx, srcRel, dstRel, opts.local())
	}
	return d.mutate(ctx, func(c *Content, now time.Time) error {
		return c.CloneFolder(srcRel, dstRel, now)
	})
}

// Stat implements Archive.
func (d *DSU) Stat(ctx context.Context, path string, opts *Options) (*Stat, error) {
	owner, rel, err := d.route(ctx, path, opts, false)
	if err != nil {
		return nil, err
	}
	if owner != nil {
		return owner.Stat(ctx, rel, opts.local())
	}

	var st *Stat
	err = d.view(func(c *Content, _ time.Time) error {
		var err error
		st, err = c.Stat(rel)
		return err
	})
	return st, err
}

// ListFiles implements Archive.
//
// Paths are relative to path. Recursive listings include the files of
// mounted units, prefixed with their mount point, unless IgnoreMounts.
func (d *DSU) ListFiles(ctx context.Context, path string, opts *Options) ([]string, error) {
	return d.list(ctx, path, opts, false)
}

// ListFolders implements Archive.
//
// Mount points below path are reported as folders.
func (d *DSU) ListFolders(ctx context.Context, path string, opts *Options) ([]string, error) {
	return d.list(ctx, path, opts, true)
}

func (d *DSU) list(ctx context.Context, path string, opts *Options, folders bool) ([]string, error) {
	owner, rel, err := d.route(ctx, path, opts, false)
	if err != nil {
		return nil, err
	}
	if owner != nil {
		// The owner may hold nested mounts of its own below rel
		delegated := &Options{Recursive: opts.recursive(), IgnoreMounts: opts.ignoreMounts()}
		if folders {
			return owner.ListFolders(ctx, rel, delegated)
		}
		return owner.ListFiles(ctx, rel, delegated)
	}

	var (
		entries []string
		mounts  []MountPoint
	)
	err = d.view(func(c *Content, _ time.Time) error {
		if folders {
			entries = c.ListFolders(rel, opts.recursive())
		} else {
			entries = c.ListFiles(rel, opts.recursive())
		}
		if opts.ignoreMounts() {
			return nil
		}
		m, err := readManifest(c)
		if err != nil {
			return err
		}
		mounts = m.sorted()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(mounts) == 0 {
		return entries, nil
	}

	spliced, err := d.spliceMounts(ctx, rel, mounts, opts.recursive(), folders)
	if err != nil {
		return nil, err
	}
	return mergeSorted(entries, spliced), nil
}

// spliceMounts lists the mounts below folder, with paths relative to folder.
func (d *DSU) spliceMounts(ctx context.Context, folder string, mounts []MountPoint, recursive, folders bool) ([]string, error) {
	ctx, err := d.enter(ctx)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, mp := range mounts {
		mountKey := NormalizePath(mp.Path)
		if !isUnder(mountKey, folder) {
			continue
		}
		rel := relativeTo(mountKey, folder)
		direct := !strings.Contains(rel, "/")

		if folders && (recursive || direct) {
			out = append(out, rel)
		}
		if !recursive {
			continue
		}

		archive, err := d.loadMount(ctx, mp)
		if err != nil {
			return nil, err
		}
		listOpts := &Options{Recursive: true}
		var inner []string
		if folders {
			inner, err = archive.ListFolders(ctx, RootFolder, listOpts)
		} else {
			inner, err = archive.ListFiles(ctx, RootFolder, listOpts)
		}
		if err != nil {
			return nil, fault.Wrapf(err, "failed to list mount %s", mp.Path)
		}
		for _, entry := range inner {
			out = append(out, rel+"/"+entry)
		}
	}
	return out, nil
}

// ============================================================================
// Helpers
// ============================================================================

// mergeSorted merges two listings into one sorted, de-duplicated slice.
func mergeSorted(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// String returns a short description for logs.
func (d *DSU) String() string {
	return fmt.Sprintf("dsu(%s)", d.key)
}
