package dsu

import (
	"context"
	"path"
	"time"

	"github.com/marmos91/dittodsu/internal/logger"
	"github.com/marmos91/dittodsu/pkg/fault"
	"github.com/marmos91/dittodsu/pkg/identifier"
)

// enter records d on the resolution chain carried by ctx.
//
// Returns ErrMountCycle when d is already on the chain.
func (d *DSU) enter(ctx context.Context) (context.Context, error) {
	for _, key := range resolutionChain(ctx) {
		if key == d.key {
			return nil, fault.Classify(fault.Business, ErrMountCycle, "unit "+d.key+" reached twice")
		}
	}
	return withResolutionStep(ctx, d.key), nil
}

func (d *DSU) manifest() (*Manifest, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return readManifest(d.content)
}

// GetArchiveForPath implements Archive.
//
// The manifest is scanned for a mount point equal to path (the mounted unit
// is returned with RelativePath "/") or containing it (resolution continues
// inside the mounted unit with the remaining suffix). Without a match, d owns
// the path.
func (d *DSU) GetArchiveForPath(ctx context.Context, p string) (*ArchiveContext, error) {
	ctx, err := d.enter(ctx)
	if err != nil {
		return nil, err
	}

	abs := absPath(p)
	manifest, err := d.manifest()
	if err != nil {
		return nil, err
	}

	for _, mp := range manifest.sorted() {
		mountKey := NormalizePath(mp.Path)
		key := NormalizePath(abs)

		switch {
		case key == mountKey:
			archive, err := d.loadMount(ctx, mp)
			if err != nil {
				return nil, err
			}
			for _, visited := range resolutionChain(ctx) {
				if visited == archiveKey(archive.Identifier()) {
					return nil, fault.Classify(fault.Business, ErrMountCycle, "mount "+mp.Path+" points back into its own chain")
				}
			}
			return &ArchiveContext{
				PrefixPath:   mp.Path,
				RelativePath: RootFolder,
				Archive:      archive,
				ReadOnly:     archive.IsReadOnly(),
			}, nil

		case isUnder(key, mountKey):
			archive, err := d.loadMount(ctx, mp)
			if err != nil {
				return nil, err
			}
			inner, err := archive.GetArchiveForPath(ctx, "/"+relativeTo(key, mountKey))
			if err != nil {
				return nil, err
			}
			return &ArchiveContext{
				PrefixPath:   path.Join(mp.Path, inner.PrefixPath),
				RelativePath: inner.RelativePath,
				Archive:      inner.Archive,
				ReadOnly:     archive.IsReadOnly() || inner.ReadOnly,
			}, nil
		}
	}

	return &ArchiveContext{
		PrefixPath:   RootFolder,
		RelativePath: abs,
		Archive:      d,
		ReadOnly:     d.IsReadOnly(),
	}, nil
}

func (d *DSU) loadMount(ctx context.Context, mp MountPoint) (Archive, error) {
	if d.loader == nil {
		return nil, fault.Classify(fault.Business, ErrNoLoader, "mount "+mp.Path)
	}
	id, err := identifier.Parse(mp.Identifier)
	if err != nil {
		return nil, fault.Wrapf(err, "mount %s holds an invalid identifier", mp.Path)
	}
	archive, err := d.loader.LoadArchive(ctx, id)
	if err != nil {
		return nil, fault.Wrapf(err, "failed to load unit mounted at %s", mp.Path)
	}
	return archive, nil
}

// ============================================================================
// Mount table
// ============================================================================

// Mount mounts the unit addressed by id at path.
//
// Fails with ErrMountExists when path is already a mount point and with
// ErrNotEmpty when files exist at or below path. When path lies inside a
// mounted unit, the mount is created in that unit.
func (d *DSU) Mount(ctx context.Context, p string, id identifier.Identifier, opts *Options) error {
	if id == nil {
		return fault.New(fault.DataInput, "mount requires an identifier")
	}
	abs := absPath(p)
	if abs == RootFolder {
		return invalidPath(p)
	}

	manifest, err := d.manifest()
	if err != nil {
		return err
	}
	if _, exists := manifest.Mounts[abs]; exists {
		return businessError(ErrMountExists, abs)
	}

	owner, rel, err := d.route(ctx, abs, opts, true)
	if err != nil {
		return err
	}
	if owner != nil {
		mountable, ok := owner.(interface {
			Mount(ctx context.Context, p string, id identifier.Identifier, opts *Options) error
		})
		if !ok {
			return fault.Newf(fault.Business, "unit owning %s does not support mounts", abs)
		}
		return mountable.Mount(ctx, rel, id, opts.local())
	}

	target := absPath(rel)
	err = d.mutate(ctx, func(c *Content, now time.Time) error {
		m, err := readManifest(c)
		if err != nil {
			return err
		}
		if _, exists := m.Mounts[target]; exists {
			return businessError(ErrMountExists, target)
		}

		key := NormalizePath(target)
		if c.HasFile(key) {
			return businessError(ErrNotEmpty, target)
		}
		for k := range c.Files {
			if isUnder(k, key) {
				return businessError(ErrNotEmpty, target)
			}
		}

		m.Mounts[target] = id.String()
		return writeManifest(c, m, now)
	})
	if err != nil {
		return err
	}

	logger.Info("Mounted %s at %s on %s", id.String(), target, d.key)
	return nil
}

// Unmount removes the mount point at path. path must be a mount point of
// this unit.
func (d *DSU) Unmount(ctx context.Context, p string) error {
	d.waitForRefresh()
	if d.IsReadOnly() {
		return businessError(ErrReadOnly, absPath(p))
	}

	target := absPath(p)
	err := d.mutate(ctx, func(c *Content, now time.Time) error {
		m, err := readManifest(c)
		if err != nil {
			return err
		}
		if _, exists := m.Mounts[target]; !exists {
			return businessError(ErrNoMount, target)
		}
		delete(m.Mounts, target)
		return writeManifest(c, m, now)
	})
	if err != nil {
		return err
	}

	logger.Info("Unmounted %s on %s", target, d.key)
	return nil
}

// GetMountedDSUs returns the mount points of this unit at or below path.
func (d *DSU) GetMountedDSUs(ctx context.Context, p string) ([]MountPoint, error) {
	d.waitForRefresh()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	manifest, err := d.manifest()
	if err != nil {
		return nil, err
	}

	key := NormalizePath(p)
	var out []MountPoint
	for _, mp := range manifest.sorted() {
		mountKey := NormalizePath(mp.Path)
		if mountKey == key || isUnder(mountKey, key) {
			out = append(out, mp)
		}
	}
	return out, nil
}

func writeManifest(c *Content, m *Manifest, now time.Time) error {
	data, err := m.encode()
	if err != nil {
		return fault.Classify(fault.Unknown, err, "failed to encode manifest")
	}
	return c.WriteFile(ManifestPath, data, now)
}
