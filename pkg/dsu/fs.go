package dsu

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/google/renameio"
	"github.com/marmos91/dittodsu/internal/logger"
	"github.com/marmos91/dittodsu/pkg/fault"
)

// ============================================================================
// Host filesystem import
// ============================================================================

// AddFile copies the host file at fsPath to dsuPath.
func (d *DSU) AddFile(ctx context.Context, fsPath, dsuPath string, opts *Options) error {
	data, err := os.ReadFile(fsPath)
	if err != nil {
		return hostError(err, fsPath)
	}
	return d.WriteFile(ctx, dsuPath, data, opts)
}

// AddFiles copies the host files to dsuFolder, keeping their base names.
//
// All files land in a single save: a batch is started unless one is open.
func (d *DSU) AddFiles(ctx context.Context, fsPaths []string, dsuFolder string, opts *Options) error {
	return d.inBatch(ctx, func() error {
		for _, fsPath := range fsPaths {
			if err := ctx.Err(); err != nil {
				return err
			}
			dst := path.Join(absPath(dsuFolder), filepath.Base(fsPath))
			if err := d.AddFile(ctx, fsPath, dst, opts); err != nil {
				return err
			}
		}
		return nil
	})
}

// AddFolder copies the host directory tree rooted at fsFolder to dsuFolder.
// Empty directories are created as folders.
func (d *DSU) AddFolder(ctx context.Context, fsFolder, dsuFolder string, opts *Options) error {
	info, err := os.Stat(fsFolder)
	if err != nil {
		return hostError(err, fsFolder)
	}
	if !info.IsDir() {
		return fault.Newf(fault.DataInput, "%s is not a directory", fsFolder)
	}

	base := absPath(dsuFolder)
	return d.inBatch(ctx, func() error {
		if err := d.CreateFolder(ctx, base, opts); err != nil {
			return err
		}
		return filepath.WalkDir(fsFolder, func(p string, entry fs.DirEntry, err error) error {
			if err != nil {
				return hostError(err, p)
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			rel, err := filepath.Rel(fsFolder, p)
			if err != nil {
				return fault.Classify(fault.DataInput, err, p)
			}
			if rel == "." {
				return nil
			}
			dst := path.Join(base, filepath.ToSlash(rel))

			if entry.IsDir() {
				return d.CreateFolder(ctx, dst, opts)
			}
			if !entry.Type().IsRegular() {
				logger.Debug("AddFolder: skipping non-regular file %s", p)
				return nil
			}
			return d.AddFile(ctx, p, dst, opts)
		})
	})
}

// inBatch runs fn inside the open batch, or inside a new one that is
// committed on success and cancelled on failure.
func (d *DSU) inBatch(ctx context.Context, fn func() error) error {
	_, started, err := d.StartOrAttachBatch()
	if err != nil {
		return err
	}
	if err := fn(); err != nil {
		if started {
			if cancelErr := d.CancelBatch(ctx); cancelErr != nil {
				logger.Warn("Failed to cancel batch on %s: %v", d.key, cancelErr)
			}
		}
		return err
	}
	if !started {
		return nil
	}
	return d.CommitBatch(ctx)
}

// ============================================================================
// Host filesystem export
// ============================================================================

// ExtractFile writes the file at dsuPath to the host path fsPath. The host
// file is replaced atomically.
func (d *DSU) ExtractFile(ctx context.Context, dsuPath, fsPath string, opts *Options) error {
	data, err := d.ReadFile(ctx, dsuPath, opts)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fsPath), 0755); err != nil {
		return hostError(err, fsPath)
	}
	if err := renameio.WriteFile(fsPath, data, 0644); err != nil {
		return hostError(err, fsPath)
	}
	return nil
}

// ExtractFolder writes every file below dsuFolder, including those of
// mounted units unless IgnoreMounts, to the host directory fsFolder.
func (d *DSU) ExtractFolder(ctx context.Context, dsuFolder, fsFolder string, opts *Options) error {
	listOpts := &Options{Recursive: true, IgnoreMounts: opts.ignoreMounts()}

	folders, err := d.ListFolders(ctx, dsuFolder, listOpts)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(fsFolder, 0755); err != nil {
		return hostError(err, fsFolder)
	}
	for _, f := range folders {
		if err := os.MkdirAll(filepath.Join(fsFolder, filepath.FromSlash(f)), 0755); err != nil {
			return hostError(err, f)
		}
	}

	files, err := d.ListFiles(ctx, dsuFolder, listOpts)
	if err != nil {
		return err
	}
	base := absPath(dsuFolder)
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		src := path.Join(base, f)
		dst := filepath.Join(fsFolder, filepath.FromSlash(f))
		if err := d.ExtractFile(ctx, src, dst, opts); err != nil {
			return err
		}
	}

	logger.Debug("Extracted %d files from %s%s to %s", len(files), d.key, base, fsFolder)
	return nil
}

func hostError(err error, p string) error {
	if os.IsNotExist(err) {
		return fault.Classify(fault.MissingData, err, p)
	}
	return fault.Classify(fault.Unknown, err, p)
}
