package dsu

import (
	"context"

	"github.com/marmos91/dittodsu/pkg/identifier"
)

// Options tunes a single DSU operation.
type Options struct {
	// IgnoreMounts operates on the unit's own content without resolving
	// mount points.
	IgnoreMounts bool

	// Recursive makes listings descend into sub-folders (and into mounted
	// units unless IgnoreMounts is set).
	Recursive bool
}

func (o *Options) ignoreMounts() bool { return o != nil && o.IgnoreMounts }
func (o *Options) recursive() bool    { return o != nil && o.Recursive }

// local returns a copy of o that skips mount resolution, used when an
// operation is delegated to the archive owning a path.
func (o *Options) local() *Options {
	out := Options{IgnoreMounts: true}
	if o != nil {
		out.Recursive = o.Recursive
	}
	return &out
}

// Archive is a storage unit that can take part in a mount tree.
//
// *DSU implements it. Mounted units are reached through this interface only,
// so alternative implementations (remote proxies, fakes in tests) can be
// mounted too.
type Archive interface {
	// Identifier returns the identifier the unit was loaded with.
	Identifier() identifier.Identifier

	// IsReadOnly reports whether the unit rejects writes.
	IsReadOnly() bool

	WriteFile(ctx context.Context, path string, data []byte, opts *Options) error
	AppendToFile(ctx context.Context, path string, data []byte, opts *Options) error
	ReadFile(ctx context.Context, path string, opts *Options) ([]byte, error)
	Delete(ctx context.Context, path string, opts *Options) error
	Rename(ctx context.Context, src, dst string, opts *Options) error
	CreateFolder(ctx context.Context, path string, opts *Options) error
	CloneFolder(ctx context.Context, src, dst string, opts *Options) error
	ListFiles(ctx context.Context, path string, opts *Options) ([]string, error)
	ListFolders(ctx context.Context, path string, opts *Options) ([]string, error)
	Stat(ctx context.Context, path string, opts *Options) (*Stat, error)

	// GetArchiveForPath resolves the unit owning path through mount points.
	GetArchiveForPath(ctx context.Context, path string) (*ArchiveContext, error)

	// BeginBatch starts a batch and returns its id.
	BeginBatch() (string, error)
	CommitBatch(ctx context.Context) error
	CancelBatch(ctx context.Context) error
	InBatch() bool
}

// ArchiveContext is the result of path resolution.
type ArchiveContext struct {
	// PrefixPath is the absolute path, from the resolving unit's root, at
	// which Archive is mounted ("/" when Archive is the resolving unit).
	PrefixPath string

	// RelativePath is the requested path relative to Archive's root.
	RelativePath string

	// Archive owns the path.
	Archive Archive

	// ReadOnly is set when Archive, or any mount crossed to reach it, is
	// read-only.
	ReadOnly bool
}

// Loader loads the units referenced by mount points.
type Loader interface {
	LoadArchive(ctx context.Context, id identifier.Identifier) (Archive, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, id identifier.Identifier) (Archive, error)

// LoadArchive implements Loader.
func (f LoaderFunc) LoadArchive(ctx context.Context, id identifier.Identifier) (Archive, error) {
	return f(ctx, id)
}

// resolutionChainKey carries the anchor ids crossed by a path resolution,
// so that a unit reached twice is reported as a cycle.
type resolutionChainKey struct{}

func resolutionChain(ctx context.Context) []string {
	chain, _ := ctx.Value(resolutionChainKey{}).([]string)
	return chain
}

func withResolutionStep(ctx context.Context, anchorID string) context.Context {
	chain := resolutionChain(ctx)
	next := make([]string, len(chain), len(chain)+1)
	copy(next, chain)
	return context.WithValue(ctx, resolutionChainKey{}, append(next, anchorID))
}
