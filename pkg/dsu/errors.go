package dsu

import (
	"errors"
	"fmt"

	"github.com/marmos91/dittodsu/pkg/fault"
)

// ============================================================================
// Standard DSU Errors
// ============================================================================

// Operations return these sentinels wrapped in fault errors so callers can
// branch either on the sentinel (errors.Is) or on the root cause:
//
//	err := unit.WriteFile(ctx, "/apps/x/config.json", data, nil)
//	if errors.Is(err, dsu.ErrReadOnly) {
//	    // the path resolves into a read-only mount
//	}
//
// Every sentinel below is a business fault except ErrNotFound (missing-data)
// and ErrInvalidPath (data-input).
var (
	// ErrNotFound indicates the file or folder does not exist.
	//
	// HTTP: 404 Not Found
	ErrNotFound = errors.New("no such file or folder")

	// ErrAlreadyExists indicates the destination of a rename or clone exists.
	//
	// HTTP: 409 Conflict
	ErrAlreadyExists = errors.New("file or folder already exists")

	// ErrIsFolder indicates a file operation was issued on a folder.
	ErrIsFolder = errors.New("path is a folder")

	// ErrReadOnly indicates a write on a read-only unit or mount.
	//
	// This error is returned when:
	//   - The unit was loaded with a non-writable identifier (read key, pinned version)
	//   - The path resolves into a mount whose unit is read-only
	ErrReadOnly = errors.New("storage unit is read-only")

	// ErrNotEmpty indicates a mount target already contains files.
	ErrNotEmpty = errors.New("mount target is not empty")

	// ErrMountExists indicates a mount already exists at the path.
	ErrMountExists = errors.New("mount already exists")

	// ErrNoMount indicates no mount exists at the exact path.
	ErrNoMount = errors.New("no mount at path")

	// ErrMountCycle indicates path resolution reached a unit already on the
	// resolution chain.
	ErrMountCycle = errors.New("mount cycle detected")

	// ErrBatchInProgress indicates BeginBatch was called during a batch.
	ErrBatchInProgress = errors.New("batch already in progress")

	// ErrNoBatch indicates CommitBatch or CancelBatch outside a batch.
	ErrNoBatch = errors.New("no batch in progress")

	// ErrNoLoader indicates a mount was resolved on a unit without a loader.
	ErrNoLoader = errors.New("no loader configured for mounts")

	// ErrInvalidPath indicates a malformed path.
	ErrInvalidPath = errors.New("invalid path")
)

// businessError classifies sentinel as a business fault about path.
func businessError(sentinel error, path string) error {
	return fault.Classify(fault.Business, sentinel, path)
}

func notFound(path string) error {
	return fault.Classify(fault.MissingData, ErrNotFound, path)
}

func invalidPath(path string) error {
	return fault.Classify(fault.DataInput, ErrInvalidPath, fmt.Sprintf("%q", path))
}
