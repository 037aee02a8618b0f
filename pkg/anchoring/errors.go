package anchoring

import (
	"errors"
	"net/http"

	"github.com/marmos91/dittodsu/pkg/fault"
)

// Sentinel errors. Behaviour returns them wrapped in fault.Error values that
// carry the matching status code, so both errors.Is and fault.CodeOf work.
var (
	// ErrStaleVersion: the appended entry is older than the current head (409).
	ErrStaleVersion = errors.New("stale version")

	// ErrOutOfSync: the appended entry is not signed over the current head
	// by the current owner (428).
	ErrOutOfSync = errors.New("versions out of sync")

	// ErrInvalidSignature: the first entry of a new anchor is not signed by
	// the anchoring identifier.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrCannotAppend: the identifier family does not support appends.
	ErrCannotAppend = errors.New("identifier cannot append")

	// ErrAnchorExists: CreateAnchor on an anchor that already exists (409).
	ErrAnchorExists = errors.New("anchor already exists")

	// ErrChainVerification: a stored entry fails verification (trust level zero).
	ErrChainVerification = errors.New("anchor chain verification failed")
)

// StatusOf returns the protocol status code for err (409, 428...) or 0.
func StatusOf(err error) int {
	return fault.CodeOf(err)
}

// StaleVersion builds a 409 fault wrapping ErrStaleVersion.
func StaleVersion(msg string) error {
	return fault.WithCode(fault.Business, http.StatusConflict, msg, ErrStaleVersion)
}

// OutOfSync builds a 428 fault wrapping ErrOutOfSync.
func OutOfSync(msg string) error {
	return fault.WithCode(fault.Business, http.StatusPreconditionRequired, msg, ErrOutOfSync)
}

// AnchorExists builds the error persistence backends return when creating
// an anchor twice.
func AnchorExists(anchorID string) error {
	return fault.WithCode(fault.Business, http.StatusConflict, "anchor "+anchorID, ErrAnchorExists)
}

// AnchorNotFound builds the error persistence backends return for unknown
// anchors.
func AnchorNotFound(anchorID string) error {
	return fault.Newf(fault.MissingData, "anchor %s not found", anchorID)
}
