package anchoring

import "context"

// Persistence stores the raw version list of every anchor.
//
// Values are identifier strings. Implementations do not verify anything: all
// chain rules live in Behaviour.
//
// Error contract:
//   - unknown anchor on read -> missing-data fault
//   - CreateAnchor on an existing anchor -> business fault wrapping ErrAnchorExists (409)
//   - AppendAnchor on an unknown anchor -> missing-data fault
//   - transport failures -> network fault
type Persistence interface {
	// CreateAnchor creates anchorID with value as its first entry.
	CreateAnchor(ctx context.Context, domain, anchorID, value string) error

	// AppendAnchor appends value to anchorID.
	AppendAnchor(ctx context.Context, domain, anchorID, value string) error

	// GetAllVersions returns every entry of anchorID, oldest first.
	GetAllVersions(ctx context.Context, domain, anchorID string) ([]string, error)

	// GetLastVersion returns the newest entry of anchorID, or "" when the
	// anchor exists but holds no entry.
	GetLastVersion(ctx context.Context, domain, anchorID string) (string, error)
}

// Preparer is implemented by persistence layers that need to run a step
// before every append (for example reserving a slot on a remote ledger).
type Preparer interface {
	PrepareAnchoring(ctx context.Context, domain, anchorID string) error
}
