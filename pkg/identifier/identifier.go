// Package identifier defines the addressing contract consumed by the anchoring
// layer, the resolver and storage units, together with a reference KeySSI
// implementation.
//
// An Identifier names a storage unit (or one version of it) and optionally
// carries the key material needed to sign version appends. Two identifiers
// address the same unit when their anchor ids match, regardless of the string
// form (a seed and the read key derived from it share one anchor).
//
// String form:
//
//	ssi:<type>:<domain>:<specific>:<control>:<vn>[:<hint>]
//
// where specific and control are base58 key material, vn is the format
// version and hint is either "n=<index>" (explicit version of a unit) or
// "t=<unix nanos>" (timestamp of a version entry).
package identifier

// Type discriminates identifier families.
type Type string

const (
	// TypeSeed carries an ed25519 private seed. Signs and appends.
	TypeSeed Type = "seed"

	// TypeSRead carries the ed25519 public key of a seed. Appendable family,
	// verify only, read-only.
	TypeSRead Type = "sread"

	// TypeConst is a single-writer, non-signing family. Its anchor holds one
	// version.
	TypeConst Type = "const"

	// TypeHashLink is a version entry: brick hash, signature and timestamp.
	TypeHashLink Type = "hl"

	// TypeTransfer is an ownership transfer entry naming the new owner key.
	TypeTransfer Type = "transfer"

	// TypeVersionless names a versionless unit by file path.
	TypeVersionless Type = "vless"
)

// Identifier is an addressable, optionally signing-capable value.
//
// Implementations must be immutable.
type Identifier interface {
	// Type returns the identifier family.
	Type() Type

	// Domain returns the logical domain used for service discovery.
	Domain() string

	// AnchorID returns the stable key under which versions are tracked.
	// Version entries (hashlinks, transfers) have no anchor id.
	AnchorID() (string, error)

	// CanAppend reports whether this family uses signed appends.
	CanAppend() bool

	// CanSign reports whether Sign is available.
	CanSign() bool

	// IsReadOnly reports whether units addressed by this identifier reject writes.
	IsReadOnly() bool

	// Sign signs data with the identifier's private key.
	Sign(data []byte) ([]byte, error)

	// Verify checks sig over data against the identifier's public key.
	Verify(data, sig []byte) bool

	// DataToSign returns the digest that must be signed for this entry to be
	// appended after previous (nil for the first entry) on anchor.
	DataToSign(anchor, previous Identifier) ([]byte, error)

	// Signature returns the signature carried by a version entry.
	Signature() []byte

	// Timestamp returns the entry timestamp in unix nanoseconds (0 if none).
	Timestamp() int64

	// IsTransfer reports whether the entry transfers ownership.
	IsTransfer() bool

	// Version returns the explicit version index hint, if any.
	Version() (uint64, bool)

	// String returns the canonical string form.
	String() string
}

// Equal reports whether a and b address the same anchor.
//
// Identifiers without an anchor id are compared by string form.
func Equal(a, b Identifier) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	aID, aErr := a.AnchorID()
	bID, bErr := b.AnchorID()
	if aErr == nil && bErr == nil {
		return aID == bID
	}
	return a.String() == b.String()
}

// StringOf returns id.String(), or "" for a nil identifier.
func StringOf(id Identifier) string {
	if id == nil {
		return ""
	}
	return id.String()
}
