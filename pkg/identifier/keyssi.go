package identifier

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/marmos91/dittodsu/pkg/fault"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/sha3"
)

const (
	prefix        = "ssi"
	formatVersion = "v0"

	hintVersion   = "n="
	hintTimestamp = "t="
)

// KeySSI is the reference Identifier implementation.
//
// One struct covers every family; the type field selects behaviour. Values
// are immutable once constructed: the With* helpers return copies.
type KeySSI struct {
	typ      Type
	domain   string
	specific string
	control  string
	vn       string
	hint     string
}

var _ Identifier = (*KeySSI)(nil)

// ============================================================================
// Constructors
// ============================================================================

// NewSeed creates a seed identifier with a fresh random ed25519 key.
func NewSeed(domain string) (*KeySSI, error) {
	seed := make([]byte, ed25519.SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("failed to generate seed: %w", err)
	}
	return NewSeedFromBytes(domain, seed)
}

// NewSeedFromBytes creates a seed identifier from an existing 32 byte seed.
func NewSeedFromBytes(domain string, seed []byte) (*KeySSI, error) {
	if err := validateDomain(domain); err != nil {
		return nil, err
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fault.Newf(fault.DataInput, "seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &KeySSI{typ: TypeSeed, domain: domain, specific: base58.Encode(seed), vn: formatVersion}, nil
}

// NewConst creates a non-signing, single-writer identifier. A random key is
// generated when key is empty.
func NewConst(domain string, key []byte) (*KeySSI, error) {
	if err := validateDomain(domain); err != nil {
		return nil, err
	}
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate key: %w", err)
		}
	}
	return &KeySSI{typ: TypeConst, domain: domain, specific: base58.Encode(key), vn: formatVersion}, nil
}

// NewVersionless creates an identifier for a versionless unit stored at path.
// encryptionKey may be nil for plaintext blobs.
func NewVersionless(domain, path string, encryptionKey []byte) (*KeySSI, error) {
	if err := validateDomain(domain); err != nil {
		return nil, err
	}
	path = strings.Trim(path, "/")
	if path == "" {
		return nil, fault.New(fault.DataInput, "versionless path must not be empty")
	}
	id := &KeySSI{typ: TypeVersionless, domain: domain, specific: base58.Encode([]byte(path)), vn: formatVersion}
	if len(encryptionKey) > 0 {
		id.control = base58.Encode(encryptionKey)
	}
	return id, nil
}

// NewHashLink creates a version entry for anchor pointing at brickHash.
//
// When signer can sign, the entry is signed over DataToSign(anchor, previous).
// Non-signing families produce unsigned entries.
func NewHashLink(anchor Identifier, brickHash string, previous Identifier, ts time.Time, signer Identifier) (*KeySSI, error) {
	if brickHash == "" {
		return nil, fault.New(fault.DataInput, "brick hash must not be empty")
	}
	hl := &KeySSI{
		typ:      TypeHashLink,
		domain:   anchor.Domain(),
		specific: base58.Encode([]byte(brickHash)),
		vn:       formatVersion,
		hint:     hintTimestamp + strconv.FormatInt(ts.UnixNano(), 10),
	}
	return hl, hl.signWith(anchor, previous, signer)
}

// NewTransfer creates an ownership transfer entry handing anchor to newOwner.
// The entry must be signed by the current owner.
func NewTransfer(anchor Identifier, newOwner ed25519.PublicKey, previous Identifier, ts time.Time, signer Identifier) (*KeySSI, error) {
	if len(newOwner) != ed25519.PublicKeySize {
		return nil, fault.New(fault.DataInput, "invalid new owner public key")
	}
	if signer == nil || !signer.CanSign() {
		return nil, fault.New(fault.DataInput, "transfer requires a signing identifier")
	}
	tr := &KeySSI{
		typ:      TypeTransfer,
		domain:   anchor.Domain(),
		specific: base58.Encode(newOwner),
		vn:       formatVersion,
		hint:     hintTimestamp + strconv.FormatInt(ts.UnixNano(), 10),
	}
	return tr, tr.signWith(anchor, previous, signer)
}

func (k *KeySSI) signWith(anchor, previous, signer Identifier) error {
	if signer == nil || !signer.CanSign() {
		return nil
	}
	data, err := k.DataToSign(anchor, previous)
	if err != nil {
		return err
	}
	sig, err := signer.Sign(data)
	if err != nil {
		return err
	}
	k.control = base58.Encode(sig)
	return nil
}

// Parse decodes the canonical string form.
func Parse(s string) (*KeySSI, error) {
	if s == "" {
		return nil, fault.New(fault.DataInput, "empty identifier")
	}
	parts := strings.Split(s, ":")
	if len(parts) < 6 || len(parts) > 7 || parts[0] != prefix {
		return nil, fault.Newf(fault.DataInput, "malformed identifier %q", s)
	}

	k := &KeySSI{
		typ:      Type(parts[1]),
		domain:   parts[2],
		specific: parts[3],
		control:  parts[4],
		vn:       parts[5],
	}
	if len(parts) == 7 {
		k.hint = parts[6]
	}

	switch k.typ {
	case TypeSeed, TypeSRead, TypeConst, TypeHashLink, TypeTransfer, TypeVersionless:
	default:
		return nil, fault.Newf(fault.DataInput, "unknown identifier type %q", parts[1])
	}
	if err := validateDomain(k.domain); err != nil {
		return nil, err
	}
	if k.specific == "" {
		return nil, fault.Newf(fault.DataInput, "identifier %q has no key material", s)
	}
	if _, err := base58.Decode(k.specific); err != nil {
		return nil, fault.Classify(fault.DataInput, err, "invalid key material")
	}
	if k.control != "" {
		if _, err := base58.Decode(k.control); err != nil {
			return nil, fault.Classify(fault.DataInput, err, "invalid control material")
		}
	}
	if k.hint != "" && !strings.HasPrefix(k.hint, hintVersion) && !strings.HasPrefix(k.hint, hintTimestamp) {
		return nil, fault.Newf(fault.DataInput, "unknown identifier hint %q", k.hint)
	}
	if k.typ == TypeSeed {
		if raw, _ := base58.Decode(k.specific); len(raw) != ed25519.SeedSize {
			return nil, fault.New(fault.DataInput, "seed identifier has invalid key length")
		}
	}
	return k, nil
}

// ParseOptional is Parse that maps the empty string to nil.
func ParseOptional(s string) (*KeySSI, error) {
	if s == "" {
		return nil, nil
	}
	return Parse(s)
}

func validateDomain(domain string) error {
	if domain == "" {
		return fault.New(fault.DataInput, "domain must not be empty")
	}
	if strings.ContainsAny(domain, ":/ ") {
		return fault.Newf(fault.DataInput, "invalid domain %q", domain)
	}
	return nil
}

// ============================================================================
// Derivation
// ============================================================================

// DeriveSRead returns the read-only identifier sharing this seed's anchor.
func (k *KeySSI) DeriveSRead() (*KeySSI, error) {
	if k.typ != TypeSeed {
		return nil, fault.Newf(fault.DataInput, "cannot derive read key from %s identifier", k.typ)
	}
	pub, err := k.publicKey()
	if err != nil {
		return nil, err
	}
	return &KeySSI{typ: TypeSRead, domain: k.domain, specific: base58.Encode(pub), vn: k.vn, hint: k.versionHint()}, nil
}

// PublicKey returns the ed25519 public key of seed, sread and transfer
// identifiers.
func (k *KeySSI) PublicKey() (ed25519.PublicKey, error) {
	return k.publicKey()
}

// WithVersion returns a copy carrying an explicit version index hint.
func (k *KeySSI) WithVersion(n uint64) *KeySSI {
	c := *k
	c.hint = hintVersion + strconv.FormatUint(n, 10)
	return &c
}

// WithoutVersion returns a copy without an explicit version hint.
func (k *KeySSI) WithoutVersion() *KeySSI {
	c := *k
	if strings.HasPrefix(c.hint, hintVersion) {
		c.hint = ""
	}
	return &c
}

// BrickHash returns the brick hash a hashlink points at.
func (k *KeySSI) BrickHash() string {
	if k.typ != TypeHashLink {
		return ""
	}
	raw, err := base58.Decode(k.specific)
	if err != nil {
		return ""
	}
	return string(raw)
}

// FilePath returns the storage path of a versionless identifier.
func (k *KeySSI) FilePath() string {
	if k.typ != TypeVersionless {
		return ""
	}
	raw, err := base58.Decode(k.specific)
	if err != nil {
		return ""
	}
	return string(raw)
}

// EncryptionKey returns the blob encryption key of a versionless identifier,
// or nil when blobs are stored in plaintext.
func (k *KeySSI) EncryptionKey() []byte {
	if k.typ != TypeVersionless || k.control == "" {
		return nil
	}
	raw, err := base58.Decode(k.control)
	if err != nil {
		return nil
	}
	return raw
}

// ============================================================================
// Identifier implementation
// ============================================================================

func (k *KeySSI) Type() Type     { return k.typ }
func (k *KeySSI) Domain() string { return k.domain }

// AnchorID derives base58(sha3-256(domain | family | public material)).
//
// Seed and sread identifiers derive from the same public key so both address
// one anchor.
func (k *KeySSI) AnchorID() (string, error) {
	var family string
	var material []byte

	switch k.typ {
	case TypeSeed, TypeSRead:
		pub, err := k.publicKey()
		if err != nil {
			return "", err
		}
		family, material = "ed25519", pub
	case TypeConst, TypeVersionless:
		raw, err := base58.Decode(k.specific)
		if err != nil {
			return "", fault.Classify(fault.DataInput, err, "invalid key material")
		}
		family, material = string(k.typ), raw
	default:
		return "", fault.Newf(fault.DataInput, "%s identifier has no anchor id", k.typ)
	}

	h := sha3.New256()
	h.Write([]byte(k.domain))
	h.Write([]byte{0})
	h.Write([]byte(family))
	h.Write([]byte{0})
	h.Write(material)
	return base58.Encode(h.Sum(nil)), nil
}

func (k *KeySSI) CanAppend() bool {
	return k.typ == TypeSeed || k.typ == TypeSRead
}

func (k *KeySSI) CanSign() bool {
	return k.typ == TypeSeed
}

// IsReadOnly reports whether the identifier grants no write access at all.
// Const identifiers are writable until their single version is anchored.
func (k *KeySSI) IsReadOnly() bool {
	switch k.typ {
	case TypeSeed, TypeConst, TypeVersionless:
		return false
	default:
		return true
	}
}

func (k *KeySSI) Sign(data []byte) ([]byte, error) {
	if k.typ != TypeSeed {
		return nil, fault.Newf(fault.DataInput, "%s identifier cannot sign", k.typ)
	}
	seed, err := base58.Decode(k.specific)
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, fault.New(fault.DataInput, "invalid seed")
	}
	return ed25519.Sign(ed25519.NewKeyFromSeed(seed), data), nil
}

func (k *KeySSI) Verify(data, sig []byte) bool {
	pub, err := k.publicKey()
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, data, sig)
}

// DataToSign hashes anchor id, entry payload, entry timestamp and the
// previous entry string.
func (k *KeySSI) DataToSign(anchor, previous Identifier) ([]byte, error) {
	if anchor == nil {
		return nil, fault.New(fault.DataInput, "anchor identifier is required")
	}
	anchorID, err := anchor.AnchorID()
	if err != nil {
		return nil, err
	}

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(k.Timestamp()))

	var buf bytes.Buffer
	buf.WriteString(anchorID)
	buf.WriteByte(0)
	buf.WriteString(string(k.typ))
	buf.WriteByte(0)
	buf.WriteString(k.specific)
	buf.WriteByte(0)
	buf.Write(ts[:])
	buf.WriteByte(0)
	buf.WriteString(StringOf(previous))

	sum := sha3.Sum256(buf.Bytes())
	return sum[:], nil
}

func (k *KeySSI) Signature() []byte {
	if k.typ != TypeHashLink && k.typ != TypeTransfer {
		return nil
	}
	if k.control == "" {
		return nil
	}
	raw, err := base58.Decode(k.control)
	if err != nil {
		return nil
	}
	return raw
}

func (k *KeySSI) Timestamp() int64 {
	if !strings.HasPrefix(k.hint, hintTimestamp) {
		return 0
	}
	ts, err := strconv.ParseInt(strings.TrimPrefix(k.hint, hintTimestamp), 10, 64)
	if err != nil {
		return 0
	}
	return ts
}

func (k *KeySSI) IsTransfer() bool {
	return k.typ == TypeTransfer
}

func (k *KeySSI) Version() (uint64, bool) {
	if !strings.HasPrefix(k.hint, hintVersion) {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(k.hint, hintVersion), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (k *KeySSI) String() string {
	s := strings.Join([]string{prefix, string(k.typ), k.domain, k.specific, k.control, k.vn}, ":")
	if k.hint != "" {
		s += ":" + k.hint
	}
	return s
}

func (k *KeySSI) publicKey() (ed25519.PublicKey, error) {
	raw, err := base58.Decode(k.specific)
	if err != nil {
		return nil, fault.Classify(fault.DataInput, err, "invalid key material")
	}
	switch k.typ {
	case TypeSeed:
		if len(raw) != ed25519.SeedSize {
			return nil, fault.New(fault.DataInput, "invalid seed")
		}
		return ed25519.NewKeyFromSeed(raw).Public().(ed25519.PublicKey), nil
	case TypeSRead, TypeTransfer:
		if len(raw) != ed25519.PublicKeySize {
			return nil, fault.New(fault.DataInput, "invalid public key")
		}
		return ed25519.PublicKey(raw), nil
	default:
		return nil, fault.Newf(fault.DataInput, "%s identifier has no public key", k.typ)
	}
}

func (k *KeySSI) versionHint() string {
	if strings.HasPrefix(k.hint, hintVersion) {
		return k.hint
	}
	return ""
}
