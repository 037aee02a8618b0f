// Package anchoring implements the append-only version chain kept for every
// anchor id.
//
// Behaviour enforces the chain rules on top of a dumb Persistence:
//   - the first entry of a signing anchor must be signed by the anchoring
//     identifier (genesis signer)
//   - every later entry must not be older than the head (409 otherwise) and
//     must be signed, over the head, by the current owner (428 otherwise)
//   - the current owner is the newest ownership transfer entry in the
//     history, or the anchoring identifier when there is none
//
// Non-signing identifier families are single-writer: their first entry is
// written without verification and they cannot be appended to.
//
// A RecoveryContext lets the resolver substitute a fake history and head for
// an anchor whose newest versions are unreachable, so a repaired version can
// be appended without tripping the chain checks.
package anchoring

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/dittodsu/internal/logger"
	"github.com/marmos91/dittodsu/pkg/fault"
	"github.com/marmos91/dittodsu/pkg/identifier"
)

// TrustLevel controls how much of a fetched history is verified.
type TrustLevel int

const (
	// TrustLevelZero verifies every entry of the chain on each read.
	TrustLevelZero TrustLevel = 0

	// TrustLevelOne returns the chain as stored. Chain rules are still
	// enforced at append time.
	TrustLevelOne TrustLevel = 1
)

// Level returns a pointer to l, for use in Options.
func Level(l TrustLevel) *TrustLevel {
	return &l
}

// Metrics observes anchoring operations.
type Metrics interface {
	RecordOperation(operation string, duration time.Duration, err error)
}

type noopMetrics struct{}

func (noopMetrics) RecordOperation(string, time.Duration, error) {}

// ParseFunc decodes an identifier string.
type ParseFunc func(s string) (identifier.Identifier, error)

// Options configures a Behaviour.
type Options struct {
	// TrustLevel selects history verification on reads. Nil means TrustLevelOne.
	TrustLevel *TrustLevel

	// Recovery holds recovery overrides. A fresh context is created when nil.
	Recovery *RecoveryContext

	// Metrics is optional.
	Metrics Metrics

	// Parse decodes stored entries. Defaults to identifier.Parse.
	Parse ParseFunc
}

// GetVersionsOptions configures GetAllVersions.
type GetVersionsOptions struct {
	// RealHistory bypasses an active recovery override.
	RealHistory bool
}

// Behaviour implements the anchoring protocol.
//
// Thread safety:
// Safe for concurrent use. Appends to the same anchor from different
// processes are arbitrated by the timestamp and signature checks only.
type Behaviour struct {
	persistence Persistence
	trustLevel  TrustLevel
	recovery    *RecoveryContext
	metrics     Metrics
	parse       ParseFunc
}

// New creates a Behaviour over persistence.
func New(persistence Persistence, opts Options) *Behaviour {
	b := &Behaviour{
		persistence: persistence,
		trustLevel:  TrustLevelOne,
		recovery:    opts.Recovery,
		metrics:     opts.Metrics,
		parse:       opts.Parse,
	}
	if opts.TrustLevel != nil {
		b.trustLevel = *opts.TrustLevel
	}
	if b.recovery == nil {
		b.recovery = NewRecoveryContext()
	}
	if b.metrics == nil {
		b.metrics = noopMetrics{}
	}
	if b.parse == nil {
		b.parse = func(s string) (identifier.Identifier, error) {
			id, err := identifier.Parse(s)
			if err != nil {
				return nil, err
			}
			return id, nil
		}
	}
	return b
}

// Recovery returns the recovery context used by this behaviour.
func (b *Behaviour) Recovery() *RecoveryContext {
	return b.recovery
}

// TrustLevel returns the configured trust level.
func (b *Behaviour) TrustLevel() TrustLevel {
	return b.trustLevel
}

// ============================================================================
// Create
// ============================================================================

// CreateAnchor creates the anchor of id with value as its first entry.
//
// Returns:
//   - data-input fault when id or value is missing
//   - ErrInvalidSignature when value is not signed by id
//   - persistence errors (ErrAnchorExists, network...) wrapped
func (b *Behaviour) CreateAnchor(ctx context.Context, id, value identifier.Identifier) (err error) {
	start := time.Now()
	defer func() { b.metrics.RecordOperation("create_anchor", time.Since(start), err) }()

	if id == nil || value == nil {
		return fault.New(fault.DataInput, "create anchor requires an identifier and a value")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	anchorID, err := id.AnchorID()
	if err != nil {
		return fault.Wrap(err, "failed to derive anchor id")
	}

	// ========================================================================
	// Step 1: Recovery override short-circuits persistence
	// ========================================================================

	if b.recovery.Active(anchorID) {
		b.recovery.Clear(anchorID)
		logger.Warn("Anchor %s created under recovery, persistence skipped", anchorID)
		return nil
	}

	// ========================================================================
	// Step 2: Single-writer families are written unverified
	// ========================================================================

	if !id.CanAppend() {
		if err := b.persistence.CreateAnchor(ctx, id.Domain(), anchorID, value.String()); err != nil {
			return fault.Wrapf(err, "failed to create anchor %s", anchorID)
		}
		logger.Debug("Created unsigned anchor %s", anchorID)
		return nil
	}

	// ========================================================================
	// Step 3: Verify genesis signature and persist
	// ========================================================================

	data, err := value.DataToSign(id, nil)
	if err != nil {
		return fault.Wrap(err, "failed to compute data to sign")
	}
	if !id.Verify(data, value.Signature()) {
		return fault.Classify(fault.Business, ErrInvalidSignature,
			fmt.Sprintf("first version of anchor %s is not signed by its owner", anchorID))
	}

	if err := b.persistence.CreateAnchor(ctx, id.Domain(), anchorID, value.String()); err != nil {
		return fault.Wrapf(err, "failed to create anchor %s", anchorID)
	}

	logger.Debug("Created anchor %s", anchorID)
	return nil
}

// CreateAnchorFromStrings is CreateAnchor for identifier strings.
func (b *Behaviour) CreateAnchorFromStrings(ctx context.Context, id, value string) error {
	anchor, entry, err := b.parsePair(id, value)
	if err != nil {
		return err
	}
	return b.CreateAnchor(ctx, anchor, entry)
}

// ============================================================================
// Append
// ============================================================================

// AppendAnchor appends value to the anchor of id.
//
// Returns:
//   - ErrCannotAppend for non-appendable families
//   - ErrStaleVersion (409) when value is older than the head
//   - ErrOutOfSync (428) when value is not signed over the head by the owner
//   - persistence errors wrapped
func (b *Behaviour) AppendAnchor(ctx context.Context, id, value identifier.Identifier) (err error) {
	start := time.Now()
	defer func() { b.metrics.RecordOperation("append_anchor", time.Since(start), err) }()

	if id == nil || value == nil {
		return fault.New(fault.DataInput, "append anchor requires an identifier and a value")
	}
	if !id.CanAppend() {
		return fault.Classify(fault.Business, ErrCannotAppend,
			fmt.Sprintf("%s identifiers do not support appends", id.Type()))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	anchorID, err := id.AnchorID()
	if err != nil {
		return fault.Wrap(err, "failed to derive anchor id")
	}

	// ========================================================================
	// Step 1: Optional persistence preparation
	// ========================================================================

	if preparer, ok := b.persistence.(Preparer); ok {
		if err := preparer.PrepareAnchoring(ctx, id.Domain(), anchorID); err != nil {
			return fault.Wrapf(err, "failed to prepare anchoring for %s", anchorID)
		}
	}

	// ========================================================================
	// Step 2: Load history (fake under recovery)
	// ========================================================================

	override, recovering := b.recovery.Get(anchorID)

	var history []identifier.Identifier
	if recovering {
		history = override.FakeHistory
	} else {
		history, err = b.fetchHistory(ctx, id, anchorID)
		if err != nil {
			return err
		}
	}

	// ========================================================================
	// Step 3: Chain checks (skipped under recovery)
	// ========================================================================

	if !recovering && len(history) > 0 {
		last := history[len(history)-1]
		signer := determineSigner(id, history)

		if value.Timestamp() < last.Timestamp() {
			return StaleVersion(fmt.Sprintf("version timestamp %d is older than head %d on anchor %s",
				value.Timestamp(), last.Timestamp(), anchorID))
		}

		data, err := value.DataToSign(id, last)
		if err != nil {
			return fault.Wrap(err, "failed to compute data to sign")
		}
		if !signer.Verify(data, value.Signature()) {
			return OutOfSync(fmt.Sprintf("version is not signed over the current head of anchor %s", anchorID))
		}
	}

	// ========================================================================
	// Step 4: Persist and clear recovery
	// ========================================================================

	if err := b.persistence.AppendAnchor(ctx, id.Domain(), anchorID, value.String()); err != nil {
		return fault.Wrapf(err, "failed to append to anchor %s", anchorID)
	}

	if recovering {
		b.recovery.Clear(anchorID)
		logger.Info("Anchor %s recovered", anchorID)
	}

	logger.Debug("Appended version to anchor %s", anchorID)
	return nil
}

// AppendAnchorFromStrings is AppendAnchor for identifier strings.
func (b *Behaviour) AppendAnchorFromStrings(ctx context.Context, id, value string) error {
	anchor, entry, err := b.parsePair(id, value)
	if err != nil {
		return err
	}
	return b.AppendAnchor(ctx, anchor, entry)
}

// ============================================================================
// Reads
// ============================================================================

// GetAllVersions returns the version list of id, oldest first.
//
// Under recovery the fake history is returned unless opts.RealHistory is set.
// An unknown anchor yields an empty list. At TrustLevelZero every entry of an
// appendable chain is verified and the first failure fails the whole call.
func (b *Behaviour) GetAllVersions(ctx context.Context, id identifier.Identifier, opts GetVersionsOptions) (versions []identifier.Identifier, err error) {
	start := time.Now()
	defer func() { b.metrics.RecordOperation("get_all_versions", time.Since(start), err) }()

	if id == nil {
		return nil, fault.New(fault.DataInput, "identifier is required")
	}
	anchorID, err := id.AnchorID()
	if err != nil {
		return nil, fault.Wrap(err, "failed to derive anchor id")
	}

	if !opts.RealHistory {
		if override, ok := b.recovery.Get(anchorID); ok {
			return override.FakeHistory, nil
		}
	}

	history, err := b.fetchHistory(ctx, id, anchorID)
	if err != nil {
		return nil, err
	}

	if !id.CanAppend() || b.trustLevel != TrustLevelZero {
		return history, nil
	}

	if err := verifyChain(id, anchorID, history); err != nil {
		return nil, err
	}
	return history, nil
}

// GetAllVersionsFromString is GetAllVersions for an identifier string.
func (b *Behaviour) GetAllVersionsFromString(ctx context.Context, id string, opts GetVersionsOptions) ([]identifier.Identifier, error) {
	anchor, err := b.parseOne(id)
	if err != nil {
		return nil, err
	}
	return b.GetAllVersions(ctx, anchor, opts)
}

// GetLastVersion returns the head of id.
//
// Returns (nil, nil) when the anchor holds no version or is unknown to
// persistence.
func (b *Behaviour) GetLastVersion(ctx context.Context, id identifier.Identifier) (last identifier.Identifier, err error) {
	start := time.Now()
	defer func() { b.metrics.RecordOperation("get_last_version", time.Since(start), err) }()

	if id == nil {
		return nil, fault.New(fault.DataInput, "identifier is required")
	}
	anchorID, err := id.AnchorID()
	if err != nil {
		return nil, fault.Wrap(err, "failed to derive anchor id")
	}

	if override, ok := b.recovery.Get(anchorID); ok {
		return override.FakeLastVersion, nil
	}

	raw, err := b.persistence.GetLastVersion(ctx, id.Domain(), anchorID)
	if err != nil {
		if fault.IsMissingData(err) {
			return nil, nil
		}
		return nil, fault.Wrapf(err, "failed to get last version of anchor %s", anchorID)
	}
	if raw == "" {
		return nil, nil
	}

	last, err = b.parse(raw)
	if err != nil {
		return nil, fault.Wrapf(err, "anchor %s holds a malformed version", anchorID)
	}
	return last, nil
}

// GetLastVersionFromString is GetLastVersion for an identifier string.
func (b *Behaviour) GetLastVersionFromString(ctx context.Context, id string) (identifier.Identifier, error) {
	anchor, err := b.parseOne(id)
	if err != nil {
		return nil, err
	}
	return b.GetLastVersion(ctx, anchor)
}

// ============================================================================
// Recovery
// ============================================================================

// MarkAnchorForRecovery installs a recovery override for id.
//
// Until the next successful create or append, reads return fakeHistory and
// fakeLastVersion, and appends are checked against nothing.
func (b *Behaviour) MarkAnchorForRecovery(id identifier.Identifier, fakeHistory []identifier.Identifier, fakeLastVersion identifier.Identifier) error {
	if id == nil {
		return fault.New(fault.DataInput, "identifier is required")
	}
	anchorID, err := id.AnchorID()
	if err != nil {
		return fault.Wrap(err, "failed to derive anchor id")
	}
	b.recovery.Mark(anchorID, fakeHistory, fakeLastVersion)
	logger.Warn("Anchor %s marked for recovery (%d fake versions)", anchorID, len(fakeHistory))
	return nil
}

// ============================================================================
// Helpers
// ============================================================================

// fetchHistory reads and parses the real history. Unknown anchors yield an
// empty history.
func (b *Behaviour) fetchHistory(ctx context.Context, id identifier.Identifier, anchorID string) ([]identifier.Identifier, error) {
	raw, err := b.persistence.GetAllVersions(ctx, id.Domain(), anchorID)
	if err != nil {
		if fault.IsMissingData(err) {
			return []identifier.Identifier{}, nil
		}
		return nil, fault.Wrapf(err, "failed to get versions of anchor %s", anchorID)
	}

	history := make([]identifier.Identifier, 0, len(raw))
	for i, s := range raw {
		entry, err := b.parse(s)
		if err != nil {
			return nil, fault.Wrapf(err, "anchor %s holds a malformed version at index %d", anchorID, i)
		}
		history = append(history, entry)
	}
	return history, nil
}

func (b *Behaviour) parseOne(s string) (identifier.Identifier, error) {
	if s == "" {
		return nil, fault.New(fault.DataInput, "identifier is required")
	}
	return b.parse(s)
}

func (b *Behaviour) parsePair(id, value string) (identifier.Identifier, identifier.Identifier, error) {
	if id == "" || value == "" {
		return nil, nil, fault.New(fault.DataInput, "identifier and value are required")
	}
	anchor, err := b.parse(id)
	if err != nil {
		return nil, nil, err
	}
	entry, err := b.parse(value)
	if err != nil {
		return nil, nil, err
	}
	return anchor, entry, nil
}

// determineSigner returns the newest transfer entry in history, or id.
func determineSigner(id identifier.Identifier, history []identifier.Identifier) identifier.Identifier {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].IsTransfer() {
			return history[i]
		}
	}
	return id
}

// verifyChain checks every entry against the signer derived from the
// entries before it.
func verifyChain(id identifier.Identifier, anchorID string, history []identifier.Identifier) error {
	for i, entry := range history {
		var previous identifier.Identifier
		if i > 0 {
			previous = history[i-1]
		}
		signer := determineSigner(id, history[:i])

		data, err := entry.DataToSign(id, previous)
		if err != nil {
			return fault.Wrapf(err, "failed to verify version %d of anchor %s", i, anchorID)
		}
		if !signer.Verify(data, entry.Signature()) {
			return fault.Classify(fault.Business, ErrChainVerification,
				fmt.Sprintf("version %d of anchor %s has an invalid signature", i, anchorID))
		}
	}
	return nil
}
