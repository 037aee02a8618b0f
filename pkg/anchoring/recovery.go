package anchoring

import (
	"sync"

	"github.com/marmos91/dittodsu/pkg/identifier"
)

// Override is the injected state of an anchor under recovery.
type Override struct {
	// FakeHistory replaces the real version list for reads and for the
	// append chain checks.
	FakeHistory []identifier.Identifier

	// FakeLastVersion replaces the real head.
	FakeLastVersion identifier.Identifier
}

// RecoveryContext holds recovery overrides keyed by anchor id.
//
// An override is installed by MarkAnchorForRecovery and removed by the next
// successful CreateAnchor or AppendAnchor on the same anchor. While present,
// reads return the injected values and appends skip timestamp and signature
// checks.
//
// Thread safety:
// Safe for concurrent use.
type RecoveryContext struct {
	mu        sync.Mutex
	overrides map[string]Override
}

// NewRecoveryContext creates an empty recovery context.
func NewRecoveryContext() *RecoveryContext {
	return &RecoveryContext{overrides: make(map[string]Override)}
}

// Mark installs (or replaces) the override for anchorID.
func (r *RecoveryContext) Mark(anchorID string, fakeHistory []identifier.Identifier, fakeLastVersion identifier.Identifier) {
	history := make([]identifier.Identifier, len(fakeHistory))
	copy(history, fakeHistory)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[anchorID] = Override{FakeHistory: history, FakeLastVersion: fakeLastVersion}
}

// Get returns the override for anchorID.
func (r *RecoveryContext) Get(anchorID string) (Override, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.overrides[anchorID]
	if !ok {
		return Override{}, false
	}
	history := make([]identifier.Identifier, len(o.FakeHistory))
	copy(history, o.FakeHistory)
	return Override{FakeHistory: history, FakeLastVersion: o.FakeLastVersion}, true
}

// Active reports whether anchorID is under recovery.
func (r *RecoveryContext) Active(anchorID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.overrides[anchorID]
	return ok
}

// Clear removes the override for anchorID.
func (r *RecoveryContext) Clear(anchorID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.overrides, anchorID)
}

// Len returns the number of anchors under recovery.
func (r *RecoveryContext) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.overrides)
}
