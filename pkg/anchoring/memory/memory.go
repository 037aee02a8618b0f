// Package memory provides an in-memory anchoring persistence.
//
// Anchors are lost on restart. Intended for tests, single-process setups and
// as the default backend of the standalone server.
package memory

import (
	"context"
	"sync"

	"github.com/marmos91/dittodsu/pkg/anchoring"
)

// Persistence implements anchoring.Persistence with a map per domain.
//
// Thread safety:
// All operations are protected by a sync.RWMutex.
type Persistence struct {
	mu      sync.RWMutex
	anchors map[string]map[string][]string
}

var _ anchoring.Persistence = (*Persistence)(nil)

// New creates an empty in-memory persistence.
func New() *Persistence {
	return &Persistence{anchors: make(map[string]map[string][]string)}
}

// CreateAnchor implements anchoring.Persistence.
func (p *Persistence) CreateAnchor(ctx context.Context, domain, anchorID, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	byDomain, ok := p.anchors[domain]
	if !ok {
		byDomain = make(map[string][]string)
		p.anchors[domain] = byDomain
	}
	if _, exists := byDomain[anchorID]; exists {
		return anchoring.AnchorExists(anchorID)
	}
	byDomain[anchorID] = []string{value}
	return nil
}

// AppendAnchor implements anchoring.Persistence.
func (p *Persistence) AppendAnchor(ctx context.Context, domain, anchorID, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	versions, ok := p.anchors[domain][anchorID]
	if !ok {
		return anchoring.AnchorNotFound(anchorID)
	}
	p.anchors[domain][anchorID] = append(versions, value)
	return nil
}

// GetAllVersions implements anchoring.Persistence.
func (p *Persistence) GetAllVersions(ctx context.Context, domain, anchorID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	versions, ok := p.anchors[domain][anchorID]
	if !ok {
		return nil, anchoring.AnchorNotFound(anchorID)
	}
	out := make([]string, len(versions))
	copy(out, versions)
	return out, nil
}

// GetLastVersion implements anchoring.Persistence.
func (p *Persistence) GetLastVersion(ctx context.Context, domain, anchorID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	versions, ok := p.anchors[domain][anchorID]
	if !ok {
		return "", anchoring.AnchorNotFound(anchorID)
	}
	if len(versions) == 0 {
		return "", nil
	}
	return versions[len(versions)-1], nil
}

// Truncate drops every entry of anchorID after the first n. Used to simulate
// lost versions in tests and by operators repairing a broken chain.
func (p *Persistence) Truncate(domain, anchorID string, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	versions, ok := p.anchors[domain][anchorID]
	if !ok || n >= len(versions) {
		return
	}
	p.anchors[domain][anchorID] = versions[:n]
}
