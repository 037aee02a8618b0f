package transport

import (
	"context"
	"strings"
	"sync"

	"github.com/marmos91/dittodsu/pkg/fault"
)

// Service names an endpoint family advertised for a domain.
type Service string

const (
	// ServiceAnchoring serves the /anchor/{domain}/... endpoints.
	ServiceAnchoring Service = "anchoring"

	// ServiceBricking serves /bricking/{domain}/... and /versionlessdsu/... endpoints.
	ServiceBricking Service = "bricking"
)

// Directory supplies candidate base URLs for a logical domain.
type Directory interface {
	// Lookup returns the base URLs serving service for domain.
	//
	// Returns a missing-data fault when the domain is unknown.
	Lookup(ctx context.Context, domain string, service Service) ([]string, error)
}

// StaticDirectory is a Directory backed by a fixed table, typically loaded
// from the configuration file.
//
// Thread safety:
// Safe for concurrent use.
type StaticDirectory struct {
	mu      sync.RWMutex
	domains map[string]map[Service][]string
}

// NewStaticDirectory creates an empty directory.
func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{domains: make(map[string]map[Service][]string)}
}

// Add registers base URLs for a domain service. Trailing slashes are trimmed.
func (d *StaticDirectory) Add(domain string, service Service, urls ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	services, ok := d.domains[domain]
	if !ok {
		services = make(map[Service][]string)
		d.domains[domain] = services
	}
	for _, u := range urls {
		services[service] = append(services[service], strings.TrimRight(u, "/"))
	}
}

// Lookup implements Directory.
func (d *StaticDirectory) Lookup(ctx context.Context, domain string, service Service) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	services, ok := d.domains[domain]
	if !ok {
		return nil, fault.Newf(fault.MissingData, "unknown domain %q", domain)
	}
	urls := services[service]
	if len(urls) == 0 {
		return nil, fault.Newf(fault.MissingData, "domain %q has no %s endpoints", domain, service)
	}

	out := make([]string, len(urls))
	copy(out, urls)
	return out, nil
}

// Domains returns the registered domain names.
func (d *StaticDirectory) Domains() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]string, 0, len(d.domains))
	for name := range d.domains {
		out = append(out, name)
	}
	return out
}
