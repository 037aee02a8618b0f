// Package remote provides an anchoring persistence that talks to the anchoring
// endpoints of a domain over HTTP.
//
// Endpoints (relative to each base URL of the domain):
//
//	PUT /anchor/{domain}/create-anchor/{anchorId}/{value}
//	PUT /anchor/{domain}/append-to-anchor/{anchorId}/{value}
//	GET /anchor/{domain}/get-all-versions/{anchorId}   -> JSON array
//	GET /anchor/{domain}/get-last-version/{anchorId}   -> JSON string or null
//
// Every call races the candidate endpoints: the first success wins and a
// business rejection (409, 428) ends the race.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/marmos91/dittodsu/internal/logger"
	"github.com/marmos91/dittodsu/pkg/anchoring"
	"github.com/marmos91/dittodsu/pkg/fault"
	"github.com/marmos91/dittodsu/pkg/transport"
)

// Persistence implements anchoring.Persistence against remote endpoints.
type Persistence struct {
	directory transport.Directory
	client    *transport.Client
}

var _ anchoring.Persistence = (*Persistence)(nil)

// New creates a remote persistence.
func New(directory transport.Directory, client *transport.Client) *Persistence {
	return &Persistence{directory: directory, client: client}
}

func anchorURL(base, domain, action, anchorID string, value ...string) string {
	u := base + "/anchor/" + url.PathEscape(domain) + "/" + action + "/" + url.PathEscape(anchorID)
	for _, v := range value {
		u += "/" + url.PathEscape(v)
	}
	return u
}

// race looks up the anchoring endpoints of domain and races fn across them.
func race[T any](ctx context.Context, p *Persistence, domain string, fn func(ctx context.Context, base string) (T, error)) (T, error) {
	var zero T
	endpoints, err := p.directory.Lookup(ctx, domain, transport.ServiceAnchoring)
	if err != nil {
		return zero, fault.Wrapf(err, "no anchoring endpoints for domain %s", domain)
	}
	return transport.RaceFirst(ctx, endpoints, fn)
}

// CreateAnchor implements anchoring.Persistence.
func (p *Persistence) CreateAnchor(ctx context.Context, domain, anchorID, value string) error {
	_, err := race(ctx, p, domain, func(ctx context.Context, base string) (struct{}, error) {
		_, err := p.client.DoPut(ctx, anchorURL(base, domain, "create-anchor", anchorID, value), nil)
		return struct{}{}, err
	})
	if err != nil {
		if fault.CodeOf(err) == http.StatusConflict {
			return anchoring.AnchorExists(anchorID)
		}
		return err
	}
	logger.Debug("Created remote anchor %s on domain %s", anchorID, domain)
	return nil
}

// AppendAnchor implements anchoring.Persistence.
//
// Remote 409 and 428 rejections are mapped onto ErrStaleVersion and
// ErrOutOfSync so callers can match them with errors.Is.
func (p *Persistence) AppendAnchor(ctx context.Context, domain, anchorID, value string) error {
	_, err := race(ctx, p, domain, func(ctx context.Context, base string) (struct{}, error) {
		_, err := p.client.DoPut(ctx, anchorURL(base, domain, "append-to-anchor", anchorID, value), nil)
		return struct{}{}, err
	})
	if err != nil {
		return mapAppendError(err)
	}
	logger.Debug("Appended to remote anchor %s on domain %s", anchorID, domain)
	return nil
}

func mapAppendError(err error) error {
	switch fault.CodeOf(err) {
	case http.StatusPreconditionRequired:
		if errors.Is(err, anchoring.ErrOutOfSync) {
			return err
		}
		return anchoring.OutOfSync(err.Error())
	case http.StatusConflict:
		if errors.Is(err, anchoring.ErrStaleVersion) {
			return err
		}
		return anchoring.StaleVersion(err.Error())
	}
	return err
}

// GetAllVersions implements anchoring.Persistence.
func (p *Persistence) GetAllVersions(ctx context.Context, domain, anchorID string) ([]string, error) {
	return race(ctx, p, domain, func(ctx context.Context, base string) ([]string, error) {
		body, err := p.client.DoGet(ctx, anchorURL(base, domain, "get-all-versions", anchorID))
		if err != nil {
			return nil, err
		}
		var versions []string
		if err := json.Unmarshal(body, &versions); err != nil {
			return nil, fault.Classify(fault.Unknown, err, "malformed versions response from "+base)
		}
		if versions == nil {
			versions = []string{}
		}
		return versions, nil
	})
}

// GetLastVersion implements anchoring.Persistence.
func (p *Persistence) GetLastVersion(ctx context.Context, domain, anchorID string) (string, error) {
	return race(ctx, p, domain, func(ctx context.Context, base string) (string, error) {
		body, err := p.client.DoGet(ctx, anchorURL(base, domain, "get-last-version", anchorID))
		if err != nil {
			return "", err
		}
		var last *string
		if err := json.Unmarshal(body, &last); err != nil {
			return "", fault.Classify(fault.Unknown, err, "malformed last version response from "+base)
		}
		if last == nil {
			return "", nil
		}
		return *last, nil
	})
}
