package bricks

import (
	"context"
	"net/url"
	"strings"

	"github.com/marmos91/dittodsu/internal/logger"
	"github.com/marmos91/dittodsu/pkg/fault"
	"github.com/marmos91/dittodsu/pkg/transport"
)

// Remote stores bricks on the bricking endpoints of a domain.
//
// Writes must reach a majority of the endpoints (quorum). Reads race the
// endpoints and accept the first brick that passes the integrity check.
type Remote struct {
	directory transport.Directory
	client    *transport.Client
}

var _ Store = (*Remote)(nil)

// NewRemote creates a remote brick store.
func NewRemote(directory transport.Directory, client *transport.Client) *Remote {
	return &Remote{directory: directory, client: client}
}

// PutBrick implements Store.
//
// Endpoint: PUT {base}/bricking/{domain}/put-brick (body = brick, response = hash)
func (r *Remote) PutBrick(ctx context.Context, domain string, data []byte) (string, error) {
	endpoints, err := r.directory.Lookup(ctx, domain, transport.ServiceBricking)
	if err != nil {
		return "", fault.Wrapf(err, "no bricking endpoints for domain %s", domain)
	}

	hash := Hash(data)
	err = transport.Quorum(ctx, endpoints, func(ctx context.Context, base string) error {
		body, err := r.client.DoPut(ctx, base+"/bricking/"+url.PathEscape(domain)+"/put-brick", data)
		if err != nil {
			return err
		}
		if got := strings.TrimSpace(string(body)); got != hash {
			return fault.Newf(fault.Unknown, "endpoint %s stored brick under %q, expected %s", base, got, hash)
		}
		return nil
	})
	if err != nil {
		return "", fault.Wrapf(err, "failed to store brick %s", hash)
	}

	logger.Debug("Stored brick %s on domain %s", hash, domain)
	return hash, nil
}

// GetBrick implements Store.
//
// Endpoint: GET {base}/bricking/{domain}/get-brick/{hash}
func (r *Remote) GetBrick(ctx context.Context, domain, hash string) ([]byte, error) {
	if !ValidHash(hash) {
		return nil, fault.Newf(fault.DataInput, "invalid brick hash %q", hash)
	}

	endpoints, err := r.directory.Lookup(ctx, domain, transport.ServiceBricking)
	if err != nil {
		return nil, fault.Wrapf(err, "no bricking endpoints for domain %s", domain)
	}

	data, err := transport.RaceFirst(ctx, endpoints, func(ctx context.Context, base string) ([]byte, error) {
		data, err := r.client.DoGet(ctx, base+"/bricking/"+url.PathEscape(domain)+"/get-brick/"+hash)
		if err != nil {
			return nil, err
		}
		if err := Verify(hash, data); err != nil {
			logger.Warn("Endpoint %s returned a corrupted brick %s", base, hash)
			return nil, err
		}
		return data, nil
	})
	if err != nil {
		return nil, fault.Wrapf(err, "failed to load brick %s", hash)
	}
	return data, nil
}
