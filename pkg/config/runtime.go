package config

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/marmos91/dittodsu/internal/logger"
	"github.com/marmos91/dittodsu/pkg/anchoring"
	"github.com/marmos91/dittodsu/pkg/bricks"
	"github.com/marmos91/dittodsu/pkg/resolver"
	"github.com/marmos91/dittodsu/pkg/server"
	"github.com/marmos91/dittodsu/pkg/transport"
	"github.com/marmos91/dittodsu/pkg/versionless"
)

// Runtime holds every component wired from a configuration.
type Runtime struct {
	// Directory lists the endpoints of each configured domain
	Directory *transport.StaticDirectory

	// Client is the HTTP client shared by remote backends
	Client *transport.Client

	// Persistence stores anchor version lists
	Persistence anchoring.Persistence

	// Anchoring enforces the chain rules on top of Persistence
	Anchoring *anchoring.Behaviour

	// Bricks and Blobs store unit content
	Bricks bricks.Store
	Blobs  versionless.Store

	// Resolver creates and loads storage units
	Resolver *resolver.Resolver

	// Metrics holds the collectors (all nil when disabled)
	Metrics *MetricsResult

	closers []io.Closer
}

// Build wires a Runtime from cfg.
//
// This function orchestrates the complete initialization process:
//  1. Initializes metrics
//  2. Builds the domain directory and the transport client
//  3. Creates the anchoring persistence and behaviour
//  4. Creates the brick and versionless stores
//  5. Creates the resolver
//
// Call Close to release persistent backends.
func Build(ctx context.Context, cfg *Config) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is nil")
	}
	logger.Debug("Building runtime from configuration")

	rt := &Runtime{Metrics: InitializeMetrics(cfg)}

	// Step 1: Directory and transport
	rt.Directory = BuildDirectory(cfg.Domains)
	rt.Client = transport.NewClient(transport.Config{
		Timeout:           cfg.Transport.Timeout,
		RequestsPerSecond: cfg.Transport.RequestsPerSecond,
		Burst:             cfg.Transport.Burst,
	}, rt.Metrics.Transport)
	remote := RemoteDeps{Directory: rt.Directory, Client: rt.Client}

	// Step 2: Anchoring
	persistence, err := CreateAnchoringPersistence(ctx, &cfg.Anchoring, remote)
	if err != nil {
		return nil, fmt.Errorf("failed to create anchoring persistence: %w", err)
	}
	rt.Persistence = persistence
	if closer, ok := persistence.(io.Closer); ok {
		rt.closers = append(rt.closers, closer)
	}

	trust := anchoring.TrustLevelOne
	if cfg.Anchoring.VerifyHistory {
		trust = anchoring.TrustLevelZero
	}
	rt.Anchoring = anchoring.New(persistence, anchoring.Options{
		TrustLevel: anchoring.Level(trust),
		Metrics:    rt.Metrics.Anchoring,
	})
	logger.Debug("Anchoring persistence %q ready (trust level %d)", cfg.Anchoring.Type, trust)

	// Step 3: Content stores
	rt.Bricks, err = CreateBrickStore(ctx, &cfg.Bricks, remote, rt.Metrics.Store)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.Blobs, err = CreateBlobStore(ctx, &cfg.Versionless, remote, rt.Metrics.Store)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	logger.Debug("Brick store %q and versionless store %q ready", cfg.Bricks.Type, cfg.Versionless.Type)

	// Step 4: Resolver
	cacheTTL := cfg.Cache.TTL
	if !cfg.Cache.Enabled {
		cacheTTL = -1
	}
	rt.Resolver = resolver.New(resolver.Options{
		Anchoring: rt.Anchoring,
		Bricks:    rt.Bricks,
		Blobs:     rt.Blobs,
		CacheTTL:  cacheTTL,
		Metrics:   rt.Metrics.Resolver,
	})

	return rt, nil
}

// BuildDirectory creates a static directory from the configured domains.
func BuildDirectory(domains []DomainConfig) *transport.StaticDirectory {
	dir := transport.NewStaticDirectory()
	for _, d := range domains {
		if len(d.Anchoring) > 0 {
			dir.Add(d.Name, transport.ServiceAnchoring, d.Anchoring...)
		}
		if len(d.Bricking) > 0 {
			dir.Add(d.Name, transport.ServiceBricking, d.Bricking...)
		}
	}
	return dir
}

// NewServer creates the endpoint server over the runtime's backends.
func (rt *Runtime) NewServer(cfg *Config) *server.Server {
	return server.New(server.Config{
		Port:              cfg.Server.Port,
		VersionlessDomain: cfg.Server.VersionlessDomain,
		MaxBodySize:       cfg.Server.MaxBodySize,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
	}, server.Backends{
		Anchors: rt.Persistence,
		Bricks:  rt.Bricks,
		Blobs:   rt.Blobs,
	}, rt.Metrics.Endpoint)
}

// Close releases persistent backends.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
