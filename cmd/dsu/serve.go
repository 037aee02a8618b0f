package main

import (
	"context"
	"fmt"

	"github.com/marmos91/dittodsu/internal/logger"
)

// runServe exposes the runtime's local backends over HTTP and, when
// enabled, the Prometheus metrics server. It blocks until ctx is cancelled
// or a server fails.
func runServe(ctx context.Context, e *env, args []string) error {
	if _, err := parseArgs("serve", args, 0, 0, nil); err != nil {
		return err
	}

	cfg := e.cfg
	logger.Info("dittodsu - Data Storage Unit server")
	logger.Info("Anchoring: %s, bricks: %s, versionless: %s",
		cfg.Anchoring.Type, cfg.Bricks.Type, cfg.Versionless.Type)
	if cfg.Anchoring.Type == "remote" || cfg.Bricks.Type == "remote" || cfg.Versionless.Type == "remote" {
		logger.Warn("Serving remote backends proxies every request to another node")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Start metrics server if enabled
	metricsDone := make(chan error, 1)
	if srv := e.rt.Metrics.Server; srv != nil {
		go func() {
			metricsDone <- srv.Start(ctx)
		}()
	}

	srv := e.rt.NewServer(cfg)
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Start(ctx)
	}()

	logger.Info("Server is running on port %d. Press Ctrl+C to stop.", srv.Port())

	select {
	case err := <-serverDone:
		cancel()
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("Server stopped")
		return nil

	case err := <-metricsDone:
		cancel()
		<-serverDone
		if err != nil {
			return fmt.Errorf("metrics server error: %w", err)
		}
		return nil
	}
}
