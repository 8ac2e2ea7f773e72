// Package api serves the report tables over a read-only HTTP API.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/buildstatsoor/pkg/config"
	"github.com/ethpandaops/buildstatsoor/pkg/sheet"
	"github.com/ethpandaops/buildstatsoor/pkg/telemetry"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.APIConfig
	store      sheet.Store
	metrics    *telemetry.Metrics
	limits     *clientLimits
	httpServer *http.Server
	wg         sync.WaitGroup
}

// NewServer creates a new API server over store. The server starts and
// stops the store with its own lifecycle. metrics may be nil.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.APIConfig,
	store sheet.Store,
	metrics *telemetry.Metrics,
) Server {
	return &server{
		log:     log.WithField("component", "api"),
		cfg:     cfg,
		store:   store,
		metrics: metrics,
	}
}

// Start opens the table store and starts the HTTP server.
func (s *server) Start(ctx context.Context) error {
	if err := s.store.Start(ctx); err != nil {
		return fmt.Errorf("starting table store: %w", err)
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", ln.Addr().String()).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server and closes the store.
func (s *server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	if s.limits != nil {
		s.limits.stop()
	}

	if err := s.store.Stop(); err != nil {
		return fmt.Errorf("stopping table store: %w", err)
	}

	s.log.Info("API server stopped")

	return nil
}
