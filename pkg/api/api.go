package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethpandaops/onboardoor/pkg/config"
	"github.com/ethpandaops/onboardoor/pkg/credentials"
	"github.com/ethpandaops/onboardoor/pkg/onboard"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
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
	svc        *onboard.Service
	tokens     *credentials.TokenFile
	users      map[string]string
	flight     singleflight.Group
	httpServer *http.Server
	wg         sync.WaitGroup
	done       chan struct{}
}

// NewServer creates a new API server. cfg.API must be set.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.Config,
	svc *onboard.Service,
) Server {
	return newServer(log, cfg.API, svc)
}

func newServer(
	log logrus.FieldLogger,
	cfg *config.APIConfig,
	svc *onboard.Service,
) *server {
	users := make(map[string]string, len(cfg.Auth.Basic.Users))
	for _, u := range cfg.Auth.Basic.Users {
		users[u.Username] = u.PasswordHash
	}

	return &server{
		log:    log.WithField("component", "api"),
		cfg:    cfg,
		svc:    svc,
		tokens: credentials.NewTokenFile(cfg.TokenFile),
		users:  users,
		done:   make(chan struct{}),
	}
}

// Start builds the router and starts the HTTP server.
func (s *server) Start(_ context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Server.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.Server.Listen).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *server) Stop() error {
	close(s.done)

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

	s.log.Info("API server stopped")

	return nil
}
