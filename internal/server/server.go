package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/uplinkhq/uplink/internal/db"
)

type Server struct {
	config   *Config
	services *Services
	server   *http.Server
	sqldb    *sqlx.DB
}

func New(config *Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	sqldb, err := db.NewSqliteDB(db.WithPath(config.DBPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	services, err := NewServices(config, sqldb)
	if err != nil {
		sqldb.Close()
		return nil, err
	}

	handler, err := SetupRoutes(config, services)
	if err != nil {
		sqldb.Close()
		return nil, err
	}

	return &Server{
		config:   config,
		services: services,
		sqldb:    sqldb,
		server: &http.Server{
			Addr:    config.HTTP.Addr,
			Handler: handler,
		},
	}, nil
}

func (s *Server) Services() *Services {
	return s.services
}

// Start runs the HTTP server and background jobs until ctx is done,
// then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	slog.Info("uplink server start", "addr", s.config.HTTP.Addr, "blob", s.config.Blob.Backend)
	defer slog.Info("uplink server stop")

	errCh := make(chan error, 1)
	go func() {
		if err := s.runHTTPServer(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	go s.runJobs(ctx)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	return s.Stop(context.Background())
}

func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := s.sqldb.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

func (s *Server) runHTTPServer() error {
	if s.config.HTTP.CertFile != "" && s.config.HTTP.KeyFile != "" {
		slog.Info("http listen tls", "addr", s.config.HTTP.Addr)
		return s.server.ListenAndServeTLS(s.config.HTTP.CertFile, s.config.HTTP.KeyFile)
	}
	slog.Info("http listen", "addr", s.config.HTTP.Addr)
	return s.server.ListenAndServe()
}
