package server

import (
	"context"
	"log/slog"
	"time"
)

const (
	expirySweepInterval = 15 * time.Minute
	orphanGCInterval    = time.Hour
)

// runJobs drives the periodic maintenance loops: marking stale
// sessions expired and collecting chunk objects orphaned by expired or
// cancelled sessions.
func (s *Server) runJobs(ctx context.Context) {
	expiryTicker := time.NewTicker(expirySweepInterval)
	defer expiryTicker.Stop()

	gcTicker := time.NewTicker(orphanGCInterval)
	defer gcTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-expiryTicker.C:
			n, err := s.services.Upload.ExpireStaleSessions(ctx)
			if err != nil {
				slog.Error("expiry sweep", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("expiry sweep", "expired", n)
			}

		case <-gcTicker.C:
			if err := s.services.Upload.CollectOrphanChunks(ctx); err != nil {
				slog.Error("orphan chunk gc", "error", err)
			}
		}
	}
}
