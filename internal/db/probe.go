package db

import (
	"context"
	"log/slog"
	"time"

	"github.com/AdamBeresnev/bracket-engine/internal/health"
	"github.com/jmoiron/sqlx"
)

// Probe pings the pool. silent keeps routine polling out of the logs.
func Probe(database *sqlx.DB, timeout time.Duration) health.ProbeFunc {
	return func(ctx context.Context, silent bool) bool {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if err := database.PingContext(ctx); err != nil {
			if !silent {
				slog.Warn("Datastore probe failed", "error", err)
			}
			return false
		}
		if !silent {
			slog.Debug("Datastore probe ok")
		}
		return true
	}
}
