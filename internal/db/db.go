package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AdamBeresnev/bracket-engine/internal/config"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects with the configured driver and sizes the pool.
func Open(cfg *config.Config) (*sqlx.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.AcquireTimeout())
	defer cancel()

	database, err := sqlx.ConnectContext(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.DatabaseDriver, err)
	}

	database.SetMaxOpenConns(cfg.MaxOpenConns)
	database.SetMaxIdleConns(cfg.MaxOpenConns)
	database.SetConnMaxIdleTime(5 * time.Minute)

	slog.Info("Database connected", "driver", cfg.DatabaseDriver, "max_open_conns", cfg.MaxOpenConns)
	return database, nil
}
