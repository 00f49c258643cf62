// Package db persists documents, rules, forwarders, extractions and the
// review queue in PostgreSQL. Each concern gets a small store over a
// shared pgx pool.
package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoDatabase means no connection settings were supplied. The server
// treats this as degraded mode, not a startup failure.
var ErrNoDatabase = errors.New("database not configured")

// ErrNotFound is returned by Get-style lookups for absent rows.
var ErrNotFound = errors.New("not found")

// Connect builds the pool from DATABASE_URL, falling back to the
// discrete DB_* variables.
func Connect(ctx context.Context, logger *slog.Logger) (*pgxpool.Pool, error) {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		host := os.Getenv("DB_HOST")
		port := os.Getenv("DB_PORT")
		user := os.Getenv("DB_USER")
		password := os.Getenv("DB_PASSWORD")
		dbname := os.Getenv("DB_NAME")

		if host == "" || user == "" || dbname == "" {
			return nil, ErrNoDatabase
		}
		if port == "" {
			port = "5432"
		}
		databaseURL = fmt.Sprintf("postgresql://%s:%s@%s:%s/%s?sslmode=disable",
			user, password, host, port, dbname)
	}

	return ConnectURL(ctx, databaseURL, logger)
}

// ConnectURL opens and pings a pool for the given URL. Pool tuning suits
// a PgBouncer in front of the database.
func ConnectURL(ctx context.Context, databaseURL string, logger *slog.Logger) (*pgxpool.Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 1 * time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = 1 * time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("db.pool.ready",
		"max_conns", config.MaxConns,
		"min_conns", config.MinConns)
	return pool, nil
}
