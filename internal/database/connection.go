package database

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"function-ticketing-platform/internal/config"
)

type DB struct {
	*sql.DB
	logger *slog.Logger
}

// DSN builds the connection string, preferring a full URL when one is set.
func DSN(cfg config.DatabaseConfig) string {
	if cfg.URL != "" {
		return cfg.URL
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)
}

func NewConnection(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*DB, error) {
	db, err := sql.Open("postgres", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db, logger: logger}, nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}

// RunMigrations runs all pending database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	return NewMigrator(db.DB, db.logger).RunMigrations(ctx)
}

// PrintMigrationStatus writes the current migration status to w
func (db *DB) PrintMigrationStatus(ctx context.Context, w io.Writer) error {
	return NewMigrator(db.DB, db.logger).PrintStatus(ctx, w)
}
