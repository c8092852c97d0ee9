package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

type Migration struct {
	Version int
	Name    string
	SQL     string
}

// MigrationState pairs a migration with whether it has been applied.
type MigrationState struct {
	Migration
	Applied bool
}

type Migrator struct {
	db     *sql.DB
	files  fs.FS
	logger *slog.Logger
}

func NewMigrator(db *sql.DB, logger *slog.Logger) *Migrator {
	return &Migrator{db: db, files: migrationFiles, logger: logger}
}

// CreateMigrationsTable creates the migrations tracking table
func (m *Migrator) CreateMigrationsTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		);
	`
	_, err := m.db.ExecContext(ctx, query)
	return err
}

// GetAppliedMigrations returns the set of applied migration versions
func (m *Migrator) GetAppliedMigrations(ctx context.Context) (map[int]bool, error) {
	applied := make(map[int]bool)

	rows, err := m.db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return applied, err
	}
	defer rows.Close()

	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return applied, err
		}
		applied[version] = true
	}

	return applied, rows.Err()
}

// LoadMigrations loads migration files named like "001_create_catalog.sql"
func (m *Migrator) LoadMigrations() ([]Migration, error) {
	return loadMigrations(m.files)
}

func loadMigrations(files fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(files, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, name, ok := strings.Cut(entry.Name(), "_")
		if !ok {
			continue
		}

		var v int
		if _, err := fmt.Sscanf(version, "%d", &v); err != nil {
			continue
		}

		content, err := fs.ReadFile(files, "migrations/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", entry.Name(), err)
		}

		migrations = append(migrations, Migration{
			Version: v,
			Name:    strings.TrimSuffix(name, ".sql"),
			SQL:     string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// RunMigrations executes all pending migrations, one transaction each
func (m *Migrator) RunMigrations(ctx context.Context) error {
	if err := m.CreateMigrationsTable(ctx); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	migrations, err := m.LoadMigrations()
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}

		m.logger.Info("running migration", "version", migration.Version, "name", migration.Name)

		if err := m.apply(ctx, migration); err != nil {
			return err
		}
	}

	return nil
}

func (m *Migrator) apply(ctx context.Context, migration Migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction for migration %d: %w", migration.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
	}

	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version, name) VALUES ($1, $2)", migration.Version, migration.Name); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
	}

	return nil
}

// Status returns every known migration with its applied flag
func (m *Migrator) Status(ctx context.Context) ([]MigrationState, error) {
	if err := m.CreateMigrationsTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	migrations, err := m.LoadMigrations()
	if err != nil {
		return nil, err
	}

	states := make([]MigrationState, 0, len(migrations))
	for _, migration := range migrations {
		states = append(states, MigrationState{Migration: migration, Applied: applied[migration.Version]})
	}
	return states, nil
}

// PrintStatus writes a human readable migration table to w
func (m *Migrator) PrintStatus(ctx context.Context, w io.Writer) error {
	states, err := m.Status(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "Migration Status:")
	fmt.Fprintln(w, "================")

	for _, state := range states {
		status := "PENDING"
		if state.Applied {
			status = "APPLIED"
		}
		fmt.Fprintf(w, "%d: %s [%s]\n", state.Version, state.Name, status)
	}

	return nil
}
