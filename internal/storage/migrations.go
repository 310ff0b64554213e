package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Migration is one schema upgrade step. Statements run in order inside a
// single transaction together with the version marker.
type Migration struct {
	Version int
	Name    string
	Up      []string
	// Down is empty for steps that cannot be reversed
	Down []string
}

const schemaVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TEXT NOT NULL
)`

// validateMigrations checks that versions are positive and strictly ascending
func validateMigrations(steps []Migration) error {
	prev := 0
	for _, m := range steps {
		if m.Version <= prev {
			return fmt.Errorf("migration %d (%s) out of order after %d", m.Version, m.Name, prev)
		}
		if len(m.Up) == 0 {
			return fmt.Errorf("migration %d (%s) has no statements", m.Version, m.Name)
		}
		prev = m.Version
	}
	return nil
}

// CurrentVersion returns the highest applied version, 0 for a fresh store
func CurrentVersion(ctx context.Context, db *sql.DB) (int, error) {
	var tableName string
	err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to check schema_version table: %w", err)
	}
	return currentVersion(ctx, db)
}

func currentVersion(ctx context.Context, q queryer) (int, error) {
	var version sql.NullInt64
	if err := q.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema_version: %w", err)
	}
	return int(version.Int64), nil
}

// ApplyMigrations runs every step above the stored marker and returns how
// many ran. Each step and its marker commit together, so an interrupted run
// resumes at the first unapplied step.
func ApplyMigrations(ctx context.Context, db *sql.DB, steps []Migration) (int, error) {
	if err := validateMigrations(steps); err != nil {
		return 0, err
	}
	if _, err := db.ExecContext(ctx, schemaVersionTable); err != nil {
		return 0, fmt.Errorf("failed to create schema_version table: %w", err)
	}

	current, err := currentVersion(ctx, db)
	if err != nil {
		return 0, err
	}
	if n := len(steps); n > 0 && current > steps[n-1].Version {
		return 0, fmt.Errorf("store schema version %d is newer than supported version %d", current, steps[n-1].Version)
	}

	applied := 0
	for _, m := range steps {
		if m.Version <= current {
			continue // Already applied
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return applied, err
		}
		current = m.Version
		applied++
	}
	return applied, nil
}

func applyMigration(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration %d: %w", m.Version, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range m.Up {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply migration %d (%s): %w", m.Version, m.Name, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_version (version, name, applied_at) VALUES (?, ?, ?)",
		m.Version, m.Name, formatTimestamp(timeNow())); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
	}
	return nil
}

// RollbackMigration reverts the most recent step
func RollbackMigration(ctx context.Context, db *sql.DB, steps []Migration) error {
	current, err := CurrentVersion(ctx, db)
	if err != nil {
		return err
	}
	if current == 0 {
		return errors.New("no migrations to rollback")
	}

	var migration *Migration
	for i := range steps {
		if steps[i].Version == current {
			migration = &steps[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration %d not found", current)
	}
	if len(migration.Down) == 0 {
		return fmt.Errorf("migration %d (%s) is irreversible", current, migration.Name)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range migration.Down {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", current, err)
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM schema_version WHERE version = ?", current); err != nil {
		return fmt.Errorf("failed to remove migration record %d: %w", current, err)
	}
	return tx.Commit()
}
