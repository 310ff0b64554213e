package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// ErrMigrationFailed wraps any failure of the legacy to native conversion
var ErrMigrationFailed = errors.New("legacy store migration failed")

// tempSuffix marks a native store that is still being written
const tempSuffix = ".migrating"

// MigrationStats counts what a conversion copied
type MigrationStats struct {
	Projects   int `json:"projects"`
	Records    int `json:"records"`
	Embeddings int `json:"embeddings"`
}

// Orphaned records get a literal NULL rather than vector32(NULL)
const (
	copyRecordNoVector = `
		INSERT INTO records (id, project_id, kind, title, body, status, embedding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL, ?, ?)`
	copyRecordWithVector = `
		INSERT INTO records (id, project_id, kind, title, body, status, embedding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, vector32(?), ?, ?)`
)

type legacyRecordRow struct {
	id                   int64
	projectID            int64
	kind, title, body    []byte
	status               []byte
	createdAt, updatedAt []byte
}

// MigrateLegacyToNative copies every project and record of the legacy store
// at legacyPath into a new native store at nativePath, keeping ids,
// timestamps and embeddings. The source is opened read-only. The target is
// written under a temporary name and renamed into place after commit; on any
// failure the temporary files are removed so a retry starts clean.
func MigrateLegacyToNative(ctx context.Context, legacyPath, nativePath string, logger *slog.Logger) (*MigrationStats, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if _, err := os.Stat(nativePath); err == nil {
		return nil, fmt.Errorf("%w: native store %s: %w", ErrMigrationFailed, nativePath, ErrAlreadyExists)
	}

	tmpPath := nativePath + tempSuffix
	stats, err := convert(ctx, legacyPath, tmpPath, logger)
	if err == nil {
		err = os.Rename(tmpPath, nativePath)
	}
	if err != nil {
		removeStoreFiles(tmpPath)
		return nil, fmt.Errorf("%w: %w (legacy store %s is untouched; fix the cause and restart to retry)",
			ErrMigrationFailed, err, legacyPath)
	}
	logger.Info("migrated legacy store",
		"from", legacyPath, "to", nativePath,
		"projects", stats.Projects, "records", stats.Records, "embeddings", stats.Embeddings)
	return stats, nil
}

func convert(ctx context.Context, legacyPath, tmpPath string, logger *slog.Logger) (*MigrationStats, error) {
	removeStoreFiles(tmpPath)

	src, err := openLegacyDB(legacyPath, true)
	if err != nil {
		return nil, err
	}
	defer func() { _ = src.Close() }()

	dst, err := openNativeDB(Config{DBPath: tmpPath})
	if err != nil {
		return nil, err
	}
	// The target must be closed before rename, so close explicitly on success
	closed := false
	defer func() {
		if !closed {
			_ = dst.Close()
		}
	}()

	// Stage 1: schema
	if _, err := ApplyMigrations(ctx, dst, nativeMigrations); err != nil {
		return nil, fmt.Errorf("failed to create native schema: %w", err)
	}

	stats := &MigrationStats{}
	tx, err := dst.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// Stage 2: projects, verbatim
	if err := copyProjects(ctx, src, tx, stats); err != nil {
		return nil, err
	}

	// Stage 3: records and their embeddings
	records, err := readLegacyRecords(ctx, src)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		vector, err := legacyEmbedding(ctx, src, r.id)
		if err != nil {
			return nil, err
		}
		insert := copyRecordNoVector
		args := []any{r.id, r.projectID, string(r.kind), string(r.title), string(r.body), string(r.status)}
		if vector != nil {
			insert = copyRecordWithVector
			args = append(args, vectorLiteral(vector))
			stats.Embeddings++
		} else {
			logger.Debug("record has no embedding", "id", r.id)
		}
		args = append(args, string(r.createdAt), string(r.updatedAt))
		if _, err := tx.ExecContext(ctx, insert, args...); err != nil {
			return nil, fmt.Errorf("failed to copy record %d: %w", r.id, err)
		}
		stats.Records++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit migration: %w", err)
	}
	closed = true
	if err := dst.Close(); err != nil {
		return nil, fmt.Errorf("failed to close native store: %w", err)
	}
	return stats, nil
}

func copyProjects(ctx context.Context, src *sql.DB, tx *sql.Tx, stats *MigrationStats) error {
	rows, err := src.QueryContext(ctx, `
		SELECT id, CAST(NULLIF(name, '') AS BLOB), CAST(NULLIF(created_at, '') AS BLOB), CAST(NULLIF(updated_at, '') AS BLOB)
		FROM projects ORDER BY id
	`)
	if err != nil {
		return fmt.Errorf("failed to read projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			id                         int64
			name, createdAt, updatedAt []byte
		)
		if err := rows.Scan(&id, &name, &createdAt, &updatedAt); err != nil {
			return fmt.Errorf("failed to scan project: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO projects (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			id, string(name), string(createdAt), string(updatedAt)); err != nil {
			return fmt.Errorf("failed to copy project %d: %w", id, err)
		}
		stats.Projects++
	}
	return rows.Err()
}

// readLegacyRecords loads every record row before any embedding lookup, so
// only one statement is open at a time on the single source connection
func readLegacyRecords(ctx context.Context, src *sql.DB) ([]legacyRecordRow, error) {
	rows, err := src.QueryContext(ctx, `
		SELECT id, project_id, CAST(NULLIF(kind, '') AS BLOB), CAST(NULLIF(title, '') AS BLOB), CAST(NULLIF(body, '') AS BLOB),
			CAST(NULLIF(status, '') AS BLOB), CAST(NULLIF(created_at, '') AS BLOB), CAST(NULLIF(updated_at, '') AS BLOB)
		FROM records ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []legacyRecordRow
	for rows.Next() {
		var r legacyRecordRow
		if err := rows.Scan(&r.id, &r.projectID, &r.kind, &r.title, &r.body, &r.status, &r.createdAt, &r.updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// removeStoreFiles deletes a store file and its journal siblings
func removeStoreFiles(path string) {
	for _, suffix := range []string{"", "-wal", "-shm", "-journal"} {
		_ = os.Remove(path + suffix)
	}
}
