package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// ErrNotLegacyStore is returned when a file meant to be migrated lacks the
// vector-table schema
var ErrNotLegacyStore = errors.New("not a legacy vector-table store")

// inspectDriverName is the pure-Go driver used for read-only probes. It has
// no vec0 module, so it never touches vec_records itself.
const inspectDriverName = "sqlite"

// StoreInfo summarises a legacy store file without loading any extension
type StoreInfo struct {
	Path          string `json:"path"`
	Legacy        bool   `json:"legacy"`
	SchemaVersion int    `json:"schema_version"`
	Projects      int    `json:"projects"`
	Records       int    `json:"records"`
	// Embeddings counts rows in the vec0 rowid shadow table
	Embeddings int `json:"embeddings"`
}

// Inspect opens path read-only and reports whether it holds the legacy
// schema together with its row counts
func Inspect(ctx context.Context, path string) (*StoreInfo, error) {
	db, err := sql.Open(inspectDriverName, "file:"+filepath.ToSlash(path)+"?mode=ro")
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	tables, err := tableNames(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema of %s: %w", path, err)
	}

	info := &StoreInfo{Path: path}
	info.Legacy = tables["projects"] && tables["records"] && tables["vec_records"]
	if !info.Legacy {
		return info, nil
	}

	counts := []struct {
		table string
		dest  *int
	}{
		{"projects", &info.Projects},
		{"records", &info.Records},
		{"vec_records_rowids", &info.Embeddings},
	}
	for _, c := range counts {
		if !tables[c.table] {
			continue
		}
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", c.table, err)
		}
	}
	if tables["schema_version"] {
		var v sql.NullInt64
		if err := db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_version").Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to read schema_version: %w", err)
		}
		info.SchemaVersion = int(v.Int64)
	}
	return info, nil
}

func tableNames(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table'")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	names := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names[name] = true
	}
	return names, rows.Err()
}
