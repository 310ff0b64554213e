package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	sqlitevec "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"

	"github.com/dshills/devmemory/pkg/types"
)

// LegacyDriverName is the database/sql driver of the vector-table backend
const LegacyDriverName = "sqlite3"

// legacyMigrations builds the vector-table schema. The first generation only
// knew three kinds; step 2 widens the CHECK by rebuilding the table, which
// SQLite requires for constraint changes.
var legacyMigrations = []Migration{
	{
		Version: 1,
		Name:    "base",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS projects (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL UNIQUE,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS records (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
				kind TEXT NOT NULL CHECK (kind IN ('issue', 'spec', 'arch')),
				title TEXT NOT NULL,
				body TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'resolved', 'archived')),
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS vec_records USING vec0(
				embedding float[%d] distance_metric=cosine
			)`, types.EmbeddingDimension),
		},
	},
	{
		Version: 2,
		Name:    "records_kind_update",
		Up: []string{
			`CREATE TABLE records_v2 (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
				kind TEXT NOT NULL CHECK (kind IN ('issue', 'spec', 'arch', 'update')),
				title TEXT NOT NULL,
				body TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'resolved', 'archived')),
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`,
			`INSERT INTO records_v2 (id, project_id, kind, title, body, status, created_at, updated_at)
				SELECT id, project_id, kind, title, body, status, created_at, updated_at FROM records`,
			`DROP TABLE records`,
			`ALTER TABLE records_v2 RENAME TO records`,
		},
	},
	{
		Version: 3,
		Name:    "record_indexes",
		Up: []string{
			`CREATE INDEX IF NOT EXISTS idx_records_project_kind ON records(project_id, kind)`,
			`CREATE INDEX IF NOT EXISTS idx_records_project_updated ON records(project_id, updated_at)`,
		},
		Down: []string{
			`DROP INDEX IF EXISTS idx_records_project_kind`,
			`DROP INDEX IF EXISTS idx_records_project_updated`,
		},
	},
}

// legacyDSN builds a sqlite3 DSN. Pragmas ride on the DSN so every pooled
// connection gets them.
func legacyDSN(path string, readOnly bool) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(1)")
	if readOnly {
		q.Set("mode", "ro")
	} else {
		q.Add("_pragma", "journal_mode(wal)")
		q.Set("_txlock", "immediate")
	}
	return "file:" + filepath.ToSlash(path) + "?" + q.Encode()
}

func openLegacyDB(path string, readOnly bool) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("legacy store path is required")
	}
	if !readOnly {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	db, err := sql.Open(LegacyDriverName, legacyDSN(path, readOnly))
	if err != nil {
		return nil, err
	}
	configureDB(db)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open legacy store %s: %w", path, err)
	}
	return db, nil
}

// NewLegacy opens the vector-table backend at cfg.DBPath. Call Init before
// any other operation.
func NewLegacy(cfg Config) (*Store, error) {
	db, err := openLegacyDB(cfg.DBPath, false)
	if err != nil {
		return nil, err
	}
	return newStore(db, legacyBackend{}, cfg), nil
}

// legacyBackend keeps embeddings in a vec0 side table keyed by record id.
// vec0 reports cosine distance directly.
type legacyBackend struct{}

func (legacyBackend) name() string { return "legacy" }

func (legacyBackend) migrations() []Migration { return legacyMigrations }

func (legacyBackend) nearest(ctx context.Context, q queryer, query []float32, k int) ([]candidate, error) {
	blob, err := sqlitevec.SerializeFloat32(query)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, `
		WITH knn AS (
			SELECT rowid, distance FROM vec_records
			WHERE embedding MATCH ? AND k = ?
		)
		SELECT `+recordColumns+`, knn.distance
		FROM knn
		JOIN records r ON r.id = knn.rowid
		JOIN projects p ON p.id = r.project_id
		ORDER BY knn.distance, r.id
	`, blob, k)
	if err != nil {
		return nil, err
	}
	return collectDistanceCandidates(rows)
}

func (legacyBackend) nearestIn(ctx context.Context, q queryer, query []float32, projectID int64, kind types.Kind, k int) ([]candidate, error) {
	blob, err := sqlitevec.SerializeFloat32(query)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, `
		SELECT `+recordColumns+`, vec_distance_cosine(v.embedding, ?) AS distance
		`+recordFrom+`
		JOIN vec_records v ON v.rowid = r.id
		WHERE r.project_id = ? AND r.kind = ?
		ORDER BY distance, r.id
		LIMIT ?
	`, blob, projectID, string(kind), k)
	if err != nil {
		return nil, err
	}
	return collectDistanceCandidates(rows)
}

func (legacyBackend) nearestKind(ctx context.Context, q queryer, query []float32, kind types.Kind, k int) ([]candidate, error) {
	blob, err := sqlitevec.SerializeFloat32(query)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, `
		SELECT `+recordColumns+`, vec_distance_cosine(v.embedding, ?) AS distance
		`+recordFrom+`
		JOIN vec_records v ON v.rowid = r.id
		WHERE r.kind = ?
		ORDER BY distance, r.id
		LIMIT ?
	`, blob, string(kind), k)
	if err != nil {
		return nil, err
	}
	return collectDistanceCandidates(rows)
}

// collectDistanceCandidates converts cosine distance to similarity
func collectDistanceCandidates(rows *sql.Rows) ([]candidate, error) {
	defer func() { _ = rows.Close() }()
	cands := make([]candidate, 0)
	for rows.Next() {
		var distance float64
		rec, err := scanRecord(rows, &distance)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		cands = append(cands, candidate{record: rec, similarity: clampSimilarity(1 - distance)})
	}
	return cands, rows.Err()
}

// setEmbedding replaces the side-table row. vec0 has no upsert, so the old
// row is deleted and a new one inserted in the caller's transaction.
func (b legacyBackend) setEmbedding(ctx context.Context, q queryer, id int64, vector []float32) error {
	blob, err := sqlitevec.SerializeFloat32(vector)
	if err != nil {
		return err
	}
	if err := b.deleteEmbedding(ctx, q, id); err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `INSERT INTO vec_records (rowid, embedding) VALUES (?, ?)`, id, blob)
	return err
}

func (legacyBackend) deleteEmbedding(ctx context.Context, q queryer, id int64) error {
	_, err := q.ExecContext(ctx, `DELETE FROM vec_records WHERE rowid = ?`, id)
	return err
}

func (legacyBackend) embedding(ctx context.Context, q queryer, id int64) ([]float32, error) {
	return legacyEmbedding(ctx, q, id)
}

// legacyEmbedding reads one side-table vector; nil when the record has none
func legacyEmbedding(ctx context.Context, q queryer, id int64) ([]float32, error) {
	var blob []byte
	err := q.QueryRowContext(ctx, `SELECT embedding FROM vec_records WHERE rowid = ?`, id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding %d: %w", id, err)
	}
	return deserializeVector(blob)
}
