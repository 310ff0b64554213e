package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/tursodatabase/go-libsql"

	"github.com/dshills/devmemory/pkg/types"
)

// NativeDriverName is the database/sql driver of the native column backend
const NativeDriverName = "libsql"

const nativeVectorIndex = "idx_records_embedding"

var nativeMigrations = []Migration{
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
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS records (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
				kind TEXT NOT NULL CHECK (kind IN ('issue', 'spec', 'arch', 'update')),
				title TEXT NOT NULL,
				body TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'resolved', 'archived')),
				embedding F32_BLOB(%d),
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL
			)`, types.EmbeddingDimension),
		},
		Down: []string{
			`DROP TABLE IF EXISTS records`,
			`DROP TABLE IF EXISTS projects`,
		},
	},
	{
		Version: 2,
		Name:    "record_indexes",
		Up: []string{
			`CREATE INDEX IF NOT EXISTS ` + nativeVectorIndex + ` ON records(libsql_vector_idx(embedding, 'metric=cosine'))`,
			`CREATE INDEX IF NOT EXISTS idx_records_project_kind ON records(project_id, kind)`,
			`CREATE INDEX IF NOT EXISTS idx_records_project_updated ON records(project_id, updated_at)`,
		},
		Down: []string{
			`DROP INDEX IF EXISTS ` + nativeVectorIndex,
			`DROP INDEX IF EXISTS idx_records_project_kind`,
			`DROP INDEX IF EXISTS idx_records_project_updated`,
		},
	},
}

// isRemoteURL reports whether u addresses a libsql server rather than a file
func isRemoteURL(u string) bool {
	for _, scheme := range []string{"libsql://", "https://", "http://", "wss://", "ws://"} {
		if strings.HasPrefix(u, scheme) {
			return true
		}
	}
	return false
}

// remoteDSN appends the auth token the way the libsql driver expects it
func remoteDSN(rawURL, authToken string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid store URL: %w", err)
	}
	if authToken != "" {
		q := u.Query()
		q.Set("authToken", authToken)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// localPath returns the file a config points at, or "" for a remote store
func (c Config) localPath() string {
	if c.URL != "" {
		if isRemoteURL(c.URL) {
			return ""
		}
		return strings.TrimPrefix(c.URL, "file:")
	}
	return c.DBPath
}

// openNativeDB picks between an embedded replica, a remote connection and a
// plain local file
func openNativeDB(cfg Config) (*sql.DB, error) {
	var db *sql.DB
	local := cfg.localPath()

	switch {
	case cfg.SyncURL != "":
		if local == "" {
			return nil, errors.New("embedded replica requires a local store path")
		}
		if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
		opts := []libsql.Option{}
		if cfg.AuthToken != "" {
			opts = append(opts, libsql.WithAuthToken(cfg.AuthToken))
		}
		if cfg.SyncInterval > 0 {
			opts = append(opts, libsql.WithSyncInterval(cfg.SyncInterval))
		}
		connector, err := libsql.NewEmbeddedReplicaConnector(local, cfg.SyncURL, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to open embedded replica: %w", err)
		}
		db = sql.OpenDB(connector)

	case local == "":
		dsn, err := remoteDSN(cfg.URL, cfg.AuthToken)
		if err != nil {
			return nil, err
		}
		db, err = sql.Open(NativeDriverName, dsn)
		if err != nil {
			return nil, err
		}

	default:
		if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
		var err error
		db, err = sql.Open(NativeDriverName, "file:"+local)
		if err != nil {
			return nil, err
		}
	}

	configureDB(db)
	if local != "" {
		// Enable foreign keys
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open native store: %w", err)
	}
	return db, nil
}

// NewNative opens the native column backend. Call Init before any other
// operation.
func NewNative(cfg Config) (*Store, error) {
	db, err := openNativeDB(cfg)
	if err != nil {
		return nil, err
	}
	return newStore(db, nativeBackend{}, cfg), nil
}

// nativeBackend stores the embedding as an F32_BLOB column. vector_top_k
// yields row ids only, so similarity is recomputed from the stored vector.
type nativeBackend struct{}

func (nativeBackend) name() string { return "native" }

func (nativeBackend) migrations() []Migration { return nativeMigrations }

func (nativeBackend) nearest(ctx context.Context, q queryer, query []float32, k int) ([]candidate, error) {
	if k <= 0 {
		return nil, nil
	}
	// k is inlined: vector_top_k rejects a bound neighbour count
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`
		SELECT `+recordColumns+`, r.embedding
		FROM vector_top_k('%s', vector32(?), %d) AS t
		JOIN records r ON r.rowid = t.id
		JOIN projects p ON p.id = r.project_id
	`, nativeVectorIndex, k), vectorLiteral(query))
	if err != nil {
		return nil, err
	}
	return collectVectorCandidates(rows, query)
}

func (nativeBackend) nearestIn(ctx context.Context, q queryer, query []float32, projectID int64, kind types.Kind, k int) ([]candidate, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+recordColumns+`, r.embedding
		`+recordFrom+`
		WHERE r.project_id = ? AND r.kind = ? AND r.embedding IS NOT NULL
		ORDER BY vector_distance_cos(r.embedding, vector32(?)), r.id
		LIMIT ?
	`, projectID, string(kind), vectorLiteral(query), k)
	if err != nil {
		return nil, err
	}
	return collectVectorCandidates(rows, query)
}

func (nativeBackend) nearestKind(ctx context.Context, q queryer, query []float32, kind types.Kind, k int) ([]candidate, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+recordColumns+`, r.embedding
		`+recordFrom+`
		WHERE r.kind = ? AND r.embedding IS NOT NULL
		ORDER BY vector_distance_cos(r.embedding, vector32(?)), r.id
		LIMIT ?
	`, string(kind), vectorLiteral(query), k)
	if err != nil {
		return nil, err
	}
	return collectVectorCandidates(rows, query)
}

// collectVectorCandidates decodes each stored vector and scores it against
// the query by dot product
func collectVectorCandidates(rows *sql.Rows, query []float32) ([]candidate, error) {
	defer func() { _ = rows.Close() }()
	cands := make([]candidate, 0)
	for rows.Next() {
		var blob []byte
		rec, err := scanRecord(rows, &blob)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candidate: %w", err)
		}
		if len(blob) == 0 {
			continue
		}
		vector, err := deserializeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", rec.ID, err)
		}
		if len(vector) != len(query) {
			continue // Dimension mismatch, skip
		}
		cands = append(cands, candidate{record: rec, similarity: clampSimilarity(dot(query, vector))})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortCandidates(cands)
	return cands, nil
}

func (nativeBackend) setEmbedding(ctx context.Context, q queryer, id int64, vector []float32) error {
	_, err := q.ExecContext(ctx, `UPDATE records SET embedding = vector32(?) WHERE id = ?`, vectorLiteral(vector), id)
	return err
}

// deleteEmbedding is a no-op: the vector lives on the row being deleted
func (nativeBackend) deleteEmbedding(context.Context, queryer, int64) error {
	return nil
}

func (nativeBackend) embedding(ctx context.Context, q queryer, id int64) ([]float32, error) {
	var blob []byte
	err := q.QueryRowContext(ctx, `SELECT embedding FROM records WHERE id = ?`, id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && len(blob) == 0) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding %d: %w", id, err)
	}
	return deserializeVector(blob)
}
