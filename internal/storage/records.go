package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/devmemory/pkg/types"
)

// Text columns are read back as blobs: libsql converts any TEXT value that
// parses as a date into time.Time, which would rewrite a title like
// "2024-05-01". Empty text is read back as NULL, since the legacy driver
// rejects a zero-length blob column.
const (
	recordColumns = `r.id, r.project_id, CAST(NULLIF(p.name, '') AS BLOB), r.kind, CAST(NULLIF(r.title, '') AS BLOB), CAST(NULLIF(r.body, '') AS BLOB), r.status, r.created_at, r.updated_at`
	recordFrom    = `FROM records r JOIN projects p ON p.id = r.project_id`
	recordOrder   = `ORDER BY r.updated_at DESC, r.id DESC`
)

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord scans recordColumns followed by any extra destinations
func scanRecord(row rowScanner, extra ...any) (*types.Record, error) {
	var (
		rec                  types.Record
		project, title, body []byte
		kind, status         string
		createdAt, updatedAt timestamp
	)
	dest := append([]any{&rec.ID, &rec.ProjectID, &project, &kind, &title, &body, &status, &createdAt, &updatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	rec.Project = string(project)
	rec.Kind = types.Kind(kind)
	rec.Title = string(title)
	rec.Body = string(body)
	rec.Status = types.Status(status)
	rec.CreatedAt = createdAt.Time
	rec.UpdatedAt = updatedAt.Time
	return &rec, nil
}

func collectRecords(rows *sql.Rows) ([]*types.Record, error) {
	defer func() { _ = rows.Close() }()
	records := make([]*types.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func getRecord(ctx context.Context, q queryer, id int64) (*types.Record, error) {
	row := q.QueryRowContext(ctx, `SELECT `+recordColumns+` `+recordFrom+` WHERE r.id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %d: %w", id, err)
	}
	return rec, nil
}

// Get returns the record with id, or nil if there is none
func (s *Store) Get(ctx context.Context, id int64) (*types.Record, error) {
	if _, err := s.current(); err != nil {
		return nil, err
	}
	if id <= 0 {
		return nil, nil
	}
	return getRecord(ctx, s.db, id)
}

// Upsert validates and saves rec with embedding. An explicit ID updates that
// record in place. Otherwise the closest record of the same project and kind
// is overwritten when its similarity reaches DedupThreshold, and a new record
// is inserted when none does. The lookup and the write share one transaction.
func (s *Store) Upsert(ctx context.Context, rec *types.Record, embedding []float32) (*types.Record, error) {
	current, err := s.current()
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, types.ErrEmptyTitle
	}
	r := *rec
	r.Normalize()
	if err := r.Validate(); err != nil {
		return nil, err
	}
	vector, err := prepareEmbedding(embedding)
	if err != nil {
		return nil, err
	}

	unlock, err := s.lockWrites(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := formatTimestamp(s.now())
	var id int64
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if r.ID != 0 {
			id = r.ID
			return s.updateRecord(ctx, tx, &r, vector, now)
		}

		cands, err := s.backend.nearestIn(ctx, tx, vector, current.ID, r.Kind, DedupCandidates)
		if err != nil {
			return fmt.Errorf("failed to find duplicates: %w", err)
		}
		if best, ok := bestCandidate(cands); ok && best.similarity >= DedupThreshold {
			id = best.record.ID
			s.logger.Debug("dedup match", "id", id, "similarity", best.similarity)
			dup := r
			dup.ID = id
			return s.updateRecord(ctx, tx, &dup, vector, now)
		}

		id, err = s.insertRecord(ctx, tx, current.ID, &r, vector, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	saved, err := getRecord(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if saved == nil {
		return nil, fmt.Errorf("record %d: %w", id, ErrNotFound)
	}
	return saved, nil
}

func (s *Store) insertRecord(ctx context.Context, tx *sql.Tx, projectID int64, r *types.Record, vector []float32, now string) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO records (project_id, kind, title, body, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, projectID, string(r.Kind), r.Title, r.Body, string(r.Status), now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to insert record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get record id: %w", err)
	}
	if err := s.backend.setEmbedding(ctx, tx, id, vector); err != nil {
		return 0, fmt.Errorf("failed to store embedding: %w", err)
	}
	return id, nil
}

func (s *Store) updateRecord(ctx context.Context, tx *sql.Tx, r *types.Record, vector []float32, now string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE records SET kind = ?, title = ?, body = ?, status = ?, updated_at = ?
		WHERE id = ?
	`, string(r.Kind), r.Title, r.Body, string(r.Status), now, r.ID)
	if err != nil {
		return fmt.Errorf("failed to update record %d: %w", r.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update record %d: %w", r.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("record %d: %w", r.ID, ErrNotFound)
	}
	if err := s.backend.setEmbedding(ctx, tx, r.ID, vector); err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}
	return nil
}

// List returns records newest first
func (s *Store) List(ctx context.Context, f ListFilter) ([]*types.Record, error) {
	current, err := s.current()
	if err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if f.Kind != "" {
		if !f.Kind.Valid() {
			return nil, fmt.Errorf("%w: %q", types.ErrInvalidKind, f.Kind)
		}
		where = append(where, "r.kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.Status != "" {
		if !f.Status.Valid() {
			return nil, fmt.Errorf("%w: %q", types.ErrInvalidStatus, f.Status)
		}
		where = append(where, "r.status = ?")
		args = append(args, string(f.Status))
	}
	switch f.Project {
	case "", ProjectCurrent:
		where = append(where, "r.project_id = ?")
		args = append(args, current.ID)
	case ProjectAll:
	default:
		where = append(where, "p.name = ?")
		args = append(args, f.Project)
	}

	query := `SELECT ` + recordColumns + ` ` + recordFrom
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " " + recordOrder
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return collectRecords(rows)
}

// Delete removes a record and its embedding
func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	if _, err := s.current(); err != nil {
		return false, err
	}
	if id <= 0 {
		return false, nil
	}

	unlock, err := s.lockWrites(ctx)
	if err != nil {
		return false, err
	}
	defer unlock()

	var deleted bool
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.backend.deleteEmbedding(ctx, tx, id); err != nil {
			return fmt.Errorf("failed to delete embedding: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete record %d: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		deleted = n > 0
		return nil
	})
	return deleted, err
}

// RecentRecords returns records of a project updated within the trailing
// window, newest first, capped at MaxRecentRecords
func (s *Store) RecentRecords(ctx context.Context, projectID int64, hours int) ([]*types.Record, error) {
	if _, err := s.current(); err != nil {
		return nil, err
	}
	if hours <= 0 {
		hours = 1
	}
	cutoff := formatTimestamp(s.now().Add(-time.Duration(hours) * time.Hour))
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` `+recordFrom+`
		WHERE r.project_id = ? AND r.updated_at >= ? `+recordOrder+` LIMIT ?`,
		projectID, cutoff, MaxRecentRecords)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent records: %w", err)
	}
	return collectRecords(rows)
}

// Search returns the records most similar to the query embedding
func (s *Store) Search(ctx context.Context, embedding []float32, opts SearchOptions) ([]*types.Record, error) {
	current, err := s.current()
	if err != nil {
		return nil, err
	}
	if opts.Kind != "" && !opts.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidKind, opts.Kind)
	}
	query, err := prepareEmbedding(embedding)
	if err != nil {
		return nil, err
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	// A kind filter is applied inside the scan; filtering ANN neighbours
	// afterwards loses matches crowded out by other kinds.
	var cands []candidate
	if opts.Kind != "" {
		cands, err = s.backend.nearestKind(ctx, s.db, query, opts.Kind, candidateCount(limit))
	} else {
		cands, err = s.backend.nearest(ctx, s.db, query, candidateCount(limit))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	return rank(cands, current.ID, limit), nil
}
