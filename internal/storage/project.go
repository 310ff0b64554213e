package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/devmemory/internal/workspace"
	"github.com/dshills/devmemory/pkg/types"
)

// resolveProjectName derives the project name for a working directory
var resolveProjectName = workspace.ProjectName

// ResolveProject upserts the project called name, makes it current and, when
// name is namespaced (org/repo), folds a distinct project named after the
// bare repository into it. The upsert and the merge commit together.
func (s *Store) ResolveProject(ctx context.Context, name string) (*types.Project, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("project name cannot be empty")
	}

	unlock, err := s.lockWrites(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var project *types.Project
	now := formatTimestamp(s.now())
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projects (name, created_at, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET updated_at = excluded.updated_at
		`, name, now, now); err != nil {
			return fmt.Errorf("failed to upsert project %q: %w", name, err)
		}

		p, err := getProjectByName(ctx, tx, name)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("project %q: %w", name, ErrNotFound)
		}
		project = p

		bare, ok := bareRepoName(name)
		if !ok {
			return nil
		}
		return s.mergeLegacyProject(ctx, tx, bare, p)
	})
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.project = project
	s.mu.Unlock()

	cp := *project
	return &cp, nil
}

// bareRepoName returns the repo half of an "org/repo" name. Paths, which
// are used as names outside a git repository, never qualify.
func bareRepoName(name string) (string, bool) {
	if strings.ContainsAny(name, `\:`) {
		return "", false
	}
	org, repo, ok := strings.Cut(name, "/")
	if !ok || org == "" || repo == "" || strings.Contains(repo, "/") {
		return "", false
	}
	return repo, true
}

// mergeLegacyProject moves every record of the project called bare into
// target and deletes it
func (s *Store) mergeLegacyProject(ctx context.Context, tx *sql.Tx, bare string, target *types.Project) error {
	legacy, err := getProjectByName(ctx, tx, bare)
	if err != nil {
		return err
	}
	if legacy == nil || legacy.ID == target.ID {
		return nil
	}

	res, err := tx.ExecContext(ctx, `UPDATE records SET project_id = ? WHERE project_id = ?`, target.ID, legacy.ID)
	if err != nil {
		return fmt.Errorf("failed to move records from project %q: %w", bare, err)
	}
	moved, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, legacy.ID); err != nil {
		return fmt.Errorf("failed to delete project %q: %w", bare, err)
	}
	s.logger.Info("merged legacy project", "from", bare, "into", target.Name, "records", moved)
	return nil
}

func getProjectByName(ctx context.Context, q queryer, name string) (*types.Project, error) {
	var (
		p                    types.Project
		rawName              []byte
		createdAt, updatedAt timestamp
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, CAST(NULLIF(name, '') AS BLOB), created_at, updated_at FROM projects WHERE name = ?
	`, name).Scan(&p.ID, &rawName, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project %q: %w", name, err)
	}
	p.Name = string(rawName)
	p.CreatedAt = createdAt.Time
	p.UpdatedAt = updatedAt.Time
	return &p, nil
}

// ListProjects returns every project ordered by name, with record counts
func (s *Store) ListProjects(ctx context.Context) ([]*types.Project, error) {
	if _, err := s.current(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, CAST(NULLIF(p.name, '') AS BLOB), p.created_at, p.updated_at, COUNT(r.id)
		FROM projects p LEFT JOIN records r ON r.project_id = p.id
		GROUP BY p.id
		ORDER BY p.name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	projects := make([]*types.Project, 0)
	for rows.Next() {
		var (
			p                    types.Project
			rawName              []byte
			createdAt, updatedAt timestamp
		)
		if err := rows.Scan(&p.ID, &rawName, &createdAt, &updatedAt, &p.RecordCount); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		p.Name = string(rawName)
		p.CreatedAt = createdAt.Time
		p.UpdatedAt = updatedAt.Time
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}
