package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dshills/devmemory/pkg/types"
)

var (
	// ErrNotFound is returned when an update names a record that doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a migration target is already present
	ErrAlreadyExists = errors.New("already exists")
	// ErrUninitialized is returned by operations called before Init
	ErrUninitialized = errors.New("storage not initialized")
	// ErrClosed is returned by operations called after Close
	ErrClosed = errors.New("storage closed")
)

// Project filter sentinels accepted by ListFilter.Project
const (
	ProjectCurrent = "current"
	ProjectAll     = "*"
)

// MaxRecentRecords caps RecentRecords
const MaxRecentRecords = 10

// Adapter is the backend-agnostic contract over a memory store
type Adapter interface {
	// Search returns records ranked by similarity to embedding
	Search(ctx context.Context, embedding []float32, opts SearchOptions) ([]*types.Record, error)
	// Upsert saves rec, updating in place when rec.ID is set or when a
	// near-duplicate exists in the same project and kind
	Upsert(ctx context.Context, rec *types.Record, embedding []float32) (*types.Record, error)
	// Get returns nil, nil when id doesn't exist
	Get(ctx context.Context, id int64) (*types.Record, error)
	List(ctx context.Context, filter ListFilter) ([]*types.Record, error)
	Delete(ctx context.Context, id int64) (bool, error)
	ListProjects(ctx context.Context) ([]*types.Project, error)
	CurrentProject(ctx context.Context) (*types.Project, error)
	RecentRecords(ctx context.Context, projectID int64, hours int) ([]*types.Record, error)
	Close() error
}

// SearchOptions narrows a search
type SearchOptions struct {
	Kind  types.Kind
	Limit int
}

// ListFilter narrows a list. Project is a name, ProjectCurrent or
// ProjectAll; empty means ProjectCurrent. Limit 0 means no limit.
type ListFilter struct {
	Kind    types.Kind
	Status  types.Status
	Project string
	Limit   int
}

// Config is the construction bag shared by both backends
type Config struct {
	// DBPath is the local store file
	DBPath string
	// URL addresses the store directly (file:, libsql://, https://)
	URL string
	// SyncURL is an optional remote primary for an embedded replica
	SyncURL string
	// AuthToken authenticates against URL or SyncURL
	AuthToken string
	// SyncInterval is the replica sync period; zero disables periodic sync
	SyncInterval time.Duration

	// WorkDir is used to resolve the project name when ProjectName is empty
	WorkDir     string
	ProjectName string

	Logger *slog.Logger
	// Clock overrides time.Now
	Clock func() time.Time
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (c Config) clock() func() time.Time {
	if c.Clock != nil {
		return c.Clock
	}
	return time.Now
}

// queryer is an interface that both *sql.DB and *sql.Tx implement
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// backend isolates what differs between the two physical schemas. Everything
// else lives on Store.
type backend interface {
	name() string
	migrations() []Migration
	// nearest runs the approximate nearest-neighbour primitive over every
	// embedded record, closest first
	nearest(ctx context.Context, q queryer, query []float32, k int) ([]candidate, error)
	// nearestIn scans the embedded records of one project and kind, closest first
	nearestIn(ctx context.Context, q queryer, query []float32, projectID int64, kind types.Kind, k int) ([]candidate, error)
	// nearestKind scans the embedded records of one kind across all
	// projects, closest first
	nearestKind(ctx context.Context, q queryer, query []float32, kind types.Kind, k int) ([]candidate, error)
	setEmbedding(ctx context.Context, q queryer, id int64, vector []float32) error
	deleteEmbedding(ctx context.Context, q queryer, id int64) error
	embedding(ctx context.Context, q queryer, id int64) ([]float32, error)
}

// Store implements Adapter over one backend
type Store struct {
	db      *sql.DB
	backend backend
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
	// writes serialises composite operations within the process
	writes *semaphore.Weighted

	mu      sync.Mutex
	project *types.Project
	closed  bool
}

var _ Adapter = (*Store)(nil)

func newStore(db *sql.DB, b backend, cfg Config) *Store {
	return &Store{
		db:      db,
		backend: b,
		cfg:     cfg,
		logger:  cfg.logger().With("backend", b.name()),
		now:     cfg.clock(),
		writes:  semaphore.NewWeighted(1),
	}
}

// configureDB applies the pool settings shared by both backends
func configureDB(db *sql.DB) {
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
}

// Backend names the physical backend
func (s *Store) Backend() string {
	return s.backend.name()
}

// Init applies pending schema migrations, then resolves the current project
// and merges any legacy bare-name project into it
func (s *Store) Init(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	applied, err := ApplyMigrations(ctx, s.db, s.backend.migrations())
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	if applied > 0 {
		s.logger.Info("schema migrated", "steps", applied)
	}

	name := s.cfg.ProjectName
	if name == "" {
		name, err = resolveProjectName(ctx, s.cfg.WorkDir)
		if err != nil {
			return fmt.Errorf("failed to resolve project name: %w", err)
		}
	}
	if _, err := s.ResolveProject(ctx, name); err != nil {
		return err
	}
	return nil
}

// CurrentProject returns the project resolved by Init
func (s *Store) CurrentProject(ctx context.Context) (*types.Project, error) {
	p, err := s.current()
	if err != nil {
		return nil, err
	}
	cp := *p
	return &cp, nil
}

func (s *Store) current() (*types.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.project == nil {
		return nil, ErrUninitialized
	}
	return s.project, nil
}

func (s *Store) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Close releases the database handle. Calling it more than once is safe.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.db.Close()
}

// lockWrites acquires the in-process write lock
func (s *Store) lockWrites(ctx context.Context) (func(), error) {
	if err := s.writes.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { s.writes.Release(1) }, nil
}

// withTx runs fn in a transaction, committing on success
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Embedding returns the stored embedding of a record, or nil when the record
// has none
func (s *Store) Embedding(ctx context.Context, id int64) ([]float32, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.backend.embedding(ctx, s.db, id)
}
