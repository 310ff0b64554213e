package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/devmemory/internal/embedder"
	"github.com/dshills/devmemory/internal/storage"
	"github.com/dshills/devmemory/pkg/types"
)

var (
	// ErrEmbedding wraps failures of the embedding provider
	ErrEmbedding = errors.New("embedding failed")
	// ErrEmptyQuery is returned when a search has no query text
	ErrEmptyQuery = errors.New("query cannot be empty")
)

// Options configures service defaults
type Options struct {
	DefaultLimit int
	RecentHours  int
}

// Service embeds text and forwards to the storage adapter
type Service struct {
	store    storage.Adapter
	embedder embedder.Embedder
	opts     Options
}

// SaveRequest contains the fields of a record to save. A zero ID lets the
// store insert or deduplicate; a non-zero ID updates that record.
type SaveRequest struct {
	ID     int64
	Kind   types.Kind
	Title  string
	Body   string
	Status types.Status
}

// SearchRequest contains parameters for a search operation
type SearchRequest struct {
	Query string
	Kind  types.Kind
	Limit int
}

// NewService creates a new Service instance
func NewService(store storage.Adapter, emb embedder.Embedder, opts Options) *Service {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = storage.DefaultSearchLimit
	}
	if opts.RecentHours <= 0 {
		opts.RecentHours = 1
	}
	return &Service{
		store:    store,
		embedder: emb,
		opts:     opts,
	}
}

// Save validates, embeds title and body, and upserts the record
func (s *Service) Save(ctx context.Context, req SaveRequest) (*types.Record, error) {
	rec := &types.Record{
		ID:     req.ID,
		Kind:   req.Kind,
		Title:  req.Title,
		Body:   req.Body,
		Status: req.Status,
	}
	rec.Normalize()
	// Reject bad input before paying for an embedding
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	vec, err := s.embed(ctx, types.EmbeddingText(rec.Title, rec.Body))
	if err != nil {
		return nil, err
	}
	return s.store.Upsert(ctx, rec, vec)
}

// Search embeds the query and returns ranked records
func (s *Service) Search(ctx context.Context, req SearchRequest) ([]*types.Record, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, ErrEmptyQuery
	}
	if req.Kind != "" && !req.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", types.ErrInvalidKind, req.Kind)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = s.opts.DefaultLimit
	}

	vec, err := s.embed(ctx, req.Query)
	if err != nil {
		return nil, err
	}
	return s.store.Search(ctx, vec, storage.SearchOptions{Kind: req.Kind, Limit: limit})
}

// Recent returns the current project's records updated within hours; zero
// uses the configured window
func (s *Service) Recent(ctx context.Context, hours int) ([]*types.Record, error) {
	if hours <= 0 {
		hours = s.opts.RecentHours
	}
	project, err := s.store.CurrentProject(ctx)
	if err != nil {
		return nil, err
	}
	return s.store.RecentRecords(ctx, project.ID, hours)
}

func (s *Service) Get(ctx context.Context, id int64) (*types.Record, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, f storage.ListFilter) ([]*types.Record, error) {
	return s.store.List(ctx, f)
}

func (s *Service) Delete(ctx context.Context, id int64) (bool, error) {
	return s.store.Delete(ctx, id)
}

func (s *Service) Projects(ctx context.Context) ([]*types.Project, error) {
	return s.store.ListProjects(ctx)
}

func (s *Service) CurrentProject(ctx context.Context) (*types.Project, error) {
	return s.store.CurrentProject(ctx)
}

// Close releases the store and the embedder
func (s *Service) Close() error {
	return errors.Join(s.store.Close(), s.embedder.Close())
}

func (s *Service) embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	return vec, nil
}
