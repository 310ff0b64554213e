package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/devmemory/internal/embedder"
	"github.com/dshills/devmemory/internal/storage"
	"github.com/dshills/devmemory/pkg/types"
)

// fakeAdapter records the calls the service makes
type fakeAdapter struct {
	upserted    *types.Record
	upsertVec   []float32
	searchVec   []float32
	searchOpts  storage.SearchOptions
	recentHours int
	recentProj  int64
	closed      bool
	currentErr  error
}

func (f *fakeAdapter) Search(_ context.Context, v []float32, opts storage.SearchOptions) ([]*types.Record, error) {
	f.searchVec = v
	f.searchOpts = opts
	return []*types.Record{{ID: 1}}, nil
}

func (f *fakeAdapter) Upsert(_ context.Context, rec *types.Record, v []float32) (*types.Record, error) {
	f.upserted = rec
	f.upsertVec = v
	out := *rec
	if out.ID == 0 {
		out.ID = 42
	}
	return &out, nil
}

func (f *fakeAdapter) Get(_ context.Context, id int64) (*types.Record, error) {
	if id == 7 {
		return &types.Record{ID: 7}, nil
	}
	return nil, nil
}

func (f *fakeAdapter) List(_ context.Context, _ storage.ListFilter) ([]*types.Record, error) {
	return nil, nil
}

func (f *fakeAdapter) Delete(_ context.Context, id int64) (bool, error) {
	return id == 7, nil
}

func (f *fakeAdapter) ListProjects(_ context.Context) ([]*types.Project, error) {
	return []*types.Project{{ID: 3, Name: "acme/api"}}, nil
}

func (f *fakeAdapter) CurrentProject(_ context.Context) (*types.Project, error) {
	if f.currentErr != nil {
		return nil, f.currentErr
	}
	return &types.Project{ID: 3, Name: "acme/api"}, nil
}

func (f *fakeAdapter) RecentRecords(_ context.Context, projectID int64, hours int) ([]*types.Record, error) {
	f.recentProj = projectID
	f.recentHours = hours
	return nil, nil
}

func (f *fakeAdapter) Close() error {
	f.closed = true
	return nil
}

// failingEmbedder always fails
type failingEmbedder struct {
	embedder.Embedder
	calls int
}

func (f *failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	f.calls++
	return nil, errors.New("provider down")
}

func newTestService(t *testing.T) (*Service, *fakeAdapter, embedder.Embedder) {
	t.Helper()
	emb, err := embedder.NewLocalProvider(nil)
	require.NoError(t, err)
	store := &fakeAdapter{}
	return NewService(store, emb, Options{DefaultLimit: 4, RecentHours: 2}), store, emb
}

func TestSaveEmbedsTitleAndBody(t *testing.T) {
	svc, store, emb := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Save(ctx, SaveRequest{Kind: types.KindIssue, Title: "  Flaky test ", Body: "times out"})
	require.NoError(t, err)
	assert.Equal(t, int64(42), rec.ID)
	assert.Equal(t, "Flaky test", store.upserted.Title)
	assert.Equal(t, types.StatusOpen, store.upserted.Status)

	want, err := emb.Embed(ctx, "Flaky test\n\ntimes out")
	require.NoError(t, err)
	assert.Equal(t, want, store.upsertVec)
}

func TestSaveValidatesBeforeEmbedding(t *testing.T) {
	store := &fakeAdapter{}
	emb := &failingEmbedder{}
	svc := NewService(store, emb, Options{})

	_, err := svc.Save(context.Background(), SaveRequest{Kind: "bug", Title: "x"})
	assert.ErrorIs(t, err, types.ErrInvalidKind)
	_, err = svc.Save(context.Background(), SaveRequest{Kind: types.KindSpec, Title: " "})
	assert.ErrorIs(t, err, types.ErrEmptyTitle)
	_, err = svc.Save(context.Background(), SaveRequest{Kind: types.KindSpec, Title: "x", Status: "done"})
	assert.ErrorIs(t, err, types.ErrInvalidStatus)

	assert.Zero(t, emb.calls)
	assert.Nil(t, store.upserted)
}

func TestSaveEmbeddingFailure(t *testing.T) {
	store := &fakeAdapter{}
	svc := NewService(store, &failingEmbedder{}, Options{})

	_, err := svc.Save(context.Background(), SaveRequest{Kind: types.KindArch, Title: "x"})
	assert.ErrorIs(t, err, ErrEmbedding)
	assert.Nil(t, store.upserted)
}

func TestSaveWithID(t *testing.T) {
	svc, store, _ := newTestService(t)
	rec, err := svc.Save(context.Background(), SaveRequest{ID: 9, Kind: types.KindUpdate, Title: "x", Status: types.StatusResolved})
	require.NoError(t, err)
	assert.Equal(t, int64(9), rec.ID)
	assert.Equal(t, int64(9), store.upserted.ID)
}

func TestSearch(t *testing.T) {
	svc, store, emb := newTestService(t)
	ctx := context.Background()

	_, err := svc.Search(ctx, SearchRequest{Query: "sync loop", Kind: types.KindIssue})
	require.NoError(t, err)
	assert.Equal(t, 4, store.searchOpts.Limit, "default limit applies")
	assert.Equal(t, types.KindIssue, store.searchOpts.Kind)
	want, _ := emb.Embed(ctx, "sync loop")
	assert.Equal(t, want, store.searchVec)

	_, err = svc.Search(ctx, SearchRequest{Query: "sync loop", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, store.searchOpts.Limit)

	_, err = svc.Search(ctx, SearchRequest{Query: "  "})
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = svc.Search(ctx, SearchRequest{Query: "q", Kind: "note"})
	assert.ErrorIs(t, err, types.ErrInvalidKind)
}

func TestRecent(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), store.recentProj)
	assert.Equal(t, 2, store.recentHours)

	_, err = svc.Recent(ctx, 12)
	require.NoError(t, err)
	assert.Equal(t, 12, store.recentHours)

	store.currentErr = storage.ErrUninitialized
	_, err = svc.Recent(ctx, 1)
	assert.ErrorIs(t, err, storage.ErrUninitialized)
}

func TestPassThroughs(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	rec, err := svc.Get(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec.ID)
	rec, err = svc.Get(ctx, 8)
	require.NoError(t, err)
	assert.Nil(t, rec)

	ok, err := svc.Delete(ctx, 7)
	require.NoError(t, err)
	assert.True(t, ok)

	projects, err := svc.Projects(ctx)
	require.NoError(t, err)
	assert.Len(t, projects, 1)

	require.NoError(t, svc.Close())
	assert.True(t, store.closed)
}
