package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOpenAI struct {
	server *httptest.Server
	calls  atomic.Int32
	// status codes returned before a success; 0 means success
	failures []int
	dims     int

	mu       sync.Mutex
	lastBody map[string]any
}

func (f *fakeOpenAI) body() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastBody
}

func newFakeOpenAI(t *testing.T, dims int, failures ...int) *fakeOpenAI {
	t.Helper()
	f := &fakeOpenAI{failures: failures, dims: dims}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeOpenAI) handle(w http.ResponseWriter, r *http.Request) {
	n := int(f.calls.Add(1)) - 1
	w.Header().Set("Content-Type", "application/json")

	if r.URL.Path != "/v1/embeddings" {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"message":"not found","type":"invalid_request_error"}}`))
		return
	}
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	f.lastBody = body
	f.mu.Unlock()

	if n < len(f.failures) {
		w.WriteHeader(f.failures[n])
		_, _ = w.Write([]byte(`{"error":{"message":"simulated failure","type":"server_error"}}`))
		return
	}

	vec := make([]float32, f.dims)
	for i := range vec {
		vec[i] = float32(i % 7)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"model":  DefaultOpenAIModel,
		"data": []map[string]any{
			{"object": "embedding", "index": 0, "embedding": vec},
		},
		"usage": map[string]int{"prompt_tokens": 3, "total_tokens": 3},
	})
}

func newTestOpenAI(t *testing.T, f *fakeOpenAI, cache *Cache) *OpenAIProvider {
	t.Helper()
	p, err := NewOpenAIProvider("test-key", f.server.URL+"/v1", cache)
	require.NoError(t, err)
	p.retry.BaseDelay = time.Millisecond
	p.retry.MaxDelay = time.Millisecond
	return p
}

func TestOpenAIProviderEmbed(t *testing.T) {
	f := newFakeOpenAI(t, Dimension)
	p := newTestOpenAI(t, f, NewCache(10))

	v, err := p.Embed(context.Background(), "flaky integration test")
	require.NoError(t, err)
	assert.Len(t, v, Dimension)
	assert.InDelta(t, 1.0, norm(v), 1e-5)

	assert.Equal(t, DefaultOpenAIModel, f.body()["model"])
	assert.EqualValues(t, Dimension, f.body()["dimensions"])

	// Second call is served from the cache
	_, err = p.Embed(context.Background(), "flaky integration test")
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.calls.Load())
}

func TestOpenAIProviderRetriesServerErrors(t *testing.T) {
	f := newFakeOpenAI(t, Dimension, http.StatusInternalServerError, http.StatusTooManyRequests)
	p := newTestOpenAI(t, f, nil)

	_, err := p.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.EqualValues(t, 3, f.calls.Load())
}

func TestOpenAIProviderDoesNotRetryClientErrors(t *testing.T) {
	f := newFakeOpenAI(t, Dimension, http.StatusUnauthorized, http.StatusUnauthorized, http.StatusUnauthorized)
	p := newTestOpenAI(t, f, nil)

	_, err := p.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderFailed)
	assert.EqualValues(t, 1, f.calls.Load())
}

func TestOpenAIProviderDimensionMismatch(t *testing.T) {
	f := newFakeOpenAI(t, 1536)
	p := newTestOpenAI(t, f, nil)

	_, err := p.Embed(context.Background(), "text")
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.EqualValues(t, 1, f.calls.Load())
}

func TestOpenAIProviderRequiresKey(t *testing.T) {
	_, err := NewOpenAIProvider("", "", nil)
	assert.ErrorIs(t, err, ErrNoProviderEnabled)
}

func TestOpenAIProviderEmptyText(t *testing.T) {
	f := newFakeOpenAI(t, Dimension)
	p := newTestOpenAI(t, f, nil)
	_, err := p.Embed(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyText)
	assert.EqualValues(t, 0, f.calls.Load())
}
