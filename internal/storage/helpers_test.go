package storage

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dshills/devmemory/pkg/types"
)

// randomUnitVector returns a deterministic unit vector for seed
func randomUnitVector(seed int64) []float32 {
	rng := rand.New(rand.NewSource(seed))
	v := make([]float32, types.EmbeddingDimension)
	for i := range v {
		v[i] = float32(rng.NormFloat64())
	}
	return normalize(v)
}

// vectorWithSimilarity returns a unit vector whose dot product with the unit
// vector q is s, built from q and a random direction orthogonal to it
func vectorWithSimilarity(q []float32, s float64, seed int64) []float32 {
	r := randomUnitVector(seed)
	proj := dot(q, r)
	orth := make([]float64, len(q))
	var norm float64
	for i := range q {
		orth[i] = float64(r[i]) - proj*float64(q[i])
		norm += orth[i] * orth[i]
	}
	norm = math.Sqrt(norm)
	c := math.Sqrt(1 - s*s)
	out := make([]float32, len(q))
	for i := range q {
		out[i] = float32(s*float64(q[i]) + c*orth[i]/norm)
	}
	return out
}

// testClock is a settable clock
type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time { return c.t }

func (c *testClock) set(t time.Time) { c.t = t }

// backendFactory opens an uninitialised store at path
type backendFactory struct {
	name string
	open func(cfg Config) (*Store, error)
}

var backendFactories = []backendFactory{
	{name: "legacy", open: NewLegacy},
	{name: "native", open: NewNative},
}

func testConfig(t *testing.T, path, project string, clock *testClock) Config {
	t.Helper()
	cfg := Config{
		DBPath:      path,
		ProjectName: project,
		Logger:      slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug})),
	}
	if clock != nil {
		cfg.Clock = clock.now
	}
	return cfg
}

// openTestStore opens and initialises a store of the given backend in a
// temporary directory
func openTestStore(t *testing.T, f backendFactory, project string, clock *testClock) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), f.name+".db")
	return openTestStoreAt(t, f, path, project, clock)
}

func openTestStoreAt(t *testing.T, f backendFactory, path, project string, clock *testClock) *Store {
	t.Helper()
	s, err := f.open(testConfig(t, path, project, clock))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Init(context.Background()))
	return s
}

// forEachBackend runs fn once per backend as a subtest
func forEachBackend(t *testing.T, fn func(t *testing.T, f backendFactory)) {
	for _, f := range backendFactories {
		t.Run(f.name, func(t *testing.T) {
			fn(t, f)
		})
	}
}

// testWriter routes log output through t.Log
type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))
	return len(p), nil
}

func newRecord(kind types.Kind, title string) *types.Record {
	return &types.Record{Kind: kind, Title: title, Body: title + " body"}
}
