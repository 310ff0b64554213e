package embedder

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func TestCache(t *testing.T) {
	c := NewCache(2)
	c.Set("a", []float32{1, 2})

	got, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2}, got)

	// Mutating the returned slice must not touch the entry
	got[0] = 42
	again, _ := c.Get("a")
	assert.Equal(t, float32(1), again[0])

	c.Set("b", []float32{3})
	c.Set("c", []float32{4})
	assert.Equal(t, 2, c.Size())
	_, ok = c.Get("a")
	assert.False(t, ok, "oldest entry should be evicted")

	c.Clear()
	assert.Equal(t, 0, c.Size())
}

func TestNewCacheDefaultSize(t *testing.T) {
	c := NewCache(0)
	require.NotNil(t, c)
	c.Set("x", []float32{1})
	assert.Equal(t, 1, c.Size())
}

func TestComputeHash(t *testing.T) {
	assert.Equal(t, ComputeHash("hello"), ComputeHash("hello"))
	assert.NotEqual(t, ComputeHash("hello"), ComputeHash("hello "))
	assert.Len(t, ComputeHash(""), 64)
}

func TestCachedFillsOnce(t *testing.T) {
	c := NewCache(10)
	calls := 0
	fn := func() ([]float32, error) {
		calls++
		return []float32{1}, nil
	}

	_, err := cached(c, "k", fn)
	require.NoError(t, err)
	_, err = cached(c, "k", fn)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	_, err = cached(nil, "k", fn)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCachedDoesNotStoreErrors(t *testing.T) {
	c := NewCache(10)
	_, err := cached(c, "k", func() ([]float32, error) { return nil, errors.New("boom") })
	require.Error(t, err)
	assert.Equal(t, 0, c.Size())
}

func TestLocalProvider(t *testing.T) {
	p, err := NewLocalProvider(NewCache(10))
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("unit length and dimension", func(t *testing.T) {
		v, err := p.Embed(ctx, "database connection pool exhausted")
		require.NoError(t, err)
		assert.Len(t, v, Dimension)
		assert.InDelta(t, 1.0, norm(v), 1e-5)
	})

	t.Run("deterministic", func(t *testing.T) {
		a, err := p.Embed(ctx, "retry the sync loop")
		require.NoError(t, err)
		fresh, err := NewLocalProvider(nil)
		require.NoError(t, err)
		b, err := fresh.Embed(ctx, "retry the sync loop")
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("shared vocabulary is closer", func(t *testing.T) {
		base, _ := p.Embed(ctx, "login page crashes on empty password")
		near, _ := p.Embed(ctx, "login page crashes with an empty password field")
		far, _ := p.Embed(ctx, "quarterly billing export schema")
		assert.Greater(t, dot(base, near), dot(base, far))
		assert.Greater(t, dot(base, near), 0.4)
	})

	t.Run("case insensitive", func(t *testing.T) {
		a, _ := p.Embed(ctx, "Vector Index")
		b, _ := p.Embed(ctx, "vector index")
		assert.InDelta(t, 1.0, dot(a, b), 1e-5)
	})

	t.Run("punctuation only", func(t *testing.T) {
		v, err := p.Embed(ctx, "!!! ???")
		require.NoError(t, err)
		assert.InDelta(t, 1.0, norm(v), 1e-5)
	})

	t.Run("empty text", func(t *testing.T) {
		_, err := p.Embed(ctx, "   ")
		assert.ErrorIs(t, err, ErrEmptyText)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := p.Embed(cctx, "anything")
		assert.ErrorIs(t, err, context.Canceled)
	})

	assert.Equal(t, ProviderLocal, p.Provider())
	assert.Equal(t, DefaultLocalModel, p.Model())
	assert.Equal(t, Dimension, p.Dimension())
	assert.NoError(t, p.Close())
}

func TestNormalizeVector(t *testing.T) {
	v := NormalizeVector([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	zero := NormalizeVector([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, zero)
}

func TestRetryWithBackoff(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}

	t.Run("succeeds after failures", func(t *testing.T) {
		calls := 0
		got, err := retryWithBackoff(context.Background(), cfg, func() (int, error) {
			calls++
			if calls < 3 {
				return 0, errors.New("transient")
			}
			return 7, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 7, got)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up", func(t *testing.T) {
		calls := 0
		_, err := retryWithBackoff(context.Background(), cfg, func() (int, error) {
			calls++
			return 0, errors.New("still down")
		})
		require.Error(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("permanent error stops", func(t *testing.T) {
		permanent := errors.New("bad request")
		c := cfg
		c.Retryable = func(err error) bool { return !errors.Is(err, permanent) }
		calls := 0
		_, err := retryWithBackoff(context.Background(), c, func() (int, error) {
			calls++
			return 0, permanent
		})
		assert.ErrorIs(t, err, permanent)
		assert.Equal(t, 1, calls)
	})

	t.Run("zero attempts runs once", func(t *testing.T) {
		calls := 0
		_, _ = retryWithBackoff(context.Background(), RetryConfig{}, func() (int, error) {
			calls++
			return 0, errors.New("x")
		})
		assert.Equal(t, 1, calls)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := retryWithBackoff(ctx, cfg, func() (int, error) {
			return 0, errors.New("x")
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
