package embedder

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"net/http"
	"strings"
	"unicode"

	openai "github.com/sashabaranov/go-openai"
)

// Provider configuration
const (
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"

	// Default models
	DefaultOpenAIModel = string(openai.SmallEmbedding3)
	DefaultLocalModel  = "feature-hash-v1"

	// Dimension is the only dimension the store accepts
	Dimension = 384

	DefaultCacheSize = 10000

	// Retry configuration
	MaxRetries        = 3
	InitialBackoffMs  = 100
	MaxBackoffMs      = 5000
	BackoffMultiplier = 2.0
)

// OpenAIProvider implements Embedder with the OpenAI embeddings API, asking
// for Dimension components directly
type OpenAIProvider struct {
	client *openai.Client
	model  string
	cache  *Cache
	retry  RetryConfig
}

// NewOpenAIProvider creates an OpenAI embedder. baseURL overrides the API
// endpoint for compatible servers; empty uses the default.
func NewOpenAIProvider(apiKey, baseURL string, cache *Cache) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoProviderEnabled, EnvOpenAIAPIKey)
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	retry := DefaultRetryConfig()
	retry.Retryable = isRetryable
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
		model:  DefaultOpenAIModel,
		cache:  cache,
		retry:  retry,
	}, nil
}

func (o *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := validateText(text); err != nil {
		return nil, err
	}
	return cached(o.cache, cacheKey(ProviderOpenAI, o.model, text), func() ([]float32, error) {
		v, err := retryWithBackoff(ctx, o.retry, func() ([]float32, error) {
			return o.callAPI(ctx, text)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrProviderFailed, err)
		}
		return v, nil
	})
}

func (o *OpenAIProvider) callAPI(ctx context.Context, text string) ([]float32, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(o.model),
		Dimensions: Dimension,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("no embeddings returned")
	}
	v := resp.Data[0].Embedding
	if len(v) != Dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), Dimension)
	}
	return NormalizeVector(v), nil
}

// isRetryable retries rate limits, server errors and transport failures but
// not client errors such as a bad key
func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return !errors.Is(err, ErrDimensionMismatch)
}

func (o *OpenAIProvider) Dimension() int {
	return Dimension
}

func (o *OpenAIProvider) Provider() string {
	return ProviderOpenAI
}

func (o *OpenAIProvider) Model() string {
	return o.model
}

func (o *OpenAIProvider) Close() error {
	return nil
}

// LocalProvider embeds text offline by hashing word and character trigram
// features into Dimension signed buckets. Texts sharing vocabulary land
// close together; it is not a semantic model.
type LocalProvider struct {
	model string
	cache *Cache
}

// NewLocalProvider creates a new local embedder
func NewLocalProvider(cache *Cache) (*LocalProvider, error) {
	return &LocalProvider{
		model: DefaultLocalModel,
		cache: cache,
	}, nil
}

func (l *LocalProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := validateText(text); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return cached(l.cache, cacheKey(ProviderLocal, l.model, text), func() ([]float32, error) {
		return featureHash(text), nil
	})
}

// featureHash builds the local embedding
func featureHash(text string) []float32 {
	vector := make([]float32, Dimension)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		addFeature(vector, "w:"+w, 1.0)
		padded := []rune("#" + w + "#")
		for i := 0; i+3 <= len(padded); i++ {
			addFeature(vector, "t:"+string(padded[i:i+3]), 0.5)
		}
	}

	if isZero(vector) {
		// No word characters at all: fall back to the raw bytes
		sum := sha256.Sum256([]byte(text))
		for i := range vector {
			vector[i] = float32(sum[i%len(sum)])/255.0 - 0.5
		}
	}
	return NormalizeVector(vector)
}

func addFeature(vector []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	bucket := sum % uint64(len(vector))
	if sum>>63 == 1 {
		weight = -weight
	}
	vector[bucket] += weight
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

func (l *LocalProvider) Dimension() int {
	return Dimension
}

func (l *LocalProvider) Provider() string {
	return ProviderLocal
}

func (l *LocalProvider) Model() string {
	return l.model
}

func (l *LocalProvider) Close() error {
	return nil
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}

	if sum == 0 {
		return v
	}

	norm := math.Sqrt(sum)
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = float32(float64(val) / norm)
	}

	return result
}
