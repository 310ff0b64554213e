package embedder

import (
	"fmt"
	"os"
	"strings"
)

// Environment variables read by NewFromEnv
const (
	EnvProvider      = "DEVMEMORY_EMBEDDING_PROVIDER"
	EnvOpenAIAPIKey  = "OPENAI_API_KEY"
	EnvOpenAIBaseURL = "OPENAI_BASE_URL"
)

// Config holds embedder configuration
type Config struct {
	Provider  string
	APIKey    string
	BaseURL   string
	CacheSize int
}

// NewFromEnv creates an embedder based on environment variables.
// DEVMEMORY_EMBEDDING_PROVIDER picks the provider explicitly; otherwise
// OPENAI_API_KEY selects OpenAI and its absence selects the local provider.
func NewFromEnv() (Embedder, error) {
	return New(Config{
		Provider:  DetectProvider(),
		APIKey:    os.Getenv(EnvOpenAIAPIKey),
		BaseURL:   os.Getenv(EnvOpenAIBaseURL),
		CacheSize: DefaultCacheSize,
	})
}

// New creates an embedder with explicit configuration
func New(cfg Config) (Embedder, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI:
		p, err := NewOpenAIProvider(cfg.APIKey, cfg.BaseURL, cache)
		if err != nil {
			return nil, err
		}
		return p, nil
	case ProviderLocal, "":
		p, err := NewLocalProvider(cache)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// DetectProvider returns the provider that would be used based on current environment
func DetectProvider() string {
	provider := os.Getenv(EnvProvider)
	if provider != "" {
		return strings.ToLower(provider)
	}
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}
	return ProviderLocal
}
