// Package config loads devmemory settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dshills/devmemory/internal/embedder"
	"github.com/dshills/devmemory/internal/storage"
)

// Environment variables
const (
	EnvDBPath        = "DEVMEMORY_DB_PATH"
	EnvDBURL         = "DEVMEMORY_DB_URL"
	EnvSyncURL       = "DEVMEMORY_SYNC_URL"
	EnvAuthToken     = "DEVMEMORY_AUTH_TOKEN"
	EnvSyncInterval  = "DEVMEMORY_SYNC_INTERVAL_MS"
	EnvRecentHours   = "DEVMEMORY_RECENT_HOURS"
	EnvDefaultLimit  = "DEVMEMORY_DEFAULT_LIMIT"
	EnvLegacyDBPath  = "DEVMEMORY_LEGACY_DB_PATH"
	EnvLogLevel      = "DEVMEMORY_LOG_LEVEL"
	EnvProject       = "DEVMEMORY_PROJECT"
	DefaultSyncMs    = 60000
	DefaultRecentHrs = 1
	DefaultLimit     = 5
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all configuration for the memory system
type Config struct {
	// Store location
	DBPath       string
	DBURL        string
	LegacyDBPath string

	// Remote replica settings
	SyncURL      string
	AuthToken    string
	SyncInterval time.Duration

	// Query defaults
	RecentHours  int
	DefaultLimit int

	// Embedding settings
	EmbeddingProvider string
	OpenAIKey         string
	OpenAIBaseURL     string

	// Project overrides workspace detection
	Project  string
	LogLevel slog.Level
}

// Load reads a .env file when present, then the environment
func Load() (*Config, error) {
	_ = godotenv.Load()

	level, err := parseLevel(getEnv(EnvLogLevel, "info"))
	if err != nil {
		return nil, err
	}

	syncMs, err := getEnvInt(EnvSyncInterval, DefaultSyncMs)
	if err != nil {
		return nil, err
	}
	recentHours, err := getEnvInt(EnvRecentHours, DefaultRecentHrs)
	if err != nil {
		return nil, err
	}
	limit, err := getEnvInt(EnvDefaultLimit, DefaultLimit)
	if err != nil {
		return nil, err
	}

	dbPath := getEnv(EnvDBPath, defaultDBPath())
	cfg := &Config{
		DBPath:            dbPath,
		DBURL:             os.Getenv(EnvDBURL),
		LegacyDBPath:      getEnv(EnvLegacyDBPath, LegacyPath(dbPath)),
		SyncURL:           os.Getenv(EnvSyncURL),
		AuthToken:         os.Getenv(EnvAuthToken),
		SyncInterval:      time.Duration(syncMs) * time.Millisecond,
		RecentHours:       recentHours,
		DefaultLimit:      limit,
		EmbeddingProvider: embedder.DetectProvider(),
		OpenAIKey:         os.Getenv(embedder.EnvOpenAIAPIKey),
		OpenAIBaseURL:     os.Getenv(embedder.EnvOpenAIBaseURL),
		Project:           os.Getenv(EnvProject),
		LogLevel:          level,
	}

	return cfg, cfg.Validate()
}

// Validate checks the loaded values for consistency
func (c *Config) Validate() error {
	if c.DBPath == "" && c.DBURL == "" {
		return fmt.Errorf("%w: %s or %s is required", ErrInvalidConfig, EnvDBPath, EnvDBURL)
	}
	if c.SyncURL != "" && c.DBPath == "" {
		return fmt.Errorf("%w: %s needs a local %s for the replica", ErrInvalidConfig, EnvSyncURL, EnvDBPath)
	}
	if c.SyncInterval < 0 {
		return fmt.Errorf("%w: %s must not be negative, got %v", ErrInvalidConfig, EnvSyncInterval, c.SyncInterval)
	}
	if c.RecentHours <= 0 {
		return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, EnvRecentHours, c.RecentHours)
	}
	if c.DefaultLimit <= 0 {
		return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, EnvDefaultLimit, c.DefaultLimit)
	}
	switch c.EmbeddingProvider {
	case embedder.ProviderLocal:
	case embedder.ProviderOpenAI:
		if c.OpenAIKey == "" {
			return fmt.Errorf("%w: provider openai requires %s", ErrInvalidConfig, embedder.EnvOpenAIAPIKey)
		}
	default:
		return fmt.Errorf("%w: unknown embedding provider %q", ErrInvalidConfig, c.EmbeddingProvider)
	}
	return nil
}

// ToStorage builds the adapter configuration. The caller adds a logger and
// working directory.
func (c *Config) ToStorage() storage.Config {
	sc := storage.Config{
		SyncURL:      c.SyncURL,
		AuthToken:    c.AuthToken,
		SyncInterval: c.SyncInterval,
		ProjectName:  c.Project,
	}
	// A direct URL wins unless it only names the replica's local file
	if c.DBURL != "" && c.SyncURL == "" {
		sc.URL = c.DBURL
	} else {
		sc.DBPath = c.DBPath
	}
	return sc
}

// ToEmbedder builds the embedder configuration
func (c *Config) ToEmbedder() embedder.Config {
	return embedder.Config{
		Provider:  c.EmbeddingProvider,
		APIKey:    c.OpenAIKey,
		BaseURL:   c.OpenAIBaseURL,
		CacheSize: embedder.DefaultCacheSize,
	}
}

// LegacyPath derives the legacy store location from the primary path:
// memory.db becomes memory.legacy.db in the same directory
func LegacyPath(dbPath string) string {
	if dbPath == "" {
		return ""
	}
	ext := filepath.Ext(dbPath)
	base := strings.TrimSuffix(dbPath, ext)
	if ext == "" {
		ext = ".db"
	}
	return base + ".legacy" + ext
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".devmemory", "memory.db")
	}
	return filepath.Join(home, ".devmemory", "memory.db")
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, EnvLogLevel, err)
	}
	return level, nil
}

// Helper functions
func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer, got %q", ErrInvalidConfig, key, v)
	}
	return i, nil
}
