// Package config provides configuration loading and structs for the kensa server and CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/kensa/internal/models"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Harness   HarnessConfig   `yaml:"harness"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the corpus catalogs and the replay corpus.
type StorageConfig struct {
	CatalogDir      string `yaml:"catalog_dir"`
	VectorCachePath string `yaml:"vector_cache_path"`
	LedgerPath      string `yaml:"ledger_path"`
	// WatchCatalogs reloads catalog handles when corpus files change on disk.
	WatchCatalogs *bool `yaml:"watch_catalogs"`
}

// WatchCatalogsOrDefault returns whether to watch the catalog directory; defaults to true when unset.
func (s *StorageConfig) WatchCatalogsOrDefault() bool {
	if s.WatchCatalogs != nil {
		return *s.WatchCatalogs
	}
	return true
}

// EmbeddingConfig holds the embedding provider settings used by the online fetch path.
type EmbeddingConfig struct {
	Provider         string `yaml:"provider"` // openai, mock
	Model            string `yaml:"model"`
	BaseURL          string `yaml:"base_url"`
	APIKey           string `yaml:"api_key"`
	APIKeyEnv        string `yaml:"api_key_env"`
	Dimensions       int    `yaml:"dimensions"`
	TimeoutMS        int    `yaml:"timeout_ms"`
	MaxRetries       int    `yaml:"max_retries"`
	InitialBackoffMS int    `yaml:"initial_backoff_ms"`
	MaxBackoffMS     int    `yaml:"max_backoff_ms"`
}

// Timeout returns the per-attempt fetch timeout.
func (e *EmbeddingConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutMS) * time.Millisecond
}

// InitialBackoff returns the first retry delay.
func (e *EmbeddingConfig) InitialBackoff() time.Duration {
	return time.Duration(e.InitialBackoffMS) * time.Millisecond
}

// MaxBackoff returns the retry delay ceiling.
func (e *EmbeddingConfig) MaxBackoff() time.Duration {
	return time.Duration(e.MaxBackoffMS) * time.Millisecond
}

// ResolveAPIKey returns the explicit key or, when empty, the value of APIKeyEnv.
func (e *EmbeddingConfig) ResolveAPIKey() string {
	if e.APIKey != "" {
		return e.APIKey
	}
	if e.APIKeyEnv != "" {
		return os.Getenv(e.APIKeyEnv)
	}
	return ""
}

// RetrievalConfig holds retrieval defaults and lexical scoring constants.
type RetrievalConfig struct {
	Mode           string  `yaml:"mode"`
	DefaultAlpha   float64 `yaml:"default_alpha"`
	DefaultK       int     `yaml:"default_k"`
	CandidateLimit int     `yaml:"candidate_limit"`
	BM25K1         float64 `yaml:"bm25_k1"`
	BM25B          float64 `yaml:"bm25_b"`
}

// HarnessConfig holds determinism harness settings.
type HarnessConfig struct {
	Runs int `yaml:"runs"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed, or fails validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configDir := filepath.Dir(path)
	cfg.Storage.CatalogDir = expandPath(cfg.Storage.CatalogDir, configDir)
	cfg.Storage.VectorCachePath = expandPath(cfg.Storage.VectorCachePath, configDir)
	cfg.Storage.LedgerPath = expandPath(cfg.Storage.LedgerPath, configDir)

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate rejects settings that would make retrieval ill-defined.
func (c *Config) Validate() error {
	if _, err := models.ParseMode(c.Retrieval.Mode); err != nil {
		return fmt.Errorf("retrieval.mode: %w", err)
	}
	if err := models.ValidateAlpha(c.Retrieval.DefaultAlpha); err != nil {
		return fmt.Errorf("retrieval.default_alpha: %w", err)
	}
	if c.Retrieval.BM25K1 < 0 || c.Retrieval.BM25B < 0 || c.Retrieval.BM25B > 1 {
		return fmt.Errorf("retrieval: bm25_k1 must be >= 0 and bm25_b in [0,1]")
	}
	if c.Embedding.MaxRetries < 0 {
		return fmt.Errorf("embedding.max_retries must be >= 0")
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
