package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  catalog_dir: "catalogs"
retrieval:
  mode: online
  default_alpha: 0.7
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.CatalogDir == "" {
		t.Error("catalog_dir should be set")
	}
	if cfg.Retrieval.Mode != "online" || cfg.Retrieval.DefaultAlpha != 0.7 {
		t.Errorf("retrieval: %+v", cfg.Retrieval)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
storage:
  catalog_dir: "./data/catalogs"
  vector_cache_path: "./data/replay/vectors.kvec"
  ledger_path: "/var/tmp/ledger.db"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "data", "catalogs"); cfg.Storage.CatalogDir != want {
		t.Errorf("catalog_dir = %s, want %s", cfg.Storage.CatalogDir, want)
	}
	if want := filepath.Join(dir, "data", "replay", "vectors.kvec"); cfg.Storage.VectorCachePath != want {
		t.Errorf("vector_cache_path = %s, want %s", cfg.Storage.VectorCachePath, want)
	}
	if cfg.Storage.LedgerPath != "/var/tmp/ledger.db" {
		t.Errorf("absolute ledger_path should be unchanged, got %s", cfg.Storage.LedgerPath)
	}
}

func TestLoad_rejectsBadMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("retrieval:\n  mode: live\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestLoad_rejectsBadAlpha(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("retrieval:\n  mode: replay\n  default_alpha: 1.5\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for alpha outside [0,1]")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" || cfg.Server.Port != 8090 {
		t.Errorf("server defaults: %+v", cfg.Server)
	}
	if cfg.Retrieval.Mode != "replay" {
		t.Errorf("default mode: got %s", cfg.Retrieval.Mode)
	}
	if cfg.Retrieval.DefaultAlpha != 0.6 {
		t.Errorf("default alpha: got %f", cfg.Retrieval.DefaultAlpha)
	}
	if cfg.Retrieval.BM25K1 != 1.2 || cfg.Retrieval.BM25B != 0.75 {
		t.Errorf("bm25 constants: k1=%f b=%f", cfg.Retrieval.BM25K1, cfg.Retrieval.BM25B)
	}
	if cfg.Harness.Runs != 3 {
		t.Errorf("harness runs: got %d", cfg.Harness.Runs)
	}
	if cfg.Embedding.MaxRetries != 3 || cfg.Embedding.Timeout().Seconds() != 10 {
		t.Errorf("embedding defaults: %+v", cfg.Embedding)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestApplyDefaults_keepsExplicitSemanticOnlyAlpha(t *testing.T) {
	cfg := &Config{Retrieval: RetrievalConfig{Mode: "online", DefaultAlpha: 0}}
	ApplyDefaults(cfg)
	if cfg.Retrieval.DefaultAlpha != 0 {
		t.Errorf("explicit alpha 0 should be kept, got %f", cfg.Retrieval.DefaultAlpha)
	}
}

func TestStorageConfig_WatchCatalogsOrDefault(t *testing.T) {
	t.Run("nil_returns_true", func(t *testing.T) {
		s := &StorageConfig{}
		if !s.WatchCatalogsOrDefault() {
			t.Error("WatchCatalogsOrDefault() = false, want true")
		}
	})
	t.Run("false_returns_false", func(t *testing.T) {
		f := false
		s := &StorageConfig{WatchCatalogs: &f}
		if s.WatchCatalogsOrDefault() {
			t.Error("WatchCatalogsOrDefault() = true, want false")
		}
	})
}

func TestEmbeddingConfig_ResolveAPIKey(t *testing.T) {
	t.Setenv("KENSA_TEST_KEY", "from-env")
	e := &EmbeddingConfig{APIKeyEnv: "KENSA_TEST_KEY"}
	if got := e.ResolveAPIKey(); got != "from-env" {
		t.Errorf("ResolveAPIKey() = %q", got)
	}
	e.APIKey = "explicit"
	if got := e.ResolveAPIKey(); got != "explicit" {
		t.Errorf("ResolveAPIKey() = %q", got)
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "saved.yaml")
	cfg := &Config{
		Server:    ServerConfig{Host: "localhost", Port: 9090},
		Storage:   StorageConfig{CatalogDir: "/tmp/catalogs"},
		Retrieval: RetrievalConfig{Mode: "online", DefaultAlpha: 0.5},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 || loaded.Retrieval.DefaultAlpha != 0.5 {
		t.Errorf("loaded: %+v", loaded)
	}
}
