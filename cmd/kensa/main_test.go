package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kensa/internal/config"
	"github.com/hyperjump/kensa/internal/models"
	"github.com/hyperjump/kensa/internal/storage"
)

func TestArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after query are moved first",
			args:     []string{"scope 1 emissions", "-corpus", "esg"},
			expected: []string{"-corpus", "esg", "scope 1 emissions"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-corpus", "esg", "scope 1 emissions"},
			expected: []string{"-corpus", "esg", "scope 1 emissions"},
		},
		{
			name:     "query only returns unchanged",
			args:     []string{"scope 1 emissions"},
			expected: []string{"scope 1 emissions"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"one", "two", "-k", "5"},
			expected: []string{"-k", "5", "one", "two"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := argsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("argsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"emissions"}, "emissions"},
		{"multiple words", []string{"scope", "1", "emissions"}, "scope 1 emissions"},
		{"quoted phrase", []string{"scope 1 emissions"}, "scope 1 emissions"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildQuery(tt.args); got != tt.expected {
				t.Errorf("buildQuery(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestConfigPathFromArgs(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		defaultPath string
		want        string
	}{
		{"no config flag", []string{"-k", "5", "query"}, "/default.yaml", "/default.yaml"},
		{"-config present", []string{"-config", "/custom.yaml", "query"}, "/default.yaml", "/custom.yaml"},
		{"--config present", []string{"--config", "/other.yaml"}, "/default.yaml", "/other.yaml"},
		{"config at end", []string{"query", "-config", "/end.yaml"}, "/default.yaml", "/end.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := configPathFromArgs(tt.args, tt.defaultPath); got != tt.want {
				t.Errorf("configPathFromArgs() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	got, err := parseDate("2024-01-02")
	if err != nil || !got.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("parseDate(day) = %v, %v", got, err)
	}
	if got, err := parseDate(""); got != nil || err != nil {
		t.Errorf("parseDate(\"\") = %v, %v", got, err)
	}
	if _, err := parseDate("02/01/2024"); err == nil {
		t.Error("expected error for unsupported layout")
	}
}

func TestRetrieveFlags_request(t *testing.T) {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	fs := flag.NewFlagSet("retrieve", flag.ContinueOnError)
	flags := addRetrieveFlags(fs, cfg)
	if err := fs.Parse([]string{"-corpus", "esg", "-company", "acme", "-after", "2024-01-01", "-alpha", "1"}); err != nil {
		t.Fatal(err)
	}
	req, err := flags.request("scope 1")
	if err != nil {
		t.Fatal(err)
	}
	if req.Corpus != "esg" || req.Filter.Company != "acme" || req.Alpha != 1 {
		t.Errorf("request = %+v", req)
	}
	if req.K != cfg.Retrieval.DefaultK || req.Filter.Limit != cfg.Retrieval.CandidateLimit || req.Mode != models.ModeReplay {
		t.Errorf("config defaults not applied: %+v", req)
	}
	if req.Filter.PublishedAfter == nil || req.Filter.PublishedBefore != nil {
		t.Errorf("filter dates = %v / %v", req.Filter.PublishedAfter, req.Filter.PublishedBefore)
	}
	if err := req.Validate(); err != nil {
		t.Errorf("request should validate: %v", err)
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
storage:
  catalog_dir: "./catalogs"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(origWd) }()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s, want %s", resolvedCanon, configPathCanon)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
}

func TestLocalStatus(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{Storage: config.StorageConfig{
		CatalogDir:      filepath.Join(dir, "catalogs"),
		VectorCachePath: filepath.Join(dir, "vectors.kvec"),
		LedgerPath:      filepath.Join(dir, "ledger.db"),
	}}
	config.ApplyDefaults(cfg)
	reg := storage.NewRegistry(cfg.Storage.CatalogDir)
	docs := []*models.Document{{ID: "a", Body: "text", PublishedAt: time.Now().UTC()}}
	if err := storage.WriteCatalog(context.Background(), reg.PathFor("esg"), docs); err != nil {
		t.Fatal(err)
	}

	status, err := localStatus(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(status.Corpora) != 1 || status.Corpora[0].Name != "esg" || status.Corpora[0].Documents != 1 {
		t.Errorf("corpora = %+v", status.Corpora)
	}
	if status.CachedVectors != 0 || status.DiskUsageBytes <= 0 {
		t.Errorf("status = %+v", status)
	}
}

func TestInitializeComponents_online(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		Storage: config.StorageConfig{
			CatalogDir:      filepath.Join(dir, "catalogs"),
			VectorCachePath: filepath.Join(dir, "replay", "vectors.kvec"),
			LedgerPath:      filepath.Join(dir, "replay", "ledger.db"),
		},
		Embedding: config.EmbeddingConfig{Provider: "mock", Dimensions: 8},
	}
	config.ApplyDefaults(cfg)
	c, err := initializeComponents(cfg, zap.NewNop(), true)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if c.Vectors.ReadOnly() {
		t.Error("online components must open the vector log writable")
	}
	if _, err := os.Stat(cfg.Storage.VectorCachePath); err != nil {
		t.Errorf("vector log should be created: %v", err)
	}
}

func TestFlagSet(t *testing.T) {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.String("mode", "online", "")
	fs.Int("k", 5, "")
	if err := fs.Parse([]string{"-k", "3"}); err != nil {
		t.Fatal(err)
	}
	if flagSet(fs, "mode") {
		t.Error("mode was not given")
	}
	if !flagSet(fs, "k") {
		t.Error("k was given")
	}
}
