package config

// ApplyDefaults sets default values for any zero values in cfg.
// DefaultAlpha has no zero-value default: 0 is a legal semantic-only weight,
// so it is only filled when the whole retrieval section is unset (mode empty).
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Storage.CatalogDir == "" {
		cfg.Storage.CatalogDir = "/usr/local/var/kensa/catalogs"
	}
	if cfg.Storage.VectorCachePath == "" {
		cfg.Storage.VectorCachePath = "/usr/local/var/kensa/replay/vectors.kvec"
	}
	if cfg.Storage.LedgerPath == "" {
		cfg.Storage.LedgerPath = "/usr/local/var/kensa/replay/ledger.db"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "openai"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Embedding.TimeoutMS == 0 {
		cfg.Embedding.TimeoutMS = 10000
	}
	if cfg.Embedding.MaxRetries == 0 {
		cfg.Embedding.MaxRetries = 3
	}
	if cfg.Embedding.InitialBackoffMS == 0 {
		cfg.Embedding.InitialBackoffMS = 250
	}
	if cfg.Embedding.MaxBackoffMS == 0 {
		cfg.Embedding.MaxBackoffMS = 4000
	}
	if cfg.Retrieval.Mode == "" {
		cfg.Retrieval.Mode = "replay"
		if cfg.Retrieval.DefaultAlpha == 0 {
			cfg.Retrieval.DefaultAlpha = 0.6
		}
	}
	if cfg.Retrieval.DefaultK == 0 {
		cfg.Retrieval.DefaultK = 10
	}
	if cfg.Retrieval.CandidateLimit == 0 {
		cfg.Retrieval.CandidateLimit = 100
	}
	if cfg.Retrieval.BM25K1 == 0 {
		cfg.Retrieval.BM25K1 = 1.2
	}
	if cfg.Retrieval.BM25B == 0 {
		cfg.Retrieval.BM25B = 0.75
	}
	if cfg.Harness.Runs < 3 {
		cfg.Harness.Runs = 3
	}
}
