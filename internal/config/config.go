package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	Port           int              `json:"port"`
	LogConfig      logger.LogConfig `json:"log_config"`
	Database       DatabaseConfig   `json:"database"`
	Index          IndexConfig      `json:"index"`
	Source         SourceConfig     `json:"source"`
	AI             AIConfig         `json:"ai"`
	ProviderPolicy ProviderPolicy   `json:"provider_policy"`
	Retrieval      RetrievalConfig  `json:"retrieval"`
	Ingest         IngestConfig     `json:"ingest"`
	Cache          CacheConfig      `json:"cache"`
	Server         ServerConfig     `json:"server"`
}

type DatabaseConfig struct {
	DSN          string `json:"dsn"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Password     string `json:"password"`
	DBName       string `json:"dbname"`
	SSLMode      string `json:"sslmode"`
	MaxOpenConns int    `json:"max_open_conns"`
}

func (c DatabaseConfig) Enabled() bool {
	return strings.TrimSpace(c.DSN) != "" || strings.TrimSpace(c.Host) != ""
}

// IndexConfig selects the vector index backend; Data is handed to the backend factory.
type IndexConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SourceConfig selects where documents are discovered and uploads are stored.
type SourceConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type ProviderEntry struct {
	Name     string      `json:"name"`
	Provider string      `json:"provider"`
	Model    string      `json:"model"`
	Data     interface{} `json:"data"`
}

// AIConfig declares named provider entries and assigns them to roles.
// Each role lists entry names tried in order.
type AIConfig struct {
	Generators []ProviderEntry `json:"generators"`
	Embedders  []ProviderEntry `json:"embedders"`
	Extractor  []string        `json:"extractor"`
	Judge      []string        `json:"judge"`
	Advisor    []string        `json:"advisor"`
	Embedder   []string        `json:"embedder"`
}

type ProviderPolicy struct {
	TimeoutSeconds    int     `json:"timeout_seconds"`
	MaxRetries        int     `json:"max_retries"`
	RetryBackoffMs    int     `json:"retry_backoff_ms"`
	RequestsPerSecond float64 `json:"requests_per_second"`
}

type RetrievalConfig struct {
	TopK      int     `json:"top_k"`
	Threshold float64 `json:"threshold"`
}

type IngestConfig struct {
	Workers       int    `json:"workers"`
	MaxInputChars int    `json:"max_input_chars"`
	Schedule      string `json:"schedule"`
	MaxUploadMB   int64  `json:"max_upload_mb"`
}

type CacheConfig struct {
	EmbeddingLRUSize       int  `json:"embedding_lru_size"`
	EmbeddingLRUTTLMinutes int  `json:"embedding_lru_ttl_minutes"`
	FeasibilityLRUSize     int  `json:"feasibility_lru_size"`
	FeasibilityTTLMinutes  int  `json:"feasibility_ttl_minutes"`
	DBEmbeddingCache       bool `json:"db_embedding_cache"`
	DBCacheMaxAgeDays      int  `json:"db_cache_max_age_days"`
}

type ServerConfig struct {
	CORSAllowlist      []string `json:"cors_allowlist"`
	SuggestRateLimitMs int      `json:"suggest_rate_limit_ms"`
}

const (
	DefaultTopK       = 5
	DefaultThreshold  = 0.55
	DefaultMaxRetries = 2
)

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	// Fields where zero is a meaningful setting get their defaults before
	// decoding, so only an absent key falls back.
	cfg := Config{
		ProviderPolicy: ProviderPolicy{MaxRetries: DefaultMaxRetries},
		Retrieval:      RetrievalConfig{Threshold: DefaultThreshold},
	}
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.LogConfig.Level == "" {
		c.LogConfig.Level = "info"
	}
	if c.Index.Type == "" {
		c.Index.Type = "memory"
	}
	switch c.Index.Type {
	case "memory", "badger", "postgres":
	default:
		return fmt.Errorf("index.type must be memory, badger or postgres")
	}
	if c.Index.Type == "postgres" && c.Index.Data == nil {
		if !c.Database.Enabled() {
			return fmt.Errorf("database is required for postgres index")
		}
		c.Index.Data = c.Database
	}
	if c.Source.Type == "" {
		c.Source.Type = "local"
	}
	switch c.Source.Type {
	case "local", "s3":
	default:
		return fmt.Errorf("source.type must be local or s3")
	}
	if c.Source.Data == nil {
		return fmt.Errorf("source.data is required")
	}
	if err := c.AI.validate(); err != nil {
		return err
	}
	if c.ProviderPolicy.TimeoutSeconds <= 0 {
		c.ProviderPolicy.TimeoutSeconds = 60
	}
	if c.ProviderPolicy.MaxRetries < 0 {
		return fmt.Errorf("provider_policy.max_retries must not be negative")
	}
	if c.ProviderPolicy.RetryBackoffMs <= 0 {
		c.ProviderPolicy.RetryBackoffMs = 500
	}
	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = DefaultTopK
	}
	if c.Retrieval.Threshold < -1 || c.Retrieval.Threshold > 1 {
		return fmt.Errorf("retrieval.threshold must be within [-1, 1]")
	}
	if c.Ingest.Workers <= 0 {
		c.Ingest.Workers = 4
	}
	if c.Ingest.MaxInputChars <= 0 {
		c.Ingest.MaxInputChars = 120000
	}
	if c.Ingest.MaxUploadMB <= 0 {
		c.Ingest.MaxUploadMB = 20
	}
	if c.Cache.EmbeddingLRUSize == 0 {
		c.Cache.EmbeddingLRUSize = 10000
	}
	if c.Cache.EmbeddingLRUTTLMinutes == 0 {
		c.Cache.EmbeddingLRUTTLMinutes = 120
	}
	if c.Cache.FeasibilityLRUSize == 0 {
		c.Cache.FeasibilityLRUSize = 2000
	}
	if c.Cache.FeasibilityTTLMinutes == 0 {
		c.Cache.FeasibilityTTLMinutes = 720
	}
	if c.Cache.DBCacheMaxAgeDays <= 0 {
		c.Cache.DBCacheMaxAgeDays = 30
	}
	if c.Cache.DBEmbeddingCache && !c.Database.Enabled() {
		return fmt.Errorf("database is required for cache.db_embedding_cache")
	}
	return nil
}

func (c *AIConfig) validate() error {
	names := make(map[string]bool)
	for _, entry := range c.Generators {
		if err := checkEntry("ai.generators", entry, names); err != nil {
			return err
		}
	}
	embedNames := make(map[string]bool)
	for _, entry := range c.Embedders {
		if err := checkEntry("ai.embedders", entry, embedNames); err != nil {
			return err
		}
	}
	roles := []struct {
		name  string
		refs  []string
		known map[string]bool
	}{
		{"ai.extractor", c.Extractor, names},
		{"ai.judge", c.Judge, names},
		{"ai.advisor", c.Advisor, names},
		{"ai.embedder", c.Embedder, embedNames},
	}
	for _, role := range roles {
		if len(role.refs) == 0 {
			return fmt.Errorf("%s is required", role.name)
		}
		for _, ref := range role.refs {
			if !role.known[ref] {
				return fmt.Errorf("%s references unknown entry %q", role.name, ref)
			}
		}
	}
	return c.checkEmbedderModels()
}

// checkEmbedderModels requires every fallback in the embedder role to use the
// same model, since vectors from different models are not comparable.
func (c *AIConfig) checkEmbedderModels() error {
	models := make(map[string]string, len(c.Embedders))
	for _, entry := range c.Embedders {
		models[entry.Name] = strings.TrimSpace(entry.Model)
	}
	first := models[c.Embedder[0]]
	for _, ref := range c.Embedder[1:] {
		if models[ref] != first {
			return fmt.Errorf("ai.embedder entries must share one model, got %q and %q", first, models[ref])
		}
	}
	return nil
}

func checkEntry(field string, entry ProviderEntry, seen map[string]bool) error {
	if strings.TrimSpace(entry.Name) == "" {
		return fmt.Errorf("%s: name is required", field)
	}
	if seen[entry.Name] {
		return fmt.Errorf("%s: duplicate name %q", field, entry.Name)
	}
	seen[entry.Name] = true
	if strings.TrimSpace(entry.Provider) == "" || strings.TrimSpace(entry.Model) == "" {
		return fmt.Errorf("%s: %s requires provider and model", field, entry.Name)
	}
	return nil
}
