package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the question answering pipeline.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Chunking  ChunkingConfig  `mapstructure:"chunking"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Synthesis SynthesisConfig `mapstructure:"synthesis"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Index     IndexConfig     `mapstructure:"index"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings.
type ServerConfig struct {
	Address       string `mapstructure:"address"`
	JWTSecret     string `mapstructure:"jwt_secret"`
	AdminUser     string `mapstructure:"admin_user"`
	AdminPassHash string `mapstructure:"admin_pass_hash"` // bcrypt hash
	AuthRequired  bool   `mapstructure:"auth_required"`
}

func (s ServerConfig) Validate() error {
	if s.AuthRequired {
		if strings.TrimSpace(s.JWTSecret) == "" {
			return fmt.Errorf("server.jwt_secret required when auth is enabled")
		}
		if strings.TrimSpace(s.AdminPassHash) == "" {
			return fmt.Errorf("server.admin_pass_hash required when auth is enabled")
		}
	}
	return nil
}

// LLMConfig contains provider settings for embedding and completion.
type LLMConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	CompletionModel string        `mapstructure:"completion_model"`
	EmbeddingModel  string        `mapstructure:"embedding_model"`
	Temperature     float64       `mapstructure:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// Normalize applies provider defaults for unset values.
func (l LLMConfig) Normalize() LLMConfig {
	if l.BaseURL == "" {
		l.BaseURL = "https://api.openai.com/v1"
	}
	if l.CompletionModel == "" {
		l.CompletionModel = "gpt-4o-mini"
	}
	if l.EmbeddingModel == "" {
		l.EmbeddingModel = "text-embedding-3-small"
	}
	if l.MaxTokens <= 0 {
		l.MaxTokens = 1024
	}
	if l.Timeout <= 0 {
		l.Timeout = 2 * time.Minute
	}
	return l
}

// ChunkingConfig controls document splitting.
type ChunkingConfig struct {
	MaxTokens     int `mapstructure:"max_tokens"`
	OverlapTokens int `mapstructure:"overlap_tokens"`
}

// Normalize applies chunking defaults.
func (c ChunkingConfig) Normalize() ChunkingConfig {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 500
	}
	if c.OverlapTokens < 0 {
		c.OverlapTokens = 0
	}
	return c
}

func (c ChunkingConfig) Validate() error {
	if c.OverlapTokens >= c.MaxTokens {
		return fmt.Errorf("chunking.overlap_tokens must be smaller than chunking.max_tokens")
	}
	return nil
}

// RetrievalConfig controls hybrid search behaviour.
type RetrievalConfig struct {
	TopK          int     `mapstructure:"top_k"`
	VectorWeight  float64 `mapstructure:"vector_weight"`
	KeywordWeight float64 `mapstructure:"keyword_weight"`
	HybridDefault bool    `mapstructure:"hybrid_default"`
}

// Normalize applies retrieval defaults. Weights are independently tunable and
// are not required to sum to 1.
func (r RetrievalConfig) Normalize() RetrievalConfig {
	if r.TopK <= 0 {
		r.TopK = 5
	}
	if r.VectorWeight <= 0 {
		r.VectorWeight = 0.5
	}
	if r.KeywordWeight <= 0 {
		r.KeywordWeight = 0.5
	}
	return r
}

// SynthesisConfig controls answer generation and citations.
type SynthesisConfig struct {
	MaxCitations int    `mapstructure:"max_citations"`
	CitationURL  string `mapstructure:"citation_url"` // printf template over source id
}

// Normalize applies synthesis defaults.
func (s SynthesisConfig) Normalize() SynthesisConfig {
	if s.MaxCitations <= 0 {
		s.MaxCitations = 5
	}
	if s.CitationURL == "" {
		s.CitationURL = "https://stackoverflow.com/questions/%d"
	}
	return s
}

// CacheConfig controls the cache-aside layer.
type CacheConfig struct {
	Backend      string        `mapstructure:"backend"` // redis or memory
	EmbeddingTTL time.Duration `mapstructure:"embedding_ttl"`
	ResponseTTL  time.Duration `mapstructure:"response_ttl"`
}

// Normalize applies cache defaults.
func (c CacheConfig) Normalize() CacheConfig {
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.EmbeddingTTL <= 0 {
		c.EmbeddingTTL = 24 * time.Hour
	}
	if c.ResponseTTL <= 0 {
		c.ResponseTTL = time.Hour
	}
	return c
}

// IndexConfig selects the passage index backend.
type IndexConfig struct {
	Backend string `mapstructure:"backend"` // memory or postgres
}

// Normalize applies the default backend.
func (i IndexConfig) Normalize() IndexConfig {
	if i.Backend == "" {
		i.Backend = "memory"
	}
	return i
}

func (i IndexConfig) Validate() error {
	switch i.Backend {
	case "memory", "postgres":
		return nil
	default:
		return fmt.Errorf("index.backend must be memory or postgres, got %q", i.Backend)
	}
}

// StorageConfig contains shared backing-store connection settings.
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings.
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DSN builds the connection string, preferring an explicit URL.
func (p PostgresConfig) DSN() (string, error) {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL, nil
	}
	if strings.TrimSpace(p.Host) == "" || strings.TrimSpace(p.DBName) == "" {
		return "", fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// IngestConfig controls corpus ingestion.
type IngestConfig struct {
	CorpusPath      string `mapstructure:"corpus_path"`
	WriterBatchSize int    `mapstructure:"writer_batch_size"`
	RefreshCron     string `mapstructure:"refresh_cron"`
}

// Normalize applies ingestion defaults.
func (i IngestConfig) Normalize() IngestConfig {
	if i.WriterBatchSize <= 0 {
		i.WriterBatchSize = 32
	}
	return i
}

// TelemetryConfig contains telemetry and monitoring settings.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPath string `mapstructure:"metrics_path"`
}

// Normalize applies telemetry defaults.
func (t TelemetryConfig) Normalize() TelemetryConfig {
	if t.MetricsPath == "" {
		t.MetricsPath = "/metrics"
	}
	return t
}

// LoadConfig loads config from the given file (or the usual search paths when
// empty), layers CORPUSQA_* environment variables on top, and validates the
// result.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")

	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.default_timeout", "2m")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("retrieval.hybrid_default", true)
	v.SetDefault("telemetry.enabled", true)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)
		v.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("CORPUSQA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine: env vars plus defaults are a complete
		// configuration for the memory backends.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.LLM = cfg.LLM.Normalize()
	cfg.Chunking = cfg.Chunking.Normalize()
	cfg.Retrieval = cfg.Retrieval.Normalize()
	cfg.Synthesis = cfg.Synthesis.Normalize()
	cfg.Cache = cfg.Cache.Normalize()
	cfg.Index = cfg.Index.Normalize()
	cfg.Ingest = cfg.Ingest.Normalize()
	cfg.Telemetry = cfg.Telemetry.Normalize()

	if err := cfg.Chunking.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Index.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Server.Validate(); err != nil {
		return nil, err
	}
	if cfg.Cache.Backend == "redis" {
		if err := cfg.Storage.Redis.Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}
