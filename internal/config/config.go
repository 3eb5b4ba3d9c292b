// Package config loads the service configuration from config/<ENV>.yaml.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/ragindex/internal/domain"
	"github.com/kailas-cloud/ragindex/internal/retry"
)

// Config holds the ragindex configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Index     IndexConfig     `yaml:"index"`
	Auth      AuthConfig      `yaml:"auth"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int   `yaml:"port"`
	ReadTimeoutSec  int   `yaml:"read_timeout_sec"`
	WriteTimeoutSec int   `yaml:"write_timeout_sec"`
	ShutdownSec     int   `yaml:"shutdown_timeout_sec"`
	MaxBodyBytes    int64 `yaml:"max_body_bytes"`
	// IndexTimeoutSec bounds an ingestion run detached from its request.
	IndexTimeoutSec int `yaml:"index_timeout_sec"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Addrs            []string    `yaml:"addrs"`
	Username         string      `yaml:"username"`
	Password         string      `yaml:"password"`
	DB               int         `yaml:"db"`
	ReadinessTimeout int         `yaml:"readiness_timeout_sec"`
	Retry            RetryConfig `yaml:"retry"`
}

// RetryConfig describes a retry.Policy in config units.
type RetryConfig struct {
	MaxAttempts int     `yaml:"max_attempts"`
	BaseDelayMs int     `yaml:"base_delay_ms"`
	MaxDelayMs  int     `yaml:"max_delay_ms"`
	Multiplier  float64 `yaml:"multiplier"`
	Jitter      float64 `yaml:"jitter"`
}

// Policy converts c, filling gaps from retry.DefaultPolicy.
func (c RetryConfig) Policy() retry.Policy {
	p := retry.DefaultPolicy()
	if c.MaxAttempts > 0 {
		p.MaxAttempts = c.MaxAttempts
	}
	if c.BaseDelayMs > 0 {
		p.BaseDelay = time.Duration(c.BaseDelayMs) * time.Millisecond
	}
	if c.MaxDelayMs > 0 {
		p.MaxDelay = time.Duration(c.MaxDelayMs) * time.Millisecond
	}
	if c.Multiplier > 0 {
		p.Multiplier = c.Multiplier
	}
	if c.Jitter > 0 {
		p.Jitter = c.Jitter
	}
	return p
}

// EmbeddingConfig holds the embedding provider and client settings.
type EmbeddingConfig struct {
	Provider       string      `yaml:"provider"`
	APIKey         string      `yaml:"api_key"`
	BaseURL        string      `yaml:"base_url"`
	Model          string      `yaml:"model"`
	Dimensions     int         `yaml:"dimensions"`
	MaxInputTokens int         `yaml:"max_input_tokens"`
	BatchSize      int         `yaml:"batch_size"`
	BatchDelayMs   int         `yaml:"batch_delay_ms"` // negative disables pacing
	TimeoutSec     int         `yaml:"timeout_sec"`
	Retry          RetryConfig `yaml:"retry"`
	Cache          CacheConfig `yaml:"cache"`
}

// CacheConfig holds embedding cache settings.
type CacheConfig struct {
	Enabled bool `yaml:"enabled"`
	TTLSec  int  `yaml:"ttl_sec"` // 0 = no expiry
}

// ChunkingConfig holds chunker settings.
type ChunkingConfig struct {
	ChunkSize int `yaml:"chunk_size"`
	Overlap   int `yaml:"overlap"`
}

// RetrievalConfig holds retrieval engine settings.
type RetrievalConfig struct {
	MaxDocs int `yaml:"max_docs"`
	// Threshold is a pointer so an explicit 0 survives ApplyDefaults.
	Threshold     *float64 `yaml:"threshold"`
	SnippetLength int      `yaml:"snippet_length"`
	MaxVariants   int      `yaml:"max_variants"`
}

// TelemetryConfig holds telemetry bus settings.
type TelemetryConfig struct {
	SessionTTLSec    int `yaml:"session_ttl_sec"`
	SweepIntervalSec int `yaml:"sweep_interval_sec"`
	KeepAliveSec     int `yaml:"keepalive_sec"`
	BufferSize       int `yaml:"buffer_size"`
}

// IndexConfig holds HNSW index settings.
type IndexConfig struct {
	HNSWM           int `yaml:"hnsw_m"`
	HNSWEFConstruct int `yaml:"hnsw_ef_construction"`
	ReadyTimeoutSec int `yaml:"ready_timeout_sec"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	KeyPrefix string `yaml:"key_prefix"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
// A .env file next to the working directory, if any, is loaded first and
// never overrides variables already set.
func Load(env string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}
	return Parse(data)
}

// Parse expands ${VAR} references in data and decodes it.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 30
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 120
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.HTTP.IndexTimeoutSec <= 0 {
		c.HTTP.IndexTimeoutSec = 300
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		c.HTTP.MaxBodyBytes = 2 * domain.MaxFileSize
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}

	vc := domain.DefaultVectorConfig()
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = vc.Model
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = vc.Dimensions
	}
	if c.Embedding.MaxInputTokens <= 0 {
		c.Embedding.MaxInputTokens = vc.MaxInputTokens
	}
	if c.Embedding.BatchSize <= 0 {
		c.Embedding.BatchSize = 10
	}
	if c.Embedding.BatchDelayMs == 0 {
		c.Embedding.BatchDelayMs = 100
	}
	if c.Embedding.TimeoutSec <= 0 {
		c.Embedding.TimeoutSec = 30
	}

	if c.Chunking.ChunkSize <= 0 {
		c.Chunking.ChunkSize = domain.DefaultChunkSize
	}
	if c.Chunking.Overlap == 0 {
		c.Chunking.Overlap = domain.DefaultOverlap
	}

	if c.Retrieval.MaxDocs <= 0 {
		c.Retrieval.MaxDocs = 5
	}
	if c.Retrieval.Threshold == nil {
		t := 0.3
		c.Retrieval.Threshold = &t
	}
	if c.Retrieval.SnippetLength <= 0 {
		c.Retrieval.SnippetLength = 120
	}
	if c.Retrieval.MaxVariants <= 0 {
		c.Retrieval.MaxVariants = 3
	}

	if c.Telemetry.SessionTTLSec <= 0 {
		c.Telemetry.SessionTTLSec = int(domain.TelemetrySessionTTL / time.Second)
	}
	if c.Telemetry.SweepIntervalSec <= 0 {
		c.Telemetry.SweepIntervalSec = 300
	}
	if c.Telemetry.KeepAliveSec <= 0 {
		c.Telemetry.KeepAliveSec = 30
	}
	if c.Telemetry.BufferSize <= 0 {
		c.Telemetry.BufferSize = 64
	}

	if c.Index.HNSWM <= 0 {
		c.Index.HNSWM = 16
	}
	if c.Index.HNSWEFConstruct <= 0 {
		c.Index.HNSWEFConstruct = 200
	}
	if c.Index.ReadyTimeoutSec <= 0 {
		c.Index.ReadyTimeoutSec = 60
	}
	if c.Storage.KeyPrefix == "" {
		c.Storage.KeyPrefix = "rag:"
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}
	if c.Embedding.BaseURL == "" && c.Embedding.APIKey == "" {
		return fmt.Errorf("embedding.api_key is required when embedding.base_url is not set")
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.ChunkSize {
		return fmt.Errorf(
			"chunking.overlap must be in [0, chunk_size), got %d with chunk_size %d",
			c.Chunking.Overlap, c.Chunking.ChunkSize,
		)
	}
	if t := *c.Retrieval.Threshold; t < 0 || t > 1 {
		return fmt.Errorf("retrieval.threshold must be between 0 and 1, got %g", t)
	}
	if strings.ContainsAny(c.Storage.KeyPrefix, " \t\n{}") {
		return fmt.Errorf("storage.key_prefix must not contain whitespace or braces, got %q", c.Storage.KeyPrefix)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// relative to the source file, for tests run from package dirs
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b)))
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
