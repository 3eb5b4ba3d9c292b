package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := Config{
		HTTP:      HTTPConfig{Port: 8080},
		Database:  DatabaseConfig{Addrs: []string{"localhost:6379"}},
		Embedding: EmbeddingConfig{BaseURL: "http://localhost:8081/v1"},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestApplyDefaults(t *testing.T) {
	cfg := validConfig()

	if cfg.Embedding.Dimensions != 384 || cfg.Embedding.Model != "all-MiniLM-L6-v2" {
		t.Errorf("unexpected embedding defaults: %+v", cfg.Embedding)
	}
	if cfg.Chunking.ChunkSize != 1000 || cfg.Chunking.Overlap != 200 {
		t.Errorf("unexpected chunking defaults: %+v", cfg.Chunking)
	}
	if cfg.HTTP.IndexTimeoutSec != 300 {
		t.Errorf("unexpected index timeout default: %d", cfg.HTTP.IndexTimeoutSec)
	}
	if *cfg.Retrieval.Threshold != 0.3 || cfg.Retrieval.MaxDocs != 5 {
		t.Errorf("unexpected retrieval defaults: %+v", cfg.Retrieval)
	}
	if cfg.Telemetry.SessionTTLSec != 3600 {
		t.Errorf("expected 1h session TTL, got %d", cfg.Telemetry.SessionTTLSec)
	}
	if cfg.Storage.KeyPrefix != "rag:" {
		t.Errorf("expected key prefix rag:, got %q", cfg.Storage.KeyPrefix)
	}
}

func TestApplyDefaults_KeepsExplicitZeroThreshold(t *testing.T) {
	zero := 0.0
	cfg := Config{Retrieval: RetrievalConfig{Threshold: &zero}}
	cfg.ApplyDefaults()

	if *cfg.Retrieval.Threshold != 0 {
		t.Errorf("explicit zero threshold was overwritten: %g", *cfg.Retrieval.Threshold)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad port", func(c *Config) { c.HTTP.Port = 0 }, "http.port"},
		{"no addrs", func(c *Config) { c.Database.Addrs = nil }, "database.addrs"},
		{"no provider endpoint", func(c *Config) { c.Embedding.BaseURL = "" }, "embedding.api_key"},
		{"overlap too big", func(c *Config) { c.Chunking.Overlap = c.Chunking.ChunkSize }, "chunking.overlap"},
		{"negative overlap", func(c *Config) { c.Chunking.Overlap = -1 }, "chunking.overlap"},
		{"threshold above one", func(c *Config) { v := 1.5; c.Retrieval.Threshold = &v }, "retrieval.threshold"},
		{"prefix with braces", func(c *Config) { c.Storage.KeyPrefix = "{rag}" }, "storage.key_prefix"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error about %s, got %v", tt.want, err)
			}
		})
	}

	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParse_ExpandsEnvVars(t *testing.T) {
	t.Setenv("RAG_TEST_ADDR", "valkey:6380")
	data := []byte(`
http:
  port: ${RAG_TEST_PORT:-9090}
database:
  addrs: ["${RAG_TEST_ADDR}"]
embedding:
  base_url: http://tei/v1
`)

	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 9090 {
		t.Errorf("expected default port 9090, got %d", cfg.HTTP.Port)
	}
	if cfg.Database.Addrs[0] != "valkey:6380" {
		t.Errorf("expected expanded addr, got %q", cfg.Database.Addrs[0])
	}
}

func TestLoad_LocalConfig(t *testing.T) {
	cfg, err := Load("local")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Embedding.Retry.Policy().MaxAttempts != 3 {
		t.Errorf("expected 3 embedding attempts, got %d", cfg.Embedding.Retry.Policy().MaxAttempts)
	}
	if !cfg.Embedding.Cache.Enabled {
		t.Error("expected the embedding cache to be enabled locally")
	}
}

func TestRetryConfig_Policy(t *testing.T) {
	p := RetryConfig{MaxAttempts: 5, BaseDelayMs: 50}.Policy()

	if p.MaxAttempts != 5 || p.BaseDelay != 50*time.Millisecond {
		t.Errorf("unexpected policy %+v", p)
	}
	if p.MaxDelay != 10*time.Second {
		t.Errorf("unset fields should keep the default, got %v", p.MaxDelay)
	}
}
