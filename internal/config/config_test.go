package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "test.db"
embedding:
  provider: openai
  model: text-embedding-3-small
  dimensions: 1536
  timeout: 5s
search:
  keyword_window: 250
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr() != "127.0.0.1:9000" {
		t.Errorf("unexpected server addr: %s", cfg.Server.Addr())
	}
	if cfg.Storage.Backend != BackendSQLite {
		t.Errorf("backend = %q, want sqlite", cfg.Storage.Backend)
	}
	if cfg.Embedding.Provider != "openai" || cfg.Embedding.Dimensions != 1536 {
		t.Errorf("unexpected embedding config: %+v", cfg.Embedding)
	}
	if cfg.Embedding.Timeout != 5*time.Second {
		t.Errorf("timeout = %v", cfg.Embedding.Timeout)
	}
	if cfg.Search.KeywordWindow != 250 || cfg.Search.ContextWindow != 50 {
		t.Errorf("unexpected search config: %+v", cfg.Search)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_expandsEnv(t *testing.T) {
	t.Setenv("KIOKU_TEST_API_KEY", "sk-test")
	path := writeConfig(t, `
embedding:
  provider: cohere
  api_key: ${KIOKU_TEST_API_KEY}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Embedding.APIKey != "sk-test" {
		t.Errorf("api_key = %q, want sk-test", cfg.Embedding.APIKey)
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
storage:
  database_path: "./data/memories.db"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(filepath.Dir(path), "data", "memories.db")
	if cfg.Storage.DatabasePath != want {
		t.Errorf("database_path = %s, want %s", cfg.Storage.DatabasePath, want)
	}
}

func TestLoad_invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown backend", "storage:\n  backend: redis\n"},
		{"postgres without url", "storage:\n  backend: postgres\n"},
		{"threshold out of range", "search:\n  default_threshold: 1.5\n"},
		{"default limit above max", "search:\n  default_limit: 50\n  max_limit: 20\n"},
		{"malformed yaml", "server: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" || cfg.Server.Port != 8080 {
		t.Errorf("default server: %+v", cfg.Server)
	}
	if cfg.Search.DefaultLimit != 10 || cfg.Search.MaxLimit != 100 {
		t.Errorf("default limits: %+v", cfg.Search)
	}
	if cfg.Search.DefaultThreshold != 0.5 {
		t.Errorf("default threshold: got %f", cfg.Search.DefaultThreshold)
	}
	if cfg.Search.KeywordWindow != 100 || cfg.Search.ContextWindow != 50 || cfg.Search.ContextConcurrency != 8 {
		t.Errorf("default windows: %+v", cfg.Search)
	}
	if cfg.Embedding.Provider != "ollama" || cfg.Embedding.Dimensions != 768 {
		t.Errorf("default embedding: %+v", cfg.Embedding)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.yaml")
	cfg := &Config{
		Server:  ServerConfig{Host: "localhost", Port: 9090},
		Storage: StorageConfig{Backend: BackendMemory, DatabasePath: "/tmp/db"},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 || loaded.Storage.Backend != BackendMemory {
		t.Errorf("loaded: %+v", loaded)
	}
}
