package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "poem:", cfg.Store.KeyPrefix)
	assert.Equal(t, "poems", cfg.Index.Name)
	require.Len(t, cfg.Index.Schema, 5)

	names := make([]string, 0, len(cfg.Index.Schema))
	for _, f := range cfg.Index.Schema {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"content", "author", "title", "type", "age"}, names)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	body := []byte(`
server:
  port: 4000
store:
  backend: bolt
index:
  name: verses
  schema:
    - name: line
      kind: TEXT
    - name: mood
      kind: tag
search:
  defaultLimit: 5
  maxResults: 50
ingestion:
  timeout: 10s
`)
	require.NoError(t, os.WriteFile(path, body, 0o644))
	t.Setenv("PS_SERVER_PORT", "4100")
	t.Setenv("PS_KAFKA_BROKERS", "a:9092,b:9092")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4100, cfg.Server.Port)
	assert.Equal(t, "bolt", cfg.Store.Backend)
	assert.Equal(t, "verses", cfg.Index.Name)
	assert.Len(t, cfg.Index.Schema, 2)
	assert.Equal(t, 5, cfg.Search.DefaultLimit)
	assert.Equal(t, 10*time.Second, cfg.Ingestion.Timeout)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
}

func TestValidateRejectsBadSchema(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Store.Backend = "cassandra" }},
		{"duplicate field", func(c *Config) {
			c.Index.Schema = append(c.Index.Schema, FieldConfig{Name: "type", Kind: "TAG"})
		}},
		{"unknown kind", func(c *Config) {
			c.Index.Schema = []FieldConfig{{Name: "x", Kind: "NUMERIC"}}
		}},
		{"limits", func(c *Config) { c.Search.MaxResults = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
