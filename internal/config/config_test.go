package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
server:
  port: 9100
transport:
  base_url: https://api.example.com
  timeout: 5s
  headers:
    authorization: Bearer token
socket:
  enabled: true
  url: wss://push.example.com/websocket
  rooms: [projects]
store:
  driver: sqlite
  path: /tmp/localsync.db
tables:
  - name: Post
    push_types: [post]
    fields:
      - name: _id
        primary_key: true
      - name: title
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_File(t *testing.T) {
	cfg, err := Load(writeFile(t, "localsync.yaml", sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "https://api.example.com", cfg.Transport.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Transport.Timeout)
	assert.Equal(t, "Bearer token", cfg.Transport.Headers["authorization"])
	assert.True(t, cfg.Socket.Enabled)
	assert.Equal(t, []string{"projects"}, cfg.Socket.Rooms)
	assert.Equal(t, "sqlite", cfg.Store.Driver)

	require.Len(t, cfg.Tables, 1)
	assert.Equal(t, "Post", cfg.Tables[0].Name)
	assert.True(t, cfg.Tables[0].Fields[0].PrimaryKey)

	// defaults
	assert.Equal(t, "memory", cfg.RequestCache.Backend)
	assert.Equal(t, 5*time.Second, cfg.Socket.ReconnectInterval)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 30*time.Second, cfg.Server.RequestTimeout)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("LOCALSYNC_SERVER_PORT", "9200")
	t.Setenv("LOCALSYNC_STORE_DRIVER", "memory")

	cfg, err := Load(writeFile(t, "localsync.yaml", sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Store.Driver)
}

func TestLoad_SchemaFile(t *testing.T) {
	schemaPath := writeFile(t, "schema.yaml", `
tables:
  - name: Event
    fields:
      - name: _id
        primary_key: true
`)
	cfg, err := Load(writeFile(t, "localsync.yaml", sampleConfig+"schema_file: "+schemaPath+"\n"))
	require.NoError(t, err)
	require.Len(t, cfg.Tables, 2)
	assert.Equal(t, "Event", cfg.Tables[1].Name)
}

func TestLoad_MissingTables(t *testing.T) {
	_, err := Load(writeFile(t, "localsync.yaml", "server:\n  port: 9100\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one table is required")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load(writeFile(t, "localsync.yaml", sampleConfig))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"negative request timeout", func(c *Config) { c.Server.RequestTimeout = -time.Second }},
		{"no base url", func(c *Config) { c.Transport.BaseURL = "" }},
		{"socket without url", func(c *Config) { c.Socket.URL = "" }},
		{"unknown driver", func(c *Config) { c.Store.Driver = "leveldb" }},
		{"unknown cache backend", func(c *Config) { c.RequestCache.Backend = "memcached" }},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
