package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "liveview.db", cfg.Database.Path)
	assert.Equal(t, "tasks", cfg.Collection.Name)
	assert.Equal(t, 24*time.Hour, cfg.Eviction.MinInterval)
	assert.Equal(t, 24*time.Hour, cfg.Eviction.SweepInterval)
	assert.Equal(t, "local", cfg.Logging.Env)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 64, cfg.Diagnostics.Buffer)
	require.NoError(t, cfg.Validate())
}

func TestParse(t *testing.T) {
	t.Setenv("LIVEVIEW_DB", "/tmp/tasks.db")

	cfg, err := Parse([]byte(`
database:
  path: ${LIVEVIEW_DB}
collection:
  name: todos
  schema_dir: ${LIVEVIEW_SCHEMA:-./schemas}
eviction:
  min_interval: 1h
  sweep_interval: 2h
logging:
  env: prod
  level: info
metrics:
  addr: ":9090"
diagnostics:
  buffer: 8
`))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/tasks.db", cfg.Database.Path)
	assert.Equal(t, "todos", cfg.Collection.Name)
	assert.Equal(t, "./schemas", cfg.Collection.SchemaDir)
	assert.Equal(t, time.Hour, cfg.Eviction.MinInterval)
	assert.Equal(t, 2*time.Hour, cfg.Eviction.SweepInterval)
	assert.Equal(t, "prod", cfg.Logging.Env)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.Equal(t, 8, cfg.Diagnostics.Buffer)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown key", "database:\n  file: x.db\n", "field file not found"},
		{"bad env", "logging:\n  env: staging\n", "logging.env"},
		{"bad level", "logging:\n  level: loud\n", "logging.level"},
		{"sweep shorter than min", "eviction:\n  min_interval: 2h\n  sweep_interval: 1h\n", "eviction.sweep_interval"},
		{"bad duration", "eviction:\n  min_interval: soon\n", "failed to parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	path := filepath.Join(t.TempDir(), "liveview.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  path: \":memory:\"\n"), 0o644))
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":memory:", cfg.Database.Path)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config")
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("LV_SET", "value")
	os.Unsetenv("LV_UNSET")

	assert.Equal(t, "value", string(expandEnvVars([]byte("${LV_SET}"))))
	assert.Equal(t, "fallback", string(expandEnvVars([]byte("${LV_UNSET:-fallback}"))))
	assert.Equal(t, "", string(expandEnvVars([]byte("${LV_UNSET}"))))
}
