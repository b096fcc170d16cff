package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/logflow/tabprep/pkg/errors"
)

func writeYAML(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, int64(50<<20), cfg.Processing.MaxFileSize)
	assert.Equal(t, "local", cfg.Storage.Backend)
	assert.Equal(t, "memory", cfg.Jobs.Backend)
}

func TestLoadLayers(t *testing.T) {
	dir := t.TempDir()
	system := writeYAML(t, dir, "system.yaml", `
server:
  addr: ":9000"
jobs:
  ttl: 2h
  max_in_flight: 8
logging:
  level: debug
`)
	project := writeYAML(t, dir, "project.yaml", `
server:
  addr: ":9100"
storage:
  backend: s3
  bucket: artifacts
`)
	missing := filepath.Join(dir, "missing.yaml")

	m := NewManagerWithPaths(system, missing, project)
	require.NoError(t, m.Load(""))

	cfg := m.Get()
	assert.Equal(t, ":9100", cfg.Server.Addr)
	assert.Equal(t, 2*time.Hour, cfg.Jobs.TTL)
	assert.Equal(t, 8, cfg.Jobs.MaxInFlight)
	assert.Equal(t, 5, cfg.Jobs.MaxFailures)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "s3", cfg.Storage.Backend)
	assert.Equal(t, "artifacts", cfg.Storage.Bucket)
	// Untouched fields keep their defaults.
	assert.Equal(t, "us-east-1", cfg.Storage.Region)
	assert.Equal(t, []string{system, project}, m.Paths())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TABPREP_ADDR", ":7000")
	t.Setenv("TABPREP_MAX_FILE_SIZE", "1024")
	t.Setenv("TABPREP_WORKERS", "not-a-number")
	t.Setenv("TABPREP_TELEMETRY", "true")
	t.Setenv("TABPREP_JOBS_BACKEND", "redis")

	m := NewManagerWithPaths()
	require.NoError(t, m.Load(""))

	cfg := m.Get()
	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, int64(1024), cfg.Processing.MaxFileSize)
	assert.Equal(t, Default().Processing.Workers, cfg.Processing.Workers)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "redis", cfg.Jobs.Backend)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	m := NewManagerWithPaths()
	err := m.Load(filepath.Join(dir, "nope.yaml"))
	assert.True(t, errors.IsCode(err, errors.CodeConfig))

	bad := writeYAML(t, dir, "bad.yaml", "server: [unclosed")
	err = m.Load(bad)
	assert.True(t, errors.IsCode(err, errors.CodeConfig))

	invalid := writeYAML(t, dir, "invalid.yaml", "storage:\n  backend: ftp\n")
	err = m.Load(invalid)
	assert.True(t, errors.IsCode(err, errors.CodeConfig))
	assert.Contains(t, err.Error(), "ftp")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero size cap", func(c *Config) { c.Processing.MaxFileSize = 0 }},
		{"s3 without bucket", func(c *Config) { c.Storage.Backend = "s3" }},
		{"unknown jobs backend", func(c *Config) { c.Jobs.Backend = "etcd" }},
		{"sample rate", func(c *Config) { c.Telemetry.SampleRate = 1.5 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := NewManagerWithPaths()
	require.NoError(t, m.Load(""))
	m.Get().Server.Addr = ":6060"

	path := filepath.Join(dir, "nested", "config.yaml")
	require.NoError(t, m.Save(path))

	again := NewManagerWithPaths(path)
	require.NoError(t, again.Load(""))
	assert.Equal(t, ":6060", again.Get().Server.Addr)
}

func TestEnsureDirs(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TABPREP_UPLOAD_DIR", filepath.Join(dir, "up"))
	t.Setenv("TABPREP_STORAGE_DIR", filepath.Join(dir, "out"))

	m := NewManagerWithPaths()
	require.NoError(t, m.Load(""))
	require.NoError(t, m.EnsureDirs())

	assert.DirExists(t, filepath.Join(dir, "up"))
	assert.DirExists(t, filepath.Join(dir, "out"))
}
