package config

import (
	"bytes"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/braingenix/bglog/internal/pkg/security"
	"github.com/braingenix/bglog/internal/sqlstore"
	"github.com/braingenix/bglog/internal/storage"
)

const sampleConfig = `
[logger]
dir = "/var/log/bg"
retention_lines = 1000
console = false
compression = "gzip"
archive_retention = "72h"

[store]
enabled = true
driver = "mysql"
username = "bg"
password = "pw"
host = "db:3306"
database = "logs"
timeout = "2s"

[transmit]
breaker_threshold = 5
probe_interval = "500ms"

[diag]
level = "debug"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bglog.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFile(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "/var/log/bg", cfg.Logger.Dir)
	assert.Equal(t, 1000, cfg.Logger.RetentionLines)
	assert.False(t, cfg.Logger.Console)
	assert.Equal(t, 72*time.Hour, cfg.Logger.ArchiveRetention.Duration)
	assert.Equal(t, "db:3306", cfg.Store.Host)
	assert.Equal(t, 2*time.Second, cfg.Store.Timeout.Duration)
	assert.Equal(t, 5, cfg.Transmit.BreakerThreshold)
	assert.Equal(t, 500*time.Millisecond, cfg.Transmit.ProbeInterval.Duration)
	assert.True(t, cfg.Transmit.Spool, "defaults survive a partial file")
	assert.Equal(t, "debug", cfg.Diag.Level)
}

func TestLoadPrecedence(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	t.Setenv("BGLOG_STORE_HOST", "env-db:3306")
	t.Setenv("BGLOG_LOGGER_RETENTION_LINES", "2000")
	t.Setenv("BGLOG_LOGGER_DIR", "/from/env")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log-dir", "", "")
	flags.Int("retention-lines", 0, "")
	flags.String("store-host", "", "")
	require.NoError(t, flags.Parse([]string{"--log-dir", "/from/flag"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, "/from/flag", cfg.Logger.Dir, "flag beats env")
	assert.Equal(t, 2000, cfg.Logger.RetentionLines, "env beats file, unset flag ignored")
	assert.Equal(t, "env-db:3306", cfg.Store.Host)
}

func TestLoadMissingDefaultFileIsFine(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(filepath.Join(dir, "missing.toml"), nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := LoadFile(writeConfig(t, "[logger]\nretention = 5\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"retention of one", func(c *Config) { c.Logger.RetentionLines = 1 }},
		{"no dir", func(c *Config) { c.Logger.Dir = "" }},
		{"bad compression", func(c *Config) { c.Logger.Compression = "lz4" }},
		{"bad diag level", func(c *Config) { c.Diag.Level = "loud" }},
		{"store without host", func(c *Config) {
			c.Store.Enabled = true
			c.Store.Username = "bg"
			c.Store.Database = "logs"
		}},
		{"injected table", func(c *Config) {
			c.Store.Enabled = true
			c.Store.Driver = sqlstore.DriverSQLite
			c.Store.Database = "x.db"
			c.Store.Table = "log;DROP"
		}},
		{"half metrics auth", func(c *Config) { c.Metrics.User = "prom" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), sqlstore.ErrInvalidConfig)
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestEngineOptions(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	opts, err := cfg.EngineOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, "/var/log/bg", opts.LogDir)
	assert.Equal(t, storage.CompressionGzip, opts.Compression)
	assert.Equal(t, 5, opts.BreakerThreshold)
	assert.False(t, opts.DisableSpool)
	require.NotNil(t, opts.Store)
	assert.Equal(t, "pw", opts.Store.Password)
	assert.Equal(t, 2*time.Second, opts.Store.Timeout)
}

func TestSealedPasswordIsOpened(t *testing.T) {
	key := bytes.Repeat([]byte{3}, 32)
	kr, err := security.NewKeyring(key)
	require.NoError(t, err)
	sealed, err := kr.Seal("s3cret")
	require.NoError(t, err)

	keyFile := filepath.Join(t.TempDir(), "master.key")
	_, _, err = security.LoadKeyring(keyFile, true)
	require.NoError(t, err)

	cfg := Default()
	cfg.Store.Enabled = true
	cfg.Store.Username = "bg"
	cfg.Store.Host = "db"
	cfg.Store.Database = "logs"
	cfg.Store.Password = sealed

	// A different key cannot open it.
	t.Setenv(security.KeyEnv, "")
	cfg.Store.KeyFile = keyFile
	_, err = cfg.SQLStore()
	assert.ErrorIs(t, err, sqlstore.ErrInvalidConfig)

	t.Setenv(security.KeyEnv, hex.EncodeToString(key))
	store, err := cfg.SQLStore()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", store.Password)
}

func TestEncodeRoundTrip(t *testing.T) {
	data, err := Default().Encode()
	require.NoError(t, err)

	path := writeConfig(t, string(data))
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}
