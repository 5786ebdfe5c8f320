package config

import (
	"bytes"
	"encoding"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/pflag"

	"github.com/braingenix/bglog/internal/engine"
	"github.com/braingenix/bglog/internal/logging"
	"github.com/braingenix/bglog/internal/pkg/security"
	"github.com/braingenix/bglog/internal/sqlstore"
	"github.com/braingenix/bglog/internal/storage"
)

// EnvPrefix is prepended to every env tag.
const EnvPrefix = "BGLOG_"

// DefaultPath is the configuration file read when none is given.
const DefaultPath = "bglog.toml"

// Duration is a time.Duration written as "5s" in TOML and env values.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the complete bglog configuration.
type Config struct {
	Logger   LoggerConfig   `toml:"logger"`
	Store    StoreConfig    `toml:"store"`
	Transmit TransmitConfig `toml:"transmit"`
	Diag     logging.Config `toml:"diag"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

type LoggerConfig struct {
	Dir              string   `toml:"dir" env:"LOGGER_DIR" flag:"log-dir"`
	File             string   `toml:"file" env:"LOGGER_FILE"`
	RetentionLines   int      `toml:"retention_lines" env:"LOGGER_RETENTION_LINES" flag:"retention-lines"`
	Console          bool     `toml:"console" env:"LOGGER_CONSOLE" flag:"console"`
	Compression      string   `toml:"compression" env:"LOGGER_COMPRESSION" flag:"compression"`
	ArchiveRetention Duration `toml:"archive_retention" env:"LOGGER_ARCHIVE_RETENTION"`
	QueueSize        int      `toml:"queue_size" env:"LOGGER_QUEUE_SIZE"`
	BatchSize        int      `toml:"batch_size" env:"LOGGER_BATCH_SIZE"`
	NodeID           string   `toml:"node_id" env:"LOGGER_NODE_ID" flag:"node-id"`
}

type StoreConfig struct {
	Enabled      bool     `toml:"enabled" env:"STORE_ENABLED" flag:"store"`
	Driver       string   `toml:"driver" env:"STORE_DRIVER" flag:"store-driver"`
	Username     string   `toml:"username" env:"STORE_USERNAME"`
	Password     string   `toml:"password" env:"STORE_PASSWORD"`
	Host         string   `toml:"host" env:"STORE_HOST" flag:"store-host"`
	Database     string   `toml:"database" env:"STORE_DATABASE" flag:"store-database"`
	Table        string   `toml:"table" env:"STORE_TABLE"`
	Timeout      Duration `toml:"timeout" env:"STORE_TIMEOUT"`
	EnsureSchema bool     `toml:"ensure_schema" env:"STORE_ENSURE_SCHEMA"`
	KeyFile      string   `toml:"key_file" env:"STORE_KEY_FILE" flag:"key-file"`
}

type TransmitConfig struct {
	Spool            bool     `toml:"spool" env:"TRANSMIT_SPOOL"`
	BreakerThreshold int      `toml:"breaker_threshold" env:"TRANSMIT_BREAKER_THRESHOLD"`
	RetryBackoff     Duration `toml:"retry_backoff" env:"TRANSMIT_RETRY_BACKOFF"`
	ProbeInterval    Duration `toml:"probe_interval" env:"TRANSMIT_PROBE_INTERVAL"`
	MaxProbeInterval Duration `toml:"max_probe_interval" env:"TRANSMIT_MAX_PROBE_INTERVAL"`
}

type MetricsConfig struct {
	Addr         string `toml:"addr" env:"METRICS_ADDR" flag:"metrics-addr"`
	User         string `toml:"user" env:"METRICS_USER"`
	PasswordHash string `toml:"password_hash" env:"METRICS_PASSWORD_HASH"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Logger: LoggerConfig{
			Dir:            "Logs",
			File:           storage.DefaultFileName,
			RetentionLines: 250000,
			Console:        true,
			Compression:    string(storage.CompressionZstd),
			QueueSize:      engine.DefaultQueueSize,
			BatchSize:      engine.DefaultBatchSize,
		},
		Store: StoreConfig{
			Driver:  sqlstore.DriverMySQL,
			Table:   sqlstore.DefaultTable,
			Timeout: Duration{5 * time.Second},
			KeyFile: filepath.Join(".bglog", "master.key"),
		},
		Transmit: TransmitConfig{
			Spool:            true,
			BreakerThreshold: engine.DefaultBreakerThreshold,
			RetryBackoff:     Duration{engine.DefaultRetryBackoff},
			ProbeInterval:    Duration{engine.DefaultProbeInterval},
			MaxProbeInterval: Duration{engine.DefaultMaxProbeInterval},
		},
		Diag: logging.Config{Level: "info", Format: "text"},
	}
}

// Load builds the configuration with precedence flags > env > file >
// defaults. Only flags explicitly set on the command line count. A missing
// file is tolerated when path is the default path.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath
	}
	if err := cfg.readFile(path); err != nil {
		if !(errors.Is(err, os.ErrNotExist) && path == DefaultPath) {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if flags != nil {
		if err := cfg.applyFlags(flags); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads path over the defaults and applies env overrides.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.readFile(path); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("failed to parse TOML config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	return walkFields(reflect.ValueOf(c).Elem(), func(field reflect.Value, sf reflect.StructField) error {
		key := sf.Tag.Get("env")
		if key == "" {
			return nil
		}
		value, ok := os.LookupEnv(EnvPrefix + key)
		if !ok || value == "" {
			return nil
		}
		if err := setFieldValueFromString(field, value); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		return nil
	})
}

func (c *Config) applyFlags(flags *pflag.FlagSet) error {
	return walkFields(reflect.ValueOf(c).Elem(), func(field reflect.Value, sf reflect.StructField) error {
		name := sf.Tag.Get("flag")
		if name == "" {
			return nil
		}
		f := flags.Lookup(name)
		if f == nil || !f.Changed {
			return nil
		}
		if err := setFieldValueFromString(field, f.Value.String()); err != nil {
			return fmt.Errorf("--%s: %w", name, err)
		}
		return nil
	})
}

// walkFields visits every leaf field of the nested config structs.
func walkFields(v reflect.Value, fn func(reflect.Value, reflect.StructField) error) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		sf := t.Field(i)
		if field.Kind() == reflect.Struct && sf.Type != reflect.TypeOf(Duration{}) {
			if err := walkFields(field, fn); err != nil {
				return err
			}
			continue
		}
		if err := fn(field, sf); err != nil {
			return err
		}
	}
	return nil
}

// setFieldValueFromString sets a field value from string (for env vars and flags).
func setFieldValueFromString(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	if u, ok := field.Addr().Interface().(encoding.TextUnmarshaler); ok {
		return u.UnmarshalText([]byte(value))
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int:
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}

// Validate reports configuration errors. Every error wraps
// sqlstore.ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{sqlstore.ErrInvalidConfig}, args...)...))
	}

	if c.Logger.Dir == "" {
		bad("logger.dir is required")
	}
	if c.Logger.RetentionLines < 0 || c.Logger.RetentionLines == 1 {
		bad("logger.retention_lines must be 0 or at least 2, got %d", c.Logger.RetentionLines)
	}
	if _, err := storage.ParseCompression(c.Logger.Compression); err != nil {
		bad("logger.compression: %v", err)
	}
	if c.Logger.QueueSize < 0 || c.Logger.BatchSize < 0 {
		bad("logger.queue_size and logger.batch_size must not be negative")
	}
	if c.Transmit.BreakerThreshold < 0 {
		bad("transmit.breaker_threshold must not be negative")
	}
	if _, ok := logging.ParseLevel(c.Diag.Level); !ok {
		bad("diag.level %q is not one of debug, info, warn, error", c.Diag.Level)
	}
	if c.Store.Enabled {
		if err := c.storeConfig(c.Store.Password).Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if (c.Metrics.User == "") != (c.Metrics.PasswordHash == "") {
		bad("metrics.user and metrics.password_hash must be set together")
	}
	return errors.Join(errs...)
}

func (c *Config) storeConfig(password string) sqlstore.Config {
	return sqlstore.Config{
		Driver:   c.Store.Driver,
		Username: c.Store.Username,
		Password: password,
		Host:     c.Store.Host,
		Database: c.Store.Database,
		Table:    c.Store.Table,
		Timeout:  c.Store.Timeout.Duration,
	}
}

// SQLStore returns the store settings with a sealed password opened.
// The master key is only loaded when the password is sealed.
func (c *Config) SQLStore() (sqlstore.Config, error) {
	password := c.Store.Password
	if security.IsSealed(password) {
		kr, _, err := security.LoadKeyring(c.Store.KeyFile, false)
		if err != nil {
			return sqlstore.Config{}, fmt.Errorf("store password is sealed: %w", err)
		}
		if password, err = kr.Open(password); err != nil {
			return sqlstore.Config{}, fmt.Errorf("%w: store password: %v", sqlstore.ErrInvalidConfig, err)
		}
	}
	return c.storeConfig(password), nil
}

// EngineOptions translates the configuration into logger options.
func (c *Config) EngineOptions(diag *slog.Logger) (engine.Options, error) {
	compression, err := storage.ParseCompression(c.Logger.Compression)
	if err != nil {
		return engine.Options{}, err
	}
	opts := engine.Options{
		LogDir:           c.Logger.Dir,
		FileName:         c.Logger.File,
		RetentionLines:   c.Logger.RetentionLines,
		Compression:      compression,
		ArchiveRetention: c.Logger.ArchiveRetention.Duration,
		Console:          c.Logger.Console,
		NodeID:           c.Logger.NodeID,
		QueueSize:        c.Logger.QueueSize,
		BatchSize:        c.Logger.BatchSize,
		DisableSpool:     !c.Transmit.Spool,
		BreakerThreshold: c.Transmit.BreakerThreshold,
		RetryBackoff:     c.Transmit.RetryBackoff.Duration,
		ProbeInterval:    c.Transmit.ProbeInterval.Duration,
		MaxProbeInterval: c.Transmit.MaxProbeInterval.Duration,
		ConnectTimeout:   c.Store.Timeout.Duration,
		EnsureSchema:     c.Store.EnsureSchema,
		Diag:             diag,
	}
	if c.Store.Enabled {
		store, err := c.SQLStore()
		if err != nil {
			return engine.Options{}, err
		}
		opts.Store = &store
	}
	return opts, nil
}

// Encode renders the configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}
