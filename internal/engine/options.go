package engine

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/braingenix/bglog/internal/sqlstore"
	"github.com/braingenix/bglog/internal/storage"
)

// Defaults applied by Initialize to zero-valued options.
const (
	DefaultQueueSize        = 10000
	DefaultBatchSize        = 100
	DefaultBreakerThreshold = 3
	DefaultRetryBackoff     = 200 * time.Millisecond
	DefaultProbeInterval    = time.Second
	DefaultMaxProbeInterval = 30 * time.Second
	DefaultConnectTimeout   = 5 * time.Second
	DefaultCleanInterval    = time.Hour
)

// Options configures a Logger.
type Options struct {
	// Store enables the central store. Nil means file-only.
	Store *sqlstore.Config
	// Pool is used instead of opening Store when set. The logger takes
	// ownership and closes it on CleanExit.
	Pool *sqlstore.Pool
	// EnsureSchema creates the log table during Initialize.
	EnsureSchema bool

	LogDir           string
	FileName         string
	RetentionLines   int // 0 disables rotation
	Compression      storage.Compression
	ArchiveRetention time.Duration // 0 keeps archives forever

	Console        bool
	ConsoleWriter  io.Writer // default os.Stdout
	FallbackWriter io.Writer // default os.Stderr

	NodeID string

	QueueSize        int
	BatchSize        int
	DisableSpool     bool
	BreakerThreshold int
	RetryBackoff     time.Duration
	ProbeInterval    time.Duration
	MaxProbeInterval time.Duration
	ConnectTimeout   time.Duration

	// Diag receives process-internal diagnostics. It must not be built on
	// a Handler for the same Logger.
	Diag *slog.Logger
	Now  func() time.Time
}

func (o Options) withDefaults() Options {
	if o.FileName == "" {
		o.FileName = storage.DefaultFileName
	}
	if o.Compression == "" {
		o.Compression = storage.CompressionZstd
	}
	if o.ConsoleWriter == nil {
		o.ConsoleWriter = os.Stdout
	}
	if o.FallbackWriter == nil {
		o.FallbackWriter = os.Stderr
	}
	if o.QueueSize == 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.BatchSize == 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.BreakerThreshold == 0 {
		o.BreakerThreshold = DefaultBreakerThreshold
	}
	if o.RetryBackoff == 0 {
		o.RetryBackoff = DefaultRetryBackoff
	}
	if o.ProbeInterval == 0 {
		o.ProbeInterval = DefaultProbeInterval
	}
	if o.MaxProbeInterval == 0 {
		o.MaxProbeInterval = DefaultMaxProbeInterval
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.Diag == nil {
		o.Diag = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Validate reports option combinations Initialize refuses to start with.
func (o Options) Validate() error {
	if o.LogDir == "" {
		return fmt.Errorf("%w: log directory is required", sqlstore.ErrInvalidConfig)
	}
	if o.RetentionLines < 0 || o.RetentionLines == 1 {
		return fmt.Errorf("%w: retention lines must be 0 or at least 2, got %d", sqlstore.ErrInvalidConfig, o.RetentionLines)
	}
	if o.QueueSize < 0 || o.BatchSize < 0 || o.BreakerThreshold < 0 {
		return fmt.Errorf("%w: sizes must not be negative", sqlstore.ErrInvalidConfig)
	}
	if o.Pool == nil && o.Store != nil {
		if err := o.Store.Validate(); err != nil {
			return err
		}
	}
	return nil
}
