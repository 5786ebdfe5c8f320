package engine

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/braingenix/bglog/internal/model"
	"github.com/braingenix/bglog/internal/sqlstore"
	"github.com/braingenix/bglog/internal/storage"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// centralDB creates an sqlite store with the log table in a temp dir and
// returns its config.
func centralDB(t *testing.T) sqlstore.Config {
	t.Helper()
	cfg := sqlstore.Config{
		Driver:   sqlstore.DriverSQLite,
		Database: filepath.Join(t.TempDir(), "central.db"),
	}
	withConn(t, cfg, func(conn *sqlstore.Conn) {
		require.NoError(t, conn.EnsureSchema(context.Background()))
	})
	return cfg
}

// withConn opens a separate pool on cfg for inspecting or altering the store.
func withConn(t *testing.T, cfg sqlstore.Config, fn func(conn *sqlstore.Conn)) {
	t.Helper()
	pool, err := sqlstore.Open(cfg)
	require.NoError(t, err)
	defer pool.Close()

	conn, err := pool.Checkout(context.Background())
	require.NoError(t, err)
	defer conn.Release()
	fn(conn)
}

// storedOldestFirst returns every row of the store in insertion order.
func storedOldestFirst(t *testing.T, cfg sqlstore.Config) []model.StoredRecord {
	t.Helper()
	var rows []model.StoredRecord
	withConn(t, cfg, func(conn *sqlstore.Conn) {
		var err error
		rows, err = conn.Recent(context.Background(), sqlstore.Query{Limit: 100000})
		require.NoError(t, err)
	})
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows
}

func baseOptions(t *testing.T) Options {
	return Options{
		LogDir:         t.TempDir(),
		NodeID:         "node-test",
		Compression:    storage.CompressionNone,
		FallbackWriter: &bytes.Buffer{},
		Diag:           quiet,
		RetryBackoff:   time.Millisecond,
		ProbeInterval:  10 * time.Millisecond,
	}
}

func readLocal(t *testing.T, l *Logger) []string {
	t.Helper()
	lines, err := storage.ReadLines(filepath.Join(l.opts.LogDir, l.opts.FileName))
	require.NoError(t, err)
	return lines
}
