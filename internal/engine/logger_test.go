package engine

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/braingenix/bglog/internal/model"
	"github.com/braingenix/bglog/internal/sqlstore"
	"github.com/braingenix/bglog/internal/storage"
)

func TestFileOnlyHeaderThenRecordsInOrder(t *testing.T) {
	opts := baseOptions(t)
	l, err := Initialize(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, SinkDisabled, l.State())

	site := model.Site("main", "run")
	l.Log(site, "first", model.LevelInfo)
	l.Log(site, "second", model.LevelWarning)
	l.Logf(site, model.LevelError, "third %d", 3)
	require.NoError(t, l.CleanExit(context.Background()))

	// Reopening must not write a second header.
	l, err = Initialize(context.Background(), opts)
	require.NoError(t, err)
	l.Log(site, "fourth", 7)
	require.NoError(t, l.CleanExit(context.Background()))

	lines := readLocal(t, l)
	require.Len(t, lines, 5)
	assert.Equal(t, strings.TrimSuffix(storage.Header, "\n"), lines[0])
	for i, want := range []string{"first", "second", "third 3", "fourth"} {
		assert.True(t, strings.HasSuffix(lines[i+1], "] "+want), "line %d: %s", i+1, lines[i+1])
	}
	assert.True(t, strings.HasPrefix(lines[2], "[    1] "))
	assert.True(t, strings.HasPrefix(lines[4], "[    7] "))
	assert.Contains(t, lines[1], fmt.Sprintf("[%16s] [%19s]", "main", "run"))
}

func TestInitializeRejectsBadOptions(t *testing.T) {
	_, err := Initialize(context.Background(), Options{})
	assert.ErrorIs(t, err, sqlstore.ErrInvalidConfig)

	opts := baseOptions(t)
	opts.RetentionLines = 1
	_, err = Initialize(context.Background(), opts)
	assert.ErrorIs(t, err, sqlstore.ErrInvalidConfig)

	opts = baseOptions(t)
	opts.Store = &sqlstore.Config{Driver: sqlstore.DriverMySQL, Host: "db:3306"}
	_, err = Initialize(context.Background(), opts)
	assert.ErrorIs(t, err, sqlstore.ErrInvalidConfig)
}

func TestUnreachableStoreRunsFileOnly(t *testing.T) {
	opts := baseOptions(t)
	opts.ConnectTimeout = 2 * time.Second
	opts.Store = &sqlstore.Config{
		Driver:   sqlstore.DriverMySQL,
		Username: "bg",
		Host:     "127.0.0.1:1",
		Database: "logs",
	}

	l, err := Initialize(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, SinkDegraded, l.State())

	l.Log(model.Site("main", "main"), "Started", 3)
	require.NoError(t, l.CleanExit(context.Background()))

	lines := readLocal(t, l)
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], "[    3] "))
	assert.True(t, strings.HasSuffix(lines[1], "] Started"))

	st := l.Stats()
	assert.Zero(t, st.Persisted)
	assert.Equal(t, uint64(1), st.Spooled)
}

func TestUnreachableStoreWithoutSpoolDrops(t *testing.T) {
	opts := baseOptions(t)
	opts.DisableSpool = true
	opts.Store = &sqlstore.Config{
		Driver:   sqlstore.DriverMySQL,
		Username: "bg",
		Host:     "127.0.0.1:1",
		Database: "logs",
	}

	l, err := Initialize(context.Background(), opts)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		l.Log(model.Site("main", "main"), "lost", model.LevelInfo)
	}
	require.NoError(t, l.CleanExit(context.Background()))
	assert.Equal(t, uint64(3), l.Stats().Dropped)
	assert.Len(t, readLocal(t, l), 4)
}

func TestHealthyBatchOneRowPerRecord(t *testing.T) {
	cfg := centralDB(t)
	opts := baseOptions(t)
	opts.Store = &cfg

	l, err := Initialize(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, SinkHealthy, l.State())

	for i := 0; i < 10; i++ {
		l.Logf(model.Site("batch", "loop"), model.LevelInfo, "record %d", i)
	}
	require.NoError(t, l.CleanExit(context.Background()))

	rows := storedOldestFirst(t, cfg)
	require.Len(t, rows, 10)
	for i, r := range rows {
		assert.Equal(t, fmt.Sprintf("record %d", i), r.Message)
		assert.Equal(t, "node-test", r.NodeID)
	}
	assert.Equal(t, uint64(10), l.Stats().Persisted)
}

func TestPullLogRoundTrip(t *testing.T) {
	cfg := centralDB(t)
	opts := baseOptions(t)
	opts.Store = &cfg
	now := time.Date(2024, 5, 6, 7, 8, 9, 123456789, time.UTC)
	opts.Now = func() time.Time { return now }

	l, err := Initialize(context.Background(), opts)
	require.NoError(t, err)
	defer l.CleanExit(context.Background())

	l.Log(model.Site("api", "handle"), "it's a \"quoted\" message", model.LevelWarning)
	require.Eventually(t, func() bool { return l.Stats().Persisted == 1 }, 5*time.Second, 10*time.Millisecond)

	rows, err := l.PullLog(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	got := rows[0]
	assert.Equal(t, model.LevelWarning, got.Level)
	assert.True(t, model.Stamp(now).Equal(got.Timestamp), "timestamp %v", got.Timestamp)
	assert.Equal(t, "api", got.Module)
	assert.Equal(t, "handle", got.Function)
	assert.Equal(t, "it's a \"quoted\" message", got.Message)
	assert.Equal(t, "node-test", got.NodeID)
	assert.NotZero(t, got.ID)

	_, err = l.PullLog(context.Background(), 0)
	assert.Error(t, err)
}

func TestPullLogWithoutStore(t *testing.T) {
	l, err := Initialize(context.Background(), baseOptions(t))
	require.NoError(t, err)
	defer l.CleanExit(context.Background())

	_, err = l.PullLog(context.Background(), 5)
	assert.ErrorIs(t, err, ErrStoreDisabled)
}

func TestPullLogWhereRejectsInjection(t *testing.T) {
	cfg := centralDB(t)
	opts := baseOptions(t)
	opts.Store = &cfg

	l, err := Initialize(context.Background(), opts)
	require.NoError(t, err)

	_, err = l.PullLogWhere(context.Background(), sqlstore.Query{Limit: 5, Module: "x'; DROP TABLE log;"})
	assert.ErrorIs(t, err, ErrRejectedInput)

	_, err = l.PullLogWhere(context.Background(), sqlstore.Query{Limit: 5, Node: "node-test"})
	assert.NoError(t, err)

	assert.True(t, l.CheckClean("name", "plain words, even 'quotes'"))
	require.NoError(t, l.CleanExit(context.Background()))

	lines := readLocal(t, l)
	require.GreaterOrEqual(t, len(lines), 2)
	assert.True(t, strings.HasPrefix(lines[1], "[    2] "))
	assert.Contains(t, lines[1], "Potential SQL injection rejected in module filter")

	// The warning itself reaches the store like any other record.
	rows := storedOldestFirst(t, cfg)
	require.Len(t, rows, 1)
	assert.Equal(t, model.LevelError, rows[0].Level)
}

func TestShutdownCommitsEverythingEnqueued(t *testing.T) {
	cfg := centralDB(t)
	opts := baseOptions(t)
	opts.Store = &cfg
	opts.BatchSize = 16

	l, err := Initialize(context.Background(), opts)
	require.NoError(t, err)
	for i := 0; i < 500; i++ {
		l.Logf(model.Site("burst", "loop"), model.LevelInfo, "record %03d", i)
	}
	require.NoError(t, l.CleanExit(context.Background()))

	rows := storedOldestFirst(t, cfg)
	require.Len(t, rows, 500)
	for i, r := range rows {
		require.Equal(t, fmt.Sprintf("record %03d", i), r.Message)
	}

	lines := readLocal(t, l)
	assert.True(t, strings.HasSuffix(lines[len(lines)-1], "] Database log transmission shutdown complete"))
}

func TestShutdownReleasesConnectionOnce(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	pool, err := sqlstore.NewPool(db, sqlstore.DriverMySQL, "log")
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO `log`").
		ExpectExec().
		WithArgs(0, sqlmock.AnyArg(), "svc", "start", "hello", "node-test").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectClose()

	opts := baseOptions(t)
	opts.Pool = pool
	l, err := Initialize(context.Background(), opts)
	require.NoError(t, err)

	l.Log(model.Site("svc", "start"), "hello", model.LevelInfo)
	require.NoError(t, l.CleanExit(context.Background()))
	assert.ErrorIs(t, l.CleanExit(context.Background()), ErrClosed)

	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, uint64(1), l.Stats().Persisted)
}

func TestConcurrentProducersKeepOrder(t *testing.T) {
	cfg := centralDB(t)
	opts := baseOptions(t)
	opts.Store = &cfg

	l, err := Initialize(context.Background(), opts)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			module := fmt.Sprintf("producer-%d", p)
			for i := 0; i < 25; i++ {
				l.Log(model.Site(module, fmt.Sprintf("call-%03d", i)), "tick", model.LevelInfo)
			}
		}(p)
	}
	wg.Wait()
	require.NoError(t, l.CleanExit(context.Background()))

	rows := storedOldestFirst(t, cfg)
	require.Len(t, rows, 100)
	next := map[string]int{}
	for _, r := range rows {
		assert.Equal(t, fmt.Sprintf("call-%03d", next[r.Module]), r.Function, "producer %s", r.Module)
		next[r.Module]++
	}
	assert.Len(t, next, 4)

	// The file holds the same records in the same order.
	var fileOrder []string
	for _, line := range readLocal(t, l)[1:] {
		if strings.Contains(line, "producer-") {
			fileOrder = append(fileOrder, line)
		}
	}
	require.Len(t, fileOrder, 100)
	for i, r := range rows {
		assert.Contains(t, fileOrder[i], r.Module)
		assert.Contains(t, fileOrder[i], r.Function)
	}
}

func TestStoreOutageSpoolsAndReplaysInOrder(t *testing.T) {
	cfg := centralDB(t)
	opts := baseOptions(t)
	opts.Store = &cfg
	opts.BreakerThreshold = 1
	opts.MaxProbeInterval = 20 * time.Millisecond

	l, err := Initialize(context.Background(), opts)
	require.NoError(t, err)
	site := model.Site("outage", "run")

	l.Log(site, "before", model.LevelInfo)
	require.Eventually(t, func() bool { return l.Stats().Persisted == 1 }, 5*time.Second, 5*time.Millisecond)

	db, err := sql.Open("sqlite", "file:"+cfg.Database+"?_pragma=busy_timeout(5000)")
	require.NoError(t, err)
	_, err = db.Exec(`DROP TABLE "log"`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	l.Log(site, "during-1", model.LevelInfo)
	require.Eventually(t, func() bool { return l.State() != SinkHealthy }, 5*time.Second, 5*time.Millisecond)
	l.Log(site, "during-2", model.LevelInfo)
	l.Log(site, "during-3", model.LevelInfo)
	assert.GreaterOrEqual(t, l.Stats().StoreFailures, uint64(2))

	withConn(t, cfg, func(conn *sqlstore.Conn) {
		require.NoError(t, conn.EnsureSchema(context.Background()))
	})
	require.Eventually(t, func() bool {
		return l.State() == SinkHealthy && l.SpoolPending() == 0 && l.Stats().Replayed >= 3
	}, 5*time.Second, 5*time.Millisecond)

	l.Log(site, "after", model.LevelInfo)
	require.NoError(t, l.CleanExit(context.Background()))

	var got []string
	for _, r := range storedOldestFirst(t, cfg) {
		if r.Module == "outage" {
			got = append(got, r.Message)
		}
	}
	assert.Equal(t, []string{"during-1", "during-2", "during-3", "after"}, got)
	assert.GreaterOrEqual(t, l.Stats().Replayed, uint64(3))
}

func TestSpoolSurvivesRestart(t *testing.T) {
	opts := baseOptions(t)
	opts.Store = &sqlstore.Config{
		Driver:   sqlstore.DriverMySQL,
		Username: "bg",
		Host:     "127.0.0.1:1",
		Database: "logs",
	}
	l, err := Initialize(context.Background(), opts)
	require.NoError(t, err)
	l.Log(model.Site("boot", "main"), "queued while offline", model.LevelInfo)
	require.NoError(t, l.CleanExit(context.Background()))

	cfg := centralDB(t)
	opts.Store = &cfg
	l, err = Initialize(context.Background(), opts)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return l.State() == SinkHealthy }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, l.CleanExit(context.Background()))

	rows := storedOldestFirst(t, cfg)
	require.NotEmpty(t, rows)
	assert.Equal(t, "queued while offline", rows[0].Message)
}

func TestConsoleEchoAndFallback(t *testing.T) {
	var console, fallback bytes.Buffer
	opts := baseOptions(t)
	opts.ConsoleWriter = &console
	opts.FallbackWriter = &fallback

	l, err := Initialize(context.Background(), opts)
	require.NoError(t, err)

	l.Log(model.Site("m", "f"), "quiet", model.LevelInfo)
	l.SetConsole(true)
	l.Log(model.Site("m", "f"), "loud", model.LevelInfo)
	assert.NotContains(t, console.String(), "quiet")
	assert.Contains(t, console.String(), "loud")

	l.SetConsole(false)
	require.NoError(t, l.CleanExit(context.Background()))
	l.Log(model.Site("m", "f"), "late", model.LevelInfo)
	assert.Contains(t, fallback.String(), "] late")
	assert.Len(t, readLocal(t, l), 3)
}

func TestSlogHandlerBridge(t *testing.T) {
	l, err := Initialize(context.Background(), baseOptions(t))
	require.NoError(t, err)

	log := slog.New(NewHandler(l, "cli", slog.LevelInfo))
	log.Debug("hidden")
	log.Warn("disk low", "fn", "check", "free", 12)
	log.With("component", "pull").Error("query failed")
	require.NoError(t, l.CleanExit(context.Background()))

	lines := readLocal(t, l)
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "[    1] "))
	assert.Contains(t, lines[1], fmt.Sprintf("[%16s] [%19s] disk low free=12", "cli", "check"))
	assert.Contains(t, lines[2], fmt.Sprintf("[%16s]", "pull"))
	assert.True(t, strings.HasPrefix(lines[2], "[    2] "))
}

func TestLifetimeStatsPersist(t *testing.T) {
	opts := baseOptions(t)
	l, err := Initialize(context.Background(), opts)
	require.NoError(t, err)
	l.Log(model.Site("m", "f"), "one", model.LevelInfo)
	l.Log(model.Site("m", "f"), "two", model.LevelError)
	require.NoError(t, l.CleanExit(context.Background()))

	l, err = Initialize(context.Background(), opts)
	require.NoError(t, err)
	l.Log(model.Site("m", "f"), "three", model.LevelInfo)
	life := l.Lifetime()
	require.NoError(t, l.CleanExit(context.Background()))

	assert.Equal(t, uint64(3), life.TotalLogged)
	assert.Equal(t, uint64(2), life.LevelCounts["INFO"])
	assert.Equal(t, uint64(1), life.LevelCounts["ERROR"])
}
