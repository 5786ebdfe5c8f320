package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/braingenix/bglog/internal/model"
	"github.com/braingenix/bglog/internal/registry"
	"github.com/braingenix/bglog/internal/sqlstore"
	"github.com/braingenix/bglog/internal/storage"
)

// SinkState describes where Log routes records bound for the central store.
type SinkState int

const (
	SinkDisabled SinkState = iota // no store configured
	SinkHealthy                   // records go to the record channel
	SinkBacklog                   // records go to the spool until replay catches up
	SinkDegraded                  // store unreachable, records go to the spool
)

func (s SinkState) String() string {
	switch s {
	case SinkDisabled:
		return "disabled"
	case SinkHealthy:
		return "healthy"
	case SinkBacklog:
		return "backlog"
	case SinkDegraded:
		return "degraded"
	default:
		return fmt.Sprintf("SinkState(%d)", int(s))
	}
}

// Logger is the structured logger. Every record is written to the local
// file synchronously and handed to the transmission worker for the central
// store. Log is safe for concurrent use.
type Logger struct {
	opts Options
	node string

	// mu serializes the file, the buffer, routing decisions and the spool.
	// Sends on the record channel happen only while holding it, which keeps
	// records in call order across the channel and the spool.
	mu      sync.Mutex
	buf     LogBuffer
	file    *storage.LogFile
	console bool
	state   SinkState
	closing bool
	closed  bool
	spool   *Spool

	pool   *sqlstore.Pool
	ch     *RecordChannel
	worker *Worker

	stats       counters
	life        lifetime
	stopCleaner context.CancelFunc
	cleanerDone chan struct{}
	exitOnce    sync.Once
}

// Initialize validates opts, opens the local file and, when a store is
// configured, connects to it and starts the transmission worker.
//
// An unreachable store is not an error: the logger starts degraded, keeps
// writing the local file and spools records until the store comes back.
func Initialize(ctx context.Context, opts Options) (*Logger, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	file, err := storage.OpenLogFile(storage.FileOptions{
		Dir:            opts.LogDir,
		Name:           opts.FileName,
		RetentionLines: opts.RetentionLines,
		Compression:    opts.Compression,
		Logger:         opts.Diag,
		Now:            opts.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("open local log: %w", err)
	}

	node := opts.NodeID
	if node == "" {
		node = registry.ResolveNodeID(opts.LogDir)
	}

	l := &Logger{
		opts:    opts,
		node:    node,
		file:    file,
		console: opts.Console,
		state:   SinkDisabled,
		life: lifetime{
			base:   loadLifetimeStats(opts.LogDir),
			levels: make(map[model.Level]uint64),
		},
	}

	if opts.Store != nil || opts.Pool != nil {
		if err := l.startTransmission(ctx); err != nil {
			file.Close()
			return nil, err
		}
	}

	if opts.ArchiveRetention > 0 {
		l.startCleaner()
	}

	opts.Diag.Info("logger initialized",
		"node", node,
		"file", file.Path(),
		"sink", l.State().String(),
	)
	return l, nil
}

func (l *Logger) startTransmission(ctx context.Context) error {
	pool := l.opts.Pool
	if pool == nil {
		var err error
		pool, err = sqlstore.Open(*l.opts.Store)
		if err != nil {
			return err
		}
	}
	l.pool = pool

	if !l.opts.DisableSpool {
		spool, err := OpenSpool(filepath.Join(l.opts.LogDir, SpoolFileName))
		if err != nil {
			l.opts.Diag.Warn("spool unavailable, undeliverable records will be dropped", "error", err)
		} else {
			l.spool = spool
		}
	}

	breaker := NewBreaker(l.opts.BreakerThreshold, l.opts.ProbeInterval, l.opts.MaxProbeInterval)
	l.state = l.connect(ctx, breaker)
	l.ch = NewRecordChannel(l.opts.QueueSize)
	l.worker = newWorker(l, breaker)
	go l.worker.Run()
	return nil
}

// connect pings the store and picks the initial sink state.
func (l *Logger) connect(ctx context.Context, breaker *Breaker) SinkState {
	ctx, cancel := context.WithTimeout(ctx, l.opts.ConnectTimeout)
	defer cancel()

	err := l.pool.Ping(ctx)
	if err == nil && l.opts.EnsureSchema {
		err = l.ensureSchema(ctx)
	}
	if err != nil {
		l.stats.storeFailures.Add(1)
		breaker.ForceOpen(l.opts.Now())
		l.opts.Diag.Warn("central store unreachable, continuing with local file only", "error", err)
		return SinkDegraded
	}
	if l.spool != nil && l.spool.Pending() > 0 {
		l.opts.Diag.Info("replaying spooled records", "pending", l.spool.Pending())
		return SinkBacklog
	}
	return SinkHealthy
}

func (l *Logger) ensureSchema(ctx context.Context) error {
	conn, err := l.pool.Checkout(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	return conn.EnsureSchema(ctx)
}

func (l *Logger) startCleaner() {
	ctx, cancel := context.WithCancel(context.Background())
	l.stopCleaner = cancel
	l.cleanerDone = make(chan struct{})
	c := &storage.Cleaner{
		Dir:       l.opts.LogDir,
		Name:      l.opts.FileName,
		Retention: l.opts.ArchiveRetention,
		Logger:    l.opts.Diag,
		Now:       l.opts.Now,
	}
	go func() {
		defer close(l.cleanerDone)
		c.Sweep()
		c.Run(ctx, DefaultCleanInterval)
	}()
}

// NodeID returns the node identifier stamped on every record.
func (l *Logger) NodeID() string {
	return l.node
}

// Log records message at level for the given call site. It never blocks on
// the central store and never fails; local write errors fall back to the
// console and are counted.
func (l *Logger) Log(site model.CallSite, message string, level model.Level) {
	l.stats.logged.Add(1)
	l.life.observe(level)

	l.mu.Lock()
	defer l.mu.Unlock()

	rec := model.Record{
		Level:     level,
		Timestamp: model.Stamp(l.opts.Now()),
		Module:    site.Module,
		Function:  site.Function,
		Message:   message,
		NodeID:    l.node,
	}
	l.writeLocalLocked(rec)
	if l.closing {
		return
	}
	l.routeLocked(rec)
}

// Logf formats according to a format specifier and logs the result.
func (l *Logger) Logf(site model.CallSite, level model.Level, format string, args ...any) {
	l.Log(site, fmt.Sprintf(format, args...), level)
}

// logLocal writes to the file and console only. The worker reports its own
// failures through it so they never loop back into the store sink.
func (l *Logger) logLocal(site model.CallSite, message string, level model.Level) {
	l.stats.logged.Add(1)
	l.life.observe(level)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.writeLocalLocked(model.Record{
		Level:     level,
		Timestamp: model.Stamp(l.opts.Now()),
		Module:    site.Module,
		Function:  site.Function,
		Message:   message,
		NodeID:    l.node,
	})
}

func (l *Logger) writeLocalLocked(rec model.Record) {
	line := FormatLine(rec)
	if l.console {
		io.WriteString(l.opts.ConsoleWriter, line)
	}
	l.buf.Append(line)
	l.flushLocked()
}

func (l *Logger) flushLocked() {
	if l.buf.Len() == 0 {
		return
	}
	if l.closed {
		l.fallbackLocked(errors.New("logger closed"))
		return
	}
	err := l.buf.Flush(l.file)
	if err != nil {
		err = l.buf.Flush(l.file)
	}
	if err != nil {
		l.stats.fileFailures.Add(1)
		l.fallbackLocked(err)
	}
}

// fallbackLocked hands buffered text to stderr unless the console already
// showed it.
func (l *Logger) fallbackLocked(cause error) {
	text := l.buf.Drain()
	if l.console {
		return
	}
	l.opts.Diag.Warn("local log write failed, using fallback output", "error", cause)
	l.opts.FallbackWriter.Write(text)
}

func (l *Logger) routeLocked(rec model.Record) {
	switch l.state {
	case SinkHealthy:
		if l.ch.TrySend(rec) {
			l.stats.enqueued.Add(1)
			return
		}
		l.state = SinkBacklog
		l.opts.Diag.Warn("record channel full, spooling", "capacity", l.ch.Cap())
		l.spoolLocked(rec)
	case SinkBacklog, SinkDegraded:
		l.spoolLocked(rec)
	}
}

func (l *Logger) spoolLocked(recs ...model.Record) {
	if l.spool == nil {
		l.stats.dropped.Add(uint64(len(recs)))
		return
	}
	for _, r := range recs {
		if err := l.spool.Append(r); err != nil {
			l.stats.dropped.Add(1)
			l.opts.Diag.Error("spool append failed, record dropped", "error", err)
			continue
		}
		l.stats.spooled.Add(1)
	}
}

// divert moves a batch the worker could not store, and everything queued
// behind it, to the head of the spool. Both are older than anything already
// spooled.
func (l *Logger) divert(batch []model.Record, degraded bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.setFailedLocked(degraded)
	recs := append([]model.Record(nil), batch...)
	for {
		r, ok := l.ch.TryReceive()
		if !ok {
			break
		}
		recs = append(recs, r)
	}
	if l.spool == nil {
		l.stats.dropped.Add(uint64(len(recs)))
		return
	}
	if err := l.spool.Prepend(recs); err != nil {
		l.stats.dropped.Add(uint64(len(recs)))
		l.opts.Diag.Error("spool write failed, records dropped", "count", len(recs), "error", err)
		return
	}
	l.stats.spooled.Add(uint64(len(recs)))
}

// replayFailed is divert for a replay batch, which is still at the head of
// the spool. Anything queued meanwhile is newer, so it goes to the tail.
func (l *Logger) replayFailed(degraded bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.setFailedLocked(degraded)
	l.drainChannelLocked()
}

func (l *Logger) setFailedLocked(degraded bool) {
	if l.state == SinkDisabled {
		return
	}
	if degraded {
		l.state = SinkDegraded
	} else if l.state == SinkHealthy {
		l.state = SinkBacklog
	}
}

func (l *Logger) drainChannelLocked() {
	for {
		r, ok := l.ch.TryReceive()
		if !ok {
			return
		}
		l.spoolLocked(r)
	}
}

// recovered is called by the worker after a successful probe.
func (l *Logger) recovered() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != SinkDegraded {
		return
	}
	if l.spool != nil && l.spool.Pending() > 0 {
		l.state = SinkBacklog
	} else {
		l.state = SinkHealthy
	}
}

// takeReplayBatch returns the oldest spooled records while the sink is in
// backlog. When the batch empties the spool the sink turns healthy before
// the batch is sent, so later records take the channel and queue behind it.
func (l *Logger) takeReplayBatch(max int) ([]model.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != SinkBacklog {
		return nil, nil
	}
	if l.spool == nil || l.spool.Pending() == 0 {
		l.state = SinkHealthy
		return nil, nil
	}
	recs, err := l.spool.Peek(max)
	if err != nil {
		return nil, err
	}
	if len(recs) == l.spool.Pending() {
		l.state = SinkHealthy
	}
	return recs, nil
}

func (l *Logger) replayCommitted(n int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.replayed.Add(uint64(n))
	return l.spool.Advance(n)
}

// SetConsole switches console echo on or off.
func (l *Logger) SetConsole(on bool) {
	l.mu.Lock()
	l.console = on
	l.mu.Unlock()
}

// State returns the current sink state.
func (l *Logger) State() SinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// QueueDepth returns the number of records waiting in the record channel.
func (l *Logger) QueueDepth() int {
	if l.ch == nil {
		return 0
	}
	return l.ch.Len()
}

// SpoolPending returns the number of spooled records awaiting replay.
func (l *Logger) SpoolPending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.spool == nil || l.closed {
		return 0
	}
	return l.spool.Pending()
}

// Stats returns a snapshot of the pipeline counters.
func (l *Logger) Stats() Stats {
	return l.stats.snapshot()
}

// Lifetime returns counters accumulated across restarts.
func (l *Logger) Lifetime() LifetimeStats {
	return l.life.total(l.stats.snapshot())
}

// CheckClean reports whether s passes the injection check. A rejected
// string is logged at level 2 under the given field name.
func (l *Logger) CheckClean(field, s string) bool {
	if sqlstore.Clean(s) {
		return true
	}
	l.Log(model.Site("logger", "CheckClean"),
		fmt.Sprintf("Potential SQL injection rejected in %s: %q", field, s),
		model.LevelError)
	return false
}

// PullLog returns the n most recent records in the central store, newest
// first.
func (l *Logger) PullLog(ctx context.Context, n int) ([]model.StoredRecord, error) {
	return l.PullLogWhere(ctx, sqlstore.Query{Limit: n})
}

// PullLogWhere returns the most recent stored records matching q, newest
// first. It reads through its own connection and never waits on the worker.
func (l *Logger) PullLogWhere(ctx context.Context, q sqlstore.Query) ([]model.StoredRecord, error) {
	if !l.CheckClean("node filter", q.Node) {
		return nil, fmt.Errorf("%w: node filter", ErrRejectedInput)
	}
	if !l.CheckClean("module filter", q.Module) {
		return nil, fmt.Errorf("%w: module filter", ErrRejectedInput)
	}
	if q.Limit <= 0 {
		return nil, fmt.Errorf("pull log: count must be positive, got %d", q.Limit)
	}
	if l.pool == nil {
		return nil, ErrStoreDisabled
	}
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	conn, err := l.pool.Checkout(ctx)
	if err != nil {
		return nil, fmt.Errorf("pull log: %w", err)
	}
	defer conn.Release()

	return conn.Recent(ctx, q)
}

// CleanExit stops transmission, waits for the worker to commit what it
// holds, flushes the local file and releases every resource. Records logged
// afterwards go to the console or stderr only. A second call returns
// ErrClosed.
//
// When ctx ends before the worker is done, its store calls are cancelled
// and whatever it has not committed stays in the spool. The worker is
// joined before the spool, file or pool is closed in every case.
func (l *Logger) CleanExit(ctx context.Context) error {
	err := ErrClosed
	l.exitOnce.Do(func() { err = l.cleanExit(ctx) })
	return err
}

func (l *Logger) cleanExit(ctx context.Context) error {
	var errs []error

	l.mu.Lock()
	l.closing = true
	l.flushLocked()
	l.mu.Unlock()

	if l.worker != nil {
		l.ch.Stop()
		select {
		case <-l.worker.Done():
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("wait for transmission worker: %w", ctx.Err()))
			l.worker.Abort()
			<-l.worker.Done()
		}
	}

	if l.stopCleaner != nil {
		l.stopCleaner()
		<-l.cleanerDone
	}

	l.mu.Lock()
	l.flushLocked()
	if l.spool != nil {
		if err := l.spool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close spool: %w", err))
		}
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close local log: %w", err))
	}
	l.closed = true
	l.mu.Unlock()

	if l.pool != nil {
		if err := l.pool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store pool: %w", err))
		}
	}

	if err := saveLifetimeStats(l.opts.LogDir, l.Lifetime()); err != nil {
		l.opts.Diag.Warn("failed to persist lifetime stats", "error", err)
	}
	return errors.Join(errs...)
}
