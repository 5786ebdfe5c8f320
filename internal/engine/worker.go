package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/braingenix/bglog/internal/model"
	"github.com/braingenix/bglog/internal/sqlstore"
)

var workerSite = model.Site("transmit", "worker")

// Worker moves records from the record channel into the central store. It
// owns one store connection for its whole life and is the only goroutine
// that writes to the store or replays the spool.
type Worker struct {
	l       *Logger
	ch      *RecordChannel
	pool    *sqlstore.Pool
	breaker *Breaker
	diag    *slog.Logger

	conn  *sqlstore.Conn
	ctx   context.Context
	abort context.CancelFunc
	done  chan struct{}
}

func newWorker(l *Logger, breaker *Breaker) *Worker {
	ctx, abort := context.WithCancel(context.Background())
	return &Worker{
		l:       l,
		ch:      l.ch,
		pool:    l.pool,
		breaker: breaker,
		diag:    l.opts.Diag.With("component", "transmit"),
		ctx:     ctx,
		abort:   abort,
		done:    make(chan struct{}),
	}
}

// Done is closed once the worker has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Abort cancels store calls in flight. Records not yet committed stay in
// or move to the spool; the worker still has to be joined through Done.
func (w *Worker) Abort() {
	w.abort()
}

func (w *Worker) aborted() bool {
	return w.ctx.Err() != nil
}

// Run processes records until the control channel is stopped.
func (w *Worker) Run() {
	defer close(w.done)
	defer w.abort()

	ticker := time.NewTicker(w.l.opts.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ch.Stopped():
			w.shutdown()
			return
		case rec := <-w.ch.Records():
			w.persist(w.collect(rec))
		case <-ticker.C:
			w.maintain()
		}
	}
}

// collect gathers rec and whatever is already queued, up to BatchSize.
func (w *Worker) collect(rec model.Record) []model.Record {
	batch := []model.Record{rec}
	for len(batch) < w.l.opts.BatchSize {
		r, ok := w.ch.TryReceive()
		if !ok {
			break
		}
		batch = append(batch, r)
	}
	return batch
}

func (w *Worker) persist(batch []model.Record) {
	if w.breaker.Open() {
		w.l.divert(batch, true)
		return
	}
	if w.aborted() {
		w.l.divert(batch, false)
		return
	}

	err := w.insert(batch)
	if err != nil && !w.aborted() {
		w.l.stats.storeFailures.Add(1)
		w.diag.Warn("insert failed, retrying", "records", len(batch), "error", err)
		select {
		case <-time.After(w.l.opts.RetryBackoff):
		case <-w.ctx.Done():
		}
		err = w.insert(batch)
	}
	if err != nil {
		w.l.stats.storeFailures.Add(1)
		opened := w.breaker.Failure(w.l.opts.Now())
		w.l.divert(batch, opened)
		w.report(fmt.Sprintf("Store insert of %d records failed, moved to spool: %v", len(batch), err), opened)
		return
	}

	w.breaker.Success()
	w.l.stats.persisted.Add(uint64(len(batch)))
}

// report writes a worker failure to the local file and the diagnostic log.
func (w *Worker) report(msg string, opened bool) {
	level := model.LevelWarning
	if opened {
		level = model.LevelError
		msg += " (store marked unavailable)"
	}
	w.l.logLocal(workerSite, msg, level)
	w.diag.Warn(msg)
}

func (w *Worker) insert(batch []model.Record) error {
	ctx, cancel := context.WithTimeout(w.ctx, w.l.opts.ConnectTimeout)
	defer cancel()

	if w.conn == nil {
		conn, err := w.pool.Checkout(ctx)
		if err != nil {
			return fmt.Errorf("checkout: %w", err)
		}
		w.conn = conn
	}
	if err := w.conn.InsertBatch(ctx, batch); err != nil {
		// The connection may be broken; take a fresh one next time.
		w.releaseConn()
		return err
	}
	return nil
}

func (w *Worker) releaseConn() {
	if w.conn == nil {
		return
	}
	if err := w.conn.Release(); err != nil {
		w.diag.Debug("connection release failed", "error", err)
	}
	w.conn = nil
}

// maintain probes an open breaker and replays the spool when idle.
func (w *Worker) maintain() {
	if w.breaker.Open() {
		now := w.l.opts.Now()
		if !w.breaker.ProbeDue(now) {
			return
		}
		ctx, cancel := context.WithTimeout(w.ctx, w.l.opts.ConnectTimeout)
		err := w.pool.Ping(ctx)
		cancel()
		if err != nil {
			w.breaker.ProbeFailed(now)
			w.diag.Debug("store probe failed", "next", w.breaker.NextProbe(), "error", err)
			return
		}
		w.breaker.Success()
		w.l.recovered()
		w.l.logLocal(workerSite, "Central store reachable again, resuming transmission", model.LevelInfo)
		w.diag.Info("central store reachable again")
	}
	w.replay()
}

// replay sends spooled records oldest-first until the spool is empty, a
// batch fails, or shutdown is requested. Queued records are older than
// anything spooled after the channel filled, so replay waits for them.
func (w *Worker) replay() {
	for w.ch.Len() == 0 {
		select {
		case <-w.ch.Stopped():
			return
		default:
		}
		if !w.replayBatch() {
			return
		}
	}
}

// replayBatch sends one batch and reports whether replay should continue.
func (w *Worker) replayBatch() bool {
	if w.aborted() {
		return false
	}
	recs, err := w.l.takeReplayBatch(w.l.opts.BatchSize)
	if err != nil {
		w.diag.Error("spool read failed", "error", err)
		return false
	}
	if len(recs) == 0 {
		return false
	}

	if err := w.insert(recs); err != nil {
		w.l.stats.storeFailures.Add(1)
		opened := w.breaker.Failure(w.l.opts.Now())
		w.l.replayFailed(opened)
		w.report(fmt.Sprintf("Replay of %d spooled records failed: %v", len(recs), err), opened)
		return false
	}
	w.breaker.Success()
	w.l.stats.persisted.Add(uint64(len(recs)))
	if err := w.l.replayCommitted(len(recs)); err != nil {
		w.diag.Error("spool advance failed", "error", err)
		return false
	}
	return true
}

// shutdown commits what is still queued, replays the spool until it is
// empty, a batch fails or Abort is called, and releases the connection. Milestones are only logged when the worker
// holds a store connection.
func (w *Worker) shutdown() {
	site := model.Site("transmit", "shutdown")
	if w.conn != nil {
		w.l.Log(site, "Shutting down database log transmission", model.LevelInfo)
	}

	for {
		r, ok := w.ch.TryReceive()
		if !ok {
			break
		}
		w.persist(w.collect(r))
	}
	if !w.breaker.Open() {
		for w.replayBatch() {
		}
	}

	if w.conn != nil {
		w.l.Log(site, "Committed outstanding records", model.LevelInfo)
		w.releaseConn()
		w.l.Log(site, "Released store connection", model.LevelInfo)
		w.l.Log(site, "Database log transmission shutdown complete", model.LevelInfo)
	}
	w.diag.Debug("transmission worker stopped", "spooled", w.l.SpoolPending())
}
