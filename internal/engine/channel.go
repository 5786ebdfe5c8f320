package engine

import (
	"sync"

	"github.com/braingenix/bglog/internal/model"
)

// RecordChannel carries records from any number of producers to the single
// transmission worker, alongside a control channel used to request shutdown.
type RecordChannel struct {
	records  chan model.Record
	stop     chan struct{}
	stopOnce sync.Once
}

// NewRecordChannel creates a channel holding up to size queued records.
func NewRecordChannel(size int) *RecordChannel {
	return &RecordChannel{
		records: make(chan model.Record, size),
		stop:    make(chan struct{}),
	}
}

// TrySend queues r without blocking. It reports false when the queue is
// full or shutdown has been requested.
func (c *RecordChannel) TrySend(r model.Record) bool {
	select {
	case <-c.stop:
		return false
	default:
	}

	select {
	case c.records <- r:
		return true
	default:
		return false
	}
}

// TryReceive takes a queued record without blocking.
func (c *RecordChannel) TryReceive() (model.Record, bool) {
	select {
	case r := <-c.records:
		return r, true
	default:
		return model.Record{}, false
	}
}

// Records is the consumer side of the queue.
func (c *RecordChannel) Records() <-chan model.Record {
	return c.records
}

// Stop raises the control signal. Safe to call more than once.
func (c *RecordChannel) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Stopped is closed once Stop has been called.
func (c *RecordChannel) Stopped() <-chan struct{} {
	return c.stop
}

// Len returns the number of queued records.
func (c *RecordChannel) Len() int {
	return len(c.records)
}

// Cap returns the queue capacity.
func (c *RecordChannel) Cap() int {
	return cap(c.records)
}
