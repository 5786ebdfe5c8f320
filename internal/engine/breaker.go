package engine

import "time"

// Breaker tracks consecutive store failures. Once open, the worker stops
// sending inserts and probes the store with exponential backoff instead.
// It is owned by the transmission worker and is not safe for concurrent use.
type Breaker struct {
	threshold int
	base      time.Duration
	max       time.Duration

	failures  int
	open      bool
	delay     time.Duration
	nextProbe time.Time
}

// NewBreaker returns a closed breaker.
func NewBreaker(threshold int, base, max time.Duration) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	if max < base {
		max = base
	}
	return &Breaker{threshold: threshold, base: base, max: max}
}

// Failure records a failed store operation and reports whether the breaker
// is open afterwards.
func (b *Breaker) Failure(now time.Time) bool {
	b.failures++
	if !b.open && b.failures >= b.threshold {
		b.trip(now)
	}
	return b.open
}

// ForceOpen opens the breaker regardless of the failure count.
func (b *Breaker) ForceOpen(now time.Time) {
	if !b.open {
		b.trip(now)
	}
}

func (b *Breaker) trip(now time.Time) {
	b.open = true
	b.delay = b.base
	b.nextProbe = now.Add(b.delay)
}

// Success closes the breaker and resets the failure count.
func (b *Breaker) Success() {
	b.failures = 0
	b.open = false
	b.delay = 0
	b.nextProbe = time.Time{}
}

// Open reports whether inserts are suspended.
func (b *Breaker) Open() bool {
	return b.open
}

// Failures returns the number of consecutive failures.
func (b *Breaker) Failures() int {
	return b.failures
}

// ProbeDue reports whether a reachability probe should run at now.
func (b *Breaker) ProbeDue(now time.Time) bool {
	return b.open && !now.Before(b.nextProbe)
}

// ProbeFailed doubles the probe delay, capped at the maximum.
func (b *Breaker) ProbeFailed(now time.Time) {
	b.failures++
	b.delay *= 2
	if b.delay > b.max {
		b.delay = b.max
	}
	if b.delay <= 0 {
		b.delay = b.base
	}
	b.nextProbe = now.Add(b.delay)
}

// NextProbe returns when the next probe is due.
func (b *Breaker) NextProbe() time.Time {
	return b.nextProbe
}
