package stm

import (
	"runtime"
	"time"

	"github.com/mnohosten/go-stm/internal/epoch"
)

// Backoff is the pluggable delay strategy used by the reclamation
// synchronization spin loop and by the write-lock CAS retry loop. It is the
// Go idiomatic substitute for lstm's exponential_delay/yield template
// parameters (original_source/include/lstm/detail/backoff.hpp): a small
// interface instead of a compile-time strategy type, configured via
// WithBackoff.
type Backoff = epoch.Backoff

// YieldBackoff calls runtime.Gosched on every Wait, matching lstm's
// default_backoff = yield. This is the Domain default.
type YieldBackoff struct{}

func (YieldBackoff) Wait()  { runtime.Gosched() }
func (YieldBackoff) Reset() {}

// ExponentialBackoff sleeps for Min, doubling on each subsequent Wait up to
// Max, then holding there - ported directly from
// original_source/include/lstm/detail/exponential_delay.hpp.
type ExponentialBackoff struct {
	Min, Max time.Duration

	cur time.Duration
}

func (b *ExponentialBackoff) Wait() {
	if b.cur == 0 {
		b.cur = b.Min
	}
	time.Sleep(b.cur)
	b.cur *= 2
	if b.cur > b.Max {
		b.cur = b.Max
	}
}

func (b *ExponentialBackoff) Reset() { b.cur = 0 }

// NewExponentialBackoff returns an ExponentialBackoff with sensible
// defaults (1us to 1ms), matching the magnitude lstm's own default
// instantiation uses for its reclamation-path backoff.
func NewExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{Min: time.Microsecond, Max: time.Millisecond}
}

// BackoffFactory produces a fresh Backoff for a single spin loop. Backoff
// implementations carry mutable state (ExponentialBackoff's current
// interval), so a factory is required rather than a shared instance:
// concurrent commits must not share one Backoff's state.
type BackoffFactory func() Backoff

func defaultBackoffFactory() Backoff { return YieldBackoff{} }
