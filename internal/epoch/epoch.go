// Package epoch implements the safe-memory-reclamation building block the
// stm engine relies on: every active transaction publishes the clock value
// it started at into a Slot, and the reclamation path walks every
// registered Slot to find a lower bound on the oldest snapshot any
// transaction might still be reading from.
//
// This mirrors lstm's thread_gp / thread_synchronization node list, but
// trades the original's cache-line padded intrusive linked list (built for
// a language with manual memory layout control) for a mutex-guarded slice,
// the same shape Jekaa-go-mvcc-map uses for its activeTxs bookkeeping.
package epoch

import (
	"sync"
	"sync/atomic"

	"github.com/mnohosten/go-stm/clock"
)

// Backoff is the pluggable delay strategy used while spinning on a slot
// that has not yet advanced past the synchronization target. Implementations
// must be safe to reuse across calls to Wait in sequence (Reset is called
// once per spin loop).
type Backoff interface {
	Wait()
	Reset()
}

// Slot is a goroutine-local (in practice, pool-local - see the root
// package's ThreadData) publication point: either OffState, meaning its
// owner is not inside a transaction, or a clock.Stamp, meaning its owner
// has not yet observed any commit at a version greater than that stamp.
type Slot struct {
	active atomic.Uint64
}

// NewSlot returns a Slot initialized to OffState.
func NewSlot() *Slot {
	s := &Slot{}
	s.active.Store(uint64(clock.OffState))
	return s
}

// AccessLock publishes e into the slot. Pre-condition: slot is off.
func (s *Slot) AccessLock(e clock.Stamp) {
	s.active.Store(uint64(e))
}

// AccessRelock republishes a newer e into an already-active slot without an
// intervening AccessUnlock, so the slot is never observably "off" in
// between. The root package's retry loop does not call it: each attempt
// unlocks the slot and locks it again.
func (s *Slot) AccessRelock(e clock.Stamp) {
	s.active.Store(uint64(e))
}

// AccessUnlock marks the slot off.
func (s *Slot) AccessUnlock() {
	s.active.Store(uint64(clock.OffState))
}

// Load returns the slot's current published value.
func (s *Slot) Load() clock.Stamp {
	return clock.Stamp(s.active.Load())
}

// Registry is the global (per-Domain) list of every Slot currently
// participating in reclamation synchronization.
type Registry struct {
	mu    sync.RWMutex
	slots []*Slot
}

// Register adds slot to the registry. Rare relative to Synchronize, so a
// plain exclusive lock is sufficient - a lock-free list would add
// complexity for no hot-path gain, matching the original's own design note.
func (r *Registry) Register(s *Slot) {
	r.mu.Lock()
	r.slots = append(r.slots, s)
	r.mu.Unlock()
}

// Deregister removes slot from the registry.
func (r *Registry) Deregister(s *Slot) {
	r.mu.Lock()
	for i, cand := range r.slots {
		if cand == s {
			r.slots[i] = r.slots[len(r.slots)-1]
			r.slots = r.slots[:len(r.slots)-1]
			break
		}
	}
	r.mu.Unlock()
}

// SynchronizeMinEpoch walks every registered slot under the registry's
// shared lock. For each slot holding a value <= target, it spins (using
// backoff) until that slot advances past target or goes off. It returns the
// minimum epoch observed among slots that are in an advanced-past state,
// i.e. a lower bound on the oldest snapshot any thread might still be
// reading - OffState if every slot was or became off.
//
// There is no timeout: this matches RCU semantics exactly as specified.
// Progress depends on every participant keeping its critical sections
// short; the caller supplies the backoff strategy used while spinning.
func (r *Registry) SynchronizeMinEpoch(target clock.Stamp, backoff Backoff) clock.Stamp {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := clock.OffState
	for _, s := range r.slots {
		v := s.Load()
		if v <= target {
			backoff.Reset()
			for {
				v = s.Load()
				if v > target {
					break
				}
				backoff.Wait()
			}
		}
		if v < result {
			result = v
		}
	}
	return result
}
