package stm

import (
	"sync/atomic"

	"github.com/mnohosten/go-stm/clock"
)

// Var is a transactional cell holding one value of type T. It is the heap
// variant described in spec section 4.B: every write allocates a fresh T
// and installs a pointer to it. When T implements Reclaimable, the value
// superseded by a successful commit is handed to the committing
// ThreadData's reclamation ring rather than reclaimed immediately, since
// other transactions may still be reading it; any other superseded value
// is simply left to Go's GC.
//
// Go generics cannot inspect a type parameter's size/triviality the way the
// original's var_alloc_policy<T, Alloc, var_type> partial specialization
// does at compile time, so Var[T] always takes the heap path. Callers on
// the hot path for a machine-word-sized payload (the counter and transfer
// benchmarks in spec section 8) should use VarWord instead, which is the
// concrete, non-generic equivalent of the original's atomic variant.
type Var[T any] struct {
	lock  atomic.Uint64
	value atomic.Pointer[T]
}

// NewVar creates a cell holding initial at version stamp 0.
func NewVar[T any](initial T) *Var[T] {
	v := &Var[T]{}
	val := initial
	v.value.Store(&val)
	return v
}

// UnsafeRead returns the cell's current value without going through a
// transaction. It is only safe to call when no other goroutine can
// concurrently read or write the cell (construction, single-threaded
// setup, or after every participating goroutine has stopped).
func (v *Var[T]) UnsafeRead() T {
	return *v.value.Load()
}

// UnsafeWrite replaces the cell's value without going through a
// transaction or bumping the clock. Same safety requirement as UnsafeRead.
func (v *Var[T]) UnsafeWrite(val T) {
	val2 := val
	v.value.Store(&val2)
}

// versionLock returns the raw version-lock word, used internally by the
// engine and by the write/read set validity checks.
func (v *Var[T]) versionLock() clock.Stamp {
	return clock.Stamp(v.lock.Load())
}

func (v *Var[T]) tryLock(expect clock.Stamp) bool {
	return v.lock.CompareAndSwap(uint64(expect), uint64(clock.AsLocked(expect)))
}

func (v *Var[T]) unlock(version clock.Stamp) {
	v.lock.Store(uint64(version))
}

func (v *Var[T]) publish(val *T, writeVersion clock.Stamp) {
	v.value.Store(val)
	v.lock.Store(uint64(writeVersion))
}

func (v *Var[T]) loadPtr() *T {
	return v.value.Load()
}
