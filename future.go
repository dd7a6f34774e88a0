package stm

import (
	"runtime"
	"sync/atomic"
)

// Future is a value that becomes available once no transaction active at
// the time it was created could still be reading the pre-commit state the
// future's computation depends on - the Go counterpart to
// original_source's privatized_future. It is how a transaction can safely
// hand a value computed from data it is about to retire to code outside
// the transaction: compute runs only after the owning transaction's commit
// epoch has been passed by every other participant, the same guarantee
// that lets Var[T]'s own superseded values be freed.
//
// A Future must be created from inside an active Txn (it rides that
// transaction's reclamation ring) but Get/Wait may be called from any
// goroutine, including ones with no transaction of their own - exactly as
// privatized_future_data::wait reaches across to the creating thread's
// thread_data.
type Future[T any] struct {
	domain *Domain
	ready  atomic.Bool
	value  T
	panicV any
}

// NewFuture stages compute to run once txn's transaction has committed and
// every transaction that could still observe the state compute depends on
// has finished. If compute panics, that panic is captured and re-raised
// from Get instead of crashing the reclaiming goroutine.
func NewFuture[T any](txn *Txn, compute func() T) *Future[T] {
	fut := &Future[T]{domain: txn.td.domain}
	td := txn.td

	run := func() {
		defer func() {
			if r := recover(); r != nil {
				fut.panicV = r
			}
			fut.ready.Store(true)
		}()
		fut.value = compute()
	}

	td.reclMu.Lock()
	td.recl.push(run)
	td.reclMu.Unlock()

	return fut
}

// IsReady reports whether compute has already run.
func (f *Future[T]) IsReady() bool { return f.ready.Load() }

// Wait blocks until the future is ready, helping drive the owning Domain's
// epoch reclamation forward in the meantime rather than relying purely on
// unrelated transactions to eventually do so.
func (f *Future[T]) Wait() {
	for !f.ready.Load() {
		f.domain.forceReclaim()
		if !f.ready.Load() {
			runtime.Gosched()
		}
	}
}

// Get waits for the future to become ready and returns its value,
// re-panicking with compute's original panic value if it failed instead of
// returning.
func (f *Future[T]) Get() T {
	f.Wait()
	if f.panicV != nil {
		panic(f.panicV)
	}
	return f.value
}
