package stm

import "github.com/mnohosten/go-stm/clock"

// retrySignal is the internal, unexported panic payload used to unwind a
// transaction's closure back to the entry facade on conflict - the Go
// idiomatic substitute for the tagged C++ exception spec section 4.F
// describes. It never escapes this package: Atomically/ReadOnly recover it
// and loop: anything else panicking through the closure propagates
// untouched, per the exception-safety rules in spec section 7.
type retrySignal struct{}

// Reclaimable is the optional interface a cell's value type may implement
// to be notified when a value it held is superseded: either because a
// commit published a newer value (Reclaim runs once no in-flight
// transaction can still be reading the old one, via the epoch reclamation
// path) or because the write that staged it was rolled back before ever
// being published (Reclaim runs immediately, as a fail-callback). This is
// the Go substitute for the original's gp_callback-wrapped destructor: Go's
// GC already reclaims plain memory safely, so the hook only matters for
// values holding a non-GC resource (a reference count, a file handle) -
// exactly the "Deferred destruction" scenario in spec section 8.
type Reclaimable interface{ Reclaim() }

func maybeReclaim(val any) (cb func(), ok bool) {
	r, ok := val.(Reclaimable)
	if !ok {
		return nil, false
	}
	return r.Reclaim, true
}

// Txn is a read-write transaction handle, passed to the closure given to
// Atomically. It is a thin, copyable view over the calling goroutine's
// pooled ThreadData - cheap to pass by value, per spec section 6.
type Txn struct {
	td *ThreadData
}

// Version returns the snapshot version this transaction is running
// against, for advanced callers that need it (spec section 6's version
// introspection operation).
func (t *Txn) Version() clock.Stamp { return t.td.rv }

// ReadTxn is a read-only transaction handle: the same shape as Txn minus
// Write. It may also appear nested inside an active Txn (see
// ReadOnly), in which case its reads are routed through the outer
// transaction's write set - see Var[T].ReadOnlyLoad's doc comment and
// SPEC_FULL.md's Open Question 2.
type ReadTxn struct {
	td *ThreadData
}

// Version returns the snapshot version this read-only transaction is
// running against.
func (t *ReadTxn) Version() clock.Stamp { return t.td.rv }

// Load reads cell's value, consistent with the transaction's snapshot, and
// logs the read (read-write mode only - see Var[T].load).
func (v *Var[T]) Load(t *Txn) T { return v.load(t.td) }

// ReadOnlyLoad reads cell's value, consistent with the snapshot. When t is a
// top-level read-only transaction, the read is validated directly against
// the snapshot and not logged; when t wraps a nested read-only view inside
// an active read-write transaction, the read is routed through that
// transaction's write set exactly as Txn.Load would.
func (v *Var[T]) ReadOnlyLoad(t *ReadTxn) T { return v.load(t.td) }

// UntrackedRead reads cell's value consistent with the snapshot without
// logging the read: the caller accepts weaker isolation for this cell in
// exchange for not contributing it to commit-time validation.
func (v *Var[T]) UntrackedRead(t *Txn) T { return v.untrackedRead(t.td) }

// Write stages val as cell's pending new value. The write is only
// installed, and the value it supersedes only becomes eligible for
// reclamation, if and when the enclosing transaction commits.
func (v *Var[T]) Write(t *Txn, val T) { v.write(t.td, val) }

func (v *Var[T]) load(td *ThreadData) T {
	if e, hit := td.ws.lookup(v); hit {
		lock := v.versionLock()
		if clock.Locked(lock) || lock > td.rv {
			panic(retrySignal{})
		}
		return e.pendingValue.(T)
	}

	ptr := v.loadPtr()
	lock := v.versionLock()
	if clock.Locked(lock) || lock > td.rv {
		panic(retrySignal{})
	}
	if td.kind == txReadWrite {
		td.rs.pushBack(v)
	}
	return *ptr
}

func (v *Var[T]) untrackedRead(td *ThreadData) T {
	if e, hit := td.ws.lookup(v); hit {
		return e.pendingValue.(T)
	}
	ptr := v.loadPtr()
	lock := v.versionLock()
	if clock.Locked(lock) || lock > td.rv {
		panic(retrySignal{})
	}
	return *ptr
}

func (v *Var[T]) write(td *ThreadData, val T) {
	newPtr := new(T)
	*newPtr = val

	commit := func(wv clock.Stamp) {
		old := v.loadPtr()
		v.publish(newPtr, wv)
		if old != nil {
			if cb, ok := maybeReclaim(any(*old)); ok {
				td.reclMu.Lock()
				td.recl.push(cb)
				td.reclMu.Unlock()
			}
		}
	}

	if cb, ok := maybeReclaim(any(val)); ok {
		td.fail = append(td.fail, cb)
	}

	if existing, hit := td.ws.lookup(v); hit {
		existing.pendingValue = val
		existing.commit = commit
		return
	}
	td.ws.pushBack(writeEntry{locker: v, pendingValue: val, commit: commit})
}

// Load reads cell's value, consistent with the transaction's snapshot, and
// logs the read (read-write mode only).
func (v *VarWord) Load(t *Txn) uint64 { return v.load(t.td) }

// ReadOnlyLoad reads cell's value under a (possibly nested) read-only
// handle - see Var[T].ReadOnlyLoad.
func (v *VarWord) ReadOnlyLoad(t *ReadTxn) uint64 { return v.load(t.td) }

// UntrackedRead reads cell's value without logging the read.
func (v *VarWord) UntrackedRead(t *Txn) uint64 { return v.untrackedRead(t.td) }

// Write stages val as cell's pending new value.
func (v *VarWord) Write(t *Txn, val uint64) { v.write(t.td, val) }

func (v *VarWord) load(td *ThreadData) uint64 {
	if pending, hit := td.wws.lookup(v); hit {
		lock := v.versionLock()
		if clock.Locked(lock) || lock > td.rv {
			panic(retrySignal{})
		}
		return pending
	}
	val := v.loadWord()
	lock := v.versionLock()
	if clock.Locked(lock) || lock > td.rv {
		panic(retrySignal{})
	}
	if td.kind == txReadWrite {
		td.rs.pushBack(v)
	}
	return val
}

func (v *VarWord) untrackedRead(td *ThreadData) uint64 {
	if pending, hit := td.wws.lookup(v); hit {
		return pending
	}
	val := v.loadWord()
	lock := v.versionLock()
	if clock.Locked(lock) || lock > td.rv {
		panic(retrySignal{})
	}
	return val
}

func (v *VarWord) write(td *ThreadData, val uint64) {
	td.wws.pushBack(v, val)
}
