package stm

import (
	"context"

	"github.com/mnohosten/go-stm/clock"
)

// ctxKey is an unexported type so the active-transaction value this package
// stashes in a context.Context can never collide with another package's key,
// the standard idiom for context values.
type ctxKey struct{}

// Atomically runs f under the illusion of atomic, isolated execution, per
// spec section 4.G: f may run several times, but the effects of exactly one
// run are committed. If ctx already carries an active read-write
// transaction (this call is nested inside an outer Atomically, or inside a
// ReadOnly nested in one, reached through that same ctx), f runs against that same
// transaction directly - flat nesting, per spec section 4.G's nesting rule
// - and no new commit protocol runs for the inner call. Otherwise a fresh
// read-write transaction is opened, retried on conflict until it commits,
// and its result returned. f receives a context carrying the now-active
// transaction, which callers must thread through to any nested
// Atomically/ReadOnly call they make.
func Atomically[R any](ctx context.Context, d *Domain, f func(context.Context, *Txn) R) R {
	if outer, ok := ctx.Value(ctxKey{}).(*Txn); ok {
		return f(ctx, outer)
	}

	td := d.acquire()
	defer d.release(td)

	for {
		result, committed := attempt(ctx, d, td, f)
		if committed {
			return result
		}
	}
}

// attempt runs one full speculative execution of f plus, on success, the
// commit protocol in spec section 4.F. It reports committed == false on
// conflict so Atomically's loop can retry with a fresh snapshot; result is
// then meaningless.
func attempt[R any](ctx context.Context, d *Domain, td *ThreadData, f func(context.Context, *Txn) R) (result R, committed bool) {
	td.kind = txReadWrite
	td.rv = d.clock.Read()
	td.rs.clear()
	td.ws.clear()
	td.wws.clear()
	td.fail = td.fail[:0]

	td.slot.AccessLock(td.rv)
	defer td.slot.AccessUnlock()

	defer func() {
		if r := recover(); r != nil {
			runFailCallbacks(td)
			if _, isRetry := r.(retrySignal); isRetry {
				committed = false
				return
			}
			panic(r)
		}
	}()

	txn := &Txn{td: td}
	innerCtx := context.WithValue(ctx, ctxKey{}, txn)
	result = f(innerCtx, txn)

	if !commit(d, td) {
		runFailCallbacks(td)
		return result, false
	}
	return result, true
}

func runFailCallbacks(td *ThreadData) {
	for i := len(td.fail) - 1; i >= 0; i-- {
		td.fail[i]()
	}
	td.fail = td.fail[:0]

	// Callbacks this attempt staged into the working reclamation chunk (see
	// NewFuture) are discarded: the attempt never committed.
	td.reclMu.Lock()
	working := &td.recl.chunks[len(td.recl.chunks)-1]
	td.recl.total -= len(working.callbacks)
	working.callbacks = working.callbacks[:0]
	td.reclMu.Unlock()
}

// commit implements spec section 4.F's eight-step read-write commit
// sequence: lock writes, bump the clock, validate reads, publish, release
// epoch access, and reclaim.
func commit(d *Domain, td *ThreadData) bool {
	// Step 1: trivial read-only commit (no writes at all) needs no locking,
	// but a Future (future.go) may have staged a deferred callback into this
	// transaction's reclamation ring with nothing else to commit; finalize
	// its working chunk so that callback is ever reachable by a drain
	// (finalizeEpoch is a no-op if nothing was staged).
	if td.ws.empty() && td.wws.empty() {
		td.reclMu.Lock()
		overThreshold := td.recl.finalizeEpoch(d.clock.Read(), d.cfg.reclaimLimit)
		td.reclMu.Unlock()
		if overThreshold {
			d.synchronizeAndDrain(td)
		}
		return true
	}

	// Step 2: lock every written cell, lowest-identity-first is not required
	// since cells are locked in write-set order and a stuck CAS simply backs
	// off and retries against the same cell (spec section 4.F step 2) - a
	// deadlock cannot arise because no cell is ever locked by two
	// transactions at once and this goroutine never blocks waiting on
	// another lock while holding one of its own; it only spins on its own
	// CAS.
	held := make([]lockedEntry, 0, len(td.ws.entries)+len(td.wws.entries))
	backoff := d.newBackoff()
	for i := range td.ws.entries {
		orig, ok := lockOne(td.ws.entries[i].locker, backoff)
		if !ok {
			unlockAll(held)
			return false
		}
		held = append(held, lockedEntry{td.ws.entries[i].locker, orig})
	}
	for i := range td.wws.entries {
		orig, ok := lockOne(td.wws.entries[i].cell, backoff)
		if !ok {
			unlockAll(held)
			return false
		}
		held = append(held, lockedEntry{td.wws.entries[i].cell, orig})
	}

	// Step 3: bump the global clock. Bump returns the pre-bump value pv;
	// every published cell receives the post-bump write version pv+1, so a
	// concurrent reader whose snapshot is still pv correctly sees this
	// commit's version as newer than its own (spec section 4.F step 3).
	pv := d.clock.Bump()
	wv := pv + 1

	// Step 4: validate the read set. A read logged at snapshot rv is still
	// valid if its cell's version is no greater than rv - including cells
	// this transaction itself locked for writing, whose version bits under
	// the lock bit still hold the value they had before we locked them
	// (spec section 4.F step 4, matching tiancaiamao-stm/stm.go's
	// `version > txn.rv` check staying live even when lockedByMe). If pv ==
	// rv, no commit slipped in between the snapshot and the bump, so the
	// read set is still valid and the walk is skipped.
	if pv != td.rv && !validateReads(td) {
		unlockAll(held)
		return false
	}

	// Step 5: publish every written cell at wv, releasing each lock.
	for i := range td.ws.entries {
		td.ws.entries[i].commit(wv)
	}
	for i := range td.wws.entries {
		e := &td.wws.entries[i]
		e.cell.publish(e.pending, wv)
	}

	// Step 6: release this transaction's own epoch access. It must happen
	// before we can act as a synchronizer below - a goroutine waiting on its
	// own still-active slot would spin forever.
	td.slot.AccessUnlock()

	// Step 7/8: finalize and, past the threshold, synchronize and drain.
	// The chunk is stamped with pv, not wv - pv is the last version any
	// concurrent reader's snapshot could equal, so it is the correct
	// lower bound for "nobody can still observe the superseded values this
	// chunk holds" (spec section 4.E step 1).
	td.reclMu.Lock()
	overThreshold := td.recl.finalizeEpoch(pv, d.cfg.reclaimLimit)
	td.reclMu.Unlock()
	if overThreshold {
		d.synchronizeAndDrain(td)
	}

	return true
}

// lockedEntry remembers a cell's version as it stood the instant this
// transaction locked it, so an aborted lock phase can restore it exactly -
// spec section 4.F step 2's rollback requirement.
type lockedEntry struct {
	cell cellLocker
	orig clock.Stamp
}

func lockOne(cell cellLocker, backoff Backoff) (clock.Stamp, bool) {
	backoff.Reset()
	for {
		v := cell.versionLockWord()
		if clock.Locked(v) {
			return 0, false
		}
		if cell.tryLockWord(v) {
			return v, true
		}
		backoff.Wait()
	}
}

func unlockAll(held []lockedEntry) {
	for _, e := range held {
		e.cell.unlockWord(e.orig)
	}
}

func validateReads(td *ThreadData) bool {
	for _, cell := range td.rs.entries {
		v := cell.versionLockWord()
		if clock.Locked(v) {
			if !td.ws.ownsLocker(cell) && !td.wws.ownsLocker(cell) {
				return false
			}
		}
		if v&^clock.LockBit > td.rv {
			return false
		}
	}
	return true
}

// ReadOnly runs f as a read-only transaction, per spec section 4.F's
// read-only mode: no write set, no locking, commit is a no-op release of
// the snapshot. If ctx already carries an active read-write transaction,
// f runs nested against it (see Var[T].ReadOnlyLoad's doc comment and
// SPEC_FULL.md's Open Question 2) rather than opening a fresh snapshot.
func ReadOnly[R any](ctx context.Context, d *Domain, f func(context.Context, *ReadTxn) R) R {
	if outer, ok := ctx.Value(ctxKey{}).(*Txn); ok {
		return f(ctx, &ReadTxn{td: outer.td})
	}

	td := d.acquire()
	defer d.release(td)

	for {
		result, ok := attemptReadOnly(ctx, d, td, f)
		if ok {
			return result
		}
	}
}

func attemptReadOnly[R any](ctx context.Context, d *Domain, td *ThreadData, f func(context.Context, *ReadTxn) R) (result R, committed bool) {
	td.kind = txReadOnly
	td.rv = d.clock.Read()
	td.ws.clear()
	td.wws.clear()

	td.slot.AccessLock(td.rv)
	defer td.slot.AccessUnlock()

	defer func() {
		if r := recover(); r != nil {
			if _, isRetry := r.(retrySignal); isRetry {
				committed = false
				return
			}
			panic(r)
		}
	}()

	result = f(ctx, &ReadTxn{td: td})
	return result, true
}

// Retry aborts the active transaction and restarts it at once with a fresh
// snapshot, exactly as an internal conflict does - spec section 4.G's
// explicit-retry operation. It does not wait for another commit before
// the restart. Calling it outside an
// active transaction panics.
func Retry() { panic(retrySignal{}) }

// Atomic is Atomically for closures with no result, for the common case of
// a transaction run purely for its writes.
func Atomic(ctx context.Context, d *Domain, f func(context.Context, *Txn)) {
	Atomically(ctx, d, func(ctx context.Context, txn *Txn) struct{} {
		f(ctx, txn)
		return struct{}{}
	})
}

// Read is ReadOnly for closures with no result, for the common case of a
// read-only pass run purely for a side effect such as printing a snapshot.
func Read(ctx context.Context, d *Domain, f func(context.Context, *ReadTxn)) {
	ReadOnly(ctx, d, func(ctx context.Context, txn *ReadTxn) struct{} {
		f(ctx, txn)
		return struct{}{}
	})
}
