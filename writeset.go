package stm

import (
	"unsafe"

	"github.com/mnohosten/go-stm/clock"
)

// cellLocker is the minimal identity/locking contract the engine needs
// from a transactional cell, implemented by both *Var[T] and *VarWord.
// Holding a pointer in this interface costs nothing extra: the concrete
// types are already pointers, so boxing one into cellLocker does not
// allocate.
type cellLocker interface {
	identity() unsafe.Pointer
	versionLockWord() clock.Stamp
	tryLockWord(expect clock.Stamp) bool
	unlockWord(version clock.Stamp)
}

func (v *Var[T]) identity() unsafe.Pointer            { return unsafe.Pointer(v) }
func (v *Var[T]) versionLockWord() clock.Stamp        { return v.versionLock() }
func (v *Var[T]) tryLockWord(expect clock.Stamp) bool { return v.tryLock(expect) }
func (v *Var[T]) unlockWord(version clock.Stamp)      { v.unlock(version) }

func (v *VarWord) identity() unsafe.Pointer            { return unsafe.Pointer(v) }
func (v *VarWord) versionLockWord() clock.Stamp        { return v.versionLock() }
func (v *VarWord) tryLockWord(expect clock.Stamp) bool { return v.tryLock(expect) }
func (v *VarWord) unlockWord(version clock.Stamp)      { v.unlock(version) }

// writeEntry is one pending write against a generic Var[T]. commit performs
// the actual publish (installing the new value and releasing the lock at
// the write version) and any reclamation bookkeeping for the superseded
// value.
type writeEntry struct {
	locker       cellLocker
	pendingValue any
	commit       func(wv clock.Stamp)
}

// writeSet is the per-transaction log of pending writes against generic
// Var[T] cells: a small slice backing store fronted by a 64-bit bloom
// filter, per spec section 4.D. Capacity starts at 1 and doubles on
// growth.
type writeSet struct {
	entries []writeEntry
	filter  uint64
}

func newWriteSet() writeSet {
	return writeSet{entries: make([]writeEntry, 0, 1)}
}

// lookup reports whether cell already has a pending write logged. The
// bloom filter lets the common miss case skip the linear scan entirely -
// this is the fast-path acceleration spec section 4.D calls out.
func (w *writeSet) lookup(cell cellLocker) (*writeEntry, bool) {
	addr := cell.identity()
	if w.filter&bloomHash(addr) == 0 {
		return nil, false
	}
	for i := range w.entries {
		if w.entries[i].locker.identity() == addr {
			return &w.entries[i], true
		}
	}
	return nil, false
}

func (w *writeSet) pushBack(e writeEntry) {
	w.filter |= bloomHash(e.locker.identity())
	w.entries = append(w.entries, e)
}

func (w *writeSet) clear() {
	w.filter = 0
	w.entries = w.entries[:0]
}

func (w *writeSet) empty() bool { return len(w.entries) == 0 }

// ownsLocker reports whether cell already has a pending write logged in
// this set, used by commit-time read validation to recognize its own
// write-phase lock on a cell that was also read earlier in the same
// transaction.
func (w *writeSet) ownsLocker(cell cellLocker) bool {
	_, hit := w.lookup(cell)
	return hit
}

// wordWriteEntry is one pending write against a VarWord: a plain value
// struct with no interface boxing, the true zero-extra-allocation fast
// path spec section 9 requires of the atomic variant.
type wordWriteEntry struct {
	cell    *VarWord
	pending uint64
}

type wordWriteSet struct {
	entries []wordWriteEntry
	filter  uint64
}

func newWordWriteSet() wordWriteSet {
	return wordWriteSet{entries: make([]wordWriteEntry, 0, 1)}
}

func (w *wordWriteSet) lookup(cell *VarWord) (uint64, bool) {
	addr := unsafe.Pointer(cell)
	if w.filter&bloomHash(addr) == 0 {
		return 0, false
	}
	for i := range w.entries {
		if w.entries[i].cell == cell {
			return w.entries[i].pending, true
		}
	}
	return 0, false
}

func (w *wordWriteSet) pushBack(cell *VarWord, pending uint64) {
	w.filter |= bloomHash(unsafe.Pointer(cell))
	for i := range w.entries {
		if w.entries[i].cell == cell {
			w.entries[i].pending = pending
			return
		}
	}
	w.entries = append(w.entries, wordWriteEntry{cell: cell, pending: pending})
}

func (w *wordWriteSet) clear() {
	w.filter = 0
	w.entries = w.entries[:0]
}

func (w *wordWriteSet) empty() bool { return len(w.entries) == 0 }

// ownsLocker reports whether cell already has a pending write logged in
// this set (see writeSet.ownsLocker).
func (w *wordWriteSet) ownsLocker(cell cellLocker) bool {
	vw, ok := cell.(*VarWord)
	if !ok {
		return false
	}
	_, hit := w.lookup(vw)
	return hit
}
