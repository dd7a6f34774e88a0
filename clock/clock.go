// Package clock implements the process-wide monotonic version clock that
// underlies the stm transactional engine.
//
// A Stamp packs a monotonic timestamp into its low 63 bits; the top bit is
// reserved as a lock bit by the cells that embed a Stamp as their
// version-lock word (see the root stm package). The clock itself never
// touches the lock bit - it only ever hands out values with bit 63 clear.
package clock

import "sync/atomic"

// Stamp is the unsigned word used for both version timestamps and
// version-lock words throughout the engine.
type Stamp uint64

// LockBit is the high bit reserved by cells to mark "currently being
// committed". The clock never sets it.
const LockBit Stamp = 1 << 63

// OffState is the sentinel epoch-slot value meaning "not in a critical
// section". It is the all-ones pattern, which can never be produced by
// Bump (the clock would have to wrap, which is a process-lifetime
// invariant violation per spec).
const OffState Stamp = ^Stamp(0)

// MaxUsable is the largest timestamp the clock may legally return: the
// largest value with the lock bit clear.
const MaxUsable = LockBit - 1

// Locked reports whether a version-lock word currently holds the lock bit.
func Locked(v Stamp) bool { return v&LockBit != 0 }

// AsLocked sets the lock bit on top of the given timestamp.
func AsLocked(v Stamp) Stamp { return v | LockBit }

// Clock is a single atomic, monotonically increasing counter shared by
// every transaction running against a Domain.
type Clock struct {
	v atomic.Uint64
}

// Read returns the current clock value (acquire semantics).
func (c *Clock) Read() Stamp {
	return Stamp(c.v.Load())
}

// Bump atomically increments the clock by one and returns the value the
// clock held immediately before the increment (release semantics). Callers
// that need the post-bump write-version add one to the result themselves,
// matching the commit protocol in spec section 4.F step 3.
func (c *Clock) Bump() Stamp {
	return Stamp(c.v.Add(1) - 1)
}
