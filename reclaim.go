package stm

import "github.com/mnohosten/go-stm/clock"

// reclaimChunk is one epoch-tagged bundle of deferred callbacks, the Go
// equivalent of the header+callbacks run described by
// original_source/include/lstm/detail/quiescence_buffer.hpp. Go's GC makes
// the original's inline byte ring (union of quiescence_header and
// gp_callback, manually wrapped with memcpy on growth) both unobtainable in
// safe Go and unnecessary - there is no manual free to race with, so this
// is rendered as a ring of ordinary slices-of-closures rather than raw
// bytes. Every invariant the original states still holds: chunk epochs are
// non-decreasing, the last chunk is the working (still being filled) one,
// and callbacks within and across chunks run in registration order.
type reclaimChunk struct {
	epoch     clock.Stamp
	callbacks []func()
}

// reclaimRing is one goroutine's (in practice, one pooled ThreadData's)
// deferred-callback ring, per spec section 4.E.
type reclaimRing struct {
	chunks []reclaimChunk
	total  int
}

func newReclaimRing() reclaimRing {
	return reclaimRing{chunks: []reclaimChunk{{}}}
}

// push enqueues cb into the currently-open working epoch chunk.
func (r *reclaimRing) push(cb func()) {
	working := &r.chunks[len(r.chunks)-1]
	working.callbacks = append(working.callbacks, cb)
	r.total++
}

func (r *reclaimRing) workingEmpty() bool {
	return len(r.chunks[len(r.chunks)-1].callbacks) == 0
}

// finalizeEpoch stamps the working chunk with epoch (the commit's pre-bump
// clock value, per spec section 4.F step 7) and opens a fresh working
// chunk. It reports whether the ring has grown to at least threshold
// callbacks, i.e. whether the caller should now invoke the slow
// synchronize-and-drain path.
func (r *reclaimRing) finalizeEpoch(epoch clock.Stamp, threshold int) bool {
	if r.workingEmpty() {
		return false
	}
	r.chunks[len(r.chunks)-1].epoch = epoch
	r.chunks = append(r.chunks, reclaimChunk{})
	return r.total >= threshold
}

// drain invokes and discards every callback belonging to a finalized chunk
// (never the working chunk) whose epoch is strictly less than minEpoch.
// Chunks are processed oldest-first; minEpoch is the lower bound on
// still-possibly-observed snapshots returned by
// epoch.Registry.SynchronizeMinEpoch.
func (r *reclaimRing) drain(minEpoch clock.Stamp) {
	i := 0
	for ; i < len(r.chunks)-1; i++ {
		chunk := &r.chunks[i]
		if chunk.epoch >= minEpoch {
			break
		}
		for _, cb := range chunk.callbacks {
			cb()
		}
		r.total -= len(chunk.callbacks)
	}
	r.chunks = r.chunks[i:]
}

// oldestFinalizedEpoch returns the epoch of the oldest finalized (not
// working) chunk, used as the synchronize target in the slow path.
func (r *reclaimRing) oldestFinalizedEpoch() (clock.Stamp, bool) {
	if len(r.chunks) <= 1 {
		return 0, false
	}
	return r.chunks[0].epoch, true
}
