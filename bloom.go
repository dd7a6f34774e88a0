package stm

import "unsafe"

// bloomShift is log2(alignof(entry)), used to discard the low bits of a
// cell's address that never vary between allocations of that entry type -
// ported from original_source/include/lstm/detail/pod_hash_set.hpp's
// calcShift<T>()/dumb_reference_hash. Any shift that still lets the filter
// distinguish addresses in practice preserves the false-positive-only
// property spec section 9 calls out as the only requirement on the hash.
const bloomShift = 3

// bloomHash computes the single-bit bloom filter contribution for a cell
// identified by addr.
func bloomHash(addr unsafe.Pointer) uint64 {
	u := uint64(uintptr(addr))
	return uint64(1) << ((u >> bloomShift) & 63)
}
