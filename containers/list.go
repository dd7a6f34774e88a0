// Package containers holds transactional data structures built purely
// against the public stm.Txn/stm.ReadTxn contract - no package-internal
// access, exactly like a third-party consumer of the engine would write.
//
// List is the Go counterpart of original_source's lstm::containers::list:
// a doubly linked list whose links, and whose per-node values, are each
// their own transactional cell, so a traversal that mutates values in
// place and a concurrent structural insert/remove serialize correctly
// against each other instead of needing a coarser lock.
package containers

import (
	"context"

	"github.com/mnohosten/go-stm"
)

type listNode[T any] struct {
	value *stm.Var[T]
	prev  *stm.Var[*listNode[T]]
	next  *stm.Var[*listNode[T]]
}

func newListNode[T any](val T) *listNode[T] {
	return &listNode[T]{
		value: stm.NewVar(val),
		prev:  stm.NewVar[*listNode[T]](nil),
		next:  stm.NewVar[*listNode[T]](nil),
	}
}

// List is a transactional doubly linked list of T.
type List[T any] struct {
	d    *stm.Domain
	head *stm.Var[*listNode[T]]
	size *stm.VarWord
}

// NewList creates an empty list whose operations run against d.
func NewList[T any](d *stm.Domain) *List[T] {
	return &List[T]{
		d:    d,
		head: stm.NewVar[*listNode[T]](nil),
		size: stm.NewVarWord(0),
	}
}

// PushFront inserts val at the head of the list.
func (l *List[T]) PushFront(ctx context.Context, val T) {
	node := newListNode(val)
	stm.Atomic(ctx, l.d, func(_ context.Context, txn *stm.Txn) {
		head := l.head.Load(txn)
		node.next.Write(txn, head)
		if head != nil {
			head.prev.Write(txn, node)
		}
		l.size.Write(txn, l.size.Load(txn)+1)
		l.head.Write(txn, node)
	})
}

// Len returns the current element count.
func (l *List[T]) Len(ctx context.Context) uint64 {
	return stm.ReadOnly(ctx, l.d, func(_ context.Context, txn *stm.ReadTxn) uint64 {
		return l.size.ReadOnlyLoad(txn)
	})
}

// Each visits every element front-to-back within a single read-only
// transaction, stopping early if f returns false.
func (l *List[T]) Each(ctx context.Context, f func(T) bool) {
	stm.Read(ctx, l.d, func(_ context.Context, txn *stm.ReadTxn) {
		for cur := l.head.ReadOnlyLoad(txn); cur != nil; cur = cur.next.ReadOnlyLoad(txn) {
			if !f(cur.value.ReadOnlyLoad(txn)) {
				return
			}
		}
	})
}

// RemoveIf removes every element for which pred returns true, within a
// single transaction, and reports how many were removed.
func (l *List[T]) RemoveIf(ctx context.Context, pred func(T) bool) int {
	var removed int
	stm.Atomic(ctx, l.d, func(_ context.Context, txn *stm.Txn) {
		removed = 0
		cur := l.head.Load(txn)
		for cur != nil {
			next := cur.next.Load(txn)
			if pred(cur.value.Load(txn)) {
				prev := cur.prev.Load(txn)
				if prev != nil {
					prev.next.Write(txn, next)
				} else {
					l.head.Write(txn, next)
				}
				if next != nil {
					next.prev.Write(txn, prev)
				}
				removed++
			}
			cur = next
		}
		if removed > 0 {
			l.size.Write(txn, l.size.Load(txn)-uint64(removed))
		}
	})
	return removed
}

// Clear empties the list.
func (l *List[T]) Clear(ctx context.Context) {
	stm.Atomic(ctx, l.d, func(_ context.Context, txn *stm.Txn) {
		l.size.Write(txn, 0)
		l.head.Write(txn, nil)
	})
}
