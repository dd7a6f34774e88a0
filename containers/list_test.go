package containers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mnohosten/go-stm"
)

func collect[T any](l *List[T], ctx context.Context) []T {
	var out []T
	l.Each(ctx, func(v T) bool {
		out = append(out, v)
		return true
	})
	return out
}

func TestPushFrontOrdersMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	d := stm.NewDomain()
	l := NewList[int](d)

	l.PushFront(ctx, 1)
	l.PushFront(ctx, 2)
	l.PushFront(ctx, 3)

	assert.Equal(t, []int{3, 2, 1}, collect(l, ctx))
	assert.Equal(t, uint64(3), l.Len(ctx))
}

func TestRemoveIfDeletesMatchingNodesAndFixesLinks(t *testing.T) {
	ctx := context.Background()
	d := stm.NewDomain()
	l := NewList[int](d)

	for _, v := range []int{1, 2, 3, 4, 5} {
		l.PushFront(ctx, v)
	}

	removed := l.RemoveIf(ctx, func(v int) bool { return v%2 == 0 })

	assert.Equal(t, 2, removed)
	assert.Equal(t, []int{5, 3, 1}, collect(l, ctx))
	assert.Equal(t, uint64(3), l.Len(ctx))
}

func TestRemoveIfCanEmptyTheList(t *testing.T) {
	ctx := context.Background()
	d := stm.NewDomain()
	l := NewList[int](d)

	l.PushFront(ctx, 1)
	l.PushFront(ctx, 2)

	removed := l.RemoveIf(ctx, func(int) bool { return true })

	assert.Equal(t, 2, removed)
	assert.Empty(t, collect(l, ctx))
	assert.Equal(t, uint64(0), l.Len(ctx))
}

func TestClearEmptiesTheList(t *testing.T) {
	ctx := context.Background()
	d := stm.NewDomain()
	l := NewList[int](d)

	l.PushFront(ctx, 1)
	l.PushFront(ctx, 2)
	l.Clear(ctx)

	assert.Empty(t, collect(l, ctx))
	assert.Equal(t, uint64(0), l.Len(ctx))
}

func TestEachStopsEarlyWhenCallbackReturnsFalse(t *testing.T) {
	ctx := context.Background()
	d := stm.NewDomain()
	l := NewList[int](d)

	for _, v := range []int{1, 2, 3} {
		l.PushFront(ctx, v)
	}

	var visited []int
	l.Each(ctx, func(v int) bool {
		visited = append(visited, v)
		return v != 2
	})

	assert.Equal(t, []int{3, 2}, visited)
}
