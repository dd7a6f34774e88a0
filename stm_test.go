package stm

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPISmoke(t *testing.T) {
	d := NewDomain()
	v := NewVar(0)

	Atomic(context.Background(), d, func(_ context.Context, txn *Txn) {
		v.Load(txn)
		v.Write(txn, 42)
		got := v.Load(txn)
		assert.Equal(t, 42, got)
	})

	assert.Equal(t, 42, v.UnsafeRead())
}

func TestConcurrentIncrementsSumCorrectly(t *testing.T) {
	d := NewDomain()
	counter := NewVarWord(0)

	const goroutines = 8
	const perGoroutine = 2000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				Atomic(context.Background(), d, func(_ context.Context, txn *Txn) {
					counter.Write(txn, counter.Load(txn)+1)
				})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(goroutines*perGoroutine), counter.UnsafeRead())
}

func TestBankTransferConservesTotal(t *testing.T) {
	d := NewDomain()
	const numAccounts = 10
	const initialBalance = 100

	accounts := make([]*Var[int], numAccounts)
	for i := range accounts {
		accounts[i] = NewVar(initialBalance)
	}

	const goroutines = 16
	const transfersPerGoroutine = 500

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < transfersPerGoroutine; i++ {
				from := rng.Intn(numAccounts)
				to := rng.Intn(numAccounts)
				if from == to {
					continue
				}
				Atomic(context.Background(), d, func(_ context.Context, txn *Txn) {
					fromBalance := accounts[from].Load(txn)
					if fromBalance <= 0 {
						return
					}
					amount := rng.Intn(fromBalance) + 1
					toBalance := accounts[to].Load(txn)
					accounts[from].Write(txn, fromBalance-amount)
					accounts[to].Write(txn, toBalance+amount)
				})
			}
		}(int64(g))
	}
	wg.Wait()

	total := 0
	Read(context.Background(), d, func(_ context.Context, txn *ReadTxn) {
		for _, a := range accounts {
			total += a.ReadOnlyLoad(txn)
		}
	})
	assert.Equal(t, numAccounts*initialBalance, total)
}

func TestNestedReadOnlySharesOuterWriteSet(t *testing.T) {
	d := NewDomain()
	v := NewVar(1)

	var seen int
	Atomic(context.Background(), d, func(ctx context.Context, txn *Txn) {
		v.Write(txn, 2)
		seen = ReadOnly(ctx, d, func(_ context.Context, rtxn *ReadTxn) int {
			return v.ReadOnlyLoad(rtxn)
		})
	})

	assert.Equal(t, 2, seen, "nested read-only view must see the outer transaction's own uncommitted write")
	assert.Equal(t, 2, v.UnsafeRead())
}

func TestFlatNestingRunsInnerAgainstOuterTransaction(t *testing.T) {
	d := NewDomain()
	v := NewVar(0)

	Atomic(context.Background(), d, func(ctx context.Context, txn *Txn) {
		v.Write(txn, 1)
		Atomic(ctx, d, func(_ context.Context, inner *Txn) {
			assert.Same(t, txn, inner, "nested Atomically must reuse the outer Txn")
			v.Write(inner, 2)
		})
	})

	assert.Equal(t, 2, v.UnsafeRead())
}

func TestUserPanicRollsBackWrites(t *testing.T) {
	d := NewDomain()
	v := NewVar(1)

	assert.Panics(t, func() {
		Atomic(context.Background(), d, func(_ context.Context, txn *Txn) {
			v.Write(txn, 99)
			panic("boom")
		})
	})

	assert.Equal(t, 1, v.UnsafeRead(), "a user panic must not publish staged writes")
}

func TestExplicitRetryUnblocksOnLaterCommit(t *testing.T) {
	d := NewDomain()
	ready := NewVarWord(0)

	done := make(chan int, 1)
	go func() {
		result := Atomically(context.Background(), d, func(_ context.Context, txn *Txn) int {
			if ready.Load(txn) == 0 {
				Retry()
			}
			return 7
		})
		done <- result
	}()

	time.Sleep(5 * time.Millisecond)
	Atomic(context.Background(), d, func(_ context.Context, txn *Txn) {
		ready.Write(txn, 1)
	})

	select {
	case v := <-done:
		assert.Equal(t, 7, v)
	case <-time.After(time.Second):
		t.Fatal("retrying transaction never observed the later commit")
	}
}

type reclaimCounter struct {
	n *int
}

func (r reclaimCounter) Reclaim() { *r.n++ }

func TestSupersededReclaimableValueIsReclaimedAfterCommit(t *testing.T) {
	d := NewDomain(WithReclaimLimit(1))
	reclaimed := 0
	v := NewVar[reclaimCounter](reclaimCounter{n: &reclaimed})

	for i := 0; i < 3; i++ {
		Atomic(context.Background(), d, func(_ context.Context, txn *Txn) {
			v.Write(txn, reclaimCounter{n: &reclaimed})
		})
	}
	d.Close()

	assert.GreaterOrEqual(t, reclaimed, 3, "every superseded value (including the last one, at Close) must be reclaimed")
}

func TestFailedWriteIsReclaimedImmediately(t *testing.T) {
	d := NewDomain()
	reclaimed := 0
	v := NewVar[reclaimCounter](reclaimCounter{n: new(int)})

	require.Panics(t, func() {
		Atomic(context.Background(), d, func(_ context.Context, txn *Txn) {
			v.Write(txn, reclaimCounter{n: &reclaimed})
			panic("abort before commit")
		})
	})

	assert.Equal(t, 1, reclaimed, "a staged write that never commits must still run its fail callback")
}

func TestFutureComputesAfterQuiescence(t *testing.T) {
	d := NewDomain()
	v := NewVar(1)

	var fut *Future[int]
	Atomic(context.Background(), d, func(_ context.Context, txn *Txn) {
		v.Write(txn, 2)
		captured := v.Load(txn)
		fut = NewFuture(txn, func() int { return captured * 10 })
	})

	assert.Equal(t, 20, fut.Get())
}
