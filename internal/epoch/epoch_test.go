package epoch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mnohosten/go-stm/clock"
)

type fakeBackoff struct {
	waits int
}

func (b *fakeBackoff) Wait()  { b.waits++; time.Sleep(time.Microsecond) }
func (b *fakeBackoff) Reset() {}

func TestSlotStartsOff(t *testing.T) {
	s := NewSlot()
	assert.Equal(t, clock.OffState, s.Load())
}

func TestAccessLockUnlockRoundTrip(t *testing.T) {
	s := NewSlot()
	s.AccessLock(clock.Stamp(7))
	assert.Equal(t, clock.Stamp(7), s.Load())

	s.AccessRelock(clock.Stamp(9))
	assert.Equal(t, clock.Stamp(9), s.Load())

	s.AccessUnlock()
	assert.Equal(t, clock.OffState, s.Load())
}

func TestSynchronizeMinEpochIgnoresOffSlots(t *testing.T) {
	var reg Registry
	a, b := NewSlot(), NewSlot()
	reg.Register(a)
	reg.Register(b)

	a.AccessLock(clock.Stamp(100))
	// b stays off.

	min := reg.SynchronizeMinEpoch(clock.Stamp(50), &fakeBackoff{})
	assert.Equal(t, clock.Stamp(100), min)
}

func TestSynchronizeMinEpochWaitsForLaggingSlot(t *testing.T) {
	var reg Registry
	lagging := NewSlot()
	reg.Register(lagging)

	lagging.AccessLock(clock.Stamp(1))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(5 * time.Millisecond)
		lagging.AccessUnlock()
	}()

	min := reg.SynchronizeMinEpoch(clock.Stamp(10), &fakeBackoff{})
	wg.Wait()

	assert.Equal(t, clock.OffState, min)
}

func TestDeregisterRemovesSlot(t *testing.T) {
	var reg Registry
	s := NewSlot()
	reg.Register(s)
	reg.Deregister(s)

	s.AccessLock(clock.Stamp(1))
	min := reg.SynchronizeMinEpoch(clock.Stamp(0), &fakeBackoff{})
	assert.Equal(t, clock.OffState, min, "deregistered slot must not be consulted")
}
