package clock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClockBumpIsMonotonicAndSequential(t *testing.T) {
	var c Clock
	assert.Equal(t, Stamp(0), c.Read())

	first := c.Bump()
	second := c.Bump()
	third := c.Bump()

	assert.Equal(t, Stamp(0), first)
	assert.Equal(t, Stamp(1), second)
	assert.Equal(t, Stamp(2), third)
	assert.Equal(t, Stamp(3), c.Read())
}

func TestLockedAndAsLocked(t *testing.T) {
	var v Stamp = 42
	assert.False(t, Locked(v))

	locked := AsLocked(v)
	assert.True(t, Locked(locked))
	assert.Equal(t, v, locked&^LockBit)
}

func TestOffStateNeverProducedByBump(t *testing.T) {
	assert.NotEqual(t, OffState, Stamp(0))
	assert.Less(t, uint64(MaxUsable), uint64(OffState))
}
