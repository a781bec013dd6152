package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMockClock_AfterFiresAndAdvances(t *testing.T) {
	t.Parallel()
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	got := <-c.After(250 * time.Millisecond)
	assert.Equal(t, start.Add(250*time.Millisecond), got)

	c.Advance(time.Second)
	<-c.After(50 * time.Millisecond)
	assert.Equal(t, start.Add(1300*time.Millisecond), c.Now())
	assert.Equal(t, []time.Duration{250 * time.Millisecond, 50 * time.Millisecond}, c.Waits())
}

func TestMockClock_NoWaits(t *testing.T) {
	t.Parallel()
	assert.Nil(t, NewMockClock(time.Time{}).Waits())
}

func TestRealClock_After(t *testing.T) {
	t.Parallel()
	var c Clock = RealClock{}
	before := c.Now()
	<-c.After(time.Millisecond)
	assert.True(t, c.Now().After(before))
}
