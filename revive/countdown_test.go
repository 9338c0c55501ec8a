package revive

import (
	"github.com/stretchr/testify/assert"
	"testing"
	"time"
)

func TestCountdownZeroInert(t *testing.T) {
	var c Countdown
	assert.False(t, c.Running())
	assert.False(t, c.Advance(time.Hour), "inert countdown should never expire")
	assert.Equal(t, 0.0, c.Progress())
}

func TestCountdownExpires(t *testing.T) {
	var c Countdown
	c.Start(time.Second)
	assert.True(t, c.Running())
	assert.False(t, c.Advance(400*time.Millisecond))
	assert.InDelta(t, 0.4, c.Progress(), 0.0001)
	assert.Equal(t, 600*time.Millisecond, c.Remaining())
	assert.True(t, c.Advance(600*time.Millisecond), "should expire exactly at zero")
	assert.False(t, c.Running())
	assert.False(t, c.Advance(time.Second), "should only expire once")
}

func TestCountdownOvershoot(t *testing.T) {
	var c Countdown
	c.Start(time.Second)
	assert.True(t, c.Advance(5*time.Second))
	assert.Equal(t, time.Duration(0), c.Remaining())
}

func TestCountdownStop(t *testing.T) {
	var c Countdown
	c.Start(time.Second)
	c.Stop()
	assert.Equal(t, Countdown{}, c)
}
