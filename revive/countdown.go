package revive

import "time"

// Countdown is a timer advanced by the simulation loop. The zero value is
// inert.
type Countdown struct {
	duration  time.Duration
	remaining time.Duration
	running   bool
}

// Start (re)starts the countdown with the given duration.
func (c *Countdown) Start(duration time.Duration) {
	c.duration = duration
	c.remaining = duration
	c.running = true
}

// Stop makes the countdown inert.
func (c *Countdown) Stop() {
	*c = Countdown{}
}

// Advance advances the countdown by dt and reports whether it expired with
// this call. An expired countdown stops running.
func (c *Countdown) Advance(dt time.Duration) bool {
	if !c.running {
		return false
	}
	c.remaining -= dt
	if c.remaining > 0 {
		return false
	}
	c.remaining = 0
	c.running = false
	return true
}

// Running describes whether the countdown is active.
func (c Countdown) Running() bool {
	return c.running
}

// Duration is the duration the countdown was started with.
func (c Countdown) Duration() time.Duration {
	return c.duration
}

// Remaining time until expiry.
func (c Countdown) Remaining() time.Duration {
	return c.remaining
}

// Progress is the elapsed fraction in [0, 1]. Inert countdowns have progress 0.
func (c Countdown) Progress() float64 {
	if !c.running || c.duration <= 0 {
		return 0
	}
	p := 1 - float64(c.remaining)/float64(c.duration)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
