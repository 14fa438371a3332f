package bridge

import "time"

// reconnectGate spaces out connect attempts: after a failure the next attempt
// is allowed once the delay has elapsed, the delay doubling up to max. A
// successful connect resets it.
type reconnectGate struct {
	initial time.Duration
	max     time.Duration
	delay   time.Duration
	next    time.Time
}

func newReconnectGate(initial, max time.Duration) *reconnectGate {
	if initial <= 0 {
		initial = time.Second
	}
	if max < initial {
		max = initial
	}
	return &reconnectGate{initial: initial, max: max}
}

func (g *reconnectGate) ready(now time.Time) bool {
	return !now.Before(g.next)
}

// failed records a failed attempt at now and returns the wait before the next.
func (g *reconnectGate) failed(now time.Time) time.Duration {
	switch {
	case g.delay == 0:
		g.delay = g.initial
	case g.delay < g.max:
		g.delay *= 2
		if g.delay > g.max {
			g.delay = g.max
		}
	}
	g.next = now.Add(g.delay)
	return g.delay
}

func (g *reconnectGate) reset() {
	g.delay = 0
	g.next = time.Time{}
}
