// Package clock provides an injectable time source so timeout, backoff,
// and heartbeat logic can be tested deterministically instead of via real
// sleeps.
package clock

import "github.com/jonboulle/clockwork"

// Clock is clockwork.Clock, the time source the hub and transports depend on.
type Clock = clockwork.Clock

// Timer is clockwork.Timer, used for deadlines and backoff.
type Timer = clockwork.Timer

// New returns the real wall-clock implementation.
func New() Clock {
	return clockwork.NewRealClock()
}

// NewFake returns a fake clock for tests; advance it with Advance/Set.
func NewFake() clockwork.FakeClock {
	return clockwork.NewFakeClock()
}
