package hub

import (
	"time"

	"github.com/streamspace/messagehub/internal/clock"
)

// Config configures a MessageHub instance.
type Config struct {
	// DefaultSessionID is used when a caller omits one.
	DefaultSessionID string
	// MaxPendingCalls bounds concurrent outstanding Request calls.
	MaxPendingCalls int
	// MaxEventDepth bounds EVENT handler re-entry depth per message id.
	MaxEventDepth int
	// RequestTimeout is the default Request timeout when opts.Timeout is zero.
	RequestTimeout time.Duration
	// Clock sources deadline and backoff timers. Defaults to the real
	// clock; a clock.NewFake() can be injected to control timeout firing
	// without sleeping.
	Clock clock.Clock
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		DefaultSessionID: "global",
		MaxPendingCalls:  10_000,
		MaxEventDepth:    16,
		RequestTimeout:   30 * time.Second,
		Clock:            clock.New(),
	}
}

func (c *Config) applyDefaults() {
	if c.DefaultSessionID == "" {
		c.DefaultSessionID = "global"
	}
	if c.MaxPendingCalls <= 0 {
		c.MaxPendingCalls = 10_000
	}
	if c.MaxEventDepth <= 0 {
		c.MaxEventDepth = 16
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
}
