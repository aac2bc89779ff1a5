package stimulator

import (
	"slices"
	"time"
)

// SupportedBaudRates lists the rates a session may use, ascending.
var SupportedBaudRates = []int{300, 1200, 2400, 4800, 9600, 14400, 19200, 28800, 38400, 57600, 115200, 230400}

const DefaultBaudRate = 115200

// ValidBaud reports whether baud is in SupportedBaudRates.
func ValidBaud(baud int) bool {
	return slices.Contains(SupportedBaudRates, baud)
}

// BackoffConfig defines reconnect backoff after a link failure.
type BackoffConfig struct {
	Enabled      bool
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// Config holds per-session timing.
type Config struct {
	IdentifyTimeout time.Duration
	// TestStep is the progress added per poll tick while a test runs.
	TestStep  float64
	Reconnect BackoffConfig
	// Now is the clock used for reconnect scheduling.
	Now func() time.Time
}

// DefaultConfig returns a 2s identify window and a 100-tick channel test.
// Reconnect is off; a device fault always needs an explicit reconnect.
func DefaultConfig() Config {
	return Config{
		IdentifyTimeout: 2 * time.Second,
		TestStep:        0.01,
		Reconnect: BackoffConfig{
			Enabled:      false,
			InitialDelay: 500 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     30 * time.Second,
		},
		Now: time.Now,
	}
}

// WithDefaults fills unset fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.IdentifyTimeout <= 0 {
		c.IdentifyTimeout = d.IdentifyTimeout
	}
	if c.TestStep <= 0 || c.TestStep > 1 {
		c.TestStep = d.TestStep
	}
	if c.Reconnect.InitialDelay <= 0 {
		c.Reconnect.InitialDelay = d.Reconnect.InitialDelay
	}
	if c.Reconnect.Multiplier < 1 {
		c.Reconnect.Multiplier = d.Reconnect.Multiplier
	}
	if c.Reconnect.MaxDelay <= 0 {
		c.Reconnect.MaxDelay = d.Reconnect.MaxDelay
	}
	if c.Now == nil {
		c.Now = d.Now
	}
	return c
}
