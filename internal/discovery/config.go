package discovery

import (
	"runtime"
	"time"

	"github.com/HerbHall/swarmnet/internal/neighbor"
)

// Config holds the scan loop settings.
type Config struct {
	ScanInterval     time.Duration `mapstructure:"scan_interval"`
	DepartureTimeout time.Duration `mapstructure:"departure_timeout"`
	ErrorBackoff     time.Duration `mapstructure:"error_backoff"`
	Sources          []string      `mapstructure:"sources"`
	OutboxSize       int           `mapstructure:"outbox_size"`
}

// DefaultConfig returns sensible defaults for the running platform.
func DefaultConfig() Config {
	return Config{
		ScanInterval:     8 * time.Second,
		DepartureTimeout: 90 * time.Second,
		ErrorBackoff:     2 * time.Second,
		Sources:          neighbor.DefaultSourceNames(runtime.GOOS),
		OutboxSize:       1024,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ScanInterval <= 0 {
		c.ScanInterval = d.ScanInterval
	}
	if c.DepartureTimeout <= 0 {
		c.DepartureTimeout = d.DepartureTimeout
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = d.ErrorBackoff
	}
	if len(c.Sources) == 0 {
		c.Sources = d.Sources
	}
	if c.OutboxSize <= 0 {
		c.OutboxSize = d.OutboxSize
	}
	return c
}
