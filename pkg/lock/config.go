package lock

import (
	"time"

	"github.com/marmos91/layerfs/pkg/metrics"
)

// Config tunes how reads react to transient medium locking.
type Config struct {
	// ReadRetries is how many times a read failing with ErrFileAlreadyLocked is
	// retried before the failure is returned (default: 3). A negative value
	// disables retries.
	ReadRetries int `mapstructure:"read_retries"`

	// RetryInterval paces the retries (default: 50ms)
	RetryInterval time.Duration `mapstructure:"retry_interval" validate:"gte=0"`

	// Metrics receives lock and stream observations (optional)
	Metrics metrics.OverlayMetrics `mapstructure:"-"`
}

func (c *Config) applyDefaults() {
	switch {
	case c.ReadRetries == 0:
		c.ReadRetries = 3
	case c.ReadRetries < 0:
		c.ReadRetries = 0
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = 50 * time.Millisecond
	}
}

// DefaultConfig returns the default retry policy.
func DefaultConfig() Config {
	return Config{ReadRetries: 3, RetryInterval: 50 * time.Millisecond}
}
