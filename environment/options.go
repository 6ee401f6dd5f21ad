package environment

import (
	"errors"
	"time"

	"github.com/mklimuk/sensornode"
)

// ErrDataNotReady is returned when a sensor has not completed its first
// conversion yet.
var ErrDataNotReady = errors.New("sensor data not ready")

// SensorConfig holds the bus parameters of a sensor. Constructors fill it
// with the chip defaults before applying options.
type SensorConfig struct {
	Address uint16
	Clock   sensornode.ClockRate
	Timeout time.Duration
}

type SensorOption func(*SensorConfig)

func WithAddress(address uint16) SensorOption {
	return func(c *SensorConfig) {
		c.Address = address
	}
}

func WithClock(clock sensornode.ClockRate) SensorOption {
	return func(c *SensorConfig) {
		c.Clock = clock
	}
}

func WithTimeout(timeout time.Duration) SensorOption {
	return func(c *SensorConfig) {
		c.Timeout = timeout
	}
}

func applyOptions(defaults SensorConfig, opts []SensorOption) SensorConfig {
	for _, opt := range opts {
		opt(&defaults)
	}
	return defaults
}
