// Package config loads the node configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mklimuk/sensornode"
	"github.com/mklimuk/sensornode/environment"
	"github.com/mklimuk/sensornode/gpio"
	"github.com/mklimuk/sensornode/node"
	"github.com/mklimuk/sensornode/radio"
)

var ErrInvalidConfig = errors.New("invalid configuration")

const (
	AdapterPeriph  = "periph"
	AdapterNanoPi  = "nanopi"
	AdapterMCP2221 = "mcp2221"

	SensorMCP9808 = "mcp9808"
	SensorTC74    = "tc74"
	SensorSHTC3   = "shtc3"
	SensorMock    = "mock"
)

type Config struct {
	Adapter   string    `yaml:"adapter"`
	Bus       Bus       `yaml:"bus"`
	Sensor    Sensor    `yaml:"sensor"`
	Indicator Indicator `yaml:"indicator"`
	Radio     Radio     `yaml:"radio"`
	Schedule  Schedule  `yaml:"schedule"`
}

type Bus struct {
	// Name is the periph bus name, e.g. "/dev/i2c-1" or "1". Empty selects
	// the first bus found.
	Name string `yaml:"name"`
	// Number is the gobot bus number on the NanoPi, -1 for the platform
	// default.
	Number int `yaml:"number"`
	// Device selects one of several MCP2221 bridges, -1 when only one is
	// attached.
	Device int `yaml:"device"`
}

type Sensor struct {
	Type    string               `yaml:"type"`
	Address uint16               `yaml:"address"`
	Clock   sensornode.ClockRate `yaml:"clock"`
	Timeout time.Duration        `yaml:"timeout"`
	// Temperature is reported by the mock sensor.
	Temperature float32 `yaml:"temperature"`
}

type Indicator struct {
	Enabled   bool                 `yaml:"enabled"`
	Address   uint16               `yaml:"address"`
	Clock     sensornode.ClockRate `yaml:"clock"`
	Port      string               `yaml:"port"`
	Pin       uint8                `yaml:"pin"`
	ActiveLow bool                 `yaml:"active_low"`
}

type Radio struct {
	Address string `yaml:"address"`
	Gateway string `yaml:"gateway"`
}

type Schedule struct {
	Due        time.Duration `yaml:"due"`
	Period     time.Duration `yaml:"period"`
	Retries    int           `yaml:"retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

func Default() Config {
	return Config{
		Adapter: AdapterPeriph,
		Bus:     Bus{Number: -1, Device: -1},
		Sensor: Sensor{
			Type:    SensorMCP9808,
			Timeout: time.Second,
		},
		Indicator: Indicator{
			Address: gpio.DefaultMCP23017Address,
			Clock:   sensornode.ClockRate100,
			Port:    "A",
		},
		Radio: Radio{
			Address: radio.DefaultNodeAddress,
			Gateway: radio.DefaultGatewayAddress,
		},
		Schedule: Schedule{
			Due:        node.DefaultDue,
			Period:     node.DefaultPeriod,
			Retries:    node.DefaultRetries,
			RetryDelay: 100 * time.Millisecond,
		},
	}
}

// Load reads a YAML file on top of the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("could not read config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (Config, error) {
	c := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	c.Sensor = c.Sensor.WithDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// WithDefaults fills address and clock from the selected chip.
func (s Sensor) WithDefaults() Sensor {
	var addr uint16
	var clock sensornode.ClockRate
	switch s.Type {
	case SensorMCP9808:
		addr, clock = environment.MCP9808DefaultAddress, sensornode.ClockRate400
	case SensorTC74:
		addr, clock = environment.TC74DefaultAddress, sensornode.ClockRate100
	case SensorSHTC3:
		addr, clock = environment.SHTC3DefaultAddress, sensornode.ClockRate400
	default:
		return s
	}
	if s.Address == 0 {
		s.Address = addr
	}
	if s.Clock == 0 {
		s.Clock = clock
	}
	return s
}

func (c Config) Validate() error {
	switch c.Adapter {
	case AdapterPeriph, AdapterNanoPi, AdapterMCP2221:
	default:
		return fmt.Errorf("%w: unknown adapter %q", ErrInvalidConfig, c.Adapter)
	}
	switch c.Sensor.Type {
	case SensorMock:
	case SensorMCP9808, SensorTC74, SensorSHTC3:
		if _, err := sensornode.NewConfig(c.Sensor.Address, c.Sensor.Clock); err != nil {
			return fmt.Errorf("%w: sensor: %w", ErrInvalidConfig, err)
		}
		if c.Sensor.Timeout <= 0 {
			return fmt.Errorf("%w: sensor timeout must be positive", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown sensor %q", ErrInvalidConfig, c.Sensor.Type)
	}
	if c.Indicator.Enabled {
		if _, err := sensornode.NewConfig(c.Indicator.Address, c.Indicator.Clock); err != nil {
			return fmt.Errorf("%w: indicator: %w", ErrInvalidConfig, err)
		}
		if _, err := c.Indicator.GPIOPort(); err != nil {
			return err
		}
		if c.Indicator.Pin > 7 {
			return fmt.Errorf("%w: indicator pin %d", ErrInvalidConfig, c.Indicator.Pin)
		}
	}
	if c.Radio.Address == "" || c.Radio.Gateway == "" {
		return fmt.Errorf("%w: radio addresses must not be empty", ErrInvalidConfig)
	}
	if c.Schedule.Due < 0 || c.Schedule.Period <= 0 || c.Schedule.Retries < 0 {
		return fmt.Errorf("%w: invalid schedule", ErrInvalidConfig)
	}
	return nil
}

func (i Indicator) GPIOPort() (gpio.Port, error) {
	switch i.Port {
	case "A", "a":
		return gpio.PortA, nil
	case "B", "b":
		return gpio.PortB, nil
	}
	return 0, fmt.Errorf("%w: indicator port %q", ErrInvalidConfig, i.Port)
}
