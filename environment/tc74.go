package environment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mklimuk/sensornode"
	"github.com/mklimuk/sensornode/device"
)

const (
	TC74DefaultAddress = 0x4D

	tc74TempRegister   = 0x00
	tc74ConfigRegister = 0x01

	tc74DataReady = 0x40
	tc74Standby   = 0x80
)

// TC74 represents a Microchip TC74 Digital Temperature Sensor
// See: https://ww1.microchip.com/downloads/en/DeviceDoc/21462D.pdf
//
// Usage: Instantiate with NewTC74, then call GetTemperature(ctx)
type TC74 struct {
	*device.Device
	mx       sync.Mutex
	lastTemp float32
	hasTemp  bool
}

var _ device.Identifier = &TC74{}

// NewTC74 registers the sensor with the bus. The defaults are address 0x4D,
// 100 kHz and a one second transaction timeout.
func NewTC74(ctx context.Context, bus device.Bus, opts ...SensorOption) (*TC74, error) {
	config := applyOptions(SensorConfig{
		Address: TC74DefaultAddress,
		Clock:   sensornode.ClockRate100,
		Timeout: time.Second,
	}, opts)
	dev, err := device.New(ctx, bus, config.Address, config.Clock, config.Timeout)
	if err != nil {
		return nil, fmt.Errorf("tc74: %w", err)
	}
	return &TC74{Device: dev}, nil
}

// GetConfig reads the configuration register (0x01) and returns its value.
func (sensor *TC74) GetConfig(ctx context.Context) (byte, error) {
	c, err := sensor.ReadRegister(ctx, tc74ConfigRegister)
	if err != nil {
		return 0, fmt.Errorf("tc74: could not read config register: %w", err)
	}
	return c, nil
}

// GetTemperature reads the current temperature in Celsius.
// It checks the DATA_RDY bit in the config register first; while a
// conversion is pending the previous reading is returned, or ErrDataNotReady
// if there is none.
func (sensor *TC74) GetTemperature(ctx context.Context) (float32, error) {
	config, err := sensor.GetConfig(ctx)
	if err != nil {
		return 0, err
	}
	sensor.mx.Lock()
	defer sensor.mx.Unlock()
	if config&tc74DataReady == 0 {
		if !sensor.hasTemp {
			return 0, fmt.Errorf("tc74: %w", ErrDataNotReady)
		}
		return sensor.lastTemp, nil
	}
	raw, err := sensor.ReadRegister(ctx, tc74TempRegister)
	if err != nil {
		return 0, fmt.Errorf("tc74: could not read temp register: %w", err)
	}
	// 2's complement 8-bit value
	sensor.lastTemp = float32(int8(raw))
	sensor.hasTemp = true
	return sensor.lastTemp, nil
}

// SetStandby switches the sensor between standby and normal operation.
func (sensor *TC74) SetStandby(ctx context.Context, standby bool) error {
	var c byte
	if standby {
		c = tc74Standby
	}
	if err := sensor.WriteRegister(ctx, tc74ConfigRegister, c); err != nil {
		return fmt.Errorf("tc74: could not write config register: %w", err)
	}
	return nil
}

// IsConnected reports whether the config register can be read. A chip that
// does not acknowledge is reported as disconnected, other errors are
// returned.
func (sensor *TC74) IsConnected(ctx context.Context) (bool, error) {
	_, err := sensor.GetConfig(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sensornode.ErrTransactionFailure):
		return false, nil
	default:
		return false, err
	}
}

// DeviceIdentifier is not available, the TC74 has no ID registers.
func (sensor *TC74) DeviceIdentifier(ctx context.Context) ([]byte, error) {
	return nil, fmt.Errorf("tc74: %w", device.ErrIdentifierUnsupported)
}
