package environment

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/mklimuk/sensornode"
	"github.com/mklimuk/sensornode/device"
)

const (
	MCP9808DefaultAddress = 0x18

	mcp9808ConfigRegister     = 0x01
	mcp9808AmbientRegister    = 0x05
	mcp9808ManufacturerReg    = 0x06
	mcp9808DeviceIDRegister   = 0x07
	mcp9808ResolutionRegister = 0x08

	mcp9808ManufacturerID = 0x0054
	mcp9808DeviceID       = 0x04

	mcp9808Shutdown = 0x0100
)

// ErrUnexpectedDevice is returned when the identification registers do not
// match the driven chip.
var ErrUnexpectedDevice = errors.New("unexpected device")

// MCP9808Resolution selects the conversion step of the sensor.
type MCP9808Resolution byte

const (
	Resolution0_5    MCP9808Resolution = 0x00
	Resolution0_25   MCP9808Resolution = 0x01
	Resolution0_125  MCP9808Resolution = 0x02
	Resolution0_0625 MCP9808Resolution = 0x03
)

// MCP9808 represents a Microchip MCP9808 digital temperature sensor.
// See: https://ww1.microchip.com/downloads/en/DeviceDoc/25095A.pdf
type MCP9808 struct {
	*device.Device
}

var _ device.Identifier = &MCP9808{}

// NewMCP9808 registers the sensor with the bus and checks its identity. The
// defaults are address 0x18, 400 kHz and a one second transaction timeout.
func NewMCP9808(ctx context.Context, bus device.Bus, opts ...SensorOption) (*MCP9808, error) {
	config := applyOptions(SensorConfig{
		Address: MCP9808DefaultAddress,
		Clock:   sensornode.ClockRate400,
		Timeout: time.Second,
	}, opts)
	dev, err := device.New(ctx, bus, config.Address, config.Clock, config.Timeout)
	if err != nil {
		return nil, fmt.Errorf("mcp9808: %w", err)
	}
	sensor := &MCP9808{Device: dev}
	ok, err := sensor.IsConnected(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("mcp9808: %w at %#02x", ErrUnexpectedDevice, config.Address)
	}
	return sensor, nil
}

// IsConnected checks the manufacturer and device ID registers. The lower
// byte of the device ID is the silicon revision and is ignored.
func (sensor *MCP9808) IsConnected(ctx context.Context) (bool, error) {
	manufacturer, err := sensor.ReadRegister16(ctx, mcp9808ManufacturerReg)
	if err != nil {
		return false, fmt.Errorf("mcp9808: could not read manufacturer ID: %w", err)
	}
	if manufacturer != mcp9808ManufacturerID {
		return false, nil
	}
	id, err := sensor.ReadRegister16(ctx, mcp9808DeviceIDRegister)
	if err != nil {
		return false, fmt.Errorf("mcp9808: could not read device ID: %w", err)
	}
	return id>>8 == mcp9808DeviceID, nil
}

// DeviceIdentifier returns the manufacturer ID followed by the device ID
// and revision.
func (sensor *MCP9808) DeviceIdentifier(ctx context.Context) ([]byte, error) {
	manufacturer, err := sensor.ReadRegister16(ctx, mcp9808ManufacturerReg)
	if err != nil {
		return nil, fmt.Errorf("mcp9808: could not read manufacturer ID: %w", err)
	}
	id, err := sensor.ReadRegister16(ctx, mcp9808DeviceIDRegister)
	if err != nil {
		return nil, fmt.Errorf("mcp9808: could not read device ID: %w", err)
	}
	out := make([]byte, 4)
	binary.BigEndian.PutUint16(out, manufacturer)
	binary.BigEndian.PutUint16(out[2:], id)
	return out, nil
}

// GetTemperature reads the ambient temperature register in Celsius.
func (sensor *MCP9808) GetTemperature(ctx context.Context) (float32, error) {
	raw, err := sensor.ReadRegister16(ctx, mcp9808AmbientRegister)
	if err != nil {
		return 0, fmt.Errorf("mcp9808: could not read temperature: %w", err)
	}
	return convertMCP9808Temperature(raw), nil
}

func (sensor *MCP9808) Resolution(ctx context.Context) (MCP9808Resolution, error) {
	r, err := sensor.ReadRegister(ctx, mcp9808ResolutionRegister)
	if err != nil {
		return 0, fmt.Errorf("mcp9808: could not read resolution: %w", err)
	}
	return MCP9808Resolution(r & 0x03), nil
}

func (sensor *MCP9808) SetResolution(ctx context.Context, r MCP9808Resolution) error {
	if r > Resolution0_0625 {
		return fmt.Errorf("mcp9808: %w: resolution %d", sensornode.ErrPrecondition, r)
	}
	if err := sensor.WriteRegister(ctx, mcp9808ResolutionRegister, byte(r)); err != nil {
		return fmt.Errorf("mcp9808: could not write resolution: %w", err)
	}
	return nil
}

// Shutdown puts the sensor into low power mode. Conversions stop until Wake.
func (sensor *MCP9808) Shutdown(ctx context.Context) error {
	return sensor.updateConfig(ctx, func(c uint16) uint16 { return c | mcp9808Shutdown })
}

func (sensor *MCP9808) Wake(ctx context.Context) error {
	return sensor.updateConfig(ctx, func(c uint16) uint16 { return c &^ mcp9808Shutdown })
}

func (sensor *MCP9808) updateConfig(ctx context.Context, update func(uint16) uint16) error {
	c, err := sensor.ReadRegister16(ctx, mcp9808ConfigRegister)
	if err != nil {
		return fmt.Errorf("mcp9808: could not read config: %w", err)
	}
	if err := sensor.WriteRegister16(ctx, mcp9808ConfigRegister, update(c)); err != nil {
		return fmt.Errorf("mcp9808: could not write config: %w", err)
	}
	return nil
}

// convertMCP9808Temperature decodes the ambient register: 12 bits of
// magnitude in 1/16 degree steps and a sign bit. The three alert flag bits
// on top are ignored.
func convertMCP9808Temperature(raw uint16) float32 {
	t := float32(raw&0x0FFF) / 16
	if raw&0x1000 != 0 {
		t -= 256
	}
	return t
}
