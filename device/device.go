// Package device provides the register-level base shared by every chip
// attached to a shared I2C bus.
//
// A concrete driver embeds (or holds) a *Device and implements Identifier:
//
//	type Sensor struct {
//		*device.Device
//	}
//
//	dev, err := device.New(ctx, controller, 0x18, sensornode.ClockRate400, time.Second)
//	v, err := dev.ReadRegister16(ctx, 0x05)
//
// Every operation is a single call to the bus, so its steps never interleave
// with another device's traffic. Errors from the bus are returned unchanged;
// retrying is up to the caller.
package device

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/mklimuk/sensornode"
)

// ErrIdentifierUnsupported is returned by DeviceIdentifier on chips that
// have no identification registers.
var ErrIdentifierUnsupported = errors.New("device identifier not supported")

// Bus is the shared bus access a device needs. *i2c.Controller implements it.
type Bus interface {
	SetConfiguration(ctx context.Context, config sensornode.Config) error
	Execute(ctx context.Context, config sensornode.Config, txs []sensornode.Tx, timeout time.Duration) error
}

// Identifier is the capability every concrete device variant provides.
type Identifier interface {
	// IsConnected probes the chip, usually through its signature registers.
	IsConnected(ctx context.Context) (bool, error)
	// DeviceIdentifier returns a stable identifying byte sequence.
	DeviceIdentifier(ctx context.Context) ([]byte, error)
}

// Device is one logical chip on the bus. Its configuration and timeout are
// fixed at construction.
type Device struct {
	bus     Bus
	config  sensornode.Config
	timeout time.Duration
}

// New builds the device configuration and registers it with the bus. The
// first device created opens the physical bus.
func New(ctx context.Context, bus Bus, address uint16, clock sensornode.ClockRate, timeout time.Duration) (*Device, error) {
	if bus == nil {
		return nil, fmt.Errorf("%w: nil bus", sensornode.ErrPrecondition)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: non-positive timeout %s", sensornode.ErrPrecondition, timeout)
	}
	config, err := sensornode.NewConfig(address, clock)
	if err != nil {
		return nil, err
	}
	if err := bus.SetConfiguration(ctx, config); err != nil {
		return nil, err
	}
	return &Device{bus: bus, config: config, timeout: timeout}, nil
}

func (d *Device) Config() sensornode.Config { return d.config }

func (d *Device) Timeout() time.Duration { return d.timeout }

// Transact runs a caller-built sequence with this device's configuration.
func (d *Device) Transact(ctx context.Context, txs ...sensornode.Tx) error {
	if d == nil || d.bus == nil {
		return fmt.Errorf("%w: unconfigured device", sensornode.ErrPrecondition)
	}
	return d.bus.Execute(ctx, d.config, txs, d.timeout)
}

// ReadRegister reads a single byte register.
func (d *Device) ReadRegister(ctx context.Context, reg byte) (byte, error) {
	buf, err := d.ReadBlock(ctx, reg, 1)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

// ReadRegister16 reads a 16-bit register. The first byte on the wire is the
// most significant one.
func (d *Device) ReadRegister16(ctx context.Context, reg byte) (uint16, error) {
	buf, err := d.ReadBlock(ctx, reg, 2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf), nil
}

// ReadBlock reads length consecutive bytes starting at reg.
func (d *Device) ReadBlock(ctx context.Context, reg byte, length int) ([]byte, error) {
	if length <= 0 {
		return nil, fmt.Errorf("%w: read length %d", sensornode.ErrPrecondition, length)
	}
	read := sensornode.Read(length)
	if err := d.Transact(ctx, sensornode.Write([]byte{reg}), read); err != nil {
		return nil, err
	}
	return read.Buf, nil
}

// ReadRaw reads length bytes without an address phase.
func (d *Device) ReadRaw(ctx context.Context, length int) ([]byte, error) {
	if length <= 0 {
		return nil, fmt.Errorf("%w: read length %d", sensornode.ErrPrecondition, length)
	}
	read := sensornode.Read(length)
	if err := d.Transact(ctx, read); err != nil {
		return nil, err
	}
	return read.Buf, nil
}

func (d *Device) WriteRegister(ctx context.Context, reg byte, value byte) error {
	return d.Transact(ctx, sensornode.Write([]byte{reg, value}))
}

// WriteRegister16 writes a 16-bit register, most significant byte first.
func (d *Device) WriteRegister16(ctx context.Context, reg byte, value uint16) error {
	buf := []byte{reg, 0, 0}
	binary.BigEndian.PutUint16(buf[1:], value)
	return d.Transact(ctx, sensornode.Write(buf))
}

// WriteBytes writes data as is, without register framing.
func (d *Device) WriteBytes(ctx context.Context, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty write", sensornode.ErrPrecondition)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return d.Transact(ctx, sensornode.Write(buf))
}

// ReadPaired reads a signed 16-bit value split across two adjacent byte
// registers in one transaction. high and low may come in either address
// order. Non-adjacent registers cannot be read atomically and are rejected
// without touching the bus.
func (d *Device) ReadPaired(ctx context.Context, high, low byte) (int16, error) {
	var start byte
	var highFirst bool
	switch {
	case int(high)+1 == int(low):
		start, highFirst = high, true
	case int(low)+1 == int(high):
		start, highFirst = low, false
	default:
		return 0, fmt.Errorf("%w: registers %#02x and %#02x are not adjacent", sensornode.ErrPrecondition, high, low)
	}
	buf, err := d.ReadBlock(ctx, start, 2)
	if err != nil {
		return 0, err
	}
	if highFirst {
		return int16(binary.BigEndian.Uint16(buf)), nil
	}
	return int16(binary.LittleEndian.Uint16(buf)), nil
}
