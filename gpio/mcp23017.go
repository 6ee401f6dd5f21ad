package gpio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mklimuk/sensornode"
	"github.com/mklimuk/sensornode/device"
)

const DefaultMCP23017Address = 0x20

type register byte

// Register order within a port. With IOCON.BANK=0 the A and B registers are
// interleaved, with BANK=1 each port occupies its own 16 byte block.
const (
	IODIR register = iota
	IPOL
	GPINTEN
	DEFVAL
	INTCON
	IOCON
	GPPU
	INTF
	INTCAP
	GPIO
	OLAT
)

const ioconBank = 0x80

type Port byte

const (
	PortA Port = iota
	PortB
)

func (p Port) String() string {
	if p == PortB {
		return "B"
	}
	return "A"
}

// MCP23017 represents the Microchip MCP23017 16-bit I/O expander.
// See: https://ww1.microchip.com/downloads/en/devicedoc/20001952c.pdf
//
// Steps to read GPIO:
//  1. SetDirection with 0xFF (all inputs)
//  2. optionally SetPullUp
//  3. ReadPort or ReadPorts
type MCP23017 struct {
	*device.Device
	// mx guards bank and read-modify-write sequences
	mx   sync.Mutex
	bank int
}

var _ device.Identifier = &MCP23017{}

type Config struct {
	Address uint16
	Clock   sensornode.ClockRate
	Timeout time.Duration
	// Bank is the IOCON.BANK setting the chip is in when the driver starts.
	Bank int
}

type Option func(*Config)

func WithAddress(address uint16) Option {
	return func(c *Config) {
		c.Address = address
	}
}

func WithClock(clock sensornode.ClockRate) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

func WithBank(bank int) Option {
	return func(c *Config) {
		c.Bank = bank
	}
}

// NewMCP23017 registers the expander with the bus. The defaults are address
// 0x20, 100 kHz, a one second timeout and bank 0 (power-on state).
func NewMCP23017(ctx context.Context, bus device.Bus, opts ...Option) (*MCP23017, error) {
	config := Config{
		Address: DefaultMCP23017Address,
		Clock:   sensornode.ClockRate100,
		Timeout: time.Second,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.Bank != 0 && config.Bank != 1 {
		return nil, fmt.Errorf("mcp23017: %w: bank %d", sensornode.ErrPrecondition, config.Bank)
	}
	dev, err := device.New(ctx, bus, config.Address, config.Clock, config.Timeout)
	if err != nil {
		return nil, fmt.Errorf("mcp23017: %w", err)
	}
	return &MCP23017{Device: dev, bank: config.Bank}, nil
}

func (m *MCP23017) addr(r register, p Port) byte {
	if m.bank == 1 {
		return byte(p)<<4 | byte(r)
	}
	return byte(r)<<1 | byte(p)
}

func (m *MCP23017) read(ctx context.Context, r register, p Port) (byte, error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.ReadRegister(ctx, m.addr(r, p))
}

func (m *MCP23017) write(ctx context.Context, r register, p Port, value byte) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	return m.WriteRegister(ctx, m.addr(r, p), value)
}

// update applies fn to a register in a read-modify-write sequence.
func (m *MCP23017) update(ctx context.Context, r register, p Port, fn func(byte) byte) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	v, err := m.ReadRegister(ctx, m.addr(r, p))
	if err != nil {
		return err
	}
	return m.WriteRegister(ctx, m.addr(r, p), fn(v))
}

// SetDirection sets the IODIR register of a port. A set bit makes the pin an
// input.
func (m *MCP23017) SetDirection(ctx context.Context, p Port, inputs byte) error {
	if err := m.write(ctx, IODIR, p, inputs); err != nil {
		return fmt.Errorf("mcp23017: could not set direction of port %s: %w", p, err)
	}
	return nil
}

func (m *MCP23017) Direction(ctx context.Context, p Port) (byte, error) {
	v, err := m.read(ctx, IODIR, p)
	if err != nil {
		return 0, fmt.Errorf("mcp23017: could not read direction of port %s: %w", p, err)
	}
	return v, nil
}

// SetPullUp sets up pull up resistors on a port
func (m *MCP23017) SetPullUp(ctx context.Context, p Port, mask byte) error {
	if err := m.write(ctx, GPPU, p, mask); err != nil {
		return fmt.Errorf("mcp23017: could not set pull-up on port %s: %w", p, err)
	}
	return nil
}

// ReadPort reads the GPIO register of a port.
func (m *MCP23017) ReadPort(ctx context.Context, p Port) (byte, error) {
	v, err := m.read(ctx, GPIO, p)
	if err != nil {
		return 0, fmt.Errorf("mcp23017: could not read port %s: %w", p, err)
	}
	return v, nil
}

// ReadPorts reads both ports, port B in the high byte. In bank 0 the two
// GPIO registers are adjacent and are read in a single transaction.
func (m *MCP23017) ReadPorts(ctx context.Context) (uint16, error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	if m.bank == 0 {
		v, err := m.ReadPaired(ctx, m.addr(GPIO, PortB), m.addr(GPIO, PortA))
		if err != nil {
			return 0, fmt.Errorf("mcp23017: could not read ports: %w", err)
		}
		return uint16(v), nil
	}
	a, err := m.ReadRegister(ctx, m.addr(GPIO, PortA))
	if err != nil {
		return 0, fmt.Errorf("mcp23017: could not read port A: %w", err)
	}
	b, err := m.ReadRegister(ctx, m.addr(GPIO, PortB))
	if err != nil {
		return 0, fmt.Errorf("mcp23017: could not read port B: %w", err)
	}
	return uint16(b)<<8 | uint16(a), nil
}

// WritePort sets the output latch of a port.
func (m *MCP23017) WritePort(ctx context.Context, p Port, value byte) error {
	if err := m.write(ctx, OLAT, p, value); err != nil {
		return fmt.Errorf("mcp23017: could not write port %s: %w", p, err)
	}
	return nil
}

// SetPin drives a single output pin, leaving the rest of the latch intact.
func (m *MCP23017) SetPin(ctx context.Context, p Port, pin uint8, high bool) error {
	if pin > 7 {
		return fmt.Errorf("mcp23017: %w: pin %d", sensornode.ErrPrecondition, pin)
	}
	err := m.update(ctx, OLAT, p, func(v byte) byte {
		if high {
			return v | 1<<pin
		}
		return v &^ (1 << pin)
	})
	if err != nil {
		return fmt.Errorf("mcp23017: could not set pin %s%d: %w", p, pin, err)
	}
	return nil
}

// Settings reads contents of IOCON registry
func (m *MCP23017) Settings(ctx context.Context) (byte, error) {
	v, err := m.read(ctx, IOCON, PortA)
	if err != nil {
		return 0, fmt.Errorf("mcp23017: could not read settings: %w", err)
	}
	return v, nil
}

// WriteSettings writes the IOCON register. Register addressing follows the
// BANK bit from the next call on.
func (m *MCP23017) WriteSettings(ctx context.Context, settings byte) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	if err := m.WriteRegister(ctx, m.addr(IOCON, PortA), settings); err != nil {
		return fmt.Errorf("mcp23017: could not write settings: %w", err)
	}
	if settings&ioconBank != 0 {
		m.bank = 1
	} else {
		m.bank = 0
	}
	return nil
}

// IsConnected reports whether the chip acknowledges a read of IOCON. A chip
// that does not acknowledge is reported as disconnected, other errors are
// returned.
func (m *MCP23017) IsConnected(ctx context.Context) (bool, error) {
	_, err := m.Settings(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sensornode.ErrTransactionFailure):
		return false, nil
	default:
		return false, err
	}
}

// DeviceIdentifier is not available, the expander has no ID registers.
func (m *MCP23017) DeviceIdentifier(ctx context.Context) ([]byte, error) {
	return nil, fmt.Errorf("mcp23017: %w", device.ErrIdentifierUnsupported)
}

// Output is a single expander pin driven as an output, e.g. an LED.
type Output struct {
	exp       *MCP23017
	port      Port
	pin       uint8
	activeLow bool
}

// Output switches the pin to output mode and turns it off.
func (m *MCP23017) Output(ctx context.Context, p Port, pin uint8, activeLow bool) (*Output, error) {
	if pin > 7 {
		return nil, fmt.Errorf("mcp23017: %w: pin %d", sensornode.ErrPrecondition, pin)
	}
	o := &Output{exp: m, port: p, pin: pin, activeLow: activeLow}
	if err := o.Off(ctx); err != nil {
		return nil, err
	}
	err := m.update(ctx, IODIR, p, func(v byte) byte { return v &^ (1 << pin) })
	if err != nil {
		return nil, fmt.Errorf("mcp23017: could not set pin %s%d as output: %w", p, pin, err)
	}
	return o, nil
}

func (o *Output) Set(ctx context.Context, on bool) error {
	return o.exp.SetPin(ctx, o.port, o.pin, on != o.activeLow)
}

func (o *Output) On(ctx context.Context) error {
	return o.Set(ctx, true)
}

func (o *Output) Off(ctx context.Context) error {
	return o.Set(ctx, false)
}
