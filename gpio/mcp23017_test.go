package gpio

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/sensornode"
	"github.com/mklimuk/sensornode/device"
	"github.com/mklimuk/sensornode/device/devicetest"
	"github.com/mklimuk/sensornode/i2c"
)

func newTestExpander(t *testing.T, opts ...Option) (*devicetest.Registers, *MCP23017) {
	t.Helper()
	regs := devicetest.NewRegisters()
	m, err := NewMCP23017(context.Background(), i2c.NewController(regs), opts...)
	require.NoError(t, err)
	return regs, m
}

func TestMCP23017_RegisterAddresses(t *testing.T) {
	tests := []struct {
		bank     int
		reg      register
		port     Port
		expected byte
	}{
		{0, IODIR, PortA, 0x00},
		{0, IODIR, PortB, 0x01},
		{0, IOCON, PortA, 0x0A},
		{0, GPPU, PortA, 0x0C},
		{0, GPIO, PortA, 0x12},
		{0, GPIO, PortB, 0x13},
		{0, OLAT, PortB, 0x15},
		{1, IODIR, PortB, 0x10},
		{1, GPIO, PortA, 0x09},
		{1, GPIO, PortB, 0x19},
		{1, OLAT, PortB, 0x1A},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("bank%d-%02x", tt.bank, tt.expected), func(t *testing.T) {
			m := &MCP23017{bank: tt.bank}
			assert.Equal(t, tt.expected, m.addr(tt.reg, tt.port))
		})
	}
}

func TestNewMCP23017_InvalidBank(t *testing.T) {
	_, err := NewMCP23017(context.Background(), i2c.NewController(devicetest.NewRegisters()), WithBank(2))
	assert.ErrorIs(t, err, sensornode.ErrPrecondition)
}

func TestMCP23017_DirectionAndPullUp(t *testing.T) {
	regs, m := newTestExpander(t)
	ctx := context.Background()

	require.NoError(t, m.SetDirection(ctx, PortB, 0xF0))
	require.NoError(t, m.SetPullUp(ctx, PortA, 0x0F))
	assert.Equal(t, []byte{0xF0}, regs.Get(DefaultMCP23017Address, 0x01, 1))
	assert.Equal(t, []byte{0x0F}, regs.Get(DefaultMCP23017Address, 0x0C, 1))

	dir, err := m.Direction(ctx, PortB)
	require.NoError(t, err)
	assert.Equal(t, byte(0xF0), dir)
}

func TestMCP23017_ReadPortsSingleTransaction(t *testing.T) {
	regs, m := newTestExpander(t)
	regs.Set(DefaultMCP23017Address, 0x12, 0x34, 0x12)
	regs.Reset()

	v, err := m.ReadPorts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), v)
	assert.Len(t, regs.Records(), 1)
}

func TestMCP23017_ReadPortsBank1(t *testing.T) {
	regs, m := newTestExpander(t, WithBank(1), WithAddress(0x21))
	regs.Set(0x21, 0x09, 0x34)
	regs.Set(0x21, 0x19, 0x12)

	v, err := m.ReadPorts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), v)

	a, err := m.ReadPort(context.Background(), PortA)
	require.NoError(t, err)
	assert.Equal(t, byte(0x34), a)
}

func TestMCP23017_WriteSettingsSwitchesBank(t *testing.T) {
	regs, m := newTestExpander(t)
	ctx := context.Background()

	require.NoError(t, m.WriteSettings(ctx, ioconBank))
	assert.Equal(t, []byte{ioconBank}, regs.Get(DefaultMCP23017Address, 0x0A, 1))
	require.NoError(t, m.WritePort(ctx, PortB, 0xAA))
	assert.Equal(t, []byte{0xAA}, regs.Get(DefaultMCP23017Address, 0x1A, 1))
}

func TestMCP23017_SetPinKeepsLatch(t *testing.T) {
	regs, m := newTestExpander(t)
	ctx := context.Background()
	regs.Set(DefaultMCP23017Address, 0x14, 0x81)

	require.NoError(t, m.SetPin(ctx, PortA, 3, true))
	assert.Equal(t, []byte{0x89}, regs.Get(DefaultMCP23017Address, 0x14, 1))
	require.NoError(t, m.SetPin(ctx, PortA, 0, false))
	assert.Equal(t, []byte{0x88}, regs.Get(DefaultMCP23017Address, 0x14, 1))

	assert.ErrorIs(t, m.SetPin(ctx, PortA, 8, true), sensornode.ErrPrecondition)
}

func TestMCP23017_Output(t *testing.T) {
	tests := []struct {
		name      string
		activeLow bool
		on        byte
		off       byte
	}{
		{"active high", false, 0x04, 0x00},
		{"active low", true, 0x00, 0x04},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			regs, m := newTestExpander(t)
			ctx := context.Background()
			regs.Set(DefaultMCP23017Address, 0x01, 0xFF)

			led, err := m.Output(ctx, PortB, 2, tt.activeLow)
			require.NoError(t, err)
			assert.Equal(t, []byte{0xFB}, regs.Get(DefaultMCP23017Address, 0x01, 1))
			assert.Equal(t, []byte{tt.off}, regs.Get(DefaultMCP23017Address, 0x15, 1))

			require.NoError(t, led.On(ctx))
			assert.Equal(t, []byte{tt.on}, regs.Get(DefaultMCP23017Address, 0x15, 1))
			require.NoError(t, led.Off(ctx))
			assert.Equal(t, []byte{tt.off}, regs.Get(DefaultMCP23017Address, 0x15, 1))
		})
	}
}

func TestMCP23017_IsConnected(t *testing.T) {
	regs, m := newTestExpander(t)
	ctx := context.Background()

	ok, err := m.IsConnected(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	regs.Fail(errors.New("remote I/O error"))
	ok, err = m.IsConnected(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = m.DeviceIdentifier(ctx)
	assert.ErrorIs(t, err, device.ErrIdentifierUnsupported)
}
