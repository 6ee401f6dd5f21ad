package device_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mklimuk/sensornode"
	"github.com/mklimuk/sensornode/device"
	"github.com/mklimuk/sensornode/device/devicetest"
	"github.com/mklimuk/sensornode/i2c"
)

func newDevice(t *testing.T, bus *devicetest.Registers, addr uint16, clock sensornode.ClockRate) (*device.Device, *i2c.Controller) {
	t.Helper()
	ctrl := i2c.NewController(bus)
	dev, err := device.New(context.Background(), ctrl, addr, clock, time.Second)
	require.NoError(t, err)
	return dev, ctrl
}

func TestNew_Validation(t *testing.T) {
	ctrl := i2c.NewController(devicetest.NewRegisters())
	ctx := context.Background()
	tests := []struct {
		name    string
		addr    uint16
		clock   sensornode.ClockRate
		timeout time.Duration
	}{
		{"address too wide", 0x400, sensornode.ClockRate400, time.Second},
		{"bad clock", 0x18, 250, time.Second},
		{"zero timeout", 0x18, sensornode.ClockRate400, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := device.New(ctx, ctrl, tt.addr, tt.clock, tt.timeout)
			assert.ErrorIs(t, err, sensornode.ErrPrecondition)
		})
	}
	_, err := device.New(ctx, nil, 0x18, sensornode.ClockRate400, time.Second)
	assert.ErrorIs(t, err, sensornode.ErrPrecondition)
}

func TestNew_BusInitializationFailure(t *testing.T) {
	ctrl := i2c.NewController(sensornode.OpenerFunc(func(ctx context.Context, config sensornode.Config) (sensornode.Driver, error) {
		return nil, errors.New("open /dev/i2c-1: no such file or directory")
	}))
	_, err := device.New(context.Background(), ctrl, 0x18, sensornode.ClockRate400, time.Second)
	assert.ErrorIs(t, err, sensornode.ErrBusInitialization)
}

func TestDevice_ReadRegister16BigEndian(t *testing.T) {
	bus := devicetest.NewRegisters()
	dev, _ := newDevice(t, bus, 0x18, sensornode.ClockRate400)
	bus.Set(0x18, 0x05, 0x01, 0x00)

	v, err := dev.ReadRegister16(context.Background(), 0x05)
	require.NoError(t, err)
	assert.Equal(t, uint16(256), v)

	recs := bus.Records()
	require.Len(t, recs, 1)
	require.Len(t, recs[0].Txs, 2)
	assert.Equal(t, sensornode.TxWrite, recs[0].Txs[0].Kind)
	assert.Equal(t, []byte{0x05}, recs[0].Txs[0].Buf)
	assert.Equal(t, sensornode.TxRead, recs[0].Txs[1].Kind)
	assert.Len(t, recs[0].Txs[1].Buf, 2)
}

func TestDevice_WriteThenReadRegister(t *testing.T) {
	bus := devicetest.NewRegisters()
	dev, _ := newDevice(t, bus, 0x18, sensornode.ClockRate400)
	ctx := context.Background()

	require.NoError(t, dev.WriteRegister(ctx, 0x01, 0xFF))
	v, err := dev.ReadRegister(ctx, 0x01)
	require.NoError(t, err)
	assert.Equal(t, byte(0xFF), v)

	recs := bus.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, []sensornode.Tx{sensornode.Write([]byte{0x01, 0xFF})}, recs[0].Txs)
}

func TestDevice_WriteRegister16(t *testing.T) {
	bus := devicetest.NewRegisters()
	dev, _ := newDevice(t, bus, 0x18, sensornode.ClockRate400)
	ctx := context.Background()

	require.NoError(t, dev.WriteRegister16(ctx, 0x02, 0x0550))
	v, err := dev.ReadRegister16(ctx, 0x02)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0550), v)
}

func TestDevice_ReadBlockAndRaw(t *testing.T) {
	bus := devicetest.NewRegisters()
	dev, _ := newDevice(t, bus, 0x4D, sensornode.ClockRate100)
	ctx := context.Background()
	bus.Set(0x4D, 0x00, 0x19, 0x40, 0x7F)

	block, err := dev.ReadBlock(ctx, 0x00, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x19, 0x40, 0x7F}, block)

	// pointer stays where the last write left it
	raw, err := dev.ReadRaw(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x19, 0x40}, raw)
	last := bus.Records()[1].Txs
	require.Len(t, last, 1)
	assert.Equal(t, sensornode.TxRead, last[0].Kind)
}

func TestDevice_WriteBytes(t *testing.T) {
	bus := devicetest.NewRegisters()
	dev, _ := newDevice(t, bus, 0x20, sensornode.ClockRate100)
	data := []byte{0x14, 0xAA, 0x55}
	require.NoError(t, dev.WriteBytes(context.Background(), data))
	data[1] = 0x00
	recs := bus.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, []byte{0x14, 0xAA, 0x55}, recs[0].Txs[0].Buf)
}

func TestDevice_Preconditions(t *testing.T) {
	bus := devicetest.NewRegisters()
	dev, _ := newDevice(t, bus, 0x18, sensornode.ClockRate400)
	ctx := context.Background()

	_, err := dev.ReadBlock(ctx, 0x00, 0)
	assert.ErrorIs(t, err, sensornode.ErrPrecondition)
	_, err = dev.ReadRaw(ctx, -1)
	assert.ErrorIs(t, err, sensornode.ErrPrecondition)
	err = dev.WriteBytes(ctx, nil)
	assert.ErrorIs(t, err, sensornode.ErrPrecondition)

	var unconfigured *device.Device
	_, err = unconfigured.ReadRegister(ctx, 0x00)
	assert.ErrorIs(t, err, sensornode.ErrPrecondition)

	assert.Empty(t, bus.Records())
}

func TestDevice_ReadPaired(t *testing.T) {
	tests := []struct {
		high     byte
		low      byte
		start    byte
		expected int16
	}{
		{0x05, 0x06, 0x05, -2},
		{0x06, 0x05, 0x05, -257},
		{0x00, 0x01, 0x00, 0x1234},
		{0x01, 0x00, 0x00, 0x3412},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%02x-%02x", tt.high, tt.low), func(t *testing.T) {
			bus := devicetest.NewRegisters()
			dev, _ := newDevice(t, bus, 0x18, sensornode.ClockRate400)
			switch tt.start {
			case 0x05:
				bus.Set(0x18, 0x05, 0xFF, 0xFE)
			default:
				bus.Set(0x18, 0x00, 0x12, 0x34)
			}

			v, err := dev.ReadPaired(context.Background(), tt.high, tt.low)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, v)

			recs := bus.Records()
			require.Len(t, recs, 1, "paired read must be a single transaction")
			assert.Equal(t, []byte{tt.start}, recs[0].Txs[0].Buf)
			assert.Len(t, recs[0].Txs[1].Buf, 2)
		})
	}
}

func TestDevice_ReadPairedNotAdjacent(t *testing.T) {
	bus := devicetest.NewRegisters()
	dev, _ := newDevice(t, bus, 0x18, sensornode.ClockRate400)
	for _, pair := range [][2]byte{{0x02, 0x05}, {0x05, 0x05}, {0xFF, 0x00}} {
		_, err := dev.ReadPaired(context.Background(), pair[0], pair[1])
		assert.ErrorIs(t, err, sensornode.ErrPrecondition)
	}
	assert.Empty(t, bus.Records())
}

func TestDevice_ErrorsPropagateUnchanged(t *testing.T) {
	bus := devicetest.NewRegisters()
	dev, _ := newDevice(t, bus, 0x18, sensornode.ClockRate400)
	nack := errors.New("remote I/O error")
	bus.Fail(nack)

	_, err := dev.ReadRegister(context.Background(), 0x05)
	assert.ErrorIs(t, err, sensornode.ErrTransactionFailure)
	assert.ErrorIs(t, err, nack)
	// no retries at this layer
	assert.Len(t, bus.Records(), 1)
}

func TestDevice_Transact(t *testing.T) {
	bus := devicetest.NewRegisters()
	dev, _ := newDevice(t, bus, 0x18, sensornode.ClockRate400)
	bus.Set(0x18, 0x05, 0xC1, 0x94)
	read := sensornode.Read(2)
	require.NoError(t, dev.Transact(context.Background(), sensornode.Write([]byte{0x05}), read))
	assert.Equal(t, []byte{0xC1, 0x94}, read.Buf)
	assert.Equal(t, time.Second, dev.Timeout())
	assert.Equal(t, uint16(0x18), dev.Config().Address())
}

func TestDevice_NoConfigBleedBetweenDevices(t *testing.T) {
	bus := devicetest.NewRegisters()
	ctrl := i2c.NewController(bus)
	ctx := context.Background()
	a, err := device.New(ctx, ctrl, 0x18, sensornode.ClockRate400, time.Second)
	require.NoError(t, err)
	b, err := device.New(ctx, ctrl, 0x60, sensornode.ClockRate100, time.Second)
	require.NoError(t, err)
	bus.Set(0x18, 0x05, 0xAA)
	bus.Set(0x60, 0x05, 0xBB)

	const rounds = 100
	var wg sync.WaitGroup
	wg.Add(2)
	for _, tc := range []struct {
		dev      *device.Device
		expected byte
	}{{a, 0xAA}, {b, 0xBB}} {
		go func(dev *device.Device, expected byte) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				v, err := dev.ReadRegister(ctx, 0x05)
				if assert.NoError(t, err) {
					assert.Equal(t, expected, v)
				}
			}
		}(tc.dev, tc.expected)
	}
	wg.Wait()

	recs := bus.Records()
	require.Len(t, recs, 2*rounds)
	counts := map[sensornode.Config]int{}
	for i, rec := range recs {
		assert.Contains(t, []sensornode.Config{a.Config(), b.Config()}, rec.Config, "sequence %d", i)
		counts[rec.Config]++
	}
	assert.Equal(t, rounds, counts[a.Config()])
	assert.Equal(t, rounds, counts[b.Config()])
}
