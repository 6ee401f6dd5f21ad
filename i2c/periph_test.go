package i2c

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"

	"github.com/mklimuk/sensornode"
)

func TestPeriphDriver_Execute(t *testing.T) {
	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x18, W: []byte{0x05}, R: []byte{0xC1, 0x94}},
			{Addr: 0x18, W: []byte{0x01, 0x00, 0x00}},
			{Addr: 0x60, R: []byte{0x2A}},
		},
		DontPanic: true,
	}
	a := mustConfig(t, 0x18, sensornode.ClockRate400)
	b := mustConfig(t, 0x60, sensornode.ClockRate100)
	d, err := NewPeriphDriver(context.Background(), bus, a)
	require.NoError(t, err)
	ctx := context.Background()

	read := []sensornode.Tx{sensornode.Write([]byte{0x05}), sensornode.Read(2)}
	require.NoError(t, d.Execute(ctx, read))
	assert.Equal(t, []byte{0xC1, 0x94}, read[1].Buf)

	require.NoError(t, d.Execute(ctx, []sensornode.Tx{sensornode.Write([]byte{0x01, 0x00, 0x00})}))

	require.NoError(t, d.Configure(b))
	raw := []sensornode.Tx{sensornode.Read(1)}
	require.NoError(t, d.Execute(ctx, raw))
	assert.Equal(t, []byte{0x2A}, raw[0].Buf)

	assert.NoError(t, d.Close())
}

func TestPeriphDriver_UnexpectedTransfer(t *testing.T) {
	bus := &i2ctest.Playback{
		Ops:       []i2ctest.IO{{Addr: 0x18, W: []byte{0x06}, R: []byte{0x00, 0x54}}},
		DontPanic: true,
	}
	d, err := NewPeriphDriver(context.Background(), bus, mustConfig(t, 0x18, sensornode.ClockRate400))
	require.NoError(t, err)
	err = d.Execute(context.Background(), []sensornode.Tx{sensornode.Write([]byte{0x07}), sensornode.Read(2)})
	assert.Error(t, err)
}

func TestPeriphDriver_CancelledContext(t *testing.T) {
	bus := &i2ctest.Playback{DontPanic: true}
	d, err := NewPeriphDriver(context.Background(), bus, mustConfig(t, 0x18, sensornode.ClockRate400))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = d.Execute(ctx, []sensornode.Tx{sensornode.Read(1)})
	assert.ErrorIs(t, err, context.Canceled)
}

// fixedSpeedBus behaves like sysfs i2c on hosts without a speed hook.
type fixedSpeedBus struct {
	*i2ctest.Playback
	speeds []physic.Frequency
}

func (b *fixedSpeedBus) SetSpeed(f physic.Frequency) error {
	b.speeds = append(b.speeds, f)
	return errors.New("sysfs-i2c: not supported")
}

func TestPeriphDriver_SpeedNotSupported(t *testing.T) {
	bus := &fixedSpeedBus{Playback: &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x18, W: []byte{0x05}, R: []byte{0xC1, 0x94}},
			{Addr: 0x4D, W: []byte{0x00}, R: []byte{0x19}},
		},
		DontPanic: true,
	}}
	ctx := context.Background()
	d, err := NewPeriphDriver(ctx, bus, mustConfig(t, 0x18, sensornode.ClockRate400))
	require.NoError(t, err)
	read := []sensornode.Tx{sensornode.Write([]byte{0x05}), sensornode.Read(2)}
	require.NoError(t, d.Execute(ctx, read))
	assert.Equal(t, []byte{0xC1, 0x94}, read[1].Buf)

	// switching devices still works, the clock is not retried
	require.NoError(t, d.Configure(mustConfig(t, 0x4D, sensornode.ClockRate100)))
	read = []sensornode.Tx{sensornode.Write([]byte{0x00}), sensornode.Read(1)}
	require.NoError(t, d.Execute(ctx, read))
	assert.Equal(t, []byte{0x19}, read[1].Buf)
	assert.Equal(t, []physic.Frequency{400 * physic.KiloHertz}, bus.speeds)
}

func TestPeriphOpener_SpeedNotSupported(t *testing.T) {
	bus := &fixedSpeedBus{Playback: &i2ctest.Playback{DontPanic: true}}
	c := NewController(sensornode.OpenerFunc(func(ctx context.Context, config sensornode.Config) (sensornode.Driver, error) {
		return NewPeriphDriver(ctx, bus, config)
	}))
	assert.NoError(t, c.SetConfiguration(context.Background(), mustConfig(t, 0x18, sensornode.ClockRate400)))
}
