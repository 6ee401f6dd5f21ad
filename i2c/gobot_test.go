package i2c

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	chlog "github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gi2c "gobot.io/x/gobot/v2/drivers/i2c"

	"github.com/mklimuk/sensornode"
	"github.com/mklimuk/sensornode/snsctx"
)

// fakeConn implements the parts of gi2c.Connection the driver uses.
type fakeConn struct {
	gi2c.Connection
	writes [][]byte
	data   []byte
	closed bool
}

func (c *fakeConn) Write(b []byte) (int, error) {
	c.writes = append(c.writes, append([]byte(nil), b...))
	return len(b), nil
}

func (c *fakeConn) Read(b []byte) (int, error) {
	return copy(b, c.data), nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

type fakeConnector struct {
	conns map[int]*fakeConn
	buses []int
	fail  error
}

func (f *fakeConnector) GetI2cConnection(address int, busNr int) (gi2c.Connection, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	f.buses = append(f.buses, busNr)
	c, ok := f.conns[address]
	if !ok {
		c = &fakeConn{}
		f.conns[address] = c
	}
	return c, nil
}

func (f *fakeConnector) DefaultI2cBus() int { return 0 }

func TestGobotDriver_Execute(t *testing.T) {
	connector := &fakeConnector{conns: map[int]*fakeConn{0x18: {data: []byte{0xC1, 0x94}}}}
	opener := &GobotOpener{Connector: connector, Bus: -1}
	ctx := context.Background()

	drv, err := opener.Open(ctx, mustConfig(t, 0x18, sensornode.ClockRate400))
	require.NoError(t, err)
	read := []sensornode.Tx{sensornode.Write([]byte{0x05}), sensornode.Read(2)}
	require.NoError(t, drv.Execute(ctx, read))
	assert.Equal(t, []byte{0xC1, 0x94}, read[1].Buf)
	assert.Equal(t, [][]byte{{0x05}}, connector.conns[0x18].writes)

	require.NoError(t, drv.Configure(mustConfig(t, 0x4D, sensornode.ClockRate100)))
	require.NoError(t, drv.Execute(ctx, []sensornode.Tx{sensornode.Write([]byte{0x01, 0x80})}))
	assert.Equal(t, [][]byte{{0x01, 0x80}}, connector.conns[0x4D].writes)

	// connections are reused per address
	require.NoError(t, drv.Configure(mustConfig(t, 0x18, sensornode.ClockRate400)))
	assert.Equal(t, []int{0, 0}, connector.buses)

	closer, ok := drv.(interface{ Close() error })
	require.True(t, ok)
	require.NoError(t, closer.Close())
	assert.True(t, connector.conns[0x18].closed)
	assert.True(t, connector.conns[0x4D].closed)
}

func TestGobotDriver_Errors(t *testing.T) {
	ctx := context.Background()
	_, err := (&GobotOpener{}).Open(ctx, mustConfig(t, 0x18, sensornode.ClockRate400))
	assert.Error(t, err)

	refused := errors.New("no such bus")
	_, err = (&GobotOpener{Connector: &fakeConnector{fail: refused}, Bus: 1}).Open(ctx, mustConfig(t, 0x18, sensornode.ClockRate400))
	assert.ErrorIs(t, err, refused)

	_, err = (&GobotOpener{Connector: &fakeConnector{conns: map[int]*fakeConn{}}}).Open(ctx, mustConfig(t, 0x150, sensornode.ClockRate100))
	assert.Error(t, err)
}

func TestGobotDriver_ThroughController(t *testing.T) {
	connector := &fakeConnector{conns: map[int]*fakeConn{0x60: {data: []byte{0x2A}}}}
	ctrl := NewController(&GobotOpener{Connector: connector, Bus: 1})
	cfg := mustConfig(t, 0x60, sensornode.ClockRate100)
	require.NoError(t, ctrl.SetConfiguration(context.Background(), cfg))

	raw := []sensornode.Tx{sensornode.Read(1)}
	require.NoError(t, ctrl.Execute(context.Background(), cfg, raw, time.Second))
	assert.Equal(t, []byte{0x2A}, raw[0].Buf)
	assert.Equal(t, []int{1}, connector.buses)
	require.NoError(t, ctrl.Close())
	assert.True(t, connector.conns[0x60].closed)
}

func TestGobotDriver_LogsThroughContextLogger(t *testing.T) {
	var out bytes.Buffer
	logger := slog.New(chlog.NewWithOptions(&out, chlog.Options{Level: chlog.DebugLevel}))
	ctx := snsctx.SetLogger(context.Background(), logger)
	connector := &fakeConnector{conns: map[int]*fakeConn{}}

	drv, err := (&GobotOpener{Connector: connector, Bus: 1}).Open(ctx, mustConfig(t, 0x18, sensornode.ClockRate400))
	require.NoError(t, err)
	out.Reset()
	require.NoError(t, drv.Configure(mustConfig(t, 0x4D, sensornode.ClockRate100)))
	assert.Contains(t, out.String(), "gobot bus clock is fixed by the platform")
}
