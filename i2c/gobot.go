package i2c

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	gi2c "gobot.io/x/gobot/v2/drivers/i2c"

	"github.com/mklimuk/sensornode"
	"github.com/mklimuk/sensornode/snsctx"
)

var _ sensornode.Opener = &GobotOpener{}
var _ sensornode.Driver = &GobotDriver{}

// GobotOpener opens an I2C bus exposed by a gobot platform adaptor such as
// the NanoPi NEO. The adaptor must already be connected.
type GobotOpener struct {
	Connector gi2c.Connector
	// Bus is the bus number; a negative value selects the adaptor default.
	Bus int
}

func (o *GobotOpener) Open(ctx context.Context, config sensornode.Config) (sensornode.Driver, error) {
	if o.Connector == nil {
		return nil, fmt.Errorf("no gobot i2c connector")
	}
	bus := o.Bus
	if bus < 0 {
		bus = o.Connector.DefaultI2cBus()
	}
	d := &GobotDriver{
		connector: o.Connector,
		bus:       bus,
		conns:     make(map[uint16]gi2c.Connection),
		logger:    snsctx.Logger(ctx),
	}
	if err := d.Configure(config); err != nil {
		return nil, err
	}
	return d, nil
}

// GobotDriver executes transaction sequences through gobot i2c connections,
// one per device address. gobot offers no per-transfer clock control, so the
// clock rate of the configuration is left to the platform setup.
type GobotDriver struct {
	connector gi2c.Connector
	bus       int
	conns     map[uint16]gi2c.Connection
	current   gi2c.Connection
	config    sensornode.Config
	logger    *slog.Logger
}

func (d *GobotDriver) Configure(config sensornode.Config) error {
	if config.TenBit() {
		return fmt.Errorf("gobot connector does not support 10-bit address %#x", config.Address())
	}
	conn, ok := d.conns[config.Address()]
	if !ok {
		var err error
		conn, err = d.connector.GetI2cConnection(int(config.Address()), d.bus)
		if err != nil {
			return fmt.Errorf("could not get i2c connection for %#x on bus %d: %w", config.Address(), d.bus, err)
		}
		d.conns[config.Address()] = conn
	}
	if d.config.Clock() != config.Clock() {
		d.logger.Debug("gobot bus clock is fixed by the platform", "requested", config.Frequency().String())
	}
	d.current = conn
	d.config = config
	return nil
}

func (d *GobotDriver) Execute(ctx context.Context, txs []sensornode.Tx) error {
	if d.current == nil {
		return fmt.Errorf("gobot driver not configured")
	}
	for _, seg := range sensornode.Segments(txs) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if seg.W != nil {
			n, err := d.current.Write(seg.W)
			if err != nil {
				return fmt.Errorf("could not write to %#x: %w", d.config.Address(), err)
			}
			if n != len(seg.W) {
				return fmt.Errorf("short write to %#x: %d of %d", d.config.Address(), n, len(seg.W))
			}
		}
		if seg.R != nil {
			n, err := d.current.Read(seg.R)
			if err != nil {
				return fmt.Errorf("could not read from %#x: %w", d.config.Address(), err)
			}
			if n != len(seg.R) {
				return fmt.Errorf("short read from %#x: %d of %d", d.config.Address(), n, len(seg.R))
			}
		}
	}
	return nil
}

func (d *GobotDriver) Close() error {
	var errs []error
	for addr, conn := range d.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("could not close connection %#x: %w", addr, err))
		}
	}
	d.conns = make(map[uint16]gi2c.Connection)
	d.current = nil
	return errors.Join(errs...)
}
