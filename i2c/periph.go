package i2c

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mklimuk/sensornode"
	"github.com/mklimuk/sensornode/snsctx"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

var _ sensornode.Opener = PeriphOpener{}
var _ sensornode.Driver = &PeriphDriver{}

// PeriphOpener opens a host I2C bus (e.g. /dev/i2c-1) through periph.io.
// An empty Dev selects the first bus registered on the host.
type PeriphOpener struct {
	Dev string
}

func (o PeriphOpener) Open(ctx context.Context, config sensornode.Config) (sensornode.Driver, error) {
	state, err := host.Init()
	if err != nil {
		return nil, fmt.Errorf("could not init host: %w", err)
	}
	for _, driver := range state.Loaded {
		snsctx.Logger(ctx).Debug("host driver loaded", "driver", driver.String())
	}
	bus, err := i2creg.Open(o.Dev)
	if err != nil {
		return nil, fmt.Errorf("could not open i2c bus %q: %w", o.Dev, err)
	}
	d, err := NewPeriphDriver(ctx, bus, config)
	if err != nil {
		_ = bus.Close()
		return nil, err
	}
	return d, nil
}

// PeriphDriver executes transaction sequences on a periph.io bus.
//
// Only some hosts let the bus speed change at runtime (sysfs i2c on a
// Raspberry Pi); elsewhere SetSpeed fails and the clock stays whatever the
// kernel configured. The first such failure is logged and later clock
// changes are not attempted.
type PeriphDriver struct {
	bus        i2c.BusCloser
	config     sensornode.Config
	fixedClock bool
	logger     *slog.Logger
}

// NewPeriphDriver wraps an already opened bus and applies config to it.
func NewPeriphDriver(ctx context.Context, bus i2c.BusCloser, config sensornode.Config) (*PeriphDriver, error) {
	d := &PeriphDriver{bus: bus, logger: snsctx.Logger(ctx)}
	if err := d.Configure(config); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *PeriphDriver) Configure(config sensornode.Config) error {
	if !d.fixedClock && d.config.Clock() != config.Clock() {
		if err := d.bus.SetSpeed(config.Frequency()); err != nil {
			d.fixedClock = true
			d.logger.Debug("bus speed is fixed by the host", "bus", d.bus.String(),
				"requested", config.Frequency().String(), "error", err)
		}
	}
	d.config = config
	return nil
}

func (d *PeriphDriver) Execute(ctx context.Context, txs []sensornode.Tx) error {
	addr := d.config.Address()
	for _, seg := range sensornode.Segments(txs) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.bus.Tx(addr, seg.W, seg.R); err != nil {
			return fmt.Errorf("could not transfer on i2c bus %#x: %w", addr, err)
		}
	}
	return nil
}

func (d *PeriphDriver) Close() error {
	return d.bus.Close()
}
