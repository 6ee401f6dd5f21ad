package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/urfave/cli/v2"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"

	"github.com/mklimuk/sensornode"
	"github.com/mklimuk/sensornode/adapter"
	"github.com/mklimuk/sensornode/config"
	"github.com/mklimuk/sensornode/environment"
	"github.com/mklimuk/sensornode/i2c"
	"github.com/mklimuk/sensornode/node"
	"github.com/mklimuk/sensornode/snsctx"
)

// withAdapterFlags returns the bus selection flags followed by flags.
func withAdapterFlags(flags ...cli.Flag) []cli.Flag {
	return append([]cli.Flag{
		&cli.StringFlag{
			Name:    "adapter",
			Aliases: []string{"a"},
			Value:   config.AdapterPeriph,
			Usage:   "bus adapter: periph, nanopi or mcp2221",
		},
		&cli.StringFlag{
			Name:  "bus",
			Usage: "periph bus name, e.g. /dev/i2c-1 (first bus when empty)",
		},
		&cli.IntFlag{
			Name:  "bus-number",
			Value: -1,
			Usage: "NanoPi bus number (platform default when negative)",
		},
		&cli.IntFlag{
			Name:  "device",
			Value: -1,
			Usage: "MCP2221 bridge index when several are attached",
		},
	}, flags...)
}

func adapterFromFlags(c *cli.Context) (string, config.Bus) {
	return c.String("adapter"), config.Bus{
		Name:   c.String("bus"),
		Number: c.Int("bus-number"),
		Device: c.Int("device"),
	}
}

// commandContext carries the verbose flag and the default logger.
func commandContext(c *cli.Context) context.Context {
	ctx := snsctx.SetVerbose(c.Context, c.Bool("verbose"))
	return snsctx.SetLogger(ctx, slog.Default())
}

// openController builds the shared bus controller for the selected adapter.
// The physical bus is opened by the first device registered with it.
func openController(name string, bus config.Bus) (*i2c.Controller, func(), error) {
	var opener sensornode.Opener
	finalize := func() error { return nil }
	switch name {
	case config.AdapterPeriph:
		opener = i2c.PeriphOpener{Dev: bus.Name}
	case config.AdapterNanoPi:
		npi := nanopi.NewNeoAdaptor()
		if err := npi.I2cBusAdaptor.Connect(); err != nil {
			return nil, nil, fmt.Errorf("adaptor connect error: %w", err)
		}
		opener = &i2c.GobotOpener{Connector: npi, Bus: bus.Number}
		finalize = npi.I2cBusAdaptor.Finalize
	case config.AdapterMCP2221:
		opener = adapter.NewMCP2221(adapter.WithDeviceIndex(bus.Device))
	default:
		return nil, nil, fmt.Errorf("unknown adapter %q", name)
	}
	ctrl := i2c.NewController(opener)
	cleanup := func() {
		if err := ctrl.Close(); err != nil {
			slog.Warn("could not close bus", "error", err)
		}
		if err := finalize(); err != nil {
			slog.Warn("could not finalize adaptor", "error", err)
		}
	}
	return ctrl, cleanup, nil
}

func newSensor(ctx context.Context, bus *i2c.Controller, s config.Sensor) (node.TemperatureSensor, error) {
	opts := []environment.SensorOption{
		environment.WithAddress(s.Address),
		environment.WithClock(s.Clock),
		environment.WithTimeout(s.Timeout),
	}
	switch s.Type {
	case config.SensorMCP9808:
		sensor, err := environment.NewMCP9808(ctx, bus, opts...)
		if err != nil {
			return nil, err
		}
		return sensor, nil
	case config.SensorTC74:
		sensor, err := environment.NewTC74(ctx, bus, opts...)
		if err != nil {
			return nil, err
		}
		return sensor, nil
	case config.SensorSHTC3:
		sensor, err := environment.NewSHTC3(ctx, bus, opts...)
		if err != nil {
			return nil, err
		}
		return sensor, nil
	case config.SensorMock:
		return environment.NewStaticTemperatureSensor(s.Temperature), nil
	}
	return nil, fmt.Errorf("unknown sensor %q", s.Type)
}

func parseAddress(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return uint16(v), nil
}

func parseByte(s string) (byte, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid byte %q: %w", s, err)
	}
	return byte(v), nil
}
