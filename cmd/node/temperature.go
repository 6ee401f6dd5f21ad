package main

import (
	"encoding/hex"
	"errors"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/sensornode/cmd/node/console"
	"github.com/mklimuk/sensornode/config"
	"github.com/mklimuk/sensornode/device"
	"github.com/mklimuk/sensornode/environment"
)

var tempReadCmd = cli.Command{
	Name:    "temperature",
	Aliases: []string{"temp"},
	Usage:   "read the temperature once",
	Flags: withAdapterFlags(
		&cli.StringFlag{
			Name:    "sensor",
			Aliases: []string{"s"},
			Value:   config.SensorMCP9808,
			Usage:   "sensor type: mcp9808, tc74 or shtc3",
		},
		&cli.StringFlag{
			Name:  "address",
			Usage: "sensor address, e.g. 0x18 (chip default when empty)",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Value: time.Second,
		},
		&cli.BoolFlag{
			Name:  "id",
			Usage: "print presence and the device identifier",
		},
	),
	Action: func(c *cli.Context) error {
		ctx := commandContext(c)
		cfg := config.Default()
		cfg.Adapter, cfg.Bus = adapterFromFlags(c)
		cfg.Sensor.Type = c.String("sensor")
		cfg.Sensor.Timeout = c.Duration("timeout")
		if a := c.String("address"); a != "" {
			addr, err := parseAddress(a)
			if err != nil {
				return console.Exit(console.CodeUsage, "%s", console.Red(err))
			}
			cfg.Sensor.Address = addr
		}
		cfg.Sensor = cfg.Sensor.WithDefaults()
		if err := cfg.Validate(); err != nil {
			return console.Exit(console.CodeUsage, "%s", console.Red(err))
		}

		ctrl, cleanup, err := openController(cfg.Adapter, cfg.Bus)
		if err != nil {
			return console.Exit(console.CodeBus, "bus error: %s", console.Red(err))
		}
		defer cleanup()
		sensor, err := newSensor(ctx, ctrl, cfg.Sensor)
		if err != nil {
			return console.Exit(console.CodeDevice, "sensor error: %s", console.Red(err))
		}

		if c.Bool("id") {
			if ident, ok := sensor.(device.Identifier); ok {
				connected, err := ident.IsConnected(ctx)
				if err != nil {
					return console.Exit(console.CodeDevice, "presence check error: %s", console.Red(err))
				}
				console.PInfof(console.PictoKey, "connected: %s", console.White(connected))
				id, err := ident.DeviceIdentifier(ctx)
				switch {
				case errors.Is(err, device.ErrIdentifierUnsupported):
					console.Warnf("%s has no identifier", cfg.Sensor.Type)
				case err != nil:
					return console.Exit(console.CodeDevice, "identifier error: %s", console.Red(err))
				default:
					console.PInfof(console.PictoKey, "identifier: %s", console.White(hex.EncodeToString(id)))
				}
			}
		}

		if sht, ok := sensor.(*environment.SHTC3); ok {
			temp, hum, err := sht.GetTempAndHum(ctx)
			if err != nil {
				return console.Exit(console.CodeDevice, "error getting temperature read: %s", console.Red(err))
			}
			console.Printf("%s  %s\n%s %s\n", console.PictoThermometer, console.White(temp), console.PictoHumidity, console.White(hum))
			return nil
		}
		temp, err := sensor.GetTemperature(ctx)
		if err != nil {
			return console.Exit(console.CodeDevice, "error getting temperature read: %s", console.Red(err))
		}
		console.Printf("%s %s\n", console.PictoThermometer, console.White(temp))
		return nil
	},
}
