package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/sensornode/cmd/node/console"
	"github.com/mklimuk/sensornode/config"
	"github.com/mklimuk/sensornode/gpio"
	"github.com/mklimuk/sensornode/i2c"
	"github.com/mklimuk/sensornode/node"
	"github.com/mklimuk/sensornode/radio"
)

var runCmd = cli.Command{
	Name:  "run",
	Usage: "read the sensor on schedule and send readings to the gateway",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML configuration file (defaults when empty)",
		},
	},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c.String("config"))
		if err != nil {
			return console.Exit(console.CodeUsage, "configuration error: %s", console.Red(err))
		}
		ctx, stop := signal.NotifyContext(commandContext(c), os.Interrupt, syscall.SIGTERM)
		defer stop()

		ctrl, cleanup, err := openController(cfg.Adapter, cfg.Bus)
		if err != nil {
			return console.Exit(console.CodeBus, "bus error: %s", console.Red(err))
		}
		defer cleanup()

		sensor, err := newSensor(ctx, ctrl, cfg.Sensor)
		if err != nil {
			return console.Exit(console.CodeDevice, "sensor error: %s", console.Red(err))
		}
		logger := slog.Default().With("node", cfg.Radio.Address)
		opts := []node.Option{
			node.WithGateway(cfg.Radio.Gateway),
			node.WithSchedule(cfg.Schedule.Due, cfg.Schedule.Period),
			node.WithRetries(cfg.Schedule.Retries, cfg.Schedule.RetryDelay),
			node.WithLogger(logger),
		}
		if cfg.Indicator.Enabled {
			led, err := newIndicator(ctx, ctrl, cfg.Indicator)
			if err != nil {
				return console.Exit(console.CodeDevice, "indicator error: %s", console.Red(err))
			}
			opts = append(opts, node.WithIndicator(led))
		}
		n, err := node.New(sensor, radio.NewLogLink(cfg.Radio.Address, logger), opts...)
		if err != nil {
			return console.Exit(console.CodeUsage, "node error: %s", console.Red(err))
		}
		console.PInfof(console.PictoRadio, "node %s reporting to %s every %s",
			console.White(cfg.Radio.Address), console.White(cfg.Radio.Gateway), cfg.Schedule.Period)
		return n.Run(ctx)
	},
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Parse(nil)
	}
	return config.Load(path)
}

func newIndicator(ctx context.Context, ctrl *i2c.Controller, ind config.Indicator) (*gpio.Output, error) {
	port, err := ind.GPIOPort()
	if err != nil {
		return nil, err
	}
	exp, err := gpio.NewMCP23017(ctx, ctrl, gpio.WithAddress(ind.Address), gpio.WithClock(ind.Clock))
	if err != nil {
		return nil, err
	}
	return exp.Output(ctx, port, ind.Pin, ind.ActiveLow)
}
