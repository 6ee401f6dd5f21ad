package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/mklimuk/sensornode"
	"github.com/mklimuk/sensornode/cmd/node/console"
	"github.com/mklimuk/sensornode/device"
)

var regCmd = cli.Command{
	Name:  "reg",
	Usage: "raw register access on any device of the bus",
	Subcommands: cli.Commands{
		&regReadCmd,
		&regWriteCmd,
	},
}

func registerFlags(flags ...cli.Flag) []cli.Flag {
	return withAdapterFlags(append([]cli.Flag{
		&cli.IntFlag{
			Name:  "clock",
			Value: int(sensornode.ClockRate100),
			Usage: "bus clock in kHz: 100 or 400",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Value: time.Second,
		},
	}, flags...)...)
}

// registerTarget parses the <address> <register> arguments.
func registerTarget(c *cli.Context) (uint16, byte, error) {
	if c.NArg() < 2 {
		return 0, 0, fmt.Errorf("address and register are required")
	}
	addr, err := parseAddress(c.Args().Get(0))
	if err != nil {
		return 0, 0, err
	}
	reg, err := parseByte(c.Args().Get(1))
	if err != nil {
		return 0, 0, err
	}
	return addr, reg, nil
}

var regReadCmd = cli.Command{
	Name:      "read",
	Usage:     "read registers starting at <register>",
	ArgsUsage: "<address> <register> [length]",
	Flags:     registerFlags(),
	Action: func(c *cli.Context) error {
		addr, reg, err := registerTarget(c)
		if err != nil {
			return console.Exit(console.CodeUsage, "%s", console.Red(err))
		}
		length := 1
		if c.NArg() > 2 {
			length, err = strconv.Atoi(c.Args().Get(2))
			if err != nil || length < 1 {
				return console.Exit(console.CodeUsage, "invalid length %q", c.Args().Get(2))
			}
		}
		ctx := commandContext(c)
		ctrl, cleanup, err := openController(adapterFromFlags(c))
		if err != nil {
			return console.Exit(console.CodeBus, "bus error: %s", console.Red(err))
		}
		defer cleanup()
		dev, err := device.New(ctx, ctrl, addr, sensornode.ClockRate(c.Int("clock")), c.Duration("timeout"))
		if err != nil {
			return console.Exit(console.CodeDevice, "device error: %s", console.Red(err))
		}
		data, err := dev.ReadBlock(ctx, reg, length)
		if err != nil {
			return console.Exit(console.CodeDevice, "read error: %s", console.Red(err))
		}
		console.PInfof(console.PictoPin, "%s %#02x: %s", dev.Config(), reg, console.White(hex.EncodeToString(data)))
		return nil
	},
}

var regWriteCmd = cli.Command{
	Name:      "write",
	Usage:     "write hex encoded bytes starting at <register>",
	ArgsUsage: "<address> <register> <hex data>",
	Flags: registerFlags(
		&cli.BoolFlag{
			Name:    "yes",
			Aliases: []string{"y"},
			Usage:   "do not ask for confirmation",
		},
	),
	Action: func(c *cli.Context) error {
		addr, reg, err := registerTarget(c)
		if err != nil {
			return console.Exit(console.CodeUsage, "%s", console.Red(err))
		}
		if c.NArg() < 3 {
			return console.Exit(console.CodeUsage, "data is required")
		}
		data, err := hex.DecodeString(c.Args().Get(2))
		if err != nil || len(data) == 0 {
			return console.Exit(console.CodeUsage, "invalid data %q", c.Args().Get(2))
		}
		if !c.Bool("yes") {
			res, err := console.YesOrNo(fmt.Sprintf("write %x to register %#02x of device %#02x?", data, reg, addr))
			if err != nil {
				return console.Exit(console.CodeUsage, "prompt error: %s", console.Red(err))
			}
			if res != console.Yes {
				console.PInfof(console.PictoStop, "aborted")
				return nil
			}
		}
		ctx := commandContext(c)
		ctrl, cleanup, err := openController(adapterFromFlags(c))
		if err != nil {
			return console.Exit(console.CodeBus, "bus error: %s", console.Red(err))
		}
		defer cleanup()
		dev, err := device.New(ctx, ctrl, addr, sensornode.ClockRate(c.Int("clock")), c.Duration("timeout"))
		if err != nil {
			return console.Exit(console.CodeDevice, "device error: %s", console.Red(err))
		}
		if err := dev.WriteBytes(ctx, append([]byte{reg}, data...)); err != nil {
			return console.Exit(console.CodeDevice, "write error: %s", console.Red(err))
		}
		console.Infof("%d bytes written", len(data))
		return nil
	},
}
