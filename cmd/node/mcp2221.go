package main

import (
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/sensornode/adapter"
	"github.com/mklimuk/sensornode/cmd/node/console"
)

var mcp2221Cmd = cli.Command{
	Name:  "mcp2221",
	Usage: "MCP2221 bridge maintenance",
	Subcommands: cli.Commands{
		&mcp2221StatusCmd,
		&mcp2221ReleaseCmd,
	},
}

var bridgeFlags = []cli.Flag{
	&cli.IntFlag{
		Name:  "device",
		Value: -1,
		Usage: "bridge index when several are attached",
	},
}

var mcp2221StatusCmd = cli.Command{
	Name:  "status",
	Usage: "print the I2C engine status",
	Flags: bridgeFlags,
	Action: func(c *cli.Context) error {
		a := adapter.NewMCP2221(adapter.WithDeviceIndex(c.Int("device")))
		status, err := a.Status(commandContext(c))
		if err != nil {
			return console.Exit(console.CodeBus, "adapter communication error: %s", console.Red(err))
		}
		return printStatus(status)
	},
}

var mcp2221ReleaseCmd = cli.Command{
	Name:  "release",
	Usage: "cancel the current transfer and free the I2C engine",
	Flags: bridgeFlags,
	Action: func(c *cli.Context) error {
		a := adapter.NewMCP2221(adapter.WithDeviceIndex(c.Int("device")))
		status, err := a.ReleaseBus(commandContext(c))
		if err != nil {
			return console.Exit(console.CodeBus, "adapter communication error: %s", console.Red(err))
		}
		return printStatus(status)
	},
}

func printStatus(status *adapter.MCP2221Status) error {
	enc := yaml.NewEncoder(console.Writer())
	defer func() { _ = enc.Close() }()
	if err := enc.Encode(status); err != nil {
		return console.Exit(console.CodeUsage, "encoding error: %s", console.Red(err))
	}
	return nil
}
