// Command dev builds, tests and lints the sensor node.
//
//	go run ./cmd/dev build                       # dist/node for this host
//	go run ./cmd/dev build --arch arm --cross-os linux --cross-arch arm
//	go run ./cmd/dev test
package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"github.com/mklimuk/sensornode/cmd/dev/cmd"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("dev command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:          "dev",
		Short:        "Developer tool for the sensor node",
		Long:         "Builds the node binary, natively or in docker for the NanoPi NEO, and runs unit tests, hardware integration tests and linters.",
		SilenceUsage: true,
		PersistentPreRun: func(c *cobra.Command, args []string) {
			logger := log.NewWithOptions(os.Stderr, log.Options{
				ReportTimestamp: true,
				TimeFormat:      time.Kitchen,
				Prefix:          "node-dev",
				Level:           log.InfoLevel,
			})
			logger.SetColorProfile(termenv.TrueColor)
			if verbose {
				logger.SetLevel(log.DebugLevel)
				logger.SetReportCaller(true)
			}
			slog.SetDefault(slog.New(logger))
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.AddCommand(
		cmd.BuildCmd(),
		cmd.TestCmd(),
		cmd.LintCmd(),
		cmd.IntegrationTestCmd(),
	)
	return root
}
