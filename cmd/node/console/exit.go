package console

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// Exit codes of the node binary.
const (
	CodeUsage  = 1
	CodeBus    = 2
	CodeDevice = 3
)

func Exit(code int, msg string, args ...interface{}) cli.ExitCoder {
	return cli.Exit(fmt.Sprintf(msg, args...), code)
}
