package environment

import (
	"testing"

	"github.com/mklimuk/sensornode/device/devicetest"
	"github.com/mklimuk/sensornode/i2c"
)

func newTestBus(t *testing.T) (*devicetest.Registers, *i2c.Controller) {
	t.Helper()
	regs := devicetest.NewRegisters()
	return regs, i2c.NewController(regs)
}
