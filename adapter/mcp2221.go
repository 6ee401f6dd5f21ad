package adapter

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/karalabe/hid"

	"github.com/mklimuk/sensornode"
	"github.com/mklimuk/sensornode/snsctx"
)

const VendorID = 0x04D8
const ProductID = 0x00DD

const (
	reportSize = 64
	// a single report carries at most 60 bytes of I2C data
	maxTransfer = 60
	baseClock   = 12_000_000
)

// HID commands
const (
	cmdStatus             = 0x10
	cmdWrite              = 0x90
	cmdWriteNoStop        = 0x94
	cmdRead               = 0x91
	cmdReadRepeatedStart  = 0x93
	cmdGetData            = 0x40
	statusCancelTransfer  = 0x10
	statusSetSpeed        = 0x20
	statusSpeedNotSet     = 0x21
	getDataEngineError    = 0x41
	getDataInvalidSize    = 127
	responseCodeSucceeded = 0x00
)

var ErrCommandUnsupported = errors.New("unsupported command")
var ErrDeviceNotFound = errors.New("MCP2221 device not found")
var ErrTransferTooLong = fmt.Errorf("transfer exceeds %d bytes", maxTransfer)

var _ sensornode.Opener = &MCP2221{}
var _ sensornode.Driver = &MCP2221{}

// MCP2221 drives the Microchip MCP2221 USB to I2C bridge. The HID device is
// opened for every exchange so the bridge can be unplugged between calls.
type MCP2221 struct {
	mx           sync.Mutex
	dial         func() (io.ReadWriteCloser, error)
	request      []byte
	response     []byte
	responseWait time.Duration
	config       sensornode.Config
}

type MCP2221Status struct {
	I2CDataBufferCounter   int    `yaml:"data_buffer_counter"`
	I2CSpeedDivider        int    `yaml:"speed_divider"`
	I2CTimeout             int    `yaml:"timeout"`
	CurrentAddress         string `yaml:"current_address"`
	LastWriteRequestedSize uint16 `yaml:"last_write_requested"`
	LastWriteSentSize      uint16 `yaml:"last_write_sent"`
	ReadPending            int    `yaml:"read_pending"`
}

type MCP2221Option func(*MCP2221)

// WithDeviceIndex selects one of several attached bridges, in enumeration
// order.
func WithDeviceIndex(index int) MCP2221Option {
	return func(d *MCP2221) {
		d.dial = openHID(index)
	}
}

// WithDialer replaces USB enumeration with a custom HID handle source.
func WithDialer(dial func() (io.ReadWriteCloser, error)) MCP2221Option {
	return func(d *MCP2221) {
		d.dial = dial
	}
}

func WithResponseWait(wait time.Duration) MCP2221Option {
	return func(d *MCP2221) {
		d.responseWait = wait
	}
}

func NewMCP2221(opts ...MCP2221Option) *MCP2221 {
	d := &MCP2221{
		dial:         openHID(-1),
		request:      make([]byte, reportSize),
		response:     make([]byte, reportSize),
		responseWait: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Devices lists the attached bridges.
func Devices() []hid.DeviceInfo {
	return hid.Enumerate(VendorID, ProductID)
}

func openHID(index int) func() (io.ReadWriteCloser, error) {
	return func() (io.ReadWriteCloser, error) {
		devs := Devices()
		if len(devs) == 0 {
			return nil, ErrDeviceNotFound
		}
		if index < 0 {
			if len(devs) > 1 {
				return nil, fmt.Errorf("ambiguous device identification: %d bridges attached", len(devs))
			}
			index = 0
		}
		if index >= len(devs) {
			return nil, fmt.Errorf("no device with id %d", index)
		}
		dev, err := devs[index].Open()
		if err != nil {
			return nil, fmt.Errorf("error opening device: %w", err)
		}
		return dev, nil
	}
}

// Open applies the first configuration and returns the bridge as the bus
// driver.
func (d *MCP2221) Open(ctx context.Context, config sensornode.Config) (sensornode.Driver, error) {
	if err := d.configure(ctx, config); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *MCP2221) Configure(config sensornode.Config) error {
	return d.configure(context.Background(), config)
}

func (d *MCP2221) configure(ctx context.Context, config sensornode.Config) error {
	if config.TenBit() {
		return fmt.Errorf("%w: 10-bit address %#x", ErrCommandUnsupported, config.Address())
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	if d.config.Clock() != config.Clock() {
		if err := d.setSpeed(ctx, config.Clock()); err != nil {
			return err
		}
	}
	d.config = config
	return nil
}

func speedDivider(clock sensornode.ClockRate) byte {
	return byte(baseClock/(int(clock)*1000) - 3)
}

func (d *MCP2221) setSpeed(ctx context.Context, clock sensornode.ClockRate) error {
	d.resetBuffers()
	d.request[0] = cmdStatus
	d.request[3] = statusSetSpeed
	d.request[4] = speedDivider(clock)
	if err := d.send(ctx); err != nil {
		return fmt.Errorf("set speed request failed: %w", err)
	}
	if d.response[3] == statusSpeedNotSet {
		return fmt.Errorf("could not set speed to %d kHz: %w", clock, sensornode.ErrBusBusy)
	}
	return nil
}

// Execute runs the sequence with the configured address. A write followed
// by a read is issued as a write without stop and a repeated-start read.
func (d *MCP2221) Execute(ctx context.Context, txs []sensornode.Tx) error {
	d.mx.Lock()
	defer d.mx.Unlock()
	if d.config.IsZero() {
		return fmt.Errorf("%w: bridge not configured", sensornode.ErrPrecondition)
	}
	for _, seg := range sensornode.Segments(txs) {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		switch {
		case seg.W != nil && seg.R != nil:
			if err = d.write(ctx, cmdWriteNoStop, seg.W); err == nil {
				err = d.read(ctx, cmdReadRepeatedStart, seg.R)
			}
		case seg.R != nil:
			err = d.read(ctx, cmdRead, seg.R)
		default:
			err = d.write(ctx, cmdWrite, seg.W)
		}
		if err != nil {
			return fmt.Errorf("transfer with %s failed: %w", d.config, err)
		}
	}
	return nil
}

func (d *MCP2221) write(ctx context.Context, cmd byte, data []byte) error {
	if len(data) > maxTransfer {
		return ErrTransferTooLong
	}
	d.resetBuffers()
	d.request[0] = cmd
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(data)))
	d.request[3] = byte(d.config.Address() << 1)
	copy(d.request[4:], data)
	if err := d.send(ctx); err != nil {
		return err
	}
	if d.response[1] != responseCodeSucceeded {
		snsctx.Logger(ctx).Debug("adapter busy", "command", fmt.Sprintf("%#x", cmd))
		return sensornode.ErrBusBusy
	}
	return nil
}

func (d *MCP2221) read(ctx context.Context, cmd byte, buf []byte) error {
	if len(buf) > maxTransfer {
		return ErrTransferTooLong
	}
	d.resetBuffers()
	d.request[0] = cmd
	binary.LittleEndian.PutUint16(d.request[1:3], uint16(len(buf)))
	d.request[3] = byte(d.config.Address()<<1 | 1)
	if err := d.send(ctx); err != nil {
		return err
	}
	if d.response[1] != responseCodeSucceeded {
		snsctx.Logger(ctx).Debug("adapter busy", "command", fmt.Sprintf("%#x", cmd))
		return sensornode.ErrBusBusy
	}
	d.resetBuffers()
	d.request[0] = cmdGetData
	if err := d.send(ctx); err != nil {
		return fmt.Errorf("error getting read data from adapter: %w", err)
	}
	if d.response[1] == getDataEngineError {
		return fmt.Errorf("error reading the I2C slave data from the I2C engine")
	}
	if d.response[3] == getDataInvalidSize || int(d.response[3]) != len(buf) {
		return fmt.Errorf("invalid data size byte; expected %d, got %d", len(buf), d.response[3])
	}
	copy(buf, d.response[4:])
	return nil
}

func (d *MCP2221) Status(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatus
	err := d.send(ctx)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

func bufferToStatus(buffer []byte) *MCP2221Status {
	/*
		9: Lower byte (16-bit value) of the requested I2C transfer length
		10: Higher byte (16-bit value) of the requested I2C transfer length
		11:	Lower byte (16-bit value) of the already transferred (through I2C) number of bytes
		12:	Higher byte (16-bit value) of the already transferred (through I2C) number of bytes
		13:	Internal I2C data buffer counter
		14: Current I2C communication speed divider value
		15: Current I2C timeout value
		16:	Lower byte (16-bit value) of the I2C address being used
		17:	Higher byte (16-bit value) of the I2C address being used
	*/
	status := &MCP2221Status{
		I2CDataBufferCounter: int(buffer[13]),
		I2CSpeedDivider:      int(buffer[14]),
		I2CTimeout:           int(buffer[15]),
		ReadPending:          int(buffer[25]),
		CurrentAddress:       hex.EncodeToString(buffer[16:18]),
	}
	status.LastWriteRequestedSize = binary.LittleEndian.Uint16(buffer[9:11])
	status.LastWriteSentSize = binary.LittleEndian.Uint16(buffer[11:13])
	return status
}

// ReleaseBus cancels the current transfer and frees the I2C engine.
func (d *MCP2221) ReleaseBus(ctx context.Context) (*MCP2221Status, error) {
	d.mx.Lock()
	defer d.mx.Unlock()
	d.resetBuffers()
	d.request[0] = cmdStatus
	d.request[2] = statusCancelTransfer
	err := d.send(ctx)
	if err != nil {
		return nil, fmt.Errorf("release request failed: %w", err)
	}
	return bufferToStatus(d.response), nil
}

func (d *MCP2221) send(ctx context.Context) error {
	dev, err := d.dial()
	if err != nil {
		return err
	}
	defer func() {
		if err := dev.Close(); err != nil {
			snsctx.Logger(ctx).Debug("could not close adapter", "error", err)
		}
	}()
	verbose := snsctx.IsVerbose(ctx)
	if verbose {
		snsctx.Logger(ctx).Debug("sending message to adapter", "dump", "\n"+hex.Dump(d.request))
	}
	n, err := dev.Write(d.request)
	if err != nil {
		return fmt.Errorf("could not write request: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short write: %d", n)
	}
	if d.responseWait > 0 {
		timer := time.NewTimer(d.responseWait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	n, err = dev.Read(d.response)
	if err != nil {
		return fmt.Errorf("could not read response: %w", err)
	}
	if n != reportSize {
		return fmt.Errorf("short read: %d", n)
	}
	if verbose {
		snsctx.Logger(ctx).Debug("read message from adapter", "dump", "\n"+hex.Dump(d.response))
	}
	return nil
}

func (d *MCP2221) resetBuffers() {
	clear(d.request)
	clear(d.response)
}
