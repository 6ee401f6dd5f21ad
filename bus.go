package sensornode

import (
	"context"
	"errors"
	"fmt"

	"periph.io/x/conn/v3/physic"
)

// Error kinds surfaced by the bus layer. Callers match them with errors.Is;
// the underlying cause, when there is one, is wrapped alongside.
var (
	ErrBusInitialization  = errors.New("bus initialization failed")
	ErrTransactionFailure = errors.New("bus transaction failed")
	ErrTransactionTimeout = errors.New("bus transaction timed out")
	ErrPrecondition       = errors.New("precondition violated")
	// ErrBusBusy is the adapter-level cause reported when the bridge engine
	// has not completed the previous command.
	ErrBusBusy = errors.New("I2C engine is busy (command not completed)")
)

// ClockRate is the bus clock in kHz.
type ClockRate int

const (
	ClockRate100 ClockRate = 100
	ClockRate400 ClockRate = 400
)

func (r ClockRate) Valid() bool {
	return r == ClockRate100 || r == ClockRate400
}

const (
	maxAddress7  = 0x7F
	maxAddress10 = 0x3FF
)

// Config is the bus configuration of a single device: its address and
// preferred clock rate. The zero value is not a valid configuration.
type Config struct {
	address uint16
	clock   ClockRate
}

// NewConfig validates address and clock rate. Addresses above 0x7F are
// treated as 10-bit addresses.
func NewConfig(address uint16, clock ClockRate) (Config, error) {
	if address > maxAddress10 {
		return Config{}, fmt.Errorf("%w: address %#x exceeds 10 bits", ErrPrecondition, address)
	}
	if !clock.Valid() {
		return Config{}, fmt.Errorf("%w: unsupported clock rate %d kHz", ErrPrecondition, clock)
	}
	return Config{address: address, clock: clock}, nil
}

func (c Config) Address() uint16 { return c.address }

func (c Config) Clock() ClockRate { return c.clock }

// TenBit reports whether the address needs 10-bit addressing.
func (c Config) TenBit() bool { return c.address > maxAddress7 }

func (c Config) Frequency() physic.Frequency {
	return physic.Frequency(c.clock) * physic.KiloHertz
}

func (c Config) IsZero() bool { return c == Config{} }

func (c Config) String() string {
	return fmt.Sprintf("%#02x@%dkHz", c.address, c.clock)
}

type TxKind int

const (
	TxWrite TxKind = iota
	TxRead
)

func (k TxKind) String() string {
	if k == TxRead {
		return "read"
	}
	return "write"
}

// Tx is a single step of a transaction sequence. For writes Buf holds the
// bytes to send, for reads it is filled with the received bytes.
type Tx struct {
	Kind TxKind
	Buf  []byte
}

func Write(data []byte) Tx {
	return Tx{Kind: TxWrite, Buf: data}
}

func Read(length int) Tx {
	if length < 0 {
		length = 0
	}
	return Tx{Kind: TxRead, Buf: make([]byte, length)}
}

// Validate checks that the sequence can be put on the wire.
func Validate(txs []Tx) error {
	if len(txs) == 0 {
		return fmt.Errorf("%w: empty transaction sequence", ErrTransactionFailure)
	}
	for i, tx := range txs {
		if tx.Kind == TxRead && len(tx.Buf) == 0 {
			return fmt.Errorf("%w: step %d reads zero bytes", ErrTransactionFailure, i)
		}
	}
	return nil
}

// Segment is one addressed exchange: an optional write followed by an
// optional read issued with a repeated start.
type Segment struct {
	W []byte
	R []byte
}

// Segments groups a sequence into wire exchanges. A write directly followed
// by a read is merged into one segment so that the register pointer set by
// the write is not lost to a stop condition.
func Segments(txs []Tx) []Segment {
	segs := make([]Segment, 0, len(txs))
	for i := 0; i < len(txs); i++ {
		tx := txs[i]
		if tx.Kind == TxRead {
			segs = append(segs, Segment{R: tx.Buf})
			continue
		}
		seg := Segment{W: tx.Buf}
		if i+1 < len(txs) && txs[i+1].Kind == TxRead {
			seg.R = txs[i+1].Buf
			i++
		}
		segs = append(segs, seg)
	}
	return segs
}

// Opener brings up the physical bus. It is called once, with the first
// configuration applied to the bus.
type Opener interface {
	Open(ctx context.Context, config Config) (Driver, error)
}

// Driver is the physical bus capability the controller depends on.
// Execute must return once ctx is done.
type Driver interface {
	Configure(config Config) error
	Execute(ctx context.Context, txs []Tx) error
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, config Config) (Driver, error)

func (f OpenerFunc) Open(ctx context.Context, config Config) (Driver, error) {
	return f(ctx, config)
}

// Retryable reports whether err is a runtime bus condition a caller may
// retry. Initialization failures and precondition violations are not.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransactionFailure) || errors.Is(err, ErrTransactionTimeout)
}
