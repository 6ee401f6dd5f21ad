// Package devicetest provides an in-memory bus for testing device drivers.
package devicetest

import (
	"context"
	"sync"

	"github.com/mklimuk/sensornode"
)

var _ sensornode.Opener = &Registers{}
var _ sensornode.Driver = &Registers{}

// Record is one executed transaction sequence together with the bus
// configuration that was applied when it ran.
type Record struct {
	Config sensornode.Config
	Txs    []sensornode.Tx
}

// Registers emulates chips with auto-incrementing 256 byte register maps,
// one per address. A write sets the register pointer to its first byte and
// stores the remaining bytes; a read returns bytes from the pointer on.
//
// Registers is both the opener and the driver, so it can be placed behind
// a real controller:
//
//	regs := devicetest.NewRegisters()
//	ctrl := i2c.NewController(regs)
type Registers struct {
	mu      sync.Mutex
	config  sensornode.Config
	maps    map[uint16]*[256]byte
	pointer map[uint16]byte
	records []Record
	err     error
	hook    func(config sensornode.Config, txs []sensornode.Tx)
}

func NewRegisters() *Registers {
	return &Registers{
		maps:    make(map[uint16]*[256]byte),
		pointer: make(map[uint16]byte),
	}
}

func (r *Registers) Open(ctx context.Context, config sensornode.Config) (sensornode.Driver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config = config
	return r, nil
}

func (r *Registers) Configure(config sensornode.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.config = config
	return nil
}

func (r *Registers) Execute(ctx context.Context, txs []sensornode.Tx) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, Record{Config: r.config, Txs: txs})
	if r.hook != nil {
		r.hook(r.config, txs)
	}
	if r.err != nil {
		return r.err
	}
	addr := r.config.Address()
	m := r.mapFor(addr)
	for _, tx := range txs {
		switch tx.Kind {
		case sensornode.TxWrite:
			if len(tx.Buf) == 0 {
				continue
			}
			p := tx.Buf[0]
			for _, v := range tx.Buf[1:] {
				m[p] = v
				p++
			}
			r.pointer[addr] = tx.Buf[0]
		case sensornode.TxRead:
			p := r.pointer[addr]
			for i := range tx.Buf {
				tx.Buf[i] = m[p]
				p++
			}
		}
	}
	return nil
}

// Set loads values into the register map of addr starting at reg.
func (r *Registers) Set(addr uint16, reg byte, values ...byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copy(r.mapFor(addr)[reg:], values)
}

// Get returns n bytes of the register map of addr starting at reg.
func (r *Registers) Get(addr uint16, reg byte, n int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]byte, n)
	copy(out, r.mapFor(addr)[reg:])
	return out
}

// Fail makes every following sequence fail with err. A nil err restores
// normal operation.
func (r *Registers) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// OnExecute installs a hook called with every sequence before it runs.
func (r *Registers) OnExecute(hook func(config sensornode.Config, txs []sensornode.Tx)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hook = hook
}

func (r *Registers) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

func (r *Registers) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = nil
}

func (r *Registers) mapFor(addr uint16) *[256]byte {
	m, ok := r.maps[addr]
	if !ok {
		m = &[256]byte{}
		r.maps[addr] = m
	}
	return m
}
