// Package radio carries node readings to the gateway over a packet link.
package radio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
)

const (
	DefaultGatewayAddress = "LoRaIoT1"
	DefaultNodeAddress    = "IoTNet1"

	// MaxPayload is the largest payload a single packet carries.
	MaxPayload = 255
)

var ErrInvalidPacket = errors.New("invalid packet")

// Packet is a frame received over the air.
type Packet struct {
	Source      string
	Destination string
	Payload     []byte
	// SNR in dB and RSSI in dBm of the packet; ChannelRSSI is the RSSI of
	// the channel when the packet arrived.
	SNR         float32
	RSSI        int
	ChannelRSSI int
}

// Handler is called for every packet addressed to the link.
type Handler func(ctx context.Context, p Packet)

// Link sends payloads to named peers and receives packets addressed to its
// own address.
type Link interface {
	Send(ctx context.Context, destination string, payload []byte) error
	// Listen calls handle for each inbound packet until ctx is done.
	Listen(ctx context.Context, handle Handler) error
}

// LogLink is a Link that logs every packet instead of transmitting it. It
// stands in for a transceiver on hosts without one; inbound traffic is
// injected with Deliver.
type LogLink struct {
	mx       sync.Mutex
	address  string
	logger   *slog.Logger
	sent     int
	received int
	inbox    chan Packet
}

func NewLogLink(address string, logger *slog.Logger) *LogLink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogLink{address: address, logger: logger, inbox: make(chan Packet, 16)}
}

// Address is the address the link listens on.
func (l *LogLink) Address() string { return l.address }

func (l *LogLink) Send(ctx context.Context, destination string, payload []byte) error {
	if err := validate(destination, payload); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mx.Lock()
	defer l.mx.Unlock()
	l.sent++
	attrs := []any{"from", l.address, "to", destination, "payload", string(payload), "seq", l.sent}
	if t, err := ParseTemperature(payload); err == nil {
		attrs = append(attrs, "temperature", t)
	}
	l.logger.Info("packet sent", attrs...)
	return nil
}

// Sent returns the number of packets sent so far.
func (l *LogLink) Sent() int {
	l.mx.Lock()
	defer l.mx.Unlock()
	return l.sent
}

// Deliver queues an inbound packet, blocking while the inbox is full.
func (l *LogLink) Deliver(ctx context.Context, p Packet) error {
	if err := validate(p.Destination, p.Payload); err != nil {
		return err
	}
	select {
	case l.inbox <- p:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Listen hands packets addressed to the link to handle and drops the rest.
// It returns nil once ctx is done.
func (l *LogLink) Listen(ctx context.Context, handle Handler) error {
	if handle == nil {
		return fmt.Errorf("%w: nil handler", ErrInvalidPacket)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-l.inbox:
			if p.Destination != l.address {
				l.logger.Debug("packet dropped", "to", p.Destination, "from", p.Source)
				continue
			}
			l.mx.Lock()
			l.received++
			l.mx.Unlock()
			handle(ctx, p)
		}
	}
}

// Received returns the number of packets handed to a listener.
func (l *LogLink) Received() int {
	l.mx.Lock()
	defer l.mx.Unlock()
	return l.received
}

func validate(destination string, payload []byte) error {
	if destination == "" {
		return fmt.Errorf("%w: empty destination", ErrInvalidPacket)
	}
	if len(payload) == 0 || len(payload) > MaxPayload {
		return fmt.Errorf("%w: payload length %d", ErrInvalidPacket, len(payload))
	}
	return nil
}

// TemperaturePayload encodes a reading as "t 21.5", one decimal digit.
func TemperaturePayload(temp float32) []byte {
	return []byte("t " + strconv.FormatFloat(float64(temp), 'f', 1, 32))
}

// ParseTemperature decodes a payload built by TemperaturePayload.
func ParseTemperature(payload []byte) (float32, error) {
	value, ok := strings.CutPrefix(string(payload), "t ")
	if !ok {
		return 0, fmt.Errorf("%w: not a temperature payload", ErrInvalidPacket)
	}
	t, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidPacket, err)
	}
	return float32(t), nil
}
