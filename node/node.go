// Package node runs the measurement loop: read the temperature sensor on a
// timer and forward the reading to the gateway.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mklimuk/sensornode"
	"github.com/mklimuk/sensornode/radio"
)

const (
	DefaultDue     = 10 * time.Second
	DefaultPeriod  = 30 * time.Second
	DefaultRetries = 2
)

type TemperatureSensor interface {
	GetTemperature(ctx context.Context) (float32, error)
}

// Indicator is lit for the duration of a measurement cycle.
type Indicator interface {
	On(ctx context.Context) error
	Off(ctx context.Context) error
}

type Config struct {
	Gateway string
	// Due is the delay before the first cycle, Period the interval after it.
	Due        time.Duration
	Period     time.Duration
	Retries    int
	RetryDelay time.Duration
}

type Option func(*Node)

func WithIndicator(led Indicator) Option {
	return func(n *Node) {
		n.led = led
	}
}

func WithGateway(address string) Option {
	return func(n *Node) {
		n.config.Gateway = address
	}
}

func WithSchedule(due, period time.Duration) Option {
	return func(n *Node) {
		n.config.Due = due
		n.config.Period = period
	}
}

// WithRetries sets how many times a read failing with a retryable bus error
// is repeated within one cycle.
func WithRetries(retries int, delay time.Duration) Option {
	return func(n *Node) {
		n.config.Retries = retries
		n.config.RetryDelay = delay
	}
}

// WithPacketHandler is called for every packet the node receives, after it
// has been logged.
func WithPacketHandler(handle radio.Handler) Option {
	return func(n *Node) {
		n.onPacket = handle
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(n *Node) {
		n.logger = logger
	}
}

type Node struct {
	sensor TemperatureSensor
	link   radio.Link
	led    Indicator
	config Config
	logger *slog.Logger

	onPacket radio.Handler
}

func New(sensor TemperatureSensor, link radio.Link, opts ...Option) (*Node, error) {
	n := &Node{
		sensor: sensor,
		link:   link,
		config: Config{
			Gateway:    radio.DefaultGatewayAddress,
			Due:        DefaultDue,
			Period:     DefaultPeriod,
			Retries:    DefaultRetries,
			RetryDelay: 100 * time.Millisecond,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	switch {
	case sensor == nil:
		return nil, fmt.Errorf("%w: nil sensor", sensornode.ErrPrecondition)
	case link == nil:
		return nil, fmt.Errorf("%w: nil radio link", sensornode.ErrPrecondition)
	case n.config.Gateway == "":
		return nil, fmt.Errorf("%w: empty gateway address", sensornode.ErrPrecondition)
	case n.config.Due < 0 || n.config.Period <= 0:
		return nil, fmt.Errorf("%w: invalid schedule due=%s period=%s", sensornode.ErrPrecondition, n.config.Due, n.config.Period)
	case n.config.Retries < 0:
		return nil, fmt.Errorf("%w: negative retries", sensornode.ErrPrecondition)
	}
	return n, nil
}

func (n *Node) Config() Config { return n.config }

// Run listens on the radio link and executes a cycle after Due and then
// every Period until ctx is done. Failed cycles are logged and do not stop
// the loop; neither does a failed listener.
func (n *Node) Run(ctx context.Context) error {
	n.logger.Info("node started", "gateway", n.config.Gateway, "due", n.config.Due, "period", n.config.Period)
	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := n.link.Listen(ctx, n.receive); err != nil && ctx.Err() == nil {
			n.logger.Error("radio listener stopped", "error", err)
		}
	}()

	timer := time.NewTimer(n.config.Due)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			n.logger.Info("node stopped")
			return nil
		case <-timer.C:
			if err := n.Cycle(ctx); err != nil && ctx.Err() == nil {
				n.logger.Error("measurement cycle failed", "error", err)
			}
			timer.Reset(n.config.Period)
		}
	}
}

// Cycle takes one reading and sends it to the gateway. The indicator is on
// for the whole cycle.
func (n *Node) Cycle(ctx context.Context) (err error) {
	if n.led != nil {
		if err := n.led.On(ctx); err != nil {
			n.logger.Debug("could not turn indicator on", "error", err)
		}
		defer func() {
			if err := n.led.Off(ctx); err != nil {
				n.logger.Debug("could not turn indicator off", "error", err)
			}
		}()
	}
	temp, err := n.read(ctx)
	if err != nil {
		return fmt.Errorf("could not read temperature: %w", err)
	}
	payload := radio.TemperaturePayload(temp)
	if err := n.link.Send(ctx, n.config.Gateway, payload); err != nil {
		return fmt.Errorf("could not send reading: %w", err)
	}
	n.logger.Info("reading sent", "temperature", temp, "gateway", n.config.Gateway)
	return nil
}

func (n *Node) receive(ctx context.Context, p radio.Packet) {
	n.logger.Info("packet received", "from", p.Source, "message", string(p.Payload), "bytes", len(p.Payload),
		"snr", p.SNR, "rssi", p.RSSI, "channel_rssi", p.ChannelRSSI)
	if n.onPacket != nil {
		n.onPacket(ctx, p)
	}
}

func (n *Node) read(ctx context.Context) (float32, error) {
	var err error
	for attempt := 0; attempt <= n.config.Retries; attempt++ {
		if attempt > 0 {
			n.logger.Debug("retrying sensor read", "attempt", attempt, "error", err)
			if err := wait(ctx, n.config.RetryDelay); err != nil {
				return 0, err
			}
		}
		var temp float32
		temp, err = n.sensor.GetTemperature(ctx)
		if err == nil {
			return temp, nil
		}
		if !sensornode.Retryable(err) {
			return 0, err
		}
	}
	return 0, err
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
