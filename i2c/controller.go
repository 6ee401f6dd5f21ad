package i2c

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mklimuk/sensornode"
)

// Controller owns the physical bus and serializes every transaction on it.
// One Controller exists per physical bus; it is built during startup and
// handed to every device attached to that bus.
//
// The lock covers the whole configure-then-execute sequence, so two devices
// with different configurations never interleave on the wire.
type Controller struct {
	mx      sync.Mutex
	opener  sensornode.Opener
	driver  sensornode.Driver
	active  sensornode.Config
	applied sensornode.Config

	// abandoned is closed once a transfer given up on after its timeout
	// leaves the driver.
	abandoned chan struct{}
}

func NewController(opener sensornode.Opener) *Controller {
	return &Controller{opener: opener}
}

// SetConfiguration marks config as the active configuration. The first call
// opens the physical bus with it.
func (c *Controller) SetConfiguration(ctx context.Context, config sensornode.Config) error {
	if config.IsZero() {
		return fmt.Errorf("%w: empty bus configuration", sensornode.ErrPrecondition)
	}
	c.mx.Lock()
	defer c.mx.Unlock()
	if err := c.open(ctx, config); err != nil {
		return err
	}
	c.active = config
	return nil
}

// Active returns the configuration most recently set or executed with.
func (c *Controller) Active() (sensornode.Config, bool) {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.active, !c.active.IsZero()
}

// Execute applies config and runs txs as one atomic bus operation bounded by
// timeout. Waiting for the lock itself is not bounded; waiting for a
// previously timed out transfer to leave the driver counts against timeout.
func (c *Controller) Execute(ctx context.Context, config sensornode.Config, txs []sensornode.Tx, timeout time.Duration) error {
	if config.IsZero() {
		return fmt.Errorf("%w: empty bus configuration", sensornode.ErrPrecondition)
	}
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.execute(ctx, config, txs, timeout)
}

// ExecuteActive runs txs with whatever configuration is currently active.
// It is only safe when the caller itself set that configuration.
func (c *Controller) ExecuteActive(ctx context.Context, txs []sensornode.Tx, timeout time.Duration) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.active.IsZero() {
		return fmt.Errorf("%w: bus has no active configuration", sensornode.ErrPrecondition)
	}
	return c.execute(ctx, c.active, txs, timeout)
}

// Close releases the physical bus if the driver holds system resources. It
// fails while a timed out transfer is still running on the driver.
func (c *Controller) Close() error {
	c.mx.Lock()
	defer c.mx.Unlock()
	if c.abandoned != nil {
		select {
		case <-c.abandoned:
			c.abandoned = nil
		default:
			return fmt.Errorf("%w: abandoned transfer still running", sensornode.ErrTransactionFailure)
		}
	}
	closer, ok := c.driver.(io.Closer)
	if !ok {
		return nil
	}
	c.driver = nil
	c.applied = sensornode.Config{}
	return closer.Close()
}

// open must be called with the lock held.
func (c *Controller) open(ctx context.Context, config sensornode.Config) error {
	if c.driver != nil {
		return nil
	}
	if c.opener == nil {
		return fmt.Errorf("%w: no bus opener", sensornode.ErrBusInitialization)
	}
	driver, err := c.opener.Open(ctx, config)
	if err != nil {
		return fmt.Errorf("%w: %w", sensornode.ErrBusInitialization, err)
	}
	if driver == nil {
		return fmt.Errorf("%w: opener returned no driver", sensornode.ErrBusInitialization)
	}
	c.driver = driver
	c.applied = config
	return nil
}

// execute must be called with the lock held.
func (c *Controller) execute(ctx context.Context, config sensornode.Config, txs []sensornode.Tx, timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("%w: non-positive timeout %s", sensornode.ErrPrecondition, timeout)
	}
	if err := sensornode.Validate(txs); err != nil {
		return err
	}
	if err := c.open(ctx, config); err != nil {
		return err
	}
	c.active = config

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := c.settle(ctx, config, timeout); err != nil {
		return err
	}
	if c.applied != config {
		if err := c.driver.Configure(config); err != nil {
			c.applied = sensornode.Config{}
			return fmt.Errorf("%w: could not apply %s: %w", sensornode.ErrTransactionFailure, config, err)
		}
		c.applied = config
	}

	done := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: driver panic: %v", sensornode.ErrTransactionFailure, r)
			}
		}()
		done <- c.driver.Execute(ctx, txs)
	}()

	select {
	case err := <-done:
		if err != nil {
			err = classify(config, err)
			if errors.Is(err, sensornode.ErrTransactionTimeout) {
				c.applied = sensornode.Config{}
			}
		}
		return err
	case <-ctx.Done():
		// the driver may still be on the wire; the next caller waits for it
		// and re-applies its own config
		c.applied = sensornode.Config{}
		c.abandoned = finished
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s after %s", sensornode.ErrTransactionTimeout, config, timeout)
		}
		return fmt.Errorf("%w: %s: %w", sensornode.ErrTransactionFailure, config, ctx.Err())
	}
}

// settle waits, within the caller's deadline, for an abandoned transfer to
// leave the driver. Must be called with the lock held.
func (c *Controller) settle(ctx context.Context, config sensornode.Config, timeout time.Duration) error {
	if c.abandoned == nil {
		return nil
	}
	select {
	case <-c.abandoned:
		c.abandoned = nil
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s: bus still held by an abandoned transfer after %s", sensornode.ErrTransactionTimeout, config, timeout)
		}
		return fmt.Errorf("%w: %s: %w", sensornode.ErrTransactionFailure, config, ctx.Err())
	}
}

func classify(config sensornode.Config, err error) error {
	switch {
	case errors.Is(err, sensornode.ErrTransactionTimeout),
		errors.Is(err, sensornode.ErrTransactionFailure):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s: %w", sensornode.ErrTransactionTimeout, config, err)
	default:
		return fmt.Errorf("%w: %s: %w", sensornode.ErrTransactionFailure, config, err)
	}
}
