package eventhub

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"spanhub/sink"
)

// Collector reads spans from an event hub and hands them to a sink. Nothing
// happens until Start; Check reports whether the host registered.
type Collector struct {
	host Host
	lazy *LazyRegistration

	closed atomic.Bool
}

// NewCollector wires one EventProcessor per partition to s. Options apply to
// every processor.
func NewCollector(host Host, s sink.Sink, checkpointBatchSize int, opts ...ProcessorOption) *Collector {
	factory := newPartitionFactory(func() *EventProcessor {
		return NewEventProcessor(s, checkpointBatchSize, opts...)
	})
	return &Collector{host: host, lazy: NewLazyRegistration(host, factory)}
}

// Start triggers registration without waiting for it. It is a no-op after
// Close.
func (c *Collector) Start() *Collector {
	if c.closed.Load() {
		return c
	}
	_, _ = c.lazy.Get()
	return c
}

// Check starts the collector if needed and waits for the registration to
// settle. ctx ending turns into a failed check.
func (c *Collector) Check(ctx context.Context) error {
	reg, err := c.lazy.Get()
	if err == nil {
		err = reg.Wait(ctx)
	}
	switch {
	case err == nil:
		return nil
	case isFinal(err), ErrClosed.Has(err):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return rootCause(err)
	}
}

// Shutdown unregisters from the host. Only the first call has effect.
func (c *Collector) Shutdown(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.lazy.Close(ctx)
}

func (c *Collector) Close() error { return c.Shutdown(context.Background()) }

func (c *Collector) String() string { return fmt.Sprintf("EventHubCollector(%s)", c.host) }
