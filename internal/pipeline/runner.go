package pipeline

import (
	"context"
	"errors"
	"time"

	"spanhub/sink"
	"spanhub/source/eventhub"
)

type Runner struct {
	collector *eventhub.Collector
	sinks     []sink.Adapter

	interval time.Duration
	timeout  time.Duration
}

func NewRunner() *Runner {
	return &Runner{interval: defaultHealthInterval, timeout: defaultHealthTimeout}
}

func (r *Runner) AddSink(s sink.Adapter) { r.sinks = append(r.sinks, s) }

func (r *Runner) fanOut() FanOut {
	out := make(FanOut, len(r.sinks))
	for i, s := range r.sinks {
		out[i] = s
	}
	return out
}

// Start triggers registration with the hub without waiting for it.
func (r *Runner) Start(context.Context) error {
	if r.collector == nil {
		return errors.New("runner: no collector configured")
	}
	r.collector.Start()
	return nil
}

// Check reports the collector's registration state.
func (r *Runner) Check(ctx context.Context) error {
	if r.collector == nil {
		return errors.New("runner: no collector configured")
	}
	return r.collector.Check(ctx)
}

// HealthInterval and HealthTimeout drive the engine's health loop.
func (r *Runner) HealthInterval() time.Duration { return r.interval }
func (r *Runner) HealthTimeout() time.Duration  { return r.timeout }

// Shutdown stops the collector first so no batch is in flight when sinks
// close.
func (r *Runner) Shutdown(ctx context.Context) error {
	var err error
	if r.collector != nil {
		err = r.collector.Shutdown(ctx)
	}
	return errors.Join(err, r.closeSinks())
}

func (r *Runner) Close() error { return r.Shutdown(context.Background()) }

func (r *Runner) closeSinks() error {
	var errs []error
	for _, s := range r.sinks {
		errs = append(errs, s.Close())
	}
	r.sinks = nil
	return errors.Join(errs...)
}
