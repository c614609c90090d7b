package engine

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"spanhub/internal/logging"
	"spanhub/internal/pipeline"
	"spanhub/internal/transport"
)

const shutdownTimeout = 30 * time.Second

type Engine struct {
	transport *transport.Server
	runner    *pipeline.Runner
	metrics   *http.Server
}

// Addr is the gRPC health endpoint.
func (e *Engine) Addr() net.Addr { return e.transport.Addr() }

// Run serves until ctx ends, then unregisters from the hub and closes sinks.
func (e *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(e.transport.Serve)
	g.Go(func() error {
		e.watchHealth(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return e.shutdown()
	})

	return g.Wait()
}

func (e *Engine) watchHealth(ctx context.Context) {
	if e.runner == nil {
		e.transport.SetServing(true)
		return
	}

	tick := time.NewTicker(e.runner.HealthInterval())
	defer tick.Stop()

	var last error
	first := true
	for {
		cctx, cancel := context.WithTimeout(ctx, e.runner.HealthTimeout())
		err := e.runner.Check(cctx)
		cancel()
		if ctx.Err() != nil {
			return
		}
		e.transport.SetServing(err == nil)
		switch {
		case err != nil && (first || last == nil):
			logging.L().Warn("collector not serving", "err", err)
		case err == nil && (first || last != nil):
			logging.L().Info("collector serving")
		}
		last, first = err, false

		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}

func (e *Engine) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	e.transport.SetServing(false)
	e.transport.Stop()

	var errs []error
	if e.runner != nil {
		errs = append(errs, e.runner.Shutdown(ctx))
	}
	if e.metrics != nil {
		errs = append(errs, e.metrics.Shutdown(ctx))
	}
	logging.L().Info("engine stopped")
	return errors.Join(errs...)
}
