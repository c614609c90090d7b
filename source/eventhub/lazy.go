package eventhub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zeebo/errs"
)

var (
	// ErrRegistration classifies failures registering a ProcessorFactory.
	// Hosts use it for failures they already consider final, which are then
	// reported as-is.
	ErrRegistration = errs.Class("eventhub registration")
	// ErrInterrupted is returned when unregistering is cut short by ctx.
	ErrInterrupted = errs.Class("interrupted unregistering the event processor")
	// ErrClosed is returned by Get once the controller has been closed
	// without a prior registration.
	ErrClosed = errs.Class("eventhub collector closed")
)

type registrationResult struct {
	reg *Registration
	err error
}

// LazyRegistration registers a ProcessorFactory with a Host at most once, on
// the first call to Get, and unregisters it on Close.
type LazyRegistration struct {
	host    Host
	factory ProcessorFactory

	// lifetime bounds the registration's background work.
	lifetime context.Context
	stop     context.CancelFunc

	result atomic.Pointer[registrationResult]

	mu     sync.Mutex
	closed bool
}

func NewLazyRegistration(host Host, factory ProcessorFactory) *LazyRegistration {
	ctx, cancel := context.WithCancel(context.Background())
	return &LazyRegistration{host: host, factory: factory, lifetime: ctx, stop: cancel}
}

// Get returns the registration, registering on the first call. Concurrent
// callers share one attempt and a failed attempt is never retried.
func (l *LazyRegistration) Get() (*Registration, error) {
	if r := l.result.Load(); r != nil {
		return r.reg, r.err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if r := l.result.Load(); r != nil {
		return r.reg, r.err
	}
	if l.closed {
		return nil, ErrClosed.New("%s", l.host)
	}

	r := &registrationResult{}
	r.reg, r.err = l.host.RegisterProcessorFactory(l.lifetime, l.factory)
	if r.err != nil {
		r.reg = nil
		if !isFinal(r.err) {
			r.err = ErrRegistration.Wrap(r.err)
		}
	}
	l.result.Store(r)
	return r.reg, r.err
}

// Registered reports whether Get has been attempted.
func (l *LazyRegistration) Registered() bool { return l.result.Load() != nil }

// Close cancels a pending registration and unregisters from the host. It does
// nothing when no registration was made, and only the first call has effect.
func (l *LazyRegistration) Close(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	r := l.result.Load()
	l.mu.Unlock()
	defer l.stop()

	if r == nil || r.reg == nil {
		return nil
	}
	r.reg.Cancel()

	err := l.host.UnregisterProcessor(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrInterrupted.Wrap(fmt.Errorf("%s: %w", l.host, err))
	case isFinal(err):
		return err
	default:
		return rootCause(err)
	}
}

// isFinal reports errors that are surfaced without wrapping or unwrapping.
func isFinal(err error) bool {
	return ErrRegistration.Has(err)
}

// rootCause follows the %w chain to the innermost error.
func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
