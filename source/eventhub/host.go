package eventhub

import (
	"context"
	"sync"
	"time"
)

// Message is one raw event delivered by a Host. Offset and SequenceNumber are
// the progress token handed back on Checkpoint.
type Message struct {
	Body           []byte
	Offset         int64
	SequenceNumber int64
	EnqueuedTime   time.Time
	PartitionKey   string
}

// CloseReason says why a partition stopped being delivered to this host.
type CloseReason string

const (
	CloseShutdown  CloseReason = "shutdown"
	CloseLeaseLost CloseReason = "lease lost"
)

// PartitionContext is handed to every callback. Checkpoint persists the
// progress token of msg in the host's lease store.
type PartitionContext interface {
	PartitionID() string
	ConsumerGroup() string
	Checkpoint(ctx context.Context, msg Message) error
}

// Processor receives callbacks for the partitions a Host owns. A Host may
// invoke the same Processor from more than one goroutine.
type Processor interface {
	OnOpen(pc PartitionContext)
	OnEvents(ctx context.Context, pc PartitionContext, msgs []Message) error
	OnError(pc PartitionContext, err error)
	OnClose(pc PartitionContext, reason CloseReason)
}

// ProcessorFactory is invoked by the Host whenever it acquires a partition.
type ProcessorFactory interface {
	CreateProcessor(pc PartitionContext) (Processor, error)
}

// Host owns partition leases and drives a ProcessorFactory. It is the lease
// manager: assignment, rebalancing and checkpoint storage all live behind it.
type Host interface {
	// RegisterProcessorFactory starts consuming. The returned Registration
	// completes once the host is actually receiving.
	RegisterProcessorFactory(ctx context.Context, f ProcessorFactory) (*Registration, error)
	// UnregisterProcessor stops consuming and waits for partition callbacks
	// to return.
	UnregisterProcessor(ctx context.Context) error
	String() string
}

// Registration is the pending or completed result of registering a
// ProcessorFactory with a Host.
type Registration struct {
	done   chan struct{}
	once   sync.Once
	err    error
	cancel context.CancelFunc
}

// NewRegistration returns a pending registration. cancel, if non-nil, is
// called by Cancel to abort work still in flight.
func NewRegistration(cancel context.CancelFunc) *Registration {
	return &Registration{done: make(chan struct{}), cancel: cancel}
}

// Completed returns a registration that is already resolved with err.
func Completed(err error) *Registration {
	r := NewRegistration(nil)
	r.Complete(err)
	return r
}

// Complete resolves the registration. Only the first call has an effect.
func (r *Registration) Complete(err error) bool {
	completed := false
	r.once.Do(func() {
		r.err = err
		close(r.done)
		completed = true
	})
	return completed
}

// Cancel resolves a pending registration with context.Canceled and aborts
// the work behind it. It is a no-op on a completed registration.
func (r *Registration) Cancel() {
	if r.Complete(context.Canceled) && r.cancel != nil {
		r.cancel()
	}
}

// Done is closed once the registration is resolved.
func (r *Registration) Done() <-chan struct{} { return r.done }

// Wait blocks until the registration is resolved or ctx ends.
func (r *Registration) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the result of a resolved registration, nil while pending.
func (r *Registration) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}
