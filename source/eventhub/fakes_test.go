package eventhub

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"spanhub/codec"
	"spanhub/sink"
	"spanhub/span"
)

// partition is a PartitionContext that records checkpoints.
type partition struct {
	id  string
	err error

	mu          sync.Mutex
	checkpoints []Message
}

func (p *partition) PartitionID() string   { return p.id }
func (p *partition) ConsumerGroup() string { return "$Default" }

func (p *partition) Checkpoint(_ context.Context, msg Message) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkpoints = append(p.checkpoints, msg)
	return nil
}

func (p *partition) Checkpoints() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.checkpoints...)
}

// recordingSink keeps every batch it accepts and answers with err.
type recordingSink struct {
	err error

	mu      sync.Mutex
	batches [][]span.Span
}

func (s *recordingSink) Accept(_ context.Context, spans []span.Span, cb sink.Callback) {
	s.mu.Lock()
	s.batches = append(s.batches, spans)
	s.mu.Unlock()
	cb(s.err)
}

func (s *recordingSink) Batches() [][]span.Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]span.Span(nil), s.batches...)
}

func (s *recordingSink) Spans() []span.Span {
	var out []span.Span
	for _, b := range s.Batches() {
		out = append(out, b...)
	}
	return out
}

// fakeHost counts registrations and unregistrations.
type fakeHost struct {
	registerErr   error
	reg           *Registration
	unregisterErr error
	unregister    func(ctx context.Context) error

	registers   atomic.Int32
	unregisters atomic.Int32
	factory     atomic.Value
}

func (h *fakeHost) RegisterProcessorFactory(_ context.Context, f ProcessorFactory) (*Registration, error) {
	h.registers.Add(1)
	h.factory.Store(f)
	if h.registerErr != nil {
		return nil, h.registerErr
	}
	if h.reg != nil {
		return h.reg, nil
	}
	return Completed(nil), nil
}

func (h *fakeHost) UnregisterProcessor(ctx context.Context) error {
	h.unregisters.Add(1)
	if h.unregister != nil {
		return h.unregister(ctx)
	}
	return h.unregisterErr
}

func (h *fakeHost) String() string { return "fakeHost" }

// spans returns n distinct spans of one trace.
func spans(trace, n int) []span.Span {
	out := make([]span.Span, n)
	for i := range out {
		out[i] = span.Span{
			TraceID: span.IDFromUint64(uint64(trace)),
			ID:      span.IDFromUint64(uint64(trace*100 + i + 1)),
			Name:    fmt.Sprintf("get /%d", i),
		}
	}
	return out
}

// message encodes n spans as a JSON list, the way a reporter would send them.
func message(t testing.TB, seq int64, trace, n int) Message {
	t.Helper()
	body, err := codec.EncodeJSON(spans(trace, n))
	require.NoError(t, err)
	return Message{Body: body, Offset: seq * 100, SequenceNumber: seq}
}
