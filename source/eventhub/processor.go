package eventhub

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"spanhub/codec"
	"spanhub/internal/logging"
	"spanhub/internal/telemetry"
	"spanhub/sink"
	"spanhub/span"
)

// DefaultForwardTimeout bounds how long the partition goroutine waits for a
// sink to take a batch.
const DefaultForwardTimeout = 2 * time.Second

// DecodeFunc turns one message body into spans.
type DecodeFunc func([]byte) ([]span.Span, error)

// EventProcessor handles the callbacks for one partition: it decodes each
// message, buffers the spans, checkpoints when the Policy says so and hands
// the buffer to the sink.
type EventProcessor struct {
	log     *slog.Logger
	sink    sink.Sink
	decode  DecodeFunc
	policy  *Policy
	metrics *telemetry.Metrics
	release func()

	forwardTimeout time.Duration

	// Callbacks can come from different goroutines; checkpoints for a
	// partition are serialized so the stored position never moves back.
	mu           sync.Mutex
	checkpointed bool
	lastSequence int64
}

type ProcessorOption func(*EventProcessor)

func WithLogger(l *slog.Logger) ProcessorOption {
	return func(p *EventProcessor) { p.log = l }
}

func WithDecoder(d DecodeFunc) ProcessorOption {
	return func(p *EventProcessor) { p.decode = d }
}

func WithMetrics(m *telemetry.Metrics) ProcessorOption {
	return func(p *EventProcessor) { p.metrics = m }
}

// WithForwardTimeout caps each sink hand-off. Non-positive values keep the
// default.
func WithForwardTimeout(d time.Duration) ProcessorOption {
	return func(p *EventProcessor) {
		if d > 0 {
			p.forwardTimeout = d
		}
	}
}

func NewEventProcessor(s sink.Sink, checkpointBatchSize int, opts ...ProcessorOption) *EventProcessor {
	p := &EventProcessor{
		sink:   s,
		decode: codec.DecodeList,
		policy: NewPolicy(checkpointBatchSize),

		forwardTimeout: DefaultForwardTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	if p.log == nil {
		p.log = logging.L().With("component", "eventhub-processor")
	}
	if p.metrics == nil {
		p.metrics = telemetry.NewMetrics(nil, "eventhub")
	}
	return p
}

func (p *EventProcessor) OnOpen(pc PartitionContext) {
	p.log.Debug("opened partition", "partition", pc.PartitionID(), "consumer_group", pc.ConsumerGroup())
}

func (p *EventProcessor) OnClose(pc PartitionContext, reason CloseReason) {
	p.log.Debug("closed partition", "partition", pc.PartitionID(), "reason", string(reason))
	if p.release != nil {
		p.release()
	}
}

func (p *EventProcessor) OnError(pc PartitionContext, err error) {
	p.log.Warn("error in partition", "partition", pc.PartitionID(), "consumer_group", pc.ConsumerGroup(), "err", err)
}

// OnEvents processes msgs in order. Spans are not forwarded until a
// checkpoint is due or the callback is about to return. A checkpoint error is
// returned to the host, which owns redelivery.
func (p *EventProcessor) OnEvents(ctx context.Context, pc PartitionContext, msgs []Message) error {
	partition := pc.PartitionID()
	var buffer []span.Span

	for _, msg := range msgs {
		p.metrics.Messages.WithLabelValues(partition).Inc()
		p.metrics.Bytes.WithLabelValues(partition).Add(float64(len(msg.Body)))

		next, err := p.decode(msg.Body)
		if err != nil {
			p.metrics.MessagesDropped.WithLabelValues(partition).Inc()
			p.OnError(pc, fmt.Errorf("decode message at offset %d: %w", msg.Offset, err))
			continue
		}
		p.metrics.Spans.WithLabelValues(partition).Add(float64(len(next)))
		buffer = append(buffer, next...)

		if !p.policy.ShouldCheckpoint(len(next)) {
			continue
		}
		p.forward(ctx, partition, buffer)
		buffer = nil
		if err := p.checkpoint(ctx, pc, msg); err != nil {
			return err
		}
	}

	if len(buffer) > 0 {
		p.forward(ctx, partition, buffer)
	}
	return nil
}

func (p *EventProcessor) checkpoint(ctx context.Context, pc PartitionContext, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	partition := pc.PartitionID()
	if p.checkpointed && msg.SequenceNumber < p.lastSequence {
		p.log.Debug("skipping stale checkpoint", "partition", partition,
			"sequence_number", msg.SequenceNumber, "last_sequence_number", p.lastSequence)
		return nil
	}

	p.log.Debug(fmt.Sprintf("partition %s checkpointing at %d,%d", partition, msg.Offset, msg.SequenceNumber))
	if err := pc.Checkpoint(ctx, msg); err != nil {
		return fmt.Errorf("checkpoint partition %s at offset %d: %w", partition, msg.Offset, err)
	}
	p.checkpointed, p.lastSequence = true, msg.SequenceNumber
	p.metrics.Checkpoints.WithLabelValues(partition).Inc()
	return nil
}

// forward never holds the partition longer than forwardTimeout, so a stalled
// sink cannot delay the checkpoint that follows.
func (p *EventProcessor) forward(ctx context.Context, partition string, spans []span.Span) {
	ctx, cancel := context.WithTimeout(ctx, p.forwardTimeout)
	defer cancel()
	p.sink.Accept(ctx, spans, func(err error) {
		if err == nil {
			return
		}
		p.metrics.ForwardFailures.WithLabelValues(partition).Inc()
		p.log.Warn("sink rejected spans", "partition", partition, "spans", len(spans), "err", err)
	})
}

// PendingSpans returns the spans counted since the last checkpoint.
func (p *EventProcessor) PendingSpans() int { return p.policy.Pending() }
