package eventhub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"spanhub/internal/logging"
)

const consumeRetryBackoff = 2 * time.Second

// SaramaHost consumes the hub through its Kafka endpoint. The consumer group
// does lease management; offsets committed to the group are the checkpoints.
type SaramaHost struct {
	cfg Config
	sc  *sarama.Config

	mu  sync.Mutex
	run *saramaRun
}

type saramaRun struct {
	cancel context.CancelFunc
	client sarama.Client
	group  sarama.ConsumerGroup
	done   chan struct{}
}

func NewSaramaHost(cfg Config) (Host, error) {
	ver, err := sarama.ParseKafkaVersion(cfg.Kafka.Version)
	if err != nil {
		return nil, err
	}
	sc := sarama.NewConfig()
	sc.Version = ver
	sc.ClientID = cfg.ProcessorHost
	sc.Consumer.Return.Errors = true
	sc.Consumer.Offsets.AutoCommit.Enable = false
	if cfg.Kafka.TLS() {
		sc.Net.TLS.Enable = true
	}
	if cfg.Kafka.SASLUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		sc.Net.SASL.User, sc.Net.SASL.Password = cfg.Kafka.SASLUser, cfg.Kafka.SASLPass
	}
	switch cfg.Kafka.StartFrom {
	case "oldest":
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	default:
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &SaramaHost{cfg: cfg, sc: sc}, nil
}

func (h *SaramaHost) String() string {
	return fmt.Sprintf("KafkaProcessorHost(host=%s, hub=%s, group=%s)", h.cfg.ProcessorHost, h.cfg.Name, h.cfg.ConsumerGroup)
}

// RegisterProcessorFactory joins the consumer group. The Registration
// completes when the first session is set up.
func (h *SaramaHost) RegisterProcessorFactory(ctx context.Context, f ProcessorFactory) (*Registration, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.run != nil {
		return nil, ErrRegistration.New("%s: processor already registered", h)
	}

	client, err := sarama.NewClient(h.cfg.Kafka.Brokers, h.sc)
	if err != nil {
		return nil, err
	}
	group, err := sarama.NewConsumerGroupFromClient(h.cfg.ConsumerGroup, client)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	reg := NewRegistration(cancel)
	run := &saramaRun{cancel: cancel, client: client, group: group, done: make(chan struct{})}
	handler := &groupHandler{ctx: runCtx, host: h, factory: f, reg: reg}

	go func() {
		for err := range group.Errors() {
			logging.L().Warn("sarama consumer group error", "group", h.cfg.ConsumerGroup, "err", err)
		}
	}()
	go func() {
		defer close(run.done)
		for {
			err := group.Consume(runCtx, []string{h.cfg.Name}, handler)
			if runCtx.Err() != nil || errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			if err != nil {
				// Before the first session this is a registration failure.
				reg.Complete(err)
				logging.L().Warn("sarama consume", "hub", h.cfg.Name, "err", err)
				select {
				case <-runCtx.Done():
					return
				case <-time.After(consumeRetryBackoff):
				}
			}
		}
	}()

	h.run = run
	return reg, nil
}

func (h *SaramaHost) UnregisterProcessor(ctx context.Context) error {
	h.mu.Lock()
	run := h.run
	h.run = nil
	h.mu.Unlock()
	if run == nil {
		return nil
	}

	run.cancel()
	err := run.group.Close()
	select {
	case <-run.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return errors.Join(err, run.client.Close())
}

type groupHandler struct {
	ctx     context.Context
	host    *SaramaHost
	factory ProcessorFactory
	reg     *Registration
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.reg.Complete(nil)
	logging.L().Info("sarama session started", "member", sess.MemberID(), "generation", sess.GenerationID(), "claims", sess.Claims())
	return nil
}

func (*groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	pc := &kafkaPartition{sess: sess, topic: claim.Topic(), partition: claim.Partition(), group: h.host.cfg.ConsumerGroup}
	proc, err := h.factory.CreateProcessor(pc)
	if err != nil {
		return err
	}
	proc.OnOpen(pc)
	reason := CloseShutdown
	defer func() { proc.OnClose(pc, reason) }()

	maxBatch := h.host.cfg.Kafka.MaxBatch
	linger := time.NewTicker(h.host.cfg.Kafka.Linger)
	defer linger.Stop()

	batch := make([]Message, 0, maxBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := proc.OnEvents(sess.Context(), pc, batch)
		batch = make([]Message, 0, maxBatch)
		if err != nil {
			proc.OnError(pc, err)
		}
		return err
	}

	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return flush()
			}
			batch = append(batch, Message{
				Body:           msg.Value,
				Offset:         msg.Offset,
				SequenceNumber: msg.Offset,
				EnqueuedTime:   msg.Timestamp,
				PartitionKey:   string(msg.Key),
			})
			if len(batch) >= maxBatch {
				if err := flush(); err != nil {
					return err
				}
			}
		case <-linger.C:
			if err := flush(); err != nil {
				return err
			}
		case <-sess.Context().Done():
			// Unflushed messages are redelivered to the next owner.
			if h.ctx.Err() == nil {
				reason = CloseLeaseLost
			}
			return nil
		}
	}
}

type kafkaPartition struct {
	sess      sarama.ConsumerGroupSession
	topic     string
	partition int32
	group     string
}

func (p *kafkaPartition) PartitionID() string   { return fmt.Sprint(p.partition) }
func (p *kafkaPartition) ConsumerGroup() string { return p.group }

func (p *kafkaPartition) Checkpoint(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// A revoked session drops marks silently, so its end is reported as a
	// failed checkpoint. Commit errors themselves only reach group.Errors().
	if err := p.sess.Context().Err(); err != nil {
		return fmt.Errorf("session for partition %d ended: %w", p.partition, err)
	}
	p.sess.MarkOffset(p.topic, p.partition, msg.Offset+1, "")
	p.sess.Commit()
	if err := p.sess.Context().Err(); err != nil {
		return fmt.Errorf("session for partition %d ended during commit: %w", p.partition, err)
	}
	return nil
}
