package eventhub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"spanhub/codec"
)

type fakeSession struct {
	ctx context.Context

	mu      sync.Mutex
	marked  []int64
	commits int
}

func (s *fakeSession) Claims() map[string][]int32 { return nil }
func (s *fakeSession) MemberID() string           { return "member-1" }
func (s *fakeSession) GenerationID() int32        { return 1 }
func (s *fakeSession) Context() context.Context   { return s.ctx }

func (s *fakeSession) ResetOffset(string, int32, int64, string) {}

func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, md string) {
	s.MarkOffset(msg.Topic, msg.Partition, msg.Offset+1, md)
}

func (s *fakeSession) MarkOffset(_ string, _ int32, offset int64, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marked = append(s.marked, offset)
}

func (s *fakeSession) Commit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits++
}

type fakeClaim struct {
	msgs chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string                            { return "zipkin" }
func (c *fakeClaim) Partition() int32                         { return 4 }
func (c *fakeClaim) InitialOffset() int64                     { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64               { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func testSaramaHandler(batchSize int, s *recordingSink) *groupHandler {
	cfg := Config{}
	cfg.ApplyDefaults()
	cfg.Kafka.MaxBatch = 2
	cfg.Kafka.Linger = time.Hour
	return &groupHandler{
		ctx:  context.Background(),
		host: &SaramaHost{cfg: cfg},
		factory: newPartitionFactory(func() *EventProcessor {
			return NewEventProcessor(s, batchSize)
		}),
		reg: NewRegistration(nil),
	}
}

func TestSaramaHandler_SetupCompletesRegistration(t *testing.T) {
	h := testSaramaHandler(10, &recordingSink{})
	if err := h.Setup(&fakeSession{ctx: context.Background()}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	select {
	case <-h.reg.Done():
	default:
		t.Fatal("registration still pending after setup")
	}
	if err := h.reg.Err(); err != nil {
		t.Fatalf("registration failed: %v", err)
	}
}

func TestSaramaHandler_ConsumeClaimCheckpoints(t *testing.T) {
	s := &recordingSink{}
	h := testSaramaHandler(4, s)
	sess := &fakeSession{ctx: context.Background()}
	claim := &fakeClaim{msgs: make(chan *sarama.ConsumerMessage, 8)}

	for off := int64(10); off < 15; off++ {
		body, err := codec.EncodeJSON(spans(int(off), 2))
		if err != nil {
			t.Fatal(err)
		}
		claim.msgs <- &sarama.ConsumerMessage{Topic: "zipkin", Partition: 4, Offset: off, Value: body}
	}
	close(claim.msgs)

	if err := h.ConsumeClaim(sess, claim); err != nil {
		t.Fatalf("consume claim: %v", err)
	}

	// 2 spans per message, checkpoint every 4 spans: after offsets 11 and 13
	if got, want := sess.marked, []int64{12, 14}; len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("marked offsets = %v, want %v", got, want)
	}
	if sess.commits != 2 {
		t.Fatalf("commits = %d, want 2", sess.commits)
	}
	if n := len(s.Spans()); n != 10 {
		t.Fatalf("forwarded %d spans, want 10", n)
	}
}

func TestSaramaHandler_RebalanceStopsClaim(t *testing.T) {
	h := testSaramaHandler(10, &recordingSink{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sess := &fakeSession{ctx: ctx}
	claim := &fakeClaim{msgs: make(chan *sarama.ConsumerMessage)}

	if err := h.ConsumeClaim(sess, claim); err != nil {
		t.Fatalf("consume claim: %v", err)
	}
	if ids := h.factory.(*partitionFactory).Partitions(); len(ids) != 0 {
		t.Fatalf("partition still held after close: %v", ids)
	}
}

func TestKafkaPartition_Checkpoint(t *testing.T) {
	sess := &fakeSession{ctx: context.Background()}
	pc := &kafkaPartition{sess: sess, topic: "zipkin", partition: 7, group: "$Default"}

	if pc.PartitionID() != "7" {
		t.Fatalf("partition id = %q", pc.PartitionID())
	}
	if err := pc.Checkpoint(context.Background(), Message{Offset: 41}); err != nil {
		t.Fatal(err)
	}
	if len(sess.marked) != 1 || sess.marked[0] != 42 || sess.commits != 1 {
		t.Fatalf("marked %v commits %d", sess.marked, sess.commits)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := pc.Checkpoint(ctx, Message{Offset: 50}); err == nil {
		t.Fatal("expected error checkpointing with a done context")
	}
}

func TestKafkaPartition_CheckpointOnRevokedSession(t *testing.T) {
	sessCtx, revoke := context.WithCancel(context.Background())
	revoke()
	sess := &fakeSession{ctx: sessCtx}
	pc := &kafkaPartition{sess: sess, topic: "zipkin", partition: 7, group: "$Default"}

	err := pc.Checkpoint(context.Background(), Message{Offset: 41})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if len(sess.marked) != 0 || sess.commits != 0 {
		t.Fatalf("revoked session was marked %v commits %d", sess.marked, sess.commits)
	}
}

func TestKafkaPartition_RevokedSessionFailsOnEvents(t *testing.T) {
	sessCtx, revoke := context.WithCancel(context.Background())
	revoke()
	sess := &fakeSession{ctx: sessCtx}
	pc := &kafkaPartition{sess: sess, topic: "zipkin", partition: 7, group: "$Default"}
	p := NewEventProcessor(&recordingSink{}, 3)

	err := p.OnEvents(context.Background(), pc, []Message{message(t, 1, 1, 3)})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("OnEvents = %v, want the revoked session surfaced", err)
	}
}

func TestNewSaramaHost_Config(t *testing.T) {
	cfg := Config{ConnectionString: "Endpoint=sb://ns.servicebus.windows.net/;SharedAccessKey=x"}
	cfg.ApplyDefaults()

	host, err := NewSaramaHost(cfg)
	if err != nil {
		t.Fatal(err)
	}
	sc := host.(*SaramaHost).sc
	if !sc.Net.TLS.Enable || !sc.Net.SASL.Enable || sc.Net.SASL.User != "$ConnectionString" {
		t.Fatalf("unexpected net config: tls=%v sasl=%v user=%q", sc.Net.TLS.Enable, sc.Net.SASL.Enable, sc.Net.SASL.User)
	}
	if sc.Consumer.Offsets.AutoCommit.Enable {
		t.Fatal("auto commit must be off; offsets move only on checkpoint")
	}
}
