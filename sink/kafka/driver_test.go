package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"spanhub/sink"
	"spanhub/span"
)

var batch = []span.Span{
	{TraceID: "463ac35c9f6413ad48485a3953bb6124", ID: "a2fb4a1d1a96d312", Name: "get /api"},
	{TraceID: "463ac35c9f6413ad48485a3953bb6124", ParentID: "a2fb4a1d1a96d312", ID: "b1fb4a1d1a96d313", Name: "select"},
}

func mockDriver(t *testing.T) (*driver, *mocks.AsyncProducer) {
	t.Helper()
	sc := mocks.NewTestConfig()
	sc.Producer.Return.Successes = true
	p := mocks.NewAsyncProducer(t, sc)
	d := &driver{cfg: Config{Brokers: []string{"localhost:9092"}, Topic: "zipkin"}}
	d.start(p)
	return d, p
}

func waitFor(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("callback never ran")
		return nil
	}
}

func TestSarama_AcceptSucceeds(t *testing.T) {
	d, p := mockDriver(t)
	p.ExpectInputWithCheckerFunctionAndSucceed(func(val []byte) error {
		if len(val) == 0 || val[0] != '[' {
			return errors.New("want a JSON list")
		}
		return nil
	})

	done := make(chan error, 1)
	d.Accept(context.Background(), batch, func(err error) { done <- err })
	require.NoError(t, waitFor(t, done))
	require.NoError(t, d.Close())
}

func TestSarama_AcceptReportsFailure(t *testing.T) {
	d, p := mockDriver(t)
	p.ExpectInputAndFail(sarama.ErrNotLeaderForPartition)

	done := make(chan error, 1)
	d.Accept(context.Background(), batch, func(err error) { done <- err })
	require.ErrorIs(t, waitFor(t, done), sarama.ErrNotLeaderForPartition)
	require.NoError(t, d.Close())
}

func TestSarama_CloseIsIdempotent(t *testing.T) {
	d, _ := mockDriver(t)
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	require.NoError(t, (&driver{}).Close())
}

func TestConfigure_Validates(t *testing.T) {
	for _, name := range []string{"kafka", "kafka-kgo"} {
		a, err := sink.NewAdapter(name)
		require.NoError(t, err)
		require.Error(t, a.Configure("brokers"), name)
		require.Error(t, a.Configure(Config{Topic: "zipkin"}), name)
		require.Error(t, a.Configure(Config{Brokers: []string{"localhost:9092"}}), name)
	}
}

func TestSarama_StalledProducerHonoursDeadline(t *testing.T) {
	p := newStalledProducer()
	d := &driver{cfg: Config{Brokers: []string{"localhost:9092"}, Topic: "zipkin"}}
	d.start(p)
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	returned := make(chan struct{})
	go func() {
		d.Accept(ctx, batch, func(err error) { done <- err })
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Accept blocked past the caller's deadline")
	}
	require.ErrorIs(t, waitFor(t, done), context.DeadlineExceeded)
}

func TestKgo_UnreachableBrokerFailsCallback(t *testing.T) {
	d := &kgoDriver{extra: []kgo.Opt{kgo.RecordDeliveryTimeout(300 * time.Millisecond)}}
	require.NoError(t, d.Configure(Config{Brokers: []string{"127.0.0.1:1"}, Topic: "zipkin", Acks: 1}))
	defer d.Close()

	done := make(chan error, 1)
	d.Accept(context.Background(), batch, func(err error) { done <- err })
	require.Error(t, waitFor(t, done))
}

func TestKgo_FullBufferFailsWithoutBlocking(t *testing.T) {
	d := &kgoDriver{extra: []kgo.Opt{
		kgo.MaxBufferedRecords(1),
		kgo.RecordDeliveryTimeout(300 * time.Millisecond),
	}}
	require.NoError(t, d.Configure(Config{Brokers: []string{"127.0.0.1:1"}, Topic: "zipkin", Acks: 1}))
	defer d.Close()

	first := make(chan error, 1)
	d.Accept(context.Background(), batch, func(err error) { first <- err })

	second := make(chan error, 1)
	returned := make(chan struct{})
	go func() {
		d.Accept(context.Background(), batch, func(err error) { second <- err })
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Accept waited for buffer space")
	}
	require.ErrorIs(t, waitFor(t, second), kgo.ErrMaxBuffered)
	require.Error(t, waitFor(t, first))
}

// stalledProducer never reads Input, like a producer backed up on a dead
// broker.
type stalledProducer struct {
	sarama.AsyncProducer

	input     chan *sarama.ProducerMessage
	successes chan *sarama.ProducerMessage
	errors    chan *sarama.ProducerError
	once      sync.Once
}

func newStalledProducer() *stalledProducer {
	return &stalledProducer{
		input:     make(chan *sarama.ProducerMessage),
		successes: make(chan *sarama.ProducerMessage),
		errors:    make(chan *sarama.ProducerError),
	}
}

func (p *stalledProducer) Input() chan<- *sarama.ProducerMessage     { return p.input }
func (p *stalledProducer) Successes() <-chan *sarama.ProducerMessage { return p.successes }
func (p *stalledProducer) Errors() <-chan *sarama.ProducerError      { return p.errors }

func (p *stalledProducer) AsyncClose() {
	p.once.Do(func() {
		close(p.successes)
		close(p.errors)
	})
}
