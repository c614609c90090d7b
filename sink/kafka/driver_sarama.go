package kafka

import (
	"context"
	"fmt"
	"sync"

	"github.com/IBM/sarama"

	"spanhub/codec"
	"spanhub/sink"
	"spanhub/span"
)

type Config struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	Acks    int16    `yaml:"required_acks"` // 0,1,-1
	TLSEn   bool     `yaml:"tls_enabled"`
}

func (c Config) validate() error {
	if len(c.Brokers) == 0 || c.Topic == "" {
		return fmt.Errorf("kafka-sink: brokers and topic are required")
	}
	return nil
}

// driver publishes every accepted batch as one JSON list message keyed by the
// trace id of its first span.
type driver struct {
	cfg Config
	p   sarama.AsyncProducer
	wg  sync.WaitGroup

	closeOnce sync.Once
}

func (d *driver) Configure(c any) error {
	cfg, ok := c.(Config)
	if !ok {
		return fmt.Errorf("kafka-sink: want Config, got %T", c)
	}
	if err := cfg.validate(); err != nil {
		return err
	}
	d.cfg = cfg

	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = sarama.RequiredAcks(cfg.Acks)
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Net.TLS.Enable = cfg.TLSEn
	p, err := sarama.NewAsyncProducer(cfg.Brokers, sc)
	if err != nil {
		return err
	}
	d.start(p)
	return nil
}

// start drains the producer's result channels into the per-message callbacks.
func (d *driver) start(p sarama.AsyncProducer) {
	d.p = p
	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		for m := range p.Successes() {
			callback(m)(nil)
		}
	}()
	go func() {
		defer d.wg.Done()
		for e := range p.Errors() {
			callback(e.Msg)(e.Err)
		}
	}()
}

func callback(m *sarama.ProducerMessage) sink.Callback {
	if cb, ok := m.Metadata.(sink.Callback); ok {
		return cb
	}
	return sink.Noop
}

func (d *driver) Accept(ctx context.Context, spans []span.Span, cb sink.Callback) {
	body, err := codec.EncodeJSON(spans)
	if err != nil {
		cb(err)
		return
	}
	msg := &sarama.ProducerMessage{
		Topic:    d.cfg.Topic,
		Value:    sarama.ByteEncoder(body),
		Metadata: cb,
	}
	if len(spans) > 0 {
		msg.Key = sarama.StringEncoder(spans[0].TraceID)
	}
	// Input is full only while the producer is backed up on the broker; the
	// caller's deadline bounds the wait.
	select {
	case d.p.Input() <- msg:
	case <-ctx.Done():
		cb(fmt.Errorf("kafka-sink: enqueue: %w", ctx.Err()))
	}
}

// Close flushes buffered messages. Their outcomes still reach the callbacks.
func (d *driver) Close() error {
	d.closeOnce.Do(func() {
		if d.p == nil {
			return
		}
		d.p.AsyncClose()
		d.wg.Wait()
	})
	return nil
}

func init() { sink.Register("kafka", func() sink.Adapter { return &driver{} }) }
