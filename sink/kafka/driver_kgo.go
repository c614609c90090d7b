package kafka

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"spanhub/codec"
	"spanhub/sink"
	"spanhub/span"
)

const flushTimeout = 10 * time.Second

// kgoDriver is the franz-go flavour of the Kafka sink. Same Config and message
// layout as the sarama driver.
type kgoDriver struct {
	cfg   Config
	cl    *kgo.Client
	extra []kgo.Opt
}

func (d *kgoDriver) Configure(c any) error {
	cfg, ok := c.(Config)
	if !ok {
		return fmt.Errorf("kafka-kgo-sink: want Config, got %T", c)
	}
	if err := cfg.validate(); err != nil {
		return err
	}
	d.cfg = cfg

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
	}
	switch cfg.Acks {
	case 0:
		opts = append(opts, kgo.RequiredAcks(kgo.NoAck()), kgo.DisableIdempotentWrite())
	case 1:
		opts = append(opts, kgo.RequiredAcks(kgo.LeaderAck()), kgo.DisableIdempotentWrite())
	default:
		opts = append(opts, kgo.RequiredAcks(kgo.AllISRAcks()))
	}
	if cfg.TLSEn {
		opts = append(opts, kgo.DialTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}))
	}
	opts = append(opts, d.extra...)

	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return err
	}
	d.cl = cl
	return nil
}

func (d *kgoDriver) Accept(ctx context.Context, spans []span.Span, cb sink.Callback) {
	body, err := codec.EncodeJSON(spans)
	if err != nil {
		cb(err)
		return
	}
	rec := &kgo.Record{Value: body}
	if len(spans) > 0 {
		rec.Key = []byte(spans[0].TraceID)
	}
	// TryProduce fails with kgo.ErrMaxBuffered instead of waiting for room.
	// The record outlives Accept, so it must not inherit the caller's
	// cancellation.
	d.cl.TryProduce(context.WithoutCancel(ctx), rec, func(_ *kgo.Record, err error) { cb(err) })
}

func (d *kgoDriver) Close() error {
	if d.cl == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	err := d.cl.Flush(ctx)
	d.cl.Close()
	d.cl = nil
	return err
}

func init() { sink.Register("kafka-kgo", func() sink.Adapter { return &kgoDriver{} }) }
