package rabbitmq

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"spanhub/codec"
	"spanhub/sink"
	"spanhub/span"
)

type Config struct {
	URL          string `yaml:"url"`
	Exchange     string `yaml:"exchange"`
	ExchangeType string `yaml:"exchange_type"` // default topic
	RoutingKey   string `yaml:"routing_key"`   // default zipkin
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	TLSEn        bool   `yaml:"tls_enabled"`
	ConfirmMS    int    `yaml:"confirm_timeout_ms"` // 0 = fire-and-forget
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.URL) == "" {
		return fmt.Errorf("rabbitmq-sink: url is required")
	}
	if c.Exchange == "" {
		return fmt.Errorf("rabbitmq-sink: exchange is required")
	}
	return nil
}

var errNacked = errors.New("rabbitmq-sink: publish nacked by broker")

// channel is the slice of an AMQP channel the sink needs. confirm is nil when
// the channel is not in confirm mode.
type channel interface {
	publish(ctx context.Context, exchange, key string, msg amqp091.Publishing) (confirm func(context.Context) error, err error)
	Close() error
}

type driver struct {
	cfg  Config
	conn *amqp091.Connection
	ch   channel

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
}

func (d *driver) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("rabbitmq-sink: expected Config, got %T", raw)
	}
	if err := c.Validate(); err != nil {
		return err
	}
	if c.ExchangeType == "" {
		c.ExchangeType = "topic"
	}
	if c.RoutingKey == "" {
		c.RoutingKey = "zipkin"
	}
	d.cfg = c

	dialCfg := amqp091.Config{}
	if c.Username != "" {
		dialCfg.SASL = []amqp091.Authentication{&amqp091.PlainAuth{Username: c.Username, Password: c.Password}}
	}
	if c.TLSEn {
		dialCfg.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	conn, err := amqp091.DialConfig(strings.TrimSpace(c.URL), dialCfg)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open rabbitmq channel: %w", err)
	}
	if err := ch.ExchangeDeclare(c.Exchange, c.ExchangeType, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("declare exchange: %w", err)
	}
	if c.ConfirmMS > 0 {
		if err := ch.Confirm(false); err != nil {
			ch.Close()
			conn.Close()
			return fmt.Errorf("enable publisher confirms: %w", err)
		}
	}
	d.conn, d.ch = conn, &amqpChannel{ch: ch, confirm: c.ConfirmMS > 0}
	return nil
}

func (d *driver) Accept(ctx context.Context, spans []span.Span, cb sink.Callback) {
	body, err := codec.EncodeJSON(spans)
	if err != nil {
		cb(err)
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		cb(errors.New("rabbitmq-sink: closed"))
		return
	}
	d.pending.Add(1)
	d.mu.Unlock()

	confirm, err := d.ch.publish(ctx, d.cfg.Exchange, d.cfg.RoutingKey, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil || confirm == nil {
		d.pending.Done()
		cb(err)
		return
	}
	go func() {
		defer d.pending.Done()
		cctx, cancel := context.WithTimeout(context.Background(), time.Duration(d.cfg.ConfirmMS)*time.Millisecond)
		defer cancel()
		cb(confirm(cctx))
	}()
}

// Close waits for outstanding confirms before closing the channel.
func (d *driver) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.pending.Wait()
	var errs []error
	if d.ch != nil {
		if err := d.ch.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.conn != nil {
		if err := d.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type amqpChannel struct {
	ch      *amqp091.Channel
	confirm bool
}

func (c *amqpChannel) publish(ctx context.Context, exchange, key string, msg amqp091.Publishing) (func(context.Context) error, error) {
	if !c.confirm {
		return nil, c.ch.PublishWithContext(ctx, exchange, key, false, false, msg)
	}
	dc, err := c.ch.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, msg)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		acked, err := dc.WaitContext(ctx)
		if err != nil {
			return err
		}
		if !acked {
			return errNacked
		}
		return nil
	}, nil
}

func (c *amqpChannel) Close() error { return c.ch.Close() }

func init() { sink.Register("rabbitmq", func() sink.Adapter { return &driver{} }) }
