package rabbitmq

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"spanhub/codec"
)

func runRabbitMQ(t *testing.T) (string, func()) {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "rabbitmq:3.13-alpine",
		ExposedPorts: []string{"5672/tcp"},
		WaitingFor:   wait.ForListeningPort("5672/tcp").WithStartupTimeout(60 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("rabbitmq container unavailable: %v", err)
	}
	host, err := c.Host(ctx)
	if err != nil {
		_ = c.Terminate(ctx)
		t.Fatalf("container host: %v", err)
	}
	port, err := c.MappedPort(ctx, "5672")
	if err != nil {
		_ = c.Terminate(ctx)
		t.Fatalf("mapped port: %v", err)
	}
	return fmt.Sprintf("amqp://guest:guest@%s:%s/", host, port.Port()), func() { _ = c.Terminate(ctx) }
}

func TestIntegration_PublishWithConfirms(t *testing.T) {
	url, cleanup := runRabbitMQ(t)
	defer cleanup()

	d := &driver{}
	if err := d.Configure(Config{URL: url, Exchange: "zipkin", RoutingKey: "spans", ConfirmMS: 5000}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	defer d.Close()

	conn, err := amqp091.Dial(url)
	if err != nil {
		t.Fatalf("dial amqp: %v", err)
	}
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		t.Fatalf("channel: %v", err)
	}
	defer ch.Close()
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		t.Fatalf("declare queue: %v", err)
	}
	if err := ch.QueueBind(q.Name, "spans", "zipkin", false, nil); err != nil {
		t.Fatalf("bind: %v", err)
	}
	deliveries, err := ch.Consume(q.Name, "verify", true, true, false, false, nil)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}

	done := make(chan error, 1)
	d.Accept(context.Background(), testSpans, func(err error) { done <- err })
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("publish: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("no publisher confirm")
	}

	select {
	case msg := <-deliveries:
		spans, err := codec.DecodeList(msg.Body)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(spans) != 1 || spans[0].TraceID != testSpans[0].TraceID {
			t.Fatalf("unexpected spans %+v", spans)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("message never delivered")
	}
}
