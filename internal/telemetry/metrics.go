// Package telemetry holds the collector metrics and the /metrics endpoint.
package telemetry

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "spanhub"

// Metrics counts what one transport reads, decodes, forwards and
// checkpoints, per partition.
type Metrics struct {
	Messages        *prometheus.CounterVec
	MessagesDropped *prometheus.CounterVec
	Bytes           *prometheus.CounterVec
	Spans           *prometheus.CounterVec
	Checkpoints     *prometheus.CounterVec
	ForwardFailures *prometheus.CounterVec
}

// NewMetrics registers the collector metrics for transport on reg. Metrics
// already registered by another collector on the same registerer are reused.
func NewMetrics(reg prometheus.Registerer, transport string) *Metrics {
	labels := prometheus.Labels{"transport": transport}
	vec := func(name, help string) *prometheus.CounterVec {
		c := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "collector",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, []string{"partition"})
		return register(reg, c)
	}
	return &Metrics{
		Messages:        vec("messages_total", "Messages read from the hub."),
		MessagesDropped: vec("messages_dropped_total", "Messages that could not be decoded."),
		Bytes:           vec("bytes_total", "Payload bytes read from the hub."),
		Spans:           vec("spans_total", "Spans decoded from the hub."),
		Checkpoints:     vec("checkpoints_total", "Checkpoints written to the lease store."),
		ForwardFailures: vec("forward_failures_total", "Span batches the sink reported as failed."),
	}
}

func register(reg prometheus.Registerer, c *prometheus.CounterVec) *prometheus.CounterVec {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// Expose serves g on :port/metrics in the background. The caller owns the
// returned server and shuts it down.
func Expose(port int, g prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
