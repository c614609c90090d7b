package pipeline

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/yaml.v3"

	"spanhub/internal/config"
	"spanhub/internal/spec"
	"spanhub/internal/telemetry"
	"spanhub/sink"
	"spanhub/sink/kafka"
	"spanhub/sink/rabbitmq"
	"spanhub/sink/stdout"
	"spanhub/source/eventhub"
)

const (
	defaultHealthInterval = 5 * time.Second
	defaultHealthTimeout  = 2 * time.Second
)

// Compile loads a pipeline YAML and wires sinks and the Event Hub collector.
// Nothing connects until Runner.Start.
func Compile(path string, reg prometheus.Registerer) (*Runner, error) {
	cfg, confPath, err := config.LoadPipelineSpec(path)
	if err != nil {
		return nil, err
	}
	if cfg.Source.Kind != "eventhub" {
		return nil, fmt.Errorf("unsupported source %q", cfg.Source.Kind)
	}
	ec, err := config.LoadEventHubConfig(confPath)
	if err != nil {
		return nil, err
	}

	r := NewRunner()
	r.interval = durationMS(cfg.Health.IntervalMS, defaultHealthInterval)
	r.timeout = durationMS(cfg.Health.TimeoutMS, defaultHealthTimeout)

	for _, name := range cfg.Sinks {
		sDrv, err := sink.NewAdapter(name)
		if err != nil {
			_ = r.closeSinks()
			return nil, err
		}
		sc, err := sinkConfig(name, cfg)
		if err == nil {
			err = sDrv.Configure(sc)
		}
		if err != nil {
			_ = r.closeSinks()
			return nil, fmt.Errorf("sink %s: %w", name, err)
		}
		r.AddSink(sDrv)
	}

	host, err := eventhub.NewHost(cfg.Source.Driver, ec)
	if err != nil {
		_ = r.closeSinks()
		return nil, err
	}
	m := telemetry.NewMetrics(reg, cfg.Source.Driver)
	r.collector = eventhub.NewCollector(host, r.fanOut(), ec.CheckpointBatchSize,
		eventhub.WithMetrics(m), eventhub.WithForwardTimeout(ec.ForwardTimeout))
	return r, nil
}

func sinkConfig(name string, cfg spec.File) (any, error) {
	switch name {
	case "stdout":
		c := stdout.Config{
			DelayMS:      cfg.Debug.PerBatchDelayMS,
			PrintCounter: cfg.Debug.PrintCounter,
			JSON:         cfg.Debug.PrintJSON,
		}
		err := decode(&cfg.SinkConfigs.Stdout, &c)
		return c, err
	case "kafka":
		var c kafka.Config
		err := decodeRequired(name, &cfg.SinkConfigs.Kafka, &c)
		return c, err
	case "kafka-kgo":
		var c kafka.Config
		err := decodeRequired(name, &cfg.SinkConfigs.KafkaKgo, &c)
		return c, err
	case "rabbitmq":
		var c rabbitmq.Config
		err := decodeRequired(name, &cfg.SinkConfigs.RabbitMQ, &c)
		return c, err
	default:
		return nil, fmt.Errorf("no config block for sink %q", name)
	}
}

// decode leaves v untouched when the block is absent.
func decode(n *yaml.Node, v any) error {
	if n.Kind == 0 {
		return nil
	}
	return n.Decode(v)
}

func decodeRequired(name string, n *yaml.Node, v any) error {
	if n.Kind == 0 {
		return fmt.Errorf("sink_configs.%s is required", name)
	}
	return n.Decode(v)
}

func durationMS(ms int, def time.Duration) time.Duration {
	if ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
