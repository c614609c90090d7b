package spec

import "gopkg.in/yaml.v3"

// sinkConfigs holds the raw block of every sink; the compiler decodes each
// one into that driver's Config.
type sinkConfigs struct {
	Kafka    yaml.Node `yaml:"kafka"`
	KafkaKgo yaml.Node `yaml:"kafka-kgo"`
	RabbitMQ yaml.Node `yaml:"rabbitmq"`
	Stdout   yaml.Node `yaml:"stdout"`
}

type debugSection struct {
	PerBatchDelayMS int  `yaml:"per_batch_delay_ms"`
	PrintCounter    bool `yaml:"print_counter"`
	PrintJSON       bool `yaml:"print_json"`
}

type healthSection struct {
	IntervalMS int `yaml:"interval_ms"` // default 5000
	TimeoutMS  int `yaml:"timeout_ms"`  // default 2000
}

type File struct {
	SchemaVersion string `yaml:"schema_version"`

	Source struct {
		Kind   string `yaml:"kind"`   // eventhub
		Driver string `yaml:"driver"` // azeventhubs|sarama
		Config string `yaml:"config"`
	} `yaml:"source"`

	Sinks       []string      `yaml:"sinks"`
	SinkConfigs sinkConfigs   `yaml:"sink_configs"`
	Health      healthSection `yaml:"health"`
	Debug       debugSection  `yaml:"debug"`
}
