package eventhub

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "SPANHUB_EVENTHUB__"

// StorageCfg is the blob container holding leases and checkpoints.
type StorageCfg struct {
	ConnectionString string `koanf:"connection_string"`
	Container        string `koanf:"container"`
	BlobPrefix       string `koanf:"blob_prefix"` // optional, namespaces lease blobs
}

type ReceiveCfg struct {
	MaxBatch int           `koanf:"max_batch"`
	MaxWait  time.Duration `koanf:"max_wait"`
}

// KafkaCfg configures the sarama driver against the hub's Kafka endpoint.
type KafkaCfg struct {
	Brokers   []string      `koanf:"brokers"` // default derived from connection_string
	Version   string        `koanf:"version"`
	StartFrom string        `koanf:"start_from"` // oldest|newest (default newest)
	TLSEn     *bool         `koanf:"tls_enabled"`
	SASLUser  string        `koanf:"sasl_user"`
	SASLPass  string        `koanf:"sasl_pass"`
	MaxBatch  int           `koanf:"max_batch"`
	Linger    time.Duration `koanf:"linger"`
}

type Config struct {
	Name                string        `koanf:"name"`
	ConsumerGroup       string        `koanf:"consumer_group"`
	ConnectionString    string        `koanf:"connection_string"`
	CheckpointBatchSize int           `koanf:"checkpoint_batch_size"`
	ForwardTimeout      time.Duration `koanf:"forward_timeout"` // cap on each sink hand-off
	ProcessorHost       string        `koanf:"processor_host"`
	Storage             StorageCfg    `koanf:"storage"`
	Receive             ReceiveCfg    `koanf:"receive"`
	Kafka               KafkaCfg      `koanf:"kafka"`
}

// ---------------------------------------------------------------------------
// Loader
// ---------------------------------------------------------------------------

// LoadConfig merges YAML (if present) with env-vars
// (prefix `SPANHUB_EVENTHUB__`, nesting delimiter `__`).
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}
	sv := k.String("schema_version")
	if sv != "" && sv != "v1" {
		return Config{}, fmt.Errorf("eventhub schema_version %q not supported (want v1)", sv)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// SPANHUB_EVENTHUB__STORAGE__BLOB_PREFIX -> storage.blob_prefix
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
}

// ---------------------------------------------------------------------------
// defaults
// ---------------------------------------------------------------------------

// ApplyDefaults fills unset fields. Empty strings count as unset.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "zipkin"
	}
	if c.ConsumerGroup == "" {
		c.ConsumerGroup = "$Default"
	}
	if c.CheckpointBatchSize <= 0 {
		c.CheckpointBatchSize = DefaultCheckpointBatchSize
	}
	if c.ForwardTimeout <= 0 {
		c.ForwardTimeout = DefaultForwardTimeout
	}
	if c.ProcessorHost == "" {
		c.ProcessorHost = uuid.New().String()
	}
	if c.Storage.Container == "" {
		c.Storage.Container = "zipkin"
	}
	c.Storage.BlobPrefix = strings.Trim(c.Storage.BlobPrefix, "/")
	if c.Receive.MaxBatch <= 0 {
		c.Receive.MaxBatch = 100
	}
	if c.Receive.MaxWait <= 0 {
		c.Receive.MaxWait = 5 * time.Second
	}
	if c.Kafka.Version == "" {
		c.Kafka.Version = "1.0.0"
	}
	if c.Kafka.StartFrom == "" {
		c.Kafka.StartFrom = "newest"
	}
	if c.Kafka.MaxBatch <= 0 {
		c.Kafka.MaxBatch = c.Receive.MaxBatch
	}
	if c.Kafka.Linger <= 0 {
		c.Kafka.Linger = 100 * time.Millisecond
	}
	if len(c.Kafka.Brokers) == 0 {
		if ns := Namespace(c.ConnectionString); ns != "" {
			c.Kafka.Brokers = []string{ns + ":9093"}
		}
	}
	if c.Kafka.SASLUser == "" && c.ConnectionString != "" {
		c.Kafka.SASLUser, c.Kafka.SASLPass = "$ConnectionString", c.ConnectionString
	}
}

// Validate reports missing settings a driver cannot start without.
func (c Config) Validate(driver string) error {
	var missing []string
	switch driver {
	case "sarama":
		if len(c.Kafka.Brokers) == 0 {
			missing = append(missing, "kafka.brokers")
		}
	default:
		if c.ConnectionString == "" {
			missing = append(missing, "connection_string")
		}
		if c.Storage.ConnectionString == "" {
			missing = append(missing, "storage.connection_string")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("eventhub: %s required", strings.Join(missing, ", "))
	}
	return nil
}

// TLS reports whether the Kafka connection uses TLS. The hub's Kafka
// endpoint requires it, so it is on unless disabled explicitly.
func (c KafkaCfg) TLS() bool { return c.TLSEn == nil || *c.TLSEn }

// Namespace extracts the host from the Endpoint=sb://host/ entry of a hub
// connection string.
func Namespace(connectionString string) string {
	for _, part := range strings.Split(connectionString, ";") {
		key, value, ok := strings.Cut(part, "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "Endpoint") {
			continue
		}
		u, err := url.Parse(strings.TrimSpace(value))
		if err != nil {
			return ""
		}
		return u.Hostname()
	}
	return ""
}
