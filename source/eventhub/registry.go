package eventhub

import "fmt"

// Factory builds a Host from a loaded Config.
type Factory func(cfg Config) (Host, error)

var registry = map[string]Factory{}

// Register is called from main() for every driver the binary ships.
func Register(name string, f Factory) {
	registry[name] = f
}

// NewHost returns a Host by driver name ("azeventhubs", "sarama").
func NewHost(name string, cfg Config) (Host, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("eventhub: unsupported driver %q", name)
	}
	if err := cfg.Validate(name); err != nil {
		return nil, err
	}
	return f(cfg)
}
