package config

import (
	"spanhub/source/eventhub"
)

// LoadEventHubConfig delegates to the Event Hub source loader while
// centralizing loader entrypoints under internal/config.
func LoadEventHubConfig(path string) (eventhub.Config, error) {
	return eventhub.LoadConfig(path)
}
