package relay

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Default feed names.
const (
	FeedState        = "state"
	FeedNotification = "notification"
)

// FeedConfig routes agent notification types to a named SSE feed.
type FeedConfig struct {
	Name  string   `yaml:"name"`
	Types []string `yaml:"types,omitempty"`
}

// RelayConfig is the optional YAML feed layout. Notifications that match no
// feed go to the "notification" feed.
type RelayConfig struct {
	Feeds []FeedConfig `yaml:"feeds"`
}

// DefaultConfig publishes every notification on one feed.
func DefaultConfig() *RelayConfig {
	return &RelayConfig{}
}

// LoadConfig reads and validates a relay YAML config file.
func LoadConfig(path string) (*RelayConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("relay config: %w", err)
	}
	var cfg RelayConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("relay config: %w", err)
	}
	for i, f := range cfg.Feeds {
		if f.Name == "" {
			return nil, fmt.Errorf("relay config: feed[%d] missing name", i)
		}
		if f.Name == FeedState {
			return nil, fmt.Errorf("relay config: feed[%d] uses reserved name %q", i, FeedState)
		}
		if len(f.Types) == 0 {
			return nil, fmt.Errorf("relay config: feed[%d] (%s) lists no types", i, f.Name)
		}
	}
	return &cfg, nil
}

// feedFor returns the feed a notification type is published on.
func (c *RelayConfig) feedFor(typ string) string {
	for _, f := range c.Feeds {
		for _, t := range f.Types {
			if t == typ {
				return f.Name
			}
		}
	}
	return FeedNotification
}
