package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// TargetEntry describes one tab the agent opens and labels at startup.
type TargetEntry struct {
	URL   string `yaml:"url"`
	Label string `yaml:"label,omitempty"`
}

// TargetsConfig is the top-level YAML configuration for startup targets.
type TargetsConfig struct {
	Targets []TargetEntry `yaml:"targets"`
}

// LoadTargets reads and validates a startup targets YAML file. The error
// wraps os.ErrNotExist when the file is absent.
func LoadTargets(path string) (*TargetsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("targets config: %w", err)
	}
	var cfg TargetsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("targets config: %w", err)
	}
	labels := make(map[string]int, len(cfg.Targets))
	for i, t := range cfg.Targets {
		if strings.TrimSpace(t.URL) == "" {
			return nil, fmt.Errorf("targets config: targets[%d] missing url", i)
		}
		label := strings.TrimSpace(t.Label)
		if label == "" {
			continue
		}
		if j, dup := labels[label]; dup {
			return nil, fmt.Errorf("targets config: targets[%d] reuses label %q from targets[%d]", i, label, j)
		}
		labels[label] = i
		cfg.Targets[i].Label = label
	}
	return &cfg, nil
}
