package config

import (
	"fmt"
	"time"

	"github.com/sackio/unibrowse/internal/audit"
)

// AgentConfig holds configuration for the execution agent.
type AgentConfig struct {
	Broker  BrokerConfig
	AgentID string

	// CDP connection settings
	CDPAddress string
	CDPPort    int

	// Browser launch settings
	LaunchBrowser     bool
	BrowserBinary     string
	BrowserProfileDir string
	BrowserHeadless   bool

	// Audit log settings
	AuditCapacity   int
	AuditRetention  time.Duration
	AuditSweep      string
	AuditJSONL      string
	AuditJSONLMaxMB int
	AuditBufferSize int

	TargetsFile string
	Log         LogConfig
}

// LoadAgent reads agent configuration from environment variables and an
// optional .env file.
func LoadAgent() (*AgentConfig, error) {
	loadDotEnv()
	cfg := &AgentConfig{
		Broker:            loadBroker(),
		AgentID:           getEnvOrDefault("AGENT_ID", ""),
		CDPAddress:        getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:           getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9222),
		LaunchBrowser:     getEnvBoolOrDefault("AGENT_LAUNCH_BROWSER", false),
		BrowserBinary:     getEnvOrDefault("CHROMIUM_BINARY", ""),
		BrowserProfileDir: getEnvOrDefault("CHROMIUM_PROFILE_DIR", "data/chromium-profile"),
		BrowserHeadless:   getEnvBoolOrDefault("CHROMIUM_HEADLESS", false),
		AuditCapacity:     getEnvIntOrDefault("AGENT_AUDIT_CAPACITY", audit.DefaultCapacity),
		AuditRetention:    getEnvDurationOrDefault("AGENT_AUDIT_RETENTION", 24*time.Hour),
		AuditSweep:        getEnvOrDefault("AGENT_AUDIT_SWEEP", audit.DefaultSweepSpec),
		AuditJSONL:        getEnvOrDefault("AGENT_AUDIT_JSONL", ""),
		AuditJSONLMaxMB:   getEnvIntOrDefault("AGENT_AUDIT_JSONL_MAX_MB", 100),
		AuditBufferSize:   getEnvIntOrDefault("AGENT_AUDIT_BUFFER_SIZE", 1000),
		TargetsFile:       getEnvOrDefault("AGENT_TARGETS_FILE", ""),
		Log:               loadLog("AGENT", "logs/unibrowse_agent.log"),
	}
	if cfg.AuditCapacity < 1 {
		return nil, fmt.Errorf("config: AGENT_AUDIT_CAPACITY must be positive, got %d", cfg.AuditCapacity)
	}
	if cfg.CDPPort < 1 || cfg.CDPPort > 65535 {
		return nil, fmt.Errorf("config: CHROMIUM_CDP_PORT out of range: %d", cfg.CDPPort)
	}
	return cfg, nil
}

// CDPURL returns the browser's HTTP debugging endpoint.
func (c *AgentConfig) CDPURL() string {
	return fmt.Sprintf("http://%s:%d", c.CDPAddress, c.CDPPort)
}
