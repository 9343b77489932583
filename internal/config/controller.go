package config

import "github.com/sackio/unibrowse/internal/netutil"

// ControllerConfig holds configuration for the unibrowse controller.
type ControllerConfig struct {
	Broker           BrokerConfig
	ClientID         string
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool
	RelayConfigPath  string
	Log              LogConfig
}

// LoadController reads controller configuration from environment variables
// and an optional .env file.
func LoadController() (*ControllerConfig, error) {
	loadDotEnv()
	cfg := &ControllerConfig{
		Broker:           loadBroker(),
		ClientID:         getEnvOrDefault("UNIBROWSE_CLIENT_ID", ""),
		BindAddr:         getEnvOrDefault("UNIBROWSE_BIND_ADDR", "127.0.0.1:9340"),
		PortAutoFallback: getEnvBoolOrDefault("UNIBROWSE_PORT_AUTO_FALLBACK", true),
		RelayConfigPath:  getEnvOrDefault("UNIBROWSE_RELAY_CONFIG", ""),
		Log:              loadLog("UNIBROWSE", "logs/unibrowse.log"),
	}
	candidates, err := netutil.ExpandCandidates(getEnvListOrDefault("UNIBROWSE_PORT_CANDIDATES", []string{"127.0.0.1:9341-9349"}))
	if err != nil {
		return nil, err
	}
	cfg.PortCandidates = candidates
	return cfg, nil
}
