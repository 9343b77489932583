package config

// HubConfig holds configuration for the relay hub.
type HubConfig struct {
	BindAddr        string
	MaxMessageBytes int64
	Log             LogConfig
}

// LoadHub reads hub configuration from environment variables and an optional
// .env file.
func LoadHub() (*HubConfig, error) {
	loadDotEnv()
	return &HubConfig{
		BindAddr:        getEnvOrDefault("HUB_BIND_ADDR", "127.0.0.1:9339"),
		MaxMessageBytes: int64(getEnvIntOrDefault("HUB_MAX_MESSAGE_BYTES", 8<<20)),
		Log:             loadLog("HUB", "logs/unibrowse_hub.log"),
	}, nil
}
