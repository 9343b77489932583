package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/sackio/unibrowse/internal/transport"
)

var dotenvOnce sync.Once

// loadDotEnv merges an optional .env file into the process environment.
// Variables already set win.
func loadDotEnv() {
	dotenvOnce.Do(func() {
		if err := godotenv.Load(); err != nil {
			slog.Debug("failed to load .env file", "error", err)
		}
	})
}

// LogConfig selects level, handler format and rotating file for a binary.
type LogConfig struct {
	Level  string
	Format string // "text" or "pretty"
	File   string
}

func loadLog(prefix, defaultFile string) LogConfig {
	return LogConfig{
		Level:  strings.ToLower(getEnvOrDefault(prefix+"_LOG_LEVEL", "info")),
		Format: strings.ToLower(getEnvOrDefault(prefix+"_LOG_FORMAT", "text")),
		File:   getEnvOrDefault(prefix+"_LOG_FILE", defaultFile),
	}
}

// BrokerConfig is the hub connection shared by every broker-owning binary.
type BrokerConfig struct {
	HubURL      string
	CallTimeout time.Duration
	Backoff     transport.Backoff
	DialTimeout time.Duration
}

func loadBroker() BrokerConfig {
	cfg := BrokerConfig{
		HubURL:      getEnvOrDefault("UNIBROWSE_HUB_URL", "ws://127.0.0.1:9339/ws"),
		CallTimeout: getEnvMillisOrDefault("UNIBROWSE_CALL_TIMEOUT_MS", 30*time.Second),
		DialTimeout: getEnvMillisOrDefault("UNIBROWSE_DIAL_TIMEOUT_MS", 10*time.Second),
		Backoff: transport.Backoff{
			Base: getEnvMillisOrDefault("UNIBROWSE_BACKOFF_BASE_MS", time.Second),
			Max:  getEnvMillisOrDefault("UNIBROWSE_BACKOFF_MAX_MS", 30*time.Second),
		},
	}
	if cfg.CallTimeout < 100*time.Millisecond {
		cfg.CallTimeout = 100 * time.Millisecond
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff.Base = time.Second
	}
	if cfg.Backoff.Max < cfg.Backoff.Base {
		cfg.Backoff.Max = cfg.Backoff.Base
	}
	return cfg
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvMillisOrDefault reads an integer millisecond count.
func getEnvMillisOrDefault(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}

// getEnvDurationOrDefault reads a Go duration ("24h", "90m"); "0" disables.
func getEnvDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// getEnvListOrDefault splits a comma-separated value, dropping blanks.
func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
