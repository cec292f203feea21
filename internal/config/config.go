// Package config holds the server options. Values resolve in order:
// built-in defaults, then an optional YAML file, then environment
// variables (an optional .env file is loaded by main before this runs).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the full option set. Timer options are integer milliseconds.
type Config struct {
	PtpmServerConnectTimeoutMs   int `yaml:"ptpmServerConnectTimeoutMs"`
	PtpmConnectRequestIntervalMs int `yaml:"ptpmConnectRequestIntervalMs"`
	PtpmConnectTimeoutMs         int `yaml:"ptpmConnectTimeoutMs"`
	HTTPPort                     int `yaml:"httpPort"`
	UDPPort                      int `yaml:"udpPort"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		PtpmServerConnectTimeoutMs:   300000,
		PtpmConnectRequestIntervalMs: 10000,
		PtpmConnectTimeoutMs:         300000,
		HTTPPort:                     5980,
		UDPPort:                      5990,
	}
}

// Load resolves the configuration. path may be empty, in which case only
// defaults and environment variables apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	for _, opt := range []struct {
		key string
		dst *int
	}{
		{"ORION_PTPM_SERVER_CONNECT_TIMEOUT_MS", &c.PtpmServerConnectTimeoutMs},
		{"ORION_PTPM_CONNECT_REQUEST_INTERVAL_MS", &c.PtpmConnectRequestIntervalMs},
		{"ORION_PTPM_CONNECT_TIMEOUT_MS", &c.PtpmConnectTimeoutMs},
		{"ORION_HTTP_PORT", &c.HTTPPort},
		{"ORION_UDP_PORT", &c.UDPPort},
	} {
		raw, ok := os.LookupEnv(opt.key)
		if !ok {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", opt.key, err)
		}
		*opt.dst = v
	}
	return nil
}

// CaptureTimeout is the deadline for every member's datagram.
func (c Config) CaptureTimeout() time.Duration {
	return time.Duration(c.PtpmServerConnectTimeoutMs) * time.Millisecond
}

// ReminderInterval is the resend cadence for uncaptured members.
func (c Config) ReminderInterval() time.Duration {
	return time.Duration(c.PtpmConnectRequestIntervalMs) * time.Millisecond
}

// ConnectTimeout is the deadline for every member's success ack.
func (c Config) ConnectTimeout() time.Duration {
	return time.Duration(c.PtpmConnectTimeoutMs) * time.Millisecond
}
