package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Gateway.Timeout == 0 {
		cfg.Gateway.Timeout = 10 * time.Second
	}
	if cfg.Gateway.MaxAuthFailures == 0 {
		cfg.Gateway.MaxAuthFailures = 3
	}
	if cfg.Gateway.BackoffBase == 0 {
		cfg.Gateway.BackoffBase = 30 * time.Second
	}
	if cfg.Gateway.BackoffCap == 0 {
		cfg.Gateway.BackoffCap = 300 * time.Second
	}
	if cfg.Poll.Interval == 0 {
		cfg.Poll.Interval = 30 * time.Second
	}
	if cfg.WiFi.RetryInterval == 0 {
		cfg.WiFi.RetryInterval = 300 * time.Second
	}
	if cfg.WiFi.JoinTimeout == 0 {
		cfg.WiFi.JoinTimeout = 45 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

func validate(cfg *AppConfig) error {
	if cfg.Gateway.Host == "" {
		return fmt.Errorf("gateway.host is required")
	}
	if cfg.Gateway.Password == "" {
		return fmt.Errorf("gateway.password is required")
	}
	if cfg.Gateway.BackoffBase > cfg.Gateway.BackoffCap {
		return fmt.Errorf("gateway.backoff_base must not exceed gateway.backoff_cap")
	}
	if cfg.MQTT.Enabled && cfg.MQTT.Host == "" {
		return fmt.Errorf("mqtt.host is required when mqtt is enabled")
	}
	if cfg.WiFi.Enabled && cfg.WiFi.SSID == "" {
		return fmt.Errorf("wifi.ssid is required when wifi rejoin is enabled")
	}
	return nil
}
