package config

import (
	"time"

	redisclient "github.com/vietddude/powermon/internal/infra/redis"
	"github.com/vietddude/powermon/internal/infra/storage/postgres"
	"github.com/vietddude/powermon/internal/sink/influx"
	"github.com/vietddude/powermon/internal/sink/mqtt"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Gateway  GatewayConfig      `yaml:"gateway"`
	Poll     PollConfig         `yaml:"poll"`
	Influx   influx.Config      `yaml:"influxdb"`
	MQTT     mqtt.Config        `yaml:"mqtt"`
	WiFi     WiFiConfig         `yaml:"wifi"`
	Redis    redisclient.Config `yaml:"redis"`
	Database postgres.Config    `yaml:"database"`
	Logging  LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// GatewayConfig holds the local gateway connection settings.
type GatewayConfig struct {
	Host            string        `yaml:"host"`
	Password        string        `yaml:"password"`
	Email           string        `yaml:"email"`
	Timeout         time.Duration `yaml:"timeout"`
	VerifyTLS       bool          `yaml:"verify_tls"`
	MaxAuthFailures int           `yaml:"max_auth_failures"`
	BackoffBase     time.Duration `yaml:"backoff_base"`
	BackoffCap      time.Duration `yaml:"backoff_cap"`
}

// PollConfig holds the background poll loop settings.
type PollConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// WiFiConfig holds the gateway Wi-Fi rejoin settings.
type WiFiConfig struct {
	Enabled       bool          `yaml:"enabled"`
	SSID          string        `yaml:"ssid"`
	Password      string        `yaml:"password"`
	Interface     string        `yaml:"interface"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	JoinTimeout   time.Duration `yaml:"join_timeout"`
}

// Redacted returns a copy safe to expose over the API: secrets are masked,
// everything else passes through.
func (c *AppConfig) Redacted() map[string]any {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}

	return map[string]any{
		"server": map[string]any{"port": c.Server.Port},
		"gateway": map[string]any{
			"host":              c.Gateway.Host,
			"password":          mask(c.Gateway.Password),
			"email":             c.Gateway.Email,
			"timeout":           c.Gateway.Timeout.String(),
			"verify_tls":        c.Gateway.VerifyTLS,
			"max_auth_failures": c.Gateway.MaxAuthFailures,
			"backoff_base":      c.Gateway.BackoffBase.String(),
			"backoff_cap":       c.Gateway.BackoffCap.String(),
		},
		"poll": map[string]any{"interval": c.Poll.Interval.String()},
		"influxdb": map[string]any{
			"enabled":     c.Influx.URL != "",
			"url":         c.Influx.URL,
			"org":         c.Influx.Org,
			"bucket":      c.Influx.Bucket,
			"token":       mask(c.Influx.Token),
			"measurement": c.Influx.Measurement,
		},
		"mqtt": map[string]any{
			"enabled":      c.MQTT.Enabled,
			"host":         c.MQTT.Host,
			"port":         c.MQTT.Port,
			"username":     c.MQTT.Username,
			"password":     mask(c.MQTT.Password),
			"topic_prefix": c.MQTT.TopicPrefix,
		},
		"wifi": map[string]any{
			"enabled":        c.WiFi.Enabled,
			"ssid":           c.WiFi.SSID,
			"password":       mask(c.WiFi.Password),
			"interface":      c.WiFi.Interface,
			"retry_interval": c.WiFi.RetryInterval.String(),
		},
		"redis": map[string]any{
			"enabled": c.Redis.URL != "",
		},
		"database": map[string]any{
			"enabled": c.Database.URL != "",
		},
		"logging": map[string]any{
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
		},
	}
}
