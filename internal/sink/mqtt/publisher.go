// Package mqtt publishes snapshot metrics to an MQTT broker, one retained
// topic per metric plus an availability topic.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/vietddude/powermon/internal/core/domain"
	"github.com/vietddude/powermon/internal/sink"
)

// Config holds the broker settings. Enabled false disables the sink.
type Config struct {
	Enabled     bool          `yaml:"enabled"`
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	TopicPrefix string        `yaml:"topic_prefix"`
	QoS         byte          `yaml:"qos"`
	Retain      bool          `yaml:"retain"`
	Timeout     time.Duration `yaml:"timeout"`
	// Metrics restricts publishing to the named metrics; empty means all.
	Metrics []string `yaml:"metrics"`
}

// Publisher wraps a paho client. Construction never fails: the client
// retries the initial connect and auto-reconnects in the background, and
// Connected reflects the live link state for health reporting.
type Publisher struct {
	cfg     Config
	client  paho.Client
	log     *slog.Logger
	allowed map[string]bool

	mu        sync.Mutex
	connected bool
	lastError string
}

func New(cfg Config, log *slog.Logger) *Publisher {
	if cfg.Port == 0 {
		cfg.Port = 1883
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "powerwall"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	p := &Publisher{cfg: cfg, log: log}
	if len(cfg.Metrics) > 0 {
		p.allowed = make(map[string]bool, len(cfg.Metrics))
		for _, m := range cfg.Metrics {
			p.allowed[m] = true
		}
	}

	opts := paho.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)).
		SetClientID("powermon").
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetConnectRetry(true).
		SetConnectRetryInterval(10 * time.Second).
		SetAutoReconnect(true).
		SetWill(p.availabilityTopic(), "offline", cfg.QoS, true)
	opts.OnConnect = func(c paho.Client) {
		p.mu.Lock()
		p.connected = true
		p.lastError = ""
		p.mu.Unlock()
		p.log.Info("connected to MQTT broker", "host", cfg.Host, "port", cfg.Port)
		c.Publish(p.availabilityTopic(), cfg.QoS, true, "online")
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		p.mu.Lock()
		p.connected = false
		p.lastError = err.Error()
		p.mu.Unlock()
		p.log.Warn("MQTT connection lost", "error", err)
	}

	p.client = paho.NewClient(opts)
	p.client.Connect()
	return p
}

// Publish emits one retained topic per metric, then marks the gateway
// available. Metrics outside the configured allow list are skipped.
func (p *Publisher) Publish(ctx context.Context, s *domain.Snapshot) error {
	if !p.client.IsConnected() {
		return fmt.Errorf("not connected to MQTT broker")
	}

	fields := sink.Fields(s)
	published := 0
	for _, key := range sink.SortedKeys(fields) {
		if p.allowed != nil && !p.allowed[key] {
			continue
		}
		topic := p.cfg.TopicPrefix + "/" + key
		tok := p.client.Publish(topic, p.cfg.QoS, p.cfg.Retain, FormatPayload(fields[key]))
		if !tok.WaitTimeout(p.cfg.Timeout) {
			return fmt.Errorf("publish to %s timed out", topic)
		}
		if err := tok.Error(); err != nil {
			return fmt.Errorf("publish to %s: %w", topic, err)
		}
		published++
	}

	if err := p.PublishAvailability(ctx, true, ""); err != nil {
		return err
	}
	p.log.Debug("published snapshot to MQTT", "topics", published)
	return nil
}

// PublishAvailability sets the retained availability topic. The offline
// payload carries a detail suffix, truncated so a pathological error string
// cannot bloat the retained message.
func (p *Publisher) PublishAvailability(_ context.Context, online bool, detail string) error {
	if !p.client.IsConnected() {
		return fmt.Errorf("not connected to MQTT broker")
	}
	payload := "online"
	if !online {
		payload = "offline"
		if detail != "" {
			if len(detail) > 512 {
				detail = detail[:512]
			}
			payload = "offline: " + detail
		}
	}
	tok := p.client.Publish(p.availabilityTopic(), p.cfg.QoS, true, payload)
	if !tok.WaitTimeout(p.cfg.Timeout) {
		return fmt.Errorf("availability publish timed out")
	}
	return tok.Error()
}

// Connected reports the live broker link state.
func (p *Publisher) Connected() bool {
	return p.client.IsConnected()
}

// LastError returns the most recent connection error, empty while healthy.
func (p *Publisher) LastError() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastError
}

// Close publishes offline and disconnects.
func (p *Publisher) Close() {
	if p.client.IsConnected() {
		tok := p.client.Publish(p.availabilityTopic(), p.cfg.QoS, true, "offline")
		tok.WaitTimeout(p.cfg.Timeout)
	}
	p.client.Disconnect(250)
}

func (p *Publisher) availabilityTopic() string {
	return p.cfg.TopicPrefix + "/availability"
}

// FormatPayload renders a metric value for the wire: booleans as ON/OFF,
// floats with two decimals, everything else verbatim.
func FormatPayload(v any) string {
	switch x := v.(type) {
	case bool:
		if x {
			return "ON"
		}
		return "OFF"
	case float64:
		return fmt.Sprintf("%.2f", x)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}
