// Package influx writes snapshots to InfluxDB v2 as line protocol.
package influx

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vietddude/powermon/internal/core/domain"
	"github.com/vietddude/powermon/internal/sink"
)

// Config holds the InfluxDB write settings. An empty URL disables the sink.
type Config struct {
	URL         string        `yaml:"url"`
	Org         string        `yaml:"org"`
	Bucket      string        `yaml:"bucket"`
	Token       string        `yaml:"token"`
	Measurement string        `yaml:"measurement"`
	Timeout     time.Duration `yaml:"timeout"`
	VerifyTLS   bool          `yaml:"verify_tls"`
}

// Writer posts line protocol to the v2 write API over a pooled HTTP client.
type Writer struct {
	cfg      Config
	hc       *http.Client
	writeURL string
}

func New(cfg Config) *Writer {
	if cfg.Measurement == "" {
		cfg.Measurement = "powerwall"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Writer{
		cfg: cfg,
		hc: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
				TLSClientConfig:     &tls.Config{InsecureSkipVerify: !cfg.VerifyTLS},
			},
		},
		writeURL: strings.TrimRight(cfg.URL, "/") + "/api/v2/write",
	}
}

// Write builds and posts one line. A snapshot that flattens to zero fields is
// skipped without error; there is nothing meaningful to record.
func (w *Writer) Write(ctx context.Context, s *domain.Snapshot) error {
	line := w.BuildLine(s)
	if line == "" {
		return nil
	}

	params := url.Values{}
	params.Set("org", w.cfg.Org)
	params.Set("bucket", w.cfg.Bucket)
	params.Set("precision", "ns")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		w.writeURL+"?"+params.Encode(), strings.NewReader(line))
	if err != nil {
		return fmt.Errorf("create write request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+w.cfg.Token)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := w.hc.Do(req)
	if err != nil {
		return fmt.Errorf("influx write: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("influx write failed: %d %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// BuildLine renders one line-protocol record, tagged by site, with fields in
// stable order. Returns "" when the snapshot carries no fields.
func (w *Writer) BuildLine(s *domain.Snapshot) string {
	site := s.SiteName
	if site == "" {
		site = "unknown"
	}

	fields := sink.Fields(s)
	parts := make([]string, 0, len(fields))
	for _, key := range sink.SortedKeys(fields) {
		if part, ok := formatField(key, fields[key]); ok {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return ""
	}

	ts := s.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	return fmt.Sprintf("%s,site=%s %s %d",
		escape(w.cfg.Measurement),
		escape(site),
		strings.Join(parts, ","),
		ts.UnixNano())
}

func formatField(key string, value any) (string, bool) {
	k := escape(key)
	switch v := value.(type) {
	case bool:
		return fmt.Sprintf("%s=%t", k, v), true
	case int:
		return fmt.Sprintf("%s=%di", k, v), true
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "", false
		}
		return fmt.Sprintf("%s=%v", k, v), true
	default:
		return fmt.Sprintf("%s=%q", k, fmt.Sprint(v)), true
	}
}

func escape(v string) string {
	r := strings.NewReplacer("\\", "\\\\", ",", "\\,", " ", "\\ ", "=", "\\=")
	return r.Replace(v)
}
