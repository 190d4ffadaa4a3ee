package gateway

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/vietddude/powermon/internal/core/domain"
)

// ClientConfig holds the connection settings for the gateway's local API.
type ClientConfig struct {
	Host      string // gateway address, e.g. 192.168.91.1
	Password  string
	Email     string
	Timeout   time.Duration
	VerifyTLS bool // gateways ship self-signed certificates
}

// Client dials the gateway's local HTTPS API. It implements Dialer; each Open
// performs a fresh login and returns an independent session with its own
// cookie jar.
type Client struct {
	cfg       ClientConfig
	transport *http.Transport
	log       *slog.Logger
}

func NewClient(cfg ClientConfig, log *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Email == "" {
		cfg.Email = "nobody@nowhere.com"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		cfg: cfg,
		transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     90 * time.Second,
			TLSClientConfig:     &tls.Config{InsecureSkipVerify: !cfg.VerifyTLS},
		},
		log: log,
	}
}

// Open logs in and returns a new session. The cookie-based auth token lives
// in the session's jar, so destroying the session discards all auth state.
func (c *Client) Open(ctx context.Context) (Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	s := &httpSession{
		base: "https://" + c.cfg.Host,
		hc: &http.Client{
			Timeout:   c.cfg.Timeout,
			Transport: c.transport,
			Jar:       jar,
		},
		log: c.log,
	}

	login := map[string]any{
		"username":     "customer",
		"password":     c.cfg.Password,
		"email":        c.cfg.Email,
		"force_sm_off": false,
	}
	body, err := json.Marshal(login)
	if err != nil {
		return nil, fmt.Errorf("marshal login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+"/api/login/Basic", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: readBodySnippet(resp.Body)}
	}

	c.log.Debug("opened gateway session", "host", c.cfg.Host)
	return s, nil
}

type httpSession struct {
	base string
	hc   *http.Client
	log  *slog.Logger
}

func (s *httpSession) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+path, nil)
	if err != nil {
		return fmt.Errorf("create request for %s: %w", path, err)
	}
	resp, err := s.hc.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, Body: readBodySnippet(resp.Body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

type meterReading struct {
	InstantPower *float64 `json:"instant_power"`
}

func (s *httpSession) Power(ctx context.Context) (domain.PowerFlows, error) {
	var aggregates map[string]meterReading
	if err := s.getJSON(ctx, "/api/meters/aggregates", &aggregates); err != nil {
		return domain.PowerFlows{}, err
	}
	return domain.PowerFlows{
		Site:    aggregates["site"].InstantPower,
		Solar:   aggregates["solar"].InstantPower,
		Battery: aggregates["battery"].InstantPower,
		Load:    aggregates["load"].InstantPower,
	}, nil
}

func (s *httpSession) Status(ctx context.Context) (StatusPayload, error) {
	var payload StatusPayload

	var problems struct {
		Problems []struct {
			Name string `json:"name"`
		} `json:"problems"`
	}
	if err := s.getJSON(ctx, "/api/troubleshooting/problems", &problems); err != nil {
		return payload, err
	}
	for _, p := range problems.Problems {
		payload.Alerts = append(payload.Alerts, p.Name)
	}

	// System status is informational; a failure here degrades, not fails.
	var system map[string]any
	if err := s.getJSON(ctx, "/api/system_status", &system); err != nil {
		s.log.Debug("system status read failed", "error", err)
	} else {
		payload.SystemStatus = system
	}
	return payload, nil
}

func (s *httpSession) Vitals(ctx context.Context) (domain.Vitals, error) {
	var vitals domain.Vitals
	if err := s.getJSON(ctx, "/api/devices/vitals", &vitals); err != nil {
		return nil, err
	}
	return vitals, nil
}

func (s *httpSession) Identity(ctx context.Context) (IdentityPayload, error) {
	var id IdentityPayload

	var status struct {
		DIN     string `json:"din"`
		Version string `json:"version"`
	}
	if err := s.getJSON(ctx, "/api/status", &status); err != nil {
		return id, err
	}
	id.DIN = status.DIN
	id.Firmware = status.Version

	// The remaining identity-adjacent endpoints are best-effort; they vary
	// by firmware and their absence does not invalidate the snapshot.
	var site struct {
		SiteName string `json:"site_name"`
	}
	if err := s.getJSON(ctx, "/api/site_info/site_name", &site); err != nil {
		s.log.Debug("site name read failed", "error", err)
	} else {
		id.SiteName = site.SiteName
	}

	var soe struct {
		Percentage *float64 `json:"percentage"`
	}
	if err := s.getJSON(ctx, "/api/system_status/soe", &soe); err != nil {
		s.log.Debug("battery level read failed", "error", err)
	} else {
		id.BatteryPercent = soe.Percentage
	}

	var grid struct {
		GridStatus string `json:"grid_status"`
	}
	if err := s.getJSON(ctx, "/api/system_status/grid_status", &grid); err != nil {
		s.log.Debug("grid status read failed", "error", err)
	} else {
		id.GridStatus = gridStatusString(grid.GridStatus)
	}
	return id, nil
}

func (s *httpSession) Close() error {
	// Logout invalidates the auth cookie server-side; best effort with a
	// short deadline so shutdown never hangs on a dead gateway.
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+"/api/logout", nil)
	if err != nil {
		return err
	}
	resp, err := s.hc.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	s.hc.CloseIdleConnections()
	return nil
}

// gridStatusString maps the gateway's internal grid states to the short
// UP/DOWN/SYNCING form used everywhere downstream.
func gridStatusString(raw string) string {
	switch raw {
	case "SystemGridConnected":
		return "UP"
	case "SystemIslandedActive":
		return "DOWN"
	case "SystemTransitionToGrid":
		return "SYNCING"
	default:
		return raw
	}
}

func readBodySnippet(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 256))
	if err != nil {
		return ""
	}
	return string(bytes.TrimSpace(b))
}
