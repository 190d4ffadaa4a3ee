package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/powermon/internal/core/domain"
	"github.com/vietddude/powermon/internal/metrics"
)

// Dialer opens a fresh session against the gateway. Each call must produce an
// independent session bound to a new underlying connection.
type Dialer interface {
	Open(ctx context.Context) (Session, error)
}

// Session is one live gateway connection exposing the four logical reads.
// A session is owned exclusively by the SessionManager and is never reused
// after a destroy/create boundary.
type Session interface {
	Power(ctx context.Context) (domain.PowerFlows, error)
	Status(ctx context.Context) (StatusPayload, error)
	Vitals(ctx context.Context) (domain.Vitals, error)
	Identity(ctx context.Context) (IdentityPayload, error)
	Close() error
}

// StatusPayload carries the alert list and raw system status map.
type StatusPayload struct {
	Alerts       []string
	SystemStatus map[string]any
}

// IdentityPayload carries the identity-adjacent fields that come back from
// the cheap status endpoints.
type IdentityPayload struct {
	SiteName       string
	Firmware       string
	DIN            string
	BatteryPercent *float64
	GridStatus     string
}

// ConnectionState is the single value holding every counter and timestamp the
// reconnect logic depends on. Each mutation is a named transition in
// SessionManager, never an ad-hoc field write.
type ConnectionState struct {
	// Generation increases by one per successful session creation. A fetch
	// that succeeds after any failure always runs on a higher generation.
	Generation uint64

	// ConnectionFailures counts consecutive failed connection attempts. It
	// measures gateway reachability, so it survives session destruction and
	// only resets on a successful open (or an explicit backoff reset after a
	// Wi-Fi rejoin).
	ConnectionFailures int

	// AuthFailures counts consecutive credential rejections. It resets only
	// when a snapshot fetch fully succeeds.
	AuthFailures int

	// LastAttempt is the time of the last actual connection attempt. It is
	// zero until the first failure and is never touched by attempts that
	// backoff rejected.
	LastAttempt time.Time
}

// SessionConfig tunes the reconnect backoff.
type SessionConfig struct {
	BackoffBase time.Duration // default 30s
	BackoffCap  time.Duration // default 300s
}

const (
	DefaultBackoffBase = 30 * time.Second
	DefaultBackoffCap  = 300 * time.Second
)

// Backoff returns the enforced wait after n consecutive connection failures:
// base * 2^(n-1), capped.
func Backoff(base, limit time.Duration, failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	d := base
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	if d > limit {
		return limit
	}
	return d
}

// SessionManager owns the zero-or-one live gateway session and the
// ConnectionState around it. It never trusts any liveness flag a session
// might expose; read failures are the only authoritative staleness signal,
// and the generation counter is the only freshness signal.
type SessionManager struct {
	dialer Dialer
	cfg    SessionConfig
	log    *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	session Session
	state   ConnectionState
}

func NewSessionManager(dialer Dialer, cfg SessionConfig, log *slog.Logger) *SessionManager {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultBackoffCap
	}
	if log == nil {
		log = slog.Default()
	}
	return &SessionManager{
		dialer: dialer,
		cfg:    cfg,
		log:    log,
		now:    time.Now,
	}
}

// Ensure returns a usable session, creating one if needed.
//
// With a live session and no force, it returns immediately without probing
// the handle: stale "connected" flags are a known gateway failure mode.
// While backoff is active it fails fast with an UnavailableError carrying the
// remaining wait; no attempt is made and no counters change.
func (m *SessionManager) Ensure(ctx context.Context, forceReconnect bool) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if forceReconnect {
		m.log.Info("forcing gateway session recreation",
			"auth_failures", m.state.AuthFailures,
			"connection_failures", m.state.ConnectionFailures)
		m.closeLocked()
	} else if m.session != nil {
		return m.session, nil
	}

	if m.state.ConnectionFailures > 0 {
		backoff := Backoff(m.cfg.BackoffBase, m.cfg.BackoffCap, m.state.ConnectionFailures)
		elapsed := m.now().Sub(m.state.LastAttempt)
		if elapsed < backoff {
			remaining := backoff - elapsed
			m.log.Info("connection backoff active",
				"failures", m.state.ConnectionFailures,
				"backoff", backoff,
				"remaining", remaining.Round(time.Second))
			return nil, &UnavailableError{
				Reason: fmt.Sprintf("backoff active after %d connection failures",
					m.state.ConnectionFailures),
				RetryIn: remaining,
			}
		}
		m.log.Info("connection backoff expired, attempting reconnect",
			"failures", m.state.ConnectionFailures, "elapsed", elapsed.Round(time.Second))
	}

	sess, err := m.dialer.Open(ctx)
	if err != nil {
		m.state.ConnectionFailures++
		m.state.LastAttempt = m.now()
		next := Backoff(m.cfg.BackoffBase, m.cfg.BackoffCap, m.state.ConnectionFailures)
		m.log.Warn("gateway connection attempt failed",
			"failures", m.state.ConnectionFailures,
			"next_retry_in", next,
			"error", err)
		if Classify(err) == FailureConnection {
			return nil, &UnavailableError{Reason: "failed to connect to gateway", cause: err}
		}
		return nil, err
	}

	m.session = sess
	m.state.Generation++
	if m.state.ConnectionFailures > 0 {
		m.log.Info("reconnected to gateway",
			"after_failures", m.state.ConnectionFailures,
			"generation", m.state.Generation)
	}
	m.state.ConnectionFailures = 0
	metrics.SessionGeneration.Set(float64(m.state.Generation))
	return m.session, nil
}

// Close destroys the live session, if any. It is idempotent and never fails
// from the caller's perspective: close errors on the underlying handle are
// logged and swallowed. Connection-failure state survives because it tracks
// the gateway, not the handle.
func (m *SessionManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked()
}

func (m *SessionManager) closeLocked() {
	if m.session == nil {
		return
	}
	if err := m.session.Close(); err != nil {
		m.log.Debug("failed to close gateway session", "error", err)
	}
	m.session = nil
}

// NoteAuthFailure records one credential rejection and returns the running
// count. The count accumulates across session recreations until a fetch
// fully succeeds.
func (m *SessionManager) NoteAuthFailure() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.AuthFailures++
	return m.state.AuthFailures
}

// ResetAuthFailures clears the auth-failure count after a successful fetch.
func (m *SessionManager) ResetAuthFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.AuthFailures = 0
}

// ResetBackoff clears connection-failure state. Called by the recovery
// coordinator after a Wi-Fi rejoin actually re-associated, so the next poll
// is not delayed by backoff that predates the fixed network path.
func (m *SessionManager) ResetBackoff() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.ConnectionFailures > 0 {
		m.log.Info("clearing connection backoff", "failures", m.state.ConnectionFailures)
	}
	m.state.ConnectionFailures = 0
	m.state.LastAttempt = time.Time{}
}

// State returns a copy of the current connection state.
func (m *SessionManager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
