// Package recovery triggers the out-of-band Wi-Fi rejoin when the gateway
// becomes unreachable, throttled so a flapping gateway cannot spam the
// network layer.
package recovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/powermon/internal/metrics"
)

// Rejoiner re-establishes network-layer reachability to the gateway. The
// returned bool reports whether a new association was actually performed;
// false means the interface was already associated.
type Rejoiner interface {
	Rejoin(ctx context.Context) (bool, error)
}

// BackoffResetter clears the session layer's connection backoff.
type BackoffResetter interface {
	ResetBackoff()
}

// Config tunes the rejoin trigger.
type Config struct {
	Enabled       bool
	RetryInterval time.Duration // default 300s
}

const DefaultRetryInterval = 300 * time.Second

// Coordinator owns the rejoin throttle and the decision of when a device
// failure warrants touching the network layer.
type Coordinator struct {
	cfg      Config
	rejoiner Rejoiner
	sessions BackoffResetter
	log      *slog.Logger
	now      func() time.Time

	mu          sync.Mutex
	lastAttempt time.Time
	lastError   string
	lastSuccess time.Time
}

func New(cfg Config, rejoiner Rejoiner, sessions BackoffResetter, log *slog.Logger) *Coordinator {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		cfg:      cfg,
		rejoiner: rejoiner,
		sessions: sessions,
		log:      log,
		now:      time.Now,
	}
}

// HandleDeviceFailure is called once per device-unavailable poll outcome.
// At most one rejoin attempt happens per RetryInterval; the throttle
// timestamp advances after every attempt, success or failure.
//
// The session backoff is reset only when the rejoin performed a new
// association. Resetting on an "already associated" no-op would mask a
// gateway-side outage behind a network-layer false negative.
func (c *Coordinator) HandleDeviceFailure(ctx context.Context, detail string) {
	if !c.cfg.Enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lastAttempt.IsZero() && c.now().Sub(c.lastAttempt) < c.cfg.RetryInterval {
		return
	}

	c.log.Info("gateway unreachable, attempting Wi-Fi rejoin", "detail", detail)
	joined, err := c.rejoiner.Rejoin(ctx)
	c.lastAttempt = c.now()

	if err != nil {
		c.lastError = err.Error()
		metrics.RejoinAttempts.WithLabelValues("failure").Inc()
		c.log.Warn("Wi-Fi rejoin attempt failed", "error", err)
		return
	}

	c.lastError = ""
	c.lastSuccess = c.now()
	metrics.RejoinAttempts.WithLabelValues("success").Inc()

	if joined {
		c.log.Info("Wi-Fi association re-established, clearing connection backoff")
		c.sessions.ResetBackoff()
	} else {
		c.log.Info("Wi-Fi already associated, leaving connection backoff untouched")
	}
}

// InitialJoin attempts a join on service start without consuming the
// throttle window. Failures are logged only; the poll loop copes.
func (c *Coordinator) InitialJoin(ctx context.Context) {
	if !c.cfg.Enabled {
		return
	}
	if _, err := c.rejoiner.Rejoin(ctx); err != nil {
		c.log.Warn("initial Wi-Fi join failed", "error", err)
		c.mu.Lock()
		c.lastError = err.Error()
		c.mu.Unlock()
	}
}

// Enabled reports whether the rejoin feature is configured on.
func (c *Coordinator) Enabled() bool { return c.cfg.Enabled }

// LastError returns the most recent rejoin failure, empty after a success.
func (c *Coordinator) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// LastSuccess returns the time of the last successful rejoin invocation.
func (c *Coordinator) LastSuccess() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSuccess
}
