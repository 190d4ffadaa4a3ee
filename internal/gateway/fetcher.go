package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/powermon/internal/core/domain"
)

// DefaultMaxAuthFailures is the auth-failure budget: once this many
// consecutive credential rejections accumulate, fetches fail immediately
// until a cycle fully succeeds.
const DefaultMaxAuthFailures = 3

// Fetcher assembles one Snapshot per call from the four logical gateway
// reads, with per-read auth retry and a single forced session refresh.
type Fetcher struct {
	sessions        *SessionManager
	maxAuthFailures int
	log             *slog.Logger
	now             func() time.Time
}

func NewFetcher(sessions *SessionManager, maxAuthFailures int, log *slog.Logger) *Fetcher {
	if maxAuthFailures <= 0 {
		maxAuthFailures = DefaultMaxAuthFailures
	}
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{
		sessions:        sessions,
		maxAuthFailures: maxAuthFailures,
		log:             log,
		now:             time.Now,
	}
}

// Fetch performs one complete snapshot fetch. On any failure the current
// session is destroyed, so the next successful fetch always runs on a fresh
// handle with a higher generation.
func (f *Fetcher) Fetch(ctx context.Context) (*domain.Snapshot, error) {
	// Past the auth budget the cached session is not worth keeping; start
	// the cycle on a brand-new one.
	force := f.sessions.State().AuthFailures >= f.maxAuthFailures

	sess, err := f.sessions.Ensure(ctx, force)
	if err != nil {
		return nil, err
	}

	snap, err := f.assemble(ctx, sess)
	if err != nil {
		f.sessions.Close()
		return nil, err
	}

	if !snap.Valid() {
		f.sessions.Close()
		return nil, &UnavailableError{Reason: "gateway returned an empty snapshot"}
	}

	f.sessions.ResetAuthFailures()
	return snap, nil
}

// cycleState tracks the one-refresh-per-cycle allowance.
type cycleState struct {
	session   Session
	refreshed bool
}

func (f *Fetcher) assemble(ctx context.Context, sess Session) (*domain.Snapshot, error) {
	cs := &cycleState{session: sess}
	snap := &domain.Snapshot{Timestamp: f.now().UTC()}

	if err := f.read(ctx, cs, "power", func(s Session) error {
		p, err := s.Power(ctx)
		if err != nil {
			return err
		}
		snap.Power = &p
		return nil
	}); err != nil {
		return nil, err
	}

	if err := f.read(ctx, cs, "identity", func(s Session) error {
		id, err := s.Identity(ctx)
		if err != nil {
			return err
		}
		snap.SiteName = id.SiteName
		snap.Firmware = id.Firmware
		snap.DIN = id.DIN
		snap.BatteryPercent = id.BatteryPercent
		snap.GridStatus = id.GridStatus
		return nil
	}); err != nil {
		return nil, err
	}

	if err := f.read(ctx, cs, "status", func(s Session) error {
		st, err := s.Status(ctx)
		if err != nil {
			return err
		}
		snap.Alerts = st.Alerts
		return nil
	}); err != nil {
		return nil, err
	}

	if err := f.read(ctx, cs, "vitals", func(s Session) error {
		v, err := s.Vitals(ctx)
		if err != nil {
			return err
		}
		snap.Vitals = v
		return nil
	}); err != nil {
		return nil, err
	}

	if snap.Alerts == nil {
		snap.Alerts = []string{}
	}
	deriveBatteryEnergy(snap)
	return snap, nil
}

// read wraps one logical read. A nil return means the value was set or the
// read degraded to absent; a non-nil return fails the whole cycle.
//
// Auth-classified failures increment the shared counter. Under the budget the
// first one per cycle forces a session refresh and retries the read once;
// past the budget, or after a refresh already happened this cycle, the cycle
// fails without another attempt. Connection-classified failures fail the
// cycle immediately: the session is presumed dead.
func (f *Fetcher) read(ctx context.Context, cs *cycleState, name string, fn func(Session) error) error {
	err := fn(cs.session)
	if err == nil {
		return nil
	}

	switch Classify(err) {
	case FailureConnection:
		return &UnavailableError{
			Reason: fmt.Sprintf("unable to retrieve %s from gateway", name),
			cause:  err,
		}

	case FailureAuth:
		n := f.sessions.NoteAuthFailure()
		f.log.Warn("authentication error on gateway read",
			"read", name, "failures", n, "max", f.maxAuthFailures, "error", err)
		if n >= f.maxAuthFailures {
			return &UnavailableError{
				Reason: fmt.Sprintf("authentication failed %d times", n),
				Kind:   FailureAuth,
				cause:  err,
			}
		}
		if cs.refreshed {
			return &UnavailableError{
				Reason: fmt.Sprintf("authentication still failing after session refresh (%s)", name),
				Kind:   FailureAuth,
				cause:  err,
			}
		}
		return f.retryAfterRefresh(ctx, cs, name, fn)

	default:
		// Best-effort read; partial snapshots are acceptable for
		// non-critical fields and validation catches the critical ones.
		f.log.Debug("degraded gateway read", "read", name, "error", err)
		return nil
	}
}

func (f *Fetcher) retryAfterRefresh(ctx context.Context, cs *cycleState, name string, fn func(Session) error) error {
	f.log.Info("auth error detected, forcing session refresh before retry", "read", name)
	fresh, err := f.sessions.Ensure(ctx, true)
	if err != nil {
		return err
	}
	cs.session = fresh
	cs.refreshed = true

	if err := fn(fresh); err != nil {
		kind := Classify(err)
		if kind == FailureAuth {
			f.sessions.NoteAuthFailure()
		}
		return &UnavailableError{
			Reason: fmt.Sprintf("retry of %s failed after session refresh", name),
			Kind:   kind,
			cause:  err,
		}
	}
	return nil
}

// deriveBatteryEnergy pulls the nominal pack energy figures out of the TEPOD
// vitals entry keyed by the device DIN.
func deriveBatteryEnergy(snap *domain.Snapshot) {
	if snap.Vitals == nil || snap.DIN == "" {
		return
	}
	pod, ok := snap.Vitals["TEPOD--"+snap.DIN]
	if !ok {
		return
	}
	snap.BatteryNominalEnergyRemaining = asFloat(pod["POD_nom_energy_remaining"])
	snap.BatteryNominalFullEnergy = asFloat(pod["POD_nom_full_pack_energy"])
}

func asFloat(v any) *float64 {
	switch n := v.(type) {
	case float64:
		return &n
	case float32:
		f := float64(n)
		return &f
	case int:
		f := float64(n)
		return &f
	case int64:
		f := float64(n)
		return &f
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return &f
		}
	}
	return nil
}
