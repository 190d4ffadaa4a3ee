package gateway

import (
	"context"
	"errors"
	"syscall"
	"testing"

	"github.com/vietddude/powermon/internal/core/domain"
)

func floatPtr(v float64) *float64 { return &v }

func domainPower(site, solar, battery, load float64) domain.PowerFlows {
	return domain.PowerFlows{Site: &site, Solar: &solar, Battery: &battery, Load: &load}
}

func healthySession() *stubSession {
	return &stubSession{
		power: domainPower(100, 2000, -500, 1600),
		identity: IdentityPayload{
			SiteName:       "Home",
			Firmware:       "23.44.0",
			DIN:            "1232100-00-E--TG123456789",
			BatteryPercent: floatPtr(72.5),
			GridStatus:     "UP",
		},
		status: StatusPayload{Alerts: []string{"GridCodesWrite"}},
	}
}

func newFetcherWith(d Dialer) (*Fetcher, *SessionManager) {
	m := newTestManager(d)
	return NewFetcher(m, 3, testLogger()), m
}

func TestFetchAssemblesSnapshot(t *testing.T) {
	sess := healthySession()
	d := &stubDialer{next: func(int) (Session, error) { return sess, nil }}
	f, m := newFetcherWith(d)

	snap, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if snap.SiteName != "Home" || snap.DIN != "1232100-00-E--TG123456789" {
		t.Errorf("identity not carried over: %+v", snap)
	}
	if snap.Power == nil || *snap.Power.Solar != 2000 {
		t.Errorf("power not carried over: %+v", snap.Power)
	}
	if len(snap.Alerts) != 1 {
		t.Errorf("alerts = %v", snap.Alerts)
	}
	if m.State().AuthFailures != 0 {
		t.Errorf("auth failures = %d after success", m.State().AuthFailures)
	}
}

func TestFetchAlertsNeverNil(t *testing.T) {
	sess := healthySession()
	sess.status = StatusPayload{}
	d := &stubDialer{next: func(int) (Session, error) { return sess, nil }}
	f, _ := newFetcherWith(d)

	snap, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if snap.Alerts == nil {
		t.Error("alerts slice is nil, want empty")
	}
}

// One auth failure forces exactly one session refresh and a single retry of
// the failing read. A second auth failure in the same cycle fails the cycle.
func TestFetchAuthRetryOncePerCycle(t *testing.T) {
	authErr := &StatusError{Code: 403, Body: "forbidden"}

	var sessions []*stubSession
	d := &stubDialer{next: func(int) (Session, error) {
		s := healthySession()
		s.powerErr = authErr
		sessions = append(sessions, s)
		return s, nil
	}}
	f, m := newFetcherWith(d)

	_, err := f.Fetch(context.Background())
	if err == nil {
		t.Fatal("expected cycle failure")
	}
	var unavail *UnavailableError
	if !errors.As(err, &unavail) {
		t.Fatalf("expected UnavailableError, got %v", err)
	}

	// Initial session plus exactly one refresh.
	if d.opened != 2 {
		t.Errorf("opened %d sessions, want 2", d.opened)
	}
	// Original failure plus the failed retry.
	if got := m.State().AuthFailures; got != 2 {
		t.Errorf("auth failures = %d, want 2", got)
	}
	if sessions[0].closed != 1 {
		t.Error("stale session not closed on refresh")
	}
}

// Once the budget is exhausted, the failing read does not earn another
// refresh; the cycle fails immediately.
func TestFetchAuthBudgetExhausted(t *testing.T) {
	authErr := &StatusError{Code: 401, Body: "unauthorized"}

	d := &stubDialer{next: func(int) (Session, error) {
		s := healthySession()
		s.powerErr = authErr
		return s, nil
	}}
	f, m := newFetcherWith(d)

	// Cycle 1: fail, refresh, fail again. Counter lands on 2.
	_, _ = f.Fetch(context.Background())
	opensAfterFirst := d.opened

	// Cycle 2: third failure hits the budget. No refresh this time.
	_, err := f.Fetch(context.Background())
	if err == nil {
		t.Fatal("expected cycle failure")
	}
	// The exhausted budget is an auth problem end to end; wrapping it as
	// unavailability must not re-label it a connection failure.
	if got := Classify(err); got != FailureAuth {
		t.Errorf("Classify(budget error) = %v, want auth", got)
	}
	if got := m.State().AuthFailures; got != 3 {
		t.Errorf("auth failures = %d, want 3", got)
	}
	if refreshes := d.opened - opensAfterFirst; refreshes != 1 {
		// One open to replace the session cycle 1 destroyed, zero refreshes.
		t.Errorf("cycle 2 opened %d sessions, want 1", refreshes)
	}

	// Cycle 3: past the budget, the cycle starts on a forced fresh session.
	d.next = func(int) (Session, error) { return healthySession(), nil }
	snap, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch after credential fix: %v", err)
	}
	if snap == nil {
		t.Fatal("nil snapshot")
	}
	if got := m.State().AuthFailures; got != 0 {
		t.Errorf("auth failures = %d after success, want 0", got)
	}
}

func TestFetchConnectionFailureClosesSession(t *testing.T) {
	sess := healthySession()
	sess.vitalsErr = syscall.ECONNRESET
	d := &stubDialer{next: func(int) (Session, error) { return sess, nil }}
	f, m := newFetcherWith(d)

	_, err := f.Fetch(context.Background())
	var unavail *UnavailableError
	if !errors.As(err, &unavail) {
		t.Fatalf("expected UnavailableError, got %v", err)
	}
	if sess.closed != 1 {
		t.Error("session not closed on connection failure")
	}

	// The next successful fetch runs on a strictly newer generation.
	genBefore := m.State().Generation
	sess.vitalsErr = nil
	if _, err := f.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if gen := m.State().Generation; gen <= genBefore {
		t.Errorf("generation = %d, want > %d", gen, genBefore)
	}
}

// A fetch that succeeds after a failure must observe fresh data from a fresh
// session, never a stale value cached by the dead handle.
func TestFetchFreshSessionAfterFailure(t *testing.T) {
	energy := 1000.0
	d := &stubDialer{}
	d.next = func(int) (Session, error) {
		s := healthySession()
		s.vitals = map[string]map[string]any{
			"TEPOD--" + s.identity.DIN: {"POD_nom_energy_remaining": energy},
		}
		d.sessions = append(d.sessions, s)
		return s, nil
	}
	f, m := newFetcherWith(d)

	snap, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if *snap.BatteryNominalEnergyRemaining != 1000 || m.State().Generation != 1 {
		t.Fatalf("first fetch: energy=%v generation=%d",
			*snap.BatteryNominalEnergyRemaining, m.State().Generation)
	}

	// Transport dies mid-cycle; the handle is destroyed.
	d.sessions[0].powerErr = syscall.ECONNRESET
	if _, err := f.Fetch(context.Background()); err == nil {
		t.Fatal("expected transport failure")
	}
	if d.sessions[0].closed == 0 {
		t.Error("dead handle not destroyed")
	}

	energy = 2000
	snap, err = f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("third fetch: %v", err)
	}
	if *snap.BatteryNominalEnergyRemaining != 2000 {
		t.Errorf("stale reading survived the failure: %v", *snap.BatteryNominalEnergyRemaining)
	}
	if gen := m.State().Generation; gen != 2 {
		t.Errorf("generation = %d, want 2", gen)
	}
}

// A snapshot with all-zero power, no battery reading, and no identity is a
// known failure shape of a half-dead gateway and must not count as success.
func TestFetchRejectsTrivialSnapshot(t *testing.T) {
	sess := &stubSession{power: domainPower(0, 0, 0, 0)}
	d := &stubDialer{next: func(int) (Session, error) { return sess, nil }}
	f, m := newFetcherWith(d)

	_, err := f.Fetch(context.Background())
	var unavail *UnavailableError
	if !errors.As(err, &unavail) {
		t.Fatalf("expected UnavailableError, got %v", err)
	}
	if sess.closed != 1 {
		t.Error("session not closed on trivial snapshot")
	}
	if m.State().AuthFailures != 0 {
		t.Errorf("auth failures mutated: %d", m.State().AuthFailures)
	}
}

// Reads that fail with neither connection nor auth degrade to an absent
// value instead of failing the cycle.
func TestFetchDegradedReadKeepsCycle(t *testing.T) {
	sess := healthySession()
	sess.vitalsErr = errors.New("vitals endpoint returned invalid protobuf")
	d := &stubDialer{next: func(int) (Session, error) { return sess, nil }}
	f, _ := newFetcherWith(d)

	snap, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if snap.Vitals != nil {
		t.Errorf("vitals = %v, want absent", snap.Vitals)
	}
	if snap.Power == nil {
		t.Error("power missing from degraded snapshot")
	}
}

func TestFetchDerivesBatteryEnergy(t *testing.T) {
	sess := healthySession()
	sess.vitals = map[string]map[string]any{
		"TEPOD--" + sess.identity.DIN: {
			"POD_nom_energy_remaining": 1000.0,
			"POD_nom_full_pack_energy": 2000,
		},
	}
	d := &stubDialer{next: func(int) (Session, error) { return sess, nil }}
	f, _ := newFetcherWith(d)

	snap, err := f.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if snap.BatteryNominalEnergyRemaining == nil || *snap.BatteryNominalEnergyRemaining != 1000 {
		t.Errorf("energy remaining = %v", snap.BatteryNominalEnergyRemaining)
	}
	if snap.BatteryNominalFullEnergy == nil || *snap.BatteryNominalFullEnergy != 2000 {
		t.Errorf("full energy = %v", snap.BatteryNominalFullEnergy)
	}
}
