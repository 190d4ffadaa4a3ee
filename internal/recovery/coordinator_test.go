package recovery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =============================================================================
// Mocks
// =============================================================================

type mockRejoiner struct {
	calls  int
	joined bool
	err    error
}

func (m *mockRejoiner) Rejoin(ctx context.Context) (bool, error) {
	m.calls++
	return m.joined, m.err
}

type mockResetter struct {
	resets int
}

func (m *mockResetter) ResetBackoff() { m.resets++ }

func newTestCoordinator(rejoiner Rejoiner, resetter BackoffResetter) (*Coordinator, *time.Time) {
	c := New(Config{Enabled: true, RetryInterval: 300 * time.Second}, rejoiner, resetter, testLogger())
	now := time.Now()
	c.now = func() time.Time { return now }
	return c, &now
}

// =============================================================================
// Tests
// =============================================================================

func TestRejoinThrottled(t *testing.T) {
	rj := &mockRejoiner{joined: true}
	rs := &mockResetter{}
	c, now := newTestCoordinator(rj, rs)

	ctx := context.Background()
	c.HandleDeviceFailure(ctx, "unreachable")
	c.HandleDeviceFailure(ctx, "unreachable")
	c.HandleDeviceFailure(ctx, "unreachable")

	if rj.calls != 1 {
		t.Errorf("rejoin called %d times inside throttle window, want 1", rj.calls)
	}

	*now = now.Add(301 * time.Second)
	c.HandleDeviceFailure(ctx, "unreachable")
	if rj.calls != 2 {
		t.Errorf("rejoin called %d times after window expired, want 2", rj.calls)
	}
}

// A failed attempt still consumes the throttle window, so a broken rejoin
// path cannot turn into a tight nmcli loop.
func TestFailedRejoinConsumesWindow(t *testing.T) {
	rj := &mockRejoiner{err: errors.New("nmcli: device not found")}
	c, _ := newTestCoordinator(rj, &mockResetter{})

	ctx := context.Background()
	c.HandleDeviceFailure(ctx, "unreachable")
	c.HandleDeviceFailure(ctx, "unreachable")

	if rj.calls != 1 {
		t.Errorf("rejoin called %d times, want 1", rj.calls)
	}
	if c.LastError() == "" {
		t.Error("last error not recorded")
	}
}

func TestBackoffResetOnlyOnNewAssociation(t *testing.T) {
	rj := &mockRejoiner{joined: false}
	rs := &mockResetter{}
	c, now := newTestCoordinator(rj, rs)

	ctx := context.Background()

	// Already associated: the gateway itself is down, leave backoff alone.
	c.HandleDeviceFailure(ctx, "unreachable")
	if rs.resets != 0 {
		t.Errorf("backoff reset on no-op rejoin")
	}
	if c.LastError() != "" {
		t.Errorf("no-op rejoin recorded error: %q", c.LastError())
	}

	// Fresh association: the network path was the problem, clear backoff.
	*now = now.Add(301 * time.Second)
	rj.joined = true
	c.HandleDeviceFailure(ctx, "unreachable")
	if rs.resets != 1 {
		t.Errorf("backoff resets = %d after new association, want 1", rs.resets)
	}
	if c.LastSuccess().IsZero() {
		t.Error("last success not recorded")
	}
}

func TestDisabledCoordinatorDoesNothing(t *testing.T) {
	rj := &mockRejoiner{joined: true}
	c := New(Config{Enabled: false}, rj, &mockResetter{}, testLogger())

	c.HandleDeviceFailure(context.Background(), "unreachable")
	c.InitialJoin(context.Background())

	if rj.calls != 0 {
		t.Errorf("disabled coordinator called rejoin %d times", rj.calls)
	}
}

func TestInitialJoinDoesNotConsumeWindow(t *testing.T) {
	rj := &mockRejoiner{joined: true}
	c, _ := newTestCoordinator(rj, &mockResetter{})

	ctx := context.Background()
	c.InitialJoin(ctx)
	c.HandleDeviceFailure(ctx, "unreachable")

	// Both the startup join and the first failure-triggered attempt run.
	if rj.calls != 2 {
		t.Errorf("rejoin called %d times, want 2", rj.calls)
	}
}
