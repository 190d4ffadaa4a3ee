package recovery

import (
	"context"
	"strings"
	"testing"
	"time"
)

func newTestRejoiner(run func(ctx context.Context, args ...string) (string, error)) *NMCLIRejoiner {
	r := NewNMCLIRejoiner(NMCLIConfig{
		SSID:        "TEG-123",
		Password:    "pw",
		JoinTimeout: 3 * time.Second,
	}, testLogger())
	r.run = run
	return r
}

func TestRejoinAlreadyAssociated(t *testing.T) {
	var connects int
	r := newTestRejoiner(func(ctx context.Context, args ...string) (string, error) {
		if args[0] == "-t" {
			return "no:HomeWifi\nyes:TEG-123\n", nil
		}
		connects++
		return "", nil
	})

	joined, err := r.Rejoin(context.Background())
	if err != nil {
		t.Fatalf("Rejoin: %v", err)
	}
	if joined {
		t.Error("reported new association while already connected")
	}
	if connects != 0 {
		t.Errorf("issued %d connect commands, want 0", connects)
	}
}

func TestRejoinConnectsAndWaits(t *testing.T) {
	probes := 0
	var connectArgs []string
	r := newTestRejoiner(func(ctx context.Context, args ...string) (string, error) {
		if args[0] == "-t" {
			probes++
			// Not associated before the connect, associated right after.
			if probes >= 2 {
				return "yes:TEG-123\n", nil
			}
			return "no:TEG-123\n", nil
		}
		connectArgs = args
		return "", nil
	})

	joined, err := r.Rejoin(context.Background())
	if err != nil {
		t.Fatalf("Rejoin: %v", err)
	}
	if !joined {
		t.Error("fresh association not reported")
	}

	cmd := strings.Join(connectArgs, " ")
	if !strings.HasPrefix(cmd, "device wifi connect TEG-123") {
		t.Errorf("connect command = %q", cmd)
	}
	if !strings.Contains(cmd, "password pw") {
		t.Errorf("password missing from %q", cmd)
	}
}

func TestRejoinRequiresSSID(t *testing.T) {
	r := NewNMCLIRejoiner(NMCLIConfig{}, testLogger())
	if _, err := r.Rejoin(context.Background()); err == nil {
		t.Fatal("expected error without SSID")
	}
}
