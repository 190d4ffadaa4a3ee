package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/vietddude/powermon/internal/control"
	"github.com/vietddude/powermon/internal/core/config"
)

// The gateway address points at a closed local port, so every poll cycle
// fails fast with a connection error. That is enough to exercise startup,
// the background loop, and a bounded shutdown.
func TestGracefulShutdown(t *testing.T) {
	cfg := &config.AppConfig{}
	cfg.Server.Port = 18900
	cfg.Gateway.Host = "127.0.0.1:1"
	cfg.Gateway.Password = "test"
	cfg.Gateway.Timeout = time.Second
	cfg.Poll.Interval = 200 * time.Millisecond

	app, err := control.NewService(cfg)
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.Start(ctx); err != nil {
		t.Fatalf("Failed to start service: %v", err)
	}

	// Let a few failing cycles land.
	time.Sleep(500 * time.Millisecond)

	if app.Scheduler().LatestOutcome() == nil {
		t.Error("no outcome committed while running")
	}
	report := app.Scheduler().HealthReport()
	if report.Overall {
		t.Error("health reported OK with no gateway listening")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()

	done := make(chan error, 1)
	go func() { done <- app.Stop(stopCtx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Stop failed: %v", err)
		}
	case <-time.After(6 * time.Second):
		t.Fatal("shutdown did not complete in time")
	}
}
