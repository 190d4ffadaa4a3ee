package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// NMCLIConfig holds the Wi-Fi join settings for NetworkManager hosts.
type NMCLIConfig struct {
	SSID        string
	Password    string
	Interface   string
	JoinTimeout time.Duration // default 45s
}

// NMCLIRejoiner implements Rejoiner by driving nmcli. It detects an existing
// association first, so Rejoin is idempotent when the link is already up.
type NMCLIRejoiner struct {
	cfg NMCLIConfig
	log *slog.Logger

	// run executes an nmcli invocation; replaceable in tests.
	run func(ctx context.Context, args ...string) (string, error)
}

func NewNMCLIRejoiner(cfg NMCLIConfig, log *slog.Logger) *NMCLIRejoiner {
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = 45 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &NMCLIRejoiner{cfg: cfg, log: log, run: runNMCLI}
}

func runNMCLI(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "nmcli", args...).CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			return "", fmt.Errorf("nmcli %s: %w", strings.Join(args, " "), err)
		}
		return "", fmt.Errorf("nmcli %s: %s", strings.Join(args, " "), msg)
	}
	return string(out), nil
}

// Rejoin joins the configured SSID. Returns (false, nil) when the interface
// is already associated, (true, nil) after a fresh association.
func (r *NMCLIRejoiner) Rejoin(ctx context.Context) (bool, error) {
	if r.cfg.SSID == "" {
		return false, fmt.Errorf("no Wi-Fi SSID configured")
	}

	active, err := r.isAssociated(ctx)
	if err != nil {
		return false, err
	}
	if active {
		r.log.Debug("already associated with gateway Wi-Fi", "ssid", r.cfg.SSID)
		return false, nil
	}

	args := []string{"device", "wifi", "connect", r.cfg.SSID}
	if r.cfg.Password != "" {
		args = append(args, "password", r.cfg.Password)
	}
	if r.cfg.Interface != "" {
		args = append(args, "ifname", r.cfg.Interface)
	}
	if _, err := r.run(ctx, args...); err != nil {
		return false, fmt.Errorf("failed to connect to %q: %w", r.cfg.SSID, err)
	}

	deadline := time.Now().Add(r.cfg.JoinTimeout)
	for time.Now().Before(deadline) {
		active, err := r.isAssociated(ctx)
		if err != nil {
			return false, err
		}
		if active {
			r.log.Info("joined gateway Wi-Fi", "ssid", r.cfg.SSID)
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return false, fmt.Errorf("timed out after %s waiting to join %q", r.cfg.JoinTimeout, r.cfg.SSID)
}

func (r *NMCLIRejoiner) isAssociated(ctx context.Context) (bool, error) {
	out, err := r.run(ctx, "-t", "-f", "ACTIVE,SSID", "device", "wifi")
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		if parts[0] == "yes" && parts[1] == r.cfg.SSID {
			return true, nil
		}
	}
	return false, nil
}
