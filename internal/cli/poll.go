package cli

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/vietddude/powermon/internal/core/config"
	"github.com/vietddude/powermon/internal/gateway"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Fetch one snapshot from the gateway and print it as JSON",
	Run:   runPoll,
}

func init() {
	rootCmd.AddCommand(pollCmd)
}

func runPoll(cmd *cobra.Command, args []string) {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogging(cfg)

	log := slog.Default()
	dialer := gateway.NewClient(gateway.ClientConfig{
		Host:      cfg.Gateway.Host,
		Password:  cfg.Gateway.Password,
		Email:     cfg.Gateway.Email,
		Timeout:   cfg.Gateway.Timeout,
		VerifyTLS: cfg.Gateway.VerifyTLS,
	}, log)
	sessions := gateway.NewSessionManager(dialer, gateway.SessionConfig{
		BackoffBase: cfg.Gateway.BackoffBase,
		BackoffCap:  cfg.Gateway.BackoffCap,
	}, log)
	defer sessions.Close()

	fetcher := gateway.NewFetcher(sessions, cfg.Gateway.MaxAuthFailures, log)

	snap, err := fetcher.Fetch(context.Background())
	if err != nil {
		slog.Error("Failed to fetch snapshot", "error", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(snap)
}
