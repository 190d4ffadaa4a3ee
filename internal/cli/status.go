package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/vietddude/powermon/internal/core/config"
	"github.com/vietddude/powermon/internal/infra/storage/postgres"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent poll outcomes from the archive",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "number of outcomes to show")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Database.URL == "" {
		slog.Error("No database configured, nothing to show")
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	outcomes, err := postgres.NewOutcomeRepo(db).Recent(ctx, statusLimit)
	if err != nil {
		slog.Error("Failed to query poll outcomes", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "TIME\tRESULT\tDURATION\tBATTERY\tERROR")

	for _, o := range outcomes {
		result := "ok"
		errMsg := ""
		if !o.Success() {
			result = "failed"
			errMsg = o.DeviceError
		}
		battery := "-"
		if o.Snapshot != nil && o.Snapshot.BatteryPercent != nil {
			battery = fmt.Sprintf("%.1f%%", *o.Snapshot.BatteryPercent)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			o.Timestamp.Format(time.RFC3339), result, o.Duration.Round(time.Millisecond), battery, errMsg)
	}
	_ = w.Flush()
}
