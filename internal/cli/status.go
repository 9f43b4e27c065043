package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/velora-io/dispatch/internal/core/config"
	"github.com/velora-io/dispatch/internal/core/domain"
	"github.com/velora-io/dispatch/internal/dispatch/speed"
	"github.com/velora-io/dispatch/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show speed settings for all configured gateways and tiers",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	var source speed.PlanSource
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() {
			_ = db.Close()
		}()
		source = postgres.NewSpeedRepo(db)
	}

	mgr := speed.NewManager(source, slog.Default())

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "GATEWAY\tTIER\tCONCURRENCY\tDELAY\tCUSTOM")

	for _, gw := range cfg.Gateways {
		for _, tier := range domain.AllTiers {
			settings := mgr.SpeedSettings(ctx, gw.ID, tier)
			_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%v\n",
				gw.ID, tier, settings.Concurrency, settings.Delay, settings.IsCustom)
		}
	}
	_ = w.Flush()
}
