package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/velora-io/dispatch/internal/core/config"
	"github.com/velora-io/dispatch/internal/core/domain"
	"github.com/velora-io/dispatch/internal/dispatch/executor"
	"github.com/velora-io/dispatch/internal/dispatch/speed"
	redisclient "github.com/velora-io/dispatch/internal/infra/redis"
	"github.com/velora-io/dispatch/internal/infra/storage/postgres"
)

var (
	speedGateway     string
	speedTier        string
	speedConcurrency int
	speedDelayMs     int64
)

var speedCmd = &cobra.Command{
	Use:   "speed",
	Short: "Manage custom speed settings",
}

var speedSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Store a custom (concurrency, delay) plan for a gateway and tier",
	Run:   runSpeedSet,
}

var speedClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove a custom plan, reverting to the tier default",
	Run:   runSpeedClear,
}

func init() {
	for _, c := range []*cobra.Command{speedSetCmd, speedClearCmd} {
		c.Flags().StringVar(&speedGateway, "gateway", "", "gateway id (required)")
		c.Flags().StringVar(&speedTier, "tier", "", "tier (required)")
		_ = c.MarkFlagRequired("gateway")
		_ = c.MarkFlagRequired("tier")
	}
	speedSetCmd.Flags().IntVar(&speedConcurrency, "concurrency", 0, "max concurrent tasks (1-50)")
	speedSetCmd.Flags().Int64Var(&speedDelayMs, "delay-ms", 0, "pause after each completion in ms (100-10000)")

	speedCmd.AddCommand(speedSetCmd)
	speedCmd.AddCommand(speedClearCmd)
	rootCmd.AddCommand(speedCmd)
}

func runSpeedSet(cmd *cobra.Command, args []string) {
	tier := domain.Tier(speedTier)
	if !tier.Valid() {
		slog.Error("Unknown tier", "tier", speedTier)
		os.Exit(1)
	}

	repo, cleanup := openSpeedRepo()
	defer cleanup()

	ctx := context.Background()
	plan := speed.Clamp(executor.Plan{
		Concurrency: speedConcurrency,
		Delay:       time.Duration(speedDelayMs) * time.Millisecond,
	})

	if err := repo.SavePlan(ctx, domain.GatewayID(speedGateway), tier, plan); err != nil {
		slog.Error("Failed to save plan", "error", err)
		os.Exit(1)
	}
	invalidatePlanCache(ctx, domain.GatewayID(speedGateway), tier)

	fmt.Printf("saved plan for %s/%s: concurrency=%d delay=%s\n",
		speedGateway, tier, plan.Concurrency, plan.Delay)
}

func runSpeedClear(cmd *cobra.Command, args []string) {
	tier := domain.Tier(speedTier)
	if !tier.Valid() {
		slog.Error("Unknown tier", "tier", speedTier)
		os.Exit(1)
	}

	repo, cleanup := openSpeedRepo()
	defer cleanup()

	ctx := context.Background()
	if err := repo.DeletePlan(ctx, domain.GatewayID(speedGateway), tier); err != nil {
		slog.Error("Failed to delete plan", "error", err)
		os.Exit(1)
	}
	invalidatePlanCache(ctx, domain.GatewayID(speedGateway), tier)

	fmt.Printf("cleared custom plan for %s/%s\n", speedGateway, tier)
}

func openSpeedRepo() (*postgres.SpeedRepo, func()) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Database.URL == "" {
		slog.Error("No database configured")
		os.Exit(1)
	}

	db, err := postgres.NewDB(context.Background(), cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	return postgres.NewSpeedRepo(db), func() { _ = db.Close() }
}

func invalidatePlanCache(ctx context.Context, gatewayID domain.GatewayID, tier domain.Tier) {
	cfg, err := config.Load(cfgPath)
	if err != nil || cfg.Redis.URL == "" {
		return
	}
	client, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("Failed to connect to redis, cache not invalidated", "error", err)
		return
	}
	defer func() { _ = client.Close() }()

	cache := redisclient.NewPlanCache(client, nil, 0, slog.Default())
	if err := cache.Invalidate(ctx, gatewayID, tier); err != nil {
		slog.Warn("Failed to invalidate plan cache", "error", err)
	}
}
