package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/velora-io/dispatch/internal/core/config"
	"github.com/velora-io/dispatch/internal/core/domain"
	redisclient "github.com/velora-io/dispatch/internal/infra/redis"
)

var (
	gatewayID     string
	gatewayStatus string
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Manage gateway health overrides",
}

var gatewayForceCmd = &cobra.Command{
	Use:   "force",
	Short: "Force a gateway health status via the control channel",
	Run:   runGatewayForce,
}

var gatewayClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear a manual gateway health override",
	Run:   runGatewayClear,
}

func init() {
	for _, c := range []*cobra.Command{gatewayForceCmd, gatewayClearCmd} {
		c.Flags().StringVar(&gatewayID, "gateway", "", "gateway id (required)")
		_ = c.MarkFlagRequired("gateway")
	}
	gatewayForceCmd.Flags().StringVar(&gatewayStatus, "status", "", "status to force: online, degraded or offline (required)")
	_ = gatewayForceCmd.MarkFlagRequired("status")

	gatewayCmd.AddCommand(gatewayForceCmd)
	gatewayCmd.AddCommand(gatewayClearCmd)
	rootCmd.AddCommand(gatewayCmd)
}

func runGatewayForce(cmd *cobra.Command, args []string) {
	status := domain.GatewayStatus(gatewayStatus)
	switch status {
	case domain.StatusOnline, domain.StatusDegraded, domain.StatusOffline:
	default:
		slog.Error("Unknown status", "status", gatewayStatus)
		os.Exit(1)
	}

	publishControl(redisclient.ControlCommand{
		GatewayID: domain.GatewayID(gatewayID),
		Action:    "force",
		Status:    status,
	})
	fmt.Printf("forced %s to %s\n", gatewayID, status)
}

func runGatewayClear(cmd *cobra.Command, args []string) {
	publishControl(redisclient.ControlCommand{
		GatewayID: domain.GatewayID(gatewayID),
		Action:    "clear",
	})
	fmt.Printf("cleared override for %s\n", gatewayID)
}

func publishControl(command redisclient.ControlCommand) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Redis.URL == "" {
		slog.Error("No redis configured, control channel unavailable")
		os.Exit(1)
	}

	client, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer func() { _ = client.Close() }()

	if err := client.PublishControl(context.Background(), command); err != nil {
		slog.Error("Failed to publish control command", "error", err)
		os.Exit(1)
	}
}
