package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/velora-io/dispatch/internal/control"
	"github.com/velora-io/dispatch/internal/core/config"
	"github.com/velora-io/dispatch/internal/core/domain"
)

func TestGracefulShutdown(t *testing.T) {
	// No database or redis: the dispatcher runs on built-in tier
	// defaults with only the ops server started.
	cfg := control.Config{
		Port: 18099,
		Gateways: []config.GatewayConfig{
			{ID: domain.GatewayID("stub-gw"), Name: "Stub"},
		},
	}

	app, err := control.NewDispatcher(cfg)
	if err != nil {
		t.Fatalf("Failed to create dispatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Let the ops server come up
	time.Sleep(200 * time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()

	if err := app.Stop(stopCtx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}
