// Package alert delivers gateway health transition notifications to
// operators. Delivery is best-effort; the health manager never depends
// on it succeeding.
package alert

import (
	"context"
	"log/slog"

	"github.com/velora-io/dispatch/internal/dispatch/gatehealth"
)

// LogNotifier writes health events to the structured log. It is the
// default notifier when no webhook is configured.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) HealthAlert(_ context.Context, a gatehealth.Alert) error {
	n.log.Warn("gateway health alert",
		"gateway", a.GatewayID,
		"status", a.Status,
		"success_rate", a.SuccessRate,
		"consecutive_failures", a.ConsecutiveFailures,
		"last_error", a.LastError,
	)
	return nil
}

func (n *LogNotifier) HealthRecovery(_ context.Context, r gatehealth.Recovery) error {
	n.log.Info("gateway health recovery",
		"gateway", r.GatewayID,
		"status", r.Status,
	)
	return nil
}
