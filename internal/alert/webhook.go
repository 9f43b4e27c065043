package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/velora-io/dispatch/internal/dispatch/gatehealth"
)

// WebhookNotifier POSTs health events to an operator-configured URL.
// Transient delivery failures are retried with exponential backoff.
type WebhookNotifier struct {
	url    string
	client *http.Client
	log    *slog.Logger
}

// NewWebhookNotifier creates a webhook-backed notifier.
func NewWebhookNotifier(url string, log *slog.Logger) *WebhookNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
}

type webhookPayload struct {
	Event               string  `json:"event"`
	GatewayID           string  `json:"gateway_id"`
	Status              string  `json:"status"`
	SuccessRate         float64 `json:"success_rate,omitempty"`
	ConsecutiveFailures int     `json:"consecutive_failures,omitempty"`
	LastError           string  `json:"last_error,omitempty"`
}

func (n *WebhookNotifier) HealthAlert(ctx context.Context, a gatehealth.Alert) error {
	return n.deliver(ctx, webhookPayload{
		Event:               "health_alert",
		GatewayID:           a.GatewayID.String(),
		Status:              string(a.Status),
		SuccessRate:         a.SuccessRate,
		ConsecutiveFailures: a.ConsecutiveFailures,
		LastError:           a.LastError,
	})
}

func (n *WebhookNotifier) HealthRecovery(ctx context.Context, r gatehealth.Recovery) error {
	return n.deliver(ctx, webhookPayload{
		Event:     "health_recovery",
		GatewayID: r.GatewayID.String(),
		Status:    string(r.Status),
	})
}

func (n *WebhookNotifier) deliver(ctx context.Context, payload webhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return retry.RetryableError(fmt.Errorf("webhook returned %d", resp.StatusCode))
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("webhook returned %d", resp.StatusCode)
		}
		return nil
	})
}
