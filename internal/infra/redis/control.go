package redis

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/velora-io/dispatch/internal/core/domain"
)

// controlChannel carries operator commands for manual gateway health
// overrides.
const controlChannel = "dispatch:gateway_control"

// ControlCommand is one operator action published on the control channel.
type ControlCommand struct {
	GatewayID domain.GatewayID     `json:"gateway_id"`
	Action    string               `json:"action"` // "force" or "clear"
	Status    domain.GatewayStatus `json:"status,omitempty"`
}

// HealthOverrider is the subset of the health manager the control
// subscriber drives.
type HealthOverrider interface {
	ForceStatus(gatewayID domain.GatewayID, status domain.GatewayStatus)
	ClearOverride(gatewayID domain.GatewayID)
}

// PublishControl publishes an operator command to the control channel.
func (c *Client) PublishControl(ctx context.Context, cmd ControlCommand) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return c.rdb.Publish(ctx, controlChannel, payload).Err()
}

// SubscribeControl consumes operator commands and applies them to the
// health manager until ctx is canceled. Malformed messages are logged
// and skipped.
func (c *Client) SubscribeControl(ctx context.Context, health HealthOverrider, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}

	sub := c.rdb.Subscribe(ctx, controlChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var cmd ControlCommand
			if err := json.Unmarshal([]byte(msg.Payload), &cmd); err != nil {
				log.Warn("invalid control command", "payload", msg.Payload, "error", err)
				continue
			}
			switch cmd.Action {
			case "force":
				health.ForceStatus(cmd.GatewayID, cmd.Status)
			case "clear":
				health.ClearOverride(cmd.GatewayID)
			default:
				log.Warn("unknown control action", "action", cmd.Action)
			}
		}
	}
}
