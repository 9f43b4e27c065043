package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/velora-io/dispatch/internal/core/domain"
	"github.com/velora-io/dispatch/internal/dispatch/executor"
)

// SpeedRepo stores per-(gateway, tier) execution plans. Reads are hot
// path adjacent (behind a cache); writes are administrative.
type SpeedRepo struct {
	db *DB
}

// NewSpeedRepo creates a new PostgreSQL speed settings repository.
func NewSpeedRepo(db *DB) *SpeedRepo {
	return &SpeedRepo{db: db}
}

type speedRow struct {
	GatewayID   string `db:"gateway_id"`
	Tier        string `db:"tier"`
	Concurrency int    `db:"concurrency"`
	DelayMs     int64  `db:"delay_ms"`
}

// EffectivePlan returns the stored plan for (gateway, tier). The second
// return is false when no custom plan exists.
func (r *SpeedRepo) EffectivePlan(
	ctx context.Context,
	gatewayID domain.GatewayID,
	tier domain.Tier,
) (executor.Plan, bool, error) {
	var row speedRow
	err := r.db.GetContext(ctx, &row,
		`SELECT gateway_id, tier, concurrency, delay_ms
		 FROM speed_settings
		 WHERE gateway_id = $1 AND tier = $2`,
		string(gatewayID), string(tier),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return executor.Plan{}, false, nil
	}
	if err != nil {
		return executor.Plan{}, false, fmt.Errorf("failed to get speed settings: %w", err)
	}

	return executor.Plan{
		Concurrency: row.Concurrency,
		Delay:       time.Duration(row.DelayMs) * time.Millisecond,
	}, true, nil
}

// SavePlan upserts a custom plan for (gateway, tier).
func (r *SpeedRepo) SavePlan(
	ctx context.Context,
	gatewayID domain.GatewayID,
	tier domain.Tier,
	plan executor.Plan,
) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO speed_settings (gateway_id, tier, concurrency, delay_ms, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (gateway_id, tier)
		 DO UPDATE SET concurrency = $3, delay_ms = $4, updated_at = NOW()`,
		string(gatewayID), string(tier), plan.Concurrency, plan.Delay.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to save speed settings: %w", err)
	}
	return nil
}

// DeletePlan removes a custom plan, reverting (gateway, tier) to the
// built-in tier default.
func (r *SpeedRepo) DeletePlan(ctx context.Context, gatewayID domain.GatewayID, tier domain.Tier) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM speed_settings WHERE gateway_id = $1 AND tier = $2`,
		string(gatewayID), string(tier),
	)
	if err != nil {
		return fmt.Errorf("failed to delete speed settings: %w", err)
	}
	return nil
}
