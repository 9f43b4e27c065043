package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/velora-io/dispatch/internal/core/domain"
)

// BatchRepo persists batch summaries for observability. The scheduling
// path never reads this table.
type BatchRepo struct {
	db *DB
}

// NewBatchRepo creates a new PostgreSQL batch summary repository.
func NewBatchRepo(db *DB) *BatchRepo {
	return &BatchRepo{db: db}
}

// SaveBatchSummary inserts one settled batch record.
func (r *BatchRepo) SaveBatchSummary(ctx context.Context, s domain.BatchSummary) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO batches
		 (id, gateway_id, tier, total_tasks, succeeded, failed, canceled, duration_ms, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, string(s.GatewayID), string(s.Tier),
		s.TotalTasks, s.Succeeded, s.Failed, s.Canceled,
		s.Duration.Milliseconds(), s.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save batch summary: %w", err)
	}
	return nil
}

type batchRow struct {
	ID         string    `db:"id"`
	GatewayID  string    `db:"gateway_id"`
	Tier       string    `db:"tier"`
	TotalTasks int       `db:"total_tasks"`
	Succeeded  int       `db:"succeeded"`
	Failed     int       `db:"failed"`
	Canceled   bool      `db:"canceled"`
	DurationMs int64     `db:"duration_ms"`
	StartedAt  time.Time `db:"started_at"`
}

// RecentBatches returns the most recent batch summaries for a gateway.
func (r *BatchRepo) RecentBatches(
	ctx context.Context,
	gatewayID domain.GatewayID,
	limit int,
) ([]domain.BatchSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows []batchRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT id, gateway_id, tier, total_tasks, succeeded, failed, canceled, duration_ms, started_at
		 FROM batches
		 WHERE gateway_id = $1
		 ORDER BY started_at DESC
		 LIMIT $2`,
		string(gatewayID), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}

	summaries := make([]domain.BatchSummary, 0, len(rows))
	for _, row := range rows {
		summaries = append(summaries, domain.BatchSummary{
			ID:         row.ID,
			GatewayID:  domain.GatewayID(row.GatewayID),
			Tier:       domain.Tier(row.Tier),
			TotalTasks: row.TotalTasks,
			Succeeded:  row.Succeeded,
			Failed:     row.Failed,
			Canceled:   row.Canceled,
			Duration:   time.Duration(row.DurationMs) * time.Millisecond,
			StartedAt:  row.StartedAt,
		})
	}
	return summaries, nil
}
