package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/velora-io/dispatch/internal/core/domain"
	"github.com/velora-io/dispatch/internal/dispatch/executor"
	"github.com/velora-io/dispatch/internal/dispatch/speed"
)

// PlanCache decorates a speed.PlanSource with a Redis cache. Both the
// cache and the underlying source fail soft: a Redis outage degrades to
// direct lookups, a source outage surfaces to the caller which falls
// back to tier defaults.
type PlanCache struct {
	client *Client
	source speed.PlanSource
	ttl    time.Duration
	log    *slog.Logger
}

type cachedPlan struct {
	Concurrency int   `json:"concurrency"`
	DelayMs     int64 `json:"delay_ms"`
	Custom      bool  `json:"custom"`
}

// NewPlanCache wraps source with caching. TTL <= 0 defaults to 60s.
func NewPlanCache(client *Client, source speed.PlanSource, ttl time.Duration, log *slog.Logger) *PlanCache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &PlanCache{client: client, source: source, ttl: ttl, log: log}
}

func planKey(gatewayID domain.GatewayID, tier domain.Tier) string {
	return fmt.Sprintf("speed_plan:%s:%s", gatewayID, tier)
}

// EffectivePlan implements speed.PlanSource.
func (pc *PlanCache) EffectivePlan(
	ctx context.Context,
	gatewayID domain.GatewayID,
	tier domain.Tier,
) (executor.Plan, bool, error) {
	key := planKey(gatewayID, tier)

	val, err := pc.client.rdb.Get(ctx, key).Result()
	if err == nil {
		var cached cachedPlan
		if jsonErr := json.Unmarshal([]byte(val), &cached); jsonErr == nil {
			return executor.Plan{
				Concurrency: cached.Concurrency,
				Delay:       time.Duration(cached.DelayMs) * time.Millisecond,
			}, cached.Custom, nil
		}
		// Corrupt entry: drop it and fall through to the source.
		pc.client.rdb.Del(ctx, key)
	} else if err != redis.Nil {
		pc.log.Debug("plan cache read failed", "key", key, "error", err)
	}

	plan, custom, err := pc.source.EffectivePlan(ctx, gatewayID, tier)
	if err != nil {
		return executor.Plan{}, false, err
	}

	payload, marshalErr := json.Marshal(cachedPlan{
		Concurrency: plan.Concurrency,
		DelayMs:     plan.Delay.Milliseconds(),
		Custom:      custom,
	})
	if marshalErr == nil {
		if setErr := pc.client.rdb.Set(ctx, key, payload, pc.ttl).Err(); setErr != nil {
			pc.log.Debug("plan cache write failed", "key", key, "error", setErr)
		}
	}

	return plan, custom, nil
}

// Invalidate removes the cached plan for (gateway, tier), used after an
// administrative write.
func (pc *PlanCache) Invalidate(ctx context.Context, gatewayID domain.GatewayID, tier domain.Tier) error {
	return pc.client.rdb.Del(ctx, planKey(gatewayID, tier)).Err()
}
