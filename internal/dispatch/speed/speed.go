// Package speed resolves the effective execution plan for a
// (gateway, tier) pair and builds executors configured accordingly.
package speed

import (
	"context"
	"log/slog"
	"time"

	"github.com/velora-io/dispatch/internal/core/domain"
	"github.com/velora-io/dispatch/internal/dispatch/executor"
)

// Plan bounds for the configuration domain. Plans read from the source
// are clamped into these before use.
const (
	MinConcurrency = 1
	MaxConcurrency = 50
	MinDelay       = 100 * time.Millisecond
	MaxDelay       = 10 * time.Second
)

// comparisonTaskDuration is the assumed average task duration used for
// informational throughput comparisons. Never used for scheduling.
const comparisonTaskDuration = 3 * time.Second

// PlanSource looks up a stored plan for a (gateway, tier) pair. The
// second return reports whether a custom plan exists; implementations
// are expected to cache and to fail soft.
type PlanSource interface {
	EffectivePlan(ctx context.Context, gatewayID domain.GatewayID, tier domain.Tier) (executor.Plan, bool, error)
}

// Settings is a display view of the plan applying to a (gateway, tier).
type Settings struct {
	GatewayID   domain.GatewayID `json:"gateway_id"`
	Tier        domain.Tier      `json:"tier"`
	Concurrency int              `json:"concurrency"`
	Delay       time.Duration    `json:"delay_ms"`
	IsCustom    bool             `json:"is_custom"`
}

// TierEstimate is an informational throughput estimate for one tier.
type TierEstimate struct {
	Tier        domain.Tier   `json:"tier"`
	Concurrency int           `json:"concurrency"`
	Delay       time.Duration `json:"delay_ms"`
	PerSecond   float64       `json:"tasks_per_second"`
	ETAFor100   time.Duration `json:"eta_for_100"`
}

// Manager translates (gateway, tier) into executors. Stateless per call;
// it holds only the plan source and built-in defaults.
type Manager struct {
	source   PlanSource
	defaults map[domain.Tier]executor.Plan
	log      *slog.Logger
}

// NewManager creates a speed manager. source may be nil, in which case
// every lookup uses the built-in defaults.
func NewManager(source PlanSource, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		source: source,
		defaults: map[domain.Tier]executor.Plan{
			domain.TierStandard: {Concurrency: 3, Delay: 2 * time.Second},
			domain.TierPremium:  {Concurrency: 5, Delay: 1 * time.Second},
			domain.TierElite:    {Concurrency: 10, Delay: 500 * time.Millisecond},
		},
		log: log,
	}
}

// CreateExecutor resolves the effective plan and returns an executor
// built from it. It never fails: a plan-source error falls back to the
// tier default so a configuration outage cannot block batch start.
func (m *Manager) CreateExecutor(ctx context.Context, gatewayID domain.GatewayID, tier domain.Tier) *executor.Executor {
	plan, _ := m.resolve(ctx, gatewayID, tier)
	return executor.New(plan, m.log)
}

// SpeedSettings returns the plan applying to (gateway, tier) plus
// whether it is a stored custom plan. For display only.
func (m *Manager) SpeedSettings(ctx context.Context, gatewayID domain.GatewayID, tier domain.Tier) Settings {
	plan, custom := m.resolve(ctx, gatewayID, tier)
	return Settings{
		GatewayID:   gatewayID,
		Tier:        tier,
		Concurrency: plan.Concurrency,
		Delay:       plan.Delay,
		IsCustom:    custom,
	}
}

// Comparison estimates per-tier throughput and the ETA for a 100-item
// batch against the given gateway, assuming a fixed average task
// duration. Informational only, never used for scheduling decisions.
func (m *Manager) Comparison(ctx context.Context, gatewayID domain.GatewayID) []TierEstimate {
	estimates := make([]TierEstimate, 0, len(domain.AllTiers))
	for _, tier := range domain.AllTiers {
		plan, _ := m.resolve(ctx, gatewayID, tier)

		// Each slot settles one task roughly every taskDuration+delay,
		// and there are Concurrency slots.
		perSlot := comparisonTaskDuration + plan.Delay
		perSecond := float64(plan.Concurrency) / perSlot.Seconds()

		estimates = append(estimates, TierEstimate{
			Tier:        tier,
			Concurrency: plan.Concurrency,
			Delay:       plan.Delay,
			PerSecond:   perSecond,
			ETAFor100:   time.Duration(100 / perSecond * float64(time.Second)),
		})
	}
	return estimates
}

// DefaultPlan returns the built-in plan for a tier. Unknown tiers get
// the standard plan.
func (m *Manager) DefaultPlan(tier domain.Tier) executor.Plan {
	if plan, ok := m.defaults[tier]; ok {
		return plan
	}
	return m.defaults[domain.TierStandard]
}

func (m *Manager) resolve(ctx context.Context, gatewayID domain.GatewayID, tier domain.Tier) (executor.Plan, bool) {
	if m.source == nil {
		return m.DefaultPlan(tier), false
	}

	plan, custom, err := m.source.EffectivePlan(ctx, gatewayID, tier)
	if err != nil {
		m.log.Warn("plan lookup failed, using tier default",
			"gateway", gatewayID, "tier", tier, "error", err)
		return m.DefaultPlan(tier), false
	}
	if !custom {
		return m.DefaultPlan(tier), false
	}
	return Clamp(plan), true
}

// Clamp forces a plan into the configuration bounds.
func Clamp(plan executor.Plan) executor.Plan {
	if plan.Concurrency < MinConcurrency {
		plan.Concurrency = MinConcurrency
	}
	if plan.Concurrency > MaxConcurrency {
		plan.Concurrency = MaxConcurrency
	}
	if plan.Delay < MinDelay {
		plan.Delay = MinDelay
	}
	if plan.Delay > MaxDelay {
		plan.Delay = MaxDelay
	}
	return plan
}
