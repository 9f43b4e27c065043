// Package memory provides an in-memory speed settings store, used when
// no database is configured and in tests.
package memory

import (
	"context"
	"sync"

	"github.com/velora-io/dispatch/internal/core/domain"
	"github.com/velora-io/dispatch/internal/dispatch/executor"
)

type planKey struct {
	gateway domain.GatewayID
	tier    domain.Tier
}

// SpeedStore is an in-memory implementation of speed.PlanSource with
// administrative writes. Safe for concurrent use.
type SpeedStore struct {
	mu    sync.RWMutex
	plans map[planKey]executor.Plan
}

// NewSpeedStore creates an empty in-memory speed store.
func NewSpeedStore() *SpeedStore {
	return &SpeedStore{plans: make(map[planKey]executor.Plan)}
}

// EffectivePlan implements speed.PlanSource.
func (s *SpeedStore) EffectivePlan(
	_ context.Context,
	gatewayID domain.GatewayID,
	tier domain.Tier,
) (executor.Plan, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plan, ok := s.plans[planKey{gateway: gatewayID, tier: tier}]
	return plan, ok, nil
}

// SavePlan stores a custom plan for (gateway, tier).
func (s *SpeedStore) SavePlan(
	_ context.Context,
	gatewayID domain.GatewayID,
	tier domain.Tier,
	plan executor.Plan,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.plans[planKey{gateway: gatewayID, tier: tier}] = plan
	return nil
}

// DeletePlan removes a custom plan.
func (s *SpeedStore) DeletePlan(
	_ context.Context,
	gatewayID domain.GatewayID,
	tier domain.Tier,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.plans, planKey{gateway: gatewayID, tier: tier})
	return nil
}
