// Package orchestrator runs batches end to end: it gates on gateway
// health, builds a tier-appropriate executor, feeds task outcomes back
// into health tracking and hands results upward as they settle.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/velora-io/dispatch/internal/core/domain"
	"github.com/velora-io/dispatch/internal/dispatch/classify"
	"github.com/velora-io/dispatch/internal/dispatch/executor"
	"github.com/velora-io/dispatch/internal/dispatch/gatehealth"
	"github.com/velora-io/dispatch/internal/dispatch/speed"
	"github.com/velora-io/dispatch/internal/metrics"
)

// ErrGatewayUnavailable is returned when the health gate rejects a
// batch before any task is scheduled.
var ErrGatewayUnavailable = errors.New("gateway unavailable")

// Billing is charged once per successful task. Failures in the billing
// path are logged and never affect batch correctness.
type Billing interface {
	Charge(ctx context.Context, batchID string, gatewayID domain.GatewayID, tier domain.Tier) error
}

// SummaryStore persists batch summaries after a run settles.
type SummaryStore interface {
	SaveBatchSummary(ctx context.Context, s domain.BatchSummary) error
}

// BatchRequest describes one caller-initiated run of tasks against one
// gateway under one tier's speed policy.
type BatchRequest struct {
	GatewayID  domain.GatewayID
	Tier       domain.Tier
	Tasks      []executor.Task
	OnResult   func(index int, res executor.Result)
	OnProgress func(completed, total int)
}

// BatchReport is the settled outcome of a batch run.
type BatchReport struct {
	BatchID     string
	Results     []executor.Result
	Succeeded   int
	Failed      int
	Canceled    bool
	Unavailable bool
	Reason      *gatehealth.UnavailabilityReason
	Duration    time.Duration
}

// Service is the batch orchestrator. One per process, dependency
// injected; it holds no implicit global state.
type Service struct {
	health  *gatehealth.Manager
	speed   *speed.Manager
	billing Billing
	store   SummaryStore
	log     *slog.Logger

	mu     sync.Mutex
	active map[string]*executor.Executor
}

// NewService creates a batch orchestrator. billing and store may be nil.
func NewService(health *gatehealth.Manager, spd *speed.Manager, billing Billing, store SummaryStore, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		health:  health,
		speed:   spd,
		billing: billing,
		store:   store,
		log:     log,
		active:  make(map[string]*executor.Executor),
	}
}

// RunBatch executes req. An offline gateway fast-fails with
// ErrGatewayUnavailable and zero tasks invoked. Individual task
// failures are recorded per index and never abort the batch; only
// cancellation ends it early, surfacing executor.ErrCanceled.
func (s *Service) RunBatch(ctx context.Context, req BatchRequest) (BatchReport, error) {
	report := BatchReport{BatchID: uuid.NewString()}

	if len(req.Tasks) == 0 {
		report.Results = []executor.Result{}
		return report, nil
	}

	if !s.health.IsAvailable(req.GatewayID) {
		reason := s.health.UnavailabilityReason(req.GatewayID)
		report.Unavailable = true
		report.Reason = &reason
		s.log.Warn("batch rejected", "batch", report.BatchID, "reason", reason.Message)
		metrics.BatchesTotal.WithLabelValues(req.GatewayID.String(), req.Tier.String(), "unavailable").Inc()
		return report, ErrGatewayUnavailable
	}

	exec := s.speed.CreateExecutor(ctx, req.GatewayID, req.Tier)
	s.register(report.BatchID, exec)
	defer s.unregister(report.BatchID)

	plan := exec.Plan()
	s.log.Info("batch started",
		"batch", report.BatchID,
		"gateway", req.GatewayID,
		"tier", req.Tier,
		"tasks", len(req.Tasks),
		"concurrency", plan.Concurrency,
		"delay", plan.Delay,
	)

	start := time.Now()
	results, runErr := exec.Run(ctx, req.Tasks, executor.Callbacks{
		OnResult: func(index int, res executor.Result) {
			s.recordOutcome(ctx, report.BatchID, req, res)
			if req.OnResult != nil {
				req.OnResult(index, res)
			}
		},
		OnProgress: req.OnProgress,
	})
	report.Duration = time.Since(start)
	report.Results = results
	report.Canceled = errors.Is(runErr, executor.ErrCanceled)

	for _, res := range results {
		if res.Success {
			report.Succeeded++
		} else if res.Err != nil {
			report.Failed++
		}
	}

	outcome := "completed"
	if report.Canceled {
		outcome = "canceled"
	}
	metrics.BatchesTotal.WithLabelValues(req.GatewayID.String(), req.Tier.String(), outcome).Inc()
	s.log.Info("batch settled",
		"batch", report.BatchID,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"canceled", report.Canceled,
		"duration", report.Duration,
	)

	s.saveSummary(req, report, start)
	return report, runErr
}

// CancelBatch requests cooperative cancellation of a running batch.
// Unknown or already-settled batch IDs are a no-op.
func (s *Service) CancelBatch(batchID string) bool {
	s.mu.Lock()
	exec, ok := s.active[batchID]
	s.mu.Unlock()
	if ok {
		exec.Cancel()
	}
	return ok
}

// BatchStats returns the live stats of a running batch.
func (s *Service) BatchStats(batchID string) (executor.Stats, bool) {
	s.mu.Lock()
	exec, ok := s.active[batchID]
	s.mu.Unlock()
	if !ok {
		return executor.Stats{}, false
	}
	return exec.Stats(), true
}

func (s *Service) recordOutcome(ctx context.Context, batchID string, req BatchRequest, res executor.Result) {
	if res.Success {
		s.health.RecordSuccess(req.GatewayID, res.Latency)
		metrics.TasksTotal.WithLabelValues(req.GatewayID.String(), "success").Inc()
		metrics.TaskLatency.WithLabelValues(req.GatewayID.String()).Observe(res.Latency.Seconds())
		s.charge(ctx, batchID, req)
		return
	}

	category := classify.Classify(res.Err)
	s.health.RecordFailure(req.GatewayID, res.Err.Error(), category)
	metrics.TasksTotal.WithLabelValues(req.GatewayID.String(), "failure").Inc()
}

func (s *Service) charge(ctx context.Context, batchID string, req BatchRequest) {
	if s.billing == nil {
		return
	}
	if err := s.billing.Charge(ctx, batchID, req.GatewayID, req.Tier); err != nil {
		s.log.Error("billing charge failed", "batch", batchID, "error", err)
	}
}

func (s *Service) saveSummary(req BatchRequest, report BatchReport, start time.Time) {
	if s.store == nil {
		return
	}
	summary := domain.BatchSummary{
		ID:         report.BatchID,
		GatewayID:  req.GatewayID,
		Tier:       req.Tier,
		TotalTasks: len(req.Tasks),
		Succeeded:  report.Succeeded,
		Failed:     report.Failed,
		Canceled:   report.Canceled,
		Duration:   report.Duration,
		StartedAt:  start,
	}
	// Persist outside the request context so cancellation does not lose
	// the summary row.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.SaveBatchSummary(ctx, summary); err != nil {
		s.log.Error("failed to save batch summary", "batch", report.BatchID, "error", err)
	}
}

func (s *Service) register(batchID string, exec *executor.Executor) {
	s.mu.Lock()
	s.active[batchID] = exec
	s.mu.Unlock()
}

func (s *Service) unregister(batchID string) {
	s.mu.Lock()
	delete(s.active, batchID)
	s.mu.Unlock()
}
