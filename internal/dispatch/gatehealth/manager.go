// Package gatehealth tracks per-gateway reliability over a rolling
// window of task outcomes and gates batch starts when a gateway goes
// offline. State is in-memory only: a restart resets every gateway to
// online, so health reflects current conditions, not reputation.
package gatehealth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/velora-io/dispatch/internal/core/domain"
	"github.com/velora-io/dispatch/internal/dispatch/classify"
	"github.com/velora-io/dispatch/internal/metrics"
)

// Outcome is one recorded task settlement for a gateway.
type Outcome struct {
	Success   bool
	Latency   time.Duration
	Category  classify.Category
	Timestamp time.Time
}

// Alert describes a status-degrading transition.
type Alert struct {
	GatewayID           domain.GatewayID
	Status              domain.GatewayStatus
	SuccessRate         float64
	ConsecutiveFailures int
	LastError           string
}

// Recovery describes a return to online.
type Recovery struct {
	GatewayID domain.GatewayID
	Status    domain.GatewayStatus
}

// Notifier receives health transition events. Calls are best-effort:
// a notifier error never affects health-state correctness.
type Notifier interface {
	HealthAlert(ctx context.Context, a Alert) error
	HealthRecovery(ctx context.Context, r Recovery) error
}

// Snapshot is a read-only view of one gateway's health record.
type Snapshot struct {
	GatewayID            domain.GatewayID     `json:"gateway_id"`
	Status               domain.GatewayStatus `json:"status"`
	SuccessRate          float64              `json:"success_rate"`
	WindowSize           int                  `json:"window_size"`
	ConsecutiveFailures  int                  `json:"consecutive_failures"`
	ConsecutiveSuccesses int                  `json:"consecutive_successes"`
	LastError            string               `json:"last_error,omitempty"`
	Overridden           bool                 `json:"overridden"`
	AvgLatency           time.Duration        `json:"avg_latency_ms"`
}

// UnavailabilityReason explains why a batch could not start.
type UnavailabilityReason struct {
	GatewayID           domain.GatewayID     `json:"gateway_id"`
	Status              domain.GatewayStatus `json:"status"`
	Message             string               `json:"message"`
	SuccessRate         float64              `json:"success_rate"`
	ConsecutiveFailures int                  `json:"consecutive_failures"`
	LastError           string               `json:"last_error,omitempty"`
}

type record struct {
	window               []Outcome
	consecutiveFailures  int
	consecutiveSuccesses int
	status               domain.GatewayStatus
	lastError            string
	overridden           bool
}

// Manager maintains one health record per gateway. Records are created
// lazily on first observation and never deleted. All mutation happens
// under the manager mutex; concurrent batches targeting the same
// gateway share its record.
type Manager struct {
	mu       sync.Mutex
	policy   Policy
	records  map[domain.GatewayID]*record
	notifier Notifier
	log      *slog.Logger
}

// NewManager creates a health manager. notifier may be nil.
func NewManager(policy Policy, notifier Notifier, log *slog.Logger) *Manager {
	if policy.WindowSize <= 0 {
		policy = DefaultPolicy()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		policy:   policy,
		records:  make(map[domain.GatewayID]*record),
		notifier: notifier,
		log:      log,
	}
}

// RecordSuccess appends a success to the gateway's window. Reaching the
// recovery threshold from a non-online state transitions the gateway
// back to online and fires exactly one recovery notification.
func (m *Manager) RecordSuccess(gatewayID domain.GatewayID, latency time.Duration) {
	m.mu.Lock()
	r := m.record(gatewayID)

	m.append(r, Outcome{Success: true, Latency: latency, Timestamp: time.Now()})
	r.consecutiveFailures = 0
	r.consecutiveSuccesses++

	var recovered bool
	if r.consecutiveSuccesses >= m.policy.RecoverySuccesses && r.status != domain.StatusOnline {
		r.status = domain.StatusOnline
		r.overridden = false
		recovered = true
		m.setStatusMetric(gatewayID, r.status)
	}
	m.mu.Unlock()

	if recovered {
		m.log.Info("gateway recovered", "gateway", gatewayID)
		m.notifyRecovery(Recovery{GatewayID: gatewayID, Status: domain.StatusOnline})
	}
}

// RecordFailure appends a failure with its category, re-evaluates the
// transition thresholds and, on a status-degrading transition, fires an
// alert carrying the windowed success rate, the consecutive-failure
// count and the last error message.
func (m *Manager) RecordFailure(gatewayID domain.GatewayID, message string, category classify.Category) {
	m.mu.Lock()
	r := m.record(gatewayID)

	m.append(r, Outcome{Success: false, Category: category, Timestamp: time.Now()})
	r.consecutiveSuccesses = 0
	r.consecutiveFailures++
	r.lastError = message

	metrics.TaskFailuresTotal.WithLabelValues(gatewayID.String(), category.String()).Inc()

	var alert *Alert
	target := m.evaluate(r)
	if severity(target) > severity(r.status) {
		// An alert-worthy automatic transition supersedes any manual
		// override.
		r.status = target
		r.overridden = false
		m.setStatusMetric(gatewayID, r.status)
		alert = &Alert{
			GatewayID:           gatewayID,
			Status:              r.status,
			SuccessRate:         m.successRate(r),
			ConsecutiveFailures: r.consecutiveFailures,
			LastError:           r.lastError,
		}
	}
	m.mu.Unlock()

	if alert != nil {
		m.log.Warn("gateway status degraded",
			"gateway", gatewayID,
			"status", alert.Status,
			"success_rate", alert.SuccessRate,
			"consecutive_failures", alert.ConsecutiveFailures,
		)
		m.notifyAlert(*alert)
	}
}

// IsAvailable reports whether batches may start against the gateway.
// Only offline blocks; degraded gateways still accept work.
func (m *Manager) IsAvailable(gatewayID domain.GatewayID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record(gatewayID).status != domain.StatusOffline
}

// UnavailabilityReason returns a human-readable explanation of the
// gateway's current state, used to surface why a batch could not start.
func (m *Manager) UnavailabilityReason(gatewayID domain.GatewayID) UnavailabilityReason {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.record(gatewayID)
	reason := UnavailabilityReason{
		GatewayID:           gatewayID,
		Status:              r.status,
		SuccessRate:         m.successRate(r),
		ConsecutiveFailures: r.consecutiveFailures,
		LastError:           r.lastError,
	}
	switch r.status {
	case domain.StatusOffline:
		reason.Message = fmt.Sprintf(
			"gateway %s is offline (%d consecutive failures, %.0f%% success rate)",
			gatewayID, r.consecutiveFailures, reason.SuccessRate*100,
		)
	case domain.StatusDegraded:
		reason.Message = fmt.Sprintf("gateway %s is degraded but accepting work", gatewayID)
	default:
		reason.Message = fmt.Sprintf("gateway %s is online", gatewayID)
	}
	return reason
}

// ForceStatus applies a manual override. The forced status persists
// until ClearOverride or until the next automatic alert-worthy
// transition supersedes it.
func (m *Manager) ForceStatus(gatewayID domain.GatewayID, status domain.GatewayStatus) {
	m.mu.Lock()
	r := m.record(gatewayID)
	r.status = status
	r.overridden = true
	m.setStatusMetric(gatewayID, status)
	m.mu.Unlock()

	m.log.Info("gateway status forced", "gateway", gatewayID, "status", status)
}

// ClearOverride removes a manual override and re-derives the status
// from the current window.
func (m *Manager) ClearOverride(gatewayID domain.GatewayID) {
	m.mu.Lock()
	r := m.record(gatewayID)
	if r.overridden {
		r.overridden = false
		r.status = m.evaluate(r)
		m.setStatusMetric(gatewayID, r.status)
	}
	m.mu.Unlock()
}

// Snapshot returns a read-only view of one gateway's record.
func (m *Manager) Snapshot(gatewayID domain.GatewayID) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot(gatewayID, m.record(gatewayID))
}

// Report returns snapshots for every gateway observed so far.
func (m *Manager) Report() map[domain.GatewayID]Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	report := make(map[domain.GatewayID]Snapshot, len(m.records))
	for id, r := range m.records {
		report[id] = m.snapshot(id, r)
	}
	return report
}

// record returns the health record for gatewayID, creating it lazily.
// Caller must hold m.mu.
func (m *Manager) record(gatewayID domain.GatewayID) *record {
	r, ok := m.records[gatewayID]
	if !ok {
		r = &record{
			window: make([]Outcome, 0, m.policy.WindowSize),
			status: domain.StatusOnline,
		}
		m.records[gatewayID] = r
	}
	return r
}

func (m *Manager) append(r *record, o Outcome) {
	r.window = append(r.window, o)
	if len(r.window) > m.policy.WindowSize {
		r.window = r.window[1:]
	}
}

// evaluate derives the status implied by the current window. Caller
// must hold m.mu.
func (m *Manager) evaluate(r *record) domain.GatewayStatus {
	rate := m.successRate(r)
	enoughSamples := len(r.window) >= m.policy.MinSamples

	if r.consecutiveFailures >= m.policy.OfflineConsecutiveFailures {
		return domain.StatusOffline
	}
	if enoughSamples && rate < m.policy.OfflineSuccessRate {
		return domain.StatusOffline
	}
	if r.consecutiveFailures >= m.policy.DegradedConsecutiveFailures {
		return domain.StatusDegraded
	}
	if enoughSamples && rate < m.policy.DegradedSuccessRate {
		return domain.StatusDegraded
	}
	return domain.StatusOnline
}

func (m *Manager) successRate(r *record) float64 {
	if len(r.window) == 0 {
		return 1.0
	}
	succeeded := 0
	for _, o := range r.window {
		if o.Success {
			succeeded++
		}
	}
	return float64(succeeded) / float64(len(r.window))
}

func (m *Manager) snapshot(id domain.GatewayID, r *record) Snapshot {
	var totalLatency time.Duration
	var latencySamples int
	for _, o := range r.window {
		if o.Success {
			totalLatency += o.Latency
			latencySamples++
		}
	}
	s := Snapshot{
		GatewayID:            id,
		Status:               r.status,
		SuccessRate:          m.successRate(r),
		WindowSize:           len(r.window),
		ConsecutiveFailures:  r.consecutiveFailures,
		ConsecutiveSuccesses: r.consecutiveSuccesses,
		LastError:            r.lastError,
		Overridden:           r.overridden,
	}
	if latencySamples > 0 {
		s.AvgLatency = totalLatency / time.Duration(latencySamples)
	}
	return s
}

func (m *Manager) setStatusMetric(id domain.GatewayID, status domain.GatewayStatus) {
	metrics.GatewayStatus.WithLabelValues(id.String()).Set(statusValue(status))
	metrics.HealthTransitionsTotal.WithLabelValues(id.String(), string(status)).Inc()
}

func (m *Manager) notifyAlert(a Alert) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.HealthAlert(context.Background(), a); err != nil {
		m.log.Error("health alert dispatch failed", "gateway", a.GatewayID, "error", err)
	}
}

func (m *Manager) notifyRecovery(r Recovery) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.HealthRecovery(context.Background(), r); err != nil {
		m.log.Error("health recovery dispatch failed", "gateway", r.GatewayID, "error", err)
	}
}

func severity(s domain.GatewayStatus) int {
	switch s {
	case domain.StatusOffline:
		return 2
	case domain.StatusDegraded:
		return 1
	default:
		return 0
	}
}

func statusValue(s domain.GatewayStatus) float64 {
	return float64(severity(s))
}
