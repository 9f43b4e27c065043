package gatehealth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/velora-io/dispatch/internal/core/domain"
	"github.com/velora-io/dispatch/internal/dispatch/classify"
)

type fakeNotifier struct {
	mu         sync.Mutex
	alerts     []Alert
	recoveries []Recovery
	fail       bool
}

func (f *fakeNotifier) HealthAlert(_ context.Context, a Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, a)
	if f.fail {
		return errors.New("notifier down")
	}
	return nil
}

func (f *fakeNotifier) HealthRecovery(_ context.Context, r Recovery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recoveries = append(f.recoveries, r)
	if f.fail {
		return errors.New("notifier down")
	}
	return nil
}

func (f *fakeNotifier) alertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

func (f *fakeNotifier) recoveryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.recoveries)
}

const gw = domain.GatewayID("test-gw")

func TestRecordFailure_GoesOffline(t *testing.T) {
	notifier := &fakeNotifier{}
	mgr := NewManager(DefaultPolicy(), notifier, nil)

	if !mgr.IsAvailable(gw) {
		t.Fatal("fresh gateway should be available")
	}

	for i := 0; i < 50; i++ {
		mgr.RecordFailure(gw, "connection refused", classify.CategoryNetwork)
	}

	if mgr.IsAvailable(gw) {
		t.Error("gateway should be offline after 50 consecutive failures")
	}

	snap := mgr.Snapshot(gw)
	if snap.Status != domain.StatusOffline {
		t.Errorf("status = %s, want offline", snap.Status)
	}
	if snap.SuccessRate != 0 {
		t.Errorf("success rate = %f, want 0", snap.SuccessRate)
	}
	if snap.ConsecutiveFailures != 50 {
		t.Errorf("consecutive failures = %d, want 50", snap.ConsecutiveFailures)
	}
}

func TestTransitions_DegradedThenOffline(t *testing.T) {
	notifier := &fakeNotifier{}
	mgr := NewManager(DefaultPolicy(), notifier, nil)

	// 3 consecutive failures: degraded, one alert.
	for i := 0; i < 3; i++ {
		mgr.RecordFailure(gw, "boom", classify.CategoryGateway)
	}
	if snap := mgr.Snapshot(gw); snap.Status != domain.StatusDegraded {
		t.Fatalf("status after 3 failures = %s, want degraded", snap.Status)
	}
	if notifier.alertCount() != 1 {
		t.Errorf("alerts after degraded = %d, want 1", notifier.alertCount())
	}

	// Still degraded should be available.
	if !mgr.IsAvailable(gw) {
		t.Error("degraded gateway should still be available")
	}

	// Reaching the offline threshold fires a second alert.
	for i := 0; i < 7; i++ {
		mgr.RecordFailure(gw, "boom", classify.CategoryGateway)
	}
	if snap := mgr.Snapshot(gw); snap.Status != domain.StatusOffline {
		t.Fatalf("status after 10 failures = %s, want offline", snap.Status)
	}
	if notifier.alertCount() != 2 {
		t.Errorf("alerts after offline = %d, want 2", notifier.alertCount())
	}

	last := notifier.alerts[len(notifier.alerts)-1]
	if last.ConsecutiveFailures != 10 {
		t.Errorf("alert consecutive failures = %d, want 10", last.ConsecutiveFailures)
	}
	if last.LastError != "boom" {
		t.Errorf("alert last error = %q, want boom", last.LastError)
	}
}

func TestRecovery_FiresOnce(t *testing.T) {
	notifier := &fakeNotifier{}
	mgr := NewManager(DefaultPolicy(), notifier, nil)

	for i := 0; i < 10; i++ {
		mgr.RecordFailure(gw, "boom", classify.CategoryTimeout)
	}
	if mgr.IsAvailable(gw) {
		t.Fatal("gateway should be offline")
	}

	// 4 successes: not yet recovered.
	for i := 0; i < 4; i++ {
		mgr.RecordSuccess(gw, 100*time.Millisecond)
	}
	if notifier.recoveryCount() != 0 {
		t.Fatal("recovery fired before threshold")
	}

	// 5th success: recovered, exactly one event.
	mgr.RecordSuccess(gw, 100*time.Millisecond)
	if snap := mgr.Snapshot(gw); snap.Status != domain.StatusOnline {
		t.Errorf("status = %s, want online", snap.Status)
	}
	if notifier.recoveryCount() != 1 {
		t.Errorf("recoveries = %d, want 1", notifier.recoveryCount())
	}

	// Further successes must not re-fire.
	for i := 0; i < 10; i++ {
		mgr.RecordSuccess(gw, 100*time.Millisecond)
	}
	if notifier.recoveryCount() != 1 {
		t.Errorf("recoveries after extra successes = %d, want 1", notifier.recoveryCount())
	}
}

func TestSuccessRateTransition(t *testing.T) {
	policy := DefaultPolicy()
	notifier := &fakeNotifier{}
	mgr := NewManager(policy, notifier, nil)

	// Alternate success/failure: never 3 consecutive failures, but the
	// windowed rate drops to 50%, below the degraded threshold.
	for i := 0; i < 10; i++ {
		mgr.RecordSuccess(gw, 50*time.Millisecond)
		mgr.RecordFailure(gw, "flaky", classify.CategoryNetwork)
	}

	snap := mgr.Snapshot(gw)
	if snap.Status != domain.StatusDegraded {
		t.Errorf("status = %s, want degraded at 50%% success rate", snap.Status)
	}
	if snap.SuccessRate != 0.5 {
		t.Errorf("success rate = %f, want 0.5", snap.SuccessRate)
	}
}

func TestWindowIsBounded(t *testing.T) {
	mgr := NewManager(DefaultPolicy(), nil, nil)

	for i := 0; i < 200; i++ {
		mgr.RecordSuccess(gw, time.Millisecond)
	}

	snap := mgr.Snapshot(gw)
	if snap.WindowSize != 50 {
		t.Errorf("window size = %d, want 50", snap.WindowSize)
	}
}

func TestManualOverride(t *testing.T) {
	notifier := &fakeNotifier{}
	mgr := NewManager(DefaultPolicy(), notifier, nil)

	mgr.ForceStatus(gw, domain.StatusOffline)
	if mgr.IsAvailable(gw) {
		t.Error("forced offline gateway should be unavailable")
	}

	mgr.ClearOverride(gw)
	if !mgr.IsAvailable(gw) {
		t.Error("cleared override should re-derive online status")
	}
}

func TestOverrideSupersededByAlertWorthyTransition(t *testing.T) {
	notifier := &fakeNotifier{}
	mgr := NewManager(DefaultPolicy(), notifier, nil)

	mgr.ForceStatus(gw, domain.StatusOnline)

	// The automatic machine's next degrading transition replaces the
	// forced status.
	for i := 0; i < 10; i++ {
		mgr.RecordFailure(gw, "boom", classify.CategoryGateway)
	}

	snap := mgr.Snapshot(gw)
	if snap.Status != domain.StatusOffline {
		t.Errorf("status = %s, want offline (override superseded)", snap.Status)
	}
	if snap.Overridden {
		t.Error("override flag should be cleared by automatic transition")
	}
}

func TestUnavailabilityReason(t *testing.T) {
	mgr := NewManager(DefaultPolicy(), nil, nil)

	for i := 0; i < 10; i++ {
		mgr.RecordFailure(gw, "502 bad gateway", classify.CategoryGateway)
	}

	reason := mgr.UnavailabilityReason(gw)
	if reason.Status != domain.StatusOffline {
		t.Errorf("reason status = %s, want offline", reason.Status)
	}
	if reason.Message == "" {
		t.Error("reason message should not be empty")
	}
	if reason.LastError != "502 bad gateway" {
		t.Errorf("reason last error = %q", reason.LastError)
	}
}

func TestNotifierFailureDoesNotAffectState(t *testing.T) {
	notifier := &fakeNotifier{fail: true}
	mgr := NewManager(DefaultPolicy(), notifier, nil)

	for i := 0; i < 10; i++ {
		mgr.RecordFailure(gw, "boom", classify.CategoryNetwork)
	}

	// The failing notifier was invoked but the state machine advanced
	// regardless.
	if notifier.alertCount() == 0 {
		t.Error("notifier was never invoked")
	}
	if mgr.IsAvailable(gw) {
		t.Error("gateway should be offline despite notifier failures")
	}
}

func TestConcurrentRecording(t *testing.T) {
	mgr := NewManager(DefaultPolicy(), &fakeNotifier{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				mgr.RecordSuccess(gw, time.Millisecond)
			} else {
				mgr.RecordFailure(gw, "flaky", classify.CategoryNetwork)
			}
			mgr.IsAvailable(gw)
			mgr.Snapshot(gw)
		}(i)
	}
	wg.Wait()

	snap := mgr.Snapshot(gw)
	if snap.WindowSize != 50 {
		t.Errorf("window size = %d, want 50", snap.WindowSize)
	}
}
