package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/velora-io/dispatch/internal/core/domain"
	"github.com/velora-io/dispatch/internal/dispatch/classify"
	"github.com/velora-io/dispatch/internal/dispatch/executor"
	"github.com/velora-io/dispatch/internal/dispatch/gatehealth"
	"github.com/velora-io/dispatch/internal/dispatch/speed"
)

const gw = domain.GatewayID("test-gw")

type fakeBilling struct {
	mu      sync.Mutex
	charges int
	fail    bool
}

func (f *fakeBilling) Charge(_ context.Context, _ string, _ domain.GatewayID, _ domain.Tier) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.charges++
	if f.fail {
		return errors.New("billing down")
	}
	return nil
}

func (f *fakeBilling) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.charges
}

type fakeStore struct {
	mu        sync.Mutex
	summaries []domain.BatchSummary
}

func (f *fakeStore) SaveBatchSummary(_ context.Context, s domain.BatchSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, s)
	return nil
}

func newService(billing Billing, store SummaryStore) (*Service, *gatehealth.Manager) {
	health := gatehealth.NewManager(gatehealth.DefaultPolicy(), nil, nil)
	spd := speed.NewManager(nil, nil)
	return NewService(health, spd, billing, store, nil), health
}

func instantTask(value any) executor.Task {
	return func(ctx context.Context) (any, error) {
		return value, nil
	}
}

func TestRunBatch_Success(t *testing.T) {
	billing := &fakeBilling{}
	store := &fakeStore{}
	svc, health := newService(billing, store)

	tasks := []executor.Task{instantTask("a"), instantTask("b"), instantTask("c")}

	report, err := svc.RunBatch(context.Background(), BatchRequest{
		GatewayID: gw,
		Tier:      domain.TierElite,
		Tasks:     tasks,
	})
	if err != nil {
		t.Fatalf("RunBatch returned error: %v", err)
	}

	if report.Succeeded != 3 || report.Failed != 0 {
		t.Errorf("succeeded=%d failed=%d, want 3/0", report.Succeeded, report.Failed)
	}
	if report.BatchID == "" {
		t.Error("batch id not assigned")
	}

	// Every success was recorded into health tracking and billed.
	snap := health.Snapshot(gw)
	if snap.WindowSize != 3 {
		t.Errorf("health window size = %d, want 3", snap.WindowSize)
	}
	if snap.ConsecutiveSuccesses != 3 {
		t.Errorf("consecutive successes = %d, want 3", snap.ConsecutiveSuccesses)
	}
	if billing.count() != 3 {
		t.Errorf("billing charges = %d, want 3", billing.count())
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.summaries) != 1 {
		t.Fatalf("summaries = %d, want 1", len(store.summaries))
	}
	s := store.summaries[0]
	if s.TotalTasks != 3 || s.Succeeded != 3 || s.Failed != 0 {
		t.Errorf("summary = %+v", s)
	}
}

func TestRunBatch_FailuresRecordedAndClassified(t *testing.T) {
	svc, health := newService(nil, nil)

	tasks := []executor.Task{
		instantTask("ok"),
		func(ctx context.Context) (any, error) {
			return nil, &classify.RemoteError{Status: 502, Message: "bad gateway"}
		},
		func(ctx context.Context) (any, error) {
			return nil, errors.New("connection refused")
		},
	}

	report, err := svc.RunBatch(context.Background(), BatchRequest{
		GatewayID: gw,
		Tier:      domain.TierStandard,
		Tasks:     tasks,
	})
	if err != nil {
		t.Fatalf("RunBatch returned error: %v", err)
	}

	if report.Succeeded != 1 || report.Failed != 2 {
		t.Errorf("succeeded=%d failed=%d, want 1/2", report.Succeeded, report.Failed)
	}

	snap := health.Snapshot(gw)
	if snap.WindowSize != 3 {
		t.Errorf("health window size = %d, want 3", snap.WindowSize)
	}
}

func TestRunBatch_OfflineGatewayFastFails(t *testing.T) {
	svc, health := newService(nil, nil)
	health.ForceStatus(gw, domain.StatusOffline)

	var invoked int64
	tasks := []executor.Task{
		func(ctx context.Context) (any, error) {
			atomic.AddInt64(&invoked, 1)
			return nil, nil
		},
	}

	report, err := svc.RunBatch(context.Background(), BatchRequest{
		GatewayID: gw,
		Tier:      domain.TierStandard,
		Tasks:     tasks,
	})
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("err = %v, want ErrGatewayUnavailable", err)
	}

	if !report.Unavailable {
		t.Error("report.Unavailable = false")
	}
	if report.Reason == nil || report.Reason.Message == "" {
		t.Error("report missing unavailability reason")
	}
	if atomic.LoadInt64(&invoked) != 0 {
		t.Error("tasks were invoked despite offline gateway")
	}
}

func TestRunBatch_EmptyBatch(t *testing.T) {
	svc, _ := newService(nil, nil)

	report, err := svc.RunBatch(context.Background(), BatchRequest{
		GatewayID: gw,
		Tier:      domain.TierStandard,
	})
	if err != nil {
		t.Fatalf("RunBatch returned error: %v", err)
	}
	if len(report.Results) != 0 {
		t.Errorf("results = %d, want 0", len(report.Results))
	}
}

func TestRunBatch_StreamsResults(t *testing.T) {
	svc, _ := newService(nil, nil)

	var mu sync.Mutex
	var progress []int
	var results int

	tasks := make([]executor.Task, 5)
	for i := range tasks {
		tasks[i] = instantTask(i)
	}

	if _, err := svc.RunBatch(context.Background(), BatchRequest{
		GatewayID: gw,
		Tier:      domain.TierElite,
		Tasks:     tasks,
		OnResult: func(index int, res executor.Result) {
			mu.Lock()
			results++
			mu.Unlock()
		},
		OnProgress: func(completed, total int) {
			mu.Lock()
			progress = append(progress, completed)
			mu.Unlock()
		},
	}); err != nil {
		t.Fatalf("RunBatch returned error: %v", err)
	}

	if results != 5 {
		t.Errorf("OnResult fired %d times, want 5", results)
	}
	for i, c := range progress {
		if c != i+1 {
			t.Errorf("progress[%d] = %d, want %d", i, c, i+1)
		}
	}
}

func TestCancelBatch(t *testing.T) {
	svc, _ := newService(nil, nil)

	release := make(chan struct{})

	// More tasks than the elite concurrency bound so cancellation leaves
	// part of the batch unexecuted.
	tasks := make([]executor.Task, 20)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) (any, error) {
			<-release
			return nil, nil
		}
	}

	done := make(chan error, 1)
	go func() {
		_, err := svc.RunBatch(context.Background(), BatchRequest{
			GatewayID: gw,
			Tier:      domain.TierElite,
			Tasks:     tasks,
		})
		done <- err
	}()

	// Wait until the batch is registered, then cancel it.
	var batchID string
	deadline := time.Now().Add(5 * time.Second)
	for batchID == "" {
		if time.Now().After(deadline) {
			t.Fatal("batch never registered")
		}
		svc.mu.Lock()
		for id := range svc.active {
			batchID = id
		}
		svc.mu.Unlock()
		time.Sleep(time.Millisecond)
	}

	if !svc.CancelBatch(batchID) {
		t.Fatal("CancelBatch did not find the running batch")
	}
	close(release)

	select {
	case err := <-done:
		if !errors.Is(err, executor.ErrCanceled) {
			t.Errorf("err = %v, want ErrCanceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("batch did not settle after cancellation")
	}

	if svc.CancelBatch(batchID) {
		t.Error("CancelBatch found a batch that already settled")
	}
}

func TestRunBatch_BillingFailureDoesNotAffectResults(t *testing.T) {
	billing := &fakeBilling{fail: true}
	svc, _ := newService(billing, nil)

	report, err := svc.RunBatch(context.Background(), BatchRequest{
		GatewayID: gw,
		Tier:      domain.TierStandard,
		Tasks:     []executor.Task{instantTask("a")},
	})
	if err != nil {
		t.Fatalf("RunBatch returned error: %v", err)
	}
	if report.Succeeded != 1 {
		t.Errorf("succeeded = %d, want 1", report.Succeeded)
	}
	if billing.count() != 1 {
		t.Errorf("billing charges = %d, want 1", billing.count())
	}
}
