package task

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiarr/audiarr/internal/catalog"
	"github.com/audiarr/audiarr/internal/domain"
	"github.com/audiarr/audiarr/internal/events"
)

type fakeRefresher struct {
	calls atomic.Int32
	err   error
}

func (r *fakeRefresher) Refresh(ctx context.Context) error {
	r.calls.Add(1)
	return r.err
}

func catalogSyncSpec() EnqueueSpec {
	return EnqueueSpec{
		Class:       domain.ClassCatalogSync,
		BusinessKey: "catalog",
		Priority:    domain.PriorityRecurring,
		Meta:        &domain.SyncMeta{Kind: "catalog"},
	}
}

func credentialRefreshSpec() EnqueueSpec {
	return EnqueueSpec{
		Class:       domain.ClassCredentialRefresh,
		BusinessKey: "credentials",
		Priority:    domain.PriorityRecurring,
		Meta:        &domain.SyncMeta{Kind: "credentials"},
	}
}

func TestCatalogSyncWorker(t *testing.T) {
	t.Parallel()

	cat := catalog.NewMockCatalog()
	cat.RefreshFn = func(ctx context.Context) (int, error) { return 7, nil }

	coord, history, bus := newTestCoordinator(t, Config{})
	coord.RegisterWorker(NewCatalogSyncWorker(cat, testLogger()))

	sub, cancel := bus.Subscribe()
	defer cancel()

	require.NoError(t, coord.Start(context.Background()))
	defer coord.Stop()

	taskID, err := coord.Enqueue(context.Background(), catalogSyncSpec())
	require.NoError(t, err)
	waitStatus(t, coord, taskID, domain.TaskStatusCompleted)

	retired, err := history.Get(context.Background(), taskID)
	require.NoError(t, err)
	assert.Equal(t, 7, retired.Meta.(*domain.SyncMeta).ItemsSeen)

	var refreshed bool
	deadline := time.After(time.Second)
	for !refreshed {
		select {
		case ev := <-sub:
			refreshed = ev.Type == events.CatalogRefreshed
		case <-deadline:
			t.Fatal("no catalog refreshed event observed")
		}
	}
}

func TestCatalogSyncWorkerFailure(t *testing.T) {
	t.Parallel()

	cat := catalog.NewMockCatalog()
	cat.RefreshFn = func(ctx context.Context) (int, error) {
		return 0, errors.New("upstream 503")
	}

	coord, history, _ := newTestCoordinator(t, Config{})
	coord.RegisterWorker(NewCatalogSyncWorker(cat, testLogger()))

	require.NoError(t, coord.Start(context.Background()))
	defer coord.Stop()

	taskID, err := coord.Enqueue(context.Background(), catalogSyncSpec())
	require.NoError(t, err)
	waitStatus(t, coord, taskID, domain.TaskStatusFailed)

	retired, err := history.Get(context.Background(), taskID)
	require.NoError(t, err)
	assert.Contains(t, retired.Error, "catalog refresh failed")
}

func TestCredentialRefreshWorker(t *testing.T) {
	t.Parallel()

	refresher := &fakeRefresher{}

	coord, _, _ := newTestCoordinator(t, Config{})
	coord.RegisterWorker(NewCredentialRefreshWorker(refresher, testLogger()))

	require.NoError(t, coord.Start(context.Background()))
	defer coord.Stop()

	taskID, err := coord.Enqueue(context.Background(), credentialRefreshSpec())
	require.NoError(t, err)
	waitStatus(t, coord, taskID, domain.TaskStatusCompleted)

	assert.Equal(t, int32(1), refresher.calls.Load())
}

func TestCredentialRefreshWorkerFailure(t *testing.T) {
	t.Parallel()

	refresher := &fakeRefresher{err: errors.New("session revoked")}

	coord, history, _ := newTestCoordinator(t, Config{})
	coord.RegisterWorker(NewCredentialRefreshWorker(refresher, testLogger()))

	require.NoError(t, coord.Start(context.Background()))
	defer coord.Stop()

	taskID, err := coord.Enqueue(context.Background(), credentialRefreshSpec())
	require.NoError(t, err)
	waitStatus(t, coord, taskID, domain.TaskStatusFailed)

	retired, err := history.Get(context.Background(), taskID)
	require.NoError(t, err)
	assert.Contains(t, retired.Error, "credential refresh failed")
}

func TestSchedulerEnqueuesRecurringJobs(t *testing.T) {
	t.Parallel()

	// The coordinator is deliberately not started: enqueued jobs pile up in
	// the queue where the test can observe them, and live-task deduplication
	// keeps repeated fires down to one task per class.
	coord, _, _ := newTestCoordinator(t, Config{})

	sched := NewScheduler(coord, ScheduleConfig{
		CatalogSyncInterval:       10 * time.Millisecond,
		CredentialRefreshInterval: 10 * time.Millisecond,
		PolicyScanInterval:        10 * time.Millisecond,
	}, testLogger())

	sched.Start(context.Background())
	defer sched.Stop()

	require.Eventually(t, func() bool {
		classes := make(map[domain.TaskClass]int)
		for _, task := range coord.QueuedTasks() {
			classes[task.Class]++
		}
		return classes[domain.ClassCatalogSync] == 1 &&
			classes[domain.ClassCredentialRefresh] == 1 &&
			classes[domain.ClassPolicyScan] == 1
	}, 2*time.Second, 5*time.Millisecond)

	// Repeated ticks never duplicate a live job.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, coord.QueuedTasks(), 3)
}

func TestSchedulerDisabledJobsNeverFire(t *testing.T) {
	t.Parallel()

	coord, _, _ := newTestCoordinator(t, Config{})

	sched := NewScheduler(coord, ScheduleConfig{
		CatalogSyncInterval: 10 * time.Millisecond,
	}, testLogger())

	sched.Start(context.Background())
	defer sched.Stop()

	require.Eventually(t, func() bool {
		return len(coord.QueuedTasks()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	tasks := coord.QueuedTasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, domain.ClassCatalogSync, tasks[0].Class)
}
