package task

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiarr/audiarr/internal/catalog"
	"github.com/audiarr/audiarr/internal/domain"
	"github.com/audiarr/audiarr/internal/events"
)

// scanSpec enqueues one policy scan.
func scanSpec() EnqueueSpec {
	return EnqueueSpec{
		Class:       domain.ClassPolicyScan,
		BusinessKey: "policy-scan",
		Priority:    domain.PriorityRecurring,
		Meta:        &domain.ScanMeta{},
	}
}

// blockingAcquisitionWorker parks admitted acquisitions so tests can inspect
// what a scan enqueued.
func blockingAcquisitionWorker() Worker {
	return &controlWorker{
		plainWorker: plainWorker{
			class: domain.ClassAcquisition,
			runFn: func(ctx context.Context, h *Handle) error {
				<-ctx.Done()
				return ctx.Err()
			},
		},
	}
}

func policyScanResult(t *testing.T, history *memHistory, taskID string) *domain.ScanMeta {
	t.Helper()
	retired, err := history.Get(context.Background(), taskID)
	require.NoError(t, err)
	require.Equal(t, domain.TaskStatusCompleted, retired.Status)
	return retired.Meta.(*domain.ScanMeta)
}

func TestPolicyScanEnqueuesUnacquiredItems(t *testing.T) {
	t.Parallel()

	cat := catalog.NewMockCatalog(
		catalog.Item{ID: "B00WANT1", Title: "Wanted One"},
		catalog.Item{ID: "B00WANT2", Title: "Wanted Two"},
		catalog.Item{ID: "B00HAVE", Title: "Owned", Acquired: true},
	)

	coord, history, _ := newTestCoordinator(t, Config{AcquisitionLimit: 3})
	coord.RegisterWorker(blockingAcquisitionWorker())
	coord.RegisterWorker(NewPolicyWorker(coord, cat, nil, 10, testLogger()))

	require.NoError(t, coord.Start(context.Background()))
	defer coord.Stop()

	ctx := context.Background()
	scanID, err := coord.Enqueue(ctx, scanSpec())
	require.NoError(t, err)

	waitStatus(t, coord, scanID, domain.TaskStatusCompleted)
	assert.Equal(t, 2, policyScanResult(t, history, scanID).Matched)

	// Both wanted items are now live acquisitions at background priority.
	require.Eventually(t, func() bool {
		return len(coord.ActiveTasks()) == 2
	}, 2*time.Second, 5*time.Millisecond)

	for _, task := range coord.ActiveTasks() {
		assert.Equal(t, domain.ClassAcquisition, task.Class)
		assert.Equal(t, domain.PriorityPolicyAcquisition, task.Priority)
		assert.Contains(t, []string{"B00WANT1", "B00WANT2"}, task.BusinessKey())
	}
}

func TestPolicyScanRespectsBatchLimit(t *testing.T) {
	t.Parallel()

	cat := catalog.NewMockCatalog(
		catalog.Item{ID: "B001"},
		catalog.Item{ID: "B002"},
		catalog.Item{ID: "B003"},
		catalog.Item{ID: "B004"},
		catalog.Item{ID: "B005"},
	)

	coord, history, _ := newTestCoordinator(t, Config{AcquisitionLimit: 3})
	coord.RegisterWorker(blockingAcquisitionWorker())
	coord.RegisterWorker(NewPolicyWorker(coord, cat, nil, 2, testLogger()))

	require.NoError(t, coord.Start(context.Background()))
	defer coord.Stop()

	scanID, err := coord.Enqueue(context.Background(), scanSpec())
	require.NoError(t, err)

	waitStatus(t, coord, scanID, domain.TaskStatusCompleted)
	assert.Equal(t, 2, policyScanResult(t, history, scanID).Matched,
		"the backlog drains over several scans, not one flood")
}

func TestPolicyScanSkippedUnderNetworkConstraint(t *testing.T) {
	t.Parallel()

	cat := catalog.NewMockCatalog(catalog.Item{ID: "B00WANT"})
	gate := NetworkGate(func(ctx context.Context) bool { return false })

	coord, history, bus := newTestCoordinator(t, Config{AcquisitionLimit: 3})
	coord.RegisterWorker(NewPolicyWorker(coord, cat, gate, 10, testLogger()))

	sub, cancel := bus.Subscribe()
	defer cancel()

	require.NoError(t, coord.Start(context.Background()))
	defer coord.Stop()

	scanID, err := coord.Enqueue(context.Background(), scanSpec())
	require.NoError(t, err)

	// The scan still completes rather than lingering until conditions
	// change, and it enqueues nothing.
	waitStatus(t, coord, scanID, domain.TaskStatusCompleted)
	assert.Equal(t, 0, policyScanResult(t, history, scanID).Matched)
	assert.Empty(t, coord.ActiveTasks())
	assert.Empty(t, coord.QueuedTasks())

	var sawComplete bool
	deadline := time.After(time.Second)
	for !sawComplete {
		select {
		case ev := <-sub:
			sawComplete = ev.Type == events.PolicyScanComplete
		case <-deadline:
			t.Fatal("no scan completion event observed")
		}
	}
}

func TestPolicyTriggerScansAfterCatalogRefresh(t *testing.T) {
	t.Parallel()

	coord, history, bus := newTestCoordinator(t, Config{AcquisitionLimit: 3})
	coord.RegisterWorker(NewPolicyWorker(coord, catalog.NewMockCatalog(), nil, 10, testLogger()))

	require.NoError(t, coord.Start(context.Background()))
	defer coord.Stop()

	trigger := NewPolicyTrigger(coord, bus, testLogger())
	trigger.Start(context.Background())
	defer trigger.Stop()

	bus.Publish(events.New(events.CatalogRefreshed, nil))

	require.Eventually(t, func() bool {
		retired, err := history.List(context.Background(), 10)
		if err != nil {
			return false
		}
		for _, task := range retired {
			if task.Class == domain.ClassPolicyScan && task.Status == domain.TaskStatusCompleted {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "refresh event must trigger a scan")
}
