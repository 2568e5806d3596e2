package task

import (
	"context"
	"log/slog"
	"sync"

	"github.com/audiarr/audiarr/internal/catalog"
	"github.com/audiarr/audiarr/internal/domain"
	"github.com/audiarr/audiarr/internal/events"
)

// NetworkGate reports whether the current network conditions permit bulk
// acquisition work. The platform layer supplies the real check; a nil gate
// always permits.
type NetworkGate func(ctx context.Context) bool

// PolicyWorker scans the catalog for unacquired items and enqueues
// acquisition tasks for them at background priority. A scan under an unmet
// network constraint still completes, reporting zero matches, rather than
// lingering in the queue until conditions change.
type PolicyWorker struct {
	coord  *Coordinator
	cat    catalog.Catalog
	gate   NetworkGate
	logger *slog.Logger

	// BatchLimit caps how many acquisitions one scan may enqueue, so a
	// large backlog drains over several scans instead of flooding the
	// queue.
	BatchLimit int
}

// NewPolicyWorker wires a PolicyWorker.
func NewPolicyWorker(coord *Coordinator, cat catalog.Catalog, gate NetworkGate, batchLimit int, logger *slog.Logger) *PolicyWorker {
	if batchLimit <= 0 {
		batchLimit = 10
	}
	return &PolicyWorker{
		coord:      coord,
		cat:        cat,
		gate:       gate,
		logger:     logger.With("component", "policy_worker"),
		BatchLimit: batchLimit,
	}
}

// Class implements Worker.
func (w *PolicyWorker) Class() domain.TaskClass { return domain.ClassPolicyScan }

// Run implements Worker.
func (w *PolicyWorker) Run(ctx context.Context, h *Handle) error {
	if w.gate != nil && !w.gate(ctx) {
		w.logger.Info("policy scan skipped, network constraint unmet", "task_id", h.ID())
		h.Emit(events.PolicyScanComplete)
		return nil
	}

	items, err := w.cat.Items(ctx)
	if err != nil {
		return err
	}

	matched := 0
	for _, item := range items {
		if item.Acquired {
			continue
		}
		if matched >= w.BatchLimit {
			break
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		taskID, err := w.coord.Enqueue(ctx, EnqueueSpec{
			Class:       domain.ClassAcquisition,
			BusinessKey: item.ID,
			Priority:    domain.PriorityPolicyAcquisition,
			Meta:        &domain.AcquisitionMeta{ItemID: item.ID, Title: item.Title},
		})
		if err != nil {
			w.logger.Warn("failed to enqueue policy acquisition",
				"item_id", item.ID, "error", err)
			continue
		}
		w.logger.Debug("policy acquisition enqueued",
			"item_id", item.ID, "task_id", taskID)
		matched++
	}

	h.Update(func(t *domain.Task) {
		if meta, ok := t.Meta.(*domain.ScanMeta); ok {
			meta.Matched = matched
		}
	})

	w.logger.Info("policy scan finished", "task_id", h.ID(), "matched", matched)
	h.Emit(events.PolicyScanComplete)
	return nil
}

// PolicyTrigger enqueues a policy scan whenever a catalog refresh lands, so
// newly visible items are picked up without waiting for the next scheduled
// scan.
type PolicyTrigger struct {
	coord  *Coordinator
	bus    *events.Bus
	logger *slog.Logger

	mutex  sync.Mutex
	cancel func()
	done   chan struct{}
}

// NewPolicyTrigger wires a PolicyTrigger.
func NewPolicyTrigger(coord *Coordinator, bus *events.Bus, logger *slog.Logger) *PolicyTrigger {
	return &PolicyTrigger{
		coord:  coord,
		bus:    bus,
		logger: logger.With("component", "policy_trigger"),
	}
}

// Start subscribes to the event bus and reacts until Stop or context
// cancellation.
func (t *PolicyTrigger) Start(ctx context.Context) {
	sub, cancel := t.bus.Subscribe()

	t.mutex.Lock()
	t.cancel = cancel
	t.done = make(chan struct{})
	done := t.done
	t.mutex.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				if ev.Type != events.CatalogRefreshed {
					continue
				}
				t.enqueueScan(ctx)
			}
		}
	}()
}

// Stop unsubscribes and waits for the reaction loop to exit.
func (t *PolicyTrigger) Stop() {
	t.mutex.Lock()
	cancel := t.cancel
	done := t.done
	t.mutex.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (t *PolicyTrigger) enqueueScan(ctx context.Context) {
	taskID, err := t.coord.Enqueue(ctx, EnqueueSpec{
		Class:       domain.ClassPolicyScan,
		BusinessKey: "policy-scan",
		Priority:    domain.PriorityRecurring,
		Meta:        &domain.ScanMeta{},
	})
	if err != nil {
		t.logger.Warn("failed to enqueue policy scan", "error", err)
		return
	}
	t.logger.Info("policy scan enqueued after catalog refresh", "task_id", taskID)
}
