package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/audiarr/audiarr/internal/store"
)

// Queue serializes conversions: exactly one sub-task is ever in
// StatusConverting. Completing, failing, pausing, or cancelling the running
// sub-task automatically starts the oldest queued one. The sub-task table is
// persisted, and on Start any row left in StatusConverting by a dead process
// is demoted back to StatusQueued before the auto-start logic runs.
type Queue struct {
	store      Store
	converter  Converter
	logger     *slog.Logger
	onProgress ProgressFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mutex     sync.Mutex
	started   bool
	stopped   bool
	runningID string
	cancelRun context.CancelFunc
	intents   map[string]Status
	waiters   map[string]chan struct{}
}

// NewQueue creates a conversion queue. onProgress may be nil; when set it
// receives progress for the running sub-task coalesced to at most one update
// per second.
func NewQueue(st Store, converter Converter, logger *slog.Logger, onProgress ProgressFunc) *Queue {
	return &Queue{
		store:      st,
		converter:  converter,
		logger:     logger.With("component", "conversion_queue"),
		onProgress: onProgress,
		intents:    make(map[string]Status),
		waiters:    make(map[string]chan struct{}),
	}
}

// Start recovers the persisted table and begins draining queued sub-tasks.
func (q *Queue) Start(ctx context.Context) error {
	q.mutex.Lock()
	if q.started {
		q.mutex.Unlock()
		return nil
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.started = true
	q.mutex.Unlock()

	demoted, err := q.store.DemoteConverting(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover conversion table: %w", err)
	}
	if demoted > 0 {
		q.logger.Info("requeued conversions interrupted by restart", "count", demoted)
	}

	q.maybeStartNext()
	return nil
}

// Stop halts the queue. A running conversion is killed; its row stays
// recoverable and is requeued on the next Start.
func (q *Queue) Stop() {
	q.mutex.Lock()
	if !q.started || q.stopped {
		q.mutex.Unlock()
		return
	}
	q.stopped = true
	cancel := q.cancel
	q.mutex.Unlock()

	cancel()
	q.wg.Wait()
	q.logger.Info("conversion queue stopped")
}

// Enqueue persists a new sub-task and starts it immediately if the queue is
// idle. Returns the sub-task ID.
func (q *Queue) Enqueue(ctx context.Context, spec Spec) (string, error) {
	q.mutex.Lock()
	if q.stopped {
		q.mutex.Unlock()
		return "", ErrQueueStopped
	}
	q.mutex.Unlock()

	now := time.Now().UTC()
	st := &SubTask{
		ID:         uuid.NewString(),
		ItemID:     spec.ItemID,
		Title:      spec.Title,
		InputPath:  spec.InputPath,
		OutputPath: spec.OutputPath,
		Key:        spec.Key,
		IV:         spec.IV,
		Status:     StatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := q.store.Save(ctx, st); err != nil {
		return "", fmt.Errorf("failed to save conversion sub-task: %w", err)
	}

	q.logger.Debug("conversion enqueued",
		"sub_task_id", st.ID,
		"item_id", st.ItemID)

	q.maybeStartNext()
	return st.ID, nil
}

// List returns all persisted sub-tasks, oldest first.
func (q *Queue) List(ctx context.Context) ([]*SubTask, error) {
	return q.store.List(ctx)
}

// Get returns a snapshot of one sub-task.
func (q *Queue) Get(ctx context.Context, id string) (*SubTask, error) {
	st, err := q.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSubTaskUnknown, id)
	}
	return st, err
}

// Pause suspends a sub-task. Pausing the running conversion kills the tool
// process; the sub-task lands in StatusPaused and the next queued one
// starts. Pausing a terminal sub-task is a no-op.
func (q *Queue) Pause(ctx context.Context, id string) error {
	q.mutex.Lock()
	if id == q.runningID && q.cancelRun != nil {
		q.intents[id] = StatusPaused
		cancel := q.cancelRun
		q.mutex.Unlock()
		cancel()
		return nil
	}
	q.mutex.Unlock()

	return q.transitionIdle(ctx, id, StatusQueued, StatusPaused)
}

// Resume requeues a paused sub-task. Resuming a terminal sub-task is a
// no-op: the terminal state won the race and stands.
func (q *Queue) Resume(ctx context.Context, id string) error {
	if err := q.transitionIdle(ctx, id, StatusPaused, StatusQueued); err != nil {
		return err
	}
	q.maybeStartNext()
	return nil
}

// Cancel aborts a sub-task in any non-terminal state.
func (q *Queue) Cancel(ctx context.Context, id string) error {
	q.mutex.Lock()
	if id == q.runningID && q.cancelRun != nil {
		q.intents[id] = StatusCancelled
		cancel := q.cancelRun
		q.mutex.Unlock()
		cancel()
		return nil
	}
	q.mutex.Unlock()

	st, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	if st.Status.Terminal() {
		return nil
	}

	st.Status = StatusCancelled
	st.UpdatedAt = time.Now().UTC()
	if err := q.store.Update(ctx, st); err != nil {
		return fmt.Errorf("failed to cancel conversion sub-task: %w", err)
	}
	q.notifyWaiters(st.ID)
	return nil
}

// Wait blocks until the sub-task reaches a terminal status, then returns its
// final record. A paused sub-task keeps Wait blocked until it is resumed and
// finishes, or cancelled.
func (q *Queue) Wait(ctx context.Context, id string) (*SubTask, error) {
	for {
		st, err := q.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if st.Status.Terminal() {
			return st, nil
		}

		q.mutex.Lock()
		ch, ok := q.waiters[id]
		if !ok {
			ch = make(chan struct{})
			q.waiters[id] = ch
		}
		q.mutex.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ch:
			// Re-check: the wakeup may be for a pause, not a terminal
			// disposition, in which case we re-register and keep waiting.
		}
	}
}

// transitionIdle moves a non-running sub-task from one idle status to
// another; any other current status is left untouched.
func (q *Queue) transitionIdle(ctx context.Context, id string, from, to Status) error {
	st, err := q.Get(ctx, id)
	if err != nil {
		return err
	}
	if st.Status != from {
		return nil
	}

	st.Status = to
	st.UpdatedAt = time.Now().UTC()
	if err := q.store.Update(ctx, st); err != nil {
		return fmt.Errorf("failed to update conversion sub-task: %w", err)
	}
	return nil
}

// maybeStartNext starts the oldest queued sub-task when the queue is idle.
func (q *Queue) maybeStartNext() {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if !q.started || q.stopped || q.runningID != "" {
		return
	}

	st, err := q.store.NextQueued(q.ctx)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		q.logger.Error("failed to fetch next queued conversion", "error", err)
		return
	}

	st.Status = StatusConverting
	st.UpdatedAt = time.Now().UTC()
	if err := q.store.Update(q.ctx, st); err != nil {
		q.logger.Error("failed to mark conversion as running",
			"sub_task_id", st.ID,
			"error", err)
		return
	}

	runCtx, cancelRun := context.WithCancel(q.ctx)
	q.runningID = st.ID
	q.cancelRun = cancelRun

	q.wg.Add(1)
	go q.runOne(runCtx, st)
}

// runOne drives a single conversion to a disposition, persists it, and
// chains to the next queued sub-task.
func (q *Queue) runOne(ctx context.Context, st *SubTask) {
	defer q.wg.Done()

	log := q.logger.With("sub_task_id", st.ID, "item_id", st.ItemID)
	log.Info("conversion started")

	limiter := rate.NewLimiter(rate.Every(time.Second), 1)

	convErr := q.converter.Convert(ctx, st, func(p Progress) {
		// Coalesce the tool's native progress frequency down to one update
		// per second before persisting or notifying observers.
		if !limiter.Allow() {
			return
		}

		q.mutex.Lock()
		st.PositionMs = p.CurrentTimeMs
		st.DurationMs = p.DurationMs
		st.UpdatedAt = time.Now().UTC()
		snapshot := *st
		q.mutex.Unlock()

		if err := q.store.Update(ctx, &snapshot); err != nil {
			log.Warn("failed to persist conversion progress", "error", err)
		}
		if q.onProgress != nil {
			q.onProgress(st.ID, p)
		}
	})

	q.mutex.Lock()
	intent, hadIntent := q.intents[st.ID]
	delete(q.intents, st.ID)
	q.runningID = ""
	q.cancelRun = nil
	stopped := q.stopped
	q.mutex.Unlock()

	switch {
	case stopped && convErr != nil:
		// Process shutdown killed the tool; requeue so the next Start picks
		// the conversion back up.
		st.Status = StatusQueued
		st.Error = ""
	case convErr == nil:
		st.Status = StatusCompleted
		st.Error = ""
		log.Info("conversion completed")
	case hadIntent && ctx.Err() != nil:
		st.Status = intent
		st.Error = ""
		log.Info("conversion interrupted", "disposition", intent)
	default:
		st.Status = StatusFailed
		st.Error = convErr.Error()
		log.Error("conversion failed", "error", convErr)
	}
	st.UpdatedAt = time.Now().UTC()

	// The run context may already be dead; persist the disposition on a
	// fresh deadline instead.
	updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	switch err := q.store.Update(updateCtx, st); {
	case errors.Is(err, store.ErrNotFound):
		// The owning task retired and pruned the row mid-disposition.
		log.Debug("conversion row already pruned")
	case err != nil:
		log.Error("failed to persist conversion disposition", "error", err)
	}

	q.notifyWaiters(st.ID)
	if !stopped {
		q.maybeStartNext()
	}
}

// notifyWaiters wakes any Wait calls for the sub-task.
func (q *Queue) notifyWaiters(id string) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if ch, ok := q.waiters[id]; ok {
		delete(q.waiters, id)
		close(ch)
	}
}
