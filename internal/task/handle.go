package task

import (
	"context"
	"sync"

	"github.com/audiarr/audiarr/internal/domain"
	"github.com/audiarr/audiarr/internal/events"
)

// Handle is the coordinator-owned view of one admitted task that workers
// drive. All task mutation goes through Update, which holds the
// coordinator's table lock, so observer snapshots never see a half-written
// task.
type Handle struct {
	coord *Coordinator
	task  *domain.Task

	mutex     sync.Mutex
	interrupt context.CancelFunc
	intent    domain.TaskStatus
	gen       uint64
}

// ID returns the task's identity.
func (h *Handle) ID() string { return h.task.ID }

// Snapshot returns a defensive copy of the task.
func (h *Handle) Snapshot() domain.Task {
	h.coord.mutex.Lock()
	defer h.coord.mutex.Unlock()
	return h.task.Clone()
}

// Update mutates the task under the coordinator's lock.
func (h *Handle) Update(fn func(t *domain.Task)) {
	h.coord.mutex.Lock()
	defer h.coord.mutex.Unlock()
	fn(h.task)
}

// Acquisition returns a copy of the task's acquisition metadata, or nil for
// other classes.
func (h *Handle) Acquisition() *domain.AcquisitionMeta {
	h.coord.mutex.Lock()
	defer h.coord.mutex.Unlock()
	if meta, ok := h.task.Meta.(*domain.AcquisitionMeta); ok {
		out := *meta
		return &out
	}
	return nil
}

// SetStage records the pipeline stage for observability.
func (h *Handle) SetStage(stage domain.AcquisitionStage) {
	h.Update(func(t *domain.Task) {
		if meta, ok := t.Meta.(*domain.AcquisitionMeta); ok {
			meta.Stage = stage
		}
	})
}

// Emit publishes an event carrying a current snapshot of the task.
func (h *Handle) Emit(eventType events.EventType) {
	ev := events.New(eventType, nil)
	snapshot := h.Snapshot()
	ev.TaskID = snapshot.ID
	ev.Task = &snapshot
	ev.Err = snapshot.Error
	h.coord.bus.Publish(ev)
}

// EmitProgress publishes a progress event for the task.
func (h *Handle) EmitProgress(eventType events.EventType, p events.Progress) {
	ev := events.New(eventType, nil)
	snapshot := h.Snapshot()
	ev.TaskID = snapshot.ID
	ev.Task = &snapshot
	ev.Progress = &p
	h.coord.bus.Publish(ev)
}

// Intent returns the pause or cancel intent recorded for the current run,
// or the zero status when the run was not interrupted.
func (h *Handle) Intent() domain.TaskStatus {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.intent
}

// setRun installs the cancel function for the task's current run, clears any
// stale intent, and advances the run generation. The returned generation
// identifies this run: a paused run's goroutine can outlive a resume, and its
// settle must not touch a task a newer run now owns.
func (h *Handle) setRun(cancel context.CancelFunc) uint64 {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.interrupt = cancel
	h.intent = ""
	h.gen++
	return h.gen
}

// runGen returns the current run generation.
func (h *Handle) runGen() uint64 {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.gen
}

// signal records an interruption intent (pause or cancel) and cancels the
// current run context, if any. Workers observe the cancellation at their
// next poll boundary.
func (h *Handle) signal(intent domain.TaskStatus) {
	h.mutex.Lock()
	cancel := h.interrupt
	h.intent = intent
	h.mutex.Unlock()

	if cancel != nil {
		cancel()
	}
}
