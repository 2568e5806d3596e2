package task

import (
	"context"

	"github.com/audiarr/audiarr/internal/domain"
)

// Worker drives tasks of one class through their pipeline. The coordinator
// dispatches an admitted task on the worker's own goroutine; a returned
// error fails the task, and workers must never panic across this boundary.
type Worker interface {
	// Class returns the task class this worker owns.
	Class() domain.TaskClass

	// Run drives the task to a terminal status. The task handle stays owned
	// by the coordinator; the worker mutates it through the coordinator's
	// update surface, not directly.
	Run(ctx context.Context, handle *Handle) error
}

// Pauser is implemented by workers whose tasks support pause and resume.
// Workers without it decline pause and resume requests.
type Pauser interface {
	// Pause suspends the task; returns false when the task cannot be
	// paused in its current state.
	Pause(ctx context.Context, handle *Handle) bool

	// Resume restarts a paused task.
	Resume(ctx context.Context, handle *Handle) bool
}

// Canceller is implemented by workers whose tasks support cancellation
// beyond coordinator bookkeeping (e.g. forwarding to an external engine and
// deleting local artifacts).
type Canceller interface {
	Cancel(ctx context.Context, handle *Handle) bool
}
