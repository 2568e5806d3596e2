// Package engine defines the contract of the external resumable download
// engine. The engine is a separately-owned component that persists its own
// byte-offset state and survives process restarts; this package only
// describes the boundary the orchestrator talks across.
package engine

import (
	"context"
	"errors"
	"fmt"
)

// Common errors returned by download engines.
var (
	// ErrSubTaskUnknown is returned when the engine has no record of the
	// given sub-task ID.
	ErrSubTaskUnknown = errors.New("download sub-task not found")
)

// TerminalStateError is returned by Pause and Resume when the sub-task has
// already reached a terminal state. This is a legitimate race, not a fault:
// the engine may finish or cancel a transfer between the orchestrator's
// polls, and the caller is expected to reconcile to the reported state.
type TerminalStateError struct {
	SubTaskID string
	State     SubTaskState
}

// Error implements the error interface.
func (e *TerminalStateError) Error() string {
	return fmt.Sprintf("sub-task %s already %s", e.SubTaskID, e.State)
}

// SubTaskState is the engine's view of one transfer.
type SubTaskState string

// Engine sub-task states.
const (
	StateQueued       SubTaskState = "queued"
	StateTransferring SubTaskState = "transferring"
	StatePaused       SubTaskState = "paused"
	StateCompleted    SubTaskState = "completed"
	StateFailed       SubTaskState = "failed"
	StateCancelled    SubTaskState = "cancelled"
)

// Terminal reports whether s is a terminal engine state.
func (s SubTaskState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Request describes one transfer to submit to the engine.
type Request struct {
	URL          string
	Destination  string
	ExpectedSize int64
	Headers      map[string]string
}

// Status is a point-in-time snapshot of one sub-task. BytesTotal may be zero
// while the engine has not yet learned the transfer size. Destination echoes
// the submitted destination path, which lets the orchestrator map surviving
// sub-tasks back to catalog items after a restart.
type Status struct {
	SubTaskID   string
	State       SubTaskState
	Destination string
	BytesDone   int64
	BytesTotal  int64
	Err         string
}

// Engine is the resumable download collaborator. Implementations own their
// persistence, retry policy, and byte-range resumption; the orchestrator
// only submits work and polls.
type Engine interface {
	// Submit enqueues a new transfer and returns its opaque sub-task ID.
	Submit(ctx context.Context, req Request) (string, error)

	// Status reports the current state of a sub-task.
	Status(ctx context.Context, subTaskID string) (Status, error)

	// Pause suspends a transfer, preserving its byte offset engine-side.
	Pause(ctx context.Context, subTaskID string) error

	// Resume restarts a paused transfer. Returns *TerminalStateError when
	// the sub-task finished or was cancelled in the meantime.
	Resume(ctx context.Context, subTaskID string) error

	// Cancel aborts a transfer. Cancelling a terminal sub-task is a no-op.
	Cancel(ctx context.Context, subTaskID string) error

	// List returns all sub-tasks in the given states; with no states it
	// returns every sub-task the engine still tracks.
	List(ctx context.Context, states ...SubTaskState) ([]Status, error)
}
