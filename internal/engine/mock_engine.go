package engine

import (
	"context"
	"fmt"
	"sync"
)

// MockEngine implements the Engine interface for testing. Tests script
// transfer behavior by mutating sub-task state through SetState and
// AdvanceBytes, or by overriding the Fn hooks.
type MockEngine struct {
	mutex  sync.RWMutex
	tasks  map[string]*Status
	nextID int

	SubmitFn func(ctx context.Context, req Request) (string, error)
	StatusFn func(ctx context.Context, subTaskID string) (Status, error)
	ResumeFn func(ctx context.Context, subTaskID string) error
}

// NewMockEngine creates a MockEngine with default in-memory behavior.
func NewMockEngine() *MockEngine {
	return &MockEngine{
		tasks: make(map[string]*Status),
	}
}

// Submit records the request and returns a generated sub-task ID. New
// sub-tasks start in StateTransferring with the expected size as the total.
func (e *MockEngine) Submit(ctx context.Context, req Request) (string, error) {
	if e.SubmitFn != nil {
		return e.SubmitFn(ctx, req)
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()

	e.nextID++
	id := fmt.Sprintf("sub-%d", e.nextID)
	e.tasks[id] = &Status{
		SubTaskID:   id,
		State:       StateTransferring,
		Destination: req.Destination,
		BytesTotal:  req.ExpectedSize,
	}
	return id, nil
}

// Status reports the scripted state of a sub-task.
func (e *MockEngine) Status(ctx context.Context, subTaskID string) (Status, error) {
	if e.StatusFn != nil {
		return e.StatusFn(ctx, subTaskID)
	}

	e.mutex.RLock()
	defer e.mutex.RUnlock()

	st, ok := e.tasks[subTaskID]
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrSubTaskUnknown, subTaskID)
	}
	return *st, nil
}

// Pause moves a non-terminal sub-task to StatePaused.
func (e *MockEngine) Pause(ctx context.Context, subTaskID string) error {
	return e.setNonTerminal(subTaskID, StatePaused)
}

// Resume moves a paused sub-task back to StateTransferring.
func (e *MockEngine) Resume(ctx context.Context, subTaskID string) error {
	if e.ResumeFn != nil {
		return e.ResumeFn(ctx, subTaskID)
	}
	return e.setNonTerminal(subTaskID, StateTransferring)
}

// Cancel moves a sub-task to StateCancelled; cancelling a terminal sub-task
// is a no-op, matching real engine behavior.
func (e *MockEngine) Cancel(ctx context.Context, subTaskID string) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	st, ok := e.tasks[subTaskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSubTaskUnknown, subTaskID)
	}
	if st.State.Terminal() {
		return nil
	}
	st.State = StateCancelled
	return nil
}

// List returns sub-tasks filtered by state.
func (e *MockEngine) List(ctx context.Context, states ...SubTaskState) ([]Status, error) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	var out []Status
	for _, st := range e.tasks {
		if len(states) == 0 {
			out = append(out, *st)
			continue
		}
		for _, want := range states {
			if st.State == want {
				out = append(out, *st)
				break
			}
		}
	}
	return out, nil
}

// SetState forces a sub-task into the given state, creating it if needed.
// Tests use this to simulate external transitions between polls.
func (e *MockEngine) SetState(subTaskID string, state SubTaskState) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	st, ok := e.tasks[subTaskID]
	if !ok {
		st = &Status{SubTaskID: subTaskID}
		e.tasks[subTaskID] = st
	}
	st.State = state
}

// AdvanceBytes moves a sub-task's byte counters forward, completing it when
// done reaches the total.
func (e *MockEngine) AdvanceBytes(subTaskID string, done, total int64) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	st, ok := e.tasks[subTaskID]
	if !ok {
		return
	}
	st.BytesDone = done
	st.BytesTotal = total
	if total > 0 && done >= total {
		st.State = StateCompleted
	}
}

func (e *MockEngine) setNonTerminal(subTaskID string, state SubTaskState) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	st, ok := e.tasks[subTaskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSubTaskUnknown, subTaskID)
	}
	if st.State.Terminal() {
		return &TerminalStateError{SubTaskID: subTaskID, State: st.State}
	}
	st.State = state
	return nil
}
