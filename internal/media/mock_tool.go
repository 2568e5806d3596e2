package media

import (
	"context"
	"sync"
	"time"
)

// MockTool implements the Tool interface for testing. Tests script per-file
// durations and per-checkpoint error counts.
type MockTool struct {
	mutex     sync.Mutex
	durations map[string]time.Duration
	errors    map[string]map[time.Duration]int
	decoded   []time.Duration

	ProbeFn func(ctx context.Context, path string) (time.Duration, error)
}

// NewMockTool creates an empty MockTool. Unscripted files probe as one hour
// long and decode cleanly.
func NewMockTool() *MockTool {
	return &MockTool{
		durations: make(map[string]time.Duration),
		errors:    make(map[string]map[time.Duration]int),
	}
}

// SetDuration scripts the probed duration for a path.
func (t *MockTool) SetDuration(path string, d time.Duration) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.durations[path] = d
}

// InjectErrors scripts a decoder error count at one checkpoint of a path.
func (t *MockTool) InjectErrors(path string, offset time.Duration, count int) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	if t.errors[path] == nil {
		t.errors[path] = make(map[time.Duration]int)
	}
	t.errors[path][offset] = count
}

// DecodedOffsets returns the checkpoint offsets decoded so far, in order.
func (t *MockTool) DecodedOffsets() []time.Duration {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	out := make([]time.Duration, len(t.decoded))
	copy(out, t.decoded)
	return out
}

// Probe returns the scripted duration, defaulting to one hour.
func (t *MockTool) Probe(ctx context.Context, path string) (time.Duration, error) {
	if t.ProbeFn != nil {
		return t.ProbeFn(ctx, path)
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()
	if d, ok := t.durations[path]; ok {
		return d, nil
	}
	return time.Hour, nil
}

// DecodeWindow returns the scripted error count for the checkpoint.
func (t *MockTool) DecodeWindow(
	ctx context.Context,
	path string,
	offset, window time.Duration,
) (int, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.decoded = append(t.decoded, offset)
	return t.errors[path][offset], nil
}
