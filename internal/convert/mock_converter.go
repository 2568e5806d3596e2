package convert

import (
	"context"
	"sync"
)

// MockConverter implements the Converter interface for testing. The default
// behavior completes instantly; tests override ConvertFn to block, fail, or
// emit progress.
type MockConverter struct {
	mutex     sync.Mutex
	converted []string

	ConvertFn func(ctx context.Context, st *SubTask, progress func(Progress)) error
}

// NewMockConverter creates a MockConverter.
func NewMockConverter() *MockConverter {
	return &MockConverter{}
}

// Convert records the sub-task and delegates to ConvertFn when set.
func (c *MockConverter) Convert(ctx context.Context, st *SubTask, progress func(Progress)) error {
	c.mutex.Lock()
	c.converted = append(c.converted, st.ID)
	c.mutex.Unlock()

	if c.ConvertFn != nil {
		return c.ConvertFn(ctx, st, progress)
	}
	return nil
}

// Converted returns the sub-task IDs converted so far, in order.
func (c *MockConverter) Converted() []string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	out := make([]string, len(c.converted))
	copy(out, c.converted)
	return out
}
