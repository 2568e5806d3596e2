package license

import (
	"context"
	"sync"
)

// MockService implements the Service interface for testing.
type MockService struct {
	mutex    sync.Mutex
	requests []string

	NegotiateFn func(ctx context.Context, itemID string) (*License, error)
}

// NewMockService creates a MockService that grants a license for every item.
func NewMockService() *MockService {
	return &MockService{}
}

// Negotiate records the request and delegates to NegotiateFn, or returns a
// stub license when no override is set.
func (s *MockService) Negotiate(ctx context.Context, itemID string) (*License, error) {
	s.mutex.Lock()
	s.requests = append(s.requests, itemID)
	s.mutex.Unlock()

	if s.NegotiateFn != nil {
		return s.NegotiateFn(ctx, itemID)
	}
	return &License{
		ItemID:       itemID,
		ContentURL:   "https://cdn.example.com/" + itemID + ".aaxc",
		ExpectedSize: 1 << 20,
		Key:          "0011223344556677",
		IV:           "8899aabbccddeeff",
	}, nil
}

// Requests returns the item IDs negotiated so far.
func (s *MockService) Requests() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	out := make([]string, len(s.requests))
	copy(out, s.requests)
	return out
}
