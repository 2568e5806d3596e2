// Package license defines the contract of the licensing collaborator that
// authorizes an acquisition and describes how to fetch and decrypt it.
package license

import (
	"context"
	"errors"
)

// Common errors returned by license services.
var (
	// ErrDenied is returned when the licensing service refuses to issue a
	// license for the item (not owned, region-locked, revoked).
	ErrDenied = errors.New("license denied for item")

	// ErrTokenInvalid is returned when a license token fails signature or
	// claim validation.
	ErrTokenInvalid = errors.New("license token is not valid")
)

// License is the result of a successful negotiation: where to fetch the
// encrypted payload, how large it is expected to be, and the parameters the
// decrypt tool needs afterwards.
type License struct {
	ItemID       string
	ContentURL   string
	ExpectedSize int64
	Headers      map[string]string

	// Key and IV are opaque decryption parameters passed through to the
	// external decrypt tool.
	Key string
	IV  string
}

// Service negotiates licenses with the remote licensing endpoint. The call
// is synchronous and carries its own timeout discipline; a failure here is
// terminal for the acquisition, since nothing has been transferred yet.
type Service interface {
	Negotiate(ctx context.Context, itemID string) (*License, error)
}
