package license

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// HTTPService negotiates licenses against the remote licensing endpoint.
// The endpoint answers POST /licenses/{itemID} with a signed license token;
// the token's HMAC signature is verified locally before any of its claims
// are trusted.
type HTTPService struct {
	endpoint string
	parser   *TokenParser
	client   *http.Client
	logger   *slog.Logger
}

// NewHTTPService creates an HTTPService for the given endpoint.
func NewHTTPService(endpoint string, parser *TokenParser, logger *slog.Logger) *HTTPService {
	return &HTTPService{
		endpoint: strings.TrimRight(endpoint, "/"),
		parser:   parser,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger.With("component", "license_service"),
	}
}

// licenseTokenResponse is the endpoint's response envelope.
type licenseTokenResponse struct {
	Token string `json:"token"`
}

// Negotiate implements Service.
func (s *HTTPService) Negotiate(ctx context.Context, itemID string) (*License, error) {
	url := fmt.Sprintf("%s/licenses/%s", s.endpoint, itemID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build license request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("license request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden, http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrDenied, itemID)
	default:
		return nil, fmt.Errorf("license endpoint returned %d for %s", resp.StatusCode, itemID)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read license response: %w", err)
	}

	var envelope licenseTokenResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode license response: %w", err)
	}

	lic, err := s.parser.Parse(envelope.Token)
	if err != nil {
		return nil, err
	}
	if lic.ItemID != itemID {
		return nil, fmt.Errorf("%w: token issued for different item", ErrTokenInvalid)
	}

	s.logger.Debug("license negotiated", "item_id", itemID, "expected_size", lic.ExpectedSize)
	return lic, nil
}

// Refresh renews the session credentials held by the licensing endpoint.
// The recurring credential-refresh task calls this before the upstream
// session expires.
func (s *HTTPService) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/session/refresh", nil)
	if err != nil {
		return fmt.Errorf("failed to build refresh request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("credential refresh request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("credential refresh endpoint returned %d", resp.StatusCode)
	}

	s.logger.Info("session credentials refreshed")
	return nil
}
