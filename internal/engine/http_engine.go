package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPEngine talks to the download engine daemon over its REST API. The
// daemon owns transfer persistence and byte-range resumption; this client
// only translates calls and states across the wire.
type HTTPEngine struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewHTTPEngine creates an HTTPEngine for the given endpoint.
func NewHTTPEngine(endpoint string, logger *slog.Logger) *HTTPEngine {
	return &HTTPEngine{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger.With("component", "download_engine"),
	}
}

// wireRequest is the submit payload.
type wireRequest struct {
	URL          string            `json:"url"`
	Destination  string            `json:"destination"`
	ExpectedSize int64             `json:"expected_size,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
}

// wireStatus is the daemon's sub-task representation.
type wireStatus struct {
	ID          string `json:"id"`
	State       string `json:"state"`
	Destination string `json:"destination"`
	BytesDone   int64  `json:"bytes_done"`
	BytesTotal  int64  `json:"bytes_total"`
	Error       string `json:"error,omitempty"`
}

func (ws wireStatus) toStatus() Status {
	return Status{
		SubTaskID:   ws.ID,
		State:       SubTaskState(ws.State),
		Destination: ws.Destination,
		BytesDone:   ws.BytesDone,
		BytesTotal:  ws.BytesTotal,
		Err:         ws.Error,
	}
}

// Submit implements Engine.
func (e *HTTPEngine) Submit(ctx context.Context, req Request) (string, error) {
	payload, err := json.Marshal(wireRequest{
		URL:          req.URL,
		Destination:  req.Destination,
		ExpectedSize: req.ExpectedSize,
		Headers:      req.Headers,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode submit payload: %w", err)
	}

	body, status, err := e.do(ctx, http.MethodPost, "/subtasks", payload)
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return "", fmt.Errorf("engine submit returned %d", status)
	}

	var ws wireStatus
	if err := json.Unmarshal(body, &ws); err != nil {
		return "", fmt.Errorf("failed to decode submit response: %w", err)
	}

	e.logger.Debug("transfer submitted", "sub_task_id", ws.ID, "destination", req.Destination)
	return ws.ID, nil
}

// Status implements Engine.
func (e *HTTPEngine) Status(ctx context.Context, subTaskID string) (Status, error) {
	body, status, err := e.do(ctx, http.MethodGet, "/subtasks/"+url.PathEscape(subTaskID), nil)
	if err != nil {
		return Status{}, err
	}
	if status == http.StatusNotFound {
		return Status{}, fmt.Errorf("%w: %s", ErrSubTaskUnknown, subTaskID)
	}
	if status != http.StatusOK {
		return Status{}, fmt.Errorf("engine status returned %d", status)
	}

	var ws wireStatus
	if err := json.Unmarshal(body, &ws); err != nil {
		return Status{}, fmt.Errorf("failed to decode status response: %w", err)
	}
	return ws.toStatus(), nil
}

// Pause implements Engine.
func (e *HTTPEngine) Pause(ctx context.Context, subTaskID string) error {
	return e.control(ctx, subTaskID, "pause")
}

// Resume implements Engine.
func (e *HTTPEngine) Resume(ctx context.Context, subTaskID string) error {
	return e.control(ctx, subTaskID, "resume")
}

// Cancel implements Engine.
func (e *HTTPEngine) Cancel(ctx context.Context, subTaskID string) error {
	return e.control(ctx, subTaskID, "cancel")
}

// control issues one pause/resume/cancel action. A 409 carries the
// sub-task's terminal state and maps to *TerminalStateError.
func (e *HTTPEngine) control(ctx context.Context, subTaskID, action string) error {
	path := fmt.Sprintf("/subtasks/%s/%s", url.PathEscape(subTaskID), action)
	body, status, err := e.do(ctx, http.MethodPost, path, nil)
	if err != nil {
		return err
	}

	switch status {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrSubTaskUnknown, subTaskID)
	case http.StatusConflict:
		var ws wireStatus
		if err := json.Unmarshal(body, &ws); err == nil && SubTaskState(ws.State).Terminal() {
			return &TerminalStateError{SubTaskID: subTaskID, State: SubTaskState(ws.State)}
		}
		return fmt.Errorf("engine %s conflicted for %s", action, subTaskID)
	default:
		return fmt.Errorf("engine %s returned %d", action, status)
	}
}

// List implements Engine.
func (e *HTTPEngine) List(ctx context.Context, states ...SubTaskState) ([]Status, error) {
	path := "/subtasks"
	if len(states) > 0 {
		q := url.Values{}
		for _, s := range states {
			q.Add("state", string(s))
		}
		path += "?" + q.Encode()
	}

	body, status, err := e.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("engine list returned %d", status)
	}

	var wire []wireStatus
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("failed to decode list response: %w", err)
	}

	out := make([]Status, 0, len(wire))
	for _, ws := range wire {
		out = append(out, ws.toStatus())
	}
	return out, nil
}

// do executes one request and returns the body and status code. Transport
// failures are errors; HTTP error statuses are the caller's to interpret.
func (e *HTTPEngine) do(ctx context.Context, method, path string, payload []byte) ([]byte, int, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, e.endpoint+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build engine request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("engine request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read engine response: %w", err)
	}
	return body, resp.StatusCode, nil
}
