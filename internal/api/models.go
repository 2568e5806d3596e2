package api

import (
	"time"

	"github.com/audiarr/audiarr/internal/domain"
)

// TaskResponse represents one task in API responses.
type TaskResponse struct {
	ID        string          `json:"id"`
	Class     string          `json:"class"`
	Priority  int             `json:"priority"`
	Status    string          `json:"status"`
	Meta      domain.Metadata `json:"meta,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	StartedAt *time.Time      `json:"started_at,omitempty"`
	EndedAt   *time.Time      `json:"ended_at,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// taskToResponse converts a task snapshot to its response form.
func taskToResponse(t domain.Task) TaskResponse {
	resp := TaskResponse{
		ID:        t.ID,
		Class:     string(t.Class),
		Priority:  t.Priority,
		Status:    string(t.Status),
		Meta:      t.Meta,
		CreatedAt: t.CreatedAt,
		Error:     t.Error,
	}
	if !t.StartedAt.IsZero() {
		started := t.StartedAt
		resp.StartedAt = &started
	}
	if !t.EndedAt.IsZero() {
		ended := t.EndedAt
		resp.EndedAt = &ended
	}
	return resp
}

func tasksToResponse(tasks []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskToResponse(t))
	}
	return out
}
