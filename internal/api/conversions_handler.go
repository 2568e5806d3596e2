package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/audiarr/audiarr/internal/api/shared"
	"github.com/audiarr/audiarr/internal/convert"
)

// ConversionLister exposes the conversion queue's persisted sub-task table.
type ConversionLister interface {
	List(ctx context.Context) ([]*convert.SubTask, error)
}

// ConversionsHandler serves the conversion queue's state to observers.
type ConversionsHandler struct {
	conv   ConversionLister
	logger *slog.Logger
}

// NewConversionsHandler creates a ConversionsHandler.
func NewConversionsHandler(conv ConversionLister, logger *slog.Logger) *ConversionsHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for ConversionsHandler")
	}
	return &ConversionsHandler{
		conv:   conv,
		logger: logger.With(slog.String("component", "conversions_handler")),
	}
}

// ConversionResponse represents one conversion sub-task in API responses.
// Decryption key material never leaves the process.
type ConversionResponse struct {
	ID         string    `json:"id"`
	ItemID     string    `json:"item_id"`
	Title      string    `json:"title,omitempty"`
	Status     string    `json:"status"`
	PositionMs int64     `json:"position_ms"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ListConversions handles GET /conversions requests, returning the queue's
// sub-tasks oldest first.
func (h *ConversionsHandler) ListConversions(w http.ResponseWriter, r *http.Request) {
	subTasks, err := h.conv.List(r.Context())
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Failed to list conversions", err)
		return
	}

	out := make([]ConversionResponse, 0, len(subTasks))
	for _, st := range subTasks {
		out = append(out, ConversionResponse{
			ID:         st.ID,
			ItemID:     st.ItemID,
			Title:      st.Title,
			Status:     string(st.Status),
			PositionMs: st.PositionMs,
			DurationMs: st.DurationMs,
			Error:      st.Error,
			CreatedAt:  st.CreatedAt,
			UpdatedAt:  st.UpdatedAt,
		})
	}
	shared.RespondWithJSON(w, r, http.StatusOK, out)
}
