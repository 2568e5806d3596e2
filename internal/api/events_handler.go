package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/audiarr/audiarr/internal/events"
	"github.com/audiarr/audiarr/internal/platform/logger"
)

// EventsHandler streams orchestrator events to clients over server-sent
// events. Each subscriber gets an independent bounded feed; a client that
// stops reading loses old events rather than stalling the publishers.
type EventsHandler struct {
	bus    *events.Bus
	logger *slog.Logger
}

// NewEventsHandler creates a new EventsHandler.
func NewEventsHandler(bus *events.Bus, logger *slog.Logger) *EventsHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for EventsHandler")
	}
	return &EventsHandler{
		bus:    bus,
		logger: logger.With(slog.String("component", "events_handler")),
	}
}

// Stream handles GET /events requests.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	flusher, ok := w.(http.Flusher)
	if !ok {
		log.Warn("response writer does not support streaming")
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub, cancel := h.bus.Subscribe()
	defer cancel()

	log.Debug("event stream opened", slog.String("remote_addr", r.RemoteAddr))

	for {
		select {
		case <-r.Context().Done():
			log.Debug("event stream closed", slog.String("remote_addr", r.RemoteAddr))
			return
		case ev, open := <-sub:
			if !open {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				log.Error("failed to marshal event", slog.String("error", err.Error()))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
