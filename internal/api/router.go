package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/audiarr/audiarr/internal/api/middleware"
)

// NewRouter assembles the HTTP routes. The metrics registry may be nil, in
// which case the /metrics endpoint is omitted.
func NewRouter(
	tasks *TaskHandler,
	conversions *ConversionsHandler,
	eventsHandler *EventsHandler,
	registry *prometheus.Registry,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.TraceMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", tasks.CreateTask)
		r.Get("/", tasks.ListTasks)
		r.Get("/history", tasks.ListHistory)
		r.Get("/{id}", tasks.GetTask)
		r.Post("/{id}/pause", tasks.PauseTask)
		r.Post("/{id}/resume", tasks.ResumeTask)
		r.Post("/{id}/cancel", tasks.CancelTask)
	})

	r.Get("/conversions", conversions.ListConversions)

	r.Post("/catalog/refresh", tasks.RefreshCatalog)
	r.Post("/policy/scan", tasks.TriggerScan)

	r.Get("/events", eventsHandler.Stream)

	return r
}
