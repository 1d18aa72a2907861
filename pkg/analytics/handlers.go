package analytics

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/curatehub/pulse/pkg/httputil"
	"github.com/curatehub/pulse/pkg/observability"
)

// maxEventBody bounds ingestion payloads; analytics events are tiny
const maxEventBody = 64 * 1024

// Handlers exposes the analytics HTTP edge: fire-and-forget event ingestion
// and the read-only dashboard.
type Handlers struct {
	queue   *Queue
	reader  *Reader
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewHandlers creates the analytics HTTP handlers
func NewHandlers(queue *Queue, reader *Reader, logger *observability.Logger, metrics *observability.Metrics) *Handlers {
	return &Handlers{
		queue:   queue,
		reader:  reader,
		logger:  logger,
		metrics: metrics,
	}
}

// RegisterRoutes registers the analytics routes on the router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	api := router.PathPrefix("/api/v1/analytics").Subrouter()
	api.HandleFunc("/events", h.IngestEvent).Methods("POST")
	api.HandleFunc("/dashboard", h.GetDashboard).Methods("GET")
}

// IngestEvent validates an event payload and enqueues it verbatim. The
// response acknowledges acceptance only; aggregation happens asynchronously
// in the consumer.
func (h *Handlers) IngestEvent(w http.ResponseWriter, r *http.Request) {
	logger := observability.FromContext(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBody))
	if err != nil {
		httputil.WriteBadRequest(w, "failed to read request body")
		return
	}

	// Reject garbage at the edge so producers get immediate feedback; the
	// consumer re-validates since the queue accepts writers other than us.
	if _, err := ParseEvent(body); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.queue.Enqueue(r.Context(), body); err != nil {
		logger.WithError(err).Error("Failed to enqueue event")
		httputil.WriteErrorMessage(w, http.StatusServiceUnavailable, "event queue unavailable")
		return
	}

	h.metrics.EventsEnqueuedTotal.Inc()
	httputil.WriteAccepted(w, "event accepted")
}

// GetDashboard returns the daily activity series and the trending top list.
// Query parameters days and top_limit are optional; out-of-range values are
// clamped rather than rejected.
func (h *Handlers) GetDashboard(w http.ResponseWriter, r *http.Request) {
	logger := observability.FromContext(r.Context())

	days := httputil.ParseQueryInt(r, "days", defaultDashboardDays)
	topLimit := httputil.ParseQueryInt(r, "top_limit", defaultTopLimit)

	dash, err := h.reader.BuildDashboard(r.Context(), days, topLimit)
	if err != nil {
		logger.WithError(err).Error("Failed to build dashboard")
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, dash)
}
