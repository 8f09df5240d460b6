package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"contentsync/internal/trigger"
	"contentsync/pkg/platform/httputil"
	"contentsync/pkg/platform/middleware/admin"
)

const healthTimeout = 2 * time.Second

// Triggers lists registered handler identities.
type Triggers interface {
	Registered() []string
}

// EventPublisher injects change events into the configured backend.
type EventPublisher interface {
	Publish(ctx context.Context, events ...trigger.Event) error
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Handler is the admin HTTP surface.
type Handler struct {
	triggers  Triggers
	publisher EventPublisher
	gatherer  prometheus.Gatherer
	checks    map[string]HealthCheck
	token     string
	logger    *slog.Logger
}

type Option func(*Handler)

// WithPublisher enables POST /events for callers presenting token.
func WithPublisher(p EventPublisher, token string) Option {
	return func(h *Handler) {
		h.publisher = p
		h.token = token
	}
}

// WithHealthCheck adds a named dependency check to /healthz.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(h *Handler) {
		h.checks[name] = check
	}
}

func NewHandler(triggers Triggers, gatherer prometheus.Gatherer, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		triggers: triggers,
		gatherer: gatherer,
		checks:   make(map[string]HealthCheck),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewRouter mounts the admin endpoints.
func NewRouter(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.HandleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	r.Get("/triggers", h.HandleTriggers)
	if h.publisher != nil && h.token != "" {
		r.With(admin.RequireAdminToken(h.token, h.logger)).Post("/events", h.HandlePublish)
	}
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HandleHealth handles GET /healthz.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok"}
	status := http.StatusOK
	if len(h.checks) > 0 {
		resp.Checks = make(map[string]string, len(h.checks))
	}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.WarnContext(ctx, "health check failed", "check", name, "error", err)
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	httputil.WriteJSON(w, status, resp)
}

type triggersResponse struct {
	Handlers []string `json:"handlers"`
}

// HandleTriggers handles GET /triggers.
func (h *Handler) HandleTriggers(w http.ResponseWriter, _ *http.Request) {
	ids := h.triggers.Registered()
	if ids == nil {
		ids = []string{}
	}
	sort.Strings(ids)
	httputil.WriteJSON(w, http.StatusOK, triggersResponse{Handlers: ids})
}

type publishRequest struct {
	Events []trigger.Event `json:"events"`
}

type publishResponse struct {
	Published int `json:"published"`
}

// HandlePublish handles POST /events.
func (h *Handler) HandlePublish(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetReqID(ctx)

	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, httputil.BadRequest("invalid request body"))
		return
	}
	if len(req.Events) == 0 {
		httputil.WriteError(w, httputil.BadRequest("at least one event is required"))
		return
	}
	for _, e := range req.Events {
		if len(e.Path) == 0 || e.Path[0] != '/' {
			httputil.WriteError(w, httputil.BadRequest("event path must be absolute"))
			return
		}
		if e.Type == 0 {
			httputil.WriteError(w, httputil.BadRequest("event type is required"))
			return
		}
	}

	if err := h.publisher.Publish(ctx, req.Events...); err != nil {
		h.logger.ErrorContext(ctx, "publish change events failed",
			"request_id", requestID,
			"events", len(req.Events),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "change events published",
		"request_id", requestID,
		"events", len(req.Events),
	)
	httputil.WriteJSON(w, http.StatusAccepted, publishResponse{Published: len(req.Events)})
}
