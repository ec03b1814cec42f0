// Package adminapi exposes the gateway's HTTP control surface: health,
// metrics, publish, replay and connection listing, grounded on
// ashureev-shsh-labs/internal/api's chi-router handler style.
package adminapi

import (
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/adred-codev/eventgate/internal/dispatcher"
	"github.com/adred-codev/eventgate/internal/health"
	"github.com/adred-codev/eventgate/internal/metrics"
	"github.com/adred-codev/eventgate/internal/registry"
	"github.com/adred-codev/eventgate/internal/replay"
)

// Handler holds the dependencies every admin route needs.
type Handler struct {
	dispatcher *dispatcher.Dispatcher
	metrics    *metrics.Registry
	health     *health.Sampler
	logger     zerolog.Logger
}

// New builds a Handler.
func New(d *dispatcher.Dispatcher, metricsRegistry *metrics.Registry, sampler *health.Sampler, logger zerolog.Logger) *Handler {
	return &Handler{dispatcher: d, metrics: metricsRegistry, health: sampler, logger: logger}
}

// Routes mounts every admin endpoint spec.md §4.8/§6 names onto r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.Healthz)
	r.Get("/metrics", h.Metrics)
	r.Post("/admin/publish", h.Publish)
	r.Post("/admin/replay", h.Replay)
	r.Get("/admin/connections", h.Connections)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// Healthz reports process resource usage; it never fails on its own.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	snapshot := h.health.Sample(100 * time.Millisecond)
	JSON(w, http.StatusOK, snapshot)
}

// Metrics serves the Prometheus exposition described in spec.md §4.7.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	h.metrics.Handler().ServeHTTP(w, r)
}

type publishRequest struct {
	Subjects   []string       `json:"subjects"`
	Stream     string         `json:"stream"`
	RoutingKey string         `json:"routing_key"`
	Payload    map[string]any `json:"payload"`
}

// Publish invokes the admin-triggered publish RPC.
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sent, err := h.dispatcher.AdminPublish(req.Subjects, req.Stream, req.RoutingKey, req.Payload)
	if err != nil {
		h.logger.Warn().Err(err).Msg("admin publish failed")
		Error(w, http.StatusBadGateway, err.Error())
		return
	}
	JSON(w, http.StatusOK, map[string]int{"sent": sent})
}

type replayRequest struct {
	RequestID        string `json:"request_id"`
	TargetExchange   string `json:"target_exchange"`
	TargetRoutingKey string `json:"target_routing_key"`
	Limit            int64  `json:"limit"`
	IdempotencyKey   string `json:"idempotency_key"`
	APIKey           string `json:"api_key"`
}

// Replay invokes ReplayControl's replay-from-DLQ operation, deriving the
// caller IP from the request's RemoteAddr.
func (h *Handler) Replay(w http.ResponseWriter, r *http.Request) {
	var req replayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	callerIP := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		callerIP = host
	}

	result, err := h.dispatcher.TriggerReplay(r.Context(), replay.Request{
		RequestID:        req.RequestID,
		CallerIP:         callerIP,
		APIKey:           req.APIKey,
		TargetExchange:   req.TargetExchange,
		TargetRoutingKey: req.TargetRoutingKey,
		Limit:            req.Limit,
		IdempotencyKey:   req.IdempotencyKey,
	})
	if err != nil {
		h.logger.Warn().Err(err).Str("request_id", req.RequestID).Msg("replay failed")
		Error(w, http.StatusBadGateway, err.Error())
		return
	}
	if result.Denied != replay.DeniedNone {
		Error(w, http.StatusTooManyRequests, "replay denied")
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"replayed":               result.Replayed,
		"from_idempotent_replay": result.FromIdempotentReplay,
	})
}

// Connections lists live connections, optionally filtered by subject or
// user_id query parameters.
func (h *Handler) Connections(w http.ResponseWriter, r *http.Request) {
	filter := registry.ListFilter{
		Subject: r.URL.Query().Get("subject"),
		UserID:  r.URL.Query().Get("user_id"),
	}
	JSON(w, http.StatusOK, h.dispatcher.ListConnections(filter))
}
