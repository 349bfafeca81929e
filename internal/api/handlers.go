package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/openbridge/openbridge/internal/config"
	"github.com/openbridge/openbridge/internal/state"
	"github.com/openbridge/openbridge/internal/tools"
	"github.com/openbridge/openbridge/internal/trace"
	"github.com/openbridge/openbridge/internal/upstream"
	"github.com/openbridge/openbridge/internal/version"
)

// Handler owns the route handlers and their dependencies.
type Handler struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *tools.Registry
	client   *upstream.Client
	store    state.Store
	tracer   *trace.Recorder
}

// NewHandler wires the handler set. store and tracer may be nil when the
// corresponding feature is disabled.
func NewHandler(cfg *config.Config, logger *zap.Logger, registry *tools.Registry, client *upstream.Client, store state.Store, tracer *trace.Recorder) *Handler {
	return &Handler{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		client:   client,
		store:    store,
		tracer:   tracer,
	}
}

// SetupRoutes configures the public surface. Health, version and metrics stay
// open; everything under /v1 sits behind the optional client key.
func SetupRoutes(router *mux.Router, h *Handler) {
	router.Use(requestIDMiddleware)
	router.Use(recoverMiddleware(h.logger))
	router.Use(accessLogMiddleware(h.logger))
	router.Use(metricsMiddleware)

	router.HandleFunc("/healthz", h.Healthz).Methods(http.MethodGet)
	router.HandleFunc("/version", h.Version).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := router.PathPrefix("/v1").Subrouter()
	v1.Use(authMiddleware(h.cfg.ClientAPIKey))
	v1.HandleFunc("/responses", h.CreateResponse).Methods(http.MethodPost)
	v1.HandleFunc("/responses/{id}", h.GetResponse).Methods(http.MethodGet)
	v1.HandleFunc("/responses/{id}", h.DeleteResponse).Methods(http.MethodDelete)
	v1.HandleFunc("/debug/responses/{id}", h.DebugResponse).Methods(http.MethodGet)
}

// Healthz handles GET /healthz.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Version handles GET /version.
func (h *Handler) Version(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"version": version.Version})
}

// GetResponse handles GET /v1/responses/{id}.
func (h *Handler) GetResponse(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if h.store == nil {
		respondError(w, apiError(http.StatusNotImplemented, "State store is disabled"))
		return
	}
	stored, err := h.store.Get(r.Context(), id)
	if errors.Is(err, state.ErrNotFound) {
		respondError(w, apiError(http.StatusNotFound, "response_id not found"))
		return
	}
	if err != nil {
		h.logger.Error("state get failed", zap.String("response_id", id), zap.Error(err))
		respondError(w, apiError(http.StatusInternalServerError, "state store unavailable"))
		return
	}
	respondJSON(w, http.StatusOK, stored.Response)
}

// DeleteResponse handles DELETE /v1/responses/{id}.
func (h *Handler) DeleteResponse(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if h.store == nil {
		respondError(w, apiError(http.StatusNotImplemented, "State store is disabled"))
		return
	}
	deleted, err := h.store.Delete(r.Context(), id)
	if err != nil {
		h.logger.Error("state delete failed", zap.String("response_id", id), zap.Error(err))
		respondError(w, apiError(http.StatusInternalServerError, "state store unavailable"))
		return
	}
	if !deleted {
		respondError(w, apiError(http.StatusNotFound, "response_id not found"))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}

// DebugResponse handles GET /v1/debug/responses/{id}. The id may be either a
// response id or a request id.
func (h *Handler) DebugResponse(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !h.tracer.Enabled() {
		respondError(w, apiError(http.StatusNotImplemented, "Tracing is disabled"))
		return
	}
	record, err := h.tracer.Lookup(r.Context(), id)
	if err != nil {
		respondError(w, apiError(http.StatusNotFound, "trace not found"))
		return
	}
	respondJSON(w, http.StatusOK, record)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsonFast.NewEncoder(w).Encode(payload)
}
