// Package admin implements the basic administrative HTTP surface (rule and
// config CRUD, health, metrics, and the decision event stream) described in
// SPEC_FULL.md §6. It is intentionally thin: persistence itself is the
// black-box store's job, and the admin surface's own hardening (auth, request
// validation depth) is explicitly out of scope beyond what's implemented here.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/secprog/poor-man-ratelimiter/internal/ratelimit/pipeline"
	"github.com/secprog/poor-man-ratelimiter/internal/ratelimit/rules"
	"github.com/secprog/poor-man-ratelimiter/internal/ratelimit/store"
	"github.com/secprog/poor-man-ratelimiter/pkg/logger"
)

// Server bundles the collaborators the admin HTTP surface needs.
type Server struct {
	ruleStore store.RuleStore
	cache     *rules.Cache
	config    store.ConfigStore
	pingable  interface {
		Ping(ctx context.Context) error
	}
	hub    *pipeline.Hub
	logger *logger.Logger
}

// Config bundles the constructor arguments for Server.
type Config struct {
	RuleStore store.RuleStore
	Cache     *rules.Cache
	Config    store.ConfigStore
	Pingable  interface {
		Ping(ctx context.Context) error
	}
	Hub         *pipeline.Hub
	Registry    *prometheus.Registry
	CORSOrigins []string
	AdminRPS    float64
	AdminBurst  int
}

// NewRouter builds the admin HTTP surface's router, wired with CORS and a
// self-throttle so a misbehaving dashboard can't starve the data path it
// shares a process with.
func NewRouter(cfg Config, log *logger.Logger) http.Handler {
	s := &Server{
		ruleStore: cfg.RuleStore,
		cache:     cfg.Cache,
		config:    cfg.Config,
		pingable:  cfg.Pingable,
		hub:       cfg.Hub,
		logger:    log.Named("admin"),
	}

	r := mux.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(throttleMiddleware(cfg.AdminRPS, cfg.AdminBurst))

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", metricsHandler(cfg.Registry)).Methods(http.MethodGet)

	r.HandleFunc("/rules", s.handleListRules).Methods(http.MethodGet)
	r.HandleFunc("/rules", s.handleCreateRule).Methods(http.MethodPost)
	r.HandleFunc("/rules/active", s.handleListActiveRules).Methods(http.MethodGet)
	r.HandleFunc("/rules/refresh", s.handleRefreshRules).Methods(http.MethodPost)
	r.HandleFunc("/rules/{id}", s.handleGetRule).Methods(http.MethodGet)
	r.HandleFunc("/rules/{id}", s.handleUpdateRule).Methods(http.MethodPut)
	r.HandleFunc("/rules/{id}", s.handleDeleteRule).Methods(http.MethodDelete)
	r.HandleFunc("/rules/{id}/queue", s.handlePatchQueue).Methods(http.MethodPatch)
	r.HandleFunc("/rules/{id}/body-limit", s.handlePatchBodyLimit).Methods(http.MethodPatch)

	r.HandleFunc("/config", s.handleListConfig).Methods(http.MethodGet)
	r.HandleFunc("/config/{key}", s.handleGetConfig).Methods(http.MethodGet)
	r.HandleFunc("/config/{key}", s.handleSetConfig).Methods(http.MethodPost)

	if s.hub != nil {
		r.HandleFunc("/events/stream", s.handleEventsStream).Methods(http.MethodGet)
	}

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   allowedOriginsOrWildcard(cfg.CORSOrigins),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           600,
	})

	return corsMiddleware.Handler(r)
}

// metricsHandler gathers from reg, the same registry the core's custom
// collectors (ratelimit_decisions_total, ratelimit_store_failopen_total,
// ratelimit_queue_depth, the circuit-breaker state gauge) are registered
// against, instead of promhttp.Handler()'s prometheus.DefaultGatherer,
// which those collectors are never added to. Falls back to the default
// handler only when no registry was wired, so the admin surface stays
// usable in tests that don't construct one.
func metricsHandler(reg *prometheus.Registry) http.Handler {
	if reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func allowedOriginsOrWildcard(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.pingable.Ping(ctx); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store unreachable", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	body := map[string]interface{}{
		"error":   http.StatusText(statusCode),
		"message": message,
	}
	if err != nil {
		body["details"] = err.Error()
	}
	respondJSON(w, statusCode, body)
}

func newRuleID() string {
	return uuid.NewString()
}
