// Package server exposes the advisor's query interface over HTTP: ranked
// recommendations, single-provider selection, outcome reporting, health,
// cost and preference endpoints.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/provider-advisor/internal/engine"
	"github.com/tributary-ai/provider-advisor/internal/health"
	"github.com/tributary-ai/provider-advisor/internal/ledger"
	"github.com/tributary-ai/provider-advisor/internal/middleware"
	"github.com/tributary-ai/provider-advisor/internal/prefs"
	"github.com/tributary-ai/provider-advisor/internal/providers"
	"github.com/tributary-ai/provider-advisor/internal/resolver"
	"github.com/tributary-ai/provider-advisor/internal/security"
	"github.com/tributary-ai/provider-advisor/internal/telemetry"
	"github.com/tributary-ai/provider-advisor/internal/types"
)

// Config holds HTTP server configuration.
type Config struct {
	Port           string                     `yaml:"port"`
	ReadTimeout    time.Duration              `yaml:"read_timeout"`
	WriteTimeout   time.Duration              `yaml:"write_timeout"`
	MaxHeaderBytes int                        `yaml:"max_header_bytes"`
	Security       *middleware.SecurityConfig `yaml:"security"`
}

// Server is the HTTP front end over the advisor components.
type Server struct {
	resolver   *resolver.Resolver
	engine     *engine.Engine
	registry   *providers.Registry
	monitor    *health.Monitor
	costs      *ledger.Ledger
	prefs      *prefs.Service
	reporter   *telemetry.Reporter
	secmw      *middleware.SecurityMiddleware
	logger     *logrus.Logger
	config     *Config
	httpServer *http.Server
}

// NewServer creates a server instance.
func NewServer(res *resolver.Resolver, eng *engine.Engine, registry *providers.Registry,
	monitor *health.Monitor, costs *ledger.Ledger, preferences *prefs.Service,
	reporter *telemetry.Reporter, config *Config, logger *logrus.Logger) (*Server, error) {

	s := &Server{
		resolver: res,
		engine:   eng,
		registry: registry,
		monitor:  monitor,
		costs:    costs,
		prefs:    preferences,
		reporter: reporter,
		logger:   logger,
		config:   config,
	}

	if config.Security != nil {
		secmw, err := middleware.NewSecurityMiddleware(config.Security, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize security middleware: %w", err)
		}
		s.secmw = secmw
	}

	return s, nil
}

// Start starts the HTTP server. Blocks until the server stops.
func (s *Server) Start() error {
	r := s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           ":" + s.config.Port,
		Handler:        r,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}

	s.logger.WithField("port", s.config.Port).Info("Starting provider advisor server")
	return s.httpServer.ListenAndServe()
}

// Stop stops the HTTP server gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping provider advisor server")
	if s.secmw != nil {
		s.secmw.Stop()
	}
	return s.httpServer.Shutdown(ctx)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	if s.secmw != nil {
		r.Use(s.secmw.Handler())
	}
	r.Use(s.loggingMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.contentTypeMiddleware)

	api := r.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/recommendations", s.handleRecommendations).Methods("GET")
	api.HandleFunc("/select", s.handleSelect).Methods("POST")
	api.HandleFunc("/outcome", s.handleOutcome).Methods("POST")

	api.HandleFunc("/providers", s.handleListProviders).Methods("GET")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/health/{name}", s.handleProviderHealth).Methods("GET")
	api.HandleFunc("/costs", s.handleCosts).Methods("GET")
	api.HandleFunc("/profiles", s.handleProfiles).Methods("GET")
	api.HandleFunc("/preferences", s.handleGetPreferences).Methods("GET")
	api.HandleFunc("/preferences", s.handlePutPreferences).Methods("PUT")
	api.HandleFunc("/audit", s.handleAudit).Methods("GET")

	// Liveness endpoint, outside the /v1 prefix and auth.
	r.HandleFunc("/health", s.handleLiveness).Methods("GET")

	s.setupSwaggerRoutes(r)

	return r
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: 200}

		next.ServeHTTP(wrapped, r)

		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapped.statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
			"remote_addr": r.RemoteAddr,
		}).Info("HTTP request")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) contentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" || r.Method == "PUT" {
			contentType := r.Header.Get("Content-Type")
			if contentType != "application/json" && contentType != "" {
				s.writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Handlers

// handleRecommendations returns the full ranked candidate list for an
// operation without committing to a selection.
func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	op := types.OperationType(r.URL.Query().Get("operation"))
	if op == "" {
		s.writeError(w, http.StatusBadRequest, "operation query parameter is required")
		return
	}

	tokens := int64(1000)
	if raw := r.URL.Query().Get("estimated_tokens"); raw != "" {
		if _, err := fmt.Sscan(raw, &tokens); err != nil || tokens < 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid estimated_tokens: %s", raw))
			return
		}
	}

	p := s.prefs.Snapshot()
	profile := p.ActiveProfile
	if raw := r.URL.Query().Get("profile"); raw != "" {
		profile = types.ProfileName(raw)
	}
	weights, err := engine.ResolveProfile(profile, p.CustomWeights)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	recs, err := s.engine.Recommend(r.Context(), op, tokens, profile, weights)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("ranking unavailable: %v", err))
		return
	}
	recs = resolver.WithoutExcluded(recs, &p)

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"operation":        op,
		"profile":          profile,
		"estimated_tokens": tokens,
		"recommendations":  recs,
		"timestamp":        time.Now().Unix(),
	})
}

// SelectRequest is the body of a selection call.
type SelectRequest struct {
	Operation         types.OperationType `json:"operation"`
	EstimatedTokens   int64               `json:"estimated_tokens"`
	OverrideBudget    bool                `json:"override_budget"`
	IncludeCandidates bool                `json:"include_candidates"`
}

// handleSelect resolves exactly one provider for the requested operation.
// Selection never fails; budget blocks surface as a typed field on the
// result with the terminal fallback selected.
func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req SelectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return
	}
	if req.Operation == "" {
		s.writeError(w, http.StatusBadRequest, "operation is required")
		return
	}
	if req.EstimatedTokens < 0 {
		s.writeError(w, http.StatusBadRequest, "estimated_tokens cannot be negative")
		return
	}

	result := s.resolver.Select(r.Context(), req.Operation, req.EstimatedTokens, resolver.Options{
		OverrideBudget:    req.OverrideBudget,
		IncludeCandidates: req.IncludeCandidates,
	})

	if s.secmw != nil && s.secmw.Audit() != nil {
		userID := ""
		if info, ok := security.GetAuthInfo(r.Context()); ok {
			userID = info.UserID
		}
		s.secmw.Audit().Record(userID, result)
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleOutcome accepts one execution outcome report and feeds it to the
// telemetry queue. Always fast: the report is applied asynchronously.
func (s *Server) handleOutcome(w http.ResponseWriter, r *http.Request) {
	var outcome types.Outcome
	if err := json.NewDecoder(r.Body).Decode(&outcome); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return
	}
	if outcome.Provider == "" || outcome.Operation == "" {
		s.writeError(w, http.StatusBadRequest, "provider and operation are required")
		return
	}

	s.reporter.Report(outcome)
	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"accepted":  true,
		"timestamp": time.Now().Unix(),
	})
}

// handleListProviders lists all registered provider descriptors.
func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	names := s.registry.Names()
	descriptors := make([]*types.ProviderDescriptor, 0, len(names))
	for _, name := range names {
		if desc, ok := s.registry.Descriptor(name); ok {
			descriptors = append(descriptors, desc)
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"providers": descriptors,
		"count":     len(descriptors),
	})
}

// handleHealth returns the derived health view for every tracked provider.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	statuses := s.monitor.AllStatuses()

	overall := "healthy"
	for _, status := range statuses {
		if status.State == types.HealthUnhealthy {
			overall = "degraded"
			break
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    overall,
		"providers": statuses,
		"timestamp": time.Now().Unix(),
	})
}

// handleProviderHealth returns the health view for one provider.
func (s *Server) handleProviderHealth(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if _, ok := s.registry.Descriptor(name); !ok {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("Provider %s not found", name))
		return
	}
	s.writeJSON(w, http.StatusOK, s.monitor.Status(name))
}

// handleCosts returns the current month's spend breakdown and the active
// budget limits.
func (s *Server) handleCosts(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"summary": s.costs.MonthlySummary(),
		"limits":  s.costs.Limits(),
	})
}

// handleProfiles lists the selectable weighting profiles.
func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"profiles": engine.ListProfiles(),
	})
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.prefs.Snapshot())
}

// handlePutPreferences replaces the preference record. The only rejected
// updates are configuration errors.
func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	var p types.UserPreferences
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return
	}
	if err := s.prefs.Update(r.Context(), p); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.prefs.Snapshot())
}

// handleAudit returns recent selection audit events, newest first.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.secmw == nil || s.secmw.Audit() == nil {
		s.writeError(w, http.StatusNotFound, "Selection auditing is not enabled")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if _, err := fmt.Sscan(raw, &limit); err != nil || limit <= 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit: %s", raw))
			return
		}
	}

	events := s.secmw.Audit().Recent(limit)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

// handleLiveness reports process liveness only; provider health lives under
// /v1/health.
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}

// Helpers

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSON(w, statusCode, map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "api_error",
			"code":    statusCode,
		},
		"timestamp": time.Now().Unix(),
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
