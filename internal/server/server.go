package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/complyark/pii-sentinel/internal/config"
	"github.com/complyark/pii-sentinel/internal/detect"
	"github.com/complyark/pii-sentinel/internal/logger"
	"github.com/complyark/pii-sentinel/internal/rules"
	"github.com/complyark/pii-sentinel/internal/websocket"
)

// Server exposes the rule store and detection pipeline over HTTP.
type Server struct {
	config    *config.Config
	logger    *logger.Logger
	store     *rules.Store
	detector  *detect.Detector
	router    *mux.Router
	server    *http.Server
	wsHub     *websocket.Hub
	startedAt time.Time
}

// New creates the API server around an already-wired store and
// detector.
func New(cfg *config.Config, store *rules.Store, detector *detect.Detector, log *logger.Logger) (*Server, error) {
	if store == nil || detector == nil {
		return nil, fmt.Errorf("server requires a rule store and a detector")
	}

	wsHub := websocket.NewHub(&websocket.HubConfig{
		BroadcastDetections:  cfg.WebSocket.Events.BroadcastDetections,
		BroadcastRuleChanges: cfg.WebSocket.Events.BroadcastRuleChanges,
		BroadcastSystem:      cfg.WebSocket.Events.BroadcastSystem,
		BroadcastConnections: cfg.WebSocket.Events.BroadcastConnections,
		Username:             cfg.WebSocket.Username,
		Password:             cfg.WebSocket.Password,
	}, log.WithComponent("websocket").Logger)

	s := &Server{
		config:    cfg,
		logger:    log.WithComponent("server"),
		store:     store,
		detector:  detector,
		router:    mux.NewRouter(),
		wsHub:     wsHub,
		startedAt: time.Now(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	if s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.wsHub.HandleWebSocket).Methods("GET")
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.metricsMiddleware)
	if s.config.RateLimit.Enabled {
		api.Use(s.rateLimitMiddleware)
	}

	api.HandleFunc("/rules", s.handleListRules).Methods("GET")
	api.HandleFunc("/rules", s.handleCreateRule).Methods("POST")
	api.HandleFunc("/rules/export", s.handleExportRules).Methods("GET")
	api.HandleFunc("/rules/import", s.handleImportRules).Methods("POST")
	api.HandleFunc("/rules/metrics", s.handleAllRuleMetrics).Methods("GET")
	api.HandleFunc("/rules/statistics", s.handleRuleStatistics).Methods("GET")
	api.HandleFunc("/rules/{id}", s.handleGetRule).Methods("GET")
	api.HandleFunc("/rules/{id}", s.handleUpdateRule).Methods("PUT")
	api.HandleFunc("/rules/{id}", s.handleDeleteRule).Methods("DELETE")
	api.HandleFunc("/rules/{id}/metrics", s.handleRuleMetrics).Methods("GET")

	api.HandleFunc("/evaluate", s.handleEvaluate).Methods("POST")
	api.HandleFunc("/evaluate/findings", s.handleEvaluateFindings).Methods("POST")

	api.HandleFunc("/detect", s.handleDetect).Methods("POST")
	api.HandleFunc("/detect/rules", s.handleAddDetectorRule).Methods("POST")
	api.HandleFunc("/detect/rules/{id}", s.handleRemoveDetectorRule).Methods("DELETE")
	api.HandleFunc("/detect/settings", s.handleDetectSettings).Methods("PUT")
	api.HandleFunc("/detect/statistics", s.handleDetectStatistics).Methods("GET")
	api.HandleFunc("/detect/connection", s.handleDetectConnection).Methods("GET")
	api.HandleFunc("/detect/cache", s.handleClearCache).Methods("DELETE")
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting PII-Sentinel API server",
		zap.Int("port", s.config.Server.Port),
		zap.String("analyzer_url", s.config.Detection.ServiceURL),
	)

	go s.wsHub.Run()

	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping PII-Sentinel API server")
	return s.server.Shutdown(ctx)
}

// Handler returns the configured router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth reports server liveness plus analyzer reachability.
// Analyzer failure does not fail the health check because the regex
// fallback keeps the engine serving.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	analyzerHealthy := s.detector.TestConnection(ctx) == nil

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "healthy",
		"analyzer_healthy": analyzerHealthy,
		"timestamp":        time.Now().Format(time.RFC3339),
	})
}

// handleInfo summarizes engine configuration and counters.
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	stats := s.store.Statistics()
	detStats := s.detector.GetStatistics(r.Context())

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":      "pii-sentinel",
		"version":   "0.1.0",
		"uptime":    time.Since(s.startedAt).String(),
		"rules":     stats,
		"detection": detStats,
		"websocket": s.wsHub.GetStats(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
