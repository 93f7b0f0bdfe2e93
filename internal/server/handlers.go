package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/complyark/pii-sentinel/internal/detect"
	"github.com/complyark/pii-sentinel/internal/metrics"
	"github.com/complyark/pii-sentinel/internal/pii"
	"github.com/complyark/pii-sentinel/internal/rules"
	"github.com/complyark/pii-sentinel/internal/websocket"
)

// scanRequest is the shared request body for evaluate and detect.
type scanRequest struct {
	Content string          `json:"content"`
	Context pii.ScanContext `json:"context"`
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	tag := r.URL.Query().Get("tag")
	if tag != "" {
		writeJSON(w, http.StatusOK, s.store.GetRulesByTag(tag))
		return
	}
	writeJSON(w, http.StatusOK, s.store.GetAllRules())
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var draft rules.Draft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id, err := s.store.AddRule(draft)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	rule, err := s.store.GetRule(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.broadcastRuleChange("created", rule)
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.store.GetRule(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var patch rules.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.store.UpdateRule(id, patch); err != nil {
		s.writeError(w, r, err)
		return
	}

	rule, err := s.store.GetRule(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.broadcastRuleChange("updated", rule)
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	rule, err := s.store.GetRule(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.store.RemoveRule(id); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.broadcastRuleChange("deleted", rule)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExportRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"exportedAt": time.Now().UTC(),
		"rules":      s.store.ExportRules(),
	})
}

func (s *Server) handleImportRules(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Rules []rules.PrivacyRule `json:"rules"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result := s.store.ImportRules(payload.Rules)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRuleMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetRuleMetrics(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleAllRuleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.GetAllRuleMetrics())
}

func (s *Server) handleRuleStatistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Statistics())
}

// handleEvaluate runs the custom-rule engine alone and returns the
// per-rule evaluation results plus the derived findings.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	results := s.store.EvaluateRules(req.Content, req.Context)
	findings := s.store.ConvertToFindings(results, req.Context)

	for _, result := range results {
		outcome := "no_match"
		if result.Matched {
			outcome = "match"
		}
		metrics.RuleEvaluationsTotal.WithLabelValues(outcome).Inc()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results":  results,
		"findings": findings,
	})
}

// handleEvaluateFindings runs the custom-rule engine and returns only
// the derived findings, without the per-rule evaluation detail.
func (s *Server) handleEvaluateFindings(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	results := s.store.EvaluateRules(req.Content, req.Context)
	findings := s.store.ConvertToFindings(results, req.Context)
	if findings == nil {
		findings = []pii.Finding{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"findings": findings,
	})
}

// handleDetect runs the full hybrid detection pipeline.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.detector.Detect(r.Context(), req.Content, req.Context)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	metrics.DetectionsTotal.WithLabelValues(string(result.DetectionMethod)).Inc()
	for _, f := range result.Findings {
		metrics.FindingsTotal.WithLabelValues(string(f.Type), string(f.SensitivityLevel)).Inc()
	}

	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeDetection,
		Timestamp: time.Now(),
		RequestID: getRequestID(r.Context()),
		Data: websocket.DetectionEvent{
			RequestID:     getRequestID(r.Context()),
			ConnectorType: req.Context.ConnectorType,
			DataSource:    req.Context.DataSource,
			Findings:      result.Findings,
			TotalFindings: len(result.Findings),
			Method:        string(result.DetectionMethod),
			ProcessingMS:  result.ProcessingTimeMs,
		},
	})

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAddDetectorRule(w http.ResponseWriter, r *http.Request) {
	var rule pii.CustomRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if rule.Name == "" || rule.Pattern == "" {
		writeErrorMessage(w, http.StatusBadRequest, "name and pattern are required")
		return
	}

	id := s.detector.AddCustomRule(rule)
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleRemoveDetectorRule(w http.ResponseWriter, r *http.Request) {
	if !s.detector.RemoveCustomRule(mux.Vars(r)["id"]) {
		writeErrorMessage(w, http.StatusNotFound, "rule not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDetectSettings applies runtime detection toggles. Absent
// fields leave the current setting untouched.
func (s *Server) handleDetectSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FallbackEnabled *bool `json:"fallbackEnabled"`
		CacheEnabled    *bool `json:"cacheEnabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.FallbackEnabled != nil {
		s.detector.SetFallbackEnabled(*req.FallbackEnabled)
	}
	if req.CacheEnabled != nil {
		s.detector.SetCacheEnabled(*req.CacheEnabled)
	}

	writeJSON(w, http.StatusOK, s.detector.GetStatistics(r.Context()))
}

func (s *Server) handleDetectStatistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.detector.GetStatistics(r.Context()))
}

// handleDetectConnection probes the analyzer on demand.
func (s *Server) handleDetectConnection(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.detector.TestConnection(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"connected": false,
			"error":     err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"connected": true})
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	s.detector.ClearCache(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) broadcastRuleChange(action string, rule rules.PrivacyRule) {
	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeRuleChange,
		Timestamp: time.Now(),
		Data: websocket.RuleChangeEvent{
			Action:   action,
			RuleID:   rule.ID,
			RuleName: rule.Name,
			Version:  rule.Version,
		},
	})
}

// writeError maps domain errors to HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr  *rules.ValidationError
		patternErr     *rules.PatternError
		notFoundErr    *rules.NotFoundError
		unavailableErr *detect.UnavailableError
	)

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &validationErr), errors.As(err, &patternErr):
		status = http.StatusBadRequest
	case errors.As(err, &notFoundErr):
		status = http.StatusNotFound
	case errors.As(err, &unavailableErr):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}

	writeErrorMessage(w, status, err.Error())
}

func writeErrorMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
