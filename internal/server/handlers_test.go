package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/complyark/pii-sentinel/internal/config"
	"github.com/complyark/pii-sentinel/internal/detect"
	"github.com/complyark/pii-sentinel/internal/logger"
	"github.com/complyark/pii-sentinel/internal/pii"
	"github.com/complyark/pii-sentinel/internal/rules"
)

type stubAnalyzer struct {
	response *detect.AnalyzeResponse
	err      error
}

func (a *stubAnalyzer) Analyze(ctx context.Context, text string) (*detect.AnalyzeResponse, error) {
	if a.err != nil {
		return nil, a.err
	}
	return a.response, nil
}

func (a *stubAnalyzer) Health(ctx context.Context) error { return a.err }

func newTestServer(t *testing.T, analyzer detect.Analyzer) *Server {
	t.Helper()

	cfg := config.GetDefaults()
	cfg.RateLimit.Enabled = false

	log := &logger.Logger{Logger: zap.NewNop()}
	store := rules.NewStore(nil, zap.NewNop())
	detector := detect.NewDetector(analyzer, detect.Options{
		FallbackEnabled: cfg.Detection.FallbackEnabled,
		CacheEnabled:    false,
	}, zap.NewNop())

	srv, err := New(cfg, store, detector, log)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("failed to encode payload: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), into); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func TestRuleEndpoints(t *testing.T) {
	srv := newTestServer(t, &stubAnalyzer{response: &detect.AnalyzeResponse{}})

	draft := map[string]interface{}{
		"name":             "api_token",
		"pattern":          `tok_[a-z0-9]{16}`,
		"piiType":          "custom",
		"sensitivityLevel": "high",
		"priority":         5,
	}

	var created rules.PrivacyRule
	t.Run("Create", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/api/v1/rules", draft)
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		decodeBody(t, rec, &created)
		if created.ID == "" || created.Version != 1 {
			t.Errorf("created = %+v", created)
		}
	})

	t.Run("CreateInvalidPattern", func(t *testing.T) {
		bad := map[string]interface{}{
			"name": "bad", "pattern": `([`, "piiType": "custom", "sensitivityLevel": "low",
		}
		rec := doJSON(t, srv, http.MethodPost, "/api/v1/rules", bad)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("Get", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/api/v1/rules/"+created.ID, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("GetUnknown", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/api/v1/rules/does-not-exist", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("Update", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPut, "/api/v1/rules/"+created.ID, map[string]interface{}{
			"priority": 42,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		var updated rules.PrivacyRule
		decodeBody(t, rec, &updated)
		if updated.Priority != 42 || updated.Version != 2 {
			t.Errorf("updated = %+v", updated)
		}
	})

	t.Run("List", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/api/v1/rules", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var listed []rules.PrivacyRule
		decodeBody(t, rec, &listed)
		if len(listed) == 0 {
			t.Error("list should include default and created rules")
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, fmt.Sprintf("/api/v1/rules/%s/metrics", created.ID), nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("Statistics", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/api/v1/rules/statistics", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("ExportImport", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/api/v1/rules/export", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("export status = %d", rec.Code)
		}
		var exported struct {
			Rules []rules.PrivacyRule `json:"rules"`
		}
		decodeBody(t, rec, &exported)
		if len(exported.Rules) == 0 {
			t.Fatal("export should return rules")
		}

		rec = doJSON(t, srv, http.MethodPost, "/api/v1/rules/import", map[string]interface{}{
			"rules": exported.Rules[:1],
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("import status = %d", rec.Code)
		}
		var result rules.ImportResult
		decodeBody(t, rec, &result)
		if result.Imported != 1 {
			t.Errorf("imported = %d, want 1", result.Imported)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodDelete, "/api/v1/rules/"+created.ID, nil)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d", rec.Code)
		}
		rec = doJSON(t, srv, http.MethodDelete, "/api/v1/rules/"+created.ID, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("second delete status = %d, want 404", rec.Code)
		}
	})
}

func TestEvaluateEndpoint(t *testing.T) {
	srv := newTestServer(t, &stubAnalyzer{response: &detect.AnalyzeResponse{}})

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/evaluate", map[string]interface{}{
		"content": "badge EMP-12345 issued",
		"context": map[string]interface{}{"connectorType": "postgres"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Results  []rules.EvaluationResult `json:"results"`
		Findings []pii.Finding            `json:"findings"`
	}
	decodeBody(t, rec, &resp)

	matched := false
	for _, r := range resp.Results {
		if r.RuleName == "employee_id" && r.Matched {
			matched = true
		}
	}
	if !matched {
		t.Error("employee_id rule should match")
	}
	if len(resp.Findings) == 0 {
		t.Error("matched rules should yield findings")
	}
}

func TestEvaluateFindingsEndpoint(t *testing.T) {
	srv := newTestServer(t, &stubAnalyzer{response: &detect.AnalyzeResponse{}})

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/evaluate/findings", map[string]interface{}{
		"content": "badge EMP-12345 issued",
		"context": map[string]interface{}{"connectorType": "postgres"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Findings []pii.Finding `json:"findings"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Findings) == 0 {
		t.Error("matched rules should yield findings")
	}

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/evaluate/findings", map[string]interface{}{
		"content": "nothing sensitive",
	})
	decodeBody(t, rec, &resp)
	if resp.Findings == nil {
		t.Error("findings should be an empty array, not null")
	}
}

func TestDetectEndpoint(t *testing.T) {
	t.Run("AnalyzerFindings", func(t *testing.T) {
		srv := newTestServer(t, &stubAnalyzer{response: &detect.AnalyzeResponse{
			Entities: []detect.Entity{
				{EntityType: "EMAIL_ADDRESS", Score: 0.95, Text: "a@b.co"},
			},
		}})

		rec := doJSON(t, srv, http.MethodPost, "/api/v1/detect", map[string]interface{}{
			"content": "mail a@b.co",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}

		var result detect.Result
		decodeBody(t, rec, &result)
		if result.DetectionMethod != detect.MethodPythonService {
			t.Errorf("method = %s", result.DetectionMethod)
		}
		if len(result.Findings) != 1 || result.Findings[0].Type != pii.TypeEmail {
			t.Errorf("findings = %+v", result.Findings)
		}
	})

	t.Run("UnavailableMapsTo503", func(t *testing.T) {
		srv := newTestServer(t, &stubAnalyzer{err: errors.New("down")})
		srv.detector.SetFallbackEnabled(false)

		rec := doJSON(t, srv, http.MethodPost, "/api/v1/detect", map[string]interface{}{
			"content": "anything",
		})
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
	})

	t.Run("DetectorRuleLifecycle", func(t *testing.T) {
		srv := newTestServer(t, &stubAnalyzer{response: &detect.AnalyzeResponse{}})

		rec := doJSON(t, srv, http.MethodPost, "/api/v1/detect/rules", map[string]interface{}{
			"name": "codename", "pattern": "atlas", "type": "custom", "enabled": true,
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		var createResp map[string]string
		decodeBody(t, rec, &createResp)

		rec = doJSON(t, srv, http.MethodPost, "/api/v1/detect", map[string]interface{}{
			"content": "about ATLAS",
		})
		var result detect.Result
		decodeBody(t, rec, &result)
		if result.DetectionMethod != detect.MethodHybrid {
			t.Errorf("method = %s, want hybrid", result.DetectionMethod)
		}

		rec = doJSON(t, srv, http.MethodDelete, "/api/v1/detect/rules/"+createResp["id"], nil)
		if rec.Code != http.StatusNoContent {
			t.Errorf("delete status = %d", rec.Code)
		}
	})

	t.Run("Statistics", func(t *testing.T) {
		srv := newTestServer(t, &stubAnalyzer{response: &detect.AnalyzeResponse{}})
		rec := doJSON(t, srv, http.MethodGet, "/api/v1/detect/statistics", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("SettingsToggleFallback", func(t *testing.T) {
		srv := newTestServer(t, &stubAnalyzer{err: errors.New("down")})

		rec := doJSON(t, srv, http.MethodPost, "/api/v1/detect", map[string]interface{}{
			"content": "bob@corp.io",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("fallback detect status = %d", rec.Code)
		}

		rec = doJSON(t, srv, http.MethodPut, "/api/v1/detect/settings", map[string]interface{}{
			"fallbackEnabled": false,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("settings status = %d, body = %s", rec.Code, rec.Body.String())
		}
		var stats detect.Statistics
		decodeBody(t, rec, &stats)
		if stats.FallbackEnabled {
			t.Error("settings response should reflect the disabled fallback")
		}

		rec = doJSON(t, srv, http.MethodPost, "/api/v1/detect", map[string]interface{}{
			"content": "bob@corp.io",
		})
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503 once fallback is off", rec.Code)
		}
	})

	t.Run("Connection", func(t *testing.T) {
		srv := newTestServer(t, &stubAnalyzer{response: &detect.AnalyzeResponse{}})
		rec := doJSON(t, srv, http.MethodGet, "/api/v1/detect/connection", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var conn map[string]interface{}
		decodeBody(t, rec, &conn)
		if conn["connected"] != true {
			t.Errorf("connection = %+v", conn)
		}

		srv = newTestServer(t, &stubAnalyzer{err: errors.New("refused")})
		rec = doJSON(t, srv, http.MethodGet, "/api/v1/detect/connection", nil)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503 for an unreachable analyzer", rec.Code)
		}
	})
}

func TestHealthAndInfo(t *testing.T) {
	srv := newTestServer(t, &stubAnalyzer{response: &detect.AnalyzeResponse{}})

	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
	var health map[string]interface{}
	decodeBody(t, rec, &health)
	if health["status"] != "healthy" {
		t.Errorf("health = %+v", health)
	}

	rec = doJSON(t, srv, http.MethodGet, "/info", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("info status = %d", rec.Code)
	}
}
