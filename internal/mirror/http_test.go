package mirror

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/complyark/pii-sentinel/internal/pii"
	"github.com/complyark/pii-sentinel/internal/rules"
)

func TestHTTPMirror(t *testing.T) {
	type received struct {
		method string
		path   string
		apiKey string
		rule   *rules.PrivacyRule
	}
	var last received

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		last = received{method: r.Method, path: r.URL.Path, apiKey: r.Header.Get("X-API-Key")}
		if r.Method != http.MethodDelete {
			var rule rules.PrivacyRule
			if err := json.NewDecoder(r.Body).Decode(&rule); err == nil {
				last.rule = &rule
			}
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	m := NewHTTPMirror(server.URL, "key-123", time.Second, zap.NewNop())
	ctx := context.Background()

	rule := &rules.PrivacyRule{
		ID:               "r1",
		Name:             "employee_id",
		Pattern:          `EMP-\d+`,
		PIIType:          pii.TypeCustom,
		SensitivityLevel: pii.SensitivityMedium,
	}

	t.Run("Create", func(t *testing.T) {
		if err := m.CreateRule(ctx, rule); err != nil {
			t.Fatalf("CreateRule failed: %v", err)
		}
		if last.method != http.MethodPost || last.path != "/api/privacy-rules" {
			t.Errorf("got %s %s", last.method, last.path)
		}
		if last.apiKey != "key-123" {
			t.Error("api key header missing")
		}
		if last.rule == nil || last.rule.ID != "r1" {
			t.Errorf("payload = %+v", last.rule)
		}
	})

	t.Run("Update", func(t *testing.T) {
		if err := m.UpdateRule(ctx, "r1", rule); err != nil {
			t.Fatalf("UpdateRule failed: %v", err)
		}
		if last.method != http.MethodPut || last.path != "/api/privacy-rules/r1" {
			t.Errorf("got %s %s", last.method, last.path)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := m.DeleteRule(ctx, "r1"); err != nil {
			t.Fatalf("DeleteRule failed: %v", err)
		}
		if last.method != http.MethodDelete || last.path != "/api/privacy-rules/r1" {
			t.Errorf("got %s %s", last.method, last.path)
		}
	})

	t.Run("ErrorStatus", func(t *testing.T) {
		failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer failing.Close()

		fm := NewHTTPMirror(failing.URL, "", time.Second, zap.NewNop())
		if err := fm.CreateRule(ctx, rule); err == nil {
			t.Error("5xx response should surface as an error")
		}
	})
}

func TestMaskDatabaseURL(t *testing.T) {
	got := maskDatabaseURL("postgres://user:secret@db:5432/compliance")
	if got != "postgres://user:***@db:5432/compliance" {
		t.Errorf("masked = %q", got)
	}
	if maskDatabaseURL("postgres://db/compliance") != "postgres://db/compliance" {
		t.Error("URL without credentials should pass through")
	}
}
