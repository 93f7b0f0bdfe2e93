// Package mirror provides persistence mirrors for the rule store. The
// in-memory store stays authoritative; mirrors receive best-effort
// copies of every rule change.
package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/complyark/pii-sentinel/internal/rules"
)

// HTTPMirror forwards rule changes to a compliance backend over REST.
type HTTPMirror struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPMirror creates a mirror targeting the given backend.
func NewHTTPMirror(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *HTTPMirror {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPMirror{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// CreateRule forwards a newly added rule.
func (m *HTTPMirror) CreateRule(ctx context.Context, rule *rules.PrivacyRule) error {
	return m.send(ctx, http.MethodPost, m.baseURL+"/api/privacy-rules", rule)
}

// UpdateRule forwards a rule update.
func (m *HTTPMirror) UpdateRule(ctx context.Context, id string, rule *rules.PrivacyRule) error {
	return m.send(ctx, http.MethodPut, m.baseURL+"/api/privacy-rules/"+id, rule)
}

// DeleteRule forwards a rule deletion.
func (m *HTTPMirror) DeleteRule(ctx context.Context, id string) error {
	return m.send(ctx, http.MethodDelete, m.baseURL+"/api/privacy-rules/"+id, nil)
}

func (m *HTTPMirror) send(ctx context.Context, method, url string, payload interface{}) error {
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode mirror payload: %w", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to build mirror request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("X-API-Key", m.apiKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("mirror request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("mirror returned status %d", resp.StatusCode)
	}

	m.logger.Debug("Rule change mirrored",
		zap.String("method", method),
		zap.String("url", url))
	return nil
}
