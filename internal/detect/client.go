package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// defaultAnalyzeTimeout bounds a single analyzer round trip. Large
// payloads against a cold model can take a while, so this is generous.
const defaultAnalyzeTimeout = 30 * time.Second

// Analyzer is the ML PII analyzer the detector consults first.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (*AnalyzeResponse, error)
	Health(ctx context.Context) error
}

// HTTPAnalyzer talks to the Python analyzer service over HTTP. One
// request per detection, no retries; callers fall back on failure.
type HTTPAnalyzer struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPAnalyzer creates an analyzer client for the given base URL.
// A zero timeout selects the default.
func NewHTTPAnalyzer(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPAnalyzer {
	if timeout <= 0 {
		timeout = defaultAnalyzeTimeout
	}
	return &HTTPAnalyzer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Analyze submits text to the analyzer's hybrid endpoint and decodes
// the entity spans it returns.
func (a *HTTPAnalyzer) Analyze(ctx context.Context, text string) (*AnalyzeResponse, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("failed to encode analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/analyze/hybrid", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analyzer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("analyzer returned status %d", resp.StatusCode)
	}

	var decoded AnalyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode analyzer response: %w", err)
	}

	a.logger.Debug("Analyzer response",
		zap.Int("entities", len(decoded.Entities)),
		zap.String("engine", decoded.Engine),
		zap.Duration("elapsed", time.Since(start)))
	return &decoded, nil
}

// Health probes the analyzer's health endpoint.
func (a *HTTPAnalyzer) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to build health request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("analyzer health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("analyzer health returned status %d", resp.StatusCode)
	}
	return nil
}
