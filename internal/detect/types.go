package detect

import (
	"fmt"

	"github.com/complyark/pii-sentinel/internal/pii"
)

// Method records which pipeline produced a detection result.
type Method string

const (
	// MethodPythonService means the ML analyzer answered.
	MethodPythonService Method = "python_service"
	// MethodRegexFallback means the local patterns ran instead.
	MethodRegexFallback Method = "regex_fallback"
	// MethodHybrid means custom-rule findings were appended to the
	// primary result.
	MethodHybrid Method = "hybrid"
)

// Result is the outcome of one detection pass over a piece of content.
// Confidence is the mean over the primary findings; overlay findings
// appended afterwards do not move it.
type Result struct {
	Findings         []pii.Finding `json:"findings"`
	ProcessingTimeMs float64       `json:"processingTimeMs"`
	Confidence       float64       `json:"confidence"`
	DetectionMethod  Method        `json:"detectionMethod"`
}

// Entity is one span returned by the ML analyzer.
type Entity struct {
	EntityType string  `json:"entity_type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Score      float64 `json:"score"`
	Text       string  `json:"text"`
}

// AnalyzeResponse is the ML analyzer's wire format.
type AnalyzeResponse struct {
	Entities       []Entity `json:"entities"`
	ProcessingTime float64  `json:"processing_time"`
	Engine         string   `json:"engine"`
}

// Statistics summarizes detector health for the info endpoint.
type Statistics struct {
	ServiceURL      string  `json:"serviceUrl"`
	ServiceHealthy  bool    `json:"serviceHealthy"`
	FallbackEnabled bool    `json:"fallbackEnabled"`
	CacheEnabled    bool    `json:"cacheEnabled"`
	CacheSize       int     `json:"cacheSize"`
	CacheHitRate    float64 `json:"cacheHitRate"`
	CustomRules     int     `json:"customRules"`
	TotalRequests   int64   `json:"totalRequests"`
}

// UnavailableError means neither the ML analyzer nor the regex
// fallback could serve the request.
type UnavailableError struct {
	Reason string
	Err    error
}

func (e *UnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("detection unavailable: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("detection unavailable: %s", e.Reason)
}

func (e *UnavailableError) Unwrap() error { return e.Err }
