package detect

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/complyark/pii-sentinel/internal/cache"
	"github.com/complyark/pii-sentinel/internal/mask"
	"github.com/complyark/pii-sentinel/internal/metrics"
	"github.com/complyark/pii-sentinel/internal/pii"
)

// overlayConfidence is the fixed score for custom-rule overlay hits.
// A literal configured by the organization is a strong signal.
const overlayConfidence = 0.9

// Options configures a Detector.
type Options struct {
	ServiceURL      string
	FallbackEnabled bool
	CacheEnabled    bool
	CacheMaxEntries int
	// FindingsCache is an optional shared tier behind the in-process
	// cache. May be nil.
	FindingsCache *cache.FindingsCache
}

// Detector runs the hybrid detection pipeline: ML analyzer first,
// regex fallback when the analyzer is unreachable, and a custom-rule
// overlay appended on top of either.
type Detector struct {
	analyzer Analyzer
	opts     Options
	local    *cache.BoundedCache
	shared   *cache.FindingsCache
	logger   *zap.Logger

	mu          sync.RWMutex
	customRules map[string]pii.CustomRule
	fallback    bool
	caching     bool

	totalRequests atomic.Int64
}

// NewDetector creates a detector around the given analyzer client.
func NewDetector(analyzer Analyzer, opts Options, logger *zap.Logger) *Detector {
	max := opts.CacheMaxEntries
	if max <= 0 {
		max = cache.DefaultMaxEntries
	}
	return &Detector{
		analyzer:    analyzer,
		opts:        opts,
		local:       cache.NewBoundedCache(max),
		shared:      opts.FindingsCache,
		logger:      logger,
		customRules: make(map[string]pii.CustomRule),
		fallback:    opts.FallbackEnabled,
		caching:     opts.CacheEnabled,
	}
}

// Detect runs one detection pass over content. Blank content yields an
// empty result without touching the analyzer or the cache. The overlay
// appends findings after the primary confidence is computed, so it
// never moves the result confidence.
func (d *Detector) Detect(ctx context.Context, content string, sc pii.ScanContext) (*Result, error) {
	start := time.Now()
	d.totalRequests.Add(1)

	if strings.TrimSpace(content) == "" {
		return &Result{
			Findings:         []pii.Finding{},
			ProcessingTimeMs: elapsedMs(start),
			DetectionMethod:  MethodPythonService,
		}, nil
	}

	key := cache.Key(content, sc)
	if d.cachingEnabled() {
		if findings, ok := d.lookupCache(ctx, key); ok {
			result := resultFromFindings(findings)
			result.ProcessingTimeMs = elapsedMs(start)
			return result, nil
		}
	}

	findings, method, err := d.primaryFindings(ctx, content, sc)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Findings:        findings,
		Confidence:      meanConfidence(findings),
		DetectionMethod: method,
	}

	if overlay := d.overlayFindings(content, sc); len(overlay) > 0 {
		result.Findings = append(result.Findings, overlay...)
		result.DetectionMethod = MethodHybrid
	}
	if result.Findings == nil {
		result.Findings = []pii.Finding{}
	}

	if d.cachingEnabled() {
		d.storeCache(ctx, key, result.Findings)
	}

	result.ProcessingTimeMs = elapsedMs(start)

	d.logger.Debug("Detection completed",
		zap.Int("findings", len(result.Findings)),
		zap.String("method", string(result.DetectionMethod)),
		zap.Float64("elapsed_ms", result.ProcessingTimeMs))
	return result, nil
}

// primaryFindings consults the analyzer, degrading to the regex
// fallback when it fails and the fallback is enabled.
func (d *Detector) primaryFindings(ctx context.Context, content string, sc pii.ScanContext) ([]pii.Finding, Method, error) {
	resp, err := d.analyzer.Analyze(ctx, content)
	if err == nil {
		return d.findingsFromEntities(resp.Entities, sc), MethodPythonService, nil
	}

	d.logger.Warn("Analyzer unavailable", zap.Error(err))
	metrics.AnalyzerErrors.Inc()

	if !d.fallbackEnabled() {
		return nil, "", &UnavailableError{Reason: "analyzer failed and fallback is disabled", Err: err}
	}
	return d.fallbackFindings(content, sc), MethodRegexFallback, nil
}

// findingsFromEntities converts analyzer entity spans into findings.
func (d *Detector) findingsFromEntities(entities []Entity, sc pii.ScanContext) []pii.Finding {
	findings := make([]pii.Finding, 0, len(entities))
	for _, e := range entities {
		t := mapEntityType(e.EntityType)
		findings = append(findings, pii.Finding{
			ID:                uuid.NewString(),
			Type:              t,
			Location:          locationFor(sc),
			Content:           mask.Content(e.Text),
			Confidence:        e.Score,
			SensitivityLevel:  mask.ClassifySensitivity(t),
			RecommendedAction: mask.RemediationFor(t),
			DetectionMethod:   pii.MethodML,
			Timestamp:         time.Now().UTC(),
		})
	}
	return findings
}

// fallbackFindings scans content with the built-in patterns.
func (d *Detector) fallbackFindings(content string, sc pii.ScanContext) []pii.Finding {
	var findings []pii.Finding
	for _, fp := range fallbackPatterns {
		for _, text := range fp.re.FindAllString(content, -1) {
			findings = append(findings, pii.Finding{
				ID:                uuid.NewString(),
				Type:              fp.piiType,
				Location:          locationFor(sc),
				Content:           mask.Content(text),
				Confidence:        fallbackConfidence,
				SensitivityLevel:  mask.ClassifySensitivity(fp.piiType),
				RecommendedAction: mask.RemediationFor(fp.piiType),
				DetectionMethod:   pii.MethodRegex,
				Timestamp:         time.Now().UTC(),
			})
		}
	}
	return findings
}

// overlayFindings scans content for the organization's literal custom
// rules, case-insensitively. Patterns are quoted literals matched as
// regex; spans index the original content. Overlay hits are not
// deduplicated against primary findings.
func (d *Detector) overlayFindings(content string, sc pii.ScanContext) []pii.Finding {
	rules := d.activeCustomRules(sc)
	if len(rules) == 0 {
		return nil
	}

	var findings []pii.Finding
	for _, rule := range rules {
		if rule.Pattern == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(rule.Pattern))
		if err != nil {
			d.logger.Warn("Skipping custom rule with uncompilable pattern",
				zap.String("rule_id", rule.ID), zap.Error(err))
			continue
		}
		for _, span := range re.FindAllStringIndex(content, -1) {
			loc := locationFor(sc)
			loc.Metadata["ruleId"] = rule.ID
			loc.Metadata["ruleName"] = rule.Name
			findings = append(findings, pii.Finding{
				ID:                uuid.NewString(),
				Type:              rule.Type,
				Location:          loc,
				Content:           mask.Content(content[span[0]:span[1]]),
				Confidence:        overlayConfidence,
				SensitivityLevel:  mask.ClassifySensitivity(rule.Type),
				RecommendedAction: mask.RemediationFor(rule.Type),
				DetectionMethod:   pii.MethodCustomRule,
				Timestamp:         time.Now().UTC(),
			})
		}
	}
	return findings
}

// activeCustomRules merges the detector's registered rules with the
// per-request rules carried in the scan context.
func (d *Detector) activeCustomRules(sc pii.ScanContext) []pii.CustomRule {
	d.mu.RLock()
	rules := make([]pii.CustomRule, 0, len(d.customRules)+len(sc.OrganizationRules))
	for _, r := range d.customRules {
		if r.Enabled {
			rules = append(rules, r)
		}
	}
	d.mu.RUnlock()

	for _, r := range sc.OrganizationRules {
		if r.Enabled {
			rules = append(rules, r)
		}
	}
	return rules
}

// AddCustomRule registers a literal overlay rule on the detector.
func (d *Detector) AddCustomRule(rule pii.CustomRule) string {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	d.mu.Lock()
	d.customRules[rule.ID] = rule
	d.mu.Unlock()

	d.logger.Info("Custom detection rule added",
		zap.String("rule_id", rule.ID),
		zap.String("name", rule.Name))
	return rule.ID
}

// RemoveCustomRule drops a registered overlay rule.
func (d *Detector) RemoveCustomRule(id string) bool {
	d.mu.Lock()
	_, ok := d.customRules[id]
	delete(d.customRules, id)
	d.mu.Unlock()
	return ok
}

// SetFallbackEnabled toggles the regex fallback at runtime.
func (d *Detector) SetFallbackEnabled(enabled bool) {
	d.mu.Lock()
	d.fallback = enabled
	d.mu.Unlock()
}

// SetCacheEnabled toggles result caching at runtime.
func (d *Detector) SetCacheEnabled(enabled bool) {
	d.mu.Lock()
	d.caching = enabled
	d.mu.Unlock()
}

func (d *Detector) fallbackEnabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.fallback
}

func (d *Detector) cachingEnabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.caching
}

// ClearCache drops cached findings from every tier.
func (d *Detector) ClearCache(ctx context.Context) {
	d.local.Clear()
	if d.shared != nil {
		if err := d.shared.Clear(ctx); err != nil {
			d.logger.Warn("Failed to clear shared findings cache", zap.Error(err))
		}
	}
}

// TestConnection probes the analyzer.
func (d *Detector) TestConnection(ctx context.Context) error {
	return d.analyzer.Health(ctx)
}

// GetStatistics reports detector health and cache effectiveness.
func (d *Detector) GetStatistics(ctx context.Context) Statistics {
	stats := d.local.Stats()

	d.mu.RLock()
	customCount := len(d.customRules)
	fallback := d.fallback
	caching := d.caching
	d.mu.RUnlock()

	return Statistics{
		ServiceURL:      d.opts.ServiceURL,
		ServiceHealthy:  d.analyzer.Health(ctx) == nil,
		FallbackEnabled: fallback,
		CacheEnabled:    caching,
		CacheSize:       int(stats.TotalKeys),
		CacheHitRate:    stats.HitRate,
		CustomRules:     customCount,
		TotalRequests:   d.totalRequests.Load(),
	}
}

// lookupCache checks the in-process tier first, then the shared tier.
// A shared hit is promoted into the local tier.
func (d *Detector) lookupCache(ctx context.Context, key string) ([]pii.Finding, bool) {
	findings, ok := d.local.Get(key)
	metrics.CacheHitRatio.WithLabelValues("local").Set(d.local.Stats().HitRate)
	if ok {
		return findings, true
	}
	if d.shared == nil {
		return nil, false
	}
	findings, ok = d.shared.Get(ctx, key)
	metrics.CacheHitRatio.WithLabelValues("shared").Set(d.shared.HitRate())
	if ok {
		d.local.Set(key, findings)
	}
	return findings, ok
}

func (d *Detector) storeCache(ctx context.Context, key string, findings []pii.Finding) {
	d.local.Set(key, findings)
	if d.shared != nil {
		if err := d.shared.Set(ctx, key, findings); err != nil {
			d.logger.Warn("Shared findings cache store failed", zap.Error(err))
		}
	}
}

func locationFor(sc pii.ScanContext) pii.Location {
	return pii.Location{
		System:   sc.ConnectorType,
		Database: sc.DataSource,
		Metadata: map[string]string{
			"fieldName": sc.FieldName,
			"tableName": sc.TableName,
		},
	}
}

// resultFromFindings rebuilds a result for a cache hit. The method is
// recovered from the stored findings.
func resultFromFindings(findings []pii.Finding) *Result {
	var primary []pii.Finding
	overlay := false
	regex := false
	for _, f := range findings {
		switch f.DetectionMethod {
		case pii.MethodCustomRule:
			overlay = true
			continue
		case pii.MethodRegex:
			regex = true
		}
		primary = append(primary, f)
	}

	method := MethodPythonService
	if regex {
		method = MethodRegexFallback
	}
	if overlay {
		method = MethodHybrid
	}

	if findings == nil {
		findings = []pii.Finding{}
	}
	return &Result{
		Findings:        findings,
		Confidence:      meanConfidence(primary),
		DetectionMethod: method,
	}
}

func meanConfidence(findings []pii.Finding) float64 {
	if len(findings) == 0 {
		return 0
	}
	var sum float64
	for _, f := range findings {
		sum += f.Confidence
	}
	return sum / float64(len(findings))
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
