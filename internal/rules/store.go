package rules

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// mirrorTimeout bounds each best-effort call to the persistence mirror.
const mirrorTimeout = 5 * time.Second

// Store owns the rule definitions, their compiled patterns, and the
// per-rule metrics. The three maps are kept mutually consistent under
// a single mutex: a rule id present in one is present in all.
type Store struct {
	mu       sync.RWMutex
	rules    map[string]*PrivacyRule
	patterns map[string]*regexp.Regexp
	metrics  map[string]*Metrics

	mirror Mirror
	logger *zap.Logger
}

// NewStore creates a rule store seeded with the default rule set. The
// mirror may be nil, in which case no persistence forwarding happens.
func NewStore(mirror Mirror, logger *zap.Logger) *Store {
	s := &Store{
		rules:    make(map[string]*PrivacyRule),
		patterns: make(map[string]*regexp.Regexp),
		metrics:  make(map[string]*Metrics),
		mirror:   mirror,
		logger:   logger,
	}

	for _, draft := range DefaultRules() {
		if _, err := s.addRule(draft, false); err != nil {
			logger.Error("Failed to seed default rule",
				zap.String("rule", draft.Name),
				zap.Error(err))
		}
	}

	logger.Info("Rule store initialized", zap.Int("rules", len(s.rules)))
	return s
}

// compilePattern compiles a rule pattern with case-insensitive
// semantics. Scanning iterates the compiled pattern globally.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + pattern)
}

// AddRule validates and stores a new rule. Validation and pattern
// compilation both happen before any mutation; on success the rule,
// its compiled pattern and zeroed metrics are installed together and
// the rule is forwarded to the mirror best-effort.
func (s *Store) AddRule(draft Draft) (string, error) {
	return s.addRule(draft, true)
}

func (s *Store) addRule(draft Draft, forward bool) (string, error) {
	if err := validateDraft(draft); err != nil {
		return "", err
	}

	re, err := compilePattern(draft.Pattern)
	if err != nil {
		return "", &PatternError{Pattern: draft.Pattern, Err: err}
	}

	now := time.Now().UTC()
	enabled := draft.Enabled == nil || *draft.Enabled

	rule := &PrivacyRule{
		ID:               uuid.NewString(),
		Name:             draft.Name,
		Description:      draft.Description,
		Pattern:          draft.Pattern,
		PIIType:          draft.PIIType,
		SensitivityLevel: draft.SensitivityLevel,
		Enabled:          enabled,
		Priority:         draft.Priority,
		Tags:             append([]string(nil), draft.Tags...),
		Conditions:       append([]Condition(nil), draft.Conditions...),
		ContextRules:     draft.ContextRules,
		CreatedBy:        draft.CreatedBy,
		CreatedAt:        now,
		UpdatedAt:        now,
		Version:          1,
	}

	s.mu.Lock()
	s.rules[rule.ID] = rule
	s.patterns[rule.ID] = re
	s.metrics[rule.ID] = &Metrics{RuleID: rule.ID}
	s.mu.Unlock()

	s.logger.Info("Privacy rule added",
		zap.String("rule_id", rule.ID),
		zap.String("name", rule.Name),
		zap.String("pii_type", string(rule.PIIType)))

	if forward {
		s.forwardCreate(rule)
	}
	return rule.ID, nil
}

// UpdateRule merges a partial update onto an existing rule. A changed
// pattern must compile before the rule map is touched; a compile
// failure leaves the prior rule and compiled pattern untouched.
func (s *Store) UpdateRule(id string, patch Patch) error {
	if err := validatePatch(patch); err != nil {
		return err
	}

	var re *regexp.Regexp
	if patch.Pattern != nil {
		var err error
		if re, err = compilePattern(*patch.Pattern); err != nil {
			return &PatternError{Pattern: *patch.Pattern, Err: err}
		}
	}

	s.mu.Lock()
	rule, ok := s.rules[id]
	if !ok {
		s.mu.Unlock()
		return &NotFoundError{ID: id}
	}

	if patch.Name != nil {
		rule.Name = *patch.Name
	}
	if patch.Description != nil {
		rule.Description = *patch.Description
	}
	if patch.Pattern != nil {
		rule.Pattern = *patch.Pattern
		s.patterns[id] = re
	}
	if patch.PIIType != nil {
		rule.PIIType = *patch.PIIType
	}
	if patch.SensitivityLevel != nil {
		rule.SensitivityLevel = *patch.SensitivityLevel
	}
	if patch.Enabled != nil {
		rule.Enabled = *patch.Enabled
	}
	if patch.Priority != nil {
		rule.Priority = *patch.Priority
	}
	if patch.Tags != nil {
		rule.Tags = append([]string(nil), patch.Tags...)
	}
	if patch.Conditions != nil {
		rule.Conditions = append([]Condition(nil), patch.Conditions...)
	}
	if patch.ContextRules != nil {
		rule.ContextRules = patch.ContextRules
	}

	rule.UpdatedAt = time.Now().UTC()
	rule.Version++
	snapshot := *rule
	s.mu.Unlock()

	s.logger.Info("Privacy rule updated",
		zap.String("rule_id", id),
		zap.Int("version", snapshot.Version))

	s.forwardUpdate(id, &snapshot)
	return nil
}

// RemoveRule deletes the rule, its compiled pattern and its metrics
// together.
func (s *Store) RemoveRule(id string) error {
	s.mu.Lock()
	if _, ok := s.rules[id]; !ok {
		s.mu.Unlock()
		return &NotFoundError{ID: id}
	}
	delete(s.rules, id)
	delete(s.patterns, id)
	delete(s.metrics, id)
	s.mu.Unlock()

	s.logger.Info("Privacy rule removed", zap.String("rule_id", id))

	s.forwardDelete(id)
	return nil
}

// GetRule returns a copy of the rule with the given id.
func (s *Store) GetRule(id string) (PrivacyRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.rules[id]
	if !ok {
		return PrivacyRule{}, &NotFoundError{ID: id}
	}
	return *rule, nil
}

// GetAllRules returns every rule ordered by descending priority.
func (s *Store) GetAllRules() []PrivacyRule {
	s.mu.RLock()
	out := make([]PrivacyRule, 0, len(s.rules))
	for _, rule := range s.rules {
		out = append(out, *rule)
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}

// GetRulesByTag returns every rule carrying the given tag.
func (s *Store) GetRulesByTag(tag string) []PrivacyRule {
	var out []PrivacyRule
	for _, rule := range s.GetAllRules() {
		for _, t := range rule.Tags {
			if strings.EqualFold(t, tag) {
				out = append(out, rule)
				break
			}
		}
	}
	return out
}

// GetRuleMetrics returns a copy of the metrics for one rule.
// Reads are idempotent: no counters move without an evaluation.
func (s *Store) GetRuleMetrics(id string) (Metrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.metrics[id]
	if !ok {
		return Metrics{}, &NotFoundError{ID: id}
	}
	return *m, nil
}

// GetAllRuleMetrics returns the metrics of every rule.
func (s *Store) GetAllRuleMetrics() []Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Metrics, 0, len(s.metrics))
	for _, m := range s.metrics {
		out = append(out, *m)
	}
	return out
}

// ExportRules returns the full rule corpus for backup or transfer.
func (s *Store) ExportRules() []PrivacyRule {
	return s.GetAllRules()
}

// ImportRules adds each rule independently; one failure does not abort
// the batch. Imported rules get fresh ids and go through the same
// validation as AddRule.
func (s *Store) ImportRules(imported []PrivacyRule) ImportResult {
	var result ImportResult
	for _, rule := range imported {
		enabled := rule.Enabled
		draft := Draft{
			Name:             rule.Name,
			Description:      rule.Description,
			Pattern:          rule.Pattern,
			PIIType:          rule.PIIType,
			SensitivityLevel: rule.SensitivityLevel,
			Enabled:          &enabled,
			Priority:         rule.Priority,
			Tags:             rule.Tags,
			Conditions:       rule.Conditions,
			ContextRules:     rule.ContextRules,
			CreatedBy:        rule.CreatedBy,
		}

		if _, err := s.AddRule(draft); err != nil {
			s.logger.Warn("Skipping rule during import",
				zap.String("name", rule.Name),
				zap.Error(err))
			result.Failed = append(result.Failed, ImportFailure{
				Name:  rule.Name,
				Error: err.Error(),
			})
			continue
		}
		result.Imported++
	}
	return result
}

// Statistics summarizes the rule corpus and its accumulated metrics.
func (s *Store) Statistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Statistics{TotalRules: len(s.rules)}
	for _, rule := range s.rules {
		if rule.Enabled {
			stats.EnabledRules++
		}
	}

	var rateSum float64
	for _, m := range s.metrics {
		stats.TotalEvaluations += m.TotalEvaluations
		stats.TotalMatches += m.TotalMatches
		rateSum += m.MatchRate
	}
	if len(s.metrics) > 0 {
		stats.AverageMatchRate = rateSum / float64(len(s.metrics))
	}
	return stats
}

func validateDraft(draft Draft) error {
	if strings.TrimSpace(draft.Name) == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if strings.TrimSpace(draft.Pattern) == "" {
		return &ValidationError{Field: "pattern", Reason: "must not be empty"}
	}
	if draft.PIIType == "" {
		return &ValidationError{Field: "piiType", Reason: "is required"}
	}
	if draft.SensitivityLevel == "" {
		return &ValidationError{Field: "sensitivityLevel", Reason: "is required"}
	}
	return validateConditions(draft.Conditions)
}

func validatePatch(patch Patch) error {
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if patch.Pattern != nil && strings.TrimSpace(*patch.Pattern) == "" {
		return &ValidationError{Field: "pattern", Reason: "must not be empty"}
	}
	return validateConditions(patch.Conditions)
}

func validateConditions(conditions []Condition) error {
	for _, cond := range conditions {
		if strings.TrimSpace(cond.Field) == "" {
			return &ValidationError{Field: "conditions.field", Reason: "must not be empty"}
		}
		if !validOperators[cond.Operator] {
			return &ValidationError{Field: "conditions.operator", Reason: "is not a known operator"}
		}
		if cond.Value == nil {
			return &ValidationError{Field: "conditions.value", Reason: "is required"}
		}
	}
	return nil
}

// forwardCreate mirrors a new rule, fire-and-forget. The local store
// is authoritative; a mirror failure is logged and never rolled back.
func (s *Store) forwardCreate(rule *PrivacyRule) {
	if s.mirror == nil {
		return
	}
	snapshot := *rule
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()
		if err := s.mirror.CreateRule(ctx, &snapshot); err != nil {
			s.logger.Warn("Rule mirror create failed",
				zap.String("rule_id", snapshot.ID),
				zap.Error(err))
		}
	}()
}

func (s *Store) forwardUpdate(id string, rule *PrivacyRule) {
	if s.mirror == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()
		if err := s.mirror.UpdateRule(ctx, id, rule); err != nil {
			s.logger.Warn("Rule mirror update failed",
				zap.String("rule_id", id),
				zap.Error(err))
		}
	}()
}

func (s *Store) forwardDelete(id string) {
	if s.mirror == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()
		if err := s.mirror.DeleteRule(ctx, id); err != nil {
			s.logger.Warn("Rule mirror delete failed",
				zap.String("rule_id", id),
				zap.Error(err))
		}
	}()
}
