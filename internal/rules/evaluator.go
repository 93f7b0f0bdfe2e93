package rules

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/complyark/pii-sentinel/internal/mask"
	"github.com/complyark/pii-sentinel/internal/pii"
)

// contextWindowSize is the number of characters captured on each side
// of a match.
const contextWindowSize = 50

// EvaluateRules scores content against every enabled rule, ordered by
// descending priority (stable on ties). A fault while evaluating one
// rule degrades that rule to a non-matching zero-confidence result and
// never aborts the pass. Metrics are updated after each rule.
func (s *Store) EvaluateRules(content string, sc pii.ScanContext) []EvaluationResult {
	type candidate struct {
		rule PrivacyRule
		re   *regexp.Regexp
	}

	s.mu.RLock()
	candidates := make([]candidate, 0, len(s.rules))
	for id, rule := range s.rules {
		if rule.Enabled {
			candidates = append(candidates, candidate{rule: *rule, re: s.patterns[id]})
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].rule.Priority > candidates[j].rule.Priority
	})

	results := make([]EvaluationResult, 0, len(candidates))
	for _, c := range candidates {
		start := time.Now()
		result := s.evaluateRule(c.rule, c.re, content, sc)
		result.EvaluationTime = float64(time.Since(start).Microseconds()) / 1000.0

		s.updateMetrics(c.rule.ID, result.Matched, result.EvaluationTime)
		results = append(results, result)
	}
	return results
}

// evaluateRule runs the context gate, condition gate and pattern scan
// for one rule. Any fault, including a panic, degrades to no-match.
func (s *Store) evaluateRule(rule PrivacyRule, re *regexp.Regexp, content string, sc pii.ScanContext) (result EvaluationResult) {
	result = EvaluationResult{RuleID: rule.ID, RuleName: rule.Name}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("Rule evaluation fault",
				zap.String("rule_id", rule.ID),
				zap.Any("fault", r))
			result = EvaluationResult{RuleID: rule.ID, RuleName: rule.Name}
		}
	}()

	pass, err := contextGate(rule.ContextRules, sc)
	if err != nil {
		s.logger.Warn("Context gate fault",
			zap.String("rule_id", rule.ID),
			zap.Error(err))
		return EvaluationResult{RuleID: rule.ID, RuleName: rule.Name}
	}
	if !pass {
		return result
	}

	pass, err = conditionGate(rule.Conditions, content, sc)
	if err != nil {
		s.logger.Warn("Condition gate fault",
			zap.String("rule_id", rule.ID),
			zap.Error(err))
		return EvaluationResult{RuleID: rule.ID, RuleName: rule.Name}
	}
	if !pass {
		return result
	}

	matches := scanPattern(re, content)
	if len(matches) == 0 {
		return result
	}

	result.Matched = true
	result.Matches = matches
	result.Confidence = scoreConfidence(rule, sc, len(matches))
	return result
}

// contextGate applies the rule's context restrictions. Field and table
// sub-checks only run when the corresponding context value is present;
// a configured systemTypes list is enforced unconditionally.
func contextGate(cr *ContextRules, sc pii.ScanContext) (bool, error) {
	if cr == nil {
		return true, nil
	}

	if len(cr.FieldNamePatterns) > 0 && sc.FieldName != "" {
		ok, err := anyPatternMatches(cr.FieldNamePatterns, sc.FieldName)
		if err != nil || !ok {
			return false, err
		}
	}

	if len(cr.TableNamePatterns) > 0 && sc.TableName != "" {
		ok, err := anyPatternMatches(cr.TableNamePatterns, sc.TableName)
		if err != nil || !ok {
			return false, err
		}
	}

	if len(cr.SystemTypes) > 0 {
		member := false
		for _, st := range cr.SystemTypes {
			if strings.EqualFold(st, sc.ConnectorType) {
				member = true
				break
			}
		}
		if !member {
			return false, nil
		}
	}

	return true, nil
}

func anyPatternMatches(patterns []string, value string) (bool, error) {
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return false, fmt.Errorf("context pattern %q: %w", p, err)
		}
		if re.MatchString(value) {
			return true, nil
		}
	}
	return false, nil
}

// conditionGate requires every condition to pass (logical AND).
func conditionGate(conditions []Condition, content string, sc pii.ScanContext) (bool, error) {
	for _, cond := range conditions {
		pass, err := evaluateCondition(cond, content, sc)
		if err != nil {
			return false, err
		}
		if !pass {
			return false, nil
		}
	}
	return true, nil
}

// resolveField maps a condition field to its scan-context value. Fixed
// names resolve to context members, anything else to recordMetadata.
func resolveField(field, content string, sc pii.ScanContext) (string, bool) {
	switch field {
	case "content":
		return content, true
	case "fieldName":
		return sc.FieldName, true
	case "tableName":
		return sc.TableName, true
	case "connectorType":
		return sc.ConnectorType, true
	case "dataSource":
		return sc.DataSource, true
	default:
		v, ok := sc.RecordMetadata[field]
		return v, ok
	}
}

func evaluateCondition(cond Condition, content string, sc pii.ScanContext) (bool, error) {
	value, ok := resolveField(cond.Field, content, sc)
	if !ok {
		// An unresolved field makes the condition false.
		return false, nil
	}

	sensitive := cond.caseSensitive()
	fold := func(s string) string {
		if sensitive {
			return s
		}
		return strings.ToLower(s)
	}

	switch cond.Operator {
	case OpEquals, OpNotEquals:
		operand, isStr := conditionString(cond.Value)
		equal := isStr && fold(value) == fold(operand)
		if cond.Operator == OpEquals {
			return equal, nil
		}
		return !equal, nil

	case OpContains, OpNotContains:
		operand, isStr := conditionString(cond.Value)
		contains := isStr && strings.Contains(fold(value), fold(operand))
		if cond.Operator == OpContains {
			return contains, nil
		}
		return !contains, nil

	case OpMatches:
		operand, isStr := conditionString(cond.Value)
		if !isStr {
			return false, nil
		}
		expr := operand
		if !sensitive {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return false, fmt.Errorf("condition pattern %q: %w", operand, err)
		}
		return re.MatchString(value), nil

	case OpIn, OpNotIn:
		members, isArray := conditionStrings(cond.Value)
		if !isArray {
			// Membership checks require an array value.
			return false, nil
		}
		member := false
		for _, m := range members {
			if fold(m) == fold(value) {
				member = true
				break
			}
		}
		if cond.Operator == OpIn {
			return member, nil
		}
		return !member, nil

	default:
		return false, fmt.Errorf("unknown operator %q", cond.Operator)
	}
}

func conditionString(v interface{}) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func conditionStrings(v interface{}) ([]string, bool) {
	switch vv := v.(type) {
	case []string:
		return vv, true
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// scanPattern iterates the compiled pattern over the content,
// collecting offsets, text and a context window for every match. The
// cursor advances one position past a zero-length match so patterns
// like `a*` cannot loop forever.
func scanPattern(re *regexp.Regexp, content string) []Match {
	var matches []Match

	idx := 0
	for idx <= len(content) {
		loc := re.FindStringIndex(content[idx:])
		if loc == nil {
			break
		}

		start, end := idx+loc[0], idx+loc[1]
		matches = append(matches, Match{
			Start:         start,
			End:           end,
			Text:          content[start:end],
			ContextWindow: contextWindow(content, start, end),
		})

		if end == start {
			idx = end + 1
		} else {
			idx = end
		}
	}
	return matches
}

func contextWindow(content string, start, end int) string {
	ws := start - contextWindowSize
	if ws < 0 {
		ws = 0
	}
	we := end + contextWindowSize
	if we > len(content) {
		we = len(content)
	}
	return content[ws:we]
}

// scoreConfidence computes the rule confidence: 0.8 base, +0.1 for an
// applicable field-name gate, +0.1 for an applicable table-name gate,
// +0.1 when the rule carries conditions, plus a match-count bonus
// capped at 0.2, clamped to 1.0.
func scoreConfidence(rule PrivacyRule, sc pii.ScanContext, matchCount int) float64 {
	confidence := 0.8

	if rule.ContextRules != nil {
		if len(rule.ContextRules.FieldNamePatterns) > 0 && sc.FieldName != "" {
			confidence += 0.1
		}
		if len(rule.ContextRules.TableNamePatterns) > 0 && sc.TableName != "" {
			confidence += 0.1
		}
	}
	if len(rule.Conditions) > 0 {
		confidence += 0.1
	}

	bonus := float64(matchCount) * 0.05
	if bonus > 0.2 {
		bonus = 0.2
	}
	confidence += bonus

	if confidence > 1.0 {
		confidence = 1.0
	}
	return confidence
}

// updateMetrics advances a rule's counters after one evaluation using
// an incremental mean for the evaluation time.
func (s *Store) updateMetrics(id string, matched bool, elapsedMs float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.metrics[id]
	if !ok {
		return
	}

	m.TotalEvaluations++
	if matched {
		m.TotalMatches++
	}
	n := float64(m.TotalEvaluations)
	m.AverageEvaluationTime = (m.AverageEvaluationTime*(n-1) + elapsedMs) / n
	m.MatchRate = float64(m.TotalMatches) / n * 100
	m.LastEvaluated = time.Now().UTC()
}

// ConvertToFindings turns matched evaluation results into the finding
// records consumed by breach, DSAR and retention surfaces. Content is
// masked before it leaves the engine.
func (s *Store) ConvertToFindings(results []EvaluationResult, sc pii.ScanContext) []pii.Finding {
	var findings []pii.Finding

	for _, result := range results {
		if !result.Matched {
			continue
		}

		rule, err := s.GetRule(result.RuleID)
		if err != nil {
			continue
		}

		for _, m := range result.Matches {
			findings = append(findings, pii.Finding{
				ID:   uuid.NewString(),
				Type: rule.PIIType,
				Location: pii.Location{
					System:   sc.ConnectorType,
					Database: sc.DataSource,
					Metadata: map[string]string{
						"fieldName": sc.FieldName,
						"tableName": sc.TableName,
						"ruleId":    rule.ID,
						"ruleName":  rule.Name,
					},
				},
				Content:           mask.Content(m.Text),
				Confidence:        result.Confidence,
				SensitivityLevel:  rule.SensitivityLevel,
				RecommendedAction: mask.RemediationFor(rule.PIIType),
				DetectionMethod:   pii.MethodCustomRule,
				Timestamp:         time.Now().UTC(),
			})
		}
	}
	return findings
}
