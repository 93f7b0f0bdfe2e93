package rules

import (
	"context"
	"time"

	"github.com/complyark/pii-sentinel/internal/pii"
)

// Operator is the comparison applied by a rule condition.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpMatches     Operator = "matches"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
)

// validOperators lists every operator a condition may carry.
var validOperators = map[Operator]bool{
	OpEquals:      true,
	OpNotEquals:   true,
	OpContains:    true,
	OpNotContains: true,
	OpMatches:     true,
	OpIn:          true,
	OpNotIn:       true,
}

// Condition gates a rule on a scan-context field. Field is either a
// well-known name (content, fieldName, tableName, connectorType,
// dataSource) or an arbitrary recordMetadata key. Value is a string,
// or a string array for the in/not_in operators.
type Condition struct {
	Field         string      `json:"field"`
	Operator      Operator    `json:"operator"`
	Value         interface{} `json:"value"`
	CaseSensitive *bool       `json:"caseSensitive,omitempty"`
}

// caseSensitive reports the condition's case sensitivity, defaulting
// to sensitive when unset.
func (c Condition) caseSensitive() bool {
	return c.CaseSensitive == nil || *c.CaseSensitive
}

// ContextRules restricts where a rule applies. Each sub-check only
// runs when the corresponding scan-context value is present, except
// SystemTypes which is enforced unconditionally when configured.
type ContextRules struct {
	FieldNamePatterns []string `json:"fieldNamePatterns,omitempty"`
	TableNamePatterns []string `json:"tableNamePatterns,omitempty"`
	SystemTypes       []string `json:"systemTypes,omitempty"`
}

// PrivacyRule is an organization-customizable detection rule. Every
// stored rule has a compiled pattern entry under the same id; the two
// are created, updated and removed together.
type PrivacyRule struct {
	ID               string               `json:"id"`
	Name             string               `json:"name"`
	Description      string               `json:"description,omitempty"`
	Pattern          string               `json:"pattern"`
	PIIType          pii.Type             `json:"piiType"`
	SensitivityLevel pii.SensitivityLevel `json:"sensitivityLevel"`
	Enabled          bool                 `json:"isEnabled"`
	Priority         int                  `json:"priority"`
	Tags             []string             `json:"tags,omitempty"`
	Conditions       []Condition          `json:"conditions,omitempty"`
	ContextRules     *ContextRules        `json:"contextRules,omitempty"`
	CreatedBy        string               `json:"createdBy,omitempty"`
	CreatedAt        time.Time            `json:"createdAt"`
	UpdatedAt        time.Time            `json:"updatedAt"`
	Version          int                  `json:"version"`
}

// Draft is the caller-supplied shape for AddRule. Enabled defaults to
// true when unset.
type Draft struct {
	Name             string               `json:"name"`
	Description      string               `json:"description,omitempty"`
	Pattern          string               `json:"pattern"`
	PIIType          pii.Type             `json:"piiType"`
	SensitivityLevel pii.SensitivityLevel `json:"sensitivityLevel"`
	Enabled          *bool                `json:"isEnabled,omitempty"`
	Priority         int                  `json:"priority"`
	Tags             []string             `json:"tags,omitempty"`
	Conditions       []Condition          `json:"conditions,omitempty"`
	ContextRules     *ContextRules        `json:"contextRules,omitempty"`
	CreatedBy        string               `json:"createdBy,omitempty"`
}

// Patch is a partial rule update; nil fields are left unchanged.
type Patch struct {
	Name             *string               `json:"name,omitempty"`
	Description      *string               `json:"description,omitempty"`
	Pattern          *string               `json:"pattern,omitempty"`
	PIIType          *pii.Type             `json:"piiType,omitempty"`
	SensitivityLevel *pii.SensitivityLevel `json:"sensitivityLevel,omitempty"`
	Enabled          *bool                 `json:"isEnabled,omitempty"`
	Priority         *int                  `json:"priority,omitempty"`
	Tags             []string              `json:"tags,omitempty"`
	Conditions       []Condition           `json:"conditions,omitempty"`
	ContextRules     *ContextRules         `json:"contextRules,omitempty"`
}

// Match is a single pattern hit inside scanned content.
type Match struct {
	Start         int    `json:"start"`
	End           int    `json:"end"`
	Text          string `json:"text"`
	ContextWindow string `json:"contextWindow"`
}

// EvaluationResult is the per-rule outcome of an evaluation pass.
type EvaluationResult struct {
	RuleID         string  `json:"ruleId"`
	RuleName       string  `json:"ruleName"`
	Matched        bool    `json:"matched"`
	Confidence     float64 `json:"confidence"`
	Matches        []Match `json:"matches,omitempty"`
	EvaluationTime float64 `json:"evaluationTime"`
}

// Metrics holds running per-rule statistics. Created zeroed when a
// rule is added, updated after every evaluation, deleted with the rule.
type Metrics struct {
	RuleID                string    `json:"ruleId"`
	TotalEvaluations      int64     `json:"totalEvaluations"`
	TotalMatches          int64     `json:"totalMatches"`
	AverageEvaluationTime float64   `json:"averageEvaluationTime"`
	LastEvaluated         time.Time `json:"lastEvaluated"`
	MatchRate             float64   `json:"matchRate"`
}

// Statistics summarizes the whole rule corpus.
type Statistics struct {
	TotalRules       int     `json:"totalRules"`
	EnabledRules     int     `json:"enabledRules"`
	TotalEvaluations int64   `json:"totalEvaluations"`
	TotalMatches     int64   `json:"totalMatches"`
	AverageMatchRate float64 `json:"averageMatchRate"`
}

// ImportFailure records one rule that could not be imported.
type ImportFailure struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// ImportResult reports a batch import. One failed rule does not abort
// the rest of the batch.
type ImportResult struct {
	Imported int             `json:"imported"`
	Failed   []ImportFailure `json:"failed,omitempty"`
}

// Mirror is the rule-persistence collaborator. Calls are best-effort:
// the in-memory store is authoritative and mirror failures are logged,
// never rolled back.
type Mirror interface {
	CreateRule(ctx context.Context, rule *PrivacyRule) error
	UpdateRule(ctx context.Context, id string, rule *PrivacyRule) error
	DeleteRule(ctx context.Context, id string) error
}
