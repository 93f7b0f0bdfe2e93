package pii

import "time"

// Type identifies the kind of personal data a finding refers to.
type Type string

const (
	TypeEmail      Type = "email"
	TypePhone      Type = "phone"
	TypeSSN        Type = "ssn"
	TypeCreditCard Type = "credit_card"
	TypeAddress    Type = "address"
	TypeName       Type = "name"
	TypeCustom     Type = "custom"
)

// SensitivityLevel is the coarse risk classification attached to a PII
// type or rule.
type SensitivityLevel string

const (
	SensitivityLow    SensitivityLevel = "low"
	SensitivityMedium SensitivityLevel = "medium"
	SensitivityHigh   SensitivityLevel = "high"
)

// DetectionMethod records which pipeline stage produced a finding.
type DetectionMethod string

const (
	MethodRegex      DetectionMethod = "regex"
	MethodML         DetectionMethod = "ml"
	MethodContext    DetectionMethod = "context"
	MethodCustomRule DetectionMethod = "custom_rule"
)

// ActionPriority ranks how urgently a remediation should run.
type ActionPriority string

const (
	PriorityMedium   ActionPriority = "medium"
	PriorityCritical ActionPriority = "critical"
)

// RemediationType names the remediation applied to a finding.
type RemediationType string

const (
	RemediationEncrypt    RemediationType = "encrypt"
	RemediationMask       RemediationType = "mask"
	RemediationAnonymize  RemediationType = "anonymize"
	RemediationFlagReview RemediationType = "flag_review"
)

// RemediationAction describes the recommended handling for a finding.
type RemediationAction struct {
	ID          string          `json:"id"`
	Type        RemediationType `json:"type"`
	Description string          `json:"description"`
	Priority    ActionPriority  `json:"priority"`
	Automated   bool            `json:"automated"`
}

// Location pins a finding to the system it was observed in.
type Location struct {
	System   string            `json:"system"`
	Database string            `json:"database"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Finding is the record the engine hands to its consumers. Content is
// always pre-masked; raw matched text never leaves the engine.
type Finding struct {
	ID                string            `json:"id"`
	Type              Type              `json:"type"`
	Location          Location          `json:"location"`
	Content           string            `json:"content"`
	Confidence        float64           `json:"confidence"`
	SensitivityLevel  SensitivityLevel  `json:"sensitivityLevel"`
	RecommendedAction RemediationAction `json:"recommendedAction"`
	DetectionMethod   DetectionMethod   `json:"detectionMethod"`
	Timestamp         time.Time         `json:"timestamp"`
}

// CustomRule is an organization-supplied literal rule applied by the
// detection orchestrator's overlay pass.
type CustomRule struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Pattern string `json:"pattern"`
	Type    Type   `json:"type"`
	Enabled bool   `json:"enabled"`
}

// ScanContext carries the source metadata a caller knows about the
// content being scanned. Absent fields skip their corresponding
// context checks rather than failing them.
type ScanContext struct {
	FieldName         string            `json:"fieldName,omitempty"`
	FieldNames        []string          `json:"fieldNames,omitempty"`
	TableName         string            `json:"tableName,omitempty"`
	ConnectorType     string            `json:"connectorType,omitempty"`
	DataSource        string            `json:"dataSource,omitempty"`
	RecordMetadata    map[string]string `json:"recordMetadata,omitempty"`
	OrganizationRules []CustomRule      `json:"organizationRules,omitempty"`
}
