// Package mask holds the pure masking and classification functions
// shared by the rule engine and the detection orchestrator.
package mask

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/complyark/pii-sentinel/internal/pii"
)

// Content redacts matched text before it leaves the engine. Short
// values are replaced wholesale; longer values keep a small prefix and
// suffix and preserve the original length.
func Content(s string) string {
	if len(s) <= 4 {
		return "***"
	}

	reveal := len(s) * 2 / 10
	if reveal > 2 {
		reveal = 2
	}

	return s[:reveal] + strings.Repeat("*", len(s)-2*reveal) + s[len(s)-reveal:]
}

// ClassifySensitivity maps a PII type to its coarse risk level.
func ClassifySensitivity(t pii.Type) pii.SensitivityLevel {
	switch t {
	case pii.TypeSSN, pii.TypeCreditCard:
		return pii.SensitivityHigh
	case pii.TypeEmail, pii.TypePhone, pii.TypeAddress:
		return pii.SensitivityMedium
	case pii.TypeName:
		return pii.SensitivityLow
	default:
		return pii.SensitivityMedium
	}
}

// RemediationFor returns the recommended remediation for a PII type.
// High-sensitivity types get critical priority; anything that is not a
// manual review is considered automatable.
func RemediationFor(t pii.Type) pii.RemediationAction {
	var remediation pii.RemediationType
	switch t {
	case pii.TypeSSN:
		remediation = pii.RemediationEncrypt
	case pii.TypeCreditCard, pii.TypePhone:
		remediation = pii.RemediationMask
	case pii.TypeAddress:
		remediation = pii.RemediationAnonymize
	case pii.TypeEmail, pii.TypeName:
		remediation = pii.RemediationFlagReview
	default:
		remediation = pii.RemediationFlagReview
	}

	priority := pii.PriorityMedium
	if ClassifySensitivity(t) == pii.SensitivityHigh {
		priority = pii.PriorityCritical
	}

	return pii.RemediationAction{
		ID:          uuid.NewString(),
		Type:        remediation,
		Description: fmt.Sprintf("%s detected: recommended action is %s", t, remediation),
		Priority:    priority,
		Automated:   remediation != pii.RemediationFlagReview,
	}
}
