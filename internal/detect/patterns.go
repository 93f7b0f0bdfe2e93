package detect

import (
	"regexp"
	"strings"

	"github.com/complyark/pii-sentinel/internal/pii"
)

// fallbackConfidence is the fixed score for pattern-only detections.
// Regex alone cannot judge context, so it stays below ML scores.
const fallbackConfidence = 0.7

type fallbackPattern struct {
	piiType pii.Type
	re      *regexp.Regexp
}

// fallbackPatterns covers the common PII shapes when the analyzer is
// unreachable. Ordered roughly by precision.
var fallbackPatterns = []fallbackPattern{
	{pii.TypeSSN, regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{pii.TypeCreditCard, regexp.MustCompile(`\b(?:\d[ -]*?){13,16}\b`)},
	{pii.TypeEmail, regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
	{pii.TypePhone, regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`)},
	{pii.TypeAddress, regexp.MustCompile(`\b\d{1,5}\s+\w+(?:\s+\w+)*\s+(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr)\b`)},
}

// entityTypeMap translates analyzer entity labels to finding types.
// Labels are matched case-insensitively; unknown labels degrade to
// custom rather than being dropped.
var entityTypeMap = map[string]pii.Type{
	"EMAIL_ADDRESS": pii.TypeEmail,
	"PHONE_NUMBER":  pii.TypePhone,
	"US_SSN":        pii.TypeSSN,
	"CREDIT_CARD":   pii.TypeCreditCard,
	"LOCATION":      pii.TypeAddress,
	"LOC":           pii.TypeAddress,
	"PERSON":        pii.TypeName,
	"PER":           pii.TypeName,
	"ORG":           pii.TypeName,
}

func mapEntityType(label string) pii.Type {
	if t, ok := entityTypeMap[strings.ToUpper(label)]; ok {
		return t
	}
	return pii.TypeCustom
}
