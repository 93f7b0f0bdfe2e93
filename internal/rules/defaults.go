package rules

import "github.com/complyark/pii-sentinel/internal/pii"

// DefaultRules returns the rule set every new store starts with.
// Organizations extend or disable these through the rule API.
func DefaultRules() []Draft {
	return []Draft{
		{
			Name:             "employee_id",
			Description:      "Internal employee identifiers (EMP- prefix)",
			Pattern:          `EMP-\d+`,
			PIIType:          pii.TypeCustom,
			SensitivityLevel: pii.SensitivityMedium,
			Priority:         10,
			Tags:             []string{"hr", "identifier"},
			CreatedBy:        "system",
		},
		{
			Name:             "national_id",
			Description:      "Saudi national identity / iqama numbers (10 digits, leading 1 or 2)",
			Pattern:          `\b[12]\d{9}\b`,
			PIIType:          pii.TypeCustom,
			SensitivityLevel: pii.SensitivityHigh,
			Priority:         30,
			Tags:             []string{"identifier", "pdpl"},
			ContextRules: &ContextRules{
				FieldNamePatterns: []string{"national", "iqama", "identity"},
			},
			CreatedBy: "system",
		},
		{
			Name:             "medical_record_number",
			Description:      "Medical record numbers (MRN- prefix)",
			Pattern:          `MRN-\d{6,10}`,
			PIIType:          pii.TypeCustom,
			SensitivityLevel: pii.SensitivityHigh,
			Priority:         20,
			Tags:             []string{"health", "identifier"},
			CreatedBy:        "system",
		},
		{
			Name:             "iban",
			Description:      "International bank account numbers",
			Pattern:          `\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`,
			PIIType:          pii.TypeCreditCard,
			SensitivityLevel: pii.SensitivityHigh,
			Priority:         25,
			Tags:             []string{"financial"},
			CreatedBy:        "system",
		},
	}
}
