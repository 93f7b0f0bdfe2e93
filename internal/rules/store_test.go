package rules

import (
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/complyark/pii-sentinel/internal/pii"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(nil, zap.NewNop())
}

func validDraft() Draft {
	return Draft{
		Name:             "api_token",
		Description:      "API token detector",
		Pattern:          `tok_[a-z0-9]{16}`,
		PIIType:          pii.TypeCustom,
		SensitivityLevel: pii.SensitivityHigh,
		Priority:         5,
		Tags:             []string{"secrets"},
	}
}

func TestAddRule(t *testing.T) {
	t.Run("ValidDraft", func(t *testing.T) {
		s := newTestStore(t)

		id, err := s.AddRule(validDraft())
		if err != nil {
			t.Fatalf("AddRule failed: %v", err)
		}
		if id == "" {
			t.Fatal("AddRule returned an empty id")
		}

		rule, err := s.GetRule(id)
		if err != nil {
			t.Fatalf("GetRule failed: %v", err)
		}
		if rule.Version != 1 {
			t.Errorf("version = %d, want 1", rule.Version)
		}
		if !rule.Enabled {
			t.Error("rule should default to enabled")
		}
		if rule.CreatedAt.IsZero() || rule.UpdatedAt.IsZero() {
			t.Error("timestamps should be set")
		}

		// The compiled pattern must be usable immediately.
		results := s.EvaluateRules("key tok_abcdef0123456789 leaked", pii.ScanContext{})
		found := false
		for _, r := range results {
			if r.RuleID == id && r.Matched {
				found = true
			}
		}
		if !found {
			t.Error("new rule did not match content its pattern covers")
		}
	})

	t.Run("UniqueIDs", func(t *testing.T) {
		s := newTestStore(t)
		a, _ := s.AddRule(validDraft())
		b, _ := s.AddRule(validDraft())
		if a == b {
			t.Error("two added rules share an id")
		}
	})

	t.Run("InvalidPattern", func(t *testing.T) {
		s := newTestStore(t)
		before := len(s.GetAllRules())

		draft := validDraft()
		draft.Pattern = `tok_[unclosed`

		_, err := s.AddRule(draft)
		var pe *PatternError
		if !errors.As(err, &pe) {
			t.Fatalf("error = %v, want PatternError", err)
		}
		if len(s.GetAllRules()) != before {
			t.Error("failed add must not mutate the store")
		}
	})

	t.Run("MissingFields", func(t *testing.T) {
		cases := map[string]func(*Draft){
			"name":             func(d *Draft) { d.Name = "  " },
			"pattern":          func(d *Draft) { d.Pattern = "" },
			"piiType":          func(d *Draft) { d.PIIType = "" },
			"sensitivityLevel": func(d *Draft) { d.SensitivityLevel = "" },
		}
		for field, mutate := range cases {
			t.Run(field, func(t *testing.T) {
				s := newTestStore(t)
				draft := validDraft()
				mutate(&draft)

				_, err := s.AddRule(draft)
				var ve *ValidationError
				if !errors.As(err, &ve) {
					t.Fatalf("error = %v, want ValidationError", err)
				}
			})
		}
	})

	t.Run("MalformedCondition", func(t *testing.T) {
		s := newTestStore(t)
		draft := validDraft()
		draft.Conditions = []Condition{{Field: "connectorType", Operator: "looks_like", Value: "postgres"}}

		_, err := s.AddRule(draft)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("error = %v, want ValidationError", err)
		}
	})
}

func TestUpdateRule(t *testing.T) {
	t.Run("MergeAndVersion", func(t *testing.T) {
		s := newTestStore(t)
		id, _ := s.AddRule(validDraft())

		name := "api_token_v2"
		priority := 42
		if err := s.UpdateRule(id, Patch{Name: &name, Priority: &priority}); err != nil {
			t.Fatalf("UpdateRule failed: %v", err)
		}

		rule, _ := s.GetRule(id)
		if rule.Name != name {
			t.Errorf("name = %q, want %q", rule.Name, name)
		}
		if rule.Priority != priority {
			t.Errorf("priority = %d, want %d", rule.Priority, priority)
		}
		if rule.Version != 2 {
			t.Errorf("version = %d, want 2", rule.Version)
		}
		if rule.Pattern != validDraft().Pattern {
			t.Error("untouched fields must be preserved")
		}
		if rule.ID != id {
			t.Error("id must be immutable")
		}
	})

	t.Run("BadPatternLeavesRuleUntouched", func(t *testing.T) {
		s := newTestStore(t)
		id, _ := s.AddRule(validDraft())

		bad := `tok_[`
		err := s.UpdateRule(id, Patch{Pattern: &bad})
		var pe *PatternError
		if !errors.As(err, &pe) {
			t.Fatalf("error = %v, want PatternError", err)
		}

		rule, _ := s.GetRule(id)
		if rule.Pattern != validDraft().Pattern {
			t.Error("failed update must leave the prior pattern")
		}
		if rule.Version != 1 {
			t.Errorf("version = %d, want 1 after failed update", rule.Version)
		}

		// The prior compiled pattern must still be in effect.
		results := s.EvaluateRules("tok_abcdef0123456789", pii.ScanContext{})
		matched := false
		for _, r := range results {
			if r.RuleID == id && r.Matched {
				matched = true
			}
		}
		if !matched {
			t.Error("prior compiled pattern should still match")
		}
	})

	t.Run("UnknownID", func(t *testing.T) {
		s := newTestStore(t)
		name := "x"
		err := s.UpdateRule("nope", Patch{Name: &name})
		var nf *NotFoundError
		if !errors.As(err, &nf) {
			t.Fatalf("error = %v, want NotFoundError", err)
		}
	})
}

func TestRemoveRule(t *testing.T) {
	s := newTestStore(t)
	id, _ := s.AddRule(validDraft())

	if err := s.RemoveRule(id); err != nil {
		t.Fatalf("RemoveRule failed: %v", err)
	}

	if _, err := s.GetRule(id); err == nil {
		t.Error("rule should be gone")
	}
	if _, err := s.GetRuleMetrics(id); err == nil {
		t.Error("metrics should be deleted with the rule")
	}

	var nf *NotFoundError
	if err := s.RemoveRule(id); !errors.As(err, &nf) {
		t.Errorf("second remove = %v, want NotFoundError", err)
	}
}

func TestQueries(t *testing.T) {
	t.Run("GetRulesByTag", func(t *testing.T) {
		s := newTestStore(t)
		draft := validDraft()
		draft.Tags = []string{"secrets", "ci"}
		id, _ := s.AddRule(draft)

		tagged := s.GetRulesByTag("CI")
		if len(tagged) != 1 || tagged[0].ID != id {
			t.Errorf("GetRulesByTag returned %d rules, want the one tagged ci", len(tagged))
		}
	})

	t.Run("GetAllRulesOrderedByPriority", func(t *testing.T) {
		s := newTestStore(t)
		all := s.GetAllRules()
		for i := 1; i < len(all); i++ {
			if all[i-1].Priority < all[i].Priority {
				t.Fatal("rules should be ordered by descending priority")
			}
		}
	})
}

func TestRuleMetricsLifecycle(t *testing.T) {
	s := newTestStore(t)
	id, _ := s.AddRule(validDraft())

	m, err := s.GetRuleMetrics(id)
	if err != nil {
		t.Fatalf("GetRuleMetrics failed: %v", err)
	}
	if m.TotalEvaluations != 0 || m.TotalMatches != 0 {
		t.Error("new rule metrics should start zeroed")
	}

	s.EvaluateRules("tok_abcdef0123456789", pii.ScanContext{})

	first, _ := s.GetRuleMetrics(id)
	if first.TotalEvaluations != 1 || first.TotalMatches != 1 {
		t.Errorf("metrics after one matching evaluation = %+v", first)
	}
	if first.MatchRate != 100 {
		t.Errorf("match rate = %f, want 100", first.MatchRate)
	}

	// Reads are idempotent.
	second, _ := s.GetRuleMetrics(id)
	if first != second {
		t.Error("repeated metrics reads must return identical counters")
	}
}

func TestImportExport(t *testing.T) {
	s := newTestStore(t)
	id, _ := s.AddRule(validDraft())
	exported := s.ExportRules()

	found := false
	for _, r := range exported {
		if r.ID == id {
			found = true
		}
	}
	if !found {
		t.Fatal("exported corpus should include the added rule")
	}

	t.Run("OneBadRuleDoesNotAbortBatch", func(t *testing.T) {
		dst := newTestStore(t)
		batch := []PrivacyRule{
			{Name: "good", Pattern: `\d{4}`, PIIType: pii.TypeCustom, SensitivityLevel: pii.SensitivityLow, Enabled: true},
			{Name: "bad", Pattern: `([`, PIIType: pii.TypeCustom, SensitivityLevel: pii.SensitivityLow, Enabled: true},
			{Name: "also_good", Pattern: `[A-Z]{3}`, PIIType: pii.TypeCustom, SensitivityLevel: pii.SensitivityLow, Enabled: true},
		}

		result := dst.ImportRules(batch)
		if result.Imported != 2 {
			t.Errorf("imported = %d, want 2", result.Imported)
		}
		if len(result.Failed) != 1 || result.Failed[0].Name != "bad" {
			t.Errorf("failed = %+v, want the bad rule only", result.Failed)
		}
	})
}

func TestStatistics(t *testing.T) {
	s := newTestStore(t)
	stats := s.Statistics()
	if stats.TotalRules == 0 {
		t.Error("default rules should be counted")
	}
	if stats.EnabledRules == 0 {
		t.Error("default rules should be enabled")
	}

	s.EvaluateRules("EMP-12345", pii.ScanContext{})
	stats = s.Statistics()
	if stats.TotalEvaluations == 0 {
		t.Error("evaluations should accumulate into statistics")
	}
}
