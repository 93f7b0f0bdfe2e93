package detect

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/complyark/pii-sentinel/internal/pii"
)

type fakeAnalyzer struct {
	response  *AnalyzeResponse
	err       error
	healthErr error
	calls     atomic.Int64
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, text string) (*AnalyzeResponse, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func (f *fakeAnalyzer) Health(ctx context.Context) error { return f.healthErr }

func newTestDetector(analyzer Analyzer, opts Options) *Detector {
	return NewDetector(analyzer, opts, zap.NewNop())
}

func TestDetect(t *testing.T) {
	ctx := context.Background()

	t.Run("AnalyzerPath", func(t *testing.T) {
		analyzer := &fakeAnalyzer{response: &AnalyzeResponse{
			Entities: []Entity{
				{EntityType: "EMAIL_ADDRESS", Start: 11, End: 31, Score: 0.95, Text: "john.doe@example.com"},
				{EntityType: "PHONE_NUMBER", Start: 40, End: 52, Score: 0.85, Text: "555-123-4567"},
			},
			Engine: "presidio",
		}}
		d := newTestDetector(analyzer, Options{})

		result, err := d.Detect(ctx, "contact is john.doe@example.com, phone 555-123-4567", pii.ScanContext{
			ConnectorType: "postgres",
			DataSource:    "crm",
		})
		if err != nil {
			t.Fatalf("Detect failed: %v", err)
		}

		if result.DetectionMethod != MethodPythonService {
			t.Errorf("method = %s, want python_service", result.DetectionMethod)
		}
		if len(result.Findings) != 2 {
			t.Fatalf("findings = %d, want 2", len(result.Findings))
		}

		email := result.Findings[0]
		if email.Type != pii.TypeEmail {
			t.Errorf("type = %s, want email", email.Type)
		}
		if email.DetectionMethod != pii.MethodML {
			t.Errorf("finding method = %s, want ml", email.DetectionMethod)
		}
		if email.Confidence != 0.95 {
			t.Errorf("confidence = %f, want the analyzer score", email.Confidence)
		}
		if strings.Contains(email.Content, "john.doe") {
			t.Errorf("content %q should be masked", email.Content)
		}
		if len(email.Content) != len("john.doe@example.com") {
			t.Errorf("masking should preserve length, got %q", email.Content)
		}
		if email.Location.System != "postgres" || email.Location.Database != "crm" {
			t.Errorf("location = %+v", email.Location)
		}

		want := (0.95 + 0.85) / 2
		if result.Confidence != want {
			t.Errorf("result confidence = %f, want mean %f", result.Confidence, want)
		}
		if result.ProcessingTimeMs < 0 {
			t.Errorf("processing time = %f", result.ProcessingTimeMs)
		}
	})

	t.Run("BlankContentSkipsAnalyzer", func(t *testing.T) {
		analyzer := &fakeAnalyzer{response: &AnalyzeResponse{}}
		d := newTestDetector(analyzer, Options{})

		result, err := d.Detect(ctx, "   \n\t ", pii.ScanContext{})
		if err != nil {
			t.Fatalf("Detect failed: %v", err)
		}
		if len(result.Findings) != 0 {
			t.Errorf("findings = %d, want 0", len(result.Findings))
		}
		if analyzer.calls.Load() != 0 {
			t.Error("blank content must not reach the analyzer")
		}
	})

	t.Run("FallbackOnAnalyzerFailure", func(t *testing.T) {
		analyzer := &fakeAnalyzer{err: errors.New("connection refused")}
		d := newTestDetector(analyzer, Options{FallbackEnabled: true})

		result, err := d.Detect(ctx, "ssn 123-45-6789 and mail bob@corp.io", pii.ScanContext{})
		if err != nil {
			t.Fatalf("Detect failed: %v", err)
		}
		if result.DetectionMethod != MethodRegexFallback {
			t.Errorf("method = %s, want regex_fallback", result.DetectionMethod)
		}

		types := map[pii.Type]bool{}
		for _, f := range result.Findings {
			types[f.Type] = true
			if f.Confidence != 0.7 {
				t.Errorf("fallback confidence = %f, want 0.7", f.Confidence)
			}
			if f.DetectionMethod != pii.MethodRegex {
				t.Errorf("finding method = %s, want regex", f.DetectionMethod)
			}
		}
		if !types[pii.TypeSSN] || !types[pii.TypeEmail] {
			t.Errorf("fallback should find ssn and email, got %v", types)
		}
	})

	t.Run("UnavailableWhenFallbackDisabled", func(t *testing.T) {
		analyzer := &fakeAnalyzer{err: errors.New("connection refused")}
		d := newTestDetector(analyzer, Options{FallbackEnabled: false})

		_, err := d.Detect(ctx, "some content", pii.ScanContext{})
		var ue *UnavailableError
		if !errors.As(err, &ue) {
			t.Fatalf("error = %v, want UnavailableError", err)
		}
	})

	t.Run("FallbackToggleAtRuntime", func(t *testing.T) {
		analyzer := &fakeAnalyzer{err: errors.New("down")}
		d := newTestDetector(analyzer, Options{FallbackEnabled: false})

		d.SetFallbackEnabled(true)
		if _, err := d.Detect(ctx, "bob@corp.io", pii.ScanContext{}); err != nil {
			t.Errorf("fallback enabled at runtime should serve: %v", err)
		}
	})
}

func TestCustomRuleOverlay(t *testing.T) {
	ctx := context.Background()

	t.Run("AppendedWithoutMovingConfidence", func(t *testing.T) {
		analyzer := &fakeAnalyzer{response: &AnalyzeResponse{
			Entities: []Entity{{EntityType: "EMAIL_ADDRESS", Score: 0.95, Text: "a@b.co"}},
		}}
		d := newTestDetector(analyzer, Options{})
		d.AddCustomRule(pii.CustomRule{Name: "project", Pattern: "Orion", Type: pii.TypeCustom, Enabled: true})

		result, err := d.Detect(ctx, "a@b.co working on ORION and orion-next", pii.ScanContext{})
		if err != nil {
			t.Fatalf("Detect failed: %v", err)
		}

		if result.DetectionMethod != MethodHybrid {
			t.Errorf("method = %s, want hybrid after overlay", result.DetectionMethod)
		}

		var overlay []pii.Finding
		for _, f := range result.Findings {
			if f.DetectionMethod == pii.MethodCustomRule {
				overlay = append(overlay, f)
			}
		}
		if len(overlay) != 2 {
			t.Fatalf("overlay findings = %d, want 2 case-insensitive hits", len(overlay))
		}
		for _, f := range overlay {
			if f.Confidence != 0.9 {
				t.Errorf("overlay confidence = %f, want 0.9", f.Confidence)
			}
		}

		// The result confidence is the mean of the primary findings
		// only.
		if result.Confidence != 0.95 {
			t.Errorf("result confidence = %f, want 0.95 unaffected by overlay", result.Confidence)
		}
	})

	t.Run("ContextRulesApply", func(t *testing.T) {
		analyzer := &fakeAnalyzer{response: &AnalyzeResponse{}}
		d := newTestDetector(analyzer, Options{})

		sc := pii.ScanContext{OrganizationRules: []pii.CustomRule{
			{ID: "r1", Name: "codename", Pattern: "atlas", Type: pii.TypeCustom, Enabled: true},
			{ID: "r2", Name: "disabled", Pattern: "zephyr", Type: pii.TypeCustom, Enabled: false},
		}}

		result, err := d.Detect(context.Background(), "atlas and zephyr", sc)
		if err != nil {
			t.Fatalf("Detect failed: %v", err)
		}
		if len(result.Findings) != 1 {
			t.Fatalf("findings = %d, want only the enabled rule's hit", len(result.Findings))
		}
		if result.Findings[0].Location.Metadata["ruleId"] != "r1" {
			t.Errorf("metadata = %+v", result.Findings[0].Location.Metadata)
		}
	})

	t.Run("MultiByteContentKeepsSpans", func(t *testing.T) {
		analyzer := &fakeAnalyzer{response: &AnalyzeResponse{}}
		d := newTestDetector(analyzer, Options{})
		d.AddCustomRule(pii.CustomRule{Name: "codeword", Pattern: "secret", Type: pii.TypeCustom, Enabled: true})

		// Ⱥ and İ lowercase to a different byte length, so the match
		// span must come from the original content.
		for _, content := range []string{"ȺȺȺsecret", "İİİSecret"} {
			result, err := d.Detect(ctx, content, pii.ScanContext{})
			if err != nil {
				t.Fatalf("Detect(%q) failed: %v", content, err)
			}
			if len(result.Findings) != 1 {
				t.Fatalf("findings for %q = %d, want 1", content, len(result.Findings))
			}
			got := result.Findings[0].Content
			if got != "s****t" && got != "S****t" {
				t.Errorf("masked content for %q = %q", content, got)
			}
			if !utf8.ValidString(got) {
				t.Errorf("masked content for %q is not valid UTF-8", content)
			}
		}
	})

	t.Run("RemoveCustomRule", func(t *testing.T) {
		analyzer := &fakeAnalyzer{response: &AnalyzeResponse{}}
		d := newTestDetector(analyzer, Options{})
		id := d.AddCustomRule(pii.CustomRule{Name: "x", Pattern: "secret", Type: pii.TypeCustom, Enabled: true})

		if !d.RemoveCustomRule(id) {
			t.Fatal("RemoveCustomRule should report the rule existed")
		}
		if d.RemoveCustomRule(id) {
			t.Error("second remove should report absence")
		}

		result, _ := d.Detect(context.Background(), "a secret here", pii.ScanContext{})
		if len(result.Findings) != 0 {
			t.Error("removed rule must not produce findings")
		}
	})
}

func TestDetectionCache(t *testing.T) {
	ctx := context.Background()

	t.Run("SecondCallServedFromCache", func(t *testing.T) {
		analyzer := &fakeAnalyzer{response: &AnalyzeResponse{
			Entities: []Entity{{EntityType: "EMAIL_ADDRESS", Score: 0.9, Text: "a@b.co"}},
		}}
		d := newTestDetector(analyzer, Options{CacheEnabled: true})

		sc := pii.ScanContext{ConnectorType: "postgres"}
		first, err := d.Detect(ctx, "mail a@b.co", sc)
		if err != nil {
			t.Fatalf("Detect failed: %v", err)
		}
		second, err := d.Detect(ctx, "mail a@b.co", sc)
		if err != nil {
			t.Fatalf("Detect failed: %v", err)
		}

		if analyzer.calls.Load() != 1 {
			t.Errorf("analyzer calls = %d, want 1", analyzer.calls.Load())
		}
		if len(second.Findings) != len(first.Findings) {
			t.Errorf("cached findings = %d, want %d", len(second.Findings), len(first.Findings))
		}
		if second.Confidence != first.Confidence {
			t.Errorf("cached confidence = %f, want %f", second.Confidence, first.Confidence)
		}
		if second.DetectionMethod != first.DetectionMethod {
			t.Errorf("cached method = %s, want %s", second.DetectionMethod, first.DetectionMethod)
		}
	})

	t.Run("DifferentContextMissesCache", func(t *testing.T) {
		analyzer := &fakeAnalyzer{response: &AnalyzeResponse{}}
		d := newTestDetector(analyzer, Options{CacheEnabled: true})

		d.Detect(ctx, "same content", pii.ScanContext{ConnectorType: "postgres"})
		d.Detect(ctx, "same content", pii.ScanContext{ConnectorType: "mysql"})

		if analyzer.calls.Load() != 2 {
			t.Errorf("analyzer calls = %d, want 2 for distinct contexts", analyzer.calls.Load())
		}
	})

	t.Run("DisabledCacheAlwaysAnalyzes", func(t *testing.T) {
		analyzer := &fakeAnalyzer{response: &AnalyzeResponse{}}
		d := newTestDetector(analyzer, Options{CacheEnabled: false})

		d.Detect(ctx, "content", pii.ScanContext{})
		d.Detect(ctx, "content", pii.ScanContext{})
		if analyzer.calls.Load() != 2 {
			t.Errorf("analyzer calls = %d, want 2 with caching off", analyzer.calls.Load())
		}
	})

	t.Run("ClearCache", func(t *testing.T) {
		analyzer := &fakeAnalyzer{response: &AnalyzeResponse{}}
		d := newTestDetector(analyzer, Options{CacheEnabled: true})

		d.Detect(ctx, "content", pii.ScanContext{})
		d.ClearCache(ctx)
		d.Detect(ctx, "content", pii.ScanContext{})
		if analyzer.calls.Load() != 2 {
			t.Errorf("analyzer calls = %d, want 2 after cache clear", analyzer.calls.Load())
		}
	})
}

func TestEntityTypeMapping(t *testing.T) {
	cases := map[string]pii.Type{
		"EMAIL_ADDRESS": pii.TypeEmail,
		"PHONE_NUMBER":  pii.TypePhone,
		"US_SSN":        pii.TypeSSN,
		"CREDIT_CARD":   pii.TypeCreditCard,
		"LOCATION":      pii.TypeAddress,
		"LOC":           pii.TypeAddress,
		"PERSON":        pii.TypeName,
		"PER":           pii.TypeName,
		"ORG":           pii.TypeName,
		"email_address": pii.TypeEmail,
		"Person":        pii.TypeName,
		"us_ssn":        pii.TypeSSN,
		"IP_ADDRESS":    pii.TypeCustom,
		"":              pii.TypeCustom,
	}
	for label, want := range cases {
		if got := mapEntityType(label); got != want {
			t.Errorf("mapEntityType(%q) = %s, want %s", label, got, want)
		}
	}
}

func TestGetStatistics(t *testing.T) {
	analyzer := &fakeAnalyzer{response: &AnalyzeResponse{}}
	d := newTestDetector(analyzer, Options{ServiceURL: "http://analyzer:5000", FallbackEnabled: true, CacheEnabled: true})
	d.AddCustomRule(pii.CustomRule{Name: "x", Pattern: "y", Type: pii.TypeCustom, Enabled: true})

	d.Detect(context.Background(), "content", pii.ScanContext{})

	stats := d.GetStatistics(context.Background())
	if stats.ServiceURL != "http://analyzer:5000" {
		t.Errorf("service url = %s", stats.ServiceURL)
	}
	if !stats.ServiceHealthy {
		t.Error("healthy analyzer should report healthy")
	}
	if !stats.FallbackEnabled || !stats.CacheEnabled {
		t.Error("toggles should be reported")
	}
	if stats.CustomRules != 1 {
		t.Errorf("custom rules = %d, want 1", stats.CustomRules)
	}
	if stats.TotalRequests != 1 {
		t.Errorf("total requests = %d, want 1", stats.TotalRequests)
	}

	analyzer.healthErr = errors.New("down")
	if d.GetStatistics(context.Background()).ServiceHealthy {
		t.Error("failing health probe should report unhealthy")
	}
}
