package mask

import (
	"strings"
	"testing"

	"github.com/complyark/pii-sentinel/internal/pii"
)

func TestContent(t *testing.T) {
	t.Run("ShortValuesFullyMasked", func(t *testing.T) {
		for _, s := range []string{"", "a", "abcd"} {
			if got := Content(s); got != "***" {
				t.Errorf("Content(%q) = %q, want \"***\"", s, got)
			}
		}
	})

	t.Run("CreditCardPreservesLength", func(t *testing.T) {
		card := "4111111111111111"
		got := Content(card)

		if len(got) != len(card) {
			t.Errorf("masked length = %d, want %d", len(got), len(card))
		}
		if !strings.HasPrefix(got, "41") {
			t.Errorf("masked value %q should reveal the first two characters", got)
		}
		if !strings.HasSuffix(got, "11") {
			t.Errorf("masked value %q should reveal the last two characters", got)
		}
		interior := got[2 : len(got)-2]
		if interior != strings.Repeat("*", len(card)-4) {
			t.Errorf("interior %q should be fully masked", interior)
		}
	})

	t.Run("MediumValuesRevealOneCharacter", func(t *testing.T) {
		// 2/10ths of 7 characters rounds down to one revealed character.
		got := Content("abcdefg")
		if got != "a*****g" {
			t.Errorf("Content(\"abcdefg\") = %q, want \"a*****g\"", got)
		}
	})
}

func TestClassifySensitivity(t *testing.T) {
	cases := map[pii.Type]pii.SensitivityLevel{
		pii.TypeSSN:        pii.SensitivityHigh,
		pii.TypeCreditCard: pii.SensitivityHigh,
		pii.TypeEmail:      pii.SensitivityMedium,
		pii.TypePhone:      pii.SensitivityMedium,
		pii.TypeAddress:    pii.SensitivityMedium,
		pii.TypeName:       pii.SensitivityLow,
		pii.TypeCustom:     pii.SensitivityMedium,
	}

	for typ, want := range cases {
		if got := ClassifySensitivity(typ); got != want {
			t.Errorf("ClassifySensitivity(%s) = %s, want %s", typ, got, want)
		}
	}
}

func TestRemediationFor(t *testing.T) {
	t.Run("SSN", func(t *testing.T) {
		action := RemediationFor(pii.TypeSSN)
		if action.Type != pii.RemediationEncrypt {
			t.Errorf("type = %s, want encrypt", action.Type)
		}
		if action.Priority != pii.PriorityCritical {
			t.Errorf("priority = %s, want critical", action.Priority)
		}
		if !action.Automated {
			t.Error("encrypt action should be automated")
		}
		if action.ID == "" {
			t.Error("action should carry an id")
		}
	})

	t.Run("Email", func(t *testing.T) {
		action := RemediationFor(pii.TypeEmail)
		if action.Type != pii.RemediationFlagReview {
			t.Errorf("type = %s, want flag_review", action.Type)
		}
		if action.Priority != pii.PriorityMedium {
			t.Errorf("priority = %s, want medium", action.Priority)
		}
		if action.Automated {
			t.Error("flag_review action should not be automated")
		}
	})

	t.Run("UnknownDefaultsToReview", func(t *testing.T) {
		action := RemediationFor(pii.Type("passport"))
		if action.Type != pii.RemediationFlagReview {
			t.Errorf("type = %s, want flag_review", action.Type)
		}
	})
}
