package rewrite

import (
	"testing"

	"github.com/fablehost/fable/internal/models"
)

func TestApplyBasicReplacement(t *testing.T) {
	rules := []models.RegexRule{
		{Pattern: "foo", Replacement: "bar", Enabled: true, Global: true},
	}
	if got := Apply("foo foo", rules, nil); got != "bar bar" {
		t.Errorf("expected %q, got %q", "bar bar", got)
	}
}

func TestApplyFirstMatchOnly(t *testing.T) {
	rules := []models.RegexRule{
		{Pattern: "foo", Replacement: "bar", Enabled: true},
	}
	if got := Apply("foo foo foo", rules, nil); got != "bar foo foo" {
		t.Errorf("expected only first match replaced, got %q", got)
	}
}

func TestApplyCaptureGroupExpansion(t *testing.T) {
	rules := []models.RegexRule{
		{Pattern: `"([^"]+)"`, Replacement: "«$1»", Enabled: true, Global: true},
	}
	if got := Apply(`she said "hello" and "bye"`, rules, nil); got != "she said «hello» and «bye»" {
		t.Errorf("capture expansion failed, got %q", got)
	}

	// First-match mode must expand groups too.
	rules[0].Global = false
	if got := Apply(`"a" "b"`, rules, nil); got != `«a» "b"` {
		t.Errorf("first-match capture expansion failed, got %q", got)
	}
}

func TestApplyCaseInsensitive(t *testing.T) {
	rules := []models.RegexRule{
		{Pattern: "foo", Replacement: "bar", Enabled: true, Global: true, CaseInsensitive: true},
	}
	if got := Apply("FOO Foo foo", rules, nil); got != "bar bar bar" {
		t.Errorf("expected case-insensitive replacement, got %q", got)
	}
}

func TestApplyDisabledRuleSkipped(t *testing.T) {
	rules := []models.RegexRule{
		{Pattern: "foo", Replacement: "bar", Enabled: false, Global: true},
	}
	if got := Apply("foo", rules, nil); got != "foo" {
		t.Errorf("disabled rule must not apply, got %q", got)
	}
}

func TestApplyInvalidPatternSkipped(t *testing.T) {
	rules := []models.RegexRule{
		{Pattern: "(", Replacement: "x", Enabled: true, Global: true},
		{Pattern: "foo", Replacement: "bar", Enabled: true, Global: true},
	}
	if got := Apply("foobaz", rules, nil); got != "barbaz" {
		t.Errorf("invalid rule must be skipped and later rules applied, got %q", got)
	}
}

func TestApplyRulesRunInOrder(t *testing.T) {
	rules := []models.RegexRule{
		{Pattern: "a", Replacement: "b", Enabled: true, Global: true},
		{Pattern: "b", Replacement: "c", Enabled: true, Global: true},
	}
	// The second rule sees the first rule's output.
	if got := Apply("a", rules, nil); got != "c" {
		t.Errorf("expected sequential application, got %q", got)
	}
}

func TestApplyNoRules(t *testing.T) {
	if got := Apply("unchanged", nil, nil); got != "unchanged" {
		t.Errorf("expected passthrough, got %q", got)
	}
}
