package models

import "testing"

func TestRegexRulesCodec(t *testing.T) {
	rules := []RegexRule{
		{Pattern: "foo", Replacement: "bar", Enabled: true, Global: true},
		{Pattern: `\bqux\b`, Replacement: "", Enabled: false, CaseInsensitive: true},
	}

	decoded := DecodeRegexRules(EncodeRegexRules(rules))
	if len(decoded) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(decoded))
	}
	if decoded[0] != rules[0] || decoded[1] != rules[1] {
		t.Errorf("rules did not round-trip: %+v", decoded)
	}
}

func TestDecodeRegexRulesCorrupt(t *testing.T) {
	// A corrupt column yields no rules rather than an error; generation must
	// not be blocked by bad stored data.
	for _, raw := range []string{"", "not json", `{"pattern": "half`} {
		if got := DecodeRegexRules(raw); got != nil {
			t.Errorf("DecodeRegexRules(%q) = %v, expected nil", raw, got)
		}
	}
}

func TestDecodeKeywordsFormats(t *testing.T) {
	t.Run("json array", func(t *testing.T) {
		got := DecodeKeywords(`["dragon","wyrm"]`)
		if len(got) != 2 || got[0] != "dragon" || got[1] != "wyrm" {
			t.Errorf("unexpected keywords: %v", got)
		}
	})

	t.Run("legacy comma separated", func(t *testing.T) {
		got := DecodeKeywords("castle, moat ,, keep ")
		want := []string{"castle", "moat", "keep"}
		if len(got) != len(want) {
			t.Fatalf("expected %v, got %v", want, got)
		}
		for i, w := range want {
			if got[i] != w {
				t.Errorf("keyword %d: expected %q, got %q", i, w, got[i])
			}
		}
	})

	t.Run("empty", func(t *testing.T) {
		if got := DecodeKeywords(""); got != nil {
			t.Errorf("expected nil for empty column, got %v", got)
		}
	})
}
