// Package rewrite applies an agent's ordered regex rule set to generated
// text.
package rewrite

import (
	"regexp"

	"go.uber.org/zap"

	"github.com/fablehost/fable/internal/models"
)

// Apply runs the rules over text in list order. Disabled rules are skipped.
// A rule whose pattern fails to compile is logged and skipped; it leaves the
// running text untouched and never aborts the remaining rules. Applying the
// same rule set twice is not guaranteed idempotent: a replacement may itself
// match a later pattern, and that is accepted behavior.
func Apply(text string, rules []models.RegexRule, log *zap.Logger) string {
	if log == nil {
		log = zap.NewNop()
	}

	result := text
	for i, rule := range rules {
		if !rule.Enabled {
			continue
		}

		pattern := rule.Pattern
		if rule.CaseInsensitive {
			pattern = "(?i)" + pattern
		}

		re, err := regexp.Compile(pattern)
		if err != nil {
			log.Warn("skipping invalid rewrite rule",
				zap.Int("rule_index", i),
				zap.String("pattern", rule.Pattern),
				zap.Error(err))
			continue
		}

		if rule.Global {
			result = re.ReplaceAllString(result, rule.Replacement)
		} else {
			result = replaceFirst(re, result, rule.Replacement)
		}
	}
	return result
}

// replaceFirst substitutes only the first match, expanding capture-group
// references in the replacement the same way ReplaceAllString does.
func replaceFirst(re *regexp.Regexp, text, replacement string) string {
	loc := re.FindStringSubmatchIndex(text)
	if loc == nil {
		return text
	}
	expanded := re.ExpandString(nil, replacement, text, loc)
	return text[:loc[0]] + string(expanded) + text[loc[1]:]
}
