package rules

import (
	"strings"

	"storyline/internal/core"
)

// Classifier assigns at most one event-type tag per article using the
// priority-ranked rule table.
type Classifier struct {
	rules []EventRule
}

// NewClassifier creates a classifier over an already-loaded rule table.
func NewClassifier(rules []EventRule) *Classifier {
	return &Classifier{rules: rules}
}

// Classify returns the matching rule with the lowest priority value, or
// nil when no rule matches. Ties break by rule table order, which keeps
// the result deterministic.
func (c *Classifier) Classify(text string, entities map[string][]string) *core.EventClassification {
	lowered := strings.ToLower(text)

	var best *EventRule
	for i := range c.rules {
		rule := &c.rules[i]
		if !ruleMatches(rule, lowered, entities) {
			continue
		}
		if best == nil || rule.Priority < best.Priority {
			best = rule
		}
	}
	if best == nil {
		return nil
	}

	return &core.EventClassification{
		EventType:   best.EventType,
		Priority:    best.Priority,
		Description: best.Description,
		Rationale:   best.Rationale,
	}
}

// ruleMatches records a match when any keyword appears in the lowered text
// or any required entity appears among the article's entities of that type.
func ruleMatches(rule *EventRule, loweredText string, entities map[string][]string) bool {
	for _, kw := range rule.Keywords {
		if kw != "" && strings.Contains(loweredText, strings.ToLower(kw)) {
			return true
		}
	}
	for typ, required := range rule.EntityRequirements {
		have := entities[typ]
		for _, req := range required {
			for _, name := range have {
				if entityNameMatches(name, req) {
					return true
				}
			}
		}
	}
	return false
}

// entityNameMatches compares case-insensitively with containment in both
// directions, so "Fed" matches "Federal Reserve" entities and vice versa.
func entityNameMatches(a, b string) bool {
	la, lb := strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if la == "" || lb == "" {
		return false
	}
	return strings.Contains(la, lb) || strings.Contains(lb, la)
}
