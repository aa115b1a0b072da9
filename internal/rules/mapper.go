package rules

import (
	"sort"
)

// Mapper derives candidate instrument symbols from extracted entities.
type Mapper struct {
	rules []AssetRule
}

// NewMapper creates a mapper over an already-loaded rule table.
func NewMapper(rules []AssetRule) *Mapper {
	return &Mapper{rules: rules}
}

// MapAssets returns the sorted, deduplicated union of assets contributed
// by every rule whose synonyms match an entity of the rule's type. A rule
// contributes its assets once, on the first matching entity.
func (m *Mapper) MapAssets(entities map[string][]string) []string {
	seen := make(map[string]struct{})
	for i := range m.rules {
		rule := &m.rules[i]
		if m.ruleHit(rule, entities[rule.EntityType]) {
			for _, asset := range rule.Assets {
				seen[asset] = struct{}{}
			}
		}
	}

	assets := make([]string, 0, len(seen))
	for asset := range seen {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets
}

func (m *Mapper) ruleHit(rule *AssetRule, names []string) bool {
	for _, name := range names {
		for _, synonym := range rule.Synonyms {
			if entityNameMatches(name, synonym) {
				return true
			}
		}
	}
	return false
}
