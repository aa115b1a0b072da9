// Package rules loads the startup rule tables: event classification rules
// and entity-to-asset mapping rules. Defaults are embedded; both tables can
// be overridden by JSON files named in the configuration.
package rules

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
)

//go:embed event_rules.json
var defaultEventRules []byte

//go:embed asset_rules.json
var defaultAssetRules []byte

// EventRule maps article text and entities to one event-type tag.
// Lower Priority values win when several rules match.
type EventRule struct {
	EventType          string              `json:"event_type"`
	Priority           int                 `json:"priority"`
	Keywords           []string            `json:"keywords"`
	EntityRequirements map[string][]string `json:"entity_requirements"`
	Description        string              `json:"description"`
	Rationale          string              `json:"rationale"`
}

// AssetRule maps entity synonyms of one type to candidate instruments.
type AssetRule struct {
	EntityType string   `json:"entity_type"`
	Synonyms   []string `json:"synonyms"`
	Assets     []string `json:"assets"`
}

// LoadEventRules reads the event rule table. An empty path selects the
// embedded defaults.
func LoadEventRules(path string) ([]EventRule, error) {
	data := defaultEventRules
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read event rules from %s: %w", path, err)
		}
	}

	var rules []EventRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse event rules: %w", err)
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("event rule table is empty")
	}
	return rules, nil
}

// LoadAssetRules reads the asset mapping table. An empty path selects the
// embedded defaults.
func LoadAssetRules(path string) ([]AssetRule, error) {
	data := defaultAssetRules
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read asset rules from %s: %w", path, err)
		}
	}

	var rules []AssetRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse asset rules: %w", err)
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("asset rule table is empty")
	}
	return rules, nil
}
