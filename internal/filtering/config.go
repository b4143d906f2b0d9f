package filtering

import (
	"encoding/json"
	"fmt"

	apperrors "appevents/pkg/errors"
)

// KeyValues is the {"key": ..., "value": [...]} pair the server uses for
// keyed string lists.
type KeyValues struct {
	Key   string   `json:"key"`
	Value []string `json:"value"`
}

type SchemaRestriction struct {
	RequireExactMatch bool     `json:"require_exact_match"`
	PotentialMatches  []string `json:"potential_matches"`
}

type SchemaEntry struct {
	Key   string              `json:"key"`
	Value []SchemaRestriction `json:"value"`
}

type ExpressionRuleConfig struct {
	ID         string `json:"id"`
	Expression string `json:"expression"`
}

type RestrictiveEventConfig struct {
	RestrictiveParam  map[string]string `json:"restrictive_param,omitempty"`
	DeprecatedParam   []string          `json:"deprecated_param,omitempty"`
	IsDeprecatedEvent bool              `json:"is_deprecated_event,omitempty"`
}

// RuleConfig is the server side rule configuration. Each list is parsed on
// its own; one that does not parse is left empty and reported in Problems.
type RuleConfig struct {
	StandardParams       []string                          `json:"standard_params,omitempty"`
	MACARules            []string                          `json:"maca_rules,omitempty"`
	BlocklistEvents      []string                          `json:"blocklist_events,omitempty"`
	RedactedEvents       []KeyValues                       `json:"redacted_events,omitempty"`
	SensitiveParams      []KeyValues                       `json:"sensitive_params,omitempty"`
	StandardParamsSchema []SchemaEntry                     `json:"standard_params_schema,omitempty"`
	BannedParams         []string                          `json:"banned_params,omitempty"`
	ExpressionRules      []ExpressionRuleConfig            `json:"expression_rules,omitempty"`
	RestrictiveParams    map[string]RestrictiveEventConfig `json:"restrictive_params,omitempty"`

	Problems []error `json:"-"`
}

// Top level containers. The snake_case names are what the Graph API returns
// for fields=protected_mode_rules,restrictive_data_filter_params.
var (
	protectedRulesKeys    = []string{"protectedModeRules", "protected_mode_rules"}
	restrictiveParamsKeys = []string{"restrictiveParams", "restrictive_data_filter_params"}
)

// ParseRuleConfig reads a server configuration document. Only a document
// that is not a JSON object is an error.
func ParseRuleConfig(raw []byte) (RuleConfig, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return RuleConfig{}, apperrors.ErrMalformedRuleConfig.WithCause(err)
	}

	var cfg RuleConfig

	if container, ok := lookup(doc, protectedRulesKeys); ok {
		var rules map[string]json.RawMessage
		if err := json.Unmarshal(container, &rules); err != nil {
			cfg.problem("protectedModeRules", err)
		} else {
			parseField(&cfg, rules, "standard_params", &cfg.StandardParams)
			parseField(&cfg, rules, "maca_rules", &cfg.MACARules)
			parseField(&cfg, rules, "blocklist_events", &cfg.BlocklistEvents)
			parseField(&cfg, rules, "redacted_events", &cfg.RedactedEvents)
			parseField(&cfg, rules, "sensitive_params", &cfg.SensitiveParams)
			parseField(&cfg, rules, "standard_params_schema", &cfg.StandardParamsSchema)
			parseField(&cfg, rules, "banned_params", &cfg.BannedParams)
			parseField(&cfg, rules, "expression_rules", &cfg.ExpressionRules)
		}
	}

	if container, ok := lookup(doc, restrictiveParamsKeys); ok {
		// the Graph API ships this one as a JSON encoded string
		var encoded string
		if json.Unmarshal(container, &encoded) == nil {
			container = json.RawMessage(encoded)
		}
		if err := json.Unmarshal(container, &cfg.RestrictiveParams); err != nil {
			cfg.RestrictiveParams = nil
			cfg.problem("restrictiveParams", err)
		}
	}

	return cfg, nil
}

func lookup(doc map[string]json.RawMessage, keys []string) (json.RawMessage, bool) {
	for _, key := range keys {
		if v, ok := doc[key]; ok && string(v) != "null" {
			return v, true
		}
	}
	return nil, false
}

func parseField[T any](cfg *RuleConfig, rules map[string]json.RawMessage, field string, dst *T) {
	raw, ok := rules[field]
	if !ok || string(raw) == "null" {
		return
	}
	var parsed T
	if err := json.Unmarshal(raw, &parsed); err != nil {
		cfg.problem(field, err)
		return
	}
	*dst = parsed
}

func (c *RuleConfig) problem(field string, err error) {
	c.Problems = append(c.Problems, apperrors.ErrMalformedRuleConfig.
		WithMessage(fmt.Sprintf("malformed %s", field)).
		WithDetail("field", field).
		WithCause(err))
}
