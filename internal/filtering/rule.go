package filtering

import (
	"context"

	"appevents/pkg/models"
)

// Event is what the pipeline works on: the event name and its parameters.
type Event struct {
	Name   string
	Params models.Params
}

// Rule is one stage of the pipeline. Apply receives params owned by the
// pipeline and returns the (possibly modified) event, or false to drop it.
// Rules only delete keys or add their single bookkeeping key.
type Rule interface {
	Name() string
	Enabled() bool
	Apply(ctx context.Context, ev Event) (Event, bool)
}

// Bookkeeping keys added by rules.
const (
	FilteredKeyParam         = "_filteredKey"
	ProtectedModeParam       = "pm"
	RestrictedParamsParam    = "_restrictedParams"
	AudiencePropertyIDsParam = "_audiencePropertyIds"
)

// Rule names, also used as metric labels.
const (
	RuleBlocklist     = "blocklist"
	RuleRestrictive   = "restrictive_data"
	RuleSensitive     = "sensitive_params"
	RuleBanned        = "banned_params"
	RuleSchema        = "standard_params_schema"
	RuleProtectedMode = "protected_mode"
	RuleAudience      = "audience"
	RuleRedaction     = "redaction"
	RuleExpression    = "expression"
)

type stringSet map[string]struct{}

func newStringSet(values []string) stringSet {
	set := make(stringSet, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func (s stringSet) has(v string) bool {
	_, ok := s[v]
	return ok
}
