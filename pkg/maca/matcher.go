package maca

import (
	"encoding/json"
	"strconv"
	"strings"

	"appevents/pkg/models"
)

// PropertyRule ties an audience property id to the rule that selects it.
type PropertyRule struct {
	ID   int64
	Rule string
}

// Matcher evaluates a fixed set of property rules.
type Matcher struct {
	rules []PropertyRule
}

// NewMatcher parses entries of the form {"id": 123, "rule": "{...}"}.
// Entries that do not parse are skipped.
func NewMatcher(entries []string) *Matcher {
	rules := make([]PropertyRule, 0, len(entries))
	for _, entry := range entries {
		var raw struct {
			ID   json.Number `json:"id"`
			Rule *string     `json:"rule"`
		}
		dec := json.NewDecoder(strings.NewReader(entry))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil || raw.Rule == nil {
			continue
		}
		id, err := raw.ID.Int64()
		if err != nil {
			continue
		}
		rules = append(rules, PropertyRule{ID: id, Rule: *raw.Rule})
	}
	return &Matcher{rules: rules}
}

func (m *Matcher) Len() int {
	return len(m.rules)
}

// MatchPropertyIDs returns the ids of every matching rule as a JSON array,
// in rule order. No rules, or no matches, yields "[]".
func (m *Matcher) MatchPropertyIDs(data models.Params) string {
	ids := make([]string, 0, len(m.rules))
	for _, r := range m.rules {
		if Match(r.Rule, data) {
			ids = append(ids, strconv.FormatInt(r.ID, 10))
		}
	}
	return "[" + strings.Join(ids, ",") + "]"
}
