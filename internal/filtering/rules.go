package filtering

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"appevents/pkg/maca"
	"appevents/pkg/models"
)

type BlocklistRule struct {
	events stringSet
}

func NewBlocklistRule(events []string) *BlocklistRule {
	return &BlocklistRule{events: newStringSet(events)}
}

func (r *BlocklistRule) Name() string  { return RuleBlocklist }
func (r *BlocklistRule) Enabled() bool { return len(r.events) > 0 }

func (r *BlocklistRule) Apply(_ context.Context, ev Event) (Event, bool) {
	return ev, !r.events.has(ev.Name)
}

// RestrictiveDataRule replaces restricted params with a _restrictedParams
// summary, removes deprecated params and drops deprecated events.
type RestrictiveDataRule struct {
	events map[string]RestrictiveEventConfig
}

func NewRestrictiveDataRule(events map[string]RestrictiveEventConfig) *RestrictiveDataRule {
	return &RestrictiveDataRule{events: events}
}

func (r *RestrictiveDataRule) Name() string  { return RuleRestrictive }
func (r *RestrictiveDataRule) Enabled() bool { return len(r.events) > 0 }

func (r *RestrictiveDataRule) Apply(_ context.Context, ev Event) (Event, bool) {
	cfg, ok := r.events[ev.Name]
	if !ok {
		return ev, true
	}
	if cfg.IsDeprecatedEvent {
		return ev, false
	}

	for _, key := range cfg.DeprecatedParam {
		delete(ev.Params, key)
	}

	restricted := make(map[string]string)
	for key, code := range cfg.RestrictiveParam {
		if _, present := ev.Params[key]; present {
			restricted[key] = code
			delete(ev.Params, key)
		}
	}
	if len(restricted) > 0 {
		// encoding/json sorts map keys
		summary, err := json.Marshal(restricted)
		if err == nil {
			ev.Params[RestrictedParamsParam] = models.String(string(summary))
		}
	}
	return ev, true
}

// DefaultSensitiveParamsKey holds the sensitive params that apply to every event.
const DefaultSensitiveParamsKey = "_MTSDK_Default_"

type SensitiveParamsRule struct {
	perEvent map[string]stringSet
	defaults stringSet
}

func NewSensitiveParamsRule(entries []KeyValues) *SensitiveParamsRule {
	r := &SensitiveParamsRule{perEvent: make(map[string]stringSet), defaults: stringSet{}}
	for _, entry := range entries {
		if entry.Key == DefaultSensitiveParamsKey {
			for _, v := range entry.Value {
				r.defaults[v] = struct{}{}
			}
			continue
		}
		set, ok := r.perEvent[entry.Key]
		if !ok {
			set = stringSet{}
			r.perEvent[entry.Key] = set
		}
		for _, v := range entry.Value {
			set[v] = struct{}{}
		}
	}
	return r
}

func (r *SensitiveParamsRule) Name() string  { return RuleSensitive }
func (r *SensitiveParamsRule) Enabled() bool { return len(r.perEvent) > 0 || len(r.defaults) > 0 }

func (r *SensitiveParamsRule) Apply(_ context.Context, ev Event) (Event, bool) {
	perEvent := r.perEvent[ev.Name]

	var filtered []string
	for key := range ev.Params {
		if perEvent.has(key) || r.defaults.has(key) {
			filtered = append(filtered, key)
		}
	}
	if len(filtered) == 0 {
		return ev, true
	}

	sort.Strings(filtered)
	for _, key := range filtered {
		delete(ev.Params, key)
	}
	ev.Params[FilteredKeyParam] = models.StringList(filtered)
	return ev, true
}

type BannedParamsRule struct {
	banned stringSet
}

func NewBannedParamsRule(banned []string) *BannedParamsRule {
	return &BannedParamsRule{banned: newStringSet(banned)}
}

func (r *BannedParamsRule) Name() string  { return RuleBanned }
func (r *BannedParamsRule) Enabled() bool { return len(r.banned) > 0 }

func (r *BannedParamsRule) Apply(_ context.Context, ev Event) (Event, bool) {
	for key := range ev.Params {
		if r.banned.has(key) {
			delete(ev.Params, key)
		}
	}
	return ev, true
}

// SchemaRule enforces value formats for standard params. A value passes if
// any pattern or enum for its key matches. One failing key empties the
// whole parameter set.
type SchemaRule struct {
	patterns map[string][]*regexp.Regexp
	enums    map[string][]string
}

func NewSchemaRule(entries []SchemaEntry) *SchemaRule {
	r := &SchemaRule{
		patterns: make(map[string][]*regexp.Regexp),
		enums:    make(map[string][]string),
	}
	for _, entry := range entries {
		for _, restriction := range entry.Value {
			if restriction.RequireExactMatch {
				r.enums[entry.Key] = append(r.enums[entry.Key], restriction.PotentialMatches...)
				continue
			}
			if _, ok := r.patterns[entry.Key]; !ok {
				r.patterns[entry.Key] = nil
			}
			for _, expr := range restriction.PotentialMatches {
				// an invalid pattern never matches but the key stays restricted
				if re, err := regexp.Compile(expr); err == nil {
					r.patterns[entry.Key] = append(r.patterns[entry.Key], re)
				}
			}
		}
	}
	return r
}

func (r *SchemaRule) Name() string  { return RuleSchema }
func (r *SchemaRule) Enabled() bool { return len(r.patterns) > 0 || len(r.enums) > 0 }

func (r *SchemaRule) Apply(_ context.Context, ev Event) (Event, bool) {
	for key, value := range ev.Params {
		patterns, hasPatterns := r.patterns[key]
		enums, hasEnums := r.enums[key]
		if !hasPatterns && !hasEnums {
			continue
		}
		if !r.matches(value.Text(), patterns, enums) {
			ev.Params = models.Params{}
			return ev, true
		}
	}
	return ev, true
}

func (r *SchemaRule) matches(text string, patterns []*regexp.Regexp, enums []string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	for _, candidate := range enums {
		if strings.EqualFold(text, candidate) {
			return true
		}
	}
	return false
}

// ProtectedModeRule keeps only standard params and marks the event with pm.
// Markers left by earlier rules (_filteredKey, _restrictedParams) survive
// whatever allow-list is in effect.
type ProtectedModeRule struct {
	enabled bool
	allowed stringSet
}

var upstreamMarkers = newStringSet([]string{FilteredKeyParam, RestrictedParamsParam})

func NewProtectedModeRule(enabled bool, standardParams []string) *ProtectedModeRule {
	allowed := standardParams
	if len(allowed) == 0 {
		allowed = DefaultStandardParams
	}
	return &ProtectedModeRule{enabled: enabled, allowed: newStringSet(allowed)}
}

func (r *ProtectedModeRule) Name() string  { return RuleProtectedMode }
func (r *ProtectedModeRule) Enabled() bool { return r.enabled }

func (r *ProtectedModeRule) Apply(_ context.Context, ev Event) (Event, bool) {
	if len(ev.Params) == 0 {
		return ev, true
	}
	for key := range ev.Params {
		if !r.allowed.has(key) && !upstreamMarkers.has(key) {
			delete(ev.Params, key)
		}
	}
	ev.Params[ProtectedModeParam] = models.Bool(true)
	return ev, true
}

// AudienceRule tags the event with the audience property ids whose rules
// match. Rules see the params overlaid with the device context and the
// event name under "event". Only _audiencePropertyIds is added; the cs_maca
// flag some clients send alongside it is left out so each rule adds at most
// one key.
type AudienceRule struct {
	matcher *maca.Matcher
	device  models.Params
}

func NewAudienceRule(entries []string, device models.Params) *AudienceRule {
	return &AudienceRule{matcher: maca.NewMatcher(entries), device: device}
}

func (r *AudienceRule) Name() string  { return RuleAudience }
func (r *AudienceRule) Enabled() bool { return r.matcher.Len() > 0 }

func (r *AudienceRule) Apply(_ context.Context, ev Event) (Event, bool) {
	if ev.Params == nil {
		return ev, true
	}

	data := make(models.Params, len(ev.Params)+len(r.device)+1)
	for k, v := range ev.Params {
		data[k] = v
	}
	for k, v := range r.device {
		data[k] = v
	}
	data["event"] = models.String(ev.Name)

	ev.Params[AudiencePropertyIDsParam] = models.String(r.matcher.MatchPropertyIDs(data))
	return ev, true
}

// RedactionRule renames listed events to their group name.
type RedactionRule struct {
	replacements map[string]string
}

func NewRedactionRule(entries []KeyValues) *RedactionRule {
	replacements := make(map[string]string)
	for _, entry := range entries {
		for _, name := range entry.Value {
			if _, taken := replacements[name]; !taken {
				replacements[name] = entry.Key
			}
		}
	}
	return &RedactionRule{replacements: replacements}
}

func (r *RedactionRule) Name() string  { return RuleRedaction }
func (r *RedactionRule) Enabled() bool { return len(r.replacements) > 0 }

func (r *RedactionRule) Apply(_ context.Context, ev Event) (Event, bool) {
	if replacement, ok := r.replacements[ev.Name]; ok {
		ev.Name = replacement
	}
	return ev, true
}
