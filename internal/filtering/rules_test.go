package filtering

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appevents/pkg/models"
)

func event(name string, params models.Params) Event {
	return Event{Name: name, Params: params}
}

func TestBannedParamsRuleIsIdempotent(t *testing.T) {
	rule := NewBannedParamsRule([]string{"email", "phone"})
	require.True(t, rule.Enabled())

	once, kept := rule.Apply(context.Background(), event("purchase", models.Params{
		"email":    models.String("a@b.c"),
		"phone":    models.String("123"),
		"currency": models.String("USD"),
	}))
	require.True(t, kept)
	assert.Equal(t, models.Params{"currency": models.String("USD")}, once.Params)

	twice, kept := rule.Apply(context.Background(), Event{Name: once.Name, Params: once.Params.Clone()})
	require.True(t, kept)
	assert.Equal(t, once.Params, twice.Params)
}

func TestSchemaRule(t *testing.T) {
	rule := NewSchemaRule([]SchemaEntry{
		{Key: "fb_currency", Value: []SchemaRestriction{
			{RequireExactMatch: false, PotentialMatches: []string{"^[a-zA-Z]{3}$"}},
			{RequireExactMatch: true, PotentialMatches: []string{"USDP", "TEST"}},
		}},
	})
	require.True(t, rule.Enabled())

	tests := []struct {
		name  string
		value models.Value
		want  models.Params
	}{
		{
			name:  "regex match",
			value: models.String("ABC"),
			want:  models.Params{"fb_currency": models.String("ABC"), "value": models.Number(9.99)},
		},
		{
			name:  "enum match",
			value: models.String("USDP"),
			want:  models.Params{"fb_currency": models.String("USDP"), "value": models.Number(9.99)},
		},
		{
			name:  "enum match ignores case",
			value: models.String("test"),
			want:  models.Params{"fb_currency": models.String("test"), "value": models.Number(9.99)},
		},
		{
			name:  "no match empties every param",
			value: models.String("12"),
			want:  models.Params{},
		},
		{
			name:  "numbers are compared by text",
			value: models.Int(12),
			want:  models.Params{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, kept := rule.Apply(context.Background(), event("purchase", models.Params{
				"fb_currency": tt.value,
				"value":       models.Number(9.99),
			}))
			require.True(t, kept)
			assert.Equal(t, tt.want, out.Params)
		})
	}
}

func TestSchemaRuleInvalidPatternNeverMatches(t *testing.T) {
	rule := NewSchemaRule([]SchemaEntry{
		{Key: "fb_content_id", Value: []SchemaRestriction{{PotentialMatches: []string{"(["}}}},
	})
	require.True(t, rule.Enabled())

	out, _ := rule.Apply(context.Background(), event("view", models.Params{"fb_content_id": models.String("x")}))
	assert.Empty(t, out.Params)

	out, _ = rule.Apply(context.Background(), event("view", models.Params{"other": models.String("x")}))
	assert.Len(t, out.Params, 1)
}

func TestSensitiveParamsRule(t *testing.T) {
	rule := NewSensitiveParamsRule([]KeyValues{
		{Key: "test_event_name", Value: []string{"test_sensitive_param_1"}},
		{Key: DefaultSensitiveParamsKey, Value: []string{"test_sensitive_param_2"}},
	})
	require.True(t, rule.Enabled())

	tests := []struct {
		name   string
		event  string
		params models.Params
		want   models.Params
	}{
		{
			name:  "event specific key",
			event: "test_event_name",
			params: models.Params{
				"currency":               models.String("CAD"),
				"test_sensitive_param_1": models.String("x"),
			},
			want: models.Params{
				"currency":       models.String("CAD"),
				FilteredKeyParam: models.StringList([]string{"test_sensitive_param_1"}),
			},
		},
		{
			name:  "default keys apply to every event",
			event: "other_event",
			params: models.Params{
				"test_sensitive_param_1": models.String("kept"),
				"test_sensitive_param_2": models.String("x"),
			},
			want: models.Params{
				"test_sensitive_param_1": models.String("kept"),
				FilteredKeyParam:         models.StringList([]string{"test_sensitive_param_2"}),
			},
		},
		{
			name:  "both sets, sorted",
			event: "test_event_name",
			params: models.Params{
				"test_sensitive_param_2": models.String("y"),
				"test_sensitive_param_1": models.String("x"),
			},
			want: models.Params{
				FilteredKeyParam: models.StringList([]string{"test_sensitive_param_1", "test_sensitive_param_2"}),
			},
		},
		{
			name:   "nothing matched omits the key",
			event:  "test_event_name",
			params: models.Params{"currency": models.String("CAD")},
			want:   models.Params{"currency": models.String("CAD")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, kept := rule.Apply(context.Background(), event(tt.event, tt.params))
			require.True(t, kept)
			assert.Equal(t, tt.want, out.Params)
		})
	}
}

func TestSensitiveParamsRuleDisabledWithoutConfig(t *testing.T) {
	assert.False(t, NewSensitiveParamsRule(nil).Enabled())
}

func TestProtectedModeRule(t *testing.T) {
	tests := []struct {
		name     string
		standard []string
		params   models.Params
		want     models.Params
	}{
		{
			name:     "server list",
			standard: []string{"fb_currency"},
			params:   models.Params{"fb_currency": models.String("USD"), "custom": models.String("x")},
			want:     models.Params{"fb_currency": models.String("USD"), ProtectedModeParam: models.Bool(true)},
		},
		{
			name:   "default list",
			params: models.Params{"fb_currency": models.String("USD"), "_valueToSum": models.Number(1), "custom": models.String("x")},
			want: models.Params{
				"fb_currency":      models.String("USD"),
				"_valueToSum":      models.Number(1),
				ProtectedModeParam: models.Bool(true),
			},
		},
		{
			name:     "earlier markers survive a server list",
			standard: []string{"fb_currency"},
			params: models.Params{
				"fb_currency":         models.String("USD"),
				FilteredKeyParam:      models.StringList([]string{"secret"}),
				RestrictedParamsParam: models.String(`{"email":"1"}`),
				"custom":              models.String("x"),
			},
			want: models.Params{
				"fb_currency":         models.String("USD"),
				FilteredKeyParam:      models.StringList([]string{"secret"}),
				RestrictedParamsParam: models.String(`{"email":"1"}`),
				ProtectedModeParam:    models.Bool(true),
			},
		},
		{
			name:   "empty params pass through",
			params: models.Params{},
			want:   models.Params{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := NewProtectedModeRule(true, tt.standard)
			out, kept := rule.Apply(context.Background(), event("purchase", tt.params))
			require.True(t, kept)
			assert.Equal(t, tt.want, out.Params)
		})
	}

	assert.False(t, NewProtectedModeRule(false, nil).Enabled())
}

func TestRestrictiveDataRule(t *testing.T) {
	rule := NewRestrictiveDataRule(map[string]RestrictiveEventConfig{
		"signup": {
			RestrictiveParam: map[string]string{"email": "1", "name": "2"},
			DeprecatedParam:  []string{"legacy"},
		},
		"old_event": {IsDeprecatedEvent: true},
	})
	require.True(t, rule.Enabled())

	out, kept := rule.Apply(context.Background(), event("signup", models.Params{
		"name":   models.String("n"),
		"email":  models.String("e"),
		"legacy": models.String("l"),
		"plan":   models.String("pro"),
	}))
	require.True(t, kept)
	assert.Equal(t, models.Params{
		"plan":                models.String("pro"),
		RestrictedParamsParam: models.String(`{"email":"1","name":"2"}`),
	}, out.Params)

	out, kept = rule.Apply(context.Background(), event("signup", models.Params{"plan": models.String("pro")}))
	require.True(t, kept)
	assert.Equal(t, models.Params{"plan": models.String("pro")}, out.Params)

	_, kept = rule.Apply(context.Background(), event("old_event", models.Params{}))
	assert.False(t, kept)
}

func TestRedactionRule(t *testing.T) {
	rule := NewRedactionRule([]KeyValues{
		{Key: "FilteredEvent", Value: []string{"event_a", "event_b"}},
		{Key: "RedactedEvent", Value: []string{"event_c"}},
	})

	tests := []struct {
		in   string
		want string
	}{
		{in: "event_a", want: "FilteredEvent"},
		{in: "event_b", want: "FilteredEvent"},
		{in: "event_c", want: "RedactedEvent"},
		{in: "event_d", want: "event_d"},
	}
	for _, tt := range tests {
		params := models.Params{"k": models.String("v")}
		out, kept := rule.Apply(context.Background(), event(tt.in, params))
		require.True(t, kept)
		assert.Equal(t, tt.want, out.Name)
		assert.Equal(t, models.Params{"k": models.String("v")}, out.Params)
	}
}

func TestBlocklistRule(t *testing.T) {
	rule := NewBlocklistRule([]string{"spam"})

	_, kept := rule.Apply(context.Background(), event("spam", nil))
	assert.False(t, kept)
	_, kept = rule.Apply(context.Background(), event("purchase", nil))
	assert.True(t, kept)
	assert.False(t, NewBlocklistRule(nil).Enabled())
}

func TestAudienceRule(t *testing.T) {
	rule := NewAudienceRule([]string{
		`{"id":1,"rule":"{\"event\":{\"eq\":\"purchase\"}}"}`,
		`{"id":2,"rule":"{\"_deviceOS\":{\"eq\":\"IOS\"}}"}`,
		`{"id":3,"rule":"{\"value\":{\"gt\":100}}"}`,
	}, models.Params{"_deviceOS": models.String("IOS")})
	require.True(t, rule.Enabled())

	out, kept := rule.Apply(context.Background(), event("purchase", models.Params{"value": models.Number(10)}))
	require.True(t, kept)
	assert.Equal(t, models.Params{
		"value":                  models.Number(10),
		AudiencePropertyIDsParam: models.String("[1,2]"),
	}, out.Params)

	out, _ = rule.Apply(context.Background(), event("view", models.Params{}))
	assert.Equal(t, models.String("[2]"), out.Params[AudiencePropertyIDsParam])
}
