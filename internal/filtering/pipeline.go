// Package filtering runs event parameters through the ordered chain of
// server configured redaction and filtering rules.
package filtering

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"appevents/internal/config"
	"appevents/internal/logger"
	"appevents/pkg/cel"
	"appevents/pkg/metrics"
	"appevents/pkg/models"
	"appevents/pkg/tracing"
)

type RuleState struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// ruleSet is immutable once built; Configure swaps in a new one.
type ruleSet struct {
	rules    []Rule
	problems []error
}

type Pipeline struct {
	mu    sync.RWMutex
	rules *ruleSet

	filteringConfig config.FilteringConfig
	device          models.Params
	evaluator       *cel.Evaluator
	logger          logger.Logger
}

func NewPipeline(cfg config.FilteringConfig, deviceContext map[string]string, log logger.Logger) (*Pipeline, error) {
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL evaluator: %w", err)
	}

	device := make(models.Params, len(deviceContext))
	for k, v := range deviceContext {
		device[k] = models.String(v)
	}

	p := &Pipeline{
		filteringConfig: cfg,
		device:          device,
		evaluator:       evaluator,
		logger:          log,
	}
	p.Configure(RuleConfig{})
	return p, nil
}

// Configure builds a fresh rule set from cfg and makes it current. Events
// already inside Apply finish with the previous set.
func (p *Pipeline) Configure(cfg RuleConfig) {
	expression, expressionProblems := NewExpressionRule(p.evaluator, cfg.ExpressionRules, p.filteringConfig.Fallback.OnError, p.logger)

	set := &ruleSet{
		rules: []Rule{
			NewBlocklistRule(cfg.BlocklistEvents),
			NewRestrictiveDataRule(cfg.RestrictiveParams),
			NewSensitiveParamsRule(cfg.SensitiveParams),
			NewBannedParamsRule(cfg.BannedParams),
			NewSchemaRule(cfg.StandardParamsSchema),
			NewProtectedModeRule(p.filteringConfig.ProtectedMode, cfg.StandardParams),
			NewAudienceRule(cfg.MACARules, p.device),
			NewRedactionRule(cfg.RedactedEvents),
			expression,
		},
		problems: append(append([]error{}, cfg.Problems...), expressionProblems...),
	}

	for _, problem := range cfg.Problems {
		p.logger.Warnw("Rule configuration partially malformed", "error", problem)
	}

	enabled := 0
	for _, rule := range set.rules {
		active := 0
		if rule.Enabled() {
			active = 1
			enabled++
		}
		metrics.SetFilteringActiveRules(rule.Name(), active)
	}

	p.mu.Lock()
	p.rules = set
	p.mu.Unlock()

	p.logger.Infow("Filter rules configured",
		"enabled_rules", enabled,
		"problems", len(set.problems),
	)
}

func (p *Pipeline) current() *ruleSet {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rules
}

// Apply runs ev through every enabled rule in order. The caller's params are
// never modified. The bool is false when a rule dropped the event.
func (p *Pipeline) Apply(ctx context.Context, ev Event) (Event, bool) {
	ctx, span := tracing.StartSpan(ctx, "filtering.apply", attribute.String("event_name", ev.Name))
	defer span.End()

	start := time.Now()
	set := p.current()

	out := Event{Name: ev.Name, Params: ev.Params.Clone()}
	if out.Params == nil {
		out.Params = models.Params{}
	}

	for _, rule := range set.rules {
		if !rule.Enabled() {
			continue
		}

		var kept bool
		out, kept = rule.Apply(ctx, out)
		if !kept {
			metrics.IncFilterStageDecision(rule.Name(), "dropped")
			metrics.ObserveFilterPipelineDuration(time.Since(start), "dropped")
			span.SetAttributes(attribute.String("dropped_by", rule.Name()))
			p.logger.DebugwCtx(ctx, "Event dropped by filter rule",
				"rule", rule.Name(),
				"event_name", ev.Name,
			)
			return out, false
		}
		metrics.IncFilterStageDecision(rule.Name(), "passed")
	}

	metrics.ObserveFilterPipelineDuration(time.Since(start), "passed")
	return out, true
}

// Rules reports every rule of the current set in pipeline order.
func (p *Pipeline) Rules() []RuleState {
	set := p.current()
	states := make([]RuleState, len(set.rules))
	for i, rule := range set.rules {
		states[i] = RuleState{Name: rule.Name(), Enabled: rule.Enabled()}
	}
	return states
}

// Problems returns the configuration errors of the current rule set.
func (p *Pipeline) Problems() []error {
	set := p.current()
	return append([]error(nil), set.problems...)
}
