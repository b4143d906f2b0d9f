package filtering

import (
	"context"

	"appevents/internal/constants"
	"appevents/internal/logger"
	"appevents/pkg/cel"
	"appevents/pkg/metrics"
)

type compiledExpression struct {
	id     string
	filter *cel.Filter
}

// ExpressionRule drops events for which a server configured CEL expression
// evaluates to true.
type ExpressionRule struct {
	expressions []compiledExpression
	onError     string
	logger      logger.Logger
}

// NewExpressionRule compiles every expression. Ones that do not compile are
// reported and left out; the others still run.
func NewExpressionRule(evaluator *cel.Evaluator, configs []ExpressionRuleConfig, onError string, log logger.Logger) (*ExpressionRule, []error) {
	rule := &ExpressionRule{
		onError: onError,
		logger:  log,
	}

	var problems []error
	for _, cfg := range configs {
		filter, err := evaluator.Compile(cfg.Expression)
		if err != nil {
			problems = append(problems, err)
			log.Warnw("Skipping expression rule that does not compile",
				"rule_id", cfg.ID,
				"error", err,
			)
			continue
		}
		rule.expressions = append(rule.expressions, compiledExpression{id: cfg.ID, filter: filter})
	}
	return rule, problems
}

func (r *ExpressionRule) Name() string  { return RuleExpression }
func (r *ExpressionRule) Enabled() bool { return len(r.expressions) > 0 }

func (r *ExpressionRule) Apply(ctx context.Context, ev Event) (Event, bool) {
	for _, expr := range r.expressions {
		drop, err := expr.filter.Match(ctx, ev.Name, ev.Params)
		if err != nil {
			if !r.handleEvaluationError(ctx, expr, err) {
				return ev, false
			}
			continue
		}
		if drop {
			r.logger.DebugwCtx(ctx, "Expression rule dropped event",
				"rule_id", expr.id,
				"event_name", ev.Name,
			)
			return ev, false
		}
	}
	return ev, true
}

// handleEvaluationError applies the configured fallback and reports whether
// the event is kept.
func (r *ExpressionRule) handleEvaluationError(ctx context.Context, expr compiledExpression, err error) bool {
	r.logger.ErrorwCtx(ctx, "Rule evaluation error",
		"rule_id", expr.id,
		"error", err,
	)

	switch r.onError {
	case constants.FallbackDeny:
		metrics.FallbackUsageTotal.WithLabelValues("filtering", "deny_on_error", "evaluation_error").Inc()
		r.logger.WarnwCtx(ctx, "Evaluation error, dropping event (fallback: deny)",
			"rule_id", expr.id,
		)
		return false
	default:
		metrics.FallbackUsageTotal.WithLabelValues("filtering", "allow_on_error", "evaluation_error").Inc()
		r.logger.WarnwCtx(ctx, "Evaluation error, keeping event (fallback: allow)",
			"rule_id", expr.id,
		)
		return true
	}
}
