package catalog

import (
	"fmt"
	"strings"

	"github.com/gyaneshwarpardhi/sentinel/internal/alert"
	"github.com/gyaneshwarpardhi/sentinel/internal/condition"
	"github.com/gyaneshwarpardhi/sentinel/internal/config"
	"github.com/gyaneshwarpardhi/sentinel/internal/event"
	"github.com/gyaneshwarpardhi/sentinel/internal/modifier"
	"github.com/gyaneshwarpardhi/sentinel/internal/routing"
)

// Options carries the collaborators needed to resolve rule references.
type Options struct {
	Modifiers *modifier.Registry // nil = modifier.DefaultRegistry()
	Routing   *routing.Policy    // nil = targets kept as written
}

// Build constructs a Catalog from a validated RuleConfig.
// All expressions are compiled into ASTs here; zero parsing happens at evaluation time.
func Build(cfg *config.RuleConfig, opts Options) (*Catalog, error) {
	if opts.Modifiers == nil {
		opts.Modifiers = modifier.DefaultRegistry()
	}
	var errs []string
	rules := make([]*Rule, 0, len(cfg.Rules))
	for _, def := range cfg.Rules {
		r, err := buildRule(def, cfg.Defaults, opts)
		if err != nil {
			errs = append(errs, fmt.Sprintf("rule %s@%s: %v", def.RuleID, def.Version, err))
			continue
		}
		rules = append(rules, r)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("catalog build errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return newCatalog(cfg.Ruleset.Name, cfg.Ruleset.Version, cfg.Defaults.MatchPolicy, rules), nil
}

func buildRule(def config.RuleDef, defaults config.Defaults, opts Options) (*Rule, error) {
	sev, err := alert.ParseSeverity(def.Output.Severity)
	if err != nil {
		return nil, err
	}
	r := &Rule{
		ID:                def.RuleID,
		Version:           def.Version,
		Description:       def.Description,
		Enabled:           def.Enabled,
		Kind:              Kind(def.Kind),
		RiskCode:          def.Output.RiskCode,
		Severity:          sev,
		RecommendedAction: def.Output.RecommendedAction,
		SuppressionWindow: defaults.Window(),
		eventTypes:        make(map[event.Type]struct{}),
	}
	if def.Suppression.Window != nil {
		r.SuppressionWindow = *def.Suppression.Window
	}

	if c := def.Correlation; c != nil && r.Kind == KindCorrelation {
		r.Correlation = &Correlation{
			Opening:   event.Type(c.OpeningEventType),
			Closing:   event.Type(c.ClosingEventType),
			Threshold: c.TimingThreshold,
		}
		r.eventTypes[r.Correlation.Opening] = struct{}{}
	}
	for _, t := range def.Trigger.EventTypes {
		r.eventTypes[event.Type(t)] = struct{}{}
	}

	if r.predicate, err = compilePredicate(def.Trigger); err != nil {
		return nil, err
	}

	r.Targets = def.Routing.Targets
	if opts.Routing != nil {
		if r.Targets, err = opts.Routing.Normalize(def.Routing.Targets); err != nil {
			return nil, err
		}
	}

	for j, m := range def.SeverityModifiers {
		b, err := opts.Modifiers.Bind(m.Type, m.Direction, m.Reason, m.Params)
		if err != nil {
			return nil, fmt.Errorf("severity_modifiers[%d]: %w", j, err)
		}
		r.Modifiers = append(r.Modifiers, b)
	}
	return r, nil
}

// compilePredicate ANDs the structured conditions with the when-expression
// into one AST. Every comparison is checked against the event schema, so a
// rule naming an unknown field or comparing a field with a constant of the
// wrong type fails to load.
func compilePredicate(t config.TriggerDef) (condition.Expr, error) {
	var parts []condition.Expr
	for i, c := range t.Conditions {
		cmp, err := condition.Compare(c.Field, condition.Operator(c.Op), c.Value, event.Schema)
		if err != nil {
			return nil, fmt.Errorf("conditions[%d]: %w", i, err)
		}
		parts = append(parts, cmp)
	}
	if t.When != "" {
		ast, err := condition.Compile(t.When, event.Schema)
		if err != nil {
			return nil, fmt.Errorf("when %q: %w", t.When, err)
		}
		parts = append(parts, ast)
	}
	return condition.And(parts...), nil
}
