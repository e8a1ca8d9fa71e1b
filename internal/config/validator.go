package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gyaneshwarpardhi/sentinel/internal/alert"
	"github.com/gyaneshwarpardhi/sentinel/internal/condition"
	"github.com/gyaneshwarpardhi/sentinel/internal/event"
)

// ErrDuplicateRule marks a catalog where rule_id+version is not unique.
var ErrDuplicateRule = errors.New("duplicate rule_id+version")

// Validate checks the catalog for:
//   - Duplicate rule_id+version pairs, and more than one enabled version of a rule
//   - Required fields, known kinds, event types, severities and operators
//   - Conditions and when-expressions that type-check against the event schema
//
// Routing targets and modifier params are checked when the catalog is built.
func Validate(cfg *RuleConfig) error {
	if cfg.Ruleset.Name == "" || cfg.Ruleset.Version == "" {
		return fmt.Errorf("config: ruleset name and version are required")
	}
	if cfg.Defaults.MatchPolicy != MatchPolicyAll && cfg.Defaults.MatchPolicy != MatchPolicyHighest {
		return fmt.Errorf("config: defaults.match_policy must be %q or %q", MatchPolicyAll, MatchPolicyHighest)
	}
	if w := cfg.Defaults.SuppressionWindow; w != nil && *w < 0 {
		return fmt.Errorf("config: defaults.suppression_window must not be negative")
	}
	ids := make(map[string]int)     // rule_id+version → index
	enabled := make(map[string]int) // rule_id → index of enabled version
	var errs []string
	duplicate := false

	for i, r := range cfg.Rules {
		if r.RuleID == "" || r.Version == "" {
			errs = append(errs, fmt.Sprintf("rules[%d]: rule_id and version are required", i))
			continue
		}
		loc := fmt.Sprintf("rule %s@%s", r.RuleID, r.Version)
		key := r.RuleID + "@" + r.Version
		if prev, ok := ids[key]; ok {
			duplicate = true
			errs = append(errs, fmt.Sprintf("duplicate rule %q (rules[%d] and rules[%d])", key, prev, i))
		} else {
			ids[key] = i
		}
		if r.Enabled {
			if prev, ok := enabled[r.RuleID]; ok {
				errs = append(errs, fmt.Sprintf("rule %s: versions %s and %s are both enabled", r.RuleID, cfg.Rules[prev].Version, r.Version))
			} else {
				enabled[r.RuleID] = i
			}
		}
		validateRule(r, loc, &errs)
	}

	if len(errs) > 0 {
		err := fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
		if duplicate {
			return fmt.Errorf("%w: %w", ErrDuplicateRule, err)
		}
		return err
	}
	return nil
}

func validateRule(r RuleDef, loc string, errs *[]string) {
	switch r.Kind {
	case KindSingle:
		if len(r.Trigger.EventTypes) == 0 {
			*errs = append(*errs, fmt.Sprintf("%s: trigger.event_types must not be empty", loc))
		}
		if r.Correlation != nil {
			*errs = append(*errs, fmt.Sprintf("%s: correlation is only valid for kind %q", loc, KindCorrelation))
		}
	case KindCorrelation:
		c := r.Correlation
		if c == nil {
			*errs = append(*errs, fmt.Sprintf("%s: correlation block is required", loc))
			break
		}
		for _, t := range []string{c.OpeningEventType, c.ClosingEventType} {
			if !event.Type(t).Valid() {
				*errs = append(*errs, fmt.Sprintf("%s: unknown correlation event type %q", loc, t))
			}
		}
		if c.OpeningEventType == c.ClosingEventType {
			*errs = append(*errs, fmt.Sprintf("%s: opening and closing event types must differ", loc))
		}
		for _, t := range r.Trigger.EventTypes {
			if t == c.ClosingEventType {
				*errs = append(*errs, fmt.Sprintf("%s: trigger.event_types must not include the closing event type %q", loc, t))
			}
		}
		if c.TimingThreshold <= 0 {
			*errs = append(*errs, fmt.Sprintf("%s: correlation.timing_threshold must be positive", loc))
		}
	default:
		*errs = append(*errs, fmt.Sprintf("%s: unknown kind %q", loc, r.Kind))
	}

	for _, t := range r.Trigger.EventTypes {
		if !event.Type(t).Valid() {
			*errs = append(*errs, fmt.Sprintf("%s: unknown event type %q", loc, t))
		}
	}
	for j, c := range r.Trigger.Conditions {
		if c.Field == "" {
			*errs = append(*errs, fmt.Sprintf("%s.conditions[%d]: field is required", loc, j))
			continue
		}
		if _, err := condition.Compare(c.Field, condition.Operator(c.Op), c.Value, event.Schema); err != nil {
			*errs = append(*errs, fmt.Sprintf("%s.conditions[%d]: %v", loc, j, err))
		}
	}
	if r.Trigger.When != "" {
		if _, err := condition.Compile(r.Trigger.When, event.Schema); err != nil {
			*errs = append(*errs, fmt.Sprintf("%s: when %q: %v", loc, r.Trigger.When, err))
		}
	}

	if r.Output.RiskCode == "" {
		*errs = append(*errs, fmt.Sprintf("%s: output.risk_code is required", loc))
	}
	if _, err := alert.ParseSeverity(r.Output.Severity); err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: output.severity: %v", loc, err))
	}
	if w := r.Suppression.Window; w != nil && *w < 0 {
		*errs = append(*errs, fmt.Sprintf("%s: suppression.window must not be negative", loc))
	}
	for j, m := range r.SeverityModifiers {
		if m.Type == "" {
			*errs = append(*errs, fmt.Sprintf("%s.severity_modifiers[%d]: type is required", loc, j))
		}
		if m.Direction != "raise" && m.Direction != "lower" {
			*errs = append(*errs, fmt.Sprintf("%s.severity_modifiers[%d]: direction must be raise or lower", loc, j))
		}
	}
}
