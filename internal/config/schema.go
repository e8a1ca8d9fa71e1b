package config

import "time"

// RuleConfig is the top-level rule catalog YAML structure.
type RuleConfig struct {
	Ruleset  RulesetMeta `yaml:"ruleset" json:"ruleset"`
	Defaults Defaults    `yaml:"defaults" json:"defaults"`
	Rules    []RuleDef   `yaml:"rules" json:"rules"`
}

// RulesetMeta names and versions the catalog as a whole.
type RulesetMeta struct {
	Name    string `yaml:"name" json:"name"`
	Version string `yaml:"version" json:"version"`
}

// Defaults apply to every rule that does not override them.
type Defaults struct {
	MatchPolicy       string         `yaml:"match_policy" json:"match_policy"`             // all | highest_severity
	SuppressionWindow *time.Duration `yaml:"suppression_window" json:"suppression_window"` // nil = DefaultSuppressionWindow; 0 disables
}

// Window returns the default suppression window.
func (d Defaults) Window() time.Duration {
	if d.SuppressionWindow == nil {
		return DefaultSuppressionWindow
	}
	return *d.SuppressionWindow
}

// RuleDef is one versioned rule.
type RuleDef struct {
	RuleID            string          `yaml:"rule_id" json:"rule_id"`
	Version           string          `yaml:"version" json:"version"`
	Description       string          `yaml:"description" json:"description,omitempty"`
	Enabled           bool            `yaml:"enabled" json:"enabled"`
	Kind              string          `yaml:"kind" json:"kind"` // single | correlation
	Trigger           TriggerDef      `yaml:"trigger" json:"trigger"`
	Correlation       *CorrelationDef `yaml:"correlation,omitempty" json:"correlation,omitempty"`
	Output            OutputDef       `yaml:"output" json:"output"`
	Routing           RoutingDef      `yaml:"routing" json:"routing"`
	Suppression       SuppressionDef  `yaml:"suppression" json:"suppression"`
	SeverityModifiers []ModifierDef   `yaml:"severity_modifiers" json:"severity_modifiers,omitempty"`
}

// TriggerDef selects events. Conditions are ANDed together and with When.
type TriggerDef struct {
	EventTypes []string       `yaml:"event_types" json:"event_types,omitempty"`
	Conditions []ConditionDef `yaml:"conditions" json:"conditions,omitempty"`
	When       string         `yaml:"when" json:"when,omitempty"`
}

// ConditionDef is a single field comparison.
type ConditionDef struct {
	Field string      `yaml:"field" json:"field"`
	Op    string      `yaml:"op" json:"op"`
	Value interface{} `yaml:"value" json:"value"`
}

// CorrelationDef pairs an opening and a closing event within a threshold.
type CorrelationDef struct {
	OpeningEventType string        `yaml:"opening_event_type" json:"opening_event_type"`
	ClosingEventType string        `yaml:"closing_event_type" json:"closing_event_type"`
	TimingThreshold  time.Duration `yaml:"timing_threshold" json:"timing_threshold"`
}

// OutputDef describes the alert a match produces.
type OutputDef struct {
	RiskCode          string `yaml:"risk_code" json:"risk_code"`
	Severity          string `yaml:"severity" json:"severity"`
	RecommendedAction string `yaml:"recommended_action" json:"recommended_action,omitempty"`
}

// RoutingDef lists downstream consumers; names are checked against the routing policy.
type RoutingDef struct {
	Targets []string `yaml:"targets" json:"targets,omitempty"`
}

// SuppressionDef overrides the default window. A zero window disables suppression.
type SuppressionDef struct {
	Window *time.Duration `yaml:"window,omitempty" json:"window,omitempty"`
}

// ModifierDef configures one severity modifier. Params are type-specific
// and validated by the modifier registry when the catalog is built.
type ModifierDef struct {
	Type      string                 `yaml:"type" json:"type"`
	Direction string                 `yaml:"direction" json:"direction"` // raise | lower
	Reason    string                 `yaml:"reason" json:"reason,omitempty"`
	Params    map[string]interface{} `yaml:"params" json:"params,omitempty"`
}

const (
	KindSingle      = "single"
	KindCorrelation = "correlation"

	MatchPolicyAll     = "all"
	MatchPolicyHighest = "highest_severity"

	DefaultSuppressionWindow = 60 * time.Minute
)
