package alert

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/sentinel/internal/audit"
	"github.com/gyaneshwarpardhi/sentinel/internal/event"
)

// idNamespace seeds deterministic alert ids.
var idNamespace = uuid.MustParse("6f1d4b7e-2c55-4f0a-9a51-3e8d2b9c7a10")

// Spec is everything the builder needs to produce one Alert.
type Spec struct {
	RuleID            string
	RuleVersion       string
	RulesetVersion    string
	RiskCode          string
	RuleSeverity      Severity
	Severity          Severity
	Overrides         []Override
	Context           event.Context
	EventRefs         []string
	RecommendedAction string
	RoutingTargets    []string
	Trigger           Trigger
}

// Builder turns a Spec into an Alert and records ALERT_BUILT.
type Builder struct {
	audit audit.Appender
}

// NewBuilder returns a Builder that audits through a.
func NewBuilder(a audit.Appender) *Builder {
	return &Builder{audit: a}
}

// ID derives the alert id from the rule and the contributing events, so the
// same decision always yields the same id.
func ID(ruleID, ruleVersion string, eventRefs []string) string {
	name := ruleID + "|" + ruleVersion + "|" + strings.Join(eventRefs, ",")
	u := uuid.NewSHA1(idNamespace, []byte(name))
	return "ALT-" + strings.ToUpper(hex.EncodeToString(u[:]))
}

// Build validates s and returns a NEW alert created at now.
func (b *Builder) Build(ctx context.Context, s Spec, now time.Time) (Alert, error) {
	if s.RuleID == "" || s.RiskCode == "" || len(s.EventRefs) == 0 {
		return Alert{}, errors.New("build alert: rule_id, risk_code and event_refs are required")
	}
	if s.Severity.Rank() < 0 || s.RuleSeverity.Rank() < 0 {
		return Alert{}, fmt.Errorf("build alert %s: invalid severity", s.RuleID)
	}
	a := Alert{
		AlertID:           ID(s.RuleID, s.RuleVersion, s.EventRefs),
		CreatedAt:         now.UTC(),
		Status:            StatusNew,
		RiskCode:          s.RiskCode,
		Severity:          s.Severity,
		RuleSeverity:      s.RuleSeverity,
		SeverityOverrides: append([]Override(nil), s.Overrides...),
		RuleID:            s.RuleID,
		RuleVersion:       s.RuleVersion,
		RulesetVersion:    s.RulesetVersion,
		Trigger:           s.Trigger,
		Context:           s.Context,
		EventRefs:         append([]string(nil), s.EventRefs...),
		RecommendedAction: s.RecommendedAction,
		RoutingTargets:    append([]string(nil), s.RoutingTargets...),
	}
	if a.Trigger == "" {
		a.Trigger = TriggerEvent
	}
	err := b.audit.Append(ctx, audit.Record{
		RecordType:  audit.AlertBuilt,
		Timestamp:   now,
		EventID:     a.EventRefs[len(a.EventRefs)-1],
		AlertID:     a.AlertID,
		RuleID:      a.RuleID,
		RuleVersion: a.RuleVersion,
		RiskCode:    a.RiskCode,
		Severity:    string(a.Severity),
	})
	if err != nil {
		return Alert{}, fmt.Errorf("audit alert built: %w", err)
	}
	return a, nil
}
