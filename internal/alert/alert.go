// Package alert builds immutable Alert records and appends them to the
// alert stream. Nothing here updates or removes an alert once written.
package alert

import (
	"time"

	"github.com/gyaneshwarpardhi/sentinel/internal/event"
)

// Status is always NEW here; later transitions belong to external consumers.
type Status string

const StatusNew Status = "NEW"

// Trigger tells whether an alert came from an inline event or a sweep.
type Trigger string

const (
	TriggerEvent Trigger = "EVENT"
	TriggerSweep Trigger = "SWEEP"
)

// Override records one severity modifier application.
type Override struct {
	From     Severity `json:"from"`
	To       Severity `json:"to"`
	Modifier string   `json:"modifier"`
	Reason   string   `json:"reason"`
}

// Alert is the persisted output record.
type Alert struct {
	AlertID           string     `json:"alert_id"`
	CreatedAt         time.Time  `json:"created_at"`
	Status            Status     `json:"status"`
	RiskCode          string     `json:"risk_code"`
	Severity          Severity   `json:"severity"`
	RuleSeverity      Severity   `json:"rule_severity"`
	SeverityOverrides []Override `json:"severity_overrides,omitempty"`
	RuleID            string     `json:"rule_id"`
	RuleVersion       string     `json:"rule_version"`
	RulesetVersion    string     `json:"ruleset_version,omitempty"`
	Trigger           Trigger    `json:"trigger"`
	event.Context
	EventRefs         []string `json:"event_refs"`
	RecommendedAction string   `json:"recommended_action,omitempty"`
	RoutingTargets    []string `json:"routing_targets,omitempty"`
}
