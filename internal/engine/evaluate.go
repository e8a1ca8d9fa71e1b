package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gyaneshwarpardhi/sentinel/internal/alert"
	"github.com/gyaneshwarpardhi/sentinel/internal/audit"
	"github.com/gyaneshwarpardhi/sentinel/internal/catalog"
	"github.com/gyaneshwarpardhi/sentinel/internal/correlation"
	"github.com/gyaneshwarpardhi/sentinel/internal/event"
	"github.com/gyaneshwarpardhi/sentinel/internal/metrics"
	"github.com/gyaneshwarpardhi/sentinel/internal/modifier"
	"github.com/gyaneshwarpardhi/sentinel/internal/suppression"
)

// candidate is a would-be alert before suppression and severity overrides.
type candidate struct {
	rule      *catalog.Rule
	context   event.Context
	eventID   string // event the audit records are attributed to
	eventRefs []string
	trigger   alert.Trigger
	decision  int // index into Result.Decisions, -1 for sweep candidates
}

func (c candidate) field(name string) (interface{}, bool) {
	return c.context.Field(name)
}

// evaluate runs every enabled rule in catalog order and appends one decision
// per rule to res. Any returned error is an infrastructure failure.
func (e *Engine) evaluate(ctx context.Context, cat *catalog.Catalog, ev *event.Event, at time.Time, res *Result) error {
	var candidates []candidate
	for _, rule := range cat.Enabled() {
		var (
			d   RuleDecision
			err error
		)
		if rule.Kind == catalog.KindCorrelation {
			d, err = e.evaluateCorrelation(ctx, rule, ev)
		} else {
			d = evaluateSingle(rule, ev)
		}
		if err != nil {
			return err
		}
		if err := e.recordDecision(ctx, rule, ev, d); err != nil {
			return err
		}
		res.Decisions = append(res.Decisions, d)
		if d.Decision == DecisionMatch {
			metrics.RuleMatches.WithLabelValues(rule.ID).Inc()
			candidates = append(candidates, candidate{
				rule:      rule,
				context:   ev.Context,
				eventID:   ev.EventID,
				eventRefs: []string{ev.EventID},
				trigger:   alert.TriggerEvent,
				decision:  len(res.Decisions) - 1,
			})
		}
	}

	if cat.HighestSeverityOnly() && len(candidates) > 1 {
		var err error
		if candidates, err = e.selectHighest(ctx, candidates, res); err != nil {
			return err
		}
	}

	for _, c := range candidates {
		a, err := e.emit(ctx, cat, c, at)
		if err != nil {
			return err
		}
		if a == nil {
			res.Decisions[c.decision].Decision = DecisionSuppressed
			continue
		}
		res.Decisions[c.decision].AlertID = a.AlertID
		res.Alerts = append(res.Alerts, *a)
	}
	return nil
}

func evaluateSingle(rule *catalog.Rule, ev *event.Event) RuleDecision {
	d := RuleDecision{RuleID: rule.ID, RuleVersion: rule.Version, Decision: DecisionNoMatch}
	if !rule.Triggers(ev.EventType) {
		d.Reason = "event type not a trigger"
		return d
	}
	ok, reason := rule.Matches(ev)
	d.Reason = reason
	if ok {
		d.Decision = DecisionMatch
	}
	return d
}

// evaluateCorrelation opens or closes the rule's window for the event's
// correlation key. It never produces an alert inline; timeouts belong to
// the sweep.
func (e *Engine) evaluateCorrelation(ctx context.Context, rule *catalog.Rule, ev *event.Event) (RuleDecision, error) {
	d := RuleDecision{RuleID: rule.ID, RuleVersion: rule.Version, Decision: DecisionNoMatch}
	opening := rule.Triggers(ev.EventType)
	closing := ev.EventType == rule.Correlation.Closing
	if !opening && !closing {
		d.Reason = "event type not a trigger"
		return d, nil
	}
	key := ev.CorrelationKey()
	if key == "" {
		d.Decision = DecisionCorrelationKeyMissing
		d.Reason = "no correlation key"
		return d, nil
	}

	if opening {
		if ok, reason := rule.Matches(ev); !ok {
			d.Reason = reason
			return d, nil
		}
		opened, err := e.correlations.Open(ctx, key, rule, ev)
		if err != nil {
			return d, fmt.Errorf("correlation open %s: %w", rule.ID, err)
		}
		d.Decision = DecisionCorrelationOpened
		d.Reason = "correlation opened"
		if !opened {
			d.Reason = "correlation already open"
		} else {
			metrics.CorrelationTransitions.WithLabelValues(string(correlation.StatusOpen)).Inc()
			metrics.OpenCorrelations.Set(float64(e.correlations.CountOpen()))
		}
		return d, nil
	}

	outcome, err := e.correlations.Close(ctx, key, rule, ev)
	if err != nil {
		return d, fmt.Errorf("correlation close %s: %w", rule.ID, err)
	}
	switch outcome {
	case correlation.CloseOnTime:
		d.Decision = DecisionCorrelationClosed
		d.Reason = "closed on time"
		metrics.CorrelationTransitions.WithLabelValues(string(correlation.StatusClosed)).Inc()
		metrics.OpenCorrelations.Set(float64(e.correlations.CountOpen()))
	case correlation.CloseLate:
		d.Reason = "closing event after threshold"
	default:
		d.Reason = "no open correlation"
	}
	return d, nil
}

// recordDecision writes the single RULE_MATCH or RULE_NO_MATCH for a rule.
func (e *Engine) recordDecision(ctx context.Context, rule *catalog.Rule, ev *event.Event, d RuleDecision) error {
	rt := audit.RuleNoMatch
	switch d.Decision {
	case DecisionMatch, DecisionCorrelationOpened, DecisionCorrelationClosed:
		rt = audit.RuleMatch
	}
	err := e.audit.Append(ctx, audit.Record{
		RecordType:  rt,
		EventID:     ev.EventID,
		EventType:   string(ev.EventType),
		RuleID:      rule.ID,
		RuleVersion: rule.Version,
		Reason:      d.Reason,
	})
	if err != nil {
		return fmt.Errorf("audit rule decision %s: %w", rule.ID, err)
	}
	return nil
}

// selectHighest keeps the candidate with the highest post-override severity.
// Candidates arrive in rule_id order so the first maximum wins ties.
func (e *Engine) selectHighest(ctx context.Context, candidates []candidate, res *Result) ([]candidate, error) {
	best, bestRank := 0, -1
	for i, c := range candidates {
		prev, _, err := e.suppression.Get(ctx, suppression.Key(c.rule.ID, c.context))
		if err != nil {
			return nil, err
		}
		sev, _ := modifier.Apply(c.rule.Severity, c.rule.Modifiers, modifier.Input{Field: c.field, Recurrence: prev.Count})
		if r := sev.Rank(); r > bestRank {
			best, bestRank = i, r
		}
	}
	for i, c := range candidates {
		if i != best {
			res.Decisions[c.decision].Decision = DecisionNotSelected
			res.Decisions[c.decision].Reason = "lower severity than " + candidates[best].rule.ID
		}
	}
	return candidates[best : best+1], nil
}

// emit takes a candidate through suppression, overrides, build, persist,
// routing and the suppression record, all under the suppression key lock.
// A nil alert with a nil error means the candidate was suppressed.
func (e *Engine) emit(ctx context.Context, cat *catalog.Catalog, c candidate, now time.Time) (*alert.Alert, error) {
	rule := c.rule
	key := suppression.Key(rule.ID, c.context)
	unlock := e.suppression.Lock(key)
	defer unlock()

	suppressed, prev, err := e.suppression.ShouldSuppress(ctx, key, rule.SuppressionWindow, now)
	if err != nil {
		return nil, err
	}
	if suppressed {
		err := e.audit.Append(ctx, audit.Record{
			RecordType:     audit.AlertSuppressed,
			Timestamp:      now,
			EventID:        c.eventID,
			RuleID:         rule.ID,
			RuleVersion:    rule.Version,
			RiskCode:       rule.RiskCode,
			Severity:       string(rule.Severity),
			SuppressionKey: key,
			WindowSeconds:  int64(rule.SuppressionWindow / time.Second),
			LastAlertAt:    audit.TimePtr(prev.LastAlertAt),
		})
		if err != nil {
			return nil, fmt.Errorf("audit alert suppressed: %w", err)
		}
		metrics.AlertsSuppressed.WithLabelValues(rule.ID).Inc()
		e.logger.Debug("alert suppressed", "rule_id", rule.ID, "event_id", c.eventID)
		return nil, nil
	}

	sev, overrides := modifier.Apply(rule.Severity, rule.Modifiers, modifier.Input{Field: c.field, Recurrence: prev.Count})
	a, err := e.builder.Build(ctx, alert.Spec{
		RuleID:            rule.ID,
		RuleVersion:       rule.Version,
		RulesetVersion:    cat.Version(),
		RiskCode:          rule.RiskCode,
		RuleSeverity:      rule.Severity,
		Severity:          sev,
		Overrides:         overrides,
		Context:           c.context,
		EventRefs:         c.eventRefs,
		RecommendedAction: rule.RecommendedAction,
		RoutingTargets:    rule.Targets,
		Trigger:           c.trigger,
	}, now)
	if err != nil {
		return nil, err
	}

	err = e.alerts.Persist(ctx, a)
	switch {
	case errors.Is(err, alert.ErrAlreadyPersisted):
		e.logger.Info("alert already persisted", "alert_id", a.AlertID, "rule_id", rule.ID)
	case err != nil:
		return nil, err
	default:
		metrics.AlertsPersisted.WithLabelValues(a.RiskCode, string(a.Severity)).Inc()
	}

	err = e.audit.Append(ctx, audit.Record{
		RecordType:    audit.RoutingApplied,
		Timestamp:     now,
		EventID:       c.eventID,
		AlertID:       a.AlertID,
		RuleID:        rule.ID,
		RuleVersion:   rule.Version,
		Targets:       a.RoutingTargets,
		PolicyVersion: e.routingVersion(),
	})
	if err != nil {
		return nil, fmt.Errorf("audit routing applied: %w", err)
	}

	if _, err := e.suppression.Record(ctx, key, rule.SuppressionWindow, now); err != nil {
		return nil, err
	}
	return &a, nil
}

func (e *Engine) routingVersion() string {
	if e.routing == nil {
		return "none"
	}
	return e.routing.Version()
}
