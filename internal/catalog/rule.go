package catalog

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/sentinel/internal/alert"
	"github.com/gyaneshwarpardhi/sentinel/internal/condition"
	"github.com/gyaneshwarpardhi/sentinel/internal/event"
	"github.com/gyaneshwarpardhi/sentinel/internal/modifier"
)

// Kind discriminates the two rule kinds.
type Kind string

const (
	KindSingle      Kind = "single"
	KindCorrelation Kind = "correlation"
)

// Correlation is the compiled pairing of a correlation rule.
type Correlation struct {
	Opening   event.Type
	Closing   event.Type
	Threshold time.Duration
}

// Rule is one compiled, immutable rule definition.
type Rule struct {
	ID                string
	Version           string
	Description       string
	Enabled           bool
	Kind              Kind
	Correlation       *Correlation
	RiskCode          string
	Severity          alert.Severity
	RecommendedAction string
	Targets           []string // normalized against the routing policy
	SuppressionWindow time.Duration
	Modifiers         []modifier.Bound

	eventTypes map[event.Type]struct{}
	predicate  condition.Expr // nil = always true
}

// Key returns "rule_id@version".
func (r *Rule) Key() string { return r.ID + "@" + r.Version }

// Triggers reports whether t is one of the rule's trigger event types. For
// correlation rules only the opening type is a trigger.
func (r *Rule) Triggers(t event.Type) bool {
	_, ok := r.eventTypes[t]
	return ok
}

// Predicate returns the compiled condition, or nil if the rule has none.
func (r *Rule) Predicate() condition.Expr { return r.predicate }

// Matches evaluates the predicate against ev. The returned reason is safe to
// audit: it names fields, never values.
func (r *Rule) Matches(ev *event.Event) (bool, string) {
	if r.predicate == nil {
		return true, "matched"
	}
	ok, err := condition.Evaluate(r.predicate, &evalContext{ev: ev}, event.Schema)
	switch {
	case errors.Is(err, condition.ErrFieldNotFound):
		return false, strings.TrimPrefix(err.Error(), condition.ErrFieldNotFound.Error()+": ") + " not present"
	case err != nil:
		return false, fmt.Sprintf("condition not evaluable: %v", err)
	case !ok:
		return false, "conditions not met"
	}
	return true, "matched"
}

// evalContext implements condition.EvalContext over an Event.
type evalContext struct {
	ev *event.Event
}

// Resolve looks up a field by its wire name.
func (c *evalContext) Resolve(field string) (interface{}, bool) {
	return c.ev.Field(field)
}
