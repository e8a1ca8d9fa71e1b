package modifier

import (
	"fmt"

	"github.com/gyaneshwarpardhi/sentinel/internal/condition"
	"github.com/gyaneshwarpardhi/sentinel/internal/event"
)

// Recurrence fires once the suppression key has already produced at least
// min_count alerts.
//
//	- type: recurrence
//	  direction: raise
//	  params: {min_count: 3}
type Recurrence struct{}

func (Recurrence) Type() string { return "recurrence" }

func (Recurrence) Validate(params map[string]interface{}) error {
	n, ok := intParam(params, "min_count")
	if !ok || n < 1 {
		return fmt.Errorf("recurrence: min_count must be a positive integer")
	}
	return nil
}

func (Recurrence) Applies(params map[string]interface{}, in Input) bool {
	n, _ := intParam(params, "min_count")
	return in.Recurrence >= n
}

// EventFlag fires when a context field equals a configured value.
//
//	- type: event_flag
//	  direction: raise
//	  params: {field: step_critical, equals: true}
type EventFlag struct{}

func (EventFlag) Type() string { return "event_flag" }

func (EventFlag) Validate(params map[string]interface{}) error {
	_, err := flagComparison(params)
	return err
}

func (EventFlag) Applies(params map[string]interface{}, in Input) bool {
	if in.Field == nil {
		return false
	}
	c, err := flagComparison(params)
	if err != nil {
		return false
	}
	ok, err := condition.Evaluate(c, resolver(in.Field), event.Schema)
	return err == nil && ok
}

// flagComparison type-checks field == equals against the event schema.
func flagComparison(params map[string]interface{}) (condition.Expr, error) {
	field, _ := params["field"].(string)
	if field == "" {
		return nil, fmt.Errorf("event_flag: field is required")
	}
	equals, ok := params["equals"]
	if !ok {
		return nil, fmt.Errorf("event_flag: equals is required")
	}
	c, err := condition.Compare(field, condition.OpEq, equals, event.Schema)
	if err != nil {
		return nil, fmt.Errorf("event_flag: %w", err)
	}
	return c, nil
}

type resolver func(name string) (interface{}, bool)

func (r resolver) Resolve(name string) (interface{}, bool) { return r(name) }

func intParam(params map[string]interface{}, key string) (int, bool) {
	switch n := params[key].(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}
