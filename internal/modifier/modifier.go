// Package modifier implements severity override modifiers. Each applicable
// modifier moves severity exactly one level and is recorded on the alert.
package modifier

import (
	"fmt"

	"github.com/gyaneshwarpardhi/sentinel/internal/alert"
)

// Direction is +1 (raise) or -1 (lower).
type Direction int

const (
	Raise Direction = 1
	Lower Direction = -1
)

// ParseDirection maps the YAML spelling to a Direction.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "raise":
		return Raise, nil
	case "lower":
		return Lower, nil
	}
	return 0, fmt.Errorf("direction must be raise or lower, got %q", s)
}

// Input is what a modifier may look at: the triggering context and how many
// alerts were already emitted for the same suppression key.
type Input struct {
	Field      func(name string) (interface{}, bool)
	Recurrence int
}

// Modifier is the interface all modifier kinds must satisfy.
type Modifier interface {
	// Type returns the string key this modifier is registered under.
	Type() string
	// Validate checks params at build time (called by catalog.Build).
	Validate(params map[string]interface{}) error
	// Applies reports whether the modifier fires for in.
	Applies(params map[string]interface{}, in Input) bool
}

// Bound is a Modifier with its rule-level configuration.
type Bound struct {
	Modifier  Modifier
	Params    map[string]interface{}
	Direction Direction
	Reason    string
}

// Apply runs every bound modifier in order against base. Each one that fires
// and actually changes the level is recorded as an Override.
func Apply(base alert.Severity, bounds []Bound, in Input) (alert.Severity, []alert.Override) {
	sev := base
	var overrides []alert.Override
	for _, b := range bounds {
		if !b.Modifier.Applies(b.Params, in) {
			continue
		}
		next := sev.Step(int(b.Direction))
		if next == sev {
			continue
		}
		overrides = append(overrides, alert.Override{
			From:     sev,
			To:       next,
			Modifier: b.Modifier.Type(),
			Reason:   b.Reason,
		})
		sev = next
	}
	return sev, overrides
}
