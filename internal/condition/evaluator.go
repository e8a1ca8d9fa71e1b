package condition

import (
	"errors"
	"fmt"
)

// ErrFieldNotFound is returned when an expression references a field the
// event does not carry.
var ErrFieldNotFound = errors.New("field not found")

// EvalContext resolves field values for evaluation.
type EvalContext interface {
	Resolve(field string) (interface{}, bool)
}

// Evaluate walks a checked expression. AND and OR short-circuit, so a
// missing field on the untaken side is not an error.
func Evaluate(e Expr, ctx EvalContext, schema Schema) (bool, error) {
	switch n := e.(type) {
	case *Logical:
		left, err := Evaluate(n.Left, ctx, schema)
		if err != nil {
			return false, err
		}
		if (n.Op == "AND" && !left) || (n.Op == "OR" && left) {
			return left, nil
		}
		return Evaluate(n.Right, ctx, schema)
	case *Not:
		v, err := Evaluate(n.Expr, ctx, schema)
		if err != nil {
			return false, err
		}
		return !v, nil
	case *Comparison:
		got, ok := ctx.Resolve(n.Field)
		if !ok {
			return false, fmt.Errorf("%w: %s", ErrFieldNotFound, n.Field)
		}
		return schema[n.Field].apply(n.Op, got, n.Value)
	}
	return false, fmt.Errorf("unknown expr type %T", e)
}

// Fields returns the distinct fields referenced by e, in first-seen order.
func Fields(e Expr) []string {
	var out []string
	seen := make(map[string]bool)
	var walk func(Expr)
	walk = func(e Expr) {
		switch n := e.(type) {
		case *Logical:
			walk(n.Left)
			walk(n.Right)
		case *Not:
			walk(n.Expr)
		case *Comparison:
			if !seen[n.Field] {
				seen[n.Field] = true
				out = append(out, n.Field)
			}
		}
	}
	walk(e)
	return out
}
