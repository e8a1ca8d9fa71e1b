package condition

import (
	"fmt"
	"strings"
)

// Operator represents a comparison operator. The set is closed.
type Operator string

const (
	OpEq       Operator = "=="
	OpNeq      Operator = "!="
	OpGt       Operator = ">"
	OpGte      Operator = ">="
	OpLt       Operator = "<"
	OpLte      Operator = "<="
	OpIn       Operator = "in"
	OpContains Operator = "contains"
)

// Valid reports whether op is one of the supported operators.
func (op Operator) Valid() bool {
	switch op {
	case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpIn, OpContains:
		return true
	}
	return false
}

// Kind is the value type of an event field.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "integer"
	case KindBool:
		return "boolean"
	}
	return "string"
}

// Schema maps every comparable field to its kind.
type Schema map[string]Kind

// accepts reports whether op is defined on fields of kind k.
func (k Kind) accepts(op Operator) bool {
	switch op {
	case OpEq, OpNeq:
		return true
	case OpIn:
		return k != KindBool
	case OpGt, OpGte, OpLt, OpLte:
		return k == KindInt
	case OpContains:
		return k == KindString
	}
	return false
}

// literal coerces a constant to the representation used for kind k:
// string, int64 or bool.
func (k Kind) literal(v interface{}) (interface{}, error) {
	switch k {
	case KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case KindInt:
		if n, ok := asInt(v); ok {
			return n, nil
		}
	case KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%s literal expected, got %v (%T)", k, v, v)
}

func asInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

// apply evaluates one comparison. want has already been coerced to k.
func (k Kind) apply(op Operator, got, want interface{}) (bool, error) {
	got, err := k.literal(got)
	if err != nil {
		return false, err
	}
	switch op {
	case OpEq:
		return got == want, nil
	case OpNeq:
		return got != want, nil
	case OpIn:
		for _, item := range want.([]interface{}) {
			if got == item {
				return true, nil
			}
		}
		return false, nil
	case OpContains:
		return strings.Contains(got.(string), want.(string)), nil
	}
	l, r := got.(int64), want.(int64)
	switch op {
	case OpGt:
		return l > r, nil
	case OpGte:
		return l >= r, nil
	case OpLt:
		return l < r, nil
	case OpLte:
		return l <= r, nil
	}
	return false, fmt.Errorf("unknown operator: %s", op)
}
