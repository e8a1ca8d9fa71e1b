package condition

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

// mockCtx implements EvalContext for tests.
type mockCtx struct {
	data map[string]interface{}
}

func (m *mockCtx) Resolve(field string) (interface{}, bool) {
	v, ok := m.data[field]
	return v, ok
}

var testSchema = Schema{
	"area":          KindString,
	"operator_role": KindString,
	"step_code":     KindString,
	"page_number":   KindInt,
	"step_critical": KindBool,
}

func ctx(kv ...interface{}) *mockCtx {
	m := &mockCtx{data: make(map[string]interface{})}
	for i := 0; i < len(kv)-1; i += 2 {
		m.data[kv[i].(string)] = kv[i+1]
	}
	return m
}

type evalCase struct {
	name    string
	expr    string
	ctx     EvalContext
	want    bool
	wantErr bool
}

func TestEvaluate(t *testing.T) {
	cases := []evalCase{
		// Numeric comparisons
		{
			name: "gt true",
			expr: "page_number > 2",
			ctx:  ctx("page_number", 3),
			want: true,
		},
		{
			name: "gt false",
			expr: "page_number > 2",
			ctx:  ctx("page_number", 1),
			want: false,
		},
		{
			name: "gte equal",
			expr: "page_number >= 2",
			ctx:  ctx("page_number", 2),
			want: true,
		},
		{
			name: "lt true",
			expr: "page_number < 10",
			ctx:  ctx("page_number", 4),
			want: true,
		},
		// String equality
		{
			name: "eq string true",
			expr: `area == "FILL"`,
			ctx:  ctx("area", "FILL"),
			want: true,
		},
		{
			name: "eq string false",
			expr: `area == "FILL"`,
			ctx:  ctx("area", "PACK"),
			want: false,
		},
		{
			name: "neq string",
			expr: `area != "FILL"`,
			ctx:  ctx("area", "PACK"),
			want: true,
		},
		// Boolean
		{
			name: "bool eq true",
			expr: "step_critical == true",
			ctx:  ctx("step_critical", true),
			want: true,
		},
		{
			name: "bool eq false literal",
			expr: "step_critical == false",
			ctx:  ctx("step_critical", true),
			want: false,
		},
		// AND / OR
		{
			name: "AND both true",
			expr: `area == "FILL" AND page_number > 1`,
			ctx:  ctx("area", "FILL", "page_number", 3),
			want: true,
		},
		{
			name: "AND first false short-circuits missing field",
			expr: `area == "FILL" AND page_number > 1`,
			ctx:  ctx("area", "PACK"),
			want: false,
		},
		{
			name: "OR first true",
			expr: `area == "FILL" OR page_number > 5`,
			ctx:  ctx("area", "FILL", "page_number", 1),
			want: true,
		},
		{
			name: "OR both false",
			expr: `area == "FILL" OR page_number > 5`,
			ctx:  ctx("area", "PACK", "page_number", 1),
			want: false,
		},
		// NOT and grouping
		{
			name: "NOT true",
			expr: `NOT page_number > 5`,
			ctx:  ctx("page_number", 1),
			want: true,
		},
		{
			name: "grouping",
			expr: `(area == "FILL" OR area == "PACK") AND step_critical == true`,
			ctx:  ctx("area", "PACK", "step_critical", true),
			want: true,
		},
		// in
		{
			name: "in true",
			expr: `operator_role in ("QA", "SUPERVISOR")`,
			ctx:  ctx("operator_role", "QA"),
			want: true,
		},
		{
			name: "in false",
			expr: `operator_role in ("QA", "SUPERVISOR")`,
			ctx:  ctx("operator_role", "OPERATOR"),
			want: false,
		},
		{
			name: "in numeric",
			expr: `page_number in (1, 2)`,
			ctx:  ctx("page_number", 2),
			want: true,
		},
		// contains
		{
			name: "contains true",
			expr: `step_code contains "STEP-0"`,
			ctx:  ctx("step_code", "STEP-04"),
			want: true,
		},
		{
			name: "contains false",
			expr: `step_code contains "CLEAN"`,
			ctx:  ctx("step_code", "STEP-04"),
			want: false,
		},
		{
			name: "negative integer",
			expr: "page_number > -1",
			ctx:  ctx("page_number", 0),
			want: true,
		},
		// Event carries a value of the wrong type
		{
			name:    "string value for integer field",
			expr:    "page_number > 1",
			ctx:     ctx("page_number", "3"),
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ast, err := Compile(tc.expr, testSchema)
			if err != nil {
				t.Fatalf("Compile(%q) error: %v", tc.expr, err)
			}
			got, err := Evaluate(ast, tc.ctx, testSchema)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got nil (result=%v)", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Evaluate error: %v", err)
			}
			if got != tc.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tc.expr, got, tc.want)
			}
		})
	}
}

func TestEvaluate_MissingFieldIsTyped(t *testing.T) {
	ast, err := Compile("page_number > 1", testSchema)
	if err != nil {
		t.Fatal(err)
	}
	_, err = Evaluate(ast, ctx(), testSchema)
	if !errors.Is(err, ErrFieldNotFound) {
		t.Fatalf("expected ErrFieldNotFound, got %v", err)
	}
}

func TestParse_Errors(t *testing.T) {
	cases := []string{
		`"unterminated`,
		`page_number 1`, // missing operator
		``,              // empty (will fail at comparison level)
		`area = "FILL"`, // single '=' is not an operator
		`area in "FILL"`,
		`area in (site)`,
		`page_number - 1 > 2`,
		`area matches ".*"`,
		`page_number > 1.5`,
		`area == "FILL" AND`,
		`(area == "FILL"`,
		`true == area`,
	}
	for _, expr := range cases {
		t.Run(expr, func(t *testing.T) {
			_, err := Parse(expr)
			if err == nil {
				t.Errorf("expected parse error for %q, got nil", expr)
			}
		})
	}
}

func TestCompile_TypeErrors(t *testing.T) {
	cases := []struct {
		expr string
		want string
	}{
		{`missing > 10`, `unknown field "missing"`},
		{`area > 1`, "operator > is not defined on string field area"},
		{`page_number contains "1"`, "operator contains is not defined on integer field page_number"},
		{`step_critical in (true)`, "operator in is not defined on boolean field step_critical"},
		{`page_number == "2"`, "integer literal expected"},
		{`area == 3`, "string literal expected"},
		{`step_critical == "true"`, "boolean literal expected"},
		{`operator_role in ("QA", 7)`, "operator_role in [1]: string literal expected"},
		{`area == "FILL" OR NOT page_number >= "x"`, "integer literal expected"},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			if _, err := Parse(tc.expr); err != nil {
				t.Fatalf("Parse(%q) error: %v", tc.expr, err)
			}
			_, err := Compile(tc.expr, testSchema)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("Compile(%q) error = %v, want containing %q", tc.expr, err, tc.want)
			}
		})
	}
}

func TestCompare(t *testing.T) {
	// YAML decodes list items as []interface{} and integers as int.
	e, err := Compare("page_number", OpIn, []interface{}{1, 2}, testSchema)
	if err != nil {
		t.Fatalf("Compare error: %v", err)
	}
	got, err := Evaluate(e, ctx("page_number", int64(2)), testSchema)
	if err != nil || !got {
		t.Errorf("Evaluate = (%v, %v), want (true, nil)", got, err)
	}

	if _, err := Compare("page_number", OpIn, []interface{}{}, testSchema); err == nil {
		t.Error("expected error for empty in list")
	}
	if _, err := Compare("area", Operator("=~"), "F.*", testSchema); err == nil {
		t.Error("expected error for unknown operator")
	}
	if And() != nil {
		t.Error("And() of no parts should be nil")
	}
}

func TestFields(t *testing.T) {
	ast, err := Compile(`area == "FILL" AND (page_number > 1 OR area != "PACK")`, testSchema)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"area", "page_number"}
	if got := Fields(ast); !reflect.DeepEqual(got, want) {
		t.Errorf("Fields = %v, want %v", got, want)
	}
}
