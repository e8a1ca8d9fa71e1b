package modifier

import (
	"testing"

	"github.com/gyaneshwarpardhi/sentinel/internal/alert"
)

func fields(kv map[string]interface{}) func(string) (interface{}, bool) {
	return func(name string) (interface{}, bool) {
		v, ok := kv[name]
		return v, ok
	}
}

func mustBind(t *testing.T, r *Registry, typ, dir string, params map[string]interface{}) Bound {
	t.Helper()
	b, err := r.Bind(typ, dir, typ+" reason", params)
	if err != nil {
		t.Fatalf("Bind(%s): %v", typ, err)
	}
	return b
}

func TestApply(t *testing.T) {
	r := DefaultRegistry()
	critical := mustBind(t, r, "event_flag", "raise", map[string]interface{}{"field": "step_critical", "equals": true})
	recurring := mustBind(t, r, "recurrence", "raise", map[string]interface{}{"min_count": 2})
	qaRole := mustBind(t, r, "event_flag", "lower", map[string]interface{}{"field": "operator_role", "equals": "TRAINEE"})

	cases := []struct {
		name      string
		base      alert.Severity
		bounds    []Bound
		in        Input
		want      alert.Severity
		overrides int
	}{
		{
			name:   "no modifiers fire",
			base:   alert.SeverityMedium,
			bounds: []Bound{critical, recurring},
			in:     Input{Field: fields(map[string]interface{}{"step_critical": false}), Recurrence: 1},
			want:   alert.SeverityMedium,
		},
		{
			name:      "one level per modifier",
			base:      alert.SeverityMedium,
			bounds:    []Bound{critical, recurring},
			in:        Input{Field: fields(map[string]interface{}{"step_critical": true}), Recurrence: 2},
			want:      alert.SeverityCritical,
			overrides: 2,
		},
		{
			name:      "clamped at top is not recorded",
			base:      alert.SeverityHigh,
			bounds:    []Bound{critical, recurring},
			in:        Input{Field: fields(map[string]interface{}{"step_critical": true}), Recurrence: 5},
			want:      alert.SeverityCritical,
			overrides: 1,
		},
		{
			name:      "lower",
			base:      alert.SeverityHigh,
			bounds:    []Bound{qaRole},
			in:        Input{Field: fields(map[string]interface{}{"operator_role": "TRAINEE"})},
			want:      alert.SeverityMedium,
			overrides: 1,
		},
		{
			name:   "absent field never fires",
			base:   alert.SeverityLow,
			bounds: []Bound{critical},
			in:     Input{Field: fields(nil)},
			want:   alert.SeverityLow,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ovr := Apply(tc.base, tc.bounds, tc.in)
			if got != tc.want {
				t.Errorf("severity = %s, want %s", got, tc.want)
			}
			if len(ovr) != tc.overrides {
				t.Fatalf("overrides = %d, want %d (%+v)", len(ovr), tc.overrides, ovr)
			}
			for _, o := range ovr {
				if d := o.To.Rank() - o.From.Rank(); d != 1 && d != -1 {
					t.Errorf("override %+v moved %d levels", o, d)
				}
				if o.Reason == "" {
					t.Errorf("override %+v has no reason", o)
				}
			}
		})
	}
}

func TestBind_Errors(t *testing.T) {
	r := DefaultRegistry()
	cases := []struct {
		name   string
		typ    string
		dir    string
		params map[string]interface{}
	}{
		{"unknown type", "weather", "raise", nil},
		{"bad direction", "recurrence", "up", map[string]interface{}{"min_count": 1}},
		{"missing min_count", "recurrence", "raise", nil},
		{"zero min_count", "recurrence", "raise", map[string]interface{}{"min_count": 0}},
		{"missing field", "event_flag", "raise", map[string]interface{}{"equals": true}},
		{"missing equals", "event_flag", "raise", map[string]interface{}{"field": "step_critical"}},
		{"field not on the event", "event_flag", "raise", map[string]interface{}{"field": "step_criticl", "equals": true}},
		{"equals of the wrong type", "event_flag", "raise", map[string]interface{}{"field": "step_critical", "equals": "yes"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := r.Bind(tc.typ, tc.dir, "", tc.params); err == nil {
				t.Errorf("expected error")
			}
		})
	}
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	r := DefaultRegistry()
	r.Register(Recurrence{})
}
