package alert

import "fmt"

// Severity is totally ordered: LOW < MEDIUM < HIGH < CRITICAL.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

var severityOrder = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// ParseSeverity validates s against the closed set.
func ParseSeverity(s string) (Severity, error) {
	for _, v := range severityOrder {
		if string(v) == s {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// Rank returns the position of s in the order, or -1 if unknown.
func (s Severity) Rank() int {
	for i, v := range severityOrder {
		if v == s {
			return i
		}
	}
	return -1
}

// Step moves s by delta levels, clamped to the ends of the scale.
func (s Severity) Step(delta int) Severity {
	i := s.Rank()
	if i < 0 {
		return s
	}
	i += delta
	if i < 0 {
		i = 0
	}
	if i >= len(severityOrder) {
		i = len(severityOrder) - 1
	}
	return severityOrder[i]
}
