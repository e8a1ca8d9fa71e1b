// Package catalog compiles a validated RuleConfig into an immutable rule set.
// A reload builds a new Catalog; the engine swaps it atomically.
package catalog

import (
	"sort"

	"github.com/gyaneshwarpardhi/sentinel/internal/config"
)

// Catalog holds every rule in ascending rule_id, version order.
type Catalog struct {
	name        string
	version     string
	matchPolicy string
	rules       []*Rule
	enabled     []*Rule
	byID        map[string]*Rule // enabled rules only
}

func newCatalog(name, version, matchPolicy string, rules []*Rule) *Catalog {
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].ID != rules[j].ID {
			return rules[i].ID < rules[j].ID
		}
		return rules[i].Version < rules[j].Version
	})
	c := &Catalog{
		name:        name,
		version:     version,
		matchPolicy: matchPolicy,
		rules:       rules,
		byID:        make(map[string]*Rule),
	}
	for _, r := range rules {
		if r.Enabled {
			c.enabled = append(c.enabled, r)
			c.byID[r.ID] = r
		}
	}
	return c
}

func (c *Catalog) Name() string    { return c.name }
func (c *Catalog) Version() string { return c.version }

// MatchPolicy is config.MatchPolicyAll or config.MatchPolicyHighest.
func (c *Catalog) MatchPolicy() string { return c.matchPolicy }

// Rules returns all rules, including disabled ones.
func (c *Catalog) Rules() []*Rule { return c.rules }

// Enabled returns the enabled rules in evaluation order.
func (c *Catalog) Enabled() []*Rule { return c.enabled }

// Rule returns the enabled version of ruleID.
func (c *Catalog) Rule(ruleID string) (*Rule, bool) {
	r, ok := c.byID[ruleID]
	return r, ok
}

// Len returns the total number of rules.
func (c *Catalog) Len() int { return len(c.rules) }

// HighestSeverityOnly reports whether only the top candidate per event is kept.
func (c *Catalog) HighestSeverityOnly() bool {
	return c.matchPolicy == config.MatchPolicyHighest
}

// RuleSummary is the public view of one rule.
type RuleSummary struct {
	RuleID            string   `json:"rule_id"`
	Version           string   `json:"version"`
	Enabled           bool     `json:"enabled"`
	Kind              Kind     `json:"kind"`
	RiskCode          string   `json:"risk_code"`
	Severity          string   `json:"severity"`
	SuppressionWindow string   `json:"suppression_window"`
	Threshold         string   `json:"timing_threshold,omitempty"`
	Targets           []string `json:"routing_targets,omitempty"`
	Modifiers         int      `json:"severity_modifiers,omitempty"`
}

// Summary is the public view of a catalog.
type Summary struct {
	Name        string        `json:"ruleset_name"`
	Version     string        `json:"ruleset_version"`
	MatchPolicy string        `json:"match_policy"`
	Enabled     int           `json:"enabled"`
	Rules       []RuleSummary `json:"rules"`
}

// Summary describes every rule without exposing compiled predicates.
func (c *Catalog) Summary() Summary {
	s := Summary{
		Name:        c.name,
		Version:     c.version,
		MatchPolicy: c.matchPolicy,
		Enabled:     len(c.enabled),
		Rules:       make([]RuleSummary, 0, len(c.rules)),
	}
	for _, r := range c.rules {
		rs := RuleSummary{
			RuleID:            r.ID,
			Version:           r.Version,
			Enabled:           r.Enabled,
			Kind:              r.Kind,
			RiskCode:          r.RiskCode,
			Severity:          string(r.Severity),
			SuppressionWindow: r.SuppressionWindow.String(),
			Targets:           r.Targets,
			Modifiers:         len(r.Modifiers),
		}
		if r.Correlation != nil {
			rs.Threshold = r.Correlation.Threshold.String()
		}
		s.Rules = append(s.Rules, rs)
	}
	return s
}
