// Package routing normalizes rule routing targets against an allow-list of
// downstream consumers.
package routing

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed policy/consumers.yaml
var defaultPolicy []byte

type policyFile struct {
	Version          string            `yaml:"version"`
	AllowedConsumers []string          `yaml:"allowed_consumers"`
	Aliases          map[string]string `yaml:"aliases"`
}

// Policy is an immutable routing allow-list with alias resolution.
type Policy struct {
	version string
	allowed map[string]struct{}
	aliases map[string]string
}

// Load reads a policy from path, or the embedded default when path is empty.
func Load(path string) (*Policy, error) {
	data := defaultPolicy
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read routing policy %s: %w", path, err)
		}
		data = b
	}
	return Parse(data)
}

// Parse builds a Policy from YAML. An empty allow-list is refused.
func Parse(data []byte) (*Policy, error) {
	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse routing policy: %w", err)
	}
	if len(f.AllowedConsumers) == 0 {
		return nil, fmt.Errorf("routing policy: allowed_consumers is empty")
	}
	p := &Policy{
		version: f.Version,
		allowed: make(map[string]struct{}, len(f.AllowedConsumers)),
		aliases: make(map[string]string, len(f.Aliases)),
	}
	if p.version == "" {
		p.version = "unknown"
	}
	for _, c := range f.AllowedConsumers {
		p.allowed[strings.TrimSpace(c)] = struct{}{}
	}
	for k, v := range f.Aliases {
		p.aliases[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return p, nil
}

// Version returns the policy version recorded on ROUTING_APPLIED.
func (p *Policy) Version() string { return p.version }

// Normalize resolves aliases and returns the sorted, de-duplicated targets.
// Any target outside the allow-list is an error.
func (p *Policy) Normalize(targets []string) ([]string, error) {
	seen := make(map[string]struct{}, len(targets))
	out := make([]string, 0, len(targets))
	var unknown []string
	for _, t := range targets {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if a, ok := p.aliases[t]; ok {
			t = a
		}
		if _, ok := p.allowed[t]; !ok {
			unknown = append(unknown, t)
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("routing targets not allowed: %s", strings.Join(unknown, ", "))
	}
	sort.Strings(out)
	return out, nil
}
