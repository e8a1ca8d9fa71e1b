package ingest

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
	"gopkg.in/yaml.v3"
)

//go:embed policy/tripwires.yaml
var defaultTripwires []byte

// DefaultMatchTimeout bounds a single tripwire regex evaluation.
const DefaultMatchTimeout = 100 * time.Millisecond

// TripwirePolicy is the deny-list configuration as written on disk.
type TripwirePolicy struct {
	Version                  string   `yaml:"version"`
	ProhibitedKeysExact      []string `yaml:"prohibited_keys_exact"`
	ProhibitedKeyPatterns    []string `yaml:"prohibited_key_patterns"`
	ProhibitedStringPatterns []string `yaml:"prohibited_string_patterns"`
}

// Tripwires is a compiled TripwirePolicy. Patterns are case-insensitive.
type Tripwires struct {
	version       string
	exact         map[string]struct{}
	keyPatterns   []*regexp2.Regexp
	valuePatterns []*regexp2.Regexp
}

// LoadTripwires reads a policy from path, or the embedded default when path is empty.
func LoadTripwires(path string, timeout time.Duration) (*Tripwires, error) {
	data := defaultTripwires
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read tripwire policy %s: %w", path, err)
		}
		data = b
	}
	var p TripwirePolicy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse tripwire policy: %w", err)
	}
	return CompileTripwires(p, timeout)
}

// CompileTripwires compiles every pattern up front; a bad pattern is fatal.
func CompileTripwires(p TripwirePolicy, timeout time.Duration) (*Tripwires, error) {
	if timeout <= 0 {
		timeout = DefaultMatchTimeout
	}
	t := &Tripwires{
		version: p.Version,
		exact:   make(map[string]struct{}, len(p.ProhibitedKeysExact)),
	}
	if t.version == "" {
		t.version = "unknown"
	}
	for _, k := range p.ProhibitedKeysExact {
		t.exact[strings.ToLower(strings.TrimSpace(k))] = struct{}{}
	}
	var errs []string
	compile := func(kind string, patterns []string) []*regexp2.Regexp {
		out := make([]*regexp2.Regexp, 0, len(patterns))
		for i, pat := range patterns {
			re, err := regexp2.Compile(pat, regexp2.IgnoreCase)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s[%d]: %v", kind, i, err))
				continue
			}
			re.MatchTimeout = timeout
			out = append(out, re)
		}
		return out
	}
	t.keyPatterns = compile("prohibited_key_patterns", p.ProhibitedKeyPatterns)
	t.valuePatterns = compile("prohibited_string_patterns", p.ProhibitedStringPatterns)
	if len(errs) > 0 {
		return nil, fmt.Errorf("tripwire policy errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return t, nil
}

// Version returns the policy version recorded on INGEST_ACCEPT.
func (t *Tripwires) Version() string { return t.version }

// Scan walks obj depth-first in sorted key order and returns the rejection
// text of the first hit, or "" when nothing matched. The text names the path,
// never the offending value. A pattern that times out counts as a hit.
func (t *Tripwires) Scan(obj interface{}) string {
	return t.scan(obj, "(root)")
}

func (t *Tripwires) scan(node interface{}, path string) string {
	switch v := node.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			at := path + "." + k
			if _, ok := t.exact[strings.ToLower(k)]; ok {
				return "Prohibited key detected at " + at
			}
			if matchAny(t.keyPatterns, k) {
				return "Prohibited key pattern detected at " + at
			}
			if hit := t.scan(v[k], at); hit != "" {
				return hit
			}
		}
	case []interface{}:
		for i, item := range v {
			if hit := t.scan(item, fmt.Sprintf("%s[%d]", path, i)); hit != "" {
				return hit
			}
		}
	case string:
		if matchAny(t.valuePatterns, v) {
			return "Prohibited content pattern detected at " + path
		}
	}
	return ""
}

func matchAny(patterns []*regexp2.Regexp, s string) bool {
	for _, re := range patterns {
		ok, err := re.MatchString(s)
		if err != nil || ok {
			return true
		}
	}
	return false
}
