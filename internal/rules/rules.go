// Package rules loads per-file ingest overrides from a YAML file.
//
//	rules:
//	  - pattern: "gl_detail_*.csv"
//	    table: general_ledger
//	    schema: finance
//	    mode: full
//	  - pattern: "regions*.csv"
//	    reference: true
//
// The first rule whose pattern matches the file's base name wins. Patterns
// use filepath.Match syntax and are matched case-insensitively.
package rules

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
)

// ErrInvalidRule is wrapped by every validation failure.
var ErrInvalidRule = errors.New("invalid rule")

// Rule overrides how files matching Pattern are loaded. Empty fields keep
// the defaults.
type Rule struct {
	Pattern   string `yaml:"pattern"`
	Table     string `yaml:"table"`
	Schema    string `yaml:"schema"`
	Mode      string `yaml:"mode"`
	Reference bool   `yaml:"reference"`
}

// Set is an ordered list of rules.
type Set struct {
	Rules []Rule `yaml:"rules"`
}

// Load reads a rules file. An empty path yields an empty set.
func Load(path string) (*Set, error) {
	if strings.TrimSpace(path) == "" {
		return &Set{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	set, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// Parse decodes and validates a rules document.
func Parse(data []byte) (*Set, error) {
	var set Set
	if err := yaml.UnmarshalWithOptions(data, &set, yaml.DisallowUnknownField()); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	var errs []error
	for i := range set.Rules {
		r := &set.Rules[i]
		r.Pattern = strings.TrimSpace(r.Pattern)
		r.Mode = strings.ToLower(strings.TrimSpace(r.Mode))

		if r.Pattern == "" {
			errs = append(errs, fmt.Errorf("%w: rule %d: pattern is required", ErrInvalidRule, i+1))
			continue
		}
		if _, err := filepath.Match(r.Pattern, ""); err != nil {
			errs = append(errs, fmt.Errorf("%w: rule %d: pattern %q: %v", ErrInvalidRule, i+1, r.Pattern, err))
		}
		switch r.Mode {
		case "", "full", "append":
		default:
			errs = append(errs, fmt.Errorf("%w: rule %d: mode %q must be full or append", ErrInvalidRule, i+1, r.Mode))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &set, nil
}

// Match returns the first rule matching the base name of path.
func (s *Set) Match(path string) (Rule, bool) {
	if s == nil {
		return Rule{}, false
	}
	name := strings.ToLower(filepath.Base(path))
	for _, r := range s.Rules {
		if ok, _ := filepath.Match(strings.ToLower(r.Pattern), name); ok {
			return r, true
		}
	}
	return Rule{}, false
}
