// Package ruleset loads derivation rule sets from YAML or JSON documents.
package ruleset

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/solatis/derivekeeper/internal/derivation"
)

// ErrUnknownOperation indicates a rule whose operation is not one of
// from, unique, count, average or countWhere.
var ErrUnknownOperation = errors.New("unknown operation")

// RuleSet is a parsed rule-set document. JSON is read through the same
// decoder, being a subset of YAML.
type RuleSet struct {
	SkipNull      bool
	SkipUndefined bool
	Rules         []RuleEntry
	// Fingerprint is the SHA-256 of the raw document.
	Fingerprint string
}

// RuleEntry is one rule as written in the document.
type RuleEntry struct {
	Source    string `yaml:"source"`
	Target    string `yaml:"target"`
	Operation string `yaml:"operation"` // from (default), unique, count, average, countWhere
	Condition string `yaml:"condition"` // countWhere only
	Unique    bool   `yaml:"unique"`
	Flatten   bool   `yaml:"flatten"`
}

// rawRuleSet is the on-disk shape. skipUndefined defaults to true when omitted.
type rawRuleSet struct {
	SkipNull      bool        `yaml:"skipNull"`
	SkipUndefined *bool       `yaml:"skipUndefined"`
	Rules         []RuleEntry `yaml:"rules"`
}

// Parse decodes a rule-set document.
func Parse(data []byte) (*RuleSet, error) {
	var raw rawRuleSet
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse rule set: %w", err)
	}

	defaults := derivation.DefaultContextOptions()
	rs := &RuleSet{
		SkipNull:      raw.SkipNull,
		SkipUndefined: defaults.SkipUndefined,
		Rules:         raw.Rules,
		Fingerprint:   fmt.Sprintf("%x", sha256.Sum256(data)),
	}
	if raw.SkipUndefined != nil {
		rs.SkipUndefined = *raw.SkipUndefined
	}
	return rs, nil
}

// Load reads and parses a rule-set file.
func Load(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule set %s: %w", path, err)
	}
	rs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rs, nil
}

// Build validates every rule through the derivation constructors and returns
// the aggregation context. Errors name the offending rule by position.
func (rs *RuleSet) Build() (*derivation.Context, error) {
	rules := make([]*derivation.Rule, 0, len(rs.Rules))
	for i, entry := range rs.Rules {
		rule, err := entry.build()
		if err != nil {
			return nil, fmt.Errorf("rule %d (target %q): %w", i, entry.Target, err)
		}
		rules = append(rules, rule)
	}
	opts := derivation.ContextOptions{SkipNull: rs.SkipNull, SkipUndefined: rs.SkipUndefined}
	return derivation.NewContext(rules, opts), nil
}

func (e RuleEntry) build() (*derivation.Rule, error) {
	switch strings.ToLower(strings.TrimSpace(e.Operation)) {
	case "", "from":
		return derivation.NewRule(e.Source, e.Target,
			derivation.Options{Unique: e.Unique, Flatten: e.Flatten})
	case "unique":
		return derivation.NewRule(e.Source, e.Target,
			derivation.Options{Unique: true, Flatten: e.Flatten})
	case "count":
		return derivation.NewCountRule(e.Source, e.Target)
	case "average":
		return derivation.NewAverageRule(e.Source, e.Target)
	case "countwhere":
		return derivation.NewCountWhereRule(e.Source, e.Condition, e.Target)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownOperation, e.Operation)
	}
}
