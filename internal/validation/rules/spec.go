package rules

import (
	"fmt"
	"strings"
)

// Config is the YAML-configured rules file consulted by the vectorized
// rule engine (§4.3) and hashed by the ruleset-metadata resolver (§4.7).
type Config struct {
	Version     string           `yaml:"version"`
	LastUpdated string           `yaml:"last_updated"`
	Changelog   []ChangelogEntry `yaml:"changelog"`
	Rules       RuleSections     `yaml:"rules"`
}

type ChangelogEntry struct {
	Version string   `yaml:"version"`
	Date    string   `yaml:"date"`
	Changes []string `yaml:"changes"`
}

type RuleSections struct {
	Consistency ConsistencyRules `yaml:"consistency"`
	Duplicates  DuplicateRules   `yaml:"duplicates"`
	Bias        BiasRules        `yaml:"bias"`
	Custom      []CustomRule     `yaml:"custom"`
}

type ValueRangeRule struct {
	Column string   `yaml:"column"`
	Min    *float64 `yaml:"min"`
	Max    *float64 `yaml:"max"`
}

type CrossColumnRule struct {
	Name       string `yaml:"name"`
	Expression string `yaml:"expression"`
}

type ConsistencyRules struct {
	RequiredColumns []string          `yaml:"required_columns"`
	ValueRanges     []ValueRangeRule  `yaml:"value_ranges"`
	CrossColumn     []CrossColumnRule `yaml:"cross_column"`
}

type DuplicateRules struct {
	UniqueColumns          []string `yaml:"unique_columns"`
	SequenceColumns        []string `yaml:"sequence_columns"`
	NearDuplicateThreshold float64  `yaml:"near_duplicate_threshold"`
}

type BiasRules struct {
	CategoricalColumns     []string `yaml:"categorical_columns"`
	MinorityShareThreshold float64  `yaml:"minority_share_threshold"`
	MissingValueThreshold  float64  `yaml:"missing_value_threshold"`
}

// CustomRule is a named cross-column predicate outside the built-in
// consistency section, evaluated the same way.
type CustomRule struct {
	ID         string `yaml:"id"`
	Expression string `yaml:"expression"`
	Severity   string `yaml:"severity"`
}

// Defaults fills in the documented default thresholds for any zero-valued
// field, so a config that only overrides some knobs still behaves per spec.
func (c *Config) Defaults() {
	if c.Rules.Duplicates.NearDuplicateThreshold == 0 {
		c.Rules.Duplicates.NearDuplicateThreshold = 0.95
	}
	if c.Rules.Bias.MinorityShareThreshold == 0 {
		c.Rules.Bias.MinorityShareThreshold = 0.30
	}
	if c.Rules.Bias.MissingValueThreshold == 0 {
		c.Rules.Bias.MissingValueThreshold = 0.10
	}
}

// Validate rejects a malformed rules file before any stage runs, per §7's
// configuration-error taxonomy.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Version) == "" {
		return fmt.Errorf("rules config: version is required")
	}
	for _, vr := range c.Rules.Consistency.ValueRanges {
		if strings.TrimSpace(vr.Column) == "" {
			return fmt.Errorf("rules config: value_ranges entry missing column")
		}
		if vr.Min != nil && vr.Max != nil && *vr.Min > *vr.Max {
			return fmt.Errorf("rules config: value_ranges column %q has min > max", vr.Column)
		}
	}
	for _, cc := range c.Rules.Consistency.CrossColumn {
		if strings.TrimSpace(cc.Expression) == "" {
			return fmt.Errorf("rules config: cross_column rule %q has an empty expression", cc.Name)
		}
	}
	for _, cr := range c.Rules.Custom {
		if strings.TrimSpace(cr.ID) == "" {
			return fmt.Errorf("rules config: custom rule missing id")
		}
		if strings.TrimSpace(cr.Expression) == "" {
			return fmt.Errorf("rules config: custom rule %q has an empty expression", cr.ID)
		}
	}
	if c.Rules.Duplicates.NearDuplicateThreshold < 0 || c.Rules.Duplicates.NearDuplicateThreshold > 1 {
		return fmt.Errorf("rules config: near_duplicate_threshold must be in [0,1]")
	}
	if c.Rules.Bias.MinorityShareThreshold < 0 || c.Rules.Bias.MinorityShareThreshold > 1 {
		return fmt.Errorf("rules config: minority_share_threshold must be in [0,1]")
	}
	if c.Rules.Bias.MissingValueThreshold < 0 || c.Rules.Bias.MissingValueThreshold > 1 {
		return fmt.Errorf("rules config: missing_value_threshold must be in [0,1]")
	}
	return nil
}
