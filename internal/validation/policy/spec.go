package policy

import "fmt"

// Config is the YAML-configured policy file (§6): decision-matrix
// thresholds and human-review trigger thresholds, all overridable.
type Config struct {
	DecisionMatrix      DecisionMatrixConfig      `yaml:"decision_matrix"`
	HumanReviewTriggers HumanReviewTriggersConfig `yaml:"human_review_triggers"`
}

type DecisionMatrixConfig struct {
	CriticalThreshold int `yaml:"critical_threshold"`
	ErrorThreshold    int `yaml:"error_threshold"`
	WarningThreshold  int `yaml:"warning_threshold"`
}

type HumanReviewTriggersConfig struct {
	OnCritical             bool `yaml:"on_critical"`
	ErrorCountThreshold    int  `yaml:"error_count_threshold"`
	WarningCountThreshold  int  `yaml:"warning_count_threshold"`
}

// Default returns the policy config with every documented default (§4.6).
func Default() Config {
	return Config{
		DecisionMatrix: DecisionMatrixConfig{
			CriticalThreshold: 1,
			ErrorThreshold:    5,
			WarningThreshold:  10,
		},
		HumanReviewTriggers: HumanReviewTriggersConfig{
			OnCritical:            true,
			ErrorCountThreshold:   3,
			WarningCountThreshold: 15,
		},
	}
}

// Defaults fills in zero-valued thresholds, so a config overriding only
// some knobs still behaves per spec for the rest.
func (c *Config) Defaults() {
	d := Default()
	if c.DecisionMatrix.CriticalThreshold == 0 {
		c.DecisionMatrix.CriticalThreshold = d.DecisionMatrix.CriticalThreshold
	}
	if c.DecisionMatrix.ErrorThreshold == 0 {
		c.DecisionMatrix.ErrorThreshold = d.DecisionMatrix.ErrorThreshold
	}
	if c.DecisionMatrix.WarningThreshold == 0 {
		c.DecisionMatrix.WarningThreshold = d.DecisionMatrix.WarningThreshold
	}
	if c.HumanReviewTriggers.ErrorCountThreshold == 0 {
		c.HumanReviewTriggers.ErrorCountThreshold = d.HumanReviewTriggers.ErrorCountThreshold
	}
	if c.HumanReviewTriggers.WarningCountThreshold == 0 {
		c.HumanReviewTriggers.WarningCountThreshold = d.HumanReviewTriggers.WarningCountThreshold
	}
}

// Validate rejects a malformed policy file before any stage runs.
func (c Config) Validate() error {
	if c.DecisionMatrix.CriticalThreshold < 0 || c.DecisionMatrix.ErrorThreshold < 0 || c.DecisionMatrix.WarningThreshold < 0 {
		return fmt.Errorf("policy config: decision_matrix thresholds must be non-negative")
	}
	if c.HumanReviewTriggers.ErrorCountThreshold < 0 || c.HumanReviewTriggers.WarningCountThreshold < 0 {
		return fmt.Errorf("policy config: human_review_triggers thresholds must be non-negative")
	}
	return nil
}
