// Package policy implements the decision engine (§4.6): severity
// aggregation across stages, a threshold-driven decision matrix, and
// human-review trigger logic, all driven by declarative configuration.
//
// The matrix is structured as an ordered slice of predicate/decision pairs
// rather than an if/else chain, closer to the source's DecisionTable
// (first-match-wins over a prioritized rule list) — that shape makes a
// threshold override a slice edit instead of a rewrite.
package policy

import (
	"fmt"

	"github.com/animus-labs/biovalidate/internal/validation/model"
)

// Decision is the pure evaluation result: the accept/reject outcome, the
// human-review flag, and the one-sentence rationale (§4.6).
type Decision struct {
	FinalDecision       model.Decision
	RequiresHumanReview bool
	Rationale           string
	Counts              model.SeverityCounts
}

type matrixRule struct {
	id       string
	decision model.Decision
	matches  func(counts model.SeverityCounts, cfg DecisionMatrixConfig) bool
	rationale func(counts model.SeverityCounts, cfg DecisionMatrixConfig) string
}

var matrixRules = []matrixRule{
	{
		id:       "RULE_CRITICAL",
		decision: model.DecisionRejected,
		matches: func(c model.SeverityCounts, cfg DecisionMatrixConfig) bool {
			return c.Critical >= cfg.CriticalThreshold && cfg.CriticalThreshold > 0
		},
		rationale: func(c model.SeverityCounts, cfg DecisionMatrixConfig) string {
			return fmt.Sprintf("Rejected: %d critical issue(s) meet or exceed threshold of %d", c.Critical, cfg.CriticalThreshold)
		},
	},
	{
		id:       "RULE_ERROR",
		decision: model.DecisionRejected,
		matches: func(c model.SeverityCounts, cfg DecisionMatrixConfig) bool {
			return c.Error >= cfg.ErrorThreshold && cfg.ErrorThreshold > 0
		},
		rationale: func(c model.SeverityCounts, cfg DecisionMatrixConfig) string {
			return fmt.Sprintf("Rejected: %d error(s) meet or exceed threshold of %d", c.Error, cfg.ErrorThreshold)
		},
	},
	{
		id:       "RULE_WARNING",
		decision: model.DecisionConditionalAccept,
		matches: func(c model.SeverityCounts, cfg DecisionMatrixConfig) bool {
			return c.Warning >= cfg.WarningThreshold && cfg.WarningThreshold > 0
		},
		rationale: func(c model.SeverityCounts, cfg DecisionMatrixConfig) string {
			return fmt.Sprintf("Conditionally accepted: %d warning(s) meet or exceed threshold of %d", c.Warning, cfg.WarningThreshold)
		},
	},
}

// Evaluate is a pure function of the aggregated counts and config: it never
// touches shared state and always produces the same decision for the same
// inputs, per the report invariant that requires_human_review depends only
// on aggregated severity counts and policy configuration.
func Evaluate(cfg Config, issues []model.Issue) Decision {
	cfg.Defaults()
	counts := model.CountSeverities(issues)

	decision := model.DecisionAccepted
	rationale := fmt.Sprintf("Accepted: %d error(s), %d warning(s), %d critical issue(s)", counts.Error, counts.Warning, counts.Critical)
	for _, rule := range matrixRules {
		if rule.matches(counts, cfg.DecisionMatrix) {
			decision = rule.decision
			rationale = rule.rationale(counts, cfg.DecisionMatrix)
			break
		}
	}

	requiresReview := humanReviewRequired(cfg.HumanReviewTriggers, counts)
	if requiresReview {
		rationale += "; flagged for human review"
	}

	return Decision{
		FinalDecision:       decision,
		RequiresHumanReview: requiresReview,
		Rationale:           rationale,
		Counts:              counts,
	}
}

func humanReviewRequired(cfg HumanReviewTriggersConfig, counts model.SeverityCounts) bool {
	if cfg.OnCritical && counts.Critical > 0 {
		return true
	}
	if cfg.ErrorCountThreshold > 0 && counts.Error >= cfg.ErrorCountThreshold {
		return true
	}
	if cfg.WarningCountThreshold > 0 && counts.Warning >= cfg.WarningCountThreshold {
		return true
	}
	return false
}
