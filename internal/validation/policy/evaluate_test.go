package policy

import (
	"testing"

	"github.com/animus-labs/biovalidate/internal/validation/model"
)

func issuesOf(counts model.SeverityCounts) []model.Issue {
	var out []model.Issue
	for i := 0; i < counts.Critical; i++ {
		out = append(out, model.NewIssue(model.SeverityCritical, "X", "m", nil))
	}
	for i := 0; i < counts.Error; i++ {
		out = append(out, model.NewIssue(model.SeverityError, "X", "m", nil))
	}
	for i := 0; i < counts.Warning; i++ {
		out = append(out, model.NewIssue(model.SeverityWarning, "X", "m", nil))
	}
	return out
}

func TestEvaluateAcceptsCleanInput(t *testing.T) {
	d := Evaluate(Default(), nil)
	if d.FinalDecision != model.DecisionAccepted {
		t.Fatalf("expected accepted, got %s", d.FinalDecision)
	}
	if d.RequiresHumanReview {
		t.Fatal("expected no human review for zero issues")
	}
}

func TestEvaluateExactlyCriticalThresholdRejects(t *testing.T) {
	cfg := Default()
	d := Evaluate(cfg, issuesOf(model.SeverityCounts{Critical: cfg.DecisionMatrix.CriticalThreshold}))
	if d.FinalDecision != model.DecisionRejected {
		t.Fatalf("expected rejected at exactly the critical threshold, got %s", d.FinalDecision)
	}
}

func TestEvaluateOneBelowErrorThresholdDoesNotForceReject(t *testing.T) {
	cfg := Default()
	d := Evaluate(cfg, issuesOf(model.SeverityCounts{Error: cfg.DecisionMatrix.ErrorThreshold - 1}))
	if d.FinalDecision == model.DecisionRejected {
		t.Fatalf("expected accepted or conditional_accept below the error threshold, got %s", d.FinalDecision)
	}
}

func TestEvaluateWarningThresholdConditionalAccept(t *testing.T) {
	cfg := Default()
	d := Evaluate(cfg, issuesOf(model.SeverityCounts{Warning: cfg.DecisionMatrix.WarningThreshold}))
	if d.FinalDecision != model.DecisionConditionalAccept {
		t.Fatalf("expected conditional_accept, got %s", d.FinalDecision)
	}
}

func TestEvaluateHumanReviewOnAnyCritical(t *testing.T) {
	cfg := Default()
	d := Evaluate(cfg, issuesOf(model.SeverityCounts{Critical: 1}))
	if !d.RequiresHumanReview {
		t.Fatal("expected human review to trigger on any critical issue by default")
	}
}

func TestEvaluateIsPureFunctionOfCounts(t *testing.T) {
	cfg := Default()
	issues := issuesOf(model.SeverityCounts{Error: 2, Warning: 3})
	d1 := Evaluate(cfg, issues)
	d2 := Evaluate(cfg, issues)
	if d1 != d2 {
		t.Fatalf("expected identical decisions for identical inputs, got %+v vs %+v", d1, d2)
	}
}
