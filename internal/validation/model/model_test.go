package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSeverityAtLeast(t *testing.T) {
	cases := []struct {
		s, other Severity
		want     bool
	}{
		{SeverityCritical, SeverityError, true},
		{SeverityError, SeverityCritical, false},
		{SeverityWarning, SeverityWarning, true},
		{SeverityInfo, SeverityWarning, false},
	}
	for _, c := range cases {
		if got := c.s.AtLeast(c.other); got != c.want {
			t.Errorf("%s.AtLeast(%s) = %v, want %v", c.s, c.other, got, c.want)
		}
	}
}

func TestNewIssueSortsAffectedRows(t *testing.T) {
	iss := NewIssue(SeverityWarning, "DUP_003", "duplicate rows", []int{5, 1, 3})
	want := []int{1, 3, 5}
	for i, row := range want {
		if iss.AffectedRows[i] != row {
			t.Fatalf("AffectedRows = %v, want %v", iss.AffectedRows, want)
		}
	}
}

func TestPassesRequiresNoErrorOrAbove(t *testing.T) {
	if !Passes([]Issue{NewIssue(SeverityWarning, "X", "m", nil)}) {
		t.Error("warning-only issues should pass")
	}
	if Passes([]Issue{NewIssue(SeverityError, "X", "m", nil)}) {
		t.Error("an error issue should fail the stage")
	}
	if Passes([]Issue{NewIssue(SeverityCritical, "X", "m", nil)}) {
		t.Error("a critical issue should fail the stage")
	}
}

func TestCountSeverities(t *testing.T) {
	issues := []Issue{
		NewIssue(SeverityCritical, "A", "m", nil),
		NewIssue(SeverityError, "B", "m", nil),
		NewIssue(SeverityError, "C", "m", nil),
		NewIssue(SeverityWarning, "D", "m", nil),
	}
	counts := CountSeverities(issues)
	if counts.Critical != 1 || counts.Error != 2 || counts.Warning != 1 || counts.Info != 0 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
	if counts.Total() != 4 {
		t.Fatalf("Total() = %d, want 4", counts.Total())
	}
}

func TestReportJSONRoundTrip(t *testing.T) {
	field := "sequence"
	hash := "abcd1234abcd1234"
	report := Report{
		ValidationID:         "v1",
		DatasetID:            "d1",
		Timestamp:            time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		FinalDecision:        DecisionConditionalAccept,
		Rationale:            "2 warning(s)",
		RequiresHumanReview:  false,
		ExecutionTimeSeconds: 1.25,
		ShortCircuited:       false,
		StageOrder:           []StageName{StageSchema, StagePolicy},
		Stages: map[StageName]StageResult{
			StageSchema: {
				StageName: StageSchema,
				Passed:    true,
				Issues: []Issue{
					{
						Severity:     SeverityWarning,
						RuleID:       "BIO_003",
						Field:        &field,
						Message:      "GC content out of range",
						AffectedRows: []int{0, 2},
						Metadata:     map[string]any{"gc": 0.8},
					},
				},
				ExecutionTimeMS: 12,
				StageMetadata:   map[string]any{},
			},
			StagePolicy: {
				StageName:       StagePolicy,
				Passed:          true,
				Issues:          nil,
				ExecutionTimeMS: 1,
				StageMetadata:   map[string]any{},
			},
		},
		RulesetMetadata: RulesetMetadata{
			Version:       "1.2.0",
			LastUpdated:   "2026-01-01",
			Source:        "rules.yaml",
			Hash:          &hash,
			LatestChanges: []string{"tightened GC bounds"},
		},
		APIConfiguration: APIConfiguration{
			OverallTimeoutSeconds: 300,
			ShortCircuitEnabled:   true,
			ParallelBioEnabled:    true,
			EnsemblEnabled:        true,
		},
	}

	data, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded Report
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if decoded.ValidationID != report.ValidationID || decoded.FinalDecision != report.FinalDecision {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
	schemaResult := decoded.Stages[StageSchema]
	if len(schemaResult.Issues) != 1 || schemaResult.Issues[0].RuleID != "BIO_003" {
		t.Fatalf("stage issues not preserved: %+v", schemaResult)
	}
	if *decoded.RulesetMetadata.Hash != hash {
		t.Fatalf("hash not preserved: %v", decoded.RulesetMetadata.Hash)
	}
}

func TestTableColumnFillsMissingWithNil(t *testing.T) {
	tbl := Table{
		Columns: []string{"a", "b"},
		Rows: []Record{
			{"a": "1", "b": "2"},
			{"a": "3"},
		},
	}
	col := tbl.Column("b")
	if col[0] != "2" || col[1] != nil {
		t.Fatalf("Column(b) = %v", col)
	}
}
