// Package schema implements the per-format structural validator: the first
// stage of the pipeline, checking each record against its format's required
// fields and value shapes.
package schema

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/animus-labs/biovalidate/internal/validation/model"
)

// Validator runs the structural checks for §4.2.
type Validator struct{}

func New() *Validator { return &Validator{} }

var guideRNARequired = []string{"guide_id", "sequence", "pam_sequence", "target_gene", "organism", "nuclease_type"}
var variantRequired = []string{"chromosome", "position", "ref_allele", "alt_allele"}
var sampleRequired = []string{"sample_id", "organism"}

var pamPatterns = map[string]*regexp.Regexp{
	"SpCas9": regexp.MustCompile(`^[ACGTN]GG$`),
	"SaCas9": regexp.MustCompile(`^[ACGTN]{2}G[AG][AG]T$`),
	"Cas12a": regexp.MustCompile(`^TTT[ACG]$`),
}

var sequenceAlphabet = regexp.MustCompile(`^[ACGTN]+$`)
var alleleAlphabet = regexp.MustCompile(`^[ACGTN-]+$`)

// Run validates every record of t against the contract for m.Format and
// returns the schema stage result.
func (v *Validator) Run(t model.Table, m model.Metadata) model.StageResult {
	start := time.Now()
	var issues []model.Issue

	switch m.Format {
	case model.FormatGuideRNA:
		issues = validateRows(t, guideRNARequired, validateGuideRNARow)
	case model.FormatVariantAnnotation:
		issues = validateRows(t, variantRequired, validateVariantRow)
	case model.FormatSampleMetadata:
		issues = append(issues, validateRows(t, sampleRequired, validateSampleRow)...)
		issues = append(issues, checkUniqueSampleIDs(t)...)
	default:
		issues = append(issues, model.NewIssue(
			model.SeverityCritical,
			"SCHEMA_000",
			fmt.Sprintf("unrecognized format tag %q", m.Format),
			nil,
		))
	}

	return model.StageResult{
		StageName:       model.StageSchema,
		Passed:          model.Passes(issues),
		Issues:          issues,
		ExecutionTimeMS: time.Since(start).Milliseconds(),
		StageMetadata:   map[string]any{"format": string(m.Format), "record_count": t.NumRows()},
	}
}

type rowValidator func(row model.Record, rowIdx int) []model.Issue

func validateRows(t model.Table, required []string, rowFn rowValidator) []model.Issue {
	var issues []model.Issue
	for _, field := range required {
		if !t.HasColumn(field) {
			issues = append(issues, model.NewIssue(
				model.SeverityError,
				"SCHEMA_001",
				fmt.Sprintf("required column %q is missing", field),
				nil,
			).WithField(field))
		}
	}
	for i, row := range t.Rows {
		issues = append(issues, rowFn(row, i)...)
	}
	return issues
}

func missingOrEmpty(row model.Record, field string) bool {
	v, ok := row[field]
	if !ok || v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func validateGuideRNARow(row model.Record, i int) []model.Issue {
	var issues []model.Issue
	for _, field := range guideRNARequired {
		if missingOrEmpty(row, field) {
			issues = append(issues, model.NewIssue(
				model.SeverityError, "SCHEMA_002",
				fmt.Sprintf("record %d missing required field %q", i, field),
				[]int{i},
			).WithField(field))
		}
	}

	if seq, ok := stringField(row, "sequence"); ok {
		upper := strings.ToUpper(seq)
		if upper == "" || !sequenceAlphabet.MatchString(upper) {
			issues = append(issues, model.NewIssue(
				model.SeverityError, "SCHEMA_003",
				fmt.Sprintf("record %d has non-DNA sequence %q", i, seq),
				[]int{i},
			).WithField("sequence"))
		}
	}

	nuclease, hasNuclease := stringField(row, "nuclease_type")
	pam, hasPAM := stringField(row, "pam_sequence")
	if hasNuclease && hasPAM {
		pattern, known := pamPatterns[nuclease]
		if !known {
			issues = append(issues, model.NewIssue(
				model.SeverityError, "SCHEMA_004",
				fmt.Sprintf("record %d has unrecognized nuclease_type %q", i, nuclease),
				[]int{i},
			).WithField("nuclease_type"))
		} else if !pattern.MatchString(strings.ToUpper(pam)) {
			issues = append(issues, model.NewIssue(
				model.SeverityError, "SCHEMA_005",
				fmt.Sprintf("record %d pam_sequence %q does not match %s pattern", i, pam, nuclease),
				[]int{i},
			).WithField("pam_sequence"))
		}
	}
	return issues
}

func validateVariantRow(row model.Record, i int) []model.Issue {
	var issues []model.Issue
	for _, field := range variantRequired {
		if missingOrEmpty(row, field) {
			issues = append(issues, model.NewIssue(
				model.SeverityError, "SCHEMA_002",
				fmt.Sprintf("record %d missing required field %q", i, field),
				[]int{i},
			).WithField(field))
		}
	}

	if pos, ok := row["position"]; ok && pos != nil {
		if !isPositiveInteger(pos) {
			issues = append(issues, model.NewIssue(
				model.SeverityError, "SCHEMA_006",
				fmt.Sprintf("record %d position %v is not a positive integer", i, pos),
				[]int{i},
			).WithField("position"))
		}
	}

	for _, field := range []string{"ref_allele", "alt_allele"} {
		if val, ok := stringField(row, field); ok {
			if val == "" || !alleleAlphabet.MatchString(strings.ToUpper(val)) {
				issues = append(issues, model.NewIssue(
					model.SeverityError, "SCHEMA_007",
					fmt.Sprintf("record %d field %q has invalid allele %q", i, field, val),
					[]int{i},
				).WithField(field))
			}
		}
	}
	return issues
}

func validateSampleRow(row model.Record, i int) []model.Issue {
	var issues []model.Issue
	for _, field := range sampleRequired {
		if missingOrEmpty(row, field) {
			issues = append(issues, model.NewIssue(
				model.SeverityError, "SCHEMA_002",
				fmt.Sprintf("record %d missing required field %q", i, field),
				[]int{i},
			).WithField(field))
		}
	}
	return issues
}

func checkUniqueSampleIDs(t model.Table) []model.Issue {
	if !t.HasColumn("sample_id") {
		return nil
	}
	seen := map[string][]int{}
	for i, row := range t.Rows {
		id, ok := stringField(row, "sample_id")
		if !ok || id == "" {
			continue
		}
		seen[id] = append(seen[id], i)
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var issues []model.Issue
	for _, id := range ids {
		rows := seen[id]
		if len(rows) > 1 {
			issues = append(issues, model.NewIssue(
				model.SeverityError, "SCHEMA_008",
				fmt.Sprintf("sample_id %q is not unique within the dataset", id),
				rows,
			).WithField("sample_id"))
		}
	}
	return issues
}

func stringField(row model.Record, field string) (string, bool) {
	v, ok := row[field]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func isPositiveInteger(v any) bool {
	switch t := v.(type) {
	case float64:
		return t > 0 && t == float64(int64(t))
	case int:
		return t > 0
	case int64:
		return t > 0
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return err == nil && n > 0
	default:
		return false
	}
}
