// Package model defines the shared data types passed between validation
// stages: records, tables, issues, stage results and the final report.
package model

import (
	"sort"
	"time"
)

// Severity orders the four issue levels the pipeline recognizes.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityWarning:  1,
	SeverityError:    2,
	SeverityCritical: 3,
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// FormatTag is the closed set of dataset formats the schema validator knows.
type FormatTag string

const (
	FormatGuideRNA           FormatTag = "guide_rna"
	FormatVariantAnnotation  FormatTag = "variant_annotation"
	FormatSampleMetadata     FormatTag = "sample_metadata"
)

// Decision is the final accept/reject outcome produced by the policy engine.
type Decision string

const (
	DecisionAccepted           Decision = "accepted"
	DecisionConditionalAccept  Decision = "conditional_accept"
	DecisionRejected           Decision = "rejected"
)

// StageName identifies one of the fixed pipeline stages.
type StageName string

const (
	StageSchema     StageName = "schema"
	StageRules      StageName = "rules"
	StageBioRules   StageName = "bio_rules"
	StageBioLookups StageName = "bio_lookups"
	StagePolicy     StageName = "policy"
)

// StageOrder is the deterministic order stages appear in a report,
// independent of which concurrent stage finishes first.
var StageOrder = []StageName{StageSchema, StageRules, StageBioRules, StageBioLookups, StagePolicy}

// Value is a dynamically-typed cell value: string, float64, bool, or nil.
type Value = any

// Record is an unordered field-name to value mapping for one row.
type Record map[string]Value

// Table is a row-major dataset. Columns are part of its identity even
// when a given row omits a value for one of them.
type Table struct {
	Columns []string
	Rows    []Record
}

func (t Table) NumRows() int { return len(t.Rows) }

// HasColumn reports whether name is one of the table's declared columns.
func (t Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Column returns the values of a column in row order. Missing cells are nil.
func (t Table) Column(name string) []Value {
	out := make([]Value, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r[name]
	}
	return out
}

// Metadata describes the dataset being validated. Immutable within a run.
type Metadata struct {
	DatasetID       string
	Format          FormatTag
	RecordCount     int
	Organism        *string
	ExperimentType  *string
	ReferenceGenome *string
	Tags            []string
}

// Issue is the atomic finding emitted by a validator.
type Issue struct {
	Severity     Severity
	RuleID       string
	Field        *string
	Message      string
	AffectedRows []int
	Metadata     map[string]any
}

// NewIssue builds an Issue with its AffectedRows sorted ascending, as
// required by the report's ordering guarantee.
func NewIssue(severity Severity, ruleID, message string, affectedRows []int) Issue {
	rows := append([]int(nil), affectedRows...)
	sort.Ints(rows)
	return Issue{
		Severity:     severity,
		RuleID:       ruleID,
		Message:      message,
		AffectedRows: rows,
		Metadata:     map[string]any{},
	}
}

// WithField returns a copy of the issue with a column name attached.
func (i Issue) WithField(field string) Issue {
	i.Field = &field
	return i
}

// WithMeta returns a copy of the issue with one metadata key set.
func (i Issue) WithMeta(key string, value any) Issue {
	m := make(map[string]any, len(i.Metadata)+1)
	for k, v := range i.Metadata {
		m[k] = v
	}
	m[key] = value
	i.Metadata = m
	return i
}

// StageResult is the outcome of running one validator.
type StageResult struct {
	StageName        StageName
	Passed           bool
	Issues           []Issue
	ExecutionTimeMS  int64
	StageMetadata    map[string]any
	Skipped          bool
	SkipReason       string
}

// Passes computes StageResult.Passed from its issues per the invariant that
// a stage passes iff no issue reaches error severity.
func Passes(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity.AtLeast(SeverityError) {
			return false
		}
	}
	return true
}

// RulesetMetadata identifies the rule configuration in effect for a run.
type RulesetMetadata struct {
	Version       string
	LastUpdated   string
	Source        string
	Hash          *string
	LatestChanges []string
}

// APIConfiguration records the resolved runtime options, embedded in the
// report for reproducibility.
type APIConfiguration struct {
	OverallTimeoutSeconds float64
	ShortCircuitEnabled   bool
	ParallelBioEnabled    bool
	EnsemblEnabled        bool
}

// Report is the single-shot output of a validation run. Once returned it is
// never mutated further.
type Report struct {
	ValidationID          string
	DatasetID             string
	Timestamp             time.Time
	FinalDecision         Decision
	Rationale             string
	RequiresHumanReview   bool
	ExecutionTimeSeconds  float64
	ShortCircuited        bool
	Stages                map[StageName]StageResult
	StageOrder            []StageName
	RulesetMetadata       RulesetMetadata
	APIConfiguration      APIConfiguration
}

// AllIssues flattens every stage's issues in deterministic stage order.
func (r Report) AllIssues() []Issue {
	var out []Issue
	for _, name := range r.StageOrder {
		if res, ok := r.Stages[name]; ok {
			out = append(out, res.Issues...)
		}
	}
	return out
}

// SeverityCounts tallies issues across all stages of a report.
type SeverityCounts struct {
	Critical int
	Error    int
	Warning  int
	Info     int
}

func (c SeverityCounts) Total() int { return c.Critical + c.Error + c.Warning + c.Info }

// CountSeverities aggregates severity counts across a set of issues.
func CountSeverities(issues []Issue) SeverityCounts {
	var c SeverityCounts
	for _, iss := range issues {
		switch iss.Severity {
		case SeverityCritical:
			c.Critical++
		case SeverityError:
			c.Error++
		case SeverityWarning:
			c.Warning++
		case SeverityInfo:
			c.Info++
		}
	}
	return c
}

// CacheEntry is the value stored for one (organism, identifier) lookup key.
type CacheEntry struct {
	Valid         bool
	CanonicalName *string
	Provider      string
	StoredAt      time.Time
	ExpiresAt     time.Time
}

func (e CacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}
