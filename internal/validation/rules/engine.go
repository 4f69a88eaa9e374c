// Package rules implements the vectorized consistency, duplicate, and bias
// checks (§4.3): bulk, set-at-a-time operations over a table rather than
// per-row loops in the hot path.
package rules

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/animus-labs/biovalidate/internal/validation/model"
)

// compiledPredicate pairs a cross-column rule with its compiled CEL program.
type compiledPredicate struct {
	name     string
	ruleID   string
	severity model.Severity
	program  cel.Program
}

// Engine evaluates a Config against a table. Cross-column predicates are
// compiled once at construction and reused across rows within a run.
type Engine struct {
	cfg        Config
	predicates []compiledPredicate
}

var identifierPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

var celReservedWords = map[string]bool{
	"true": true, "false": true, "null": true, "in": true,
}

// New compiles the config's cross-column and custom predicates and returns
// a ready-to-run Engine.
func New(cfg Config) (*Engine, error) {
	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{cfg: cfg}
	for _, cc := range cfg.Rules.Consistency.CrossColumn {
		prog, err := compileExpression(cc.Expression)
		if err != nil {
			return nil, fmt.Errorf("cross_column rule %q: %w", cc.Name, err)
		}
		e.predicates = append(e.predicates, compiledPredicate{
			name: cc.Name, ruleID: "CONS_003", severity: model.SeverityError, program: prog,
		})
	}
	for _, cr := range cfg.Rules.Custom {
		prog, err := compileExpression(cr.Expression)
		if err != nil {
			return nil, fmt.Errorf("custom rule %q: %w", cr.ID, err)
		}
		sev := model.Severity(cr.Severity)
		if !sev.Valid() {
			sev = model.SeverityWarning
		}
		e.predicates = append(e.predicates, compiledPredicate{
			name: cr.ID, ruleID: cr.ID, severity: sev, program: prog,
		})
	}
	return e, nil
}

func compileExpression(expr string) (cel.Program, error) {
	vars := extractVariables(expr)
	opts := make([]cel.EnvOption, 0, len(vars))
	for _, v := range vars {
		opts = append(opts, cel.Variable(v, cel.DynType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	return env.Program(ast)
}

func extractVariables(expr string) []string {
	seen := map[string]bool{}
	var out []string
	for _, tok := range identifierPattern.FindAllString(expr, -1) {
		if celReservedWords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

// Run executes every configured check over t and returns the rules stage
// result. Only critical issues from this stage short-circuit the pipeline;
// errors here are collected but do not halt.
func (e *Engine) Run(t model.Table, m model.Metadata) model.StageResult {
	start := time.Now()
	var issues []model.Issue

	if t.NumRows() == 0 {
		issues = append(issues, model.NewIssue(model.SeverityWarning, "empty_dataset", "the dataset contains no records", nil))
		return model.StageResult{
			StageName:       model.StageRules,
			Passed:          model.Passes(issues),
			Issues:          issues,
			ExecutionTimeMS: time.Since(start).Milliseconds(),
			StageMetadata:   map[string]any{"record_count": 0},
		}
	}

	issues = append(issues, e.checkRequiredColumns(t)...)
	issues = append(issues, e.checkValueRanges(t)...)
	issues = append(issues, e.checkCrossColumnPredicates(t)...)
	issues = append(issues, e.checkExactDuplicates(t)...)
	issues = append(issues, e.checkIdentifierDuplicates(t)...)
	issues = append(issues, e.checkNearDuplicateSequences(t)...)
	issues = append(issues, e.checkClassImbalance(t)...)
	issues = append(issues, e.checkMissingValueBias(t)...)

	return model.StageResult{
		StageName:       model.StageRules,
		Passed:          model.Passes(issues),
		Issues:          issues,
		ExecutionTimeMS: time.Since(start).Milliseconds(),
		StageMetadata:   map[string]any{"record_count": t.NumRows()},
	}
}

func (e *Engine) checkRequiredColumns(t model.Table) []model.Issue {
	var issues []model.Issue
	for _, col := range e.cfg.Rules.Consistency.RequiredColumns {
		if !t.HasColumn(col) {
			issues = append(issues, model.NewIssue(
				model.SeverityError, "CONS_001",
				fmt.Sprintf("required column %q is missing", col), nil,
			).WithField(col))
		}
	}
	return issues
}

func (e *Engine) checkValueRanges(t model.Table) []model.Issue {
	var issues []model.Issue
	for _, vr := range e.cfg.Rules.Consistency.ValueRanges {
		if !t.HasColumn(vr.Column) {
			continue
		}
		var offending []int
		for i, v := range t.Column(vr.Column) {
			f, ok := asFloat(v)
			if !ok {
				continue
			}
			if (vr.Min != nil && f < *vr.Min) || (vr.Max != nil && f > *vr.Max) {
				offending = append(offending, i)
			}
		}
		if len(offending) > 0 {
			issues = append(issues, model.NewIssue(
				model.SeverityError, "CONS_002",
				fmt.Sprintf("column %q has values outside its configured range", vr.Column), offending,
			).WithField(vr.Column))
		}
	}
	return issues
}

func (e *Engine) checkCrossColumnPredicates(t model.Table) []model.Issue {
	var issues []model.Issue
	for _, pred := range e.predicates {
		var violating []int
		for i, row := range t.Rows {
			vars := make(map[string]any, len(row))
			for k, v := range row {
				vars[k] = v
			}
			out, _, err := pred.program.Eval(vars)
			if err != nil {
				continue
			}
			ok, isBool := out.Value().(bool)
			if isBool && !ok {
				violating = append(violating, i)
			}
		}
		if len(violating) > 0 {
			issues = append(issues, model.NewIssue(
				pred.severity, pred.ruleID,
				fmt.Sprintf("rows violate cross-column rule %q", pred.name), violating,
			))
		}
	}
	return issues
}

func (e *Engine) checkExactDuplicates(t model.Table) []model.Issue {
	identifierSet := map[string]bool{}
	for _, c := range e.cfg.Rules.Duplicates.UniqueColumns {
		identifierSet[c] = true
	}
	compareCols := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		if !identifierSet[c] {
			compareCols = append(compareCols, c)
		}
	}

	groups := map[string][]int{}
	for i, row := range t.Rows {
		key := rowKey(row, compareCols)
		groups[key] = append(groups[key], i)
	}

	var issues []model.Issue
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rows := groups[k]
		if len(rows) >= 2 {
			issues = append(issues, model.NewIssue(
				model.SeverityWarning, "DUP_001",
				fmt.Sprintf("%d rows are exact duplicates across non-identifier columns", len(rows)), rows,
			))
		}
	}
	return issues
}

func (e *Engine) checkIdentifierDuplicates(t model.Table) []model.Issue {
	var issues []model.Issue
	for _, col := range e.cfg.Rules.Duplicates.UniqueColumns {
		if !t.HasColumn(col) {
			continue
		}
		seen := map[string][]int{}
		for i, v := range t.Column(col) {
			s := fmt.Sprintf("%v", v)
			seen[s] = append(seen[s], i)
		}
		var offending []int
		for _, rows := range seen {
			if len(rows) >= 2 {
				offending = append(offending, rows...)
			}
		}
		if len(offending) > 0 {
			sort.Ints(offending)
			issues = append(issues, model.NewIssue(
				model.SeverityError, "DUP_002",
				fmt.Sprintf("column %q has duplicate values but is declared unique", col), offending,
			).WithField(col))
		}
	}
	return issues
}

// checkNearDuplicateSequences buckets rows by sequence length so only rows
// that could plausibly meet the similarity threshold are ever compared,
// avoiding the naive O(N^2) scan across the whole table.
func (e *Engine) checkNearDuplicateSequences(t model.Table) []model.Issue {
	var issues []model.Issue
	threshold := e.cfg.Rules.Duplicates.NearDuplicateThreshold

	for _, col := range e.cfg.Rules.Duplicates.SequenceColumns {
		if !t.HasColumn(col) {
			continue
		}
		buckets := map[int][]int{}
		values := t.Column(col)
		for i, v := range values {
			s, ok := v.(string)
			if !ok {
				continue
			}
			buckets[len(s)] = append(buckets[len(s)], i)
		}

		matched := map[int]bool{}
		var flagged []int
		for _, rows := range buckets {
			for a := 0; a < len(rows); a++ {
				for b := a + 1; b < len(rows); b++ {
					sa, _ := values[rows[a]].(string)
					sb, _ := values[rows[b]].(string)
					if similarity(sa, sb) >= threshold {
						if !matched[rows[a]] {
							matched[rows[a]] = true
							flagged = append(flagged, rows[a])
						}
						if !matched[rows[b]] {
							matched[rows[b]] = true
							flagged = append(flagged, rows[b])
						}
					}
				}
			}
		}
		if len(flagged) > 0 {
			sort.Ints(flagged)
			issues = append(issues, model.NewIssue(
				model.SeverityWarning, "DUP_003",
				fmt.Sprintf("column %q has near-duplicate sequences at or above %.2f similarity", col, threshold), flagged,
			).WithField(col))
		}
	}
	return issues
}

func (e *Engine) checkClassImbalance(t model.Table) []model.Issue {
	var issues []model.Issue
	for _, col := range e.cfg.Rules.Bias.CategoricalColumns {
		if !t.HasColumn(col) {
			continue
		}
		counts := map[string]int{}
		total := 0
		for _, v := range t.Column(col) {
			if v == nil {
				continue
			}
			counts[fmt.Sprintf("%v", v)]++
			total++
		}
		if total == 0 {
			continue
		}
		minShare := 1.0
		for _, c := range counts {
			share := float64(c) / float64(total)
			if share < minShare {
				minShare = share
			}
		}
		if minShare < e.cfg.Rules.Bias.MinorityShareThreshold {
			issues = append(issues, model.NewIssue(
				model.SeverityWarning, "BIAS_001",
				fmt.Sprintf("column %q has a minority class share of %.2f, below the %.2f threshold", col, minShare, e.cfg.Rules.Bias.MinorityShareThreshold), nil,
			).WithField(col))
		}
	}
	return issues
}

func (e *Engine) checkMissingValueBias(t model.Table) []model.Issue {
	var issues []model.Issue
	total := t.NumRows()
	if total == 0 {
		return nil
	}

	for _, col := range t.Columns {
		nullCount := 0
		for _, v := range t.Column(col) {
			if isNullish(v) {
				nullCount++
			}
		}
		fraction := float64(nullCount) / float64(total)
		if fraction <= e.cfg.Rules.Bias.MissingValueThreshold {
			continue
		}

		severity := model.SeverityWarning
		for _, catCol := range e.cfg.Rules.Bias.CategoricalColumns {
			if catCol == col || !t.HasColumn(catCol) {
				continue
			}
			if missingCorrelatesWithCategory(t, col, catCol) {
				severity = model.SeverityError
				break
			}
		}

		issues = append(issues, model.NewIssue(
			severity, "BIAS_002",
			fmt.Sprintf("column %q has a null fraction of %.2f, above the %.2f threshold", col, fraction, e.cfg.Rules.Bias.MissingValueThreshold), nil,
		).WithField(col))
	}
	return issues
}

// missingCorrelatesWithCategory is a simple frequency-split heuristic: if
// the per-category null rates span more than 20 points (highest category
// rate minus lowest), the missingness is treated as correlated with that
// categorical column rather than random.
func missingCorrelatesWithCategory(t model.Table, targetCol, catCol string) bool {
	targetVals := t.Column(targetCol)
	catVals := t.Column(catCol)

	nullByCategory := map[string]int{}
	totalByCategory := map[string]int{}
	for i, cat := range catVals {
		key := fmt.Sprintf("%v", cat)
		totalByCategory[key]++
		if isNullish(targetVals[i]) {
			nullByCategory[key]++
		}
	}

	var minRate, maxRate = 1.0, 0.0
	for key, total := range totalByCategory {
		if total == 0 {
			continue
		}
		rate := float64(nullByCategory[key]) / float64(total)
		if rate < minRate {
			minRate = rate
		}
		if rate > maxRate {
			maxRate = rate
		}
	}
	return maxRate-minRate > 0.20
}

func isNullish(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

func rowKey(row model.Record, cols []string) string {
	var b strings.Builder
	for _, c := range cols {
		fmt.Fprintf(&b, "%v\x1f", row[c])
	}
	return b.String()
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

// similarity returns a normalized similarity in [0,1] based on Levenshtein
// edit distance: 1 - distance / max(len(a), len(b)).
func similarity(a, b string) float64 {
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	dist := levenshtein(a, b)
	return 1 - float64(dist)/float64(maxLen)
}

func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			curr[j] = min3(del, ins, sub)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
