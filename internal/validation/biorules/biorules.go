// Package biorules implements the biological-rule engine: domain checks over
// sequence, variant, and sample columns that require no external data.
// Every check is a bulk operation over the table's columns; there is no
// per-row loop with early exit in the hot path.
package biorules

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/animus-labs/biovalidate/internal/validation/model"
)

// Validator runs the biological rule set for the active format.
type Validator struct{}

func New() *Validator { return &Validator{} }

var pamPatterns = map[string]*regexp.Regexp{
	"SpCas9": regexp.MustCompile(`^[ACGTN]GG$`),
	"SaCas9": regexp.MustCompile(`^[ACGTN]{2}G[AG][AG]T$`),
	"Cas12a": regexp.MustCompile(`^TTT[ACG]$`),
}

// hasHomopolymerRun reports whether s contains any character repeated 5 or
// more times consecutively. Go's regexp package (RE2) has no backreference
// support, so this cannot be expressed as a single `(.)\1{4,}` pattern.
func hasHomopolymerRun(s string) bool {
	run := 0
	var prev rune
	for _, r := range s {
		if run > 0 && r == prev {
			run++
		} else {
			run = 1
			prev = r
		}
		if run >= 5 {
			return true
		}
	}
	return false
}
var chromosomePrefix = regexp.MustCompile(`^(chr)?([0-9]{1,2}|[XYM]|MT)$`)
var isoDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
var hgvsCoding = regexp.MustCompile(`^[A-Z0-9_]+:c\.[*-]?\d+([+-]\d+)?([ATCG]>[ATCG]|del|ins|dup)`)
var hgvsProtein = regexp.MustCompile(`^[A-Z0-9_]+:p\.[A-Z][a-z]{2}\d+([A-Z][a-z]{2}|Ter|\*)$`)
var trailingUnit = regexp.MustCompile(`[a-zA-Z°μ/%]+$`)
var measurementColumns = []string{"concentration", "dose", "volume", "temperature", "time", "duration", "amount"}

// organismVariants maps a canonical organism name to the spellings and
// abbreviations commonly seen in sample metadata.
var organismVariants = map[string][]string{
	"human": {"homo sapiens", "human", "h. sapiens", "hsa"},
	"mouse": {"mus musculus", "mouse", "m. musculus", "mmu"},
	"rat":   {"rattus norvegicus", "rat", "r. norvegicus", "rno"},
}

// Run applies the rule set that matches m.Format and returns the bio_rules
// stage result.
func (v *Validator) Run(t model.Table, m model.Metadata) model.StageResult {
	start := time.Now()
	var issues []model.Issue

	switch m.Format {
	case model.FormatGuideRNA:
		issues = guideRNAChecks(t)
	case model.FormatVariantAnnotation:
		issues = variantChecks(t, m)
	case model.FormatSampleMetadata:
		issues = sampleChecks(t, m)
	}

	meta := map[string]any{"format": string(m.Format)}
	if m.ExperimentType != nil {
		meta["experiment_type"] = *m.ExperimentType
	}
	if len(m.Tags) > 0 {
		meta["tags"] = m.Tags
	}

	return model.StageResult{
		StageName:       model.StageBioRules,
		Passed:          model.Passes(issues),
		Issues:          issues,
		ExecutionTimeMS: time.Since(start).Milliseconds(),
		StageMetadata:   meta,
	}
}

func guideRNAChecks(t model.Table) []model.Issue {
	var issues []model.Issue
	byLen := map[int][]int{}
	byInvalidPAM := []int{}
	byGC := map[float64][]int{}
	polyT := []int{}
	homorun := []int{}
	nonDNA := []int{}
	rnaConfusion := []int{}

	for i, row := range t.Rows {
		seq, _ := row["sequence"].(string)
		upper := strings.ToUpper(seq)

		if !isDNAAlphabet(upper) {
			nonDNA = append(nonDNA, i)
		}
		if strings.Contains(seq, "U") || strings.Contains(seq, "u") {
			rnaConfusion = append(rnaConfusion, i)
		}

		n := len(upper)
		byLen[n] = append(byLen[n], i)

		if n > 0 {
			gc := gcFraction(upper)
			byGC[gc] = append(byGC[gc], i)
		}
		if strings.Contains(upper, "TTTT") {
			polyT = append(polyT, i)
		}
		if hasHomopolymerRun(upper) {
			homorun = append(homorun, i)
		}

		nuclease, _ := row["nuclease_type"].(string)
		pam, _ := row["pam_sequence"].(string)
		if pattern, ok := pamPatterns[nuclease]; ok && !pattern.MatchString(strings.ToUpper(pam)) {
			byInvalidPAM = append(byInvalidPAM, i)
		}
	}

	var shortRows, suboptimalRows []int
	for length, rows := range byLen {
		switch {
		case length < 15:
			shortRows = append(shortRows, rows...)
		case length < 19 || length > 20:
			suboptimalRows = append(suboptimalRows, rows...)
		}
	}
	sort.Ints(shortRows)
	sort.Ints(suboptimalRows)
	if len(shortRows) > 0 {
		issues = append(issues, model.NewIssue(model.SeverityError, "BIO_001A", "guide sequence critically short (length < 15)", shortRows).WithField("sequence"))
	}
	if len(suboptimalRows) > 0 {
		issues = append(issues, model.NewIssue(model.SeverityWarning, "BIO_001B", "guide sequence length outside the optimal 19-20nt window", suboptimalRows).WithField("sequence"))
	}
	if len(byInvalidPAM) > 0 {
		issues = append(issues, model.NewIssue(model.SeverityError, "BIO_002", "PAM sequence does not match the declared nuclease's pattern", byInvalidPAM).WithField("pam_sequence"))
	}

	var lowGC, highGC []int
	for gc, rows := range byGC {
		switch {
		case gc < 0.40:
			lowGC = append(lowGC, rows...)
		case gc > 0.70:
			highGC = append(highGC, rows...)
		}
	}
	outOfRange := append(append([]int(nil), lowGC...), highGC...)
	sort.Ints(outOfRange)
	if len(outOfRange) > 0 {
		issues = append(issues, model.NewIssue(model.SeverityWarning, "BIO_003", "GC content outside the 0.40-0.70 range", outOfRange).WithField("sequence"))
	}
	if len(polyT) > 0 {
		issues = append(issues, model.NewIssue(model.SeverityWarning, "BIO_004", "sequence contains a poly-T stretch (TTTT), a transcription-termination risk", polyT).WithField("sequence"))
	}
	if len(homorun) > 0 {
		issues = append(issues, model.NewIssue(model.SeverityWarning, "BIO_005", "sequence contains a homopolymer run of 5 or more bases", homorun).WithField("sequence"))
	}
	if len(nonDNA) > 0 {
		issues = append(issues, model.NewIssue(model.SeverityError, "BIO_006", "sequence contains a character outside {A,C,G,T,N}", nonDNA).WithField("sequence"))
	}
	if len(rnaConfusion) > 0 {
		issues = append(issues, model.NewIssue(model.SeverityWarning, "BIO_007", "sequence contains U, suggesting RNA/DNA confusion", rnaConfusion).WithField("sequence"))
	}
	return issues
}

func isDNAAlphabet(seq string) bool {
	if seq == "" {
		return false
	}
	for _, c := range seq {
		switch c {
		case 'A', 'C', 'G', 'T', 'N':
		default:
			return false
		}
	}
	return true
}

func gcFraction(seq string) float64 {
	if len(seq) == 0 {
		return 0
	}
	gc := 0
	for _, c := range seq {
		if c == 'G' || c == 'C' {
			gc++
		}
	}
	return float64(gc) / float64(len(seq))
}

func variantChecks(t model.Table, m model.Metadata) []model.Issue {
	var issues []model.Issue
	var badChromosome, badFreq, badHGVSCoding, badHGVSProtein []int
	refGenomeRows := map[string][]int{}

	for i, row := range t.Rows {
		if chrom, ok := row["chromosome"].(string); ok {
			if !chromosomePrefix.MatchString(chrom) {
				badChromosome = append(badChromosome, i)
			}
		}
		if freq, ok := row["allele_frequency"]; ok && freq != nil {
			f, ok := toFloat(freq)
			if !ok || f < 0 || f > 1 {
				badFreq = append(badFreq, i)
			}
		}
		if ref, ok := row["ref_genome"].(string); ok && strings.TrimSpace(ref) != "" {
			refGenomeRows[ref] = append(refGenomeRows[ref], i)
		}
		if hgvsC, ok := row["hgvs_c"].(string); ok && strings.TrimSpace(hgvsC) != "" {
			if !hgvsCoding.MatchString(hgvsC) {
				badHGVSCoding = append(badHGVSCoding, i)
			}
		}
		if hgvsP, ok := row["hgvs_p"].(string); ok && strings.TrimSpace(hgvsP) != "" {
			if !hgvsProtein.MatchString(hgvsP) {
				badHGVSProtein = append(badHGVSProtein, i)
			}
		}
	}

	if len(badChromosome) > 0 {
		issues = append(issues, model.NewIssue(model.SeverityWarning, "VAR_001", "chromosome value does not follow a consistent naming prefix", badChromosome).WithField("chromosome"))
	}
	if len(badFreq) > 0 {
		issues = append(issues, model.NewIssue(model.SeverityError, "VAR_002", "allele_frequency is outside the valid 0-1 range", badFreq).WithField("allele_frequency"))
	}

	refGenomes := make([]string, 0, len(refGenomeRows))
	for ref := range refGenomeRows {
		refGenomes = append(refGenomes, ref)
	}
	sort.Strings(refGenomes)
	switch {
	case len(refGenomes) > 1:
		var allRows []int
		for _, ref := range refGenomes {
			allRows = append(allRows, refGenomeRows[ref]...)
		}
		sort.Ints(allRows)
		issues = append(issues, model.NewIssue(model.SeverityCritical, "VAR_003", "multiple reference genome builds present in dataset: "+strings.Join(refGenomes, ", "), allRows).WithField("ref_genome"))
	case len(refGenomes) == 1 && m.ReferenceGenome != nil && refGenomes[0] != *m.ReferenceGenome:
		rows := append([]int(nil), refGenomeRows[refGenomes[0]]...)
		sort.Ints(rows)
		issues = append(issues, model.NewIssue(model.SeverityWarning, "VAR_004", "dataset uses reference genome "+refGenomes[0]+" but metadata declares "+*m.ReferenceGenome, rows).WithField("ref_genome"))
	}

	sort.Ints(badHGVSCoding)
	if len(badHGVSCoding) > 0 {
		issues = append(issues, model.NewIssue(model.SeverityWarning, "VAR_005", "hgvs_c does not follow HGVS coding-DNA notation (e.g. NM_000546.6:c.215C>G)", badHGVSCoding).WithField("hgvs_c"))
	}
	sort.Ints(badHGVSProtein)
	if len(badHGVSProtein) > 0 {
		issues = append(issues, model.NewIssue(model.SeverityWarning, "VAR_006", "hgvs_p does not follow HGVS protein notation (e.g. NP_000537.3:p.Arg72Pro)", badHGVSProtein).WithField("hgvs_p"))
	}
	return issues
}

func sampleChecks(t model.Table, m model.Metadata) []model.Issue {
	var issues []model.Issue
	var badDates []int
	organismRows := map[string][]int{}

	for i, row := range t.Rows {
		if raw, ok := row["collection_date"]; ok && raw != nil {
			s, ok := raw.(string)
			if !ok || !isoDate.MatchString(s) {
				badDates = append(badDates, i)
			}
		}
		if raw, ok := row["organism"].(string); ok && strings.TrimSpace(raw) != "" {
			organismRows[raw] = append(organismRows[raw], i)
		}
	}
	if len(badDates) > 0 {
		issues = append(issues, model.NewIssue(model.SeverityWarning, "SAMP_001", "collection_date is not in ISO-8601 (YYYY-MM-DD) format", badDates).WithField("collection_date"))
	}

	if issue, ok := organismNamingIssue(organismRows); ok {
		issues = append(issues, issue)
	}
	if issue, ok := organismMismatchIssue(organismRows, m.Organism); ok {
		issues = append(issues, issue)
	}
	issues = append(issues, unitConsistencyIssues(t)...)
	return issues
}

// organismNamingIssue flags a dataset that mixes spellings of the same
// canonical organism (e.g. "human" and "H. sapiens" in the same table).
func organismNamingIssue(organismRows map[string][]int) (model.Issue, bool) {
	organisms := make([]string, 0, len(organismRows))
	for org := range organismRows {
		organisms = append(organisms, org)
	}
	sort.Strings(organisms)

	for _, canonical := range sortedKeys(organismVariants) {
		variants := organismVariants[canonical]
		var found []string
		var rows []int
		for _, org := range organisms {
			if containsFold(variants, org) {
				found = append(found, org)
				rows = append(rows, organismRows[org]...)
			}
		}
		if len(found) > 1 {
			sort.Ints(rows)
			return model.NewIssue(model.SeverityWarning, "SAMP_002", "inconsistent organism naming for "+canonical+": "+strings.Join(found, ", "), rows).WithField("organism"), true
		}
	}
	return model.Issue{}, false
}

// organismMismatchIssue flags rows whose organism doesn't canonicalize to
// the dataset's declared metadata.Organism.
func organismMismatchIssue(organismRows map[string][]int, declared *string) (model.Issue, bool) {
	if declared == nil || strings.TrimSpace(*declared) == "" {
		return model.Issue{}, false
	}
	declaredCanonical := canonicalOrganism(*declared)

	var mismatched []int
	for org, rows := range organismRows {
		if canonicalOrganism(org) != declaredCanonical {
			mismatched = append(mismatched, rows...)
		}
	}
	if len(mismatched) == 0 {
		return model.Issue{}, false
	}
	sort.Ints(mismatched)
	return model.NewIssue(model.SeverityWarning, "SAMP_003", "organism value does not match the dataset's declared organism ("+*declared+")", mismatched).WithField("organism"), true
}

// canonicalOrganism folds a raw organism spelling to its canonical name,
// falling back to a trimmed lowercase comparison for values the known
// variant table doesn't cover.
func canonicalOrganism(raw string) string {
	for canonical, variants := range organismVariants {
		if containsFold(variants, raw) {
			return canonical
		}
	}
	return strings.ToLower(strings.TrimSpace(raw))
}

func containsFold(values []string, target string) bool {
	target = strings.ToLower(strings.TrimSpace(target))
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// unitConsistencyIssues flags every measurement column (concentration,
// dose, volume, temperature, ...) whose values carry more than one
// distinct unit suffix, e.g. a dose column mixing "10 mg/ml" and "5 uM".
func unitConsistencyIssues(t model.Table) []model.Issue {
	var issues []model.Issue
	for _, col := range t.Columns {
		lower := strings.ToLower(col)
		isMeasurement := false
		for _, pattern := range measurementColumns {
			if strings.Contains(lower, pattern) {
				isMeasurement = true
				break
			}
		}
		if !isMeasurement {
			continue
		}

		units := map[string][]int{}
		for i, row := range t.Rows {
			raw, ok := row[col].(string)
			if !ok || strings.TrimSpace(raw) == "" {
				continue
			}
			unit := trailingUnit.FindString(strings.TrimSpace(raw))
			if unit == "" {
				continue
			}
			units[unit] = append(units[unit], i)
		}
		if len(units) <= 1 {
			continue
		}

		unitNames := make([]string, 0, len(units))
		var rows []int
		for unit := range units {
			unitNames = append(unitNames, unit)
			rows = append(rows, units[unit]...)
		}
		sort.Strings(unitNames)
		sort.Ints(rows)
		issues = append(issues, model.NewIssue(model.SeverityError, "SAMP_004", "mixed units in "+col+": "+strings.Join(unitNames, ", ")+", all measurements should use the same unit", rows).WithField(col))
	}
	return issues
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
