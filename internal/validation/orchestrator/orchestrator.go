// Package orchestrator implements the staged validation pipeline (§4.1):
// short-circuit rules, concurrent execution of the two independent bio
// stages, overall timeout containment, and deterministic report assembly.
//
// Each validator exposes exactly one operation, run(table, metadata) ->
// stage_result; the orchestrator holds a fixed ordered list of them by
// stage name rather than relying on inheritance or a plugin registry (§9).
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/animus-labs/biovalidate/internal/validation/model"
	"github.com/animus-labs/biovalidate/internal/validation/policy"
)

// SchemaRunner, RulesRunner, and BioRulesRunner are CPU-bound and run to
// completion without suspending (§5); they take no context.
type SchemaRunner func(t model.Table, m model.Metadata) model.StageResult
type RulesRunner func(t model.Table, m model.Metadata) model.StageResult
type BioRulesRunner func(t model.Table, m model.Metadata) model.StageResult

// BioLookupsRunner performs blocking I/O (cache, provider calls, rate-limit
// waits) and honors ctx cancellation.
type BioLookupsRunner func(ctx context.Context, t model.Table, m model.Metadata) model.StageResult

// RulesetResolver resolves the ruleset metadata once per run; a
// configuration error here aborts the run before any stage executes.
type RulesetResolver func() (model.RulesetMetadata, error)

// Options mirrors the orchestrator's tunable run options (§4.1) and the
// resolved values are echoed back in the report's api_configuration.
type Options struct {
	OverallTimeout      time.Duration
	ShortCircuitEnabled bool
	ParallelBioEnabled  bool
	EnsemblEnabled      bool
}

func (o *Options) applyDefaults() {
	if o.OverallTimeout <= 0 {
		o.OverallTimeout = 300 * time.Second
	}
}

// Orchestrator wires the fixed stage list and runs the pipeline.
type Orchestrator struct {
	schema          SchemaRunner
	rules           RulesRunner
	bioRules        BioRulesRunner
	bioLookups      BioLookupsRunner
	policyConfig    policy.Config
	resolveRuleset  RulesetResolver
	logger          *slog.Logger
}

func New(schema SchemaRunner, rules RulesRunner, bioRules BioRulesRunner, bioLookups BioLookupsRunner, policyConfig policy.Config, resolveRuleset RulesetResolver, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		schema:         schema,
		rules:          rules,
		bioRules:       bioRules,
		bioLookups:     bioLookups,
		policyConfig:   policyConfig,
		resolveRuleset: resolveRuleset,
		logger:         logger,
	}
}

// Run executes the pipeline over (t, m) and returns exactly one report.
// The only error it ever returns is a *ConfigError, raised before any
// stage runs; every other failure mode is baked into the returned report.
func (o *Orchestrator) Run(ctx context.Context, t model.Table, m model.Metadata, opts Options) (model.Report, error) {
	opts.applyDefaults()
	wallStart := time.Now()
	validationID := uuid.NewString()

	rulesetMeta, err := o.resolveRuleset()
	if err != nil {
		return model.Report{}, newConfigError(err)
	}

	runCtx, cancel := context.WithTimeout(ctx, opts.OverallTimeout)
	defer cancel()

	stages := map[model.StageName]model.StageResult{}
	shortCircuited := false
	timedOut := false

	schemaResult := o.runSafely(model.StageSchema, func() model.StageResult { return o.schema(t, m) })
	stages[model.StageSchema] = schemaResult

	if opts.ShortCircuitEnabled && hasSeverityAtLeast(schemaResult.Issues, model.SeverityError) {
		shortCircuited = true
	}

	if !shortCircuited {
		rulesResult := o.runSafely(model.StageRules, func() model.StageResult { return o.rules(t, m) })
		stages[model.StageRules] = rulesResult

		if opts.ShortCircuitEnabled && hasSeverityAtLeast(rulesResult.Issues, model.SeverityCritical) {
			shortCircuited = true
		}
	}

	if !shortCircuited {
		bioRulesResult, bioLookupsResult, bioTimedOut := o.runBioStages(runCtx, t, m, opts)
		stages[model.StageBioRules] = bioRulesResult
		stages[model.StageBioLookups] = bioLookupsResult
		timedOut = bioTimedOut
	}

	allIssues := flattenIssues(stages)
	decision := policy.Evaluate(o.policyConfig, allIssues)

	policyMeta := map[string]any{
		"critical_count": decision.Counts.Critical,
		"error_count":    decision.Counts.Error,
		"warning_count":  decision.Counts.Warning,
		"info_count":     decision.Counts.Info,
	}
	policyIssues := []model.Issue(nil)
	rationale := decision.Rationale
	if timedOut {
		timeoutIssue := model.NewIssue(model.SeverityWarning, "timeout", "overall validation deadline exceeded; partial results returned", nil)
		policyIssues = append(policyIssues, timeoutIssue)
	}
	stages[model.StagePolicy] = model.StageResult{
		StageName:       model.StagePolicy,
		Passed:          true,
		Issues:          policyIssues,
		ExecutionTimeMS: 0,
		StageMetadata:   policyMeta,
	}

	report := model.Report{
		ValidationID:         validationID,
		DatasetID:            m.DatasetID,
		Timestamp:            time.Now().UTC(),
		FinalDecision:        decision.FinalDecision,
		Rationale:            rationale,
		RequiresHumanReview:  decision.RequiresHumanReview,
		ExecutionTimeSeconds: time.Since(wallStart).Seconds(),
		ShortCircuited:       shortCircuited,
		Stages:               stages,
		StageOrder:           presentStages(stages),
		RulesetMetadata:      rulesetMeta,
		APIConfiguration: model.APIConfiguration{
			OverallTimeoutSeconds: opts.OverallTimeout.Seconds(),
			ShortCircuitEnabled:   opts.ShortCircuitEnabled,
			ParallelBioEnabled:    opts.ParallelBioEnabled,
			EnsemblEnabled:        opts.EnsemblEnabled,
		},
	}
	return report, nil
}

// runBioStages runs bio_rules and bio_lookups either concurrently (rejoined
// via a barrier) or sequentially, honoring the overall deadline. A timeout
// in one does not cancel the other: bio_rules is CPU-bound and always
// finishes; when the deadline passes before bio_lookups returns, that stage
// is recorded as skipped with no issues, and lookups it had already resolved
// are not included in the report.
func (o *Orchestrator) runBioStages(ctx context.Context, t model.Table, m model.Metadata, opts Options) (model.StageResult, model.StageResult, bool) {
	if !opts.ParallelBioEnabled {
		bioRules := o.runSafely(model.StageBioRules, func() model.StageResult { return o.bioRules(t, m) })
		bioLookups, timedOut := o.runBioLookupsWithTimeout(ctx, t, m)
		return bioRules, bioLookups, timedOut
	}

	var bioRulesResult, bioLookupsResult model.StageResult
	var timedOut bool
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res := o.runSafely(model.StageBioRules, func() model.StageResult { return o.bioRules(t, m) })
		mu.Lock()
		bioRulesResult = res
		mu.Unlock()
		return nil
	})
	g.Go(func() error {
		res, to := o.runBioLookupsWithTimeout(gCtx, t, m)
		mu.Lock()
		bioLookupsResult = res
		timedOut = timedOut || to
		mu.Unlock()
		return nil
	})
	_ = g.Wait()

	return bioRulesResult, bioLookupsResult, timedOut
}

func (o *Orchestrator) runBioLookupsWithTimeout(ctx context.Context, t model.Table, m model.Metadata) (model.StageResult, bool) {
	type outcome struct {
		result model.StageResult
	}
	done := make(chan outcome, 1)
	go func() {
		res := o.runSafely(model.StageBioLookups, func() model.StageResult { return o.bioLookups(ctx, t, m) })
		done <- outcome{result: res}
	}()

	select {
	case out := <-done:
		return out.result, false
	case <-ctx.Done():
		return model.StageResult{
			StageName:  model.StageBioLookups,
			Passed:     false,
			Skipped:    true,
			SkipReason: "overall timeout exceeded before bio_lookups completed",
		}, true
	}
}

// runSafely contains a validator crash: a panic becomes a synthetic
// critical internal_error issue for that stage rather than aborting the
// pipeline (§4.1 error containment).
func (o *Orchestrator) runSafely(name model.StageName, fn func() model.StageResult) (result model.StageResult) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("validator panicked", "stage", string(name), "panic", r)
			issue := model.NewIssue(model.SeverityCritical, "internal_error", "validator crashed unexpectedly", nil)
			result = model.StageResult{
				StageName: name,
				Passed:    false,
				Issues:    []model.Issue{issue},
			}
		}
	}()
	return fn()
}

func hasSeverityAtLeast(issues []model.Issue, sev model.Severity) bool {
	for _, iss := range issues {
		if iss.Severity.AtLeast(sev) {
			return true
		}
	}
	return false
}

func flattenIssues(stages map[model.StageName]model.StageResult) []model.Issue {
	var out []model.Issue
	for _, name := range model.StageOrder {
		if res, ok := stages[name]; ok {
			out = append(out, res.Issues...)
		}
	}
	return out
}

func presentStages(stages map[model.StageName]model.StageResult) []model.StageName {
	var out []model.StageName
	for _, name := range model.StageOrder {
		if _, ok := stages[name]; ok {
			out = append(out, name)
		}
	}
	return out
}
