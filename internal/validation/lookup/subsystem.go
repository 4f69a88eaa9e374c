// Package lookup implements the external-identifier lookup subsystem
// (§4.5): cache-first resolution against a primary provider with automatic
// failover to a secondary, coalesced through a single TTL cache.
package lookup

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/animus-labs/biovalidate/internal/validation/lookup/cache"
	"github.com/animus-labs/biovalidate/internal/validation/lookup/ratelimit"
	"github.com/animus-labs/biovalidate/internal/validation/model"
)

// Query is one (organism, identifier) pair extracted from the table, with
// the original-cased identifier retained for error messages.
type Query struct {
	Organism         string
	Identifier       string
	OriginalCasing   string
	RowIndices       []int
}

// Options configures one subsystem instance; all fields have documented
// defaults per §4.5/§6.
type Options struct {
	BatchSize          int
	MaxRetries         int
	CacheTTL           time.Duration
	EnsemblEnabled     bool
	IdentifierColumn   string
	OrganismColumn     string
}

func (o *Options) applyDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = 7 * 24 * time.Hour
	}
	if o.IdentifierColumn == "" {
		o.IdentifierColumn = "target_gene"
	}
	if o.OrganismColumn == "" {
		o.OrganismColumn = "organism"
	}
}

// Subsystem wires the cache, both providers, and their rate limiters.
type Subsystem struct {
	cache            *cache.Cache
	primary          Provider
	secondary        Provider
	primaryLimiter   *ratelimit.Limiter
	secondaryLimiter *ratelimit.Limiter
	logger           *slog.Logger
	opts             Options

	// chunkGroup coalesces concurrent Run calls that miss on the same
	// (organism, identifier chunk): at most one provider round-trip is in
	// flight per chunk at a time, matching the cache's own single-flight
	// contract on the batched dispatch path (§4.5, §5).
	chunkGroup singleflight.Group
}

func New(c *cache.Cache, primary, secondary Provider, primaryLimiter, secondaryLimiter *ratelimit.Limiter, logger *slog.Logger, opts Options) *Subsystem {
	opts.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Subsystem{
		cache:            c,
		primary:          primary,
		secondary:        secondary,
		primaryLimiter:   primaryLimiter,
		secondaryLimiter: secondaryLimiter,
		logger:           logger,
		opts:             opts,
	}
}

// ExtractQueries builds the de-duplicated (organism, identifier) list from
// the table, case-insensitively de-duplicated while preserving original
// casing for error messages.
func (s *Subsystem) ExtractQueries(t model.Table) []Query {
	seen := map[string]*Query{}
	var order []string
	for i, row := range t.Rows {
		id, _ := row[s.opts.IdentifierColumn].(string)
		organism, _ := row[s.opts.OrganismColumn].(string)
		if strings.TrimSpace(id) == "" {
			continue
		}
		key := strings.ToLower(organism) + "\x1f" + strings.ToLower(id)
		if q, ok := seen[key]; ok {
			q.RowIndices = append(q.RowIndices, i)
			continue
		}
		q := &Query{Organism: organism, Identifier: strings.ToLower(id), OriginalCasing: id, RowIndices: []int{i}}
		seen[key] = q
		order = append(order, key)
	}
	out := make([]Query, 0, len(order))
	for _, k := range order {
		out = append(out, *seen[k])
	}
	return out
}

// Run executes the full lookup pipeline over t and returns the bio_lookups
// stage result.
func (s *Subsystem) Run(ctx context.Context, t model.Table, m model.Metadata) model.StageResult {
	start := time.Now()
	queries := s.ExtractQueries(t)

	var issues []model.Issue
	var cacheHits, cacheMisses int
	var apiCalls, ncbiSuccesses, ensemblFallbacks, primarySuccesses, secondarySuccesses int

	var misses []Query
	for _, q := range queries {
		if _, ok := s.cache.Lookup(q.Organism, q.Identifier); ok {
			cacheHits++
			continue
		}
		cacheMisses++
		misses = append(misses, q)
	}

	chunks := chunkByOrganism(misses, s.opts.BatchSize)

	for _, chunk := range chunks {
		apiCalls++
		v, _, _ := s.chunkGroup.Do(chunkKey(chunk), func() (any, error) {
			return s.resolveChunk(ctx, chunk), nil
		})
		outcome := v.(chunkOutcome)
		issues = append(issues, outcome.issues...)
		primarySuccesses += outcome.primarySuccesses
		secondarySuccesses += outcome.secondarySuccesses
		ncbiSuccesses += outcome.ncbiSuccesses
		ensemblFallbacks += outcome.ensemblFallbacks
	}

	totalQueries := len(queries)
	var reliability float64
	if totalQueries > 0 {
		reliability = float64(primarySuccesses+secondarySuccesses) / float64(totalQueries)
	}
	var hitRate float64
	if totalQueries > 0 {
		hitRate = float64(cacheHits) / float64(totalQueries)
	}

	return model.StageResult{
		StageName:       model.StageBioLookups,
		Passed:          model.Passes(issues),
		Issues:          issues,
		ExecutionTimeMS: time.Since(start).Milliseconds(),
		StageMetadata: map[string]any{
			"cache_hits":           cacheHits,
			"cache_misses":         cacheMisses,
			"cache_hit_rate":       fmt.Sprintf("%.1f%%", hitRate*100),
			"api_calls_made":       apiCalls,
			"ncbi_successes":       ncbiSuccesses,
			"ensembl_fallbacks":    ensemblFallbacks,
			"degraded_mode":        primarySuccesses+secondarySuccesses < totalQueries,
			"provider_reliability": reliability,
		},
	}
}

// callWithRetry submits chunk to provider, retrying with exponential
// backoff up to MaxRetries before treating the chunk as failed.
func (s *Subsystem) callWithRetry(ctx context.Context, provider Provider, limiter *ratelimit.Limiter, chunk []Query) ([]Answer, error) {
	organism := chunk[0].Organism
	ids := identifiers(chunk)

	var lastErr error
	for attempt := 0; attempt <= s.opts.MaxRetries; attempt++ {
		release, err := limiter.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		answers, callErr := provider.Resolve(ctx, organism, ids)
		release()
		if callErr == nil {
			return answers, nil
		}
		lastErr = callErr

		select {
		case <-time.After(computeBackoff(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// callSecondaryOneByOne submits identifiers individually, since the
// secondary provider need not support batching (§4.5 step 4).
func (s *Subsystem) callSecondaryOneByOne(ctx context.Context, chunk []Query) ([]Answer, error) {
	var answers []Answer
	for _, q := range chunk {
		single, err := s.callWithRetry(ctx, s.secondary, s.secondaryLimiter, []Query{q})
		if err != nil {
			return nil, err
		}
		answers = append(answers, single...)
	}
	return answers, nil
}

// chunkOutcome captures everything a resolved chunk contributes back to
// Run's per-stage counters and issue list, so a single-flight-shared result
// can be applied identically to every caller waiting on it.
type chunkOutcome struct {
	issues             []model.Issue
	primarySuccesses   int
	secondarySuccesses int
	ncbiSuccesses      int
	ensemblFallbacks   int
}

// resolveChunk runs the primary-then-secondary failover for one chunk. It
// is the function single-flighted by chunkGroup, so it never returns an
// error itself: every outcome, including a fully degraded chunk, is
// reported through chunkOutcome.issues instead.
func (s *Subsystem) resolveChunk(ctx context.Context, chunk []Query) chunkOutcome {
	answers, primaryErr := s.callWithRetry(ctx, s.primary, s.primaryLimiter, chunk)
	if primaryErr == nil {
		return chunkOutcome{
			issues:           s.processAnswers(chunk, answers, s.primary.Name()),
			primarySuccesses: len(chunk),
			ncbiSuccesses:    len(chunk),
		}
	}

	s.logger.Warn("primary provider failed, failing over", "provider", s.primary.Name(), "error", primaryErr.Error())

	if !s.opts.EnsemblEnabled || s.secondary == nil {
		return chunkOutcome{issues: degradedIssues(chunk, s.primary.Name())}
	}

	secAnswers, secErr := s.callSecondaryOneByOne(ctx, chunk)
	if secErr != nil {
		return chunkOutcome{
			issues:           degradedIssues(chunk, s.secondary.Name()),
			ensemblFallbacks: len(chunk),
		}
	}
	return chunkOutcome{
		issues:             s.processAnswers(chunk, secAnswers, s.secondary.Name()),
		secondarySuccesses: len(chunk),
		ensemblFallbacks:   len(chunk),
	}
}

// chunkKey deterministically identifies a chunk by its organism and sorted
// identifier set, so concurrent Run calls that miss on the same set of
// identifiers coalesce onto a single in-flight provider round-trip instead
// of each dispatching their own (§4.5, §5's shared-cache coalescing rule
// applied to the batched dispatch path).
func chunkKey(chunk []Query) string {
	ids := make([]string, len(chunk))
	for i, q := range chunk {
		ids[i] = q.Identifier
	}
	sort.Strings(ids)
	organism := ""
	if len(chunk) > 0 {
		organism = strings.ToLower(chunk[0].Organism)
	}
	return organism + "\x1f" + strings.Join(ids, ",")
}

func (s *Subsystem) processAnswers(chunk []Query, answers []Answer, provider string) []model.Issue {
	byID := make(map[string]Answer, len(answers))
	for _, a := range answers {
		byID[a.Identifier] = a
	}

	var issues []model.Issue
	now := time.Now()
	for _, q := range chunk {
		answer, ok := byID[q.Identifier]
		if !ok {
			continue
		}
		if answer.Ambiguous {
			issues = append(issues, model.NewIssue(
				model.SeverityWarning, "LOOKUP_002",
				fmt.Sprintf("identifier %q matched multiple records in %s", q.OriginalCasing, provider), q.RowIndices,
			).WithField(s.opts.IdentifierColumn).WithMeta("provider", provider))
			_ = s.cache.Set(q.Organism, q.Identifier, model.CacheEntry{
				Valid: true, CanonicalName: &answer.CanonicalName, Provider: provider,
				StoredAt: now, ExpiresAt: now.Add(s.opts.CacheTTL),
			})
			continue
		}
		if !answer.Found {
			issues = append(issues, model.NewIssue(
				model.SeverityError, "LOOKUP_001",
				fmt.Sprintf("identifier %q was not found by %s", q.OriginalCasing, provider), q.RowIndices,
			).WithField(s.opts.IdentifierColumn).WithMeta("provider", provider))
			_ = s.cache.Set(q.Organism, q.Identifier, model.CacheEntry{
				Valid: false, Provider: provider, StoredAt: now, ExpiresAt: now.Add(s.opts.CacheTTL),
			})
			continue
		}
		canonical := answer.CanonicalName
		_ = s.cache.Set(q.Organism, q.Identifier, model.CacheEntry{
			Valid: true, CanonicalName: &canonical, Provider: provider,
			StoredAt: now, ExpiresAt: now.Add(s.opts.CacheTTL),
		})
	}
	return issues
}

// ResolveSingle resolves one (organism, identifier) pair directly against
// the primary provider, failing over to the secondary on error, without
// touching the cache. Used by CacheWarm to share the same failover policy
// as Run.
func (s *Subsystem) ResolveSingle(ctx context.Context, organism, identifier string) (Answer, string, error) {
	answers, err := s.callWithRetry(ctx, s.primary, s.primaryLimiter, []Query{{Organism: organism, Identifier: strings.ToLower(identifier)}})
	if err == nil && len(answers) == 1 {
		return answers[0], s.primary.Name(), nil
	}

	if !s.opts.EnsemblEnabled || s.secondary == nil {
		return Answer{}, "", fmt.Errorf("primary provider failed and no secondary is enabled: %w", err)
	}

	answers, err = s.callWithRetry(ctx, s.secondary, s.secondaryLimiter, []Query{{Organism: organism, Identifier: strings.ToLower(identifier)}})
	if err != nil || len(answers) != 1 {
		return Answer{}, "", fmt.Errorf("both providers failed to resolve %q: %w", identifier, err)
	}
	return answers[0], s.secondary.Name(), nil
}

// degradedIssues marks identifiers that neither provider could resolve due
// to provider errors, as opposed to a definitive "not found" answer.
// Degraded outcomes are not cached.
func degradedIssues(chunk []Query, provider string) []model.Issue {
	issues := make([]model.Issue, 0, len(chunk))
	for _, q := range chunk {
		issues = append(issues, model.NewIssue(
			model.SeverityWarning, "LOOKUP_003",
			fmt.Sprintf("identifier %q could not be resolved (provider degraded)", q.OriginalCasing), q.RowIndices,
		).WithMeta("provider", "degraded").WithMeta("last_provider_tried", provider))
	}
	return issues
}

func identifiers(chunk []Query) []string {
	ids := make([]string, len(chunk))
	for i, q := range chunk {
		ids[i] = q.Identifier
	}
	return ids
}

// chunkByOrganism groups misses into chunks of up to batchSize, preserving
// organism grouping so one provider call never mixes organisms.
func chunkByOrganism(queries []Query, batchSize int) [][]Query {
	byOrganism := map[string][]Query{}
	var organismOrder []string
	for _, q := range queries {
		if _, ok := byOrganism[q.Organism]; !ok {
			organismOrder = append(organismOrder, q.Organism)
		}
		byOrganism[q.Organism] = append(byOrganism[q.Organism], q)
	}

	var chunks [][]Query
	for _, organism := range organismOrder {
		group := byOrganism[organism]
		for i := 0; i < len(group); i += batchSize {
			end := i + batchSize
			if end > len(group) {
				end = len(group)
			}
			chunks = append(chunks, group[i:end])
		}
	}
	return chunks
}
