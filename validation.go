// Package validation is the single exported entry point for the core
// library (§6): validate(table, metadata, options) -> report, plus the
// cache-management calls the host process exposes to callers.
package validation

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/animus-labs/biovalidate/internal/validation/biorules"
	"github.com/animus-labs/biovalidate/internal/validation/lookup"
	"github.com/animus-labs/biovalidate/internal/validation/lookup/cache"
	"github.com/animus-labs/biovalidate/internal/validation/lookup/ensembl"
	"github.com/animus-labs/biovalidate/internal/validation/lookup/ncbi"
	"github.com/animus-labs/biovalidate/internal/validation/lookup/ratelimit"
	"github.com/animus-labs/biovalidate/internal/validation/model"
	"github.com/animus-labs/biovalidate/internal/validation/orchestrator"
	"github.com/animus-labs/biovalidate/internal/validation/policy"
	"github.com/animus-labs/biovalidate/internal/validation/rules"
	"github.com/animus-labs/biovalidate/internal/validation/rulesetmeta"
	"github.com/animus-labs/biovalidate/internal/validation/schema"
)

const providerConcurrencyCap = 8

// Options mirrors the orchestrator's per-run options (§4.1). A zero value
// for any field falls back to the Service's configured default.
type Options struct {
	OverallTimeout      time.Duration
	ShortCircuitEnabled *bool
	ParallelBioEnabled  *bool
}

// Report and Table/Metadata/Issue are re-exported so callers never import
// the internal model package directly.
type (
	Report   = model.Report
	Table    = model.Table
	Metadata = model.Metadata
	Record   = model.Record
	Issue    = model.Issue
)

// Service is the constructed, ready-to-run core library instance.
type Service struct {
	orch   *orchestrator.Orchestrator
	cache  *cache.Cache
	lookup *lookup.Subsystem
	cfg    Config
	logger *slog.Logger
}

// New reads the rules and policy config files named in cfg, opens the
// lookup cache, and wires the orchestrator. A malformed config file
// surfaces as an error here, before any run starts (§7).
func New(cfg Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}

	rulesBytes, err := os.ReadFile(cfg.RulesConfigPath)
	if err != nil {
		return nil, fmt.Errorf("read rules config: %w", err)
	}
	var rulesCfg rules.Config
	if err := yaml.Unmarshal(rulesBytes, &rulesCfg); err != nil {
		return nil, fmt.Errorf("parse rules config: %w", err)
	}
	ruleEngine, err := rules.New(rulesCfg)
	if err != nil {
		return nil, fmt.Errorf("build rule engine: %w", err)
	}

	policyCfg := policy.Default()
	if cfg.PolicyConfigPath != "" {
		if data, readErr := os.ReadFile(cfg.PolicyConfigPath); readErr == nil {
			if yamlErr := yaml.Unmarshal(data, &policyCfg); yamlErr != nil {
				return nil, fmt.Errorf("parse policy config: %w", yamlErr)
			}
		}
	}
	policyCfg.Defaults()
	if err := policyCfg.Validate(); err != nil {
		return nil, fmt.Errorf("policy config: %w", err)
	}

	var lookupCache *cache.Cache
	if cfg.CacheEnabled {
		lookupCache, err = cache.Open(cfg.CachePath, logger)
		if err != nil {
			return nil, fmt.Errorf("open lookup cache: %w", err)
		}
	}

	ncbiRate := 1.0 / cfg.NCBIRateLimitDelay
	primaryLimiter := ratelimit.New(ncbiRate, providerConcurrencyCap)
	primary := ncbi.New(ncbi.Config{APIKey: cfg.NCBIAPIKey})

	var secondary lookup.Provider
	var secondaryLimiter *ratelimit.Limiter
	if cfg.EnsemblEnabled {
		ensemblRate := 1.0 / cfg.EnsemblRateLimitDelay
		secondaryLimiter = ratelimit.New(ensemblRate, providerConcurrencyCap)
		secondary = ensembl.New(ensembl.Config{})
	}

	lookupSubsystem := lookup.New(lookupCache, primary, secondary, primaryLimiter, secondaryLimiter, logger, lookup.Options{
		CacheTTL:       cfg.CacheTTL,
		EnsemblEnabled: cfg.EnsemblEnabled,
	})

	schemaValidator := schema.New()
	bioValidator := biorules.New()

	resolveRuleset := func() (model.RulesetMetadata, error) {
		data, err := os.ReadFile(cfg.RulesConfigPath)
		if err != nil {
			return model.RulesetMetadata{}, err
		}
		return rulesetmeta.ResolveBytes(cfg.RulesConfigPath, data), nil
	}

	orch := orchestrator.New(
		schemaValidator.Run,
		ruleEngine.Run,
		bioValidator.Run,
		lookupSubsystem.Run,
		policyCfg,
		resolveRuleset,
		logger,
	)

	return &Service{orch: orch, cache: lookupCache, lookup: lookupSubsystem, cfg: cfg, logger: logger}, nil
}

// Close releases the lookup cache's underlying store.
func (s *Service) Close() error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Close()
}

// Run is the only entry point a host must call: validate(table, metadata,
// options) -> report.
func (s *Service) Run(ctx context.Context, t Table, m Metadata, opts Options) (Report, error) {
	orchOpts := orchestrator.Options{
		OverallTimeout:      s.cfg.OverallTimeout,
		ShortCircuitEnabled: s.cfg.ShortCircuitEnabled,
		ParallelBioEnabled:  s.cfg.ParallelBioEnabled,
		EnsemblEnabled:      s.cfg.EnsemblEnabled,
	}
	if opts.OverallTimeout > 0 {
		orchOpts.OverallTimeout = opts.OverallTimeout
	}
	if opts.ShortCircuitEnabled != nil {
		orchOpts.ShortCircuitEnabled = *opts.ShortCircuitEnabled
	}
	if opts.ParallelBioEnabled != nil {
		orchOpts.ParallelBioEnabled = *opts.ParallelBioEnabled
	}
	return s.orch.Run(ctx, t, m, orchOpts)
}

// CacheStats returns the lookup cache's counters (§6, §4.5).
func (s *Service) CacheStats() (cache.Stats, error) {
	if s.cache == nil {
		return cache.Stats{}, fmt.Errorf("cache is disabled")
	}
	return s.cache.StatsSnapshot(), nil
}

// CacheClearExpired evicts every expired cache entry. Idempotent.
func (s *Service) CacheClearExpired() (int, error) {
	if s.cache == nil {
		return 0, fmt.Errorf("cache is disabled")
	}
	return s.cache.ClearExpired()
}

// CachePurge unconditionally empties the cache.
func (s *Service) CachePurge() error {
	if s.cache == nil {
		return fmt.Errorf("cache is disabled")
	}
	return s.cache.Purge()
}

// CacheWarm pre-resolves a list of (organism, identifier) pairs through
// the normal provider failover pipeline without waiting on a run.
func (s *Service) CacheWarm(ctx context.Context, pairs [][2]string) (int, error) {
	if s.cache == nil {
		return 0, fmt.Errorf("cache is disabled")
	}
	return s.cache.Warm(pairs, func(organism, identifier string) (model.CacheEntry, error) {
		answer, provider, err := s.lookup.ResolveSingle(ctx, organism, identifier)
		if err != nil {
			return model.CacheEntry{}, err
		}
		now := time.Now()
		entry := model.CacheEntry{
			Valid:     answer.Found,
			Provider:  provider,
			StoredAt:  now,
			ExpiresAt: now.Add(s.cfg.CacheTTL),
		}
		if answer.CanonicalName != "" {
			entry.CanonicalName = &answer.CanonicalName
		}
		return entry, nil
	})
}

// CacheLookup returns the cached entry for (organism, identifier), if any.
func (s *Service) CacheLookup(organism, identifier string) (model.CacheEntry, bool) {
	if s.cache == nil {
		return model.CacheEntry{}, false
	}
	return s.cache.Lookup(organism, identifier)
}
