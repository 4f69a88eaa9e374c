package validation

import (
	"fmt"
	"strconv"
	"time"

	"github.com/animus-labs/biovalidate/internal/platform/env"
)

// Config gathers the environment knobs recognized at startup and at each
// run's metadata resolution (§6).
type Config struct {
	RulesConfigPath  string
	PolicyConfigPath string

	CacheEnabled bool
	CachePath    string
	CacheTTL     time.Duration

	NCBIAPIKey         string
	NCBIRateLimitDelay float64

	EnsemblEnabled        bool
	EnsemblRateLimitDelay float64

	OverallTimeout      time.Duration
	ShortCircuitEnabled bool
	ParallelBioEnabled  bool
}

// ConfigFromEnv reads the environment knobs table from §6, applying the
// documented defaults for anything unset.
func ConfigFromEnv() (Config, error) {
	cacheEnabled, err := env.Bool("CACHE_ENABLED", true)
	if err != nil {
		return Config{}, err
	}
	cacheTTLHours, err := env.Int("CACHE_TTL_HOURS", 24*7)
	if err != nil {
		return Config{}, err
	}
	ensemblEnabled, err := env.Bool("ENSEMBL_ENABLED", true)
	if err != nil {
		return Config{}, err
	}
	ensemblDelay, err := parseFloatEnv("ENSEMBL_RATE_LIMIT_DELAY", 0.067)
	if err != nil {
		return Config{}, err
	}
	orchestratorTimeout, err := env.Int("ORCHESTRATOR_TIMEOUT_SECONDS", 300)
	if err != nil {
		return Config{}, err
	}
	shortCircuit, err := env.Bool("ENABLE_SHORT_CIRCUIT", true)
	if err != nil {
		return Config{}, err
	}
	parallelBio, err := env.Bool("ENABLE_PARALLEL_BIO", true)
	if err != nil {
		return Config{}, err
	}

	apiKey := env.String("NCBI_API_KEY", "")
	ncbiDelay := 0.34
	if apiKey != "" {
		ncbiDelay = 0.1
	}

	return Config{
		RulesConfigPath:       env.String("RULES_CONFIG_PATH", "config/rules.yaml"),
		PolicyConfigPath:      env.String("POLICY_CONFIG_PATH", "config/policy.yaml"),
		CacheEnabled:          cacheEnabled,
		CachePath:             env.String("CACHE_PATH", "data/lookup-cache"),
		CacheTTL:              time.Duration(cacheTTLHours) * time.Hour,
		NCBIAPIKey:            apiKey,
		NCBIRateLimitDelay:    ncbiDelay,
		EnsemblEnabled:        ensemblEnabled,
		EnsemblRateLimitDelay: ensemblDelay,
		OverallTimeout:        time.Duration(orchestratorTimeout) * time.Second,
		ShortCircuitEnabled:   shortCircuit,
		ParallelBioEnabled:    parallelBio,
	}, nil
}

func parseFloatEnv(key string, def float64) (float64, error) {
	v := env.String(key, "")
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return f, nil
}
