// Package rulesetmeta resolves the identity of the rule configuration in
// effect for a run (§4.7): version, last-updated date, a content hash, and
// the most recent changelog entry, embedded in every report.
package rulesetmeta

import (
	"crypto/sha256"
	"encoding/hex"
	"os"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/animus-labs/biovalidate/internal/validation/model"
)

type rawConfig struct {
	Version     string `yaml:"version"`
	LastUpdated string `yaml:"last_updated"`
	Changelog   []struct {
		Version string   `yaml:"version"`
		Date    string   `yaml:"date"`
		Changes []string `yaml:"changes"`
	} `yaml:"changelog"`
}

// Resolve reads the rules config file at path once, computes its content
// hash, and extracts the metadata block embedded in every report.
//
// In the wider pipeline the file is read once when the Service builds the
// rule engine and again on every run to resolve this metadata (through
// ResolveBytes) — acceptable per §9; a caller that has already read the
// bytes can call ResolveBytes directly to avoid a second read.
func Resolve(path string) (model.RulesetMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.RulesetMetadata{}, err
	}
	return ResolveBytes(path, data), nil
}

// ResolveBytes computes the metadata from already-read file bytes.
func ResolveBytes(source string, data []byte) model.RulesetMetadata {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return model.RulesetMetadata{
			Version:     "unknown",
			LastUpdated: "unknown",
			Source:      source,
			Hash:        nil,
		}
	}

	version := raw.Version
	if version == "" {
		version = "unknown"
	} else if _, err := semver.NewVersion(version); err != nil {
		version = "unknown"
	}

	var hash *string
	if raw.Version != "" {
		sum := sha256.Sum256(data)
		short := hex.EncodeToString(sum[:])[:16]
		hash = &short
	}

	var latestChanges []string
	if len(raw.Changelog) > 0 {
		latestChanges = raw.Changelog[0].Changes
	}

	lastUpdated := raw.LastUpdated
	if lastUpdated == "" {
		lastUpdated = "unknown"
	}

	return model.RulesetMetadata{
		Version:       version,
		LastUpdated:   lastUpdated,
		Source:        source,
		Hash:          hash,
		LatestChanges: latestChanges,
	}
}
