package rulesetmeta

import "testing"

const sampleConfig = `
version: 1.2.0
last_updated: 2026-01-01
changelog:
  - version: 1.2.0
    date: 2026-01-01
    changes:
      - tightened GC bounds
  - version: 1.1.0
    date: 2025-06-01
    changes:
      - initial release
rules:
  consistency:
    required_columns: [guide_id]
`

func TestResolveBytesExtractsMetadata(t *testing.T) {
	meta := ResolveBytes("rules.yaml", []byte(sampleConfig))
	if meta.Version != "1.2.0" {
		t.Fatalf("Version = %q, want 1.2.0", meta.Version)
	}
	if meta.Hash == nil || len(*meta.Hash) != 16 {
		t.Fatalf("expected a 16-char hash, got %v", meta.Hash)
	}
	if len(meta.LatestChanges) != 1 || meta.LatestChanges[0] != "tightened GC bounds" {
		t.Fatalf("unexpected latest changes: %v", meta.LatestChanges)
	}
}

func TestResolveBytesIdenticalBytesProduceIdenticalHash(t *testing.T) {
	m1 := ResolveBytes("a.yaml", []byte(sampleConfig))
	m2 := ResolveBytes("b.yaml", []byte(sampleConfig))
	if *m1.Hash != *m2.Hash {
		t.Fatalf("expected identical hashes for identical bytes, got %s vs %s", *m1.Hash, *m2.Hash)
	}
}

func TestResolveBytesMissingVersionIsUnknown(t *testing.T) {
	meta := ResolveBytes("rules.yaml", []byte("rules:\n  consistency: {}\n"))
	if meta.Version != "unknown" || meta.Hash != nil {
		t.Fatalf("expected unknown version and nil hash, got version=%q hash=%v", meta.Version, meta.Hash)
	}
}

func TestResolveBytesInvalidSemverIsUnknown(t *testing.T) {
	meta := ResolveBytes("rules.yaml", []byte("version: not-a-semver\n"))
	if meta.Version != "unknown" {
		t.Fatalf("expected unknown version for invalid semver, got %q", meta.Version)
	}
}
