package biorules

import (
	"testing"

	"github.com/animus-labs/biovalidate/internal/validation/model"
)

func TestGuideRNACleanSequencePasses(t *testing.T) {
	tbl := model.Table{
		Columns: []string{"sequence", "pam_sequence", "nuclease_type"},
		Rows: []model.Record{
			{"sequence": "ATCGATCGATCGATCGATCG", "pam_sequence": "AGG", "nuclease_type": "SpCas9"},
		},
	}
	res := New().Run(tbl, model.Metadata{Format: model.FormatGuideRNA})
	if !res.Passed {
		t.Fatalf("expected pass, got %+v", res.Issues)
	}
}

func TestGuideRNAShortSequenceIsError(t *testing.T) {
	tbl := model.Table{
		Columns: []string{"sequence", "pam_sequence", "nuclease_type"},
		Rows: []model.Record{
			{"sequence": "ATCG", "pam_sequence": "AGG", "nuclease_type": "SpCas9"},
		},
	}
	res := New().Run(tbl, model.Metadata{Format: model.FormatGuideRNA})
	if res.Passed {
		t.Fatal("expected failure on short sequence")
	}
	if res.Issues[0].RuleID != "BIO_001A" {
		t.Fatalf("expected BIO_001A, got %+v", res.Issues)
	}
}

func TestGuideRNAPolyTAndHomopolymer(t *testing.T) {
	tbl := model.Table{
		Columns: []string{"sequence", "pam_sequence", "nuclease_type"},
		Rows: []model.Record{
			{"sequence": "ATCGATCGATCGATTTTCGA", "pam_sequence": "AGG", "nuclease_type": "SpCas9"},
			{"sequence": "AAAAATCGATCGATCGATCG", "pam_sequence": "AGG", "nuclease_type": "SpCas9"},
		},
	}
	res := New().Run(tbl, model.Metadata{Format: model.FormatGuideRNA})
	var codes []string
	for _, iss := range res.Issues {
		codes = append(codes, iss.RuleID)
	}
	if !contains(codes, "BIO_004") {
		t.Errorf("expected BIO_004 poly-T warning, got %v", codes)
	}
	if !contains(codes, "BIO_005") {
		t.Errorf("expected BIO_005 homopolymer warning, got %v", codes)
	}
}

func TestGuideRNANonDNABase(t *testing.T) {
	tbl := model.Table{
		Columns: []string{"sequence", "pam_sequence", "nuclease_type"},
		Rows: []model.Record{
			{"sequence": "ATCGATCGATCGATCGATCX", "pam_sequence": "AGG", "nuclease_type": "SpCas9"},
		},
	}
	res := New().Run(tbl, model.Metadata{Format: model.FormatGuideRNA})
	found := false
	for _, iss := range res.Issues {
		if iss.RuleID == "BIO_006" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected BIO_006, got %+v", res.Issues)
	}
}

func TestVariantAllelefrequencyOutOfRange(t *testing.T) {
	tbl := model.Table{
		Columns: []string{"chromosome", "allele_frequency"},
		Rows: []model.Record{
			{"chromosome": "chr1", "allele_frequency": float64(1.5)},
		},
	}
	res := New().Run(tbl, model.Metadata{Format: model.FormatVariantAnnotation})
	if res.Passed {
		t.Fatal("expected failure on out-of-range allele frequency")
	}
}

func TestSampleMetadataBadDateFormat(t *testing.T) {
	tbl := model.Table{
		Columns: []string{"collection_date"},
		Rows: []model.Record{
			{"collection_date": "01/02/2026"},
		},
	}
	res := New().Run(tbl, model.Metadata{Format: model.FormatSampleMetadata})
	found := false
	for _, iss := range res.Issues {
		if iss.RuleID == "SAMP_001" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected SAMP_001, got %+v", res.Issues)
	}
}

func TestVariantMixedReferenceGenomesIsCritical(t *testing.T) {
	tbl := model.Table{
		Columns: []string{"chromosome", "ref_genome"},
		Rows: []model.Record{
			{"chromosome": "chr1", "ref_genome": "GRCh38"},
			{"chromosome": "chr2", "ref_genome": "GRCh37"},
		},
	}
	res := New().Run(tbl, model.Metadata{Format: model.FormatVariantAnnotation})
	var found *model.Issue
	for i := range res.Issues {
		if res.Issues[i].RuleID == "VAR_003" {
			found = &res.Issues[i]
		}
	}
	if found == nil {
		t.Fatalf("expected VAR_003, got %+v", res.Issues)
	}
	if found.Severity != model.SeverityCritical {
		t.Fatalf("expected critical severity, got %v", found.Severity)
	}
	if len(found.AffectedRows) != 2 {
		t.Fatalf("expected both rows affected, got %v", found.AffectedRows)
	}
}

func TestVariantReferenceGenomeMismatchWithMetadata(t *testing.T) {
	declared := "GRCh38"
	tbl := model.Table{
		Columns: []string{"ref_genome"},
		Rows: []model.Record{
			{"ref_genome": "GRCh37"},
		},
	}
	res := New().Run(tbl, model.Metadata{Format: model.FormatVariantAnnotation, ReferenceGenome: &declared})
	found := false
	for _, iss := range res.Issues {
		if iss.RuleID == "VAR_004" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected VAR_004, got %+v", res.Issues)
	}
}

func TestVariantInvalidHGVSNotation(t *testing.T) {
	tbl := model.Table{
		Columns: []string{"hgvs_c", "hgvs_p"},
		Rows: []model.Record{
			{"hgvs_c": "not-hgvs", "hgvs_p": "also-not-hgvs"},
		},
	}
	res := New().Run(tbl, model.Metadata{Format: model.FormatVariantAnnotation})
	var codes []string
	for _, iss := range res.Issues {
		codes = append(codes, iss.RuleID)
	}
	if !contains(codes, "VAR_005") {
		t.Errorf("expected VAR_005, got %v", codes)
	}
	if !contains(codes, "VAR_006") {
		t.Errorf("expected VAR_006, got %v", codes)
	}
}

func TestSampleOrganismNamingInconsistency(t *testing.T) {
	tbl := model.Table{
		Columns: []string{"organism"},
		Rows: []model.Record{
			{"organism": "human"},
			{"organism": "H. sapiens"},
		},
	}
	res := New().Run(tbl, model.Metadata{Format: model.FormatSampleMetadata})
	found := false
	for _, iss := range res.Issues {
		if iss.RuleID == "SAMP_002" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected SAMP_002, got %+v", res.Issues)
	}
}

func TestSampleOrganismMismatchWithMetadata(t *testing.T) {
	declared := "mouse"
	tbl := model.Table{
		Columns: []string{"organism"},
		Rows: []model.Record{
			{"organism": "human"},
		},
	}
	res := New().Run(tbl, model.Metadata{Format: model.FormatSampleMetadata, Organism: &declared})
	found := false
	for _, iss := range res.Issues {
		if iss.RuleID == "SAMP_003" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected SAMP_003, got %+v", res.Issues)
	}
}

func TestSampleMixedUnitsIsError(t *testing.T) {
	tbl := model.Table{
		Columns: []string{"dose_concentration"},
		Rows: []model.Record{
			{"dose_concentration": "10 mg/ml"},
			{"dose_concentration": "5 uM"},
		},
	}
	res := New().Run(tbl, model.Metadata{Format: model.FormatSampleMetadata})
	var found *model.Issue
	for i := range res.Issues {
		if res.Issues[i].RuleID == "SAMP_004" {
			found = &res.Issues[i]
		}
	}
	if found == nil {
		t.Fatalf("expected SAMP_004, got %+v", res.Issues)
	}
	if found.Severity != model.SeverityError {
		t.Fatalf("expected error severity, got %v", found.Severity)
	}
}

func contains(list []string, item string) bool {
	for _, s := range list {
		if s == item {
			return true
		}
	}
	return false
}
