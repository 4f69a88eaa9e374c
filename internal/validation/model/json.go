package model

import (
	"encoding/json"
	"time"
)

type issueJSON struct {
	Severity     Severity       `json:"severity"`
	RuleID       string         `json:"rule_id"`
	Field        *string        `json:"field"`
	Message      string         `json:"message"`
	AffectedRows []int          `json:"affected_rows"`
	Metadata     map[string]any `json:"metadata"`
}

func (i Issue) MarshalJSON() ([]byte, error) {
	rows := i.AffectedRows
	if rows == nil {
		rows = []int{}
	}
	meta := i.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	return json.Marshal(issueJSON{
		Severity:     i.Severity,
		RuleID:       i.RuleID,
		Field:        i.Field,
		Message:      i.Message,
		AffectedRows: rows,
		Metadata:     meta,
	})
}

func (i *Issue) UnmarshalJSON(data []byte) error {
	var dto issueJSON
	if err := json.Unmarshal(data, &dto); err != nil {
		return err
	}
	*i = Issue{
		Severity:     dto.Severity,
		RuleID:       dto.RuleID,
		Field:        dto.Field,
		Message:      dto.Message,
		AffectedRows: dto.AffectedRows,
		Metadata:     dto.Metadata,
	}
	return nil
}

type stageResultJSON struct {
	StageName       StageName      `json:"stage_name"`
	Passed          bool           `json:"passed"`
	Issues          []Issue        `json:"issues"`
	ExecutionTimeMS int64          `json:"execution_time_ms"`
	StageMetadata   map[string]any `json:"stage_metadata"`
	Skipped         bool           `json:"skipped,omitempty"`
	SkipReason      string         `json:"skip_reason,omitempty"`
}

func (s StageResult) MarshalJSON() ([]byte, error) {
	issues := s.Issues
	if issues == nil {
		issues = []Issue{}
	}
	meta := s.StageMetadata
	if meta == nil {
		meta = map[string]any{}
	}
	return json.Marshal(stageResultJSON{
		StageName:       s.StageName,
		Passed:          s.Passed,
		Issues:          issues,
		ExecutionTimeMS: s.ExecutionTimeMS,
		StageMetadata:   meta,
		Skipped:         s.Skipped,
		SkipReason:      s.SkipReason,
	})
}

func (s *StageResult) UnmarshalJSON(data []byte) error {
	var dto stageResultJSON
	if err := json.Unmarshal(data, &dto); err != nil {
		return err
	}
	*s = StageResult{
		StageName:       dto.StageName,
		Passed:          dto.Passed,
		Issues:          dto.Issues,
		ExecutionTimeMS: dto.ExecutionTimeMS,
		StageMetadata:   dto.StageMetadata,
		Skipped:         dto.Skipped,
		SkipReason:      dto.SkipReason,
	}
	return nil
}

type rulesetMetadataJSON struct {
	Version       string   `json:"version"`
	LastUpdated   string   `json:"last_updated"`
	Source        string   `json:"source"`
	Hash          *string  `json:"hash"`
	LatestChanges []string `json:"latest_changes"`
}

func (r RulesetMetadata) MarshalJSON() ([]byte, error) {
	changes := r.LatestChanges
	if changes == nil {
		changes = []string{}
	}
	return json.Marshal(rulesetMetadataJSON{
		Version:       r.Version,
		LastUpdated:   r.LastUpdated,
		Source:        r.Source,
		Hash:          r.Hash,
		LatestChanges: changes,
	})
}

func (r *RulesetMetadata) UnmarshalJSON(data []byte) error {
	var dto rulesetMetadataJSON
	if err := json.Unmarshal(data, &dto); err != nil {
		return err
	}
	*r = RulesetMetadata{
		Version:       dto.Version,
		LastUpdated:   dto.LastUpdated,
		Source:        dto.Source,
		Hash:          dto.Hash,
		LatestChanges: dto.LatestChanges,
	}
	return nil
}

type apiConfigurationJSON struct {
	OverallTimeoutSeconds float64 `json:"overall_timeout_seconds"`
	ShortCircuitEnabled   bool    `json:"short_circuit_enabled"`
	ParallelBioEnabled    bool    `json:"parallel_bio_enabled"`
	EnsemblEnabled        bool    `json:"ensembl_enabled"`
}

func (a APIConfiguration) MarshalJSON() ([]byte, error) {
	return json.Marshal(apiConfigurationJSON(a))
}

func (a *APIConfiguration) UnmarshalJSON(data []byte) error {
	var dto apiConfigurationJSON
	if err := json.Unmarshal(data, &dto); err != nil {
		return err
	}
	*a = APIConfiguration(dto)
	return nil
}

type reportJSON struct {
	ValidationID         string                     `json:"validation_id"`
	DatasetID            string                     `json:"dataset_id"`
	Timestamp            time.Time                  `json:"timestamp"`
	FinalDecision        Decision                   `json:"final_decision"`
	Rationale            string                     `json:"rationale"`
	RequiresHumanReview  bool                       `json:"requires_human_review"`
	ExecutionTimeSeconds float64                    `json:"execution_time_seconds"`
	ShortCircuited       bool                       `json:"short_circuited"`
	StageOrder           []StageName                `json:"stage_order"`
	Stages               map[StageName]StageResult  `json:"stages"`
	RulesetMetadata      RulesetMetadata            `json:"ruleset_metadata"`
	APIConfiguration     APIConfiguration           `json:"api_configuration"`
}

func (r Report) MarshalJSON() ([]byte, error) {
	stages := r.Stages
	if stages == nil {
		stages = map[StageName]StageResult{}
	}
	return json.Marshal(reportJSON{
		ValidationID:         r.ValidationID,
		DatasetID:            r.DatasetID,
		Timestamp:            r.Timestamp,
		FinalDecision:        r.FinalDecision,
		Rationale:            r.Rationale,
		RequiresHumanReview:  r.RequiresHumanReview,
		ExecutionTimeSeconds: r.ExecutionTimeSeconds,
		ShortCircuited:       r.ShortCircuited,
		StageOrder:           r.StageOrder,
		Stages:               stages,
		RulesetMetadata:      r.RulesetMetadata,
		APIConfiguration:     r.APIConfiguration,
	})
}

func (r *Report) UnmarshalJSON(data []byte) error {
	var dto reportJSON
	if err := json.Unmarshal(data, &dto); err != nil {
		return err
	}
	*r = Report{
		ValidationID:         dto.ValidationID,
		DatasetID:            dto.DatasetID,
		Timestamp:            dto.Timestamp,
		FinalDecision:        dto.FinalDecision,
		Rationale:            dto.Rationale,
		RequiresHumanReview:  dto.RequiresHumanReview,
		ExecutionTimeSeconds: dto.ExecutionTimeSeconds,
		ShortCircuited:       dto.ShortCircuited,
		StageOrder:           dto.StageOrder,
		Stages:               dto.Stages,
		RulesetMetadata:      dto.RulesetMetadata,
		APIConfiguration:     dto.APIConfiguration,
	}
	return nil
}
