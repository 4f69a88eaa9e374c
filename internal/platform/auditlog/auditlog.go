// Package auditlog appends tamper-evident records of the two events this
// service cares about: a completed dataset validation and a denied HTTP
// request. Unlike a generic actor/resource/action log, each record carries
// the domain's own identifiers - validation_id, dataset_id, final_decision -
// as first-class columns rather than burying them in an opaque payload.
package auditlog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Kind identifies which of the two event shapes a record carries.
type Kind string

const (
	KindValidationCompleted Kind = "validation_completed"
	KindAuthDenied          Kind = "auth_denied"
)

// Event is one audit record. ValidationID/DatasetID/FinalDecision are
// populated for KindValidationCompleted; DenyReason/DenyStatus for
// KindAuthDenied. Detail carries whatever doesn't warrant its own column
// (roles attempted, the provider error string, and so on).
type Event struct {
	OccurredAt time.Time
	Kind       Kind
	Actor      string
	RequestID  string
	IP         net.IP
	UserAgent  string

	ValidationID  string
	DatasetID     string
	FinalDecision string

	DenyStatus int
	DenyReason string
	DenyMethod string
	DenyPath   string

	Detail map[string]any
}

type QueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (e Event) Validate() error {
	if e.OccurredAt.IsZero() {
		return errors.New("OccurredAt is required")
	}
	if strings.TrimSpace(e.Actor) == "" {
		return errors.New("Actor is required")
	}
	switch e.Kind {
	case KindValidationCompleted:
		if strings.TrimSpace(e.ValidationID) == "" {
			return errors.New("ValidationID is required for a validation_completed event")
		}
		if strings.TrimSpace(e.FinalDecision) == "" {
			return errors.New("FinalDecision is required for a validation_completed event")
		}
	case KindAuthDenied:
		if strings.TrimSpace(e.DenyReason) == "" {
			return errors.New("DenyReason is required for an auth_denied event")
		}
	default:
		return fmt.Errorf("unsupported audit event kind: %q", e.Kind)
	}
	return nil
}

// ValidationCompleted builds the audit event recorded once per POST
// /validations call: who ran it, which dataset, and the gating decision
// the policy engine reached.
func ValidationCompleted(actor, validationID, datasetID, finalDecision, requestID string) Event {
	return Event{
		Kind:          KindValidationCompleted,
		Actor:         actor,
		ValidationID:  validationID,
		DatasetID:     datasetID,
		FinalDecision: finalDecision,
		RequestID:     requestID,
	}
}

func Insert(ctx context.Context, q QueryRower, event Event) (int64, error) {
	if q == nil {
		return 0, errors.New("queryer is required")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := event.Validate(); err != nil {
		return 0, err
	}

	detail := event.Detail
	if detail == nil {
		detail = map[string]any{}
	}
	if event.Kind == KindAuthDenied {
		detail["status"] = event.DenyStatus
		detail["reason"] = event.DenyReason
		detail["method"] = event.DenyMethod
		detail["path"] = event.DenyPath
	}
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return 0, fmt.Errorf("marshal detail: %w", err)
	}

	ipStr := strings.TrimSpace(event.IP.String())
	integrity, err := ComputeIntegritySHA256(event, detailJSON)
	if err != nil {
		return 0, err
	}

	var requestID sql.NullString
	if strings.TrimSpace(event.RequestID) != "" {
		requestID = sql.NullString{String: strings.TrimSpace(event.RequestID), Valid: true}
	}
	var ip sql.NullString
	if ipStr != "" && ipStr != "<nil>" {
		ip = sql.NullString{String: ipStr, Valid: true}
	}
	var userAgent sql.NullString
	if strings.TrimSpace(event.UserAgent) != "" {
		userAgent = sql.NullString{String: strings.TrimSpace(event.UserAgent), Valid: true}
	}
	var validationID, datasetID, finalDecision sql.NullString
	if strings.TrimSpace(event.ValidationID) != "" {
		validationID = sql.NullString{String: strings.TrimSpace(event.ValidationID), Valid: true}
	}
	if strings.TrimSpace(event.DatasetID) != "" {
		datasetID = sql.NullString{String: strings.TrimSpace(event.DatasetID), Valid: true}
	}
	if strings.TrimSpace(event.FinalDecision) != "" {
		finalDecision = sql.NullString{String: strings.TrimSpace(event.FinalDecision), Valid: true}
	}

	var id int64
	err = q.QueryRowContext(
		ctx,
		`INSERT INTO audit_events (
			occurred_at,
			kind,
			actor,
			validation_id,
			dataset_id,
			final_decision,
			request_id,
			ip,
			user_agent,
			detail,
			integrity_sha256
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING event_id`,
		event.OccurredAt.UTC(),
		string(event.Kind),
		strings.TrimSpace(event.Actor),
		validationID,
		datasetID,
		finalDecision,
		requestID,
		ip,
		userAgent,
		detailJSON,
		integrity,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert audit event: %w", err)
	}
	return id, nil
}

// ComputeIntegritySHA256 hashes the event's fixed fields plus its detail
// blob, so a row edited after the fact no longer matches its stored digest.
func ComputeIntegritySHA256(event Event, detailJSON []byte) (string, error) {
	type integrityInput struct {
		OccurredAt    time.Time       `json:"occurred_at"`
		Kind          string          `json:"kind"`
		Actor         string          `json:"actor"`
		ValidationID  string          `json:"validation_id,omitempty"`
		DatasetID     string          `json:"dataset_id,omitempty"`
		FinalDecision string          `json:"final_decision,omitempty"`
		RequestID     string          `json:"request_id,omitempty"`
		IP            string          `json:"ip,omitempty"`
		UserAgent     string          `json:"user_agent,omitempty"`
		Detail        json.RawMessage `json:"detail"`
	}

	ipStr := strings.TrimSpace(event.IP.String())
	if ipStr == "<nil>" {
		ipStr = ""
	}

	in := integrityInput{
		OccurredAt:    event.OccurredAt.UTC(),
		Kind:          string(event.Kind),
		Actor:         strings.TrimSpace(event.Actor),
		ValidationID:  strings.TrimSpace(event.ValidationID),
		DatasetID:     strings.TrimSpace(event.DatasetID),
		FinalDecision: strings.TrimSpace(event.FinalDecision),
		RequestID:     strings.TrimSpace(event.RequestID),
		IP:            ipStr,
		UserAgent:     strings.TrimSpace(event.UserAgent),
		Detail:        detailJSON,
	}

	blob, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("marshal integrity: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}
