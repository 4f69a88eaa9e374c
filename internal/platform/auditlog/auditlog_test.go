package auditlog

import (
	"net"
	"testing"
	"time"
)

func TestComputeIntegritySHA256_Deterministic(t *testing.T) {
	occurredAt := time.Unix(1700000000, 0).UTC()
	event := Event{
		OccurredAt:    occurredAt,
		Kind:          KindValidationCompleted,
		Actor:         "alice",
		ValidationID:  "val-123",
		DatasetID:     "ds-456",
		FinalDecision: "accept",
		RequestID:     "req-123",
		IP:            net.ParseIP("192.0.2.1"),
		UserAgent:     "test-agent",
	}
	detailJSON := []byte(`{"a":1,"b":"x"}`)

	a, err := ComputeIntegritySHA256(event, detailJSON)
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	b, err := ComputeIntegritySHA256(event, detailJSON)
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if a != b {
		t.Fatalf("integrity mismatch: %q vs %q", a, b)
	}
}

func TestComputeIntegritySHA256_ChangesOnDetail(t *testing.T) {
	occurredAt := time.Unix(1700000000, 0).UTC()
	event := Event{
		OccurredAt: occurredAt,
		Kind:       KindAuthDenied,
		Actor:      "alice",
		DenyReason: "forbidden",
		DenyMethod: "GET",
		DenyPath:   "/validations",
	}

	a, err := ComputeIntegritySHA256(event, []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	b, err := ComputeIntegritySHA256(event, []byte(`{"a":2}`))
	if err != nil {
		t.Fatalf("ComputeIntegritySHA256() err=%v", err)
	}
	if a == b {
		t.Fatalf("expected integrity to differ")
	}
}

func TestEvent_ValidateRequiresKindFields(t *testing.T) {
	base := Event{OccurredAt: time.Now().UTC(), Actor: "alice"}

	completed := base
	completed.Kind = KindValidationCompleted
	if err := completed.Validate(); err == nil {
		t.Fatalf("expected error for validation_completed event missing validation_id/final_decision")
	}
	completed.ValidationID = "val-1"
	completed.FinalDecision = "accept"
	if err := completed.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	denied := base
	denied.Kind = KindAuthDenied
	if err := denied.Validate(); err == nil {
		t.Fatalf("expected error for auth_denied event missing deny_reason")
	}
	denied.DenyReason = "forbidden"
	if err := denied.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
}
