package filter

import (
	"testing"

	"github.com/yourorg/diagflow/pkg/types"
)

func TestSanitizeDIDValues(t *testing.T) {
	cfg := SanitizeConfig{
		DIDs:        []string{"F190", "0xF18C"},
		Replacement: "2A",
	}
	msgs := []types.TraceMessage{
		{Payload: "22F190"},
		{Payload: "62F190575657"},
		{Payload: "62F18C0102"},
		{Payload: "62F187414243"},
		{Payload: "2EF1904142"},
		{MetaKey: "vin", MetaValue: "WVW"},
	}

	out := Sanitize(msgs, cfg)
	if out[0].Payload != "22F190" {
		t.Fatalf("expected request unchanged, got %s", out[0].Payload)
	}
	if out[1].Payload != "62F1902A2A2A" {
		t.Fatalf("expected vin redacted, got %s", out[1].Payload)
	}
	if out[2].Payload != "62F18C2A2A" {
		t.Fatalf("expected serial redacted, got %s", out[2].Payload)
	}
	if out[3].Payload != "62F187414243" {
		t.Fatalf("expected part number unchanged, got %s", out[3].Payload)
	}
	if out[4].Payload != "2EF1902A2A" {
		t.Fatalf("expected write request redacted, got %s", out[4].Payload)
	}
	if out[5].MetaValue != "***" {
		t.Fatalf("expected vin metadata redacted, got %s", out[5].MetaValue)
	}
	if msgs[1].Payload != "62F190575657" {
		t.Fatalf("input must not be mutated")
	}
}

func TestSanitizeNoDIDsIsIdentity(t *testing.T) {
	msgs := []types.TraceMessage{{Payload: "62F190575657"}}
	out := Sanitize(msgs, SanitizeConfig{Replacement: "00"})
	if out[0].Payload != msgs[0].Payload {
		t.Fatalf("expected unchanged payload")
	}
}
