package filter

import (
	"testing"

	"github.com/yourorg/diagflow/pkg/types"
)

func TestApplyFiltersBasic(t *testing.T) {
	cfg := FilterConfig{
		IgnoreProtocols: []string{"udp"},
		IgnoreAddresses: []string{"0e00"},
	}
	msgs := []types.TraceMessage{
		{LineNumber: 1, Protocol: "UDP", SourceAddress: "0E80", TargetAddress: "0010", Payload: "1003"},
		{LineNumber: 2, Protocol: "DoIP", SourceAddress: "0E00", TargetAddress: "0010", Payload: "1003"},
		{LineNumber: 3, Protocol: "DoIP", MetaKey: "vin", MetaValue: "X"},
		{LineNumber: 4, Protocol: "DoIP", SourceAddress: "0E80", TargetAddress: "0010", Payload: "22F190"},
	}

	out := Apply(msgs, cfg)
	if len(out) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(out))
	}
	if out[0].LineNumber != 3 || out[1].LineNumber != 4 {
		t.Fatalf("unexpected order or content: %+v", out)
	}
}

func TestApplyCollapseTesterPresent(t *testing.T) {
	cfg := FilterConfig{CollapseTesterPresent: true}
	msgs := []types.TraceMessage{
		{LineNumber: 1, SourceAddress: "0E80", TargetAddress: "0010", Payload: "3E00"},
		{LineNumber: 2, SourceAddress: "0010", TargetAddress: "0E80", Payload: "7E00"},
		{LineNumber: 3, SourceAddress: "0E80", TargetAddress: "0010", Payload: "3E00"},
		{LineNumber: 4, SourceAddress: "0010", TargetAddress: "0E80", Payload: "7E00"},
		{LineNumber: 5, SourceAddress: "0E80", TargetAddress: "0020", Payload: "3E80"},
		{LineNumber: 6, SourceAddress: "0E80", TargetAddress: "0010", Payload: "22F190"},
		{LineNumber: 7, SourceAddress: "0E80", TargetAddress: "0010", Payload: "3E00"},
	}

	out := Apply(msgs, cfg)
	var lines []int
	for _, m := range out {
		lines = append(lines, m.LineNumber)
	}
	want := []int{1, 2, 5, 6, 7}
	if len(lines) != len(want) {
		t.Fatalf("expected lines %v, got %v", want, lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("expected lines %v, got %v", want, lines)
		}
	}
}

func TestApplyWithoutCollapseKeepsTesterPresent(t *testing.T) {
	msgs := []types.TraceMessage{
		{LineNumber: 1, TargetAddress: "0010", Payload: "3E00"},
		{LineNumber: 2, TargetAddress: "0010", Payload: "3E00"},
	}
	if out := Apply(msgs, FilterConfig{}); len(out) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(out))
	}
}
