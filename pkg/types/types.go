package types

import (
	"encoding/hex"
	"strings"
	"time"
)

// Job records one imported trace log.
type Job struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Source       string    `json:"source"`
	ScopeID      string    `json:"scope_id"`
	VIN          string    `json:"vin,omitempty"`
	MessageCount int       `json:"message_count"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Job statuses.
const (
	JobImported  = "imported"
	JobAnalyzing = "analyzing"
	JobAnalyzed  = "analyzed"
	JobFailed    = "failed"
)

// Direction is the travel direction of a trace frame as seen from the tester.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
	DirectionInternal Direction = "internal"
)

// TraceMessage is one parsed trace line. Values are copied, never mutated after parsing.
type TraceMessage struct {
	LineNumber    int       `json:"line_number"`
	Timestamp     string    `json:"timestamp"`
	TimestampMs   int64     `json:"timestamp_ms"`
	Direction     Direction `json:"direction"`
	Protocol      string    `json:"protocol"`
	MessageID     string    `json:"message_id,omitempty"`
	SourceAddress string    `json:"source_address,omitempty"`
	TargetAddress string    `json:"target_address,omitempty"`
	Payload       string    `json:"payload,omitempty"`
	MetaKey       string    `json:"meta_key,omitempty"`
	MetaValue     string    `json:"meta_value,omitempty"`
}

// IsMetadata reports whether the message came from a key/value metadata line.
func (m TraceMessage) IsMetadata() bool {
	return m.MetaKey != ""
}

// Bytes decodes the payload. A trailing odd nibble is dropped.
func (m TraceMessage) Bytes() []byte {
	p := m.Payload
	if len(p)%2 == 1 {
		p = p[:len(p)-1]
	}
	b, err := hex.DecodeString(p)
	if err != nil {
		return nil
	}
	return b
}

// ServiceByte returns the first payload byte.
func (m TraceMessage) ServiceByte() (byte, bool) {
	b := m.Bytes()
	if len(b) == 0 {
		return 0, false
	}
	return b[0], true
}

// NormalizeHex upper-cases a hex string and strips whitespace and an optional 0x prefix.
func NormalizeHex(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 1 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	return strings.ToUpper(strings.Join(strings.Fields(s), ""))
}
