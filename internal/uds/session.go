package uds

import (
	"encoding/binary"
	"fmt"
)

var sessionNames = map[byte]string{
	0x01: "Default Diagnostic",
	0x02: "Programming",
	0x03: "Extended Diagnostic",
	0x04: "Safety System Diagnostic",
	0x40: "End Of Line",
	0x60: "Development",
}

// SessionTiming is the P2/P2* timing returned by a positive session-control response.
type SessionTiming struct {
	P2Ms     int
	P2StarMs int
}

// SessionName returns the session type name, or "Session 0x.." when unknown.
func SessionName(sessionType byte) string {
	if name, ok := sessionNames[sessionType&0x7F]; ok {
		return name
	}
	return fmt.Sprintf("Session 0x%02X", sessionType)
}

// DecodeSessionTiming reads P2 (ms) and P2* (10 ms units) from a 0x50 response payload.
func DecodeSessionTiming(payload []byte) (SessionTiming, bool) {
	if len(payload) < 6 || payload[0] != PositiveResponseID(SIDDiagnosticSessionControl) {
		return SessionTiming{}, false
	}
	return SessionTiming{
		P2Ms:     int(binary.BigEndian.Uint16(payload[2:4])),
		P2StarMs: int(binary.BigEndian.Uint16(payload[4:6])) * 10,
	}, true
}

func decodeSession(payload []byte, response bool) (string, string) {
	if len(payload) < 2 {
		if response {
			return "Session Active", "Diagnostic session control response without session type"
		}
		return "Diagnostic Session Control", "Diagnostic session control request without session type"
	}
	name := SessionName(payload[1])
	if !response {
		label := "Request " + name + " Session"
		if payload[1]&0x80 != 0 {
			return label, label + " (suppress positive response)"
		}
		return label, label
	}
	label := name + " Session Active"
	if t, ok := DecodeSessionTiming(payload); ok {
		return label, fmt.Sprintf("%s (P2=%dms, P2*=%dms)", label, t.P2Ms, t.P2StarMs)
	}
	return label, label
}
