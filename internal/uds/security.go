package uds

import (
	"fmt"
	"strings"
)

// SecurityStep is a decoded security-access sub-function.
type SecurityStep struct {
	Level       int
	SeedRequest bool
}

// DecodeSecurityLevel derives the security level from a 0x27 sub-function: odd values are
// seed requests at level (n+1)/2, even values are key sends at level n/2.
func DecodeSecurityLevel(sub byte) (SecurityStep, bool) {
	n := int(sub & 0x7F)
	if n == 0 || n == 0x7F {
		return SecurityStep{}, false
	}
	if n%2 == 1 {
		return SecurityStep{Level: (n + 1) / 2, SeedRequest: true}, true
	}
	return SecurityStep{Level: n / 2}, true
}

func decodeSecurity(payload []byte, response bool) (string, string) {
	if len(payload) < 2 {
		return "Security Access", "Security access without sub-function"
	}
	step, ok := DecodeSecurityLevel(payload[1])
	if !ok {
		return "Security Access", fmt.Sprintf("Security access with reserved sub-function 0x%02X", payload[1])
	}
	var label string
	switch {
	case step.SeedRequest && !response:
		label = fmt.Sprintf("Request Seed (Level %d)", step.Level)
	case step.SeedRequest && response:
		label = fmt.Sprintf("Seed Received (Level %d)", step.Level)
	case !response:
		label = fmt.Sprintf("Send Key (Level %d)", step.Level)
	default:
		label = fmt.Sprintf("Security Access Granted (Level %d)", step.Level)
	}
	if len(payload) > 2 {
		return label, fmt.Sprintf("%s: %s", label, strings.ToUpper(fmt.Sprintf("%x", payload[2:])))
	}
	return label, label
}
