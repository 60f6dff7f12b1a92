// Package uds decodes UDS (ISO 14229) and OBD service payloads into readable labels.
//
// All reference tables in this package are unexported and only read after package
// initialisation; callers go through the lookup functions.
package uds

import (
	"fmt"
	"slices"
)

// Service identifiers used by the rest of the module.
const (
	SIDDiagnosticSessionControl byte = 0x10
	SIDECUReset                 byte = 0x11
	SIDClearDiagnosticInfo      byte = 0x14
	SIDReadDTCInformation       byte = 0x19
	SIDReadDataByIdentifier     byte = 0x22
	SIDReadMemoryByAddress      byte = 0x23
	SIDSecurityAccess           byte = 0x27
	SIDCommunicationControl     byte = 0x28
	SIDAuthentication           byte = 0x29
	SIDWriteDataByIdentifier    byte = 0x2E
	SIDInputOutputControl       byte = 0x2F
	SIDRoutineControl           byte = 0x31
	SIDTesterPresent            byte = 0x3E
	SIDControlDTCSetting        byte = 0x85
	SIDNegativeResponse         byte = 0x7F
)

const positiveResponseOffset byte = 0x40

var serviceNames = map[byte]string{
	// OBD (SAE J1979) modes
	0x01: "Show Current Data",
	0x02: "Show Freeze Frame Data",
	0x03: "Show Stored DTCs",
	0x04: "Clear DTCs And Stored Values",
	0x07: "Show Pending DTCs",
	0x09: "Request Vehicle Information",
	0x0A: "Show Permanent DTCs",
	// UDS (ISO 14229-1)
	0x10: "Diagnostic Session Control",
	0x11: "ECU Reset",
	0x14: "Clear Diagnostic Information",
	0x19: "Read DTC Information",
	0x22: "Read Data By Identifier",
	0x23: "Read Memory By Address",
	0x24: "Read Scaling Data By Identifier",
	0x27: "Security Access",
	0x28: "Communication Control",
	0x29: "Authentication",
	0x2A: "Read Data By Periodic Identifier",
	0x2C: "Dynamically Define Data Identifier",
	0x2E: "Write Data By Identifier",
	0x2F: "Input Output Control By Identifier",
	0x31: "Routine Control",
	0x34: "Request Download",
	0x35: "Request Upload",
	0x36: "Transfer Data",
	0x37: "Request Transfer Exit",
	0x38: "Request File Transfer",
	0x3D: "Write Memory By Address",
	0x3E: "Tester Present",
	0x83: "Access Timing Parameter",
	0x84: "Secured Data Transmission",
	0x85: "Control DTC Setting",
	0x86: "Response On Event",
	0x87: "Link Control",
}

var ecuResetTypes = map[byte]string{
	0x01: "Hard Reset",
	0x02: "Key Off On Reset",
	0x03: "Soft Reset",
	0x04: "Enable Rapid Power Shutdown",
	0x05: "Disable Rapid Power Shutdown",
}

var communicationControlTypes = map[byte]string{
	0x00: "Enable Rx And Tx",
	0x01: "Enable Rx And Disable Tx",
	0x02: "Disable Rx And Enable Tx",
	0x03: "Disable Rx And Tx",
}

var dtcSettingTypes = map[byte]string{
	0x01: "DTC Setting On",
	0x02: "DTC Setting Off",
}

// ServiceName returns the name of a request service id, or the generic "Service 0x.." form.
func ServiceName(sid byte) string {
	if name, ok := serviceNames[sid]; ok {
		return name
	}
	return fmt.Sprintf("Service 0x%02X", sid)
}

// IsKnownService reports whether sid is a request service in the reference table.
func IsKnownService(sid byte) bool {
	_, ok := serviceNames[sid]
	return ok
}

// IsPositiveResponse reports whether b is the positive response id of a known service.
func IsPositiveResponse(b byte) bool {
	if b < positiveResponseOffset {
		return false
	}
	_, ok := serviceNames[b-positiveResponseOffset]
	return ok
}

// PositiveResponseID returns the positive response id for a request service.
func PositiveResponseID(sid byte) byte {
	return sid + positiveResponseOffset
}

// RequestService maps any first payload byte to the request service it belongs to.
// For a negative response the rejected service is returned when present.
func RequestService(payload []byte) (sid byte, response bool, ok bool) {
	if len(payload) == 0 {
		return 0, false, false
	}
	b := payload[0]
	switch {
	case b == SIDNegativeResponse:
		if len(payload) < 2 {
			return 0, true, false
		}
		return payload[1], true, true
	case IsKnownService(b):
		return b, false, true
	case IsPositiveResponse(b):
		return b - positiveResponseOffset, true, true
	}
	return b, false, false
}

// KnownServices returns the request service ids of the reference table.
func KnownServices() []byte {
	out := make([]byte, 0, len(serviceNames))
	for sid := range serviceNames {
		out = append(out, sid)
	}
	slices.Sort(out)
	return out
}
