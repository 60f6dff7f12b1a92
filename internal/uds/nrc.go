package uds

import "fmt"

// NRCResponsePending is the "request correctly received, response pending" code.
const NRCResponsePending byte = 0x78

var nrcDescriptions = map[byte]string{
	0x10: "General reject",
	0x11: "Service not supported",
	0x12: "Sub-function not supported",
	0x13: "Incorrect message length or invalid format",
	0x14: "Response too long",
	0x21: "Busy repeat request",
	0x22: "Conditions not correct",
	0x24: "Request sequence error",
	0x25: "No response from subnet component",
	0x26: "Failure prevents execution of requested action",
	0x31: "Request sequence error",
	0x33: "Security access denied",
	0x34: "Authentication required",
	0x35: "Invalid key",
	0x36: "Exceeded number of attempts",
	0x37: "Required time delay not expired",
	0x70: "Upload download not accepted",
	0x71: "Transfer data suspended",
	0x72: "General programming failure",
	0x73: "Wrong block sequence counter",
	0x78: "Request correctly received - response pending",
	0x7E: "Sub-function not supported in active session",
	0x7F: "Service not supported in active session",
	0x81: "RPM too high",
	0x82: "RPM too low",
	0x83: "Engine is running",
	0x84: "Engine is not running",
	0x85: "Engine run time too low",
	0x86: "Temperature too high",
	0x87: "Temperature too low",
	0x88: "Vehicle speed too high",
	0x89: "Vehicle speed too low",
	0x8A: "Throttle/pedal too high",
	0x8B: "Throttle/pedal too low",
	0x8C: "Transmission range not in neutral",
	0x8D: "Transmission range not in gear",
	0x8F: "Brake switch(es) not closed",
	0x90: "Shifter lever not in park",
	0x91: "Torque converter clutch locked",
	0x92: "Voltage too high",
	0x93: "Voltage too low",
}

// NRCDescription returns the text of a negative response code.
func NRCDescription(nrc byte) string {
	if d, ok := nrcDescriptions[nrc]; ok {
		return d
	}
	return fmt.Sprintf("Unknown NRC 0x%02X", nrc)
}

// IsKnownNRC reports whether nrc is in the reference table.
func IsKnownNRC(nrc byte) bool {
	_, ok := nrcDescriptions[nrc]
	return ok
}

// NegativeResponseLabel composes the label of a 0x7F response.
func NegativeResponseLabel(rejected, nrc byte) string {
	return fmt.Sprintf("Negative Response to %s: %s", ServiceName(rejected), NRCDescription(nrc))
}
