package uds

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/yourorg/diagflow/pkg/types"
)

// Read DTC Information sub-functions handled by the record decoder.
const (
	DTCReportNumberByStatusMask byte = 0x01
	DTCReportByStatusMask       byte = 0x02
	DTCReportSnapshotByDTC      byte = 0x04
	DTCReportExtDataByDTC       byte = 0x06
	DTCReportSupported          byte = 0x0A
)

// ErrInvalidDisplayCode is returned by ParseDisplayCode.
var ErrInvalidDisplayCode = errors.New("invalid DTC display code")

var readDTCSubFunctions = map[byte]string{
	0x01: "Report Number Of DTC By Status Mask",
	0x02: "Report DTC By Status Mask",
	0x03: "Report DTC Snapshot Identification",
	0x04: "Report DTC Snapshot Record By DTC Number",
	0x05: "Report DTC Stored Data By Record Number",
	0x06: "Report DTC Ext Data Record By DTC Number",
	0x07: "Report Number Of DTC By Severity Mask Record",
	0x08: "Report DTC By Severity Mask Record",
	0x09: "Report Severity Information Of DTC",
	0x0A: "Report Supported DTC",
	0x0B: "Report First Test Failed DTC",
	0x0C: "Report First Confirmed DTC",
	0x0D: "Report Most Recent Test Failed DTC",
	0x0E: "Report Most Recent Confirmed DTC",
	0x14: "Report DTC Fault Detection Counter",
	0x15: "Report DTC With Permanent Status",
}

var dtcStatusBits = [8]string{
	"testFailed",
	"testFailedThisOperationCycle",
	"pendingDTC",
	"confirmedDTC",
	"testNotCompletedSinceLastClear",
	"testFailedSinceLastClear",
	"testNotCompletedThisOperationCycle",
	"warningIndicatorRequested",
}

var failureTypes = map[byte]string{
	0x00: "General failure / no sub-type",
	0x11: "Circuit short to ground",
	0x12: "Circuit short to battery/positive",
	0x13: "Circuit open",
	0x14: "Circuit short to ground or open",
	0x15: "Circuit short to battery or open",
	0x16: "Circuit voltage below threshold",
	0x17: "Circuit voltage above threshold",
	0x18: "Circuit current below threshold",
	0x19: "Circuit current above threshold",
	0x21: "Signal stuck low",
	0x22: "Signal stuck high",
	0x23: "Signal intermittent/erratic",
	0x28: "Signal implausible",
	0x29: "Signal invalid",
	0x62: "Actuator stuck",
	0x63: "Actuator stuck open",
	0x64: "Actuator stuck closed",
	0x71: "Mechanical failure",
	0x72: "Calibration/parameter not learned",
	0x73: "Performance/range issue",
	0x7A: "Module not configured / software incompatible",
	0x7F: "Security/component protection fault",
}

var dtcLetters = [4]byte{'P', 'C', 'B', 'U'}

var dtcCategories = map[byte]string{
	'P': "Powertrain",
	'C': "Chassis",
	'B': "Body",
	'U': "Network",
}

// Advisory only; the knowledge store holds the authoritative classification.
var dtcSeverities = map[byte]string{
	'P': "medium",
	'C': "high",
	'B': "low",
	'U': "medium",
}

// FormatDTC returns the 6-digit hex code of a 3-byte DTC. The all-0x00 and all-0xFF
// sentinels are not DTCs.
func FormatDTC(b []byte) (string, bool) {
	if len(b) < 3 {
		return "", false
	}
	if b[0] == 0x00 && b[1] == 0x00 && b[2] == 0x00 {
		return "", false
	}
	if b[0] == 0xFF && b[1] == 0xFF && b[2] == 0xFF {
		return "", false
	}
	return fmt.Sprintf("%02X%02X%02X", b[0], b[1], b[2]), true
}

// FormatDTCHex is FormatDTC for a hex string.
func FormatDTCHex(s string) (string, bool) {
	b, err := hex.DecodeString(types.NormalizeHex(s))
	if err != nil || len(b) != 3 {
		return "", false
	}
	return FormatDTC(b)
}

// DisplayCode renders a 3-byte DTC in SAE J2012 form, e.g. 01 23 45 -> "P0123-45".
func DisplayCode(b []byte) string {
	if len(b) < 3 {
		return ""
	}
	letter := dtcLetters[b[0]>>6]
	return fmt.Sprintf("%c%d%X%02X-%02X", letter, (b[0]>>4)&0x03, b[0]&0x0F, b[1], b[2])
}

// ParseDisplayCode is the inverse of DisplayCode. A missing failure-type suffix reads as 00.
func ParseDisplayCode(code string) ([]byte, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	base, fmi, _ := strings.Cut(code, "-")
	if fmi == "" {
		fmi = "00"
	}
	if len(base) != 5 || len(fmi) != 2 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDisplayCode, code)
	}
	letter := strings.IndexByte(string(dtcLetters[:]), base[0])
	if letter < 0 || base[1] < '0' || base[1] > '3' {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDisplayCode, code)
	}
	rest, err := hex.DecodeString("0" + base[2:] + fmi)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDisplayCode, code)
	}
	// rest holds 0x0N, 0xNN, 0xFF (nibble, two digits, failure type)
	b0 := byte(letter)<<6 | (base[1]-'0')<<4 | rest[0]
	return []byte{b0, rest[1], rest[2]}, nil
}

// DTCStatusFlags names the status bits that are set, lowest bit first.
func DTCStatusFlags(status byte) []string {
	var out []string
	for i, name := range dtcStatusBits {
		if status&(1<<i) != 0 {
			out = append(out, name)
		}
	}
	return out
}

// FailureTypeDescription returns the meaning of the failure-type byte, or "" when unknown.
func FailureTypeDescription(fmi byte) string {
	return failureTypes[fmi]
}

// DTCCategory returns the system family of a display code.
func DTCCategory(display string) string {
	if display == "" {
		return ""
	}
	return dtcCategories[display[0]]
}

// DTCSeverity returns the advisory severity of a display code.
func DTCSeverity(display string) string {
	if display == "" {
		return ""
	}
	return dtcSeverities[display[0]]
}

// ReadDTCSubFunctionName names a 0x19 sub-function.
func ReadDTCSubFunctionName(sub byte) string {
	if name, ok := readDTCSubFunctions[sub&0x7F]; ok {
		return name
	}
	return fmt.Sprintf("Sub-function 0x%02X", sub)
}

// ClearGroupName names a 0x14 group of DTC.
func ClearGroupName(group []byte) string {
	if len(group) < 3 {
		return "All Groups"
	}
	switch {
	case group[0] == 0xFF && group[1] == 0xFF && group[2] == 0xFF:
		return "All Groups"
	case group[0] == 0xFF && group[1] == 0xFF && group[2] == 0x33:
		return "Emissions-related Groups"
	}
	if code, ok := FormatDTC(group); ok {
		return fmt.Sprintf("DTC %s (%s)", code, DisplayCode(group))
	}
	return fmt.Sprintf("Group %02X%02X%02X", group[0], group[1], group[2])
}

// NewDTCRecord decodes one DTC and its status byte. ok is false for the sentinels.
func NewDTCRecord(code []byte, status byte, phase string) (types.DTCRecord, bool) {
	c, ok := FormatDTC(code)
	if !ok {
		return types.DTCRecord{}, false
	}
	return types.DTCRecord{
		Code:        c,
		DisplayCode: DisplayCode(code),
		Status:      status,
		StatusFlags: DTCStatusFlags(status),
		FailureType: FailureTypeDescription(code[2]),
		Phase:       phase,
	}, true
}

// DecodeDTCResponse extracts DTC records from a positive 0x59 response. Snapshot and
// extended-data responses yield a record carrying only the sub-record, keyed by code.
func DecodeDTCResponse(payload []byte, phase string) []types.DTCRecord {
	if len(payload) < 2 || payload[0] != PositiveResponseID(SIDReadDTCInformation) {
		return nil
	}
	switch payload[1] {
	case DTCReportByStatusMask, DTCReportSupported, 0x0F, 0x13, 0x15:
		// 59 sub availabilityMask (DTC[3] status)*
		var out []types.DTCRecord
		for i := 3; i+3 < len(payload); i += 4 {
			if rec, ok := NewDTCRecord(payload[i:i+3], payload[i+3], phase); ok {
				out = append(out, rec)
			}
		}
		return out
	case DTCReportSnapshotByDTC, DTCReportExtDataByDTC:
		// 59 sub DTC[3] status recordNumber data...
		if len(payload) < 7 {
			return nil
		}
		rec, ok := NewDTCRecord(payload[2:5], payload[5], phase)
		if !ok {
			return nil
		}
		sub := types.DTCSubRecord{RecordNumber: int(payload[6]), Data: fmt.Sprintf("%X", payload[7:])}
		if payload[1] == DTCReportSnapshotByDTC {
			rec.Snapshots = []types.DTCSubRecord{sub}
		} else {
			rec.Extended = []types.DTCSubRecord{sub}
		}
		return []types.DTCRecord{rec}
	}
	return nil
}

func decodeReadDTC(payload []byte, response bool) (string, string) {
	if len(payload) < 2 {
		return ServiceName(SIDReadDTCInformation), ServiceName(SIDReadDTCInformation) + " without sub-function"
	}
	label := ReadDTCSubFunctionName(payload[1])
	if !response {
		if len(payload) >= 3 && (payload[1] == DTCReportNumberByStatusMask || payload[1] == DTCReportByStatusMask) {
			return label, fmt.Sprintf("%s (mask 0x%02X)", label, payload[2])
		}
		return label, label
	}
	if payload[1] == DTCReportNumberByStatusMask && len(payload) >= 6 {
		return label, fmt.Sprintf("%s: %d DTCs", label, int(payload[4])<<8|int(payload[5]))
	}
	records := DecodeDTCResponse(payload, "")
	if len(records) == 0 {
		return label, label + ": no DTCs"
	}
	codes := make([]string, 0, len(records))
	for _, r := range records {
		codes = append(codes, r.DisplayCode)
	}
	return label, fmt.Sprintf("%s: %s", label, strings.Join(codes, ", "))
}

func decodeClearDTC(payload []byte, response bool) (string, string) {
	if response {
		return "DTCs Cleared", "Clear Diagnostic Information accepted"
	}
	group := ClearGroupName(payload[1:])
	return "Clear DTCs", "Clear DTCs: " + group
}

func decodeControlDTCSetting(payload []byte, response bool) (string, string) {
	if len(payload) < 2 {
		return ServiceName(SIDControlDTCSetting), ServiceName(SIDControlDTCSetting)
	}
	name, ok := dtcSettingTypes[payload[1]&0x7F]
	if !ok {
		name = fmt.Sprintf("DTC Setting 0x%02X", payload[1])
	}
	if response {
		return name, name + " confirmed"
	}
	return name, "Request " + name
}
