package uds

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/yourorg/diagflow/pkg/types"
)

// DID range classes.
const (
	RangeManufacturerDD = "Manufacturer Range"
	RangeNetworkConfig  = "Network Configuration"
	RangeISOStandard    = "ISO Standard"
	RangeODXFile        = "ODX File Specific"
	RangeManufacturer   = "Manufacturer Specific"
	RangeReserved       = "Reserved"
)

const printableTextMinRatio = 0.5

var didNames = map[uint16]string{
	0xF180: "Boot Software Identification",
	0xF181: "Application Software Identification",
	0xF182: "Application Data Identification",
	0xF183: "Boot Software Fingerprint",
	0xF184: "Application Software Fingerprint",
	0xF185: "Application Data Fingerprint",
	0xF186: "Active Diagnostic Session",
	0xF187: "Manufacturer Spare Part Number",
	0xF188: "Manufacturer ECU Software Number",
	0xF189: "Manufacturer ECU Software Version",
	0xF18A: "System Supplier Identifier",
	0xF18B: "ECU Manufacturing Date",
	0xF18C: "ECU Serial Number",
	0xF18D: "Supported Functional Units",
	0xF18E: "Manufacturer Kit Assembly Part Number",
	0xF190: "VIN",
	0xF191: "Manufacturer ECU Hardware Number",
	0xF192: "System Supplier ECU Hardware Number",
	0xF193: "System Supplier ECU Hardware Version",
	0xF194: "System Supplier ECU Software Number",
	0xF195: "System Supplier ECU Software Version",
	0xF196: "Exhaust Regulation Type Approval Number",
	0xF197: "System Name Or Engine Type",
	0xF198: "Repair Shop Code Or Tester Serial Number",
	0xF199: "Programming Date",
	0xF19A: "Calibration Repair Shop Code",
	0xF19B: "Calibration Date",
	0xF19C: "Calibration Equipment Software Number",
	0xF19D: "ECU Installation Date",
	0xF19E: "ODX File",
	0xF19F: "Entity",
	0xF110: "Diagnostic Specification Version",
	0xF111: "ECU Core Assembly Number",
	0xF113: "ECU Delivery Assembly Number",
	0xF120: "Software Module Information",
	0xF124: "Calibration Identification",
	0xF125: "Calibration Verification Number",
	0xF150: "Software Version Identifier",
	0xF15B: "Fingerprint",
	0xF1A0: "Hardware Part Number",
	0xF1A1: "Software Part Number",
}

var partNumberDIDs = map[uint16]bool{
	0xF187: true,
	0xF188: true,
	0xF18E: true,
	0xF191: true,
	0xF192: true,
	0xF194: true,
	0xF111: true,
	0xF113: true,
	0xF1A0: true,
	0xF1A1: true,
}

// DIDName returns the standard name of a DID, or "DID 0x...." when it is not in the table.
func DIDName(did uint16) string {
	if name, ok := didNames[did]; ok {
		return name
	}
	return fmt.Sprintf("DID 0x%04X", did)
}

// IsKnownDID reports whether did is in the standard name table.
func IsKnownDID(did uint16) bool {
	_, ok := didNames[did]
	return ok
}

// IsPartNumberDID reports whether a DID carries a part or hardware/software number.
func IsPartNumberDID(did uint16) bool {
	return partNumberDIDs[did]
}

// DIDRange classifies a DID. The 0xDD.. manufacturer range is checked before the generic
// manufacturer-specific range it falls inside.
func DIDRange(did uint16) string {
	switch {
	case did >= 0xDD00 && did <= 0xDDFF:
		return RangeManufacturerDD
	case did >= 0xF000 && did <= 0xF0FF:
		return RangeNetworkConfig
	case did >= 0xF100 && did <= 0xF1FF:
		return RangeISOStandard
	case did >= 0xF200 && did <= 0xF2FF:
		return RangeODXFile
	case did >= 0xF400 && did <= 0xF4FF, did < 0xF000:
		return RangeManufacturer
	}
	return RangeReserved
}

// LooksLikeText reports whether at least half of b is printable ASCII.
func LooksLikeText(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	printable := 0
	for _, c := range b {
		if c >= 0x20 && c <= 0x7E {
			printable++
		}
	}
	return float64(printable)/float64(len(b)) >= printableTextMinRatio
}

// AsciiText keeps the printable bytes of b and trims padding.
func AsciiText(b []byte) string {
	var sb strings.Builder
	for _, c := range b {
		if c >= 0x20 && c <= 0x7E {
			sb.WriteByte(c)
		}
	}
	return strings.TrimSpace(sb.String())
}

// DecodeDIDValue builds the decoded value of one DID read.
func DecodeDIDValue(did uint16, data []byte) types.DIDValue {
	v := types.DIDValue{
		DID:   fmt.Sprintf("%04X", did),
		Name:  DIDName(did),
		Range: DIDRange(did),
		Raw:   fmt.Sprintf("%X", data),
	}
	if LooksLikeText(data) {
		v.Text = AsciiText(data)
	}
	return v
}

// RequestedDIDs lists the DIDs of a 0x22 request.
func RequestedDIDs(payload []byte) []uint16 {
	if len(payload) < 3 {
		return nil
	}
	var out []uint16
	for i := 1; i+1 < len(payload); i += 2 {
		out = append(out, binary.BigEndian.Uint16(payload[i:i+2]))
	}
	return out
}

// ResponseDID splits a 0x62/0x6E response into its DID and the value bytes.
func ResponseDID(payload []byte) (uint16, []byte, bool) {
	if len(payload) < 3 {
		return 0, nil, false
	}
	return binary.BigEndian.Uint16(payload[1:3]), payload[3:], true
}

func decodeDataByIdentifier(sid byte, payload []byte, response bool) (string, string) {
	verb := "Read"
	if sid == SIDWriteDataByIdentifier {
		verb = "Write"
	} else if sid == SIDInputOutputControl {
		verb = "Control"
	}
	if response {
		did, data, ok := ResponseDID(payload)
		if !ok {
			return ServiceName(sid), ServiceName(sid) + " response without identifier"
		}
		label := fmt.Sprintf("%s %s", verb, DIDName(did))
		desc := fmt.Sprintf("%s (0x%04X, %s)", label, did, DIDRange(did))
		if len(data) > 0 {
			if LooksLikeText(data) {
				desc += fmt.Sprintf(": %q", AsciiText(data))
			} else {
				desc += fmt.Sprintf(": %X", data)
			}
		}
		return label, desc
	}
	dids := RequestedDIDs(payload)
	if sid != SIDReadDataByIdentifier && len(dids) > 1 {
		dids = dids[:1]
	}
	if len(dids) == 0 {
		return ServiceName(sid), ServiceName(sid) + " request without identifier"
	}
	names := make([]string, 0, len(dids))
	for _, did := range dids {
		names = append(names, fmt.Sprintf("%s (0x%04X)", DIDName(did), did))
	}
	label := fmt.Sprintf("%s %s", verb, DIDName(dids[0]))
	if len(dids) > 1 {
		label = fmt.Sprintf("%s %d Identifiers", verb, len(dids))
	}
	return label, verb + " " + strings.Join(names, ", ")
}
