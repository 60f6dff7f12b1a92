package uds

import (
	"encoding/binary"
	"fmt"

	"github.com/yourorg/diagflow/pkg/types"
)

// Routine control types.
const (
	RoutineStart          byte = 0x01
	RoutineStop           byte = 0x02
	RoutineRequestResults byte = 0x03
)

var routineActions = map[byte]string{
	RoutineStart:          "Start",
	RoutineStop:           "Stop",
	RoutineRequestResults: "Request Results",
}

var routineNames = map[uint16]string{
	0x0200: "Check Programming Preconditions",
	0x0201: "Check Memory",
	0x0202: "Check Programming Dependencies",
	0x0203: "Check Valid Application",
	0x0300: "Self Test",
	0xDD02: "Read DTC Scan",
	0xFF00: "Erase Memory",
	0xFF01: "Check Programming Dependencies",
	0xFF02: "Erase Mirror Memory DTCs",
	0xFF03: "Check Programming Preconditions",
}

// RoutineActionName names a routine control type.
func RoutineActionName(controlType byte) string {
	if name, ok := routineActions[controlType&0x7F]; ok {
		return name
	}
	return fmt.Sprintf("Control 0x%02X", controlType)
}

// RoutineName returns the known name of a routine identifier, or "Routine 0x....".
func RoutineName(id uint16) string {
	if name, ok := routineNames[id]; ok {
		return name
	}
	return fmt.Sprintf("Routine 0x%04X", id)
}

// IsKnownRoutine reports whether id is in the routine table.
func IsKnownRoutine(id uint16) bool {
	_, ok := routineNames[id]
	return ok
}

// RoutineID reads the control type and routine identifier of a 0x31 request or 0x71 response.
func RoutineID(payload []byte) (controlType byte, id uint16, ok bool) {
	if len(payload) < 4 {
		return 0, 0, false
	}
	return payload[1], binary.BigEndian.Uint16(payload[2:4]), true
}

// DecodeRoutineResult builds the result of a positive 0x71 response.
func DecodeRoutineResult(payload []byte) (types.RoutineResult, bool) {
	if len(payload) == 0 || payload[0] != PositiveResponseID(SIDRoutineControl) {
		return types.RoutineResult{}, false
	}
	ct, id, ok := RoutineID(payload)
	if !ok {
		return types.RoutineResult{}, false
	}
	r := types.RoutineResult{
		RoutineID: fmt.Sprintf("%04X", id),
		Name:      RoutineName(id),
		Action:    RoutineActionName(ct),
	}
	if len(payload) > 4 {
		r.Status = fmt.Sprintf("%X", payload[4:])
	}
	return r, true
}

func decodeRoutine(payload []byte, response bool) (string, string) {
	ct, id, ok := RoutineID(payload)
	if !ok {
		return ServiceName(SIDRoutineControl), ServiceName(SIDRoutineControl) + " without routine identifier"
	}
	label := fmt.Sprintf("%s %s", RoutineActionName(ct), RoutineName(id))
	desc := fmt.Sprintf("%s (0x%04X)", label, id)
	if response {
		desc += " accepted"
		if len(payload) > 4 {
			desc += fmt.Sprintf(": %X", payload[4:])
		}
	}
	return label, desc
}
