package procedure

import (
	"github.com/yourorg/diagflow/internal/uds"
	"github.com/yourorg/diagflow/pkg/types"
)

// Extract pulls structured data out of one positive response payload. phase tags any DTCs.
func Extract(payload []byte, phase string) types.ExtractedData {
	var d types.ExtractedData
	if len(payload) == 0 {
		return d
	}
	switch payload[0] {
	case uds.PositiveResponseID(uds.SIDDiagnosticSessionControl):
		if len(payload) >= 2 {
			d.SessionType = uds.SessionName(payload[1])
		}
		if t, ok := uds.DecodeSessionTiming(payload); ok {
			d.P2Ms = t.P2Ms
			d.P2StarMs = t.P2StarMs
		}
	case uds.PositiveResponseID(uds.SIDSecurityAccess):
		if len(payload) >= 2 {
			if step, ok := uds.DecodeSecurityLevel(payload[1]); ok {
				d.SecurityLevel = step.Level
			}
		}
	case uds.PositiveResponseID(uds.SIDReadDataByIdentifier):
		did, data, ok := uds.ResponseDID(payload)
		if !ok {
			return d
		}
		v := uds.DecodeDIDValue(did, data)
		d.DataIdentifiers = map[string]types.DIDValue{v.DID: v}
		if uds.IsPartNumberDID(did) {
			if v.Text != "" {
				d.PartNumbers = append(d.PartNumbers, v.Text)
			} else if v.Raw != "" {
				d.PartNumbers = append(d.PartNumbers, v.Raw)
			}
		}
	case uds.PositiveResponseID(uds.SIDReadDTCInformation):
		d.DTCPhase = phase
		d.DTCs = uds.DecodeDTCResponse(payload, phase)
	case uds.PositiveResponseID(uds.SIDClearDiagnosticInfo):
		d.DTCsCleared = true
	case uds.PositiveResponseID(uds.SIDRoutineControl):
		if r, ok := uds.DecodeRoutineResult(payload); ok {
			d.RoutineResults = append(d.RoutineResults, r)
		}
	}
	return d
}
