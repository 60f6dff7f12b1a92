package uds

import (
	"encoding/hex"
	"fmt"

	"github.com/yourorg/diagflow/pkg/types"
)

// Result kinds.
const (
	KindRequest  = "request"
	KindPositive = "positive"
	KindNegative = "negative"
	KindUnknown  = "unknown"
)

// Result is the readable view of one UDS message.
type Result struct {
	Service      byte   `json:"service"`
	Kind         string `json:"kind"`
	ServiceLabel string `json:"service_label"`
	Label        string `json:"label"`
	Description  string `json:"description"`
	NRC          byte   `json:"nrc,omitempty"`
}

// Decode describes the message made of the service byte followed by data. It has no side
// effects and never fails: unknown codes degrade to generic labels.
func Decode(service byte, data []byte) Result {
	payload := make([]byte, 0, len(data)+1)
	payload = append(payload, service)
	payload = append(payload, data...)
	return decodePayload(payload)
}

// DecodeHex is Decode for a hex string holding the whole message, service byte first.
func DecodeHex(s string) Result {
	s = types.NormalizeHex(s)
	if len(s)%2 == 1 {
		s = s[:len(s)-1]
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) == 0 {
		return Result{Kind: KindUnknown, ServiceLabel: "Invalid payload", Label: "Invalid payload", Description: "Payload is not a hex byte sequence"}
	}
	return Decode(b[0], b[1:])
}

// DecodeMessage decodes the payload of a parsed trace frame.
func DecodeMessage(m types.TraceMessage) Result {
	return DecodeHex(m.Payload)
}

func decodePayload(payload []byte) Result {
	first := payload[0]
	if first == SIDNegativeResponse {
		if len(payload) < 3 {
			return Result{
				Service:      first,
				Kind:         KindNegative,
				ServiceLabel: "Negative Response",
				Label:        "Negative Response",
				Description:  "Truncated negative response",
			}
		}
		desc := NegativeResponseLabel(payload[1], payload[2])
		return Result{
			Service:      payload[1],
			Kind:         KindNegative,
			ServiceLabel: ServiceName(payload[1]),
			Label:        NRCDescription(payload[2]),
			Description:  desc,
			NRC:          payload[2],
		}
	}

	sid, response, ok := RequestService(payload)
	if !ok {
		name := ServiceName(first)
		return Result{Service: first, Kind: KindUnknown, ServiceLabel: name, Label: name, Description: name}
	}
	r := Result{Service: sid, Kind: KindRequest, ServiceLabel: ServiceName(sid)}
	if response {
		r.Kind = KindPositive
	}
	r.Label, r.Description = describe(sid, payload, response)
	return r
}

func describe(sid byte, payload []byte, response bool) (string, string) {
	switch sid {
	case SIDDiagnosticSessionControl:
		return decodeSession(payload, response)
	case SIDSecurityAccess:
		return decodeSecurity(payload, response)
	case SIDReadDataByIdentifier, SIDWriteDataByIdentifier, SIDInputOutputControl:
		return decodeDataByIdentifier(sid, payload, response)
	case SIDReadDTCInformation:
		return decodeReadDTC(payload, response)
	case SIDClearDiagnosticInfo:
		return decodeClearDTC(payload, response)
	case SIDControlDTCSetting:
		return decodeControlDTCSetting(payload, response)
	case SIDRoutineControl:
		return decodeRoutine(payload, response)
	case SIDECUReset:
		return decodeSubFunction(sid, payload, response, ecuResetTypes)
	case SIDCommunicationControl:
		return decodeSubFunction(sid, payload, response, communicationControlTypes)
	case SIDTesterPresent:
		if len(payload) >= 2 && payload[1]&0x80 != 0 {
			return "Tester Present", "Tester Present (suppress positive response)"
		}
		if response {
			return "Tester Present", "Tester Present acknowledged"
		}
		return "Tester Present", "Tester Present"
	}
	name := ServiceName(sid)
	if response {
		return name + " Response", fmt.Sprintf("%s Response: %X", name, payload[1:])
	}
	if len(payload) > 1 {
		return name, fmt.Sprintf("%s: %X", name, payload[1:])
	}
	return name, name
}

func decodeSubFunction(sid byte, payload []byte, response bool, table map[byte]string) (string, string) {
	name := ServiceName(sid)
	if len(payload) < 2 {
		return name, name
	}
	sub, ok := table[payload[1]&0x7F]
	if !ok {
		sub = fmt.Sprintf("0x%02X", payload[1])
	}
	label := fmt.Sprintf("%s: %s", name, sub)
	if response {
		return label, label + " confirmed"
	}
	return label, label
}
