package discovery

import (
	"maps"
	"strings"

	"github.com/yourorg/diagflow/internal/uds"
	"github.com/yourorg/diagflow/pkg/types"
)

// OBD-II physical request and response identifiers (ISO 15765-4).
var obdECUNames = map[string]string{
	"7E0": "Engine Control Module",
	"7E1": "Transmission Control Module",
	"7E2": "Hybrid Control Module",
	"7E3": "Body Control Module",
	"7E4": "Battery Energy Control Module",
	"7E5": "Chassis Control Module",
	"7E8": "Engine Control Module",
	"7E9": "Transmission Control Module",
	"7EA": "Hybrid Control Module",
	"7EB": "Body Control Module",
	"7EC": "Battery Energy Control Module",
	"7ED": "Chassis Control Module",
}

// Reference answers whether an identifier is known. It is read-only after construction.
type Reference struct {
	ecus map[string]string
	dtcs map[string]string
}

// NewReference merges configured ECU and DTC names over the static tables. DTC keys may be
// 6-digit hex codes or display codes such as "P0123-45".
func NewReference(knownECUs, knownDTCs map[string]string) *Reference {
	r := &Reference{
		ecus: maps.Clone(obdECUNames),
		dtcs: map[string]string{},
	}
	for addr, name := range knownECUs {
		addr = types.NormalizeHex(addr)
		if addr != "" && name != "" {
			r.ecus[addr] = name
		}
	}
	for key, name := range knownDTCs {
		if code, ok := normalizeDTCKey(key); ok && name != "" {
			r.dtcs[code] = name
		}
	}
	return r
}

func normalizeDTCKey(key string) (string, bool) {
	key = strings.TrimSpace(key)
	if code, ok := uds.FormatDTCHex(key); ok {
		return code, true
	}
	b, err := uds.ParseDisplayCode(key)
	if err != nil {
		return "", false
	}
	return uds.FormatDTC(b)
}

// ECUName returns the known name of an ECU address.
func (r *Reference) ECUName(addr string) (string, bool) {
	name, ok := r.ecus[strings.ToUpper(addr)]
	return name, ok
}

// ECUNames returns a copy of the ECU name table.
func (r *Reference) ECUNames() map[string]string {
	return maps.Clone(r.ecus)
}

// DTCName returns the known description of a 6-digit DTC code.
func (r *Reference) DTCName(code string) (string, bool) {
	name, ok := r.dtcs[strings.ToUpper(code)]
	return name, ok
}
