package discovery

import (
	"fmt"
	"slices"
	"strings"

	"github.com/yourorg/diagflow/internal/uds"
	"github.com/yourorg/diagflow/pkg/types"
)

const maxSamples = 3

var kindOrder = map[types.PatternKind]int{
	types.KindECU:     0,
	types.KindService: 1,
	types.KindDID:     2,
	types.KindDTC:     3,
	types.KindRoutine: 4,
}

var serviceRoles = map[byte]string{
	uds.SIDDiagnosticSessionControl: "session_host",
	uds.SIDECUReset:                 "resettable",
	uds.SIDReadDTCInformation:       "dtc_source",
	uds.SIDClearDiagnosticInfo:      "dtc_source",
	uds.SIDReadDataByIdentifier:     "data_provider",
	uds.SIDWriteDataByIdentifier:    "configurable",
	uds.SIDInputOutputControl:       "actuator_host",
	uds.SIDSecurityAccess:           "secured",
	uds.SIDAuthentication:           "secured",
	uds.SIDRoutineControl:           "routine_host",
	0x34:                            "programmable",
	0x36:                            "programmable",
}

// tally accumulates the evidence of one identifier.
type tally struct {
	requests  int
	responses int
	ecus      map[string]bool
	lengths   map[int]bool
	nrcs      map[string]int
	samples   []string
	extra     map[string]any
}

func newTally() *tally {
	return &tally{
		ecus:    map[string]bool{},
		lengths: map[int]bool{},
		nrcs:    map[string]int{},
		extra:   map[string]any{},
	}
}

func (t *tally) sample(s string) {
	if s == "" || len(t.samples) >= maxSamples || slices.Contains(t.samples, s) {
		return
	}
	t.samples = append(t.samples, s)
}

func (t *tally) occurrences() int {
	return max(t.requests, t.responses)
}

func (t *tally) evidence() map[string]any {
	ev := map[string]any{
		"requests":  t.requests,
		"responses": t.responses,
		"ecus":      sortedKeys(t.ecus),
	}
	if len(t.lengths) > 0 {
		lengths := make([]int, 0, len(t.lengths))
		for n := range t.lengths {
			lengths = append(lengths, n)
		}
		slices.Sort(lengths)
		ev["response_lengths"] = lengths
	}
	if len(t.nrcs) > 0 {
		ev["nrcs"] = t.nrcs
	}
	if len(t.samples) > 0 {
		ev["samples"] = t.samples
	}
	for k, v := range t.extra {
		ev[k] = v
	}
	return ev
}

// tallies keeps identifiers in first-seen order.
type tallies struct {
	order []string
	byID  map[string]*tally
}

func (ts *tallies) get(id string) *tally {
	if ts.byID == nil {
		ts.byID = map[string]*tally{}
	}
	t, ok := ts.byID[id]
	if !ok {
		t = newTally()
		ts.byID[id] = t
		ts.order = append(ts.order, id)
	}
	return t
}

// frame is a trace message reduced to what the scanners need.
type frame struct {
	msg      types.TraceMessage
	payload  []byte
	sid      byte
	ecu      string
	response bool
	negative bool
}

func (e *Engine) frames(messages []types.TraceMessage) []frame {
	out := make([]frame, 0, len(messages))
	for _, m := range messages {
		if m.IsMetadata() {
			continue
		}
		b := m.Bytes()
		if len(b) == 0 {
			continue
		}
		sid, response, ok := uds.RequestService(b)
		if !ok {
			sid, response = b[0], m.Direction == types.DirectionInbound
		}
		f := frame{msg: m, payload: b, sid: sid, response: response, negative: b[0] == uds.SIDNegativeResponse}
		if response {
			f.ecu = m.SourceAddress
		} else {
			f.ecu = m.TargetAddress
		}
		if f.ecu == "" || e.functional[strings.ToUpper(f.ecu)] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Scan runs the five scanners and returns their patterns sorted by kind, confidence
// (highest first) and identifier.
func (e *Engine) Scan(messages []types.TraceMessage, procedures []types.DiagnosticProcedure) []types.DiscoveryPattern {
	frames := e.frames(messages)
	var out []types.DiscoveryPattern
	out = append(out, e.scanECUs(frames, procedures)...)
	out = append(out, e.scanServices(frames)...)
	out = append(out, e.scanDIDs(frames)...)
	out = append(out, e.scanDTCs(procedures)...)
	out = append(out, e.scanRoutines(frames)...)
	slices.SortStableFunc(out, func(a, b types.DiscoveryPattern) int {
		if a.Kind != b.Kind {
			return kindOrder[a.Kind] - kindOrder[b.Kind]
		}
		if a.Confidence != b.Confidence {
			if a.Confidence > b.Confidence {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Identifier, b.Identifier)
	})
	return out
}

func (e *Engine) pattern(kind types.PatternKind, id, name string, known bool, t *tally) types.DiscoveryPattern {
	occ := t.occurrences()
	return types.DiscoveryPattern{
		Kind:          kind,
		Identifier:    id,
		SuggestedName: name,
		Known:         known,
		Occurrences:   occ,
		Confidence:    Confidence(known, occ, ParamsFor(e.cfg.Params, kind)),
		Evidence:      t.evidence(),
	}
}

func (e *Engine) scanECUs(frames []frame, procedures []types.DiagnosticProcedure) []types.DiscoveryPattern {
	var ts tallies
	roles := map[string]map[string]bool{}
	for _, f := range frames {
		t := ts.get(f.ecu)
		if f.response {
			t.responses++
			if f.negative && len(f.payload) >= 3 {
				t.nrcs[uds.NRCDescription(f.payload[2])]++
			}
		} else {
			t.requests++
		}
		if roles[f.ecu] == nil {
			roles[f.ecu] = map[string]bool{}
		}
		if role, ok := serviceRoles[f.sid]; ok && f.response && !f.negative {
			roles[f.ecu][role] = true
		}
	}

	systemNames := map[string]string{}
	partNumbers := map[string]map[string]bool{}
	for _, p := range procedures {
		if v, ok := p.Data.DataIdentifiers["F197"]; ok && v.Text != "" {
			systemNames[p.ECUAddress] = v.Text
		}
		for _, pn := range p.Data.PartNumbers {
			if partNumbers[p.ECUAddress] == nil {
				partNumbers[p.ECUAddress] = map[string]bool{}
			}
			partNumbers[p.ECUAddress][pn] = true
		}
	}

	out := make([]types.DiscoveryPattern, 0, len(ts.order))
	for _, addr := range ts.order {
		t := ts.byID[addr]
		t.ecus[addr] = true
		t.extra["roles"] = sortedKeys(roles[addr])
		if pns := partNumbers[addr]; len(pns) > 0 {
			t.extra["part_numbers"] = sortedKeys(pns)
		}
		name, known := e.ref.ECUName(addr)
		if !known {
			name = "ECU_" + addr
			if sys := systemNames[addr]; sys != "" {
				name = sys
			}
		}
		out = append(out, e.pattern(types.KindECU, addr, name, known, t))
	}
	return out
}

func (e *Engine) scanServices(frames []frame) []types.DiscoveryPattern {
	var ts tallies
	sids := map[string]byte{}
	for _, f := range frames {
		id := fmt.Sprintf("%02X", f.sid)
		sids[id] = f.sid
		t := ts.get(id)
		t.ecus[f.ecu] = true
		switch {
		case !f.response:
			t.requests++
			t.sample(f.msg.Payload)
		case f.negative:
			t.responses++
			if len(f.payload) >= 3 {
				t.nrcs[uds.NRCDescription(f.payload[2])]++
			}
		default:
			t.responses++
			t.lengths[len(f.payload)] = true
		}
	}
	out := make([]types.DiscoveryPattern, 0, len(ts.order))
	for _, id := range ts.order {
		sid := sids[id]
		out = append(out, e.pattern(types.KindService, id, uds.ServiceName(sid), uds.IsKnownService(sid), ts.byID[id]))
	}
	return out
}

func (e *Engine) scanDIDs(frames []frame) []types.DiscoveryPattern {
	var ts tallies
	dids := map[string]uint16{}
	for _, f := range frames {
		switch {
		case f.sid != uds.SIDReadDataByIdentifier:
			continue
		case !f.response:
			for _, did := range uds.RequestedDIDs(f.payload) {
				id := fmt.Sprintf("%04X", did)
				dids[id] = did
				t := ts.get(id)
				t.requests++
				t.ecus[f.ecu] = true
			}
		case f.negative:
			// The rejected DID is only known from the request.
		default:
			did, data, ok := uds.ResponseDID(f.payload)
			if !ok {
				continue
			}
			id := fmt.Sprintf("%04X", did)
			dids[id] = did
			t := ts.get(id)
			t.responses++
			t.ecus[f.ecu] = true
			t.lengths[len(data)] = true
			v := uds.DecodeDIDValue(did, data)
			if v.Text != "" {
				t.sample(v.Text)
				t.extra["text"] = true
			} else {
				t.sample(v.Raw)
			}
		}
	}
	out := make([]types.DiscoveryPattern, 0, len(ts.order))
	for _, id := range ts.order {
		did := dids[id]
		t := ts.byID[id]
		t.extra["range"] = uds.DIDRange(did)
		out = append(out, e.pattern(types.KindDID, id, uds.DIDName(did), uds.IsKnownDID(did), t))
	}
	return out
}

func (e *Engine) scanDTCs(procedures []types.DiagnosticProcedure) []types.DiscoveryPattern {
	var ts tallies
	display := map[string]string{}
	for _, p := range procedures {
		if e.functional[strings.ToUpper(p.ECUAddress)] {
			continue
		}
		for _, d := range p.Data.DTCs {
			if d.Code == "" {
				continue
			}
			t := ts.get(d.Code)
			t.responses++
			t.ecus[p.ECUAddress] = true
			t.sample(fmt.Sprintf("%02X", d.Status))
			display[d.Code] = d.DisplayCode
			if d.FailureType != "" {
				t.extra["failure_type"] = d.FailureType
			}
			if d.Phase != "" {
				phases, _ := t.extra["phases"].([]string)
				if !slices.Contains(phases, d.Phase) {
					t.extra["phases"] = append(phases, d.Phase)
				}
			}
		}
	}
	out := make([]types.DiscoveryPattern, 0, len(ts.order))
	for _, code := range ts.order {
		t := ts.byID[code]
		dc := display[code]
		t.extra["display_code"] = dc
		t.extra["category"] = uds.DTCCategory(dc)
		t.extra["severity"] = uds.DTCSeverity(dc)
		name, known := e.ref.DTCName(code)
		if !known {
			name = dc
		}
		out = append(out, e.pattern(types.KindDTC, code, name, known, t))
	}
	return out
}

func (e *Engine) scanRoutines(frames []frame) []types.DiscoveryPattern {
	var ts tallies
	ids := map[string]uint16{}
	for _, f := range frames {
		if f.sid != uds.SIDRoutineControl || f.negative {
			continue
		}
		ct, rid, ok := uds.RoutineID(f.payload)
		if !ok {
			continue
		}
		id := fmt.Sprintf("%04X", rid)
		ids[id] = rid
		t := ts.get(id)
		t.ecus[f.ecu] = true
		actions, _ := t.extra["actions"].([]string)
		if a := uds.RoutineActionName(ct); !slices.Contains(actions, a) {
			t.extra["actions"] = append(actions, a)
		}
		if f.response {
			t.responses++
			t.lengths[len(f.payload)] = true
			if len(f.payload) > 4 {
				t.sample(fmt.Sprintf("%X", f.payload[4:]))
			}
		} else {
			t.requests++
		}
	}
	out := make([]types.DiscoveryPattern, 0, len(ts.order))
	for _, id := range ts.order {
		rid := ids[id]
		out = append(out, e.pattern(types.KindRoutine, id, uds.RoutineName(rid), uds.IsKnownRoutine(rid), ts.byID[id]))
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
