// Package procedure reconstructs per-ECU diagnostic procedures from an ordered message stream.
package procedure

import (
	"fmt"
	"strings"

	"github.com/yourorg/diagflow/internal/uds"
	"github.com/yourorg/diagflow/pkg/types"
)

// DefaultWindowMs is the width of a grouping bucket.
const DefaultWindowMs int64 = 10_000

// Options tunes grouping.
type Options struct {
	WindowMs            int64
	FunctionalAddresses []string
}

// Index holds message positions into the arena.
type Index struct {
	ByECU    map[string][]int
	ByBucket map[int64][]int
}

// Result is the output of Group. Messages is the arena every index position refers to.
type Result struct {
	Messages     []types.TraceMessage
	Index        Index
	Procedures   []types.DiagnosticProcedure
	Unclassified int
	WindowMs     int64

	functional map[string]bool
}

// IsFunctional reports whether addr is a functional (broadcast) address.
func (r *Result) IsFunctional(addr string) bool {
	return r.functional[strings.ToUpper(addr)]
}

var procedureTypes = map[byte]types.ProcedureType{
	uds.SIDDiagnosticSessionControl: types.ProcedureSessionControl,
	uds.SIDECUReset:                 types.ProcedureSessionControl,
	uds.SIDSecurityAccess:           types.ProcedureSecurityAccess,
	uds.SIDAuthentication:           types.ProcedureSecurityAccess,
	uds.SIDReadDataByIdentifier:     types.ProcedureDataReading,
	uds.SIDWriteDataByIdentifier:    types.ProcedureDataReading,
	uds.SIDInputOutputControl:       types.ProcedureDataReading,
	uds.SIDReadMemoryByAddress:      types.ProcedureDataReading,
	uds.SIDReadDTCInformation:       types.ProcedureDTCManagement,
	uds.SIDClearDiagnosticInfo:      types.ProcedureDTCManagement,
	uds.SIDControlDTCSetting:        types.ProcedureDTCManagement,
	uds.SIDRoutineControl:           types.ProcedureRoutineControl,
	uds.SIDTesterPresent:            types.ProcedureTesterPresent,
}

var procedureTitles = map[types.ProcedureType]string{
	types.ProcedureSessionControl: "Session Control",
	types.ProcedureSecurityAccess: "Security Access",
	types.ProcedureDataReading:    "Data Reading",
	types.ProcedureDTCManagement:  "DTC Management",
	types.ProcedureRoutineControl: "Routine Control",
	types.ProcedureTesterPresent:  "Tester Present",
}

// TypeForService maps a request service id to its procedure type.
func TypeForService(sid byte) (types.ProcedureType, bool) {
	t, ok := procedureTypes[sid]
	return t, ok
}

// Title returns the display title of a procedure type.
func Title(t types.ProcedureType) string {
	if s, ok := procedureTitles[t]; ok {
		return s
	}
	return string(t)
}

// classified is a frame that belongs to a procedure.
type classified struct {
	sid      byte
	ecu      string
	response bool
	negative bool
	payload  []byte
	kind     types.ProcedureType
}

func classify(m types.TraceMessage) (classified, bool) {
	if m.IsMetadata() {
		return classified{}, false
	}
	b := m.Bytes()
	sid, response, ok := uds.RequestService(b)
	if !ok {
		return classified{}, false
	}
	kind, ok := procedureTypes[sid]
	if !ok {
		return classified{}, false
	}
	c := classified{sid: sid, response: response, negative: b[0] == uds.SIDNegativeResponse, payload: b, kind: kind}
	if response {
		c.ecu = m.SourceAddress
	} else {
		c.ecu = m.TargetAddress
	}
	if c.ecu == "" {
		return classified{}, false
	}
	return c, true
}

type groupKey struct {
	ecu    string
	kind   types.ProcedureType
	bucket int64
}

// Group assigns every frame carrying a recognized service to the procedure keyed by
// (ECU, procedure type, time bucket). Requests belong to their target, responses to their
// source. Within a procedure messages keep stream order; procedures are returned in order
// of their first message.
func Group(messages []types.TraceMessage, opts Options) *Result {
	window := opts.WindowMs
	if window <= 0 {
		window = DefaultWindowMs
	}
	res := &Result{
		Messages: messages,
		Index: Index{
			ByECU:    map[string][]int{},
			ByBucket: map[int64][]int{},
		},
		WindowMs:   window,
		functional: map[string]bool{},
	}
	for _, a := range opts.FunctionalAddresses {
		res.functional[strings.ToUpper(strings.TrimSpace(a))] = true
	}

	positions := map[groupKey]int{}
	routineExecuted := map[string]bool{}

	for i, m := range messages {
		c, ok := classify(m)
		if !ok {
			if !m.IsMetadata() {
				res.Unclassified++
			}
			continue
		}
		bucket := floorDiv(m.TimestampMs, window)
		res.Index.ByECU[c.ecu] = append(res.Index.ByECU[c.ecu], i)
		res.Index.ByBucket[bucket] = append(res.Index.ByBucket[bucket], i)

		key := groupKey{ecu: c.ecu, kind: c.kind, bucket: bucket}
		pos, ok := positions[key]
		if !ok {
			pos = len(res.Procedures)
			positions[key] = pos
			res.Procedures = append(res.Procedures, types.DiagnosticProcedure{
				ID:         fmt.Sprintf("%s_%s_%d", c.ecu, c.kind, bucket),
				ECUAddress: c.ecu,
				Type:       c.kind,
				Bucket:     bucket,
				StartMs:    m.TimestampMs,
				Status:     types.StatusStarted,
			})
		}
		p := &res.Procedures[pos]
		p.Messages = append(p.Messages, m)
		p.EndMs = m.TimestampMs
		if p.Name == "" && !c.response {
			p.Name = Title(c.kind) + ": " + uds.Decode(c.payload[0], c.payload[1:]).Label
		}
		advance(p, c)

		if c.response && !c.negative {
			phase := types.PhasePreScan
			if routineExecuted[c.ecu] {
				phase = types.PhasePostScan
			}
			p.Data.Merge(Extract(c.payload, phase))
		}
		// Any routine-control response, positive or negative, counts as executed.
		if c.response && c.sid == uds.SIDRoutineControl {
			routineExecuted[c.ecu] = true
		}
	}

	for i := range res.Procedures {
		finalize(&res.Procedures[i])
	}
	return res
}

// advance applies one frame to the procedure state machine. Failure is sticky.
func advance(p *types.DiagnosticProcedure, c classified) {
	switch {
	case !c.response:
		p.RequestCount++
	case c.negative:
		p.ResponseCount++
		p.ErrorCount++
		p.Status = types.StatusFailed
	default:
		p.ResponseCount++
		if p.Status == types.StatusStarted {
			p.Status = types.StatusCompleted
		}
	}
}

func finalize(p *types.DiagnosticProcedure) {
	if p.Name == "" {
		p.Name = Title(p.Type)
	}
	if p.Status == types.StatusStarted && p.RequestCount > 0 && p.ResponseCount == 0 {
		p.Status = types.StatusTimeout
	}
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
