package odx

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/yourorg/diagflow/internal/uds"
	"github.com/yourorg/diagflow/pkg/types"
)

// Default comparam values when the trace carries no session timing.
const (
	defaultP2Ms     = 50
	defaultP2StarMs = 5000
	defaultTester   = "0E80"
)

// BuildInput is what Build turns into a project.
type BuildInput struct {
	VehicleName         string
	ProtocolName        string
	Scope               types.Scope
	VIN                 string
	Summaries           []types.EcuSummary
	Procedures          []types.DiagnosticProcedure
	Patterns            []types.DiscoveryPattern
	FunctionalAddresses []string
}

var semantics = map[byte]string{
	uds.SIDDiagnosticSessionControl: "SESSION",
	uds.SIDECUReset:                 "ECU-RESET",
	uds.SIDClearDiagnosticInfo:      "CLEAR-DTC",
	uds.SIDReadDTCInformation:       "FAULTREAD",
	uds.SIDReadDataByIdentifier:     "DATA-READ",
	uds.SIDReadMemoryByAddress:      "MEMORY-READ",
	uds.SIDSecurityAccess:           "SECURITY",
	uds.SIDCommunicationControl:     "COMMUNICATION-CONTROL",
	uds.SIDAuthentication:           "SECURITY",
	uds.SIDWriteDataByIdentifier:    "DATA-WRITE",
	uds.SIDInputOutputControl:       "IO-CONTROL",
	uds.SIDRoutineControl:           "ROUTINE",
	uds.SIDTesterPresent:            "TESTER-PRESENT",
	uds.SIDControlDTCSetting:        "DTC-SETTING",
}

// shapeLen is the number of leading request bytes that identify a service instance.
func shapeLen(sid byte) int {
	switch sid {
	case uds.SIDReadDataByIdentifier, uds.SIDWriteDataByIdentifier, uds.SIDInputOutputControl:
		return 3
	case uds.SIDRoutineControl:
		return 4
	case uds.SIDDiagnosticSessionControl, uds.SIDECUReset, uds.SIDReadDTCInformation,
		uds.SIDSecurityAccess, uds.SIDCommunicationControl, uds.SIDAuthentication,
		uds.SIDTesterPresent, uds.SIDControlDTCSetting:
		return 2
	}
	return 1
}

// shape is one observed request form on one ECU.
type shape struct {
	key         []byte
	label       string
	maxRequest  int
	maxResponse int
	functional  bool
}

func shapeKey(sid byte, rest []byte) []byte {
	n := shapeLen(sid)
	key := []byte{sid}
	for i := 0; i < n-1 && i < len(rest); i++ {
		b := rest[i]
		if i == 0 && n == 2 {
			b &= 0x7F // suppress-positive-response bit
		}
		key = append(key, b)
	}
	return key
}

type shapes struct {
	order []string
	byKey map[string]*shape
}

func (s *shapes) get(key []byte) *shape {
	k := fmt.Sprintf("%X", key)
	if sh, ok := s.byKey[k]; ok {
		return sh
	}
	sh := &shape{key: key}
	s.byKey[k] = sh
	s.order = append(s.order, k)
	return sh
}

// Build turns the analysis of one trace into an ODX project: one base variant per physical
// ECU, an ECU variant per observed part number, and comparam timing from observed sessions.
func Build(in BuildInput) *types.ODXProject {
	protocolName := identifier(in.ProtocolName, "UDS_ON_DOIP")
	vehicleName := identifier(in.VehicleName, "VEHICLE")

	functional := map[string]bool{}
	for _, a := range in.FunctionalAddresses {
		functional[types.NormalizeHex(a)] = true
	}

	ecuNames := map[string]string{}
	dtcNames := map[string]string{}
	for _, p := range in.Patterns {
		switch p.Kind {
		case types.KindECU:
			ecuNames[p.Identifier] = p.SuggestedName
		case types.KindDTC:
			if p.Known {
				dtcNames[p.Identifier] = p.SuggestedName
			}
		}
	}

	perECU := map[string]*shapes{}
	funcShapes := map[string]bool{}
	dtcs := map[string][]types.DTCRecord{}
	parts := map[string][]string{}
	p2, p2Star := 0, 0
	tester := ""

	for _, proc := range in.Procedures {
		p2 = max(p2, proc.Data.P2Ms)
		p2Star = max(p2Star, proc.Data.P2StarMs)
		isFunctional := functional[strings.ToUpper(proc.ECUAddress)]
		if !isFunctional {
			dtcs[proc.ECUAddress] = append(dtcs[proc.ECUAddress], proc.Data.DTCs...)
			for _, pn := range proc.Data.PartNumbers {
				if !slices.Contains(parts[proc.ECUAddress], pn) {
					parts[proc.ECUAddress] = append(parts[proc.ECUAddress], pn)
				}
			}
		}
		set := perECU[proc.ECUAddress]
		if set == nil && !isFunctional {
			set = &shapes{byKey: map[string]*shape{}}
			perECU[proc.ECUAddress] = set
		}
		for _, m := range proc.Messages {
			b := m.Bytes()
			sid, response, ok := uds.RequestService(b)
			if !ok {
				continue
			}
			key := shapeKey(sid, b[1:])
			if !response && tester == "" {
				tester = m.SourceAddress
			}
			if isFunctional {
				if !response {
					funcShapes[fmt.Sprintf("%X", key)] = true
				}
				continue
			}
			if b[0] == uds.SIDNegativeResponse {
				continue
			}
			if response {
				sh, ok := set.byKey[fmt.Sprintf("%X", key)]
				if ok {
					sh.maxResponse = max(sh.maxResponse, len(b))
				}
				continue
			}
			sh := set.get(key)
			sh.maxRequest = max(sh.maxRequest, len(b))
			if sh.label == "" {
				sh.label = uds.DecodeMessage(m).Label
			}
		}
	}
	if p2 == 0 {
		p2 = defaultP2Ms
	}
	if p2Star == 0 {
		p2Star = defaultP2StarMs
	}
	if tester == "" {
		tester = defaultTester
	}

	project := &types.ODXProject{
		Protocol: types.ProtocolLayer{
			ID:          "PR_" + protocolName,
			ShortName:   protocolName,
			LongName:    "UDS on DoIP",
			ComParamRef: "CPS_" + protocolName,
		},
		ComParams: types.ComParamSubset{
			ID:        "CPS_" + protocolName,
			ShortName: protocolName + "_COMPARAMS",
			LongName:  "Communication parameters observed in trace",
			Params: []types.ComParam{
				{ID: "CP_P2Max", ShortName: "CP_P2Max", ParamClass: "TIMING", DefaultValue: strconv.Itoa(p2)},
				{ID: "CP_P2Star", ShortName: "CP_P2Star", ParamClass: "TIMING", DefaultValue: strconv.Itoa(p2Star)},
				{ID: "CP_DoIPLogicalTesterAddress", ShortName: "CP_DoIPLogicalTesterAddress", ParamClass: "COM", DefaultValue: tester},
			},
		},
	}

	vehicle := types.VehicleInfo{
		ID:        "VI_" + vehicleName,
		ShortName: vehicleName,
		LongName:  strings.TrimSpace(strings.Join([]string{in.Scope.OEM, in.Scope.Model, in.Scope.ModelYear}, " ")),
		OEM:       in.Scope.OEM,
		Model:     in.Scope.Model,
		ModelYear: in.Scope.ModelYear,
		VIN:       in.VIN,
	}

	for _, sum := range in.Summaries {
		if functional[strings.ToUpper(sum.Address)] {
			continue
		}
		name := sum.Name
		if !sum.Known {
			if n := ecuNames[sum.Address]; n != "" {
				name = n
			}
		}
		short := identifier("ECU_"+sum.Address, "ECU")
		base := types.DiagLayer{
			ID:             "BV_" + short,
			ShortName:      short,
			LongName:       name,
			Variant:        types.VariantBase,
			LogicalAddress: sum.Address,
		}
		if set := perECU[sum.Address]; set != nil {
			for _, k := range set.order {
				sh := set.byKey[k]
				sh.functional = funcShapes[k]
				base.Services = append(base.Services, buildService(short, sh))
			}
		}
		base.DTCs = buildDTCs(short, dtcs[sum.Address], dtcNames)
		project.Layers = append(project.Layers, base)

		for _, pn := range parts[sum.Address] {
			variant := identifier(short+"_"+pn, short+"_VARIANT")
			project.Layers = append(project.Layers, types.DiagLayer{
				ID:             "EV_" + variant,
				ShortName:      variant,
				LongName:       fmt.Sprintf("%s part %s", name, pn),
				Variant:        types.VariantECU,
				ParentRef:      base.ID,
				LogicalAddress: sum.Address,
			})
		}
		vehicle.LogicalLinks = append(vehicle.LogicalLinks, types.LogicalLink{
			ID:          "LL_" + short,
			ShortName:   "LL_" + short,
			LayerRef:    base.ID,
			ProtocolRef: project.Protocol.ID,
		})
	}
	project.Vehicle = vehicle
	return project
}

func buildService(layer string, sh *shape) types.DiagService {
	keyHex := fmt.Sprintf("%X", sh.key)
	sid := sh.key[0]
	short := identifier(sh.label, "Service_"+keyHex)
	id := fmt.Sprintf("DS_%s_%s", layer, keyHex)

	request := types.Message{ID: "RQ_" + layer + "_" + keyHex, ShortName: "RQ_" + short}
	positive := types.Message{ID: "PR_" + layer + "_" + keyHex, ShortName: "PR_" + short}

	request.Params = append(request.Params, codedConst("SID_RQ", "SERVICE-ID", 0, 8, int64(sid)))
	positive.Params = append(positive.Params, codedConst("SID_PR", "SERVICE-ID", 0, 8, int64(uds.PositiveResponseID(sid))))

	// Positive responses echo each key field one byte later than the request.
	pos, respPos := 1, 1
	for _, f := range keyFields(sid) {
		if pos+f.bytes > len(sh.key) {
			break
		}
		var v int64
		for _, b := range sh.key[pos : pos+f.bytes] {
			v = v<<8 | int64(b)
		}
		request.Params = append(request.Params, codedConst(f.name, f.semantic, pos, f.bytes*8, v))
		positive.Params = append(positive.Params, types.Param{
			ShortName:      f.name + "_ECHO",
			Semantic:       f.semantic,
			Kind:           types.ParamMatchingReq,
			BytePosition:   pos + 1,
			BitLength:      f.bytes * 8,
			RequestBytePos: pos,
		})
		pos += f.bytes
		respPos = pos + 1
	}
	if sh.maxRequest > pos {
		request.Params = append(request.Params, types.Param{
			ShortName: "DATA", Semantic: "DATA", Kind: types.ParamValue,
			BytePosition: pos, BitLength: (sh.maxRequest - pos) * 8,
		})
	}
	if sh.maxResponse > respPos {
		positive.Params = append(positive.Params, types.Param{
			ShortName: "DATA", Semantic: "DATA", Kind: types.ParamValue,
			BytePosition: respPos, BitLength: (sh.maxResponse - respPos) * 8,
		})
	}

	negative := types.Message{
		ID:        "NR_" + layer + "_" + keyHex,
		ShortName: "NR_" + short,
		Params: []types.Param{
			codedConst("SID_NR", "SERVICE-ID", 0, 8, int64(uds.SIDNegativeResponse)),
			{ShortName: "SID_RQ_NR", Semantic: "SERVICEIDRQ", Kind: types.ParamMatchingReq, BytePosition: 1, BitLength: 8, RequestBytePos: 0},
			{ShortName: "NRC", Semantic: "DATA", Kind: types.ParamValue, BytePosition: 2, BitLength: 8},
		},
	}

	addressing := types.AddressingPhysical
	if sh.functional {
		addressing = types.AddressingFunctionalOrPhysical
	}
	return types.DiagService{
		ID:               id,
		ShortName:        short,
		LongName:         sh.label,
		Semantic:         semantics[sid],
		Addressing:       addressing,
		Request:          request,
		PositiveResponse: &positive,
		NegativeResponse: &negative,
	}
}

type keyField struct {
	name     string
	semantic string
	bytes    int
}

func keyFields(sid byte) []keyField {
	switch shapeLen(sid) {
	case 3:
		return []keyField{{"DID", "ID", 2}}
	case 4:
		return []keyField{{"ROUTINE_CONTROL_TYPE", "SUBFUNCTION", 1}, {"ROUTINE_ID", "ID", 2}}
	case 2:
		return []keyField{{"SUBFUNCTION", "SUBFUNCTION", 1}}
	}
	return nil
}

func codedConst(name, semantic string, pos, bits int, v int64) types.Param {
	return types.Param{
		ShortName:    name,
		Semantic:     semantic,
		Kind:         types.ParamCodedConst,
		BytePosition: pos,
		BitLength:    bits,
		CodedValue:   &v,
	}
}

var severityLevels = map[string]int{"high": 1, "medium": 2, "low": 3}

func buildDTCs(layer string, records []types.DTCRecord, names map[string]string) []types.DTC {
	var out []types.DTC
	seen := map[string]bool{}
	for _, r := range records {
		if r.Code == "" || seen[r.Code] {
			continue
		}
		seen[r.Code] = true
		code, err := strconv.ParseUint(r.Code, 16, 32)
		if err != nil {
			continue
		}
		text := names[r.Code]
		if text == "" {
			text = r.FailureType
		}
		severity := uds.DTCSeverity(r.DisplayCode)
		out = append(out, types.DTC{
			ID:                 fmt.Sprintf("DTC_%s_%s", layer, r.Code),
			ShortName:          identifier(r.DisplayCode, "DTC_"+r.Code),
			TroubleCode:        uint32(code),
			DisplayTroubleCode: r.DisplayCode,
			Text:               text,
			Level:              severityLevels[severity],
			Severity:           severity,
		})
	}
	return out
}
