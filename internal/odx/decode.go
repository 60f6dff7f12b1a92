package odx

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/yourorg/diagflow/pkg/types"
)

// Parse decodes one ODX document holding any of the four units. The returned project only
// carries the units present in data.
func Parse(data []byte) (*types.ODXProject, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, violation("", "empty document")
	}
	var doc xmlODX
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, &ParseError{Msg: "malformed xml", Err: err}
	}
	if doc.Vehicle == nil && doc.Container == nil && doc.ComParams == nil {
		return nil, violation("ODX", "no VEHICLE-INFO-SPEC, DIAG-LAYER-CONTAINER or COMPARAM-SUBSET")
	}

	p := &types.ODXProject{}
	if doc.Vehicle != nil {
		v, err := decodeVehicle(doc.Vehicle)
		if err != nil {
			return nil, err
		}
		p.Vehicle = v
	}
	if doc.ComParams != nil {
		c, err := decodeComParams(doc.ComParams)
		if err != nil {
			return nil, err
		}
		p.ComParams = c
	}
	if c := doc.Container; c != nil {
		path := fmt.Sprintf("DIAG-LAYER-CONTAINER[%s]", c.ID)
		if strings.TrimSpace(c.ShortName) == "" {
			return nil, violation(path, "missing SHORT-NAME")
		}
		if len(c.Protocols) > 1 {
			return nil, violation(path, "%d PROTOCOL elements, want at most one", len(c.Protocols))
		}
		for _, x := range c.Protocols {
			if strings.TrimSpace(x.ShortName) == "" {
				return nil, violation(path+"/PROTOCOL", "missing SHORT-NAME")
			}
			p.Protocol = types.ProtocolLayer{ID: x.ID, ShortName: x.ShortName, LongName: x.LongName}
			if x.ComParamSpec != nil {
				p.Protocol.ComParamRef = x.ComParamSpec.IDRef
			}
		}
		for _, x := range c.BaseVariants {
			l, err := decodeLayer(x, types.VariantBase, path+"/BASE-VARIANT")
			if err != nil {
				return nil, err
			}
			p.Layers = append(p.Layers, l)
		}
		for _, x := range c.ECUVariants {
			l, err := decodeLayer(x, types.VariantECU, path+"/ECU-VARIANT")
			if err != nil {
				return nil, err
			}
			p.Layers = append(p.Layers, l)
		}
		if len(c.Protocols) == 0 && len(p.Layers) == 0 {
			return nil, violation(path, "container holds no protocol or variant")
		}
	}
	return p, nil
}

// ParseFiles parses and merges several unit files. Later vehicle, protocol and comparam units
// replace earlier ones; layers accumulate in file order.
func ParseFiles(paths ...string) (*types.ODXProject, error) {
	out := &types.ODXProject{}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		p, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		if p.Vehicle.ShortName != "" {
			out.Vehicle = p.Vehicle
		}
		if p.Protocol.ShortName != "" {
			out.Protocol = p.Protocol
		}
		if p.ComParams.ShortName != "" {
			out.ComParams = p.ComParams
		}
		out.Layers = append(out.Layers, p.Layers...)
	}
	return out, nil
}

func decodeVehicle(x *xmlVehicleInfoSpec) (types.VehicleInfo, error) {
	path := fmt.Sprintf("VEHICLE-INFO-SPEC[%s]", x.ID)
	if strings.TrimSpace(x.ShortName) == "" {
		return types.VehicleInfo{}, violation(path, "missing SHORT-NAME")
	}
	v := types.VehicleInfo{ID: x.ID, ShortName: x.ShortName, LongName: x.LongName}
	if len(x.Infos) == 0 {
		return v, nil
	}
	info := x.Infos[0]
	v.OEM = sdValue(info.SDGs, "OEM")
	v.Model = sdValue(info.SDGs, "MODEL")
	v.ModelYear = sdValue(info.SDGs, "MODEL-YEAR")
	v.VIN = sdValue(info.SDGs, "VIN")
	for _, l := range info.Links {
		lpath := fmt.Sprintf("%s/LOGICAL-LINK[%s]", path, l.ID)
		if strings.TrimSpace(l.ShortName) == "" {
			return types.VehicleInfo{}, violation(lpath, "missing SHORT-NAME")
		}
		if l.LayerRef == nil || l.LayerRef.IDRef == "" {
			return types.VehicleInfo{}, violation(lpath, "missing BASE-VARIANT-REF")
		}
		link := types.LogicalLink{ID: l.ID, ShortName: l.ShortName, LayerRef: l.LayerRef.IDRef}
		if l.ProtocolRef != nil {
			link.ProtocolRef = l.ProtocolRef.IDRef
		}
		v.LogicalLinks = append(v.LogicalLinks, link)
	}
	return v, nil
}

func decodeComParams(x *xmlComParamSubset) (types.ComParamSubset, error) {
	path := fmt.Sprintf("COMPARAM-SUBSET[%s]", x.ID)
	if strings.TrimSpace(x.ShortName) == "" {
		return types.ComParamSubset{}, violation(path, "missing SHORT-NAME")
	}
	c := types.ComParamSubset{ID: x.ID, ShortName: x.ShortName, LongName: x.LongName}
	for _, p := range x.ComParams {
		if strings.TrimSpace(p.ShortName) == "" {
			return types.ComParamSubset{}, violation(path+"/COMPARAM", "missing SHORT-NAME")
		}
		c.Params = append(c.Params, types.ComParam{
			ID:           p.ID,
			ShortName:    p.ShortName,
			ParamClass:   p.ParamClass,
			DefaultValue: strings.TrimSpace(p.DefaultValue),
		})
	}
	return c, nil
}

func decodeLayer(x xmlDiagLayer, variant, parent string) (types.DiagLayer, error) {
	path := fmt.Sprintf("%s[%s]", parent, x.ID)
	if strings.TrimSpace(x.ShortName) == "" {
		return types.DiagLayer{}, violation(path, "missing SHORT-NAME")
	}
	l := types.DiagLayer{
		ID:             x.ID,
		ShortName:      x.ShortName,
		LongName:       x.LongName,
		Variant:        variant,
		LogicalAddress: sdValue(x.SDGs, "LOGICAL-ADDRESS"),
	}
	if len(x.ParentRefs) > 0 {
		l.ParentRef = x.ParentRefs[0].IDRef
	}
	if variant == types.VariantECU && l.ParentRef == "" {
		return types.DiagLayer{}, violation(path, "ECU-VARIANT without PARENT-REF")
	}

	requests, err := indexMessages(x.Requests, path+"/REQUEST")
	if err != nil {
		return types.DiagLayer{}, err
	}
	positives, err := indexMessages(x.PosResponses, path+"/POS-RESPONSE")
	if err != nil {
		return types.DiagLayer{}, err
	}
	negatives, err := indexMessages(x.NegResponses, path+"/NEG-RESPONSE")
	if err != nil {
		return types.DiagLayer{}, err
	}

	for _, s := range x.Services {
		spath := fmt.Sprintf("%s/DIAG-SERVICE[%s]", path, s.ID)
		if strings.TrimSpace(s.ShortName) == "" {
			return types.DiagLayer{}, violation(spath, "missing SHORT-NAME")
		}
		if s.RequestRef == nil || s.RequestRef.IDRef == "" {
			return types.DiagLayer{}, violation(spath, "missing REQUEST-REF")
		}
		req, ok := requests[s.RequestRef.IDRef]
		if !ok {
			return types.DiagLayer{}, violation(spath, "REQUEST-REF %q does not resolve", s.RequestRef.IDRef)
		}
		svc := types.DiagService{
			ID:         s.ID,
			ShortName:  s.ShortName,
			LongName:   s.LongName,
			Semantic:   s.Semantic,
			Addressing: s.Addressing,
			Request:    req,
		}
		if svc.Addressing == "" {
			svc.Addressing = types.AddressingPhysical
		}
		if len(s.PosResponses) > 0 {
			m, ok := positives[s.PosResponses[0].IDRef]
			if !ok {
				return types.DiagLayer{}, violation(spath, "POS-RESPONSE-REF %q does not resolve", s.PosResponses[0].IDRef)
			}
			svc.PositiveResponse = &m
		}
		if len(s.NegResponses) > 0 {
			m, ok := negatives[s.NegResponses[0].IDRef]
			if !ok {
				return types.DiagLayer{}, violation(spath, "NEG-RESPONSE-REF %q does not resolve", s.NegResponses[0].IDRef)
			}
			svc.NegativeResponse = &m
		}
		l.Services = append(l.Services, svc)
	}

	for _, dop := range x.DTCDOPs {
		for _, d := range dop.DTCs {
			dpath := fmt.Sprintf("%s/DTC[%s]", path, d.ID)
			if strings.TrimSpace(d.ShortName) == "" {
				return types.DiagLayer{}, violation(dpath, "missing SHORT-NAME")
			}
			raw := strings.TrimSpace(d.TroubleCode)
			if raw == "" {
				return types.DiagLayer{}, violation(dpath, "missing TROUBLE-CODE")
			}
			code, err := strconv.ParseUint(raw, 10, 32)
			if err != nil {
				return types.DiagLayer{}, &ParseError{Path: dpath, Msg: "invalid TROUBLE-CODE", Err: err}
			}
			l.DTCs = append(l.DTCs, types.DTC{
				ID:                 d.ID,
				ShortName:          d.ShortName,
				TroubleCode:        uint32(code),
				DisplayTroubleCode: d.DisplayTroubleCode,
				Text:               d.Text,
				Level:              d.Level,
				Severity:           sdValue(d.SDGs, "SEVERITY"),
			})
		}
	}
	return l, nil
}

func indexMessages(xs []xmlMessage, parent string) (map[string]types.Message, error) {
	out := make(map[string]types.Message, len(xs))
	for _, x := range xs {
		path := fmt.Sprintf("%s[%s]", parent, x.ID)
		if x.ID == "" {
			return nil, violation(path, "missing ID")
		}
		if strings.TrimSpace(x.ShortName) == "" {
			return nil, violation(path, "missing SHORT-NAME")
		}
		m := types.Message{ID: x.ID, ShortName: x.ShortName}
		for i, xp := range x.Params {
			p, err := decodeParam(xp, fmt.Sprintf("%s/PARAM[%d]", path, i))
			if err != nil {
				return nil, err
			}
			m.Params = append(m.Params, p)
		}
		out[x.ID] = m
	}
	return out, nil
}

func decodeParam(x xmlParam, path string) (types.Param, error) {
	if strings.TrimSpace(x.ShortName) == "" {
		return types.Param{}, violation(path, "missing SHORT-NAME")
	}
	p := types.Param{
		ShortName: x.ShortName,
		LongName:  x.LongName,
		Semantic:  x.Semantic,
		Kind:      typeOf(x.XSIType, x.Type),
	}
	switch p.Kind {
	case types.ParamCodedConst, types.ParamValue, types.ParamReserved, types.ParamMatchingReq, types.ParamNRCConst:
	case "":
		return types.Param{}, violation(path, "missing xsi:type")
	default:
		return types.Param{}, violation(path, "unsupported parameter type %q", p.Kind)
	}

	coded := p.Kind == types.ParamCodedConst || p.Kind == types.ParamNRCConst
	if x.BytePosition == nil && coded {
		return types.Param{}, violation(path, "missing BYTE-POSITION")
	}
	if x.BytePosition != nil {
		p.BytePosition = *x.BytePosition
	}
	if x.CodedType != nil {
		p.BitLength = x.CodedType.BitLength
	}
	if raw := strings.TrimSpace(x.CodedValue); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return types.Param{}, &ParseError{Path: path, Msg: "invalid CODED-VALUE", Err: err}
		}
		p.CodedValue = &v
	} else if coded {
		return types.Param{}, violation(path, "missing CODED-VALUE")
	}
	if p.Kind == types.ParamMatchingReq {
		if x.RequestBytePos == nil {
			return types.Param{}, violation(path, "missing REQUEST-BYTE-POS")
		}
		p.RequestBytePos = *x.RequestBytePos
	}
	return p, nil
}
