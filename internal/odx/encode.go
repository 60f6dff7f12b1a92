package odx

import (
	"encoding/xml"
	"fmt"
	"strconv"

	"github.com/yourorg/diagflow/pkg/types"
)

func encode(doc *xmlODX) ([]byte, error) {
	doc.XMLNSXSI = xsiNamespace
	doc.ModelVersion = ModelVersion
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal odx: %w", err)
	}
	return append([]byte(xml.Header), append(out, '\n')...), nil
}

// MarshalVehicle encodes the vehicle information unit (.odx-v).
func MarshalVehicle(v types.VehicleInfo) ([]byte, error) {
	info := xmlVehicleInformation{
		ShortName: v.ShortName,
		LongName:  v.LongName,
		SDGs:      newSDGs("OEM", v.OEM, "MODEL", v.Model, "MODEL-YEAR", v.ModelYear, "VIN", v.VIN),
	}
	for _, l := range v.LogicalLinks {
		info.Links = append(info.Links, xmlLogicalLink{
			ID:          l.ID,
			ShortName:   l.ShortName,
			LayerRef:    &xmlRef{IDRef: l.LayerRef},
			ProtocolRef: &xmlRef{IDRef: l.ProtocolRef},
		})
	}
	return encode(&xmlODX{Vehicle: &xmlVehicleInfoSpec{
		ID:        v.ID,
		ShortName: v.ShortName,
		LongName:  v.LongName,
		Infos:     []xmlVehicleInformation{info},
	}})
}

// MarshalProtocol encodes the protocol layer unit (.odx-d).
func MarshalProtocol(p types.ProtocolLayer) ([]byte, error) {
	proto := xmlProtocol{ID: p.ID, ShortName: p.ShortName, LongName: p.LongName}
	if p.ComParamRef != "" {
		proto.ComParamSpec = &xmlRef{IDRef: p.ComParamRef}
	}
	return encode(&xmlODX{Container: &xmlDiagLayerContainer{
		ID:        "DLC_" + p.ShortName,
		ShortName: "DLC_" + p.ShortName,
		Protocols: []xmlProtocol{proto},
	}})
}

// MarshalComParams encodes the communication parameter unit (.odx-cs).
func MarshalComParams(c types.ComParamSubset) ([]byte, error) {
	subset := &xmlComParamSubset{
		ID:        c.ID,
		Category:  "PROTOCOL",
		ShortName: c.ShortName,
		LongName:  c.LongName,
	}
	for _, p := range c.Params {
		subset.ComParams = append(subset.ComParams, xmlComParam{
			ID:           p.ID,
			ParamClass:   p.ParamClass,
			ShortName:    p.ShortName,
			DefaultValue: p.DefaultValue,
		})
	}
	return encode(&xmlODX{ComParams: subset})
}

// MarshalLayers encodes base and ECU variants into one diagnostic layer container (.odx-d).
// The container takes its name from the first layer.
func MarshalLayers(layers []types.DiagLayer) ([]byte, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("marshal odx: no diagnostic layers")
	}
	c := &xmlDiagLayerContainer{
		ID:        "DLC_" + layers[0].ShortName,
		ShortName: "DLC_" + layers[0].ShortName,
	}
	for _, l := range layers {
		x := encodeLayer(l)
		switch l.Variant {
		case types.VariantECU:
			c.ECUVariants = append(c.ECUVariants, x)
		default:
			c.BaseVariants = append(c.BaseVariants, x)
		}
	}
	return encode(&xmlODX{Container: c})
}

func encodeLayer(l types.DiagLayer) xmlDiagLayer {
	x := xmlDiagLayer{
		ID:        l.ID,
		ShortName: l.ShortName,
		LongName:  l.LongName,
		SDGs:      newSDGs("LOGICAL-ADDRESS", l.LogicalAddress),
	}
	for _, s := range l.Services {
		svc := xmlDiagService{
			ID:         s.ID,
			Semantic:   s.Semantic,
			Addressing: s.Addressing,
			ShortName:  s.ShortName,
			LongName:   s.LongName,
			RequestRef: &xmlRef{IDRef: s.Request.ID},
		}
		x.Requests = append(x.Requests, encodeMessage(s.Request))
		if s.PositiveResponse != nil {
			svc.PosResponses = []xmlRef{{IDRef: s.PositiveResponse.ID}}
			x.PosResponses = append(x.PosResponses, encodeMessage(*s.PositiveResponse))
		}
		if s.NegativeResponse != nil {
			svc.NegResponses = []xmlRef{{IDRef: s.NegativeResponse.ID}}
			x.NegResponses = append(x.NegResponses, encodeMessage(*s.NegativeResponse))
		}
		x.Services = append(x.Services, svc)
	}
	if len(l.DTCs) > 0 {
		dop := xmlDTCDOP{ID: "DOP_" + l.ShortName + "_DTC", ShortName: "DTC_DOP"}
		for _, d := range l.DTCs {
			dop.DTCs = append(dop.DTCs, xmlDTC{
				ID:                 d.ID,
				ShortName:          d.ShortName,
				TroubleCode:        strconv.FormatUint(uint64(d.TroubleCode), 10),
				DisplayTroubleCode: d.DisplayTroubleCode,
				Text:               d.Text,
				Level:              d.Level,
				SDGs:               newSDGs("SEVERITY", d.Severity),
			})
		}
		x.DTCDOPs = []xmlDTCDOP{dop}
	}
	if l.ParentRef != "" {
		x.ParentRefs = []xmlRef{{IDRef: l.ParentRef, XSIType: "BASE-VARIANT-REF"}}
	}
	return x
}

func encodeMessage(m types.Message) xmlMessage {
	x := xmlMessage{ID: m.ID, ShortName: m.ShortName}
	for _, p := range m.Params {
		pos := p.BytePosition
		xp := xmlParam{
			Semantic:     p.Semantic,
			XSIType:      p.Kind,
			ShortName:    p.ShortName,
			LongName:     p.LongName,
			BytePosition: &pos,
		}
		if p.CodedValue != nil {
			xp.CodedValue = strconv.FormatInt(*p.CodedValue, 10)
		}
		if p.Kind == types.ParamMatchingReq {
			reqPos := p.RequestBytePos
			xp.RequestBytePos = &reqPos
		}
		if p.BitLength > 0 {
			xp.CodedType = &xmlDiagCodedType{
				BaseDataType: "A_UINT32",
				XSIType:      "STANDARD-LENGTH-TYPE",
				BitLength:    p.BitLength,
			}
		}
		x.Params = append(x.Params, xp)
	}
	return x
}
