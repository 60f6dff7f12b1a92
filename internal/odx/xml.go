package odx

import "encoding/xml"

// ModelVersion is written on every document root.
const ModelVersion = "2.2.0"

const xsiNamespace = "http://www.w3.org/2001/XMLSchema-instance"

// Attributes typed through xsi:type carry two fields: XSIType is written with its prefix and
// Type matches the attribute on read whatever prefix the document bound.

type xmlODX struct {
	XMLName      xml.Name               `xml:"ODX"`
	XMLNSXSI     string                 `xml:"xmlns:xsi,attr,omitempty"`
	ModelVersion string                 `xml:"MODEL-VERSION,attr"`
	Vehicle      *xmlVehicleInfoSpec    `xml:"VEHICLE-INFO-SPEC"`
	Container    *xmlDiagLayerContainer `xml:"DIAG-LAYER-CONTAINER"`
	ComParams    *xmlComParamSubset     `xml:"COMPARAM-SUBSET"`
}

type xmlRef struct {
	IDRef   string `xml:"ID-REF,attr"`
	XSIType string `xml:"xsi:type,attr,omitempty"`
	Type    string `xml:"type,attr,omitempty"`
}

type xmlSD struct {
	SI    string `xml:"SI,attr"`
	Value string `xml:",chardata"`
}

type xmlSDG struct {
	SDs []xmlSD `xml:"SD"`
}

type xmlSDGs struct {
	SDGs []xmlSDG `xml:"SDG"`
}

// Vehicle information unit.

type xmlVehicleInfoSpec struct {
	ID        string                  `xml:"ID,attr"`
	ShortName string                  `xml:"SHORT-NAME"`
	LongName  string                  `xml:"LONG-NAME,omitempty"`
	Infos     []xmlVehicleInformation `xml:"VEHICLE-INFORMATIONS>VEHICLE-INFORMATION"`
}

type xmlVehicleInformation struct {
	ShortName string           `xml:"SHORT-NAME"`
	LongName  string           `xml:"LONG-NAME,omitempty"`
	SDGs      *xmlSDGs         `xml:"SDGS"`
	Links     []xmlLogicalLink `xml:"LOGICAL-LINKS>LOGICAL-LINK"`
}

type xmlLogicalLink struct {
	ID          string  `xml:"ID,attr"`
	ShortName   string  `xml:"SHORT-NAME"`
	LayerRef    *xmlRef `xml:"BASE-VARIANT-REF"`
	ProtocolRef *xmlRef `xml:"PROTOCOL-REF"`
}

// Diagnostic layer unit.

type xmlDiagLayerContainer struct {
	ID           string         `xml:"ID,attr"`
	ShortName    string         `xml:"SHORT-NAME"`
	LongName     string         `xml:"LONG-NAME,omitempty"`
	Protocols    []xmlProtocol  `xml:"PROTOCOLS>PROTOCOL"`
	BaseVariants []xmlDiagLayer `xml:"BASE-VARIANTS>BASE-VARIANT"`
	ECUVariants  []xmlDiagLayer `xml:"ECU-VARIANTS>ECU-VARIANT"`
}

type xmlProtocol struct {
	ID           string  `xml:"ID,attr"`
	ShortName    string  `xml:"SHORT-NAME"`
	LongName     string  `xml:"LONG-NAME,omitempty"`
	ComParamSpec *xmlRef `xml:"COMPARAM-SPEC-REF"`
}

type xmlDiagLayer struct {
	ID           string           `xml:"ID,attr"`
	ShortName    string           `xml:"SHORT-NAME"`
	LongName     string           `xml:"LONG-NAME,omitempty"`
	SDGs         *xmlSDGs         `xml:"SDGS"`
	Services     []xmlDiagService `xml:"DIAG-COMMS>DIAG-SERVICE"`
	Requests     []xmlMessage     `xml:"REQUESTS>REQUEST"`
	PosResponses []xmlMessage     `xml:"POS-RESPONSES>POS-RESPONSE"`
	NegResponses []xmlMessage     `xml:"NEG-RESPONSES>NEG-RESPONSE"`
	DTCDOPs      []xmlDTCDOP      `xml:"DIAG-DATA-DICTIONARY-SPEC>DTC-DOPS>DTC-DOP"`
	ParentRefs   []xmlRef         `xml:"PARENT-REFS>PARENT-REF"`
}

type xmlDiagService struct {
	ID           string   `xml:"ID,attr"`
	Semantic     string   `xml:"SEMANTIC,attr,omitempty"`
	Addressing   string   `xml:"ADDRESSING,attr,omitempty"`
	ShortName    string   `xml:"SHORT-NAME"`
	LongName     string   `xml:"LONG-NAME,omitempty"`
	RequestRef   *xmlRef  `xml:"REQUEST-REF"`
	PosResponses []xmlRef `xml:"POS-RESPONSE-REFS>POS-RESPONSE-REF"`
	NegResponses []xmlRef `xml:"NEG-RESPONSE-REFS>NEG-RESPONSE-REF"`
}

type xmlMessage struct {
	ID        string     `xml:"ID,attr"`
	ShortName string     `xml:"SHORT-NAME"`
	Params    []xmlParam `xml:"PARAMS>PARAM"`
}

type xmlParam struct {
	Semantic       string            `xml:"SEMANTIC,attr,omitempty"`
	XSIType        string            `xml:"xsi:type,attr,omitempty"`
	Type           string            `xml:"type,attr,omitempty"`
	ShortName      string            `xml:"SHORT-NAME"`
	LongName       string            `xml:"LONG-NAME,omitempty"`
	BytePosition   *int              `xml:"BYTE-POSITION"`
	CodedValue     string            `xml:"CODED-VALUE,omitempty"`
	RequestBytePos *int              `xml:"REQUEST-BYTE-POS"`
	CodedType      *xmlDiagCodedType `xml:"DIAG-CODED-TYPE"`
}

type xmlDiagCodedType struct {
	BaseDataType string `xml:"BASE-DATA-TYPE,attr,omitempty"`
	XSIType      string `xml:"xsi:type,attr,omitempty"`
	Type         string `xml:"type,attr,omitempty"`
	BitLength    int    `xml:"BIT-LENGTH,omitempty"`
}

type xmlDTCDOP struct {
	ID        string   `xml:"ID,attr"`
	ShortName string   `xml:"SHORT-NAME"`
	DTCs      []xmlDTC `xml:"DTCS>DTC"`
}

type xmlDTC struct {
	ID                 string   `xml:"ID,attr"`
	ShortName          string   `xml:"SHORT-NAME"`
	TroubleCode        string   `xml:"TROUBLE-CODE"`
	DisplayTroubleCode string   `xml:"DISPLAY-TROUBLE-CODE,omitempty"`
	Text               string   `xml:"TEXT,omitempty"`
	Level              int      `xml:"LEVEL,omitempty"`
	SDGs               *xmlSDGs `xml:"SDGS"`
}

// Communication parameter unit.

type xmlComParamSubset struct {
	ID        string        `xml:"ID,attr"`
	Category  string        `xml:"CATEGORY,attr,omitempty"`
	ShortName string        `xml:"SHORT-NAME"`
	LongName  string        `xml:"LONG-NAME,omitempty"`
	ComParams []xmlComParam `xml:"COMPARAMS>COMPARAM"`
}

type xmlComParam struct {
	ID           string `xml:"ID,attr"`
	ParamClass   string `xml:"PARAM-CLASS,attr,omitempty"`
	ShortName    string `xml:"SHORT-NAME"`
	DefaultValue string `xml:"PHYSICAL-DEFAULT-VALUE"`
}

func typeOf(xsiType, typ string) string {
	if typ != "" {
		return typ
	}
	return xsiType
}

func sdValue(sdgs *xmlSDGs, si string) string {
	if sdgs == nil {
		return ""
	}
	for _, g := range sdgs.SDGs {
		for _, sd := range g.SDs {
			if sd.SI == si {
				return sd.Value
			}
		}
	}
	return ""
}

func newSDGs(pairs ...string) *xmlSDGs {
	var sds []xmlSD
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			continue
		}
		sds = append(sds, xmlSD{SI: pairs[i], Value: pairs[i+1]})
	}
	if len(sds) == 0 {
		return nil
	}
	return &xmlSDGs{SDGs: []xmlSDG{{SDs: sds}}}
}
