package types

// ODX variant kinds.
const (
	VariantBase = "BASE-VARIANT"
	VariantECU  = "ECU-VARIANT"
)

// ODX addressing modes.
const (
	AddressingPhysical             = "PHYSICAL"
	AddressingFunctional           = "FUNCTIONAL"
	AddressingFunctionalOrPhysical = "FUNCTIONAL-OR-PHYSICAL"
)

// ODX parameter kinds (xsi:type of PARAM).
const (
	ParamCodedConst  = "CODED-CONST"
	ParamValue       = "VALUE"
	ParamReserved    = "RESERVED"
	ParamMatchingReq = "MATCHING-REQUEST-PARAM"
	ParamNRCConst    = "NRC-CONST"
)

// ODXProject is the in-memory form of a set of ODX units.
type ODXProject struct {
	Vehicle   VehicleInfo    `json:"vehicle"`
	Protocol  ProtocolLayer  `json:"protocol"`
	ComParams ComParamSubset `json:"com_params"`
	Layers    []DiagLayer    `json:"layers"`
}

// VehicleInfo describes the vehicle and its logical links to ECUs.
type VehicleInfo struct {
	ID           string        `json:"id"`
	ShortName    string        `json:"short_name"`
	LongName     string        `json:"long_name,omitempty"`
	OEM          string        `json:"oem,omitempty"`
	Model        string        `json:"model,omitempty"`
	ModelYear    string        `json:"model_year,omitempty"`
	VIN          string        `json:"vin,omitempty"`
	LogicalLinks []LogicalLink `json:"logical_links,omitempty"`
}

// LogicalLink binds an ECU layer to the protocol.
type LogicalLink struct {
	ID          string `json:"id"`
	ShortName   string `json:"short_name"`
	LayerRef    string `json:"layer_ref"`
	ProtocolRef string `json:"protocol_ref"`
}

// ProtocolLayer is the protocol diagnostic layer.
type ProtocolLayer struct {
	ID          string `json:"id"`
	ShortName   string `json:"short_name"`
	LongName    string `json:"long_name,omitempty"`
	ComParamRef string `json:"com_param_ref,omitempty"`
}

// ComParamSubset carries communication parameters.
type ComParamSubset struct {
	ID        string     `json:"id"`
	ShortName string     `json:"short_name"`
	LongName  string     `json:"long_name,omitempty"`
	Params    []ComParam `json:"params,omitempty"`
}

// ComParam is one communication parameter with its default value.
type ComParam struct {
	ID           string `json:"id"`
	ShortName    string `json:"short_name"`
	ParamClass   string `json:"param_class"`
	DefaultValue string `json:"default_value"`
}

// DiagLayer is a base variant or ECU variant.
type DiagLayer struct {
	ID             string        `json:"id"`
	ShortName      string        `json:"short_name"`
	LongName       string        `json:"long_name,omitempty"`
	Variant        string        `json:"variant"`
	ParentRef      string        `json:"parent_ref,omitempty"`
	LogicalAddress string        `json:"logical_address,omitempty"`
	Services       []DiagService `json:"services,omitempty"`
	DTCs           []DTC         `json:"dtcs,omitempty"`
}

// DiagService is one diagnostic service with its request and response templates.
type DiagService struct {
	ID               string   `json:"id"`
	ShortName        string   `json:"short_name"`
	LongName         string   `json:"long_name,omitempty"`
	Semantic         string   `json:"semantic,omitempty"`
	Addressing       string   `json:"addressing"`
	Request          Message  `json:"request"`
	PositiveResponse *Message `json:"positive_response,omitempty"`
	NegativeResponse *Message `json:"negative_response,omitempty"`
}

// Message is a request or response template.
type Message struct {
	ID        string  `json:"id"`
	ShortName string  `json:"short_name"`
	Params    []Param `json:"params"`
}

// Param is one positioned field of a message.
type Param struct {
	ShortName      string `json:"short_name"`
	LongName       string `json:"long_name,omitempty"`
	Semantic       string `json:"semantic,omitempty"`
	Kind           string `json:"kind"`
	BytePosition   int    `json:"byte_position"`
	BitLength      int    `json:"bit_length,omitempty"`
	CodedValue     *int64 `json:"coded_value,omitempty"`
	RequestBytePos int    `json:"request_byte_pos,omitempty"`
}

// DTC is an ODX trouble-code definition.
type DTC struct {
	ID                 string `json:"id"`
	ShortName          string `json:"short_name"`
	TroubleCode        uint32 `json:"trouble_code"`
	DisplayTroubleCode string `json:"display_trouble_code,omitempty"`
	Text               string `json:"text,omitempty"`
	Level              int    `json:"level,omitempty"`
	Severity           string `json:"severity,omitempty"`
}
