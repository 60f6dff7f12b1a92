package odx

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/diagflow/internal/procedure"
	"github.com/yourorg/diagflow/pkg/types"
)

func req(ts int64, ecu, payload string) types.TraceMessage {
	return types.TraceMessage{TimestampMs: ts, Direction: types.DirectionOutbound, SourceAddress: "0E80", TargetAddress: ecu, Payload: payload}
}

func rsp(ts int64, ecu, payload string) types.TraceMessage {
	return types.TraceMessage{TimestampMs: ts, Direction: types.DirectionInbound, SourceAddress: ecu, TargetAddress: "0E80", Payload: payload}
}

func buildSample(t *testing.T) *types.ODXProject {
	t.Helper()
	msgs := []types.TraceMessage{
		req(0, "0010", "1003"),
		rsp(5, "0010", "5003001900C8"),
		req(10, "0010", "22F190"),
		rsp(15, "0010", "62F190575657"),
		req(20, "0010", "22F187"),
		rsp(25, "0010", "62F187504E2D31"),
		req(30, "0010", "1902FF"),
		rsp(35, "0010", "5902FF01234509"),
		req(40, "E400", "1003"),
		req(50, "0020", "31010203"),
		rsp(55, "0020", "710102030001"),
	}
	opts := procedure.Options{FunctionalAddresses: []string{"E400"}}
	res := procedure.Group(msgs, opts)
	return Build(BuildInput{
		VehicleName:         "Defender 2022",
		ProtocolName:        "UDS_ON_DOIP",
		Scope:               types.Scope{OEM: "Land Rover", Model: "Defender", ModelYear: "2022"},
		VIN:                 "SALEA7EU0N2000001",
		Summaries:           procedure.Summarize(res, map[string]string{"0010": "Engine Control Module"}),
		Procedures:          res.Procedures,
		FunctionalAddresses: opts.FunctionalAddresses,
	})
}

func TestBuild(t *testing.T) {
	p := buildSample(t)

	assert.Equal(t, "Defender_2022", p.Vehicle.ShortName)
	assert.Equal(t, "Land Rover Defender 2022", p.Vehicle.LongName)
	require.Len(t, p.Vehicle.LogicalLinks, 2)
	assert.Equal(t, "BV_ECU_0010", p.Vehicle.LogicalLinks[0].LayerRef)

	assert.Equal(t, "25", p.ComParams.Params[0].DefaultValue)
	assert.Equal(t, "2000", p.ComParams.Params[1].DefaultValue)
	assert.Equal(t, "0E80", p.ComParams.Params[2].DefaultValue)

	require.Len(t, p.Layers, 3)
	ecm := p.Layers[0]
	assert.Equal(t, types.VariantBase, ecm.Variant)
	assert.Equal(t, "Engine Control Module", ecm.LongName)
	assert.Equal(t, "0010", ecm.LogicalAddress)
	require.Len(t, ecm.Services, 4)

	session := ecm.Services[0]
	assert.Equal(t, "Request_Extended_Diagnostic_Session", session.ShortName)
	assert.Equal(t, "SESSION", session.Semantic)
	assert.Equal(t, types.AddressingFunctionalOrPhysical, session.Addressing)
	require.Len(t, session.Request.Params, 2)
	assert.Equal(t, int64(0x10), *session.Request.Params[0].CodedValue)
	assert.Equal(t, int64(0x03), *session.Request.Params[1].CodedValue)
	require.NotNil(t, session.PositiveResponse)
	echo := session.PositiveResponse.Params[1]
	assert.Equal(t, types.ParamMatchingReq, echo.Kind)
	assert.Equal(t, 1, echo.RequestBytePos)
	assert.Equal(t, 2, echo.BytePosition)
	assert.Equal(t, 8, echo.BitLength)
	assert.Equal(t, int64(0x50), *session.PositiveResponse.Params[0].CodedValue)
	data := session.PositiveResponse.Params[2]
	assert.Equal(t, 3, data.BytePosition)
	assert.Equal(t, 24, data.BitLength)

	neg := session.NegativeResponse
	require.NotNil(t, neg)
	assert.Equal(t, int64(0x7F), *neg.Params[0].CodedValue)
	assert.Equal(t, 1, neg.Params[1].BytePosition)
	assert.Equal(t, 0, neg.Params[1].RequestBytePos)
	assert.Equal(t, 2, neg.Params[2].BytePosition)

	vin := ecm.Services[1]
	assert.Equal(t, types.AddressingPhysical, vin.Addressing)
	assert.Equal(t, int64(0xF190), *vin.Request.Params[1].CodedValue)
	assert.Equal(t, 16, vin.Request.Params[1].BitLength)
	didEcho := vin.PositiveResponse.Params[1]
	assert.Equal(t, 1, didEcho.RequestBytePos)
	assert.Equal(t, 2, didEcho.BytePosition)
	assert.Equal(t, 16, didEcho.BitLength)

	require.Len(t, ecm.DTCs, 1)
	assert.Equal(t, uint32(0x012345), ecm.DTCs[0].TroubleCode)
	assert.Equal(t, "P0123-45", ecm.DTCs[0].DisplayTroubleCode)
	assert.Equal(t, "medium", ecm.DTCs[0].Severity)
	assert.Equal(t, 2, ecm.DTCs[0].Level)

	variant := p.Layers[1]
	assert.Equal(t, types.VariantECU, variant.Variant)
	assert.Equal(t, ecm.ID, variant.ParentRef)
	assert.Equal(t, "ECU_0010_PN_1", variant.ShortName)

	other := p.Layers[2]
	assert.Equal(t, "ECU 0020", other.LongName)
	require.Len(t, other.Services, 1)
	assert.Equal(t, "ROUTINE", other.Services[0].Semantic)
}

func TestRoundTripThroughFiles(t *testing.T) {
	p := buildSample(t)
	dir := t.TempDir()

	paths, err := WriteProject(p, dir)
	require.NoError(t, err)
	require.Len(t, paths, 5)
	assert.True(t, strings.HasSuffix(paths[0], ExtVehicle))
	assert.True(t, strings.HasSuffix(paths[2], ExtComParams))

	got, err := ParseFiles(paths...)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestRoundTripEachUnit(t *testing.T) {
	p := buildSample(t)

	data, err := MarshalLayers(p.Layers[:2])
	require.NoError(t, err)
	assert.Contains(t, string(data), `MODEL-VERSION="2.2.0"`)
	assert.Contains(t, string(data), `xsi:type="MATCHING-REQUEST-PARAM"`)
	got, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, p.Layers[:2], got.Layers)

	for _, svc := range got.Layers[0].Services {
		assert.NotEmpty(t, svc.ShortName)
		assert.NotEmpty(t, svc.Addressing)
	}

	data, err = MarshalComParams(p.ComParams)
	require.NoError(t, err)
	got, err = Parse(data)
	require.NoError(t, err)
	assert.Equal(t, p.ComParams, got.ComParams)
	assert.Empty(t, got.Layers)
}

func TestParseAcceptsForeignXSIPrefix(t *testing.T) {
	doc := `<?xml version="1.0"?>
<ODX MODEL-VERSION="2.2.0" xmlns:x="http://www.w3.org/2001/XMLSchema-instance">
  <DIAG-LAYER-CONTAINER ID="DLC_A">
    <SHORT-NAME>DLC_A</SHORT-NAME>
    <BASE-VARIANTS>
      <BASE-VARIANT ID="BV_A">
        <SHORT-NAME>A</SHORT-NAME>
        <DIAG-COMMS>
          <DIAG-SERVICE ID="DS_A" ADDRESSING="FUNCTIONAL">
            <SHORT-NAME>Reset</SHORT-NAME>
            <REQUEST-REF ID-REF="RQ_A"/>
          </DIAG-SERVICE>
        </DIAG-COMMS>
        <REQUESTS>
          <REQUEST ID="RQ_A">
            <SHORT-NAME>RQ_Reset</SHORT-NAME>
            <PARAMS>
              <PARAM x:type="CODED-CONST">
                <SHORT-NAME>SID</SHORT-NAME>
                <BYTE-POSITION>0</BYTE-POSITION>
                <CODED-VALUE>17</CODED-VALUE>
                <DIAG-CODED-TYPE x:type="STANDARD-LENGTH-TYPE" BASE-DATA-TYPE="A_UINT32"><BIT-LENGTH>8</BIT-LENGTH></DIAG-CODED-TYPE>
              </PARAM>
            </PARAMS>
          </REQUEST>
        </REQUESTS>
      </BASE-VARIANT>
    </BASE-VARIANTS>
  </DIAG-LAYER-CONTAINER>
</ODX>`
	p, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.Len(t, p.Layers, 1)
	svc := p.Layers[0].Services[0]
	assert.Equal(t, types.AddressingFunctional, svc.Addressing)
	assert.Equal(t, types.ParamCodedConst, svc.Request.Params[0].Kind)
	assert.Equal(t, int64(17), *svc.Request.Params[0].CodedValue)
	assert.Equal(t, 8, svc.Request.Params[0].BitLength)
	assert.Nil(t, svc.PositiveResponse)
}

func TestParseRejectsMalformedInput(t *testing.T) {
	layer := func(body string) string {
		return `<ODX MODEL-VERSION="2.2.0" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">
<DIAG-LAYER-CONTAINER ID="DLC"><SHORT-NAME>DLC</SHORT-NAME><BASE-VARIANTS>
<BASE-VARIANT ID="BV"><SHORT-NAME>BV</SHORT-NAME>` + body + `</BASE-VARIANT>
</BASE-VARIANTS></DIAG-LAYER-CONTAINER></ODX>`
	}
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"empty", "", "empty document"},
		{"truncated", `<ODX MODEL-VERSION="2.2.0"><DIAG-LAYER-CONTAINER>`, "malformed xml"},
		{"wrong root", `<CATALOG/>`, "malformed xml"},
		{"no unit", `<ODX MODEL-VERSION="2.2.0"/>`, "no VEHICLE-INFO-SPEC"},
		{"missing short name", `<ODX><COMPARAM-SUBSET ID="C"/></ODX>`, "missing SHORT-NAME"},
		{"dangling request ref", layer(`<DIAG-COMMS><DIAG-SERVICE ID="DS"><SHORT-NAME>S</SHORT-NAME><REQUEST-REF ID-REF="NOPE"/></DIAG-SERVICE></DIAG-COMMS>`), `REQUEST-REF "NOPE" does not resolve`},
		{"missing request ref", layer(`<DIAG-COMMS><DIAG-SERVICE ID="DS"><SHORT-NAME>S</SHORT-NAME></DIAG-SERVICE></DIAG-COMMS>`), "missing REQUEST-REF"},
		{"coded param without position", layer(`<REQUESTS><REQUEST ID="RQ"><SHORT-NAME>RQ</SHORT-NAME><PARAMS><PARAM xsi:type="CODED-CONST"><SHORT-NAME>SID</SHORT-NAME><CODED-VALUE>16</CODED-VALUE></PARAM></PARAMS></REQUEST></REQUESTS>`), "missing BYTE-POSITION"},
		{"unknown param type", layer(`<REQUESTS><REQUEST ID="RQ"><SHORT-NAME>RQ</SHORT-NAME><PARAMS><PARAM xsi:type="TABLE-KEY"><SHORT-NAME>K</SHORT-NAME></PARAM></PARAMS></REQUEST></REQUESTS>`), "unsupported parameter type"},
		{"dtc without trouble code", layer(`<DIAG-DATA-DICTIONARY-SPEC><DTC-DOPS><DTC-DOP ID="D"><SHORT-NAME>D</SHORT-NAME><DTCS><DTC ID="X"><SHORT-NAME>X</SHORT-NAME></DTC></DTCS></DTC-DOP></DTC-DOPS></DIAG-DATA-DICTIONARY-SPEC>`), "missing TROUBLE-CODE"},
		{"bad trouble code", layer(`<DIAG-DATA-DICTIONARY-SPEC><DTC-DOPS><DTC-DOP ID="D"><SHORT-NAME>D</SHORT-NAME><DTCS><DTC ID="X"><SHORT-NAME>X</SHORT-NAME><TROUBLE-CODE>P0123</TROUBLE-CODE></DTC></DTCS></DTC-DOP></DTC-DOPS></DIAG-DATA-DICTIONARY-SPEC>`), "invalid TROUBLE-CODE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Nil(t, p)
			assert.True(t, errors.Is(err, ErrSchemaViolation))
			var pe *ParseError
			require.True(t, errors.As(err, &pe))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseFilesReportsPath(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.odx-d")
	require.NoError(t, os.WriteFile(bad, []byte("<ODX>"), 0644))
	_, err := ParseFiles(bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemaViolation)
	assert.Contains(t, err.Error(), "bad.odx-d")
}

func TestIdentifier(t *testing.T) {
	assert.Equal(t, "Request_Extended_Diagnostic_Session", identifier("Request Extended Diagnostic Session", "X"))
	assert.Equal(t, "_0010", identifier("0010", "X"))
	assert.Equal(t, "X", identifier(" -- ", "X"))
	assert.Equal(t, "Read_VIN", identifier("Read VIN!", "X"))
}
