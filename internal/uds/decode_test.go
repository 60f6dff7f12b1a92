package uds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeHexNegativeResponse(t *testing.T) {
	r := DecodeHex("7F1031")
	assert.Equal(t, KindNegative, r.Kind)
	assert.Equal(t, SIDDiagnosticSessionControl, r.Service)
	assert.Equal(t, byte(0x31), r.NRC)
	assert.Equal(t, "Negative Response to Diagnostic Session Control: Request sequence error", r.Description)
}

func TestDecodeHexSessionRequest(t *testing.T) {
	r := DecodeHex("1003")
	assert.Equal(t, KindRequest, r.Kind)
	assert.Equal(t, "Diagnostic Session Control", r.ServiceLabel)
	assert.Equal(t, "Request Extended Diagnostic Session", r.Description)
}

func TestDecodeHexSessionResponseTiming(t *testing.T) {
	r := DecodeHex("5003001900C8")
	assert.Equal(t, KindPositive, r.Kind)
	assert.Equal(t, "Extended Diagnostic Session Active", r.Label)
	assert.Contains(t, r.Description, "P2=25ms")
	assert.Contains(t, r.Description, "P2*=2000ms")

	timing, ok := DecodeSessionTiming([]byte{0x50, 0x03, 0x00, 0x19, 0x00, 0xC8})
	require.True(t, ok)
	assert.Equal(t, SessionTiming{P2Ms: 25, P2StarMs: 2000}, timing)
}

func TestDecodeUnknownCodesDegrade(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"unknown service", "A5", "Service 0xA5"},
		{"unknown nrc", "7F22EE", "Negative Response to Read Data By Identifier: Unknown NRC 0xEE"},
		{"unknown rejected service", "7FA511", "Negative Response to Service 0xA5: Service not supported"},
		{"unknown session", "1055", "Request Session 0x55 Session"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DecodeHex(tc.in).Description)
		})
	}
}

func TestDecodeNeverPanicsOnShortPayloads(t *testing.T) {
	for _, in := range []string{"", "zz", "7F", "7F10", "10", "50", "27", "67", "22", "62", "19", "59", "14", "31", "71", "3E", "2E"} {
		assert.NotPanics(t, func() { DecodeHex(in) }, in)
	}
}

func TestDecodeSecurityAccess(t *testing.T) {
	assert.Equal(t, "Request Seed (Level 1)", DecodeHex("2701").Label)
	assert.Equal(t, "Send Key (Level 1)", DecodeHex("2702AABB").Label)
	assert.Equal(t, "Seed Received (Level 3)", DecodeHex("670511223344").Label)
	assert.Equal(t, "Security Access Granted (Level 3)", DecodeHex("6706").Label)
}

func TestDecodeSecurityLevel(t *testing.T) {
	tests := []struct {
		sub  byte
		want SecurityStep
	}{
		{0x01, SecurityStep{Level: 1, SeedRequest: true}},
		{0x02, SecurityStep{Level: 1}},
		{0x11, SecurityStep{Level: 9, SeedRequest: true}},
		{0x12, SecurityStep{Level: 9}},
	}
	for _, tc := range tests {
		got, ok := DecodeSecurityLevel(tc.sub)
		require.True(t, ok)
		assert.Equal(t, tc.want, got)
	}
	_, ok := DecodeSecurityLevel(0x00)
	assert.False(t, ok)
}

func TestDecodeRoutineControl(t *testing.T) {
	r := DecodeHex("3101FF00")
	assert.Equal(t, "Start Erase Memory", r.Label)
	r = DecodeHex("710112340A")
	assert.Equal(t, KindPositive, r.Kind)
	assert.Equal(t, "Start Routine 0x1234", r.Label)
	assert.Contains(t, r.Description, "0A")

	res, ok := DecodeRoutineResult([]byte{0x71, 0x03, 0x02, 0x03, 0x00})
	require.True(t, ok)
	assert.Equal(t, "0203", res.RoutineID)
	assert.Equal(t, "Request Results", res.Action)
	assert.Equal(t, "00", res.Status)
}

func TestRequestService(t *testing.T) {
	sid, resp, ok := RequestService([]byte{0x62, 0xF1, 0x90})
	require.True(t, ok)
	assert.True(t, resp)
	assert.Equal(t, SIDReadDataByIdentifier, sid)

	sid, resp, ok = RequestService([]byte{0x7F, 0x27, 0x35})
	require.True(t, ok)
	assert.True(t, resp)
	assert.Equal(t, SIDSecurityAccess, sid)

	_, _, ok = RequestService([]byte{0xA5})
	assert.False(t, ok)
}

func TestNRCDescription(t *testing.T) {
	assert.Equal(t, "Request correctly received - response pending", NRCDescription(NRCResponsePending))
	assert.Equal(t, "Unknown NRC 0x01", NRCDescription(0x01))
	assert.True(t, IsKnownNRC(0x35))
}
