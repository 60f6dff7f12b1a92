package uds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/diagflow/pkg/types"
)

func TestFormatDTCSentinels(t *testing.T) {
	_, ok := FormatDTCHex("000000")
	assert.False(t, ok)
	_, ok = FormatDTCHex("FFFFFF")
	assert.False(t, ok)

	code, ok := FormatDTCHex("EF1882")
	require.True(t, ok)
	assert.Equal(t, "EF1882", code)

	_, ok = FormatDTC([]byte{0x01, 0x02})
	assert.False(t, ok)
}

func TestDisplayCode(t *testing.T) {
	assert.Equal(t, "P0123-45", DisplayCode([]byte{0x01, 0x23, 0x45}))
	assert.Equal(t, "U2F18-82", DisplayCode([]byte{0xEF, 0x18, 0x82}))
	assert.Equal(t, "C0035-00", DisplayCode([]byte{0x40, 0x35, 0x00}))
	assert.Equal(t, "B1A00-13", DisplayCode([]byte{0x9A, 0x00, 0x13}))
}

func TestParseDisplayCode(t *testing.T) {
	for _, code := range []string{"P0123-45", "U2F18-82", "C0035-00", "B1A00-13"} {
		b, err := ParseDisplayCode(code)
		require.NoError(t, err, code)
		assert.Equal(t, code, DisplayCode(b))
	}

	b, err := ParseDisplayCode("p0300")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03, 0x00, 0x00}, b)

	for _, bad := range []string{"", "X0123-00", "P4123-00", "P01-00", "P0123-ZZ"} {
		_, err := ParseDisplayCode(bad)
		assert.ErrorIs(t, err, ErrInvalidDisplayCode, bad)
	}
}

func TestDTCStatusFlags(t *testing.T) {
	assert.Equal(t, []string{"testFailed", "confirmedDTC"}, DTCStatusFlags(0x09))
	assert.Nil(t, DTCStatusFlags(0x00))
	assert.Len(t, DTCStatusFlags(0xFF), 8)
}

func TestDTCCategoryAndSeverity(t *testing.T) {
	assert.Equal(t, "Powertrain", DTCCategory("P0123-45"))
	assert.Equal(t, "Network", DTCCategory("U2F18-82"))
	assert.Equal(t, "high", DTCSeverity("C0035-00"))
	assert.Empty(t, DTCCategory(""))
}

func TestDecodeDTCResponseByStatusMask(t *testing.T) {
	// 59 02 FF | 012345 09 | 000000 00 | EF1882 08
	payload := []byte{0x59, 0x02, 0xFF, 0x01, 0x23, 0x45, 0x09, 0x00, 0x00, 0x00, 0x00, 0xEF, 0x18, 0x82, 0x08}
	recs := DecodeDTCResponse(payload, types.PhasePreScan)
	require.Len(t, recs, 2)
	assert.Equal(t, "012345", recs[0].Code)
	assert.Equal(t, "P0123-45", recs[0].DisplayCode)
	assert.Equal(t, byte(0x09), recs[0].Status)
	assert.Equal(t, types.PhasePreScan, recs[0].Phase)
	assert.Equal(t, "EF1882", recs[1].Code)
	assert.Equal(t, []string{"confirmedDTC"}, recs[1].StatusFlags)
}

func TestDecodeDTCResponseSnapshot(t *testing.T) {
	payload := []byte{0x59, 0x04, 0x01, 0x23, 0x45, 0x09, 0x01, 0xAA, 0xBB}
	recs := DecodeDTCResponse(payload, types.PhasePostScan)
	require.Len(t, recs, 1)
	require.Len(t, recs[0].Snapshots, 1)
	assert.Equal(t, 1, recs[0].Snapshots[0].RecordNumber)
	assert.Equal(t, "AABB", recs[0].Snapshots[0].Data)
}

func TestDecodeReadAndClearDTC(t *testing.T) {
	assert.Equal(t, "Report DTC By Status Mask (mask 0xFF)", DecodeHex("1902FF").Description)
	assert.Equal(t, "Report Number Of DTC By Status Mask: 3 DTCs", DecodeHex("5901FF010003").Description)
	assert.Equal(t, "Clear DTCs: All Groups", DecodeHex("14FFFFFF").Description)
	assert.Equal(t, "DTCs Cleared", DecodeHex("54").Label)
	assert.Equal(t, "Request DTC Setting Off", DecodeHex("8502").Description)
}

func TestFailureTypeDescription(t *testing.T) {
	assert.Equal(t, "Circuit open", FailureTypeDescription(0x13))
	assert.Empty(t, FailureTypeDescription(0x99))
}
