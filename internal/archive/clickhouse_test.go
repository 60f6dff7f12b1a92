package archive

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/diagflow/internal/trace"
	"github.com/yourorg/diagflow/pkg/types"
)

func TestRowsSkipsMetadataAndAnchorsTime(t *testing.T) {
	day := time.Date(2024, 3, 14, 17, 30, 0, 0, time.UTC)
	msgs := []types.TraceMessage{
		{LineNumber: 1, MetaKey: "VIN", MetaValue: "SALEA7EU0N2000001"},
		{LineNumber: 2, TimestampMs: 36_000_050, Direction: types.DirectionOutbound, Protocol: "DoIP", SourceAddress: "0E80", TargetAddress: "0010", Payload: "22F190"},
		{LineNumber: 3, TimestampMs: 36_000_100, Direction: types.DirectionInbound, Protocol: "DoIP", SourceAddress: "0010", TargetAddress: "0E80"},
	}

	rows := Rows("job_20240314_001", day, msgs)
	require.Len(t, rows, 2)

	assert.Equal(t, uint32(2), rows[0].LineNumber)
	assert.Equal(t, time.Date(2024, 3, 14, 10, 0, 0, 50_000_000, time.UTC), rows[0].Timestamp)
	assert.Equal(t, uint8(0x22), rows[0].ServiceID)
	assert.Equal(t, []uint8{0x22, 0xF1, 0x90}, rows[0].Payload)
	assert.Equal(t, "outbound", rows[0].Direction)

	assert.Equal(t, uint8(0), rows[1].ServiceID)
	assert.NotNil(t, rows[1].Payload)
	assert.Empty(t, rows[1].Payload)
}

func TestRowsKeepsDatedTimestamps(t *testing.T) {
	m, ok := trace.ParseLine("2024-03-01 10:00:00.100 | [local]->[remote] DoIP => [0x8001] source[0E80] target[0010] data[10 03]", 1)
	require.True(t, ok)

	rows := Rows("job_20240301_001", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), []types.TraceMessage{m})
	require.Len(t, rows, 1)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 100_000_000, time.UTC), rows[0].Timestamp)
	assert.Equal(t, uint8(0x10), rows[0].ServiceID)
}

func TestCreateTableSQL(t *testing.T) {
	sql := createTableSQL("trace_messages")
	assert.True(t, strings.Contains(sql, "CREATE TABLE IF NOT EXISTS trace_messages"))
	assert.Contains(t, sql, "ENGINE = MergeTree()")
	assert.Contains(t, sql, "ORDER BY (job_id, line_number)")
}
