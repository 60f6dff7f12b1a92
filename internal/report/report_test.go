package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/yourorg/diagflow/internal/discovery"
	"github.com/yourorg/diagflow/pkg/types"
)

func sampleInput() Input {
	return Input{
		Job: types.Job{ID: "job_20240314_001", Name: "Workshop run", ScopeID: "land-rover/defender/2022", VIN: "SALEA7EU0N2000001", MessageCount: 42},
		Summaries: []types.EcuSummary{
			{Address: "0010", Name: "Engine Control Module", Known: true, RequestCount: 10, ResponseCount: 10, DTCCount: 1, Services: []string{"ReadDataByIdentifier"}},
			{Address: "1A01", Name: "ECU 1A01", RequestCount: 2, ResponseCount: 1},
		},
		Procedures: []types.DiagnosticProcedure{
			{ID: "0010_dtc_management_0", ECUAddress: "0010", Type: types.ProcedureDTCManagement, Status: types.StatusCompleted, RequestCount: 1, ResponseCount: 1,
				Data: types.ExtractedData{DTCs: []types.DTCRecord{{Code: "012345", DisplayCode: "P0123-45", Phase: types.PhasePreScan, FailureType: "Circuit open"}}}},
			{ID: "1A01_security_access_0", ECUAddress: "1A01", Type: types.ProcedureSecurityAccess, Status: types.StatusFailed, RequestCount: 2, ResponseCount: 1, ErrorCount: 1},
		},
		Patterns: []types.DiscoveryPattern{{Kind: types.KindDID, Identifier: "F190", SuggestedName: "VIN", Confidence: 0.95, Known: true, Occurrences: 3}},
		Apply:    &discovery.ApplyResult{Run: types.DiscoveryRun{ID: "run-1", Status: types.RunCompleted, Created: 1}},
		ODXFiles: []string{"/tmp/out/VI_VEHICLE.odx-v"},
	}
}

func TestMarkdownSections(t *testing.T) {
	md := Markdown(sampleInput())
	assert.Contains(t, md, "# Workshop run")
	assert.Contains(t, md, "- VIN: `SALEA7EU0N2000001`")
	assert.Contains(t, md, "| 1A01 | ECU 1A01 (unknown) |")
	assert.Contains(t, md, "Security Access on 1A01: failed (2 req / 1 resp, 1 negative)")
	assert.Contains(t, md, "| 0010 | P0123-45 | pre-scan | medium | Circuit open |")
	assert.Contains(t, md, "Run `run-1` COMPLETED: 1 created")
	assert.Contains(t, md, "| DID | F190 | VIN | 0.95 | 3 |")
	assert.Contains(t, md, "- VI_VEHICLE.odx-v")
}

func TestMarkdownWithoutTraffic(t *testing.T) {
	md := Markdown(Input{Job: types.Job{ID: "job_1"}})
	assert.Contains(t, md, "# job_1")
	assert.Contains(t, md, "No ECU traffic.")
	assert.NotContains(t, md, "## DTCs")
}

func TestWriteMarkdownAndData(t *testing.T) {
	dir := t.TempDir()
	in := sampleInput()

	path, err := WriteMarkdown(in, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, SummaryFile), path)

	jsonPath, err := WriteData(in, dir, "json")
	require.NoError(t, err)
	raw, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var decoded Input
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, in.Job.ID, decoded.Job.ID)
	assert.Len(t, decoded.Procedures, 2)

	yamlPath, err := WriteData(in, dir, "yaml")
	require.NoError(t, err)
	raw, err = os.ReadFile(yamlPath)
	require.NoError(t, err)
	var generic map[string]any
	require.NoError(t, yaml.Unmarshal(raw, &generic))
	assert.Contains(t, generic, "ecus")

	_, err = WriteData(in, dir, "xml")
	assert.Error(t, err)
}

func TestTerminal(t *testing.T) {
	out := Terminal(sampleInput())
	assert.Contains(t, out, "job_20240314_001")
	assert.Contains(t, out, "1 completed")
	assert.Contains(t, out, "1 failed")
	assert.Contains(t, out, "COMPLETED: 1 created")
}
