package types

// ProcedureType classifies a diagnostic procedure by service family.
type ProcedureType string

const (
	ProcedureSessionControl ProcedureType = "session_control"
	ProcedureSecurityAccess ProcedureType = "security_access"
	ProcedureDataReading    ProcedureType = "data_reading"
	ProcedureDTCManagement  ProcedureType = "dtc_management"
	ProcedureRoutineControl ProcedureType = "routine_control"
	ProcedureTesterPresent  ProcedureType = "tester_present"
)

// ProcedureStatus is the lifecycle state of a procedure.
type ProcedureStatus string

const (
	StatusStarted   ProcedureStatus = "started"
	StatusCompleted ProcedureStatus = "completed"
	StatusFailed    ProcedureStatus = "failed"
	StatusTimeout   ProcedureStatus = "timeout"
)

// DTC scan phases relative to routine execution on the same ECU.
const (
	PhasePreScan  = "pre-scan"
	PhasePostScan = "post-scan"
)

// DiagnosticProcedure groups the messages exchanged with one ECU for one service family
// inside one time bucket.
type DiagnosticProcedure struct {
	ID            string          `json:"id"`
	ECUAddress    string          `json:"ecu_address"`
	Type          ProcedureType   `json:"type"`
	Name          string          `json:"name"`
	Bucket        int64           `json:"bucket"`
	StartMs       int64           `json:"start_ms"`
	EndMs         int64           `json:"end_ms"`
	Status        ProcedureStatus `json:"status"`
	Messages      []TraceMessage  `json:"messages,omitempty"`
	RequestCount  int             `json:"request_count"`
	ResponseCount int             `json:"response_count"`
	ErrorCount    int             `json:"error_count"`
	Data          ExtractedData   `json:"data"`
}

// DIDValue is one decoded data identifier read.
type DIDValue struct {
	DID   string `json:"did"`
	Name  string `json:"name"`
	Range string `json:"range"`
	Raw   string `json:"raw"`
	Text  string `json:"text,omitempty"`
}

// DTCSubRecord is a snapshot or extended data record reported for a DTC.
type DTCSubRecord struct {
	RecordNumber int    `json:"record_number"`
	Data         string `json:"data"`
}

// DTCRecord is one decoded diagnostic trouble code.
type DTCRecord struct {
	Code        string         `json:"code"`
	DisplayCode string         `json:"display_code"`
	Status      byte           `json:"status"`
	StatusFlags []string       `json:"status_flags,omitempty"`
	FailureType string         `json:"failure_type,omitempty"`
	Phase       string         `json:"phase,omitempty"`
	Snapshots   []DTCSubRecord `json:"snapshots,omitempty"`
	Extended    []DTCSubRecord `json:"extended,omitempty"`
}

// RoutineResult is one routine-control response.
type RoutineResult struct {
	RoutineID string `json:"routine_id"`
	Name      string `json:"name"`
	Action    string `json:"action"`
	Status    string `json:"status,omitempty"`
}

// ExtractedData is the structured content pulled out of a procedure's responses.
type ExtractedData struct {
	DataIdentifiers map[string]DIDValue `json:"data_identifiers,omitempty"`
	PartNumbers     []string            `json:"part_numbers,omitempty"`
	DTCs            []DTCRecord         `json:"dtcs,omitempty"`
	RoutineResults  []RoutineResult     `json:"routine_results,omitempty"`
	SessionType     string              `json:"session_type,omitempty"`
	P2Ms            int                 `json:"p2_ms,omitempty"`
	P2StarMs        int                 `json:"p2_star_ms,omitempty"`
	SecurityLevel   int                 `json:"security_level,omitempty"`
	DTCPhase        string              `json:"dtc_phase,omitempty"`
	DTCsCleared     bool                `json:"dtcs_cleared,omitempty"`
}

// Merge folds other into d. Slices concatenate, maps shallow-merge with other winning, and
// DTC entries carrying only sub-records attach to the matching code.
func (d *ExtractedData) Merge(other ExtractedData) {
	if len(other.DataIdentifiers) > 0 {
		if d.DataIdentifiers == nil {
			d.DataIdentifiers = make(map[string]DIDValue, len(other.DataIdentifiers))
		}
		for k, v := range other.DataIdentifiers {
			d.DataIdentifiers[k] = v
		}
	}
	d.PartNumbers = append(d.PartNumbers, other.PartNumbers...)
	for _, dtc := range other.DTCs {
		d.mergeDTC(dtc)
	}
	d.RoutineResults = append(d.RoutineResults, other.RoutineResults...)
	if other.SessionType != "" {
		d.SessionType = other.SessionType
	}
	if other.P2Ms != 0 {
		d.P2Ms = other.P2Ms
	}
	if other.P2StarMs != 0 {
		d.P2StarMs = other.P2StarMs
	}
	if other.SecurityLevel != 0 {
		d.SecurityLevel = other.SecurityLevel
	}
	if other.DTCPhase != "" {
		d.DTCPhase = other.DTCPhase
	}
	d.DTCsCleared = d.DTCsCleared || other.DTCsCleared
}

func (d *ExtractedData) mergeDTC(dtc DTCRecord) {
	subOnly := len(dtc.Snapshots) > 0 || len(dtc.Extended) > 0
	if subOnly {
		for i := range d.DTCs {
			if d.DTCs[i].Code == dtc.Code {
				d.DTCs[i].Snapshots = append(d.DTCs[i].Snapshots, dtc.Snapshots...)
				d.DTCs[i].Extended = append(d.DTCs[i].Extended, dtc.Extended...)
				return
			}
		}
	}
	d.DTCs = append(d.DTCs, dtc)
}

// EcuSummary aggregates what one run saw of an ECU. It is derived, never authoritative.
type EcuSummary struct {
	Address         string                  `json:"address"`
	Name            string                  `json:"name"`
	Known           bool                    `json:"known"`
	MessageCount    int                     `json:"message_count"`
	RequestCount    int                     `json:"request_count"`
	ResponseCount   int                     `json:"response_count"`
	FirstSeenMs     int64                   `json:"first_seen_ms"`
	LastSeenMs      int64                   `json:"last_seen_ms"`
	ProcedureCounts map[ProcedureType]int   `json:"procedure_counts,omitempty"`
	StatusCounts    map[ProcedureStatus]int `json:"status_counts,omitempty"`
	Services        []string                `json:"services,omitempty"`
	DTCCount        int                     `json:"dtc_count"`
	DIDCount        int                     `json:"did_count"`
}
