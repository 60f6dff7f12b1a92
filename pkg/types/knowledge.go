package types

import (
	"strings"
	"time"
)

// PatternKind is the kind of knowledge a discovery pattern proposes.
type PatternKind string

const (
	KindECU     PatternKind = "ECU"
	KindService PatternKind = "SERVICE"
	KindDID     PatternKind = "DID"
	KindDTC     PatternKind = "DTC"
	KindRoutine PatternKind = "ROUTINE"
)

// DiscoveryPattern is one candidate definition inferred from trace evidence.
type DiscoveryPattern struct {
	Kind          PatternKind    `json:"kind"`
	Identifier    string         `json:"identifier"`
	SuggestedName string         `json:"suggested_name"`
	Confidence    float64        `json:"confidence"`
	Known         bool           `json:"known"`
	Occurrences   int            `json:"occurrences"`
	Evidence      map[string]any `json:"evidence,omitempty"`
}

// Scope locates knowledge in the OEM / model / model-year / vehicle hierarchy.
type Scope struct {
	ID        string `json:"id,omitempty" yaml:"id"`
	OEM       string `json:"oem,omitempty" yaml:"oem"`
	Model     string `json:"model,omitempty" yaml:"model"`
	ModelYear string `json:"model_year,omitempty" yaml:"model_year"`
	VIN       string `json:"vin,omitempty" yaml:"vin"`
}

// Key returns the model-year scope id used for knowledge uniqueness.
func (s Scope) Key() string {
	if id := strings.TrimSpace(s.ID); id != "" {
		return id
	}
	parts := make([]string, 0, 3)
	for _, p := range []string{s.OEM, s.Model, s.ModelYear} {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		parts = append(parts, strings.ReplaceAll(p, " ", "-"))
	}
	if len(parts) == 0 {
		return "global"
	}
	return strings.Join(parts, "/")
}

// KnowledgeRecord is an entry in the knowledge store.
type KnowledgeRecord struct {
	ID          int64       `json:"id,omitempty"`
	Kind        PatternKind `json:"kind"`
	Identifier  string      `json:"identifier"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	ScopeID     string      `json:"scope_id"`
	Scope       Scope       `json:"scope"`
	Confidence  float64     `json:"confidence"`
	Verified    bool        `json:"verified"`
	Source      string      `json:"source"`
	CreatedBy   string      `json:"created_by"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Discovery run statuses.
const (
	RunRunning   = "RUNNING"
	RunCompleted = "COMPLETED"
	RunFailed    = "FAILED"
)

// DiscoveryRun is the audit row of one discovery-apply.
type DiscoveryRun struct {
	ID         string    `json:"id"`
	JobID      string    `json:"job_id,omitempty"`
	ScopeID    string    `json:"scope_id"`
	Status     string    `json:"status"`
	Created    int       `json:"created"`
	Existing   int       `json:"existing"`
	Pending    int       `json:"pending"`
	Errored    int       `json:"errored"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}
