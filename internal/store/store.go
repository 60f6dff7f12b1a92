package store

import (
	"errors"

	"github.com/yourorg/diagflow/internal/discovery"
	"github.com/yourorg/diagflow/pkg/types"
)

// ErrNotFound is returned when a job does not exist.
var ErrNotFound = errors.New("store: not found")

type Store interface {
	CreateJob(name, source string, scope types.Scope, vin string) (*types.Job, error)
	GetJob(id string) (*types.Job, error)
	UpdateJobStatus(id, status string) error
	UpdateJobVIN(id, vin string) error
	ListJobs() ([]types.Job, error)
	DeleteJob(id string) error

	SaveMessages(jobID string, msgs []types.TraceMessage) error
	GetMessages(jobID string) ([]types.TraceMessage, error)

	SaveProcedures(jobID string, procs []types.DiagnosticProcedure) error
	GetProcedures(jobID string) ([]types.DiagnosticProcedure, error)

	ListKnowledge(scopeID string) ([]types.KnowledgeRecord, error)
	ListDiscoveryRuns(jobID string) ([]types.DiscoveryRun, error)

	discovery.Repository

	Close() error
}
