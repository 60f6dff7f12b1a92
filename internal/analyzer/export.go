package analyzer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/yourorg/diagflow/internal/odx"
	"github.com/yourorg/diagflow/internal/procedure"
	"github.com/yourorg/diagflow/internal/report"
	"github.com/yourorg/diagflow/pkg/types"
)

// group regroups the stored messages of a job.
func (a *Analyzer) group(jobID string) (*types.Job, *procedure.Result, error) {
	job, err := a.store.GetJob(jobID)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := a.store.GetMessages(jobID)
	if err != nil {
		return nil, nil, fmt.Errorf("load messages: %w", err)
	}
	grouped := procedure.Group(msgs, procedure.Options{
		WindowMs:            a.cfg.Grouping.WindowMs,
		FunctionalAddresses: a.cfg.Grouping.FunctionalAddresses,
	})
	return job, grouped, nil
}

// Inspect rebuilds the report of a stored job without applying discovery.
func (a *Analyzer) Inspect(jobID string) (report.Input, error) {
	job, grouped, err := a.group(jobID)
	if err != nil {
		return report.Input{}, err
	}
	return report.Input{
		Job:        *job,
		Summaries:  procedure.Summarize(grouped, a.ref.ECUNames()),
		Procedures: grouped.Procedures,
		Patterns:   a.engine.Scan(grouped.Messages, grouped.Procedures),
	}, nil
}

// ExportODX writes the ODX project of a stored job into dir without touching the knowledge
// store, and returns the written paths.
func (a *Analyzer) ExportODX(ctx context.Context, jobID string, scope types.Scope, dir string) ([]string, error) {
	_, span := a.tracer.Start(ctx, "analyzer.export_odx")
	defer span.End()

	job, grouped, err := a.group(jobID)
	if err != nil {
		return nil, a.fail(span, err)
	}
	if scope.Key() != job.ScopeID {
		scope = types.Scope{ID: job.ScopeID}
	}
	project := odx.Build(odx.BuildInput{
		VehicleName:         a.cfg.ODX.VehicleName,
		ProtocolName:        a.cfg.ODX.ProtocolName,
		Scope:               scope,
		VIN:                 job.VIN,
		Summaries:           procedure.Summarize(grouped, a.ref.ECUNames()),
		Procedures:          grouped.Procedures,
		Patterns:            a.engine.Scan(grouped.Messages, grouped.Procedures),
		FunctionalAddresses: a.cfg.Grouping.FunctionalAddresses,
	})
	paths, err := odx.WriteProject(project, dir)
	if err != nil {
		return nil, a.fail(span, fmt.Errorf("write odx: %w", err))
	}
	a.logger.Info("odx exported", zap.String("job_id", jobID), zap.Int("files", len(paths)))
	return paths, nil
}
