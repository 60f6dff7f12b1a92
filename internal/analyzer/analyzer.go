// Package analyzer runs the trace pipeline: import, grouping, discovery, ODX and reports.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/yourorg/diagflow/internal/config"
	"github.com/yourorg/diagflow/internal/discovery"
	"github.com/yourorg/diagflow/internal/filter"
	"github.com/yourorg/diagflow/internal/metric"
	"github.com/yourorg/diagflow/internal/odx"
	"github.com/yourorg/diagflow/internal/procedure"
	"github.com/yourorg/diagflow/internal/report"
	"github.com/yourorg/diagflow/internal/store"
	tracelog "github.com/yourorg/diagflow/internal/trace"
	"github.com/yourorg/diagflow/pkg/types"
)

// ProgressFunc reports pipeline progress.
type ProgressFunc func(stage string)

// Archiver receives the persisted messages of a job.
type Archiver interface {
	Write(ctx context.Context, jobID string, day time.Time, msgs []types.TraceMessage) (int, error)
}

// ImportResult is the outcome of Import.
type ImportResult struct {
	Job   *types.Job        `json:"job"`
	Stats tracelog.Stats    `json:"stats"`
	Meta  map[string]string `json:"metadata,omitempty"`
}

// Result is the outcome of Analyze.
type Result struct {
	Job        *types.Job                  `json:"job"`
	Procedures []types.DiagnosticProcedure `json:"procedures"`
	Summaries  []types.EcuSummary          `json:"ecus"`
	Patterns   []types.DiscoveryPattern    `json:"patterns"`
	Apply      *discovery.ApplyResult      `json:"apply,omitempty"`
	Project    *types.ODXProject           `json:"-"`
	Files      []string                    `json:"files"`
	ODXFiles   []string                    `json:"odx_files,omitempty"`
	Archived   int                         `json:"archived"`
}

// Report converts r into report input.
func (r *Result) Report() report.Input {
	in := report.Input{
		Summaries:  r.Summaries,
		Procedures: r.Procedures,
		Patterns:   r.Patterns,
		Apply:      r.Apply,
		ODXFiles:   r.ODXFiles,
	}
	if r.Job != nil {
		in.Job = *r.Job
	}
	return in
}

// Analyzer is safe for concurrent use when its store is.
type Analyzer struct {
	cfg      *config.Config
	store    store.Store
	ref      *discovery.Reference
	engine   *discovery.Engine
	archiver Archiver
	metrics  *metric.Metrics
	logger   *zap.Logger
	tracer   trace.Tracer
}

type Option func(*Analyzer)

func WithLogger(l *zap.Logger) Option {
	return func(a *Analyzer) {
		if l != nil {
			a.logger = l
		}
	}
}

func WithMetrics(m *metric.Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

func WithArchiver(ar Archiver) Option {
	return func(a *Analyzer) { a.archiver = ar }
}

// New builds an analyzer over st. A nil cfg uses defaults.
func New(cfg *config.Config, st store.Store, opts ...Option) (*Analyzer, error) {
	if st == nil {
		return nil, errors.New("store is nil")
	}
	if cfg == nil {
		cfg = &config.Config{}
		cfg.SetDefaults()
	}
	a := &Analyzer{
		cfg:    cfg,
		store:  st,
		logger: zap.NewNop(),
		tracer: otel.Tracer("diagflow/analyzer"),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.Named("analyzer")
	a.ref = discovery.NewReference(cfg.Discovery.KnownECUs, cfg.Discovery.KnownDTCs)
	a.engine = discovery.NewEngine(a.ref, st, discovery.Config{
		Threshold:           cfg.Discovery.AutoApplyThreshold,
		ApplyTimeout:        cfg.ApplyTimeout(),
		CreatedBy:           cfg.Discovery.CreatedBy,
		FunctionalAddresses: cfg.Grouping.FunctionalAddresses,
	}, a.logger)
	return a, nil
}

// Engine returns the discovery engine the analyzer applies with.
func (a *Analyzer) Engine() *discovery.Engine {
	return a.engine
}

// Import parses a trace log, filters and sanitizes it, and stores it as a new job. A VIN
// carried by a metadata line fills the job VIN when vin is empty.
func (a *Analyzer) Import(ctx context.Context, name, source string, r io.Reader, scope types.Scope, vin string) (*ImportResult, error) {
	_, span := a.tracer.Start(ctx, "analyzer.import")
	defer span.End()

	start := time.Now()
	parsed, err := tracelog.ParseReader(r)
	a.metrics.ObserveStage("parse", start, err)
	if err != nil {
		return nil, a.fail(span, fmt.Errorf("parse trace: %w", err))
	}
	a.metrics.CountSkipped(parsed.Stats.Discarded)
	for _, m := range parsed.Frames() {
		a.metrics.CountMessage(string(m.Direction))
	}
	span.SetAttributes(
		attribute.Int("trace.lines", parsed.Stats.Lines),
		attribute.Int("trace.parsed", parsed.Stats.Parsed),
		attribute.Int("trace.discarded", parsed.Stats.Discarded),
	)

	if vin == "" {
		vin = parsed.VIN()
	}
	if name == "" {
		name = filepath.Base(source)
	}

	msgs := filter.Apply(parsed.Messages, a.cfg.Filter)
	msgs = filter.Sanitize(msgs, a.cfg.Sanitize)

	job, err := a.store.CreateJob(name, source, scope, vin)
	if err != nil {
		return nil, a.fail(span, fmt.Errorf("create job: %w", err))
	}
	if err := a.store.SaveMessages(job.ID, msgs); err != nil {
		if derr := a.store.DeleteJob(job.ID); derr != nil {
			a.logger.Warn("remove partial job", zap.String("job_id", job.ID), zap.Error(derr))
		}
		return nil, a.fail(span, fmt.Errorf("save messages: %w", err))
	}
	if job, err = a.store.GetJob(job.ID); err != nil {
		return nil, a.fail(span, fmt.Errorf("reload job: %w", err))
	}

	a.logger.Info("trace imported",
		zap.String("job_id", job.ID),
		zap.Int("lines", parsed.Stats.Lines),
		zap.Int("parsed", parsed.Stats.Parsed),
		zap.Int("discarded", parsed.Stats.Discarded),
		zap.Int("stored", len(msgs)),
	)
	return &ImportResult{Job: job, Stats: parsed.Stats, Meta: parsed.Metadata()}, nil
}

// Analyze groups the stored messages of a job, runs discovery and writes the configured
// outputs under <output.dir>/<job id>. A failed discovery-apply marks the job failed.
func (a *Analyzer) Analyze(ctx context.Context, jobID string, scope types.Scope, onProgress ProgressFunc) (*Result, error) {
	ctx, span := a.tracer.Start(ctx, "analyzer.analyze", trace.WithAttributes(attribute.String("job.id", jobID)))
	defer span.End()

	job, err := a.store.GetJob(jobID)
	if err != nil {
		return nil, a.fail(span, err)
	}
	if scope.Key() != job.ScopeID {
		scope = types.Scope{ID: job.ScopeID}
	}
	if scope.VIN == "" {
		scope.VIN = job.VIN
	}

	res, err := a.analyze(ctx, job, scope, onProgress)
	if err != nil {
		if serr := a.store.UpdateJobStatus(job.ID, types.JobFailed); serr != nil {
			a.logger.Warn("mark job failed", zap.String("job_id", job.ID), zap.Error(serr))
		}
		a.logger.Error("analysis failed", zap.String("job_id", job.ID), zap.Error(err))
		return res, a.fail(span, err)
	}
	if err := a.store.UpdateJobStatus(job.ID, types.JobAnalyzed); err != nil {
		return res, a.fail(span, err)
	}
	res.Job.Status = types.JobAnalyzed
	return res, nil
}

func (a *Analyzer) analyze(ctx context.Context, job *types.Job, scope types.Scope, onProgress ProgressFunc) (*Result, error) {
	if err := a.store.UpdateJobStatus(job.ID, types.JobAnalyzing); err != nil {
		return nil, err
	}
	res := &Result{Job: job}

	progress(onProgress, "grouping procedures")
	start := time.Now()
	_, grouped, err := a.group(job.ID)
	a.metrics.ObserveStage("group", start, err)
	if err != nil {
		return res, err
	}
	res.Procedures = grouped.Procedures
	for _, p := range res.Procedures {
		a.metrics.CountProcedure(string(p.Type), string(p.Status))
	}
	if err := a.store.SaveProcedures(job.ID, res.Procedures); err != nil {
		return res, fmt.Errorf("save procedures: %w", err)
	}
	res.Summaries = procedure.Summarize(grouped, a.ref.ECUNames())

	progress(onProgress, "discovering patterns")
	start = time.Now()
	res.Patterns = a.engine.Scan(grouped.Messages, res.Procedures)
	for _, p := range res.Patterns {
		a.metrics.CountPattern(string(p.Kind))
	}
	res.Apply, err = a.engine.Apply(ctx, res.Patterns, discovery.ApplyRequest{JobID: job.ID, JobName: job.Name, Scope: scope})
	a.metrics.ObserveStage("discover", start, err)
	if err != nil {
		return res, err
	}
	a.metrics.CountApplied("created", len(res.Apply.Created))
	a.metrics.CountApplied("existing", len(res.Apply.Existing))
	a.metrics.CountApplied("pending", len(res.Apply.Pending))
	a.metrics.CountApplied("errored", len(res.Apply.Errored))

	outDir := filepath.Join(a.cfg.Output.Dir, job.ID)
	res.Project = odx.Build(odx.BuildInput{
		VehicleName:         a.cfg.ODX.VehicleName,
		ProtocolName:        a.cfg.ODX.ProtocolName,
		Scope:               scope,
		VIN:                 job.VIN,
		Summaries:           res.Summaries,
		Procedures:          res.Procedures,
		Patterns:            res.Patterns,
		FunctionalAddresses: a.cfg.Grouping.FunctionalAddresses,
	})
	if err := a.render(res, outDir, onProgress); err != nil {
		return res, err
	}

	if a.archiver != nil {
		progress(onProgress, "archiving messages")
		start = time.Now()
		n, err := a.archiver.Write(ctx, job.ID, job.CreatedAt, grouped.Messages)
		a.metrics.ObserveStage("archive", start, err)
		if err != nil {
			return res, fmt.Errorf("archive messages: %w", err)
		}
		res.Archived = n
	}

	a.logger.Info("job analyzed",
		zap.String("job_id", job.ID),
		zap.Int("procedures", len(res.Procedures)),
		zap.Int("ecus", len(res.Summaries)),
		zap.Int("patterns", len(res.Patterns)),
		zap.Int("created", len(res.Apply.Created)),
		zap.Int("pending", len(res.Apply.Pending)),
	)
	return res, nil
}

func (a *Analyzer) render(res *Result, outDir string, onProgress ProgressFunc) error {
	progress(onProgress, "rendering outputs")
	start := time.Now()
	var err error
	defer func() { a.metrics.ObserveStage("render", start, err) }()

	for _, format := range a.cfg.Output.Formats {
		if format != "odx" {
			continue
		}
		res.ODXFiles, err = odx.WriteProject(res.Project, filepath.Join(outDir, "odx"))
		if err != nil {
			return fmt.Errorf("write odx: %w", err)
		}
		res.Files = append(res.Files, res.ODXFiles...)
	}
	for _, format := range a.cfg.Output.Formats {
		var path string
		switch format {
		case "markdown":
			path, err = report.WriteMarkdown(res.Report(), outDir)
		case "json", "yaml":
			path, err = report.WriteData(res.Report(), outDir, format)
		default:
			continue
		}
		if err != nil {
			return fmt.Errorf("write %s report: %w", format, err)
		}
		res.Files = append(res.Files, path)
	}
	return nil
}

func (a *Analyzer) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func progress(fn ProgressFunc, msg string) {
	if fn != nil {
		fn(msg)
	}
}
