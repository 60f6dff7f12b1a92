package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/yourorg/diagflow/pkg/types"
)

// Defaults used when Config leaves a field zero.
const (
	DefaultThreshold    = 0.9
	DefaultApplyTimeout = 30 * time.Second
	DefaultCreatedBy    = "diagflow"
)

// SourceAutomatic marks records applied without a job name.
const SourceAutomatic = "Automatic Discovery"

// ErrNoRepository is returned by Apply on an engine built without a repository.
var ErrNoRepository = errors.New("discovery: no repository configured")

// Config tunes the engine.
type Config struct {
	// Threshold is the auto-apply confidence; nil selects DefaultThreshold.
	Threshold           *float64
	ApplyTimeout        time.Duration
	CreatedBy           string
	Params              map[types.PatternKind]Params
	FunctionalAddresses []string
}

// ApplyRequest names the job and scope a discovery-apply writes under.
type ApplyRequest struct {
	JobID   string
	JobName string
	Scope   types.Scope
}

// ApplyResult reports what one apply did.
type ApplyResult struct {
	Run      types.DiscoveryRun       `json:"run"`
	Created  []types.KnowledgeRecord  `json:"created"`
	Existing []types.DiscoveryPattern `json:"existing"`
	Pending  []types.DiscoveryPattern `json:"pending"`
	Errored  []types.DiscoveryPattern `json:"errored,omitempty"`
}

// Engine scans traces for candidate knowledge and applies it to a repository.
type Engine struct {
	ref        *Reference
	repo       Repository
	cfg        Config
	threshold  float64
	functional map[string]bool
	logger     *zap.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// NewEngine builds an engine. ref and repo may be nil; a nil ref knows nothing beyond the
// static tables and a nil repo makes Apply fail.
func NewEngine(ref *Reference, repo Repository, cfg Config, logger *zap.Logger) *Engine {
	if ref == nil {
		ref = NewReference(nil, nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	threshold := DefaultThreshold
	if cfg.Threshold != nil {
		threshold = *cfg.Threshold
	}
	if cfg.ApplyTimeout <= 0 {
		cfg.ApplyTimeout = DefaultApplyTimeout
	}
	if cfg.CreatedBy == "" {
		cfg.CreatedBy = DefaultCreatedBy
	}
	functional := make(map[string]bool, len(cfg.FunctionalAddresses))
	for _, a := range cfg.FunctionalAddresses {
		functional[types.NormalizeHex(a)] = true
	}
	return &Engine{
		ref:        ref,
		repo:       repo,
		cfg:        cfg,
		threshold:  threshold,
		functional: functional,
		logger:     logger.Named("discovery"),
		tracer:     otel.Tracer("diagflow/discovery"),
		now:        time.Now,
	}
}

// Threshold returns the confidence at or above which patterns are applied.
func (e *Engine) Threshold() float64 {
	return e.threshold
}

// Source returns the provenance string recorded on created knowledge.
func Source(jobName string) string {
	if strings.TrimSpace(jobName) == "" {
		return SourceAutomatic
	}
	return "Job Discovery: " + jobName
}

// Apply commits patterns at or above the threshold as unverified knowledge in one
// transaction and returns the rest as pending review. Applying the same patterns twice
// creates nothing the second time.
func (e *Engine) Apply(ctx context.Context, patterns []types.DiscoveryPattern, req ApplyRequest) (*ApplyResult, error) {
	if e.repo == nil {
		return nil, ErrNoRepository
	}
	ctx, span := e.tracer.Start(ctx, "discovery.apply")
	defer span.End()

	scopeID := req.Scope.Key()
	span.SetAttributes(
		attribute.String("scope", scopeID),
		attribute.Int("patterns", len(patterns)),
	)

	res := &ApplyResult{
		Run: types.DiscoveryRun{
			ID:        uuid.NewString(),
			JobID:     req.JobID,
			ScopeID:   scopeID,
			Status:    types.RunRunning,
			StartedAt: e.now().UTC(),
		},
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.ApplyTimeout)
	defer cancel()

	if err := e.repo.StartDiscoveryRun(ctx, &res.Run); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("start discovery run: %w", err)
	}

	var accepted []types.DiscoveryPattern
	for _, p := range patterns {
		switch {
		case strings.TrimSpace(p.Identifier) == "":
			res.Errored = append(res.Errored, p)
		case p.Confidence < e.threshold:
			res.Pending = append(res.Pending, p)
		default:
			accepted = append(accepted, p)
		}
	}

	source := Source(req.JobName)
	err := e.repo.WithinTx(ctx, func(w KnowledgeWriter) error {
		created := make([]types.KnowledgeRecord, 0, len(accepted))
		var existing []types.DiscoveryPattern
		for _, p := range accepted {
			now := e.now().UTC()
			rec := types.KnowledgeRecord{
				Kind:        p.Kind,
				Identifier:  p.Identifier,
				Name:        p.SuggestedName,
				Description: describe(p),
				ScopeID:     scopeID,
				Scope:       req.Scope,
				Confidence:  p.Confidence,
				Source:      source,
				CreatedBy:   e.cfg.CreatedBy,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			ok, err := w.CreateIfAbsent(ctx, &rec)
			if err != nil {
				return fmt.Errorf("create %s %s: %w", p.Kind, p.Identifier, err)
			}
			if ok {
				created = append(created, rec)
			} else {
				existing = append(existing, p)
			}
		}
		res.Created, res.Existing = created, existing
		return nil
	})

	res.Run.Created = len(res.Created)
	res.Run.Existing = len(res.Existing)
	res.Run.Pending = len(res.Pending)
	res.Run.Errored = len(res.Errored)
	res.Run.FinishedAt = e.now().UTC()

	// The run row is closed even when ctx has expired.
	finishCtx, finishCancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.ApplyTimeout)
	defer finishCancel()

	if err != nil {
		res.Created, res.Existing = nil, nil
		res.Run.Created, res.Run.Existing = 0, 0
		res.Run.Status = types.RunFailed
		res.Run.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ferr := e.repo.FinishDiscoveryRun(finishCtx, &res.Run); ferr != nil {
			e.logger.Error("finish failed discovery run", zap.String("run_id", res.Run.ID), zap.Error(ferr))
		}
		e.logger.Warn("discovery apply failed",
			zap.String("run_id", res.Run.ID),
			zap.String("scope", scopeID),
			zap.Error(err),
		)
		return res, fmt.Errorf("apply discovery: %w", err)
	}

	res.Run.Status = types.RunCompleted
	if err := e.repo.FinishDiscoveryRun(finishCtx, &res.Run); err != nil {
		span.RecordError(err)
		return res, fmt.Errorf("finish discovery run: %w", err)
	}

	span.SetAttributes(
		attribute.Int("created", res.Run.Created),
		attribute.Int("existing", res.Run.Existing),
		attribute.Int("pending", res.Run.Pending),
	)
	e.logger.Info("discovery applied",
		zap.String("run_id", res.Run.ID),
		zap.String("scope", scopeID),
		zap.Int("created", res.Run.Created),
		zap.Int("existing", res.Run.Existing),
		zap.Int("pending", res.Run.Pending),
		zap.Int("errored", res.Run.Errored),
	)
	return res, nil
}

func describe(p types.DiscoveryPattern) string {
	if p.Known {
		return fmt.Sprintf("Reference %s seen %d times", strings.ToLower(string(p.Kind)), p.Occurrences)
	}
	return fmt.Sprintf("Inferred %s seen %d times", strings.ToLower(string(p.Kind)), p.Occurrences)
}
