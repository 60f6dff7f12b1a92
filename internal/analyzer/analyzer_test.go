package analyzer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yourorg/diagflow/internal/config"
	"github.com/yourorg/diagflow/internal/discovery"
	"github.com/yourorg/diagflow/internal/metric"
	"github.com/yourorg/diagflow/internal/odx"
	"github.com/yourorg/diagflow/internal/report"
	"github.com/yourorg/diagflow/internal/store"
	"github.com/yourorg/diagflow/pkg/types"
)

var defender = types.Scope{OEM: "Land Rover", Model: "Defender", ModelYear: "2022"}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Output.Dir = t.TempDir()
	cfg.Output.Formats = []string{"markdown", "odx", "json"}
	cfg.SetDefaults()
	return cfg
}

func newStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "diagflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func importSample(t *testing.T, a *Analyzer) *ImportResult {
	t.Helper()
	f, err := os.Open(filepath.Join("..", "..", "testdata", "sample_trace.log"))
	require.NoError(t, err)
	defer f.Close()
	imp, err := a.Import(context.Background(), "", "sample_trace.log", f, defender, "")
	require.NoError(t, err)
	return imp
}

type fakeArchiver struct {
	mu    sync.Mutex
	jobs  []string
	count int
	err   error
}

func (f *fakeArchiver) Write(_ context.Context, jobID string, _ time.Time, msgs []types.TraceMessage) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.jobs = append(f.jobs, jobID)
	f.count += len(msgs)
	return len(msgs), nil
}

func TestImportStoresJob(t *testing.T) {
	st := newStore(t)
	a, err := New(testConfig(t), st, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	imp := importSample(t, a)
	assert.Equal(t, 12, imp.Stats.Parsed)
	assert.Equal(t, 1, imp.Stats.Discarded)
	assert.Equal(t, "sample_trace.log", imp.Job.Name)
	assert.Equal(t, "WVWZZZ1JZXW000001", imp.Job.VIN)
	assert.Equal(t, "land-rover/defender/2022", imp.Job.ScopeID)
	assert.Equal(t, 13, imp.Job.MessageCount)
	assert.Equal(t, types.JobImported, imp.Job.Status)

	msgs, err := st.GetMessages(imp.Job.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 13)
}

func TestAnalyzeRunsPipeline(t *testing.T) {
	st := newStore(t)
	cfg := testConfig(t)
	m := metric.New()
	ar := &fakeArchiver{}
	a, err := New(cfg, st, WithLogger(zaptest.NewLogger(t)), WithMetrics(m), WithArchiver(ar))
	require.NoError(t, err)
	imp := importSample(t, a)

	var stages []string
	res, err := a.Analyze(context.Background(), imp.Job.ID, defender, func(s string) { stages = append(stages, s) })
	require.NoError(t, err)

	assert.Equal(t, []string{"grouping procedures", "discovering patterns", "rendering outputs", "archiving messages"}, stages)
	assert.Equal(t, types.JobAnalyzed, res.Job.Status)
	require.Len(t, res.Procedures, 5)
	require.Len(t, res.Summaries, 2)
	assert.Equal(t, "0010", res.Summaries[0].Address)

	var security types.DiagnosticProcedure
	for _, p := range res.Procedures {
		if p.Type == types.ProcedureSecurityAccess {
			security = p
		}
	}
	assert.Equal(t, "0020", security.ECUAddress)
	assert.Equal(t, types.StatusFailed, security.Status)

	require.NotNil(t, res.Apply)
	assert.Equal(t, types.RunCompleted, res.Apply.Run.Status)
	assert.NotEmpty(t, res.Apply.Created)
	assert.NotEmpty(t, res.Apply.Pending)

	stored, err := st.GetProcedures(imp.Job.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 5)
	job, err := st.GetJob(imp.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobAnalyzed, job.Status)

	outDir := filepath.Join(cfg.Output.Dir, imp.Job.ID)
	assert.FileExists(t, filepath.Join(outDir, report.SummaryFile))
	assert.FileExists(t, filepath.Join(outDir, "analysis.json"))
	require.NotEmpty(t, res.ODXFiles)
	project, err := odx.ParseFiles(res.ODXFiles...)
	require.NoError(t, err)
	assert.Equal(t, res.Project.Vehicle.ShortName, project.Vehicle.ShortName)
	assert.Len(t, project.Layers, len(res.Project.Layers))

	assert.Equal(t, 13, res.Archived)
	assert.Equal(t, []string{imp.Job.ID}, ar.jobs)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Procedures.WithLabelValues(string(types.ProcedureSecurityAccess), string(types.StatusFailed))))
	assert.Equal(t, float64(len(res.Apply.Created)), testutil.ToFloat64(m.KnowledgeApplied.WithLabelValues("created")))
}

func TestAnalyzeTwiceCreatesNothingNew(t *testing.T) {
	st := newStore(t)
	a, err := New(testConfig(t), st)
	require.NoError(t, err)
	imp := importSample(t, a)

	first, err := a.Analyze(context.Background(), imp.Job.ID, defender, nil)
	require.NoError(t, err)
	second, err := a.Analyze(context.Background(), imp.Job.ID, defender, nil)
	require.NoError(t, err)

	assert.Empty(t, second.Apply.Created)
	assert.Len(t, second.Apply.Existing, len(first.Apply.Created))

	recs, err := st.ListKnowledge(defender.Key())
	require.NoError(t, err)
	assert.Len(t, recs, len(first.Apply.Created))
}

type failingStore struct {
	*store.SQLiteStore
}

func (f failingStore) WithinTx(context.Context, func(discovery.KnowledgeWriter) error) error {
	return errors.New("disk full")
}

func TestAnalyzeMarksJobFailed(t *testing.T) {
	st := failingStore{newStore(t)}
	a, err := New(testConfig(t), st)
	require.NoError(t, err)
	imp := importSample(t, a)

	res, err := a.Analyze(context.Background(), imp.Job.ID, defender, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	require.NotNil(t, res)
	assert.Equal(t, types.RunFailed, res.Apply.Run.Status)

	job, err := st.GetJob(imp.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobFailed, job.Status)
}

type messageFailStore struct {
	*store.SQLiteStore
}

func (f messageFailStore) SaveMessages(string, []types.TraceMessage) error {
	return errors.New("disk full")
}

func TestImportRemovesJobWhenMessagesFail(t *testing.T) {
	st := messageFailStore{newStore(t)}
	a, err := New(testConfig(t), st)
	require.NoError(t, err)

	f, err := os.Open(filepath.Join("..", "..", "testdata", "sample_trace.log"))
	require.NoError(t, err)
	defer f.Close()

	_, err = a.Import(context.Background(), "", "sample_trace.log", f, defender, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save messages")

	jobs, err := st.ListJobs()
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestAnalyzeArchiveError(t *testing.T) {
	st := newStore(t)
	a, err := New(testConfig(t), st, WithArchiver(&fakeArchiver{err: errors.New("unreachable")}))
	require.NoError(t, err)
	imp := importSample(t, a)

	_, err = a.Analyze(context.Background(), imp.Job.ID, defender, nil)
	require.Error(t, err)
	job, _ := st.GetJob(imp.Job.ID)
	assert.Equal(t, types.JobFailed, job.Status)
}

func TestAnalyzeUnknownJob(t *testing.T) {
	a, err := New(testConfig(t), newStore(t))
	require.NoError(t, err)
	_, err = a.Analyze(context.Background(), "job_19700101_001", defender, nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)
}

func TestInspectAndExportODX(t *testing.T) {
	st := newStore(t)
	a, err := New(testConfig(t), st)
	require.NoError(t, err)
	imp := importSample(t, a)

	in, err := a.Inspect(imp.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, imp.Job.ID, in.Job.ID)
	assert.Len(t, in.Procedures, 5)
	assert.Len(t, in.Summaries, 2)
	assert.NotEmpty(t, in.Patterns)

	dir := t.TempDir()
	paths, err := a.ExportODX(context.Background(), imp.Job.ID, defender, dir)
	require.NoError(t, err)
	require.Len(t, paths, 5)
	_, err = odx.ParseFiles(paths...)
	require.NoError(t, err)

	recs, err := st.ListKnowledge("")
	require.NoError(t, err)
	assert.Empty(t, recs, "export must not apply knowledge")

	_, err = a.ExportODX(context.Background(), "job_19700101_001", defender, dir)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
