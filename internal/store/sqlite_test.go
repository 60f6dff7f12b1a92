package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yourorg/diagflow/internal/discovery"
	"github.com/yourorg/diagflow/pkg/types"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "diagflow.db"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

var defender = types.Scope{OEM: "Land Rover", Model: "Defender", ModelYear: "2022"}

func TestJobAndMessagesCRUD(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	job, err := s.CreateJob("workshop run", "trace.log", defender, "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(job.ID, "job_") || !strings.HasSuffix(job.ID, "_001") {
		t.Fatalf("unexpected job id %q", job.ID)
	}
	if job.ScopeID != "land-rover/defender/2022" {
		t.Fatalf("scope id = %q", job.ScopeID)
	}
	second, err := s.CreateJob("again", "trace.log", defender, "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(second.ID, "_002") {
		t.Fatalf("job ids not sequential: %q", second.ID)
	}

	msgs := []types.TraceMessage{
		{LineNumber: 1, Timestamp: "10:00:00.000", TimestampMs: 36_000_000, Direction: types.DirectionOutbound, Protocol: "DoIP", SourceAddress: "0E80", TargetAddress: "0010", Payload: "22F190"},
		{LineNumber: 2, Timestamp: "10:00:00.050", TimestampMs: 36_000_050, Direction: types.DirectionInbound, Protocol: "DoIP", SourceAddress: "0010", TargetAddress: "0E80", Payload: "62F190414243"},
	}
	if err := s.SaveMessages(job.ID, msgs); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveMessages(job.ID, msgs[:1]); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetMessages(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[1] != msgs[1] || got[2] != msgs[0] {
		t.Fatalf("unexpected messages: %+v", got)
	}
	if j, err := s.GetJob(job.ID); err != nil || j.MessageCount != 3 {
		t.Fatalf("job message_count not updated: %+v err=%v", j, err)
	}

	if err := s.UpdateJobVIN(job.ID, "SALEA7EU0N2000001"); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateJobStatus(job.ID, types.JobAnalyzed); err != nil {
		t.Fatal(err)
	}
	j, _ := s.GetJob(job.ID)
	if j.VIN != "SALEA7EU0N2000001" || j.Status != types.JobAnalyzed {
		t.Fatalf("job not updated: %+v", j)
	}

	jobs, err := s.ListJobs()
	if err != nil || len(jobs) != 2 {
		t.Fatalf("list jobs: %d err=%v", len(jobs), err)
	}
}

func TestGetJobNotFound(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	if _, err := s.GetJob("job_19700101_001"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestProceduresAndCascadeDelete(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	job, _ := s.CreateJob("flow", "trace.log", defender, "")
	_ = s.SaveMessages(job.ID, []types.TraceMessage{{LineNumber: 1, Payload: "1003"}})
	procs := []types.DiagnosticProcedure{
		{ID: "0010_session_control_0", ECUAddress: "0010", Type: types.ProcedureSessionControl, Status: types.StatusCompleted, Data: types.ExtractedData{P2Ms: 25}},
		{ID: "0010_dtc_management_0", ECUAddress: "0010", Type: types.ProcedureDTCManagement, Status: types.StatusFailed, Data: types.ExtractedData{DTCs: []types.DTCRecord{{Code: "012345", DisplayCode: "P0123-45"}}}},
	}
	if err := s.SaveProcedures(job.ID, procs); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveProcedures(job.ID, procs); err != nil {
		t.Fatalf("saving twice should replace: %v", err)
	}
	got, err := s.GetProcedures(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Data.P2Ms != 25 || got[1].Data.DTCs[0].DisplayCode != "P0123-45" {
		t.Fatalf("unexpected procedures: %+v", got)
	}

	if err := s.DeleteJob(job.ID); err != nil {
		t.Fatal(err)
	}
	if msgs, _ := s.GetMessages(job.ID); len(msgs) != 0 {
		t.Fatalf("expected messages deleted")
	}
	if procs, _ := s.GetProcedures(job.ID); len(procs) != 0 {
		t.Fatalf("expected procedures deleted")
	}
	if _, err := s.GetJob(job.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected job deleted")
	}
}

func patterns() []types.DiscoveryPattern {
	return []types.DiscoveryPattern{
		{Kind: types.KindECU, Identifier: "0010", SuggestedName: "Engine Control Module", Confidence: 0.98, Known: true},
		{Kind: types.KindDID, Identifier: "F190", SuggestedName: "VIN", Confidence: 0.95, Known: true},
		{Kind: types.KindDID, Identifier: "1234", SuggestedName: "DID 0x1234", Confidence: 0.5},
	}
}

func TestDiscoveryApplyIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	job, _ := s.CreateJob("flow", "trace.log", defender, "")
	e := discovery.NewEngine(nil, s, discovery.Config{}, nil)
	ctx := context.Background()

	first, err := e.Apply(ctx, patterns(), discovery.ApplyRequest{JobID: job.ID, JobName: job.Name, Scope: defender})
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Created) != 2 || len(first.Pending) != 1 {
		t.Fatalf("first apply: created=%d pending=%d", len(first.Created), len(first.Pending))
	}
	if first.Created[0].ID == 0 {
		t.Fatalf("record id not set")
	}
	second, err := e.Apply(ctx, patterns(), discovery.ApplyRequest{JobID: job.ID, JobName: job.Name, Scope: defender})
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Created) != 0 || len(second.Existing) != 2 {
		t.Fatalf("second apply: created=%d existing=%d", len(second.Created), len(second.Existing))
	}

	recs, err := s.ListKnowledge("land-rover/defender/2022")
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Kind != types.KindDID || recs[0].Source != "Job Discovery: flow" || recs[0].Verified {
		t.Fatalf("unexpected record: %+v", recs[0])
	}
	if recs[1].Scope.OEM != "Land Rover" {
		t.Fatalf("scope not stored: %+v", recs[1].Scope)
	}

	runs, err := s.ListDiscoveryRuns(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].Status != types.RunCompleted || runs[1].Existing != 2 {
		t.Fatalf("unexpected runs: %+v", runs)
	}
	if runs[0].FinishedAt.IsZero() {
		t.Fatalf("finished_at not stored")
	}
}

func TestWithinTxRollsBack(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	boom := errors.New("boom")

	err := s.WithinTx(context.Background(), func(w discovery.KnowledgeWriter) error {
		rec := &types.KnowledgeRecord{Kind: types.KindECU, Identifier: "0010", ScopeID: "global", CreatedAt: time.Now(), UpdatedAt: time.Now()}
		if ok, err := w.CreateIfAbsent(context.Background(), rec); err != nil || !ok {
			t.Fatalf("create: ok=%v err=%v", ok, err)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	recs, _ := s.ListKnowledge("")
	if len(recs) != 0 {
		t.Fatalf("expected rollback, got %d records", len(recs))
	}
}

func TestConcurrentApplyDoesNotDuplicate(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	e := discovery.NewEngine(nil, s, discovery.Config{ApplyTimeout: 20 * time.Second}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = e.Apply(context.Background(), patterns(), discovery.ApplyRequest{JobID: fmt.Sprintf("job_%d", i), Scope: defender})
		}(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.ListJobs()
		}()
	}
	wg.Wait()

	recs, err := s.ListKnowledge(defender.Key())
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 unique records, got %d", len(recs))
	}
}
