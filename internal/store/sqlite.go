package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yourorg/diagflow/internal/discovery"
	"github.com/yourorg/diagflow/pkg/types"
)

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at dsn. Plain file paths get a busy timeout so concurrent
// writers wait instead of failing.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn != ":memory:" && !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.Init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Init() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return err
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			source TEXT NOT NULL,
			scope_id TEXT NOT NULL,
			vin TEXT NOT NULL DEFAULT '',
			message_count INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS trace_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			line_number INTEGER NOT NULL,
			timestamp TEXT NOT NULL,
			timestamp_ms INTEGER NOT NULL,
			direction TEXT NOT NULL,
			protocol TEXT NOT NULL,
			message_id TEXT NOT NULL,
			source_address TEXT NOT NULL,
			target_address TEXT NOT NULL,
			payload TEXT NOT NULL,
			meta_key TEXT NOT NULL,
			meta_value TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_job ON trace_messages(job_id, seq);`,
		`CREATE TABLE IF NOT EXISTS procedures (
			job_id TEXT NOT NULL,
			procedure_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			ecu_address TEXT NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			start_ms INTEGER NOT NULL,
			end_ms INTEGER NOT NULL,
			body TEXT NOT NULL,
			PRIMARY KEY(job_id, procedure_id)
		);`,
		`CREATE TABLE IF NOT EXISTS knowledge_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			identifier TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL,
			scope_id TEXT NOT NULL,
			oem TEXT NOT NULL,
			model TEXT NOT NULL,
			model_year TEXT NOT NULL,
			vin TEXT NOT NULL,
			confidence REAL NOT NULL,
			verified INTEGER NOT NULL DEFAULT 0,
			source TEXT NOT NULL,
			created_by TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			UNIQUE(kind, identifier, scope_id)
		);`,
		`CREATE TABLE IF NOT EXISTS discovery_runs (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL,
			scope_id TEXT NOT NULL,
			status TEXT NOT NULL,
			created INTEGER NOT NULL DEFAULT 0,
			existing INTEGER NOT NULL DEFAULT 0,
			pending INTEGER NOT NULL DEFAULT 0,
			errored INTEGER NOT NULL DEFAULT 0,
			error_msg TEXT NOT NULL DEFAULT '',
			started_at DATETIME NOT NULL,
			finished_at DATETIME
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_job ON discovery_runs(job_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

const jobColumns = `id,name,source,scope_id,vin,message_count,status,created_at,updated_at`

func scanJob(row interface{ Scan(...any) error }) (*types.Job, error) {
	var j types.Job
	if err := row.Scan(&j.ID, &j.Name, &j.Source, &j.ScopeID, &j.VIN, &j.MessageCount, &j.Status, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *SQLiteStore) CreateJob(name, source string, scope types.Scope, vin string) (*types.Job, error) {
	now := time.Now().UTC()
	id, err := s.nextJobID(now)
	if err != nil {
		return nil, err
	}
	if vin == "" {
		vin = scope.VIN
	}
	job := &types.Job{ID: id, Name: name, Source: source, ScopeID: scope.Key(), VIN: vin, Status: types.JobImported, CreatedAt: now, UpdatedAt: now}
	_, err = s.db.Exec(`INSERT INTO jobs(`+jobColumns+`) VALUES(?,?,?,?,?,?,?,?,?)`,
		job.ID, job.Name, job.Source, job.ScopeID, job.VIN, job.MessageCount, job.Status, job.CreatedAt, job.UpdatedAt)
	return job, err
}

func (s *SQLiteStore) nextJobID(now time.Time) (string, error) {
	prefix := fmt.Sprintf("job_%s_", now.Format("20060102"))
	rows, err := s.db.Query(`SELECT id FROM jobs WHERE id LIKE ?`, prefix+"%")
	if err != nil {
		return "", err
	}
	defer rows.Close()
	maxN := 0
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		var n int
		_, _ = fmt.Sscanf(id, prefix+"%03d", &n)
		if n > maxN {
			maxN = n
		}
	}
	return fmt.Sprintf("%s%03d", prefix, maxN+1), rows.Err()
}

func (s *SQLiteStore) GetJob(id string) (*types.Job, error) {
	job, err := scanJob(s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id=?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return job, err
}

func (s *SQLiteStore) UpdateJobStatus(id, status string) error {
	_, err := s.db.Exec(`UPDATE jobs SET status=?, updated_at=? WHERE id=?`, status, time.Now().UTC(), id)
	return err
}

func (s *SQLiteStore) UpdateJobVIN(id, vin string) error {
	_, err := s.db.Exec(`UPDATE jobs SET vin=?, updated_at=? WHERE id=?`, vin, time.Now().UTC(), id)
	return err
}

func (s *SQLiteStore) ListJobs() ([]types.Job, error) {
	rows, err := s.db.Query(`SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// DeleteJob removes a job with its messages, procedures and discovery runs. Knowledge created
// by the job stays.
func (s *SQLiteStore) DeleteJob(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, stmt := range []string{
		`DELETE FROM trace_messages WHERE job_id=?`,
		`DELETE FROM procedures WHERE job_id=?`,
		`DELETE FROM discovery_runs WHERE job_id=?`,
		`DELETE FROM jobs WHERE id=?`,
	} {
		if _, err := tx.Exec(stmt, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SaveMessages appends messages to a job, keeping their order.
func (s *SQLiteStore) SaveMessages(jobID string, msgs []types.TraceMessage) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var base int
	if err := tx.QueryRow(`SELECT COALESCE(MAX(seq), 0) FROM trace_messages WHERE job_id=?`, jobID).Scan(&base); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO trace_messages(job_id,seq,line_number,timestamp,timestamp_ms,direction,protocol,message_id,source_address,target_address,payload,meta_key,meta_value) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, m := range msgs {
		if _, err := stmt.Exec(jobID, base+i+1, m.LineNumber, m.Timestamp, m.TimestampMs, string(m.Direction), m.Protocol, m.MessageID, m.SourceAddress, m.TargetAddress, m.Payload, m.MetaKey, m.MetaValue); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(`UPDATE jobs SET message_count=message_count+?, updated_at=? WHERE id=?`, len(msgs), time.Now().UTC(), jobID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetMessages(jobID string) ([]types.TraceMessage, error) {
	rows, err := s.db.Query(`SELECT line_number,timestamp,timestamp_ms,direction,protocol,message_id,source_address,target_address,payload,meta_key,meta_value FROM trace_messages WHERE job_id=? ORDER BY seq ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]types.TraceMessage, 0)
	for rows.Next() {
		var m types.TraceMessage
		var dir string
		if err := rows.Scan(&m.LineNumber, &m.Timestamp, &m.TimestampMs, &dir, &m.Protocol, &m.MessageID, &m.SourceAddress, &m.TargetAddress, &m.Payload, &m.MetaKey, &m.MetaValue); err != nil {
			return nil, err
		}
		m.Direction = types.Direction(dir)
		out = append(out, m)
	}
	return out, rows.Err()
}

// SaveProcedures replaces the procedures of a job.
func (s *SQLiteStore) SaveProcedures(jobID string, procs []types.DiagnosticProcedure) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM procedures WHERE job_id=?`, jobID); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO procedures(job_id,procedure_id,seq,ecu_address,type,status,start_ms,end_ms,body) VALUES(?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, p := range procs {
		body, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encode procedure %s: %w", p.ID, err)
		}
		if _, err := stmt.Exec(jobID, p.ID, i, p.ECUAddress, string(p.Type), string(p.Status), p.StartMs, p.EndMs, string(body)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetProcedures(jobID string) ([]types.DiagnosticProcedure, error) {
	rows, err := s.db.Query(`SELECT body FROM procedures WHERE job_id=? ORDER BY seq ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]types.DiagnosticProcedure, 0)
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var p types.DiagnosticProcedure
		if err := json.Unmarshal([]byte(body), &p); err != nil {
			return nil, fmt.Errorf("decode procedure: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListKnowledge returns knowledge records of one scope, or of all scopes when scopeID is empty.
func (s *SQLiteStore) ListKnowledge(scopeID string) ([]types.KnowledgeRecord, error) {
	q := `SELECT id,kind,identifier,name,description,scope_id,oem,model,model_year,vin,confidence,verified,source,created_by,created_at,updated_at FROM knowledge_records`
	var args []any
	if scopeID != "" {
		q += ` WHERE scope_id=?`
		args = append(args, scopeID)
	}
	q += ` ORDER BY kind ASC, identifier ASC`
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.KnowledgeRecord
	for rows.Next() {
		var r types.KnowledgeRecord
		var kind string
		if err := rows.Scan(&r.ID, &kind, &r.Identifier, &r.Name, &r.Description, &r.ScopeID, &r.Scope.OEM, &r.Scope.Model, &r.Scope.ModelYear, &r.Scope.VIN, &r.Confidence, &r.Verified, &r.Source, &r.CreatedBy, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Kind = types.PatternKind(kind)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ListDiscoveryRuns(jobID string) ([]types.DiscoveryRun, error) {
	rows, err := s.db.Query(`SELECT id,job_id,scope_id,status,created,existing,pending,errored,error_msg,started_at,finished_at FROM discovery_runs WHERE job_id=? ORDER BY started_at ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []types.DiscoveryRun
	for rows.Next() {
		var r types.DiscoveryRun
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.JobID, &r.ScopeID, &r.Status, &r.Created, &r.Existing, &r.Pending, &r.Errored, &r.Error, &r.StartedAt, &finished); err != nil {
			return nil, err
		}
		r.FinishedAt = finished.Time
		out = append(out, r)
	}
	return out, rows.Err()
}

// WithinTx implements discovery.Repository.
func (s *SQLiteStore) WithinTx(ctx context.Context, fn func(discovery.KnowledgeWriter) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin knowledge tx: %w", err)
	}
	defer tx.Rollback()
	if err := fn(&knowledgeWriter{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit knowledge tx: %w", err)
	}
	return nil
}

type knowledgeWriter struct {
	tx *sql.Tx
}

// CreateIfAbsent relies on UNIQUE(kind, identifier, scope_id), so concurrent writers for the
// same scope cannot both insert.
func (w *knowledgeWriter) CreateIfAbsent(ctx context.Context, r *types.KnowledgeRecord) (bool, error) {
	res, err := w.tx.ExecContext(ctx, `INSERT INTO knowledge_records(kind,identifier,name,description,scope_id,oem,model,model_year,vin,confidence,verified,source,created_by,created_at,updated_at)
	VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	ON CONFLICT(kind,identifier,scope_id) DO NOTHING`,
		string(r.Kind), r.Identifier, r.Name, r.Description, r.ScopeID, r.Scope.OEM, r.Scope.Model, r.Scope.ModelYear, r.Scope.VIN, r.Confidence, r.Verified, r.Source, r.CreatedBy, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if id, err := res.LastInsertId(); err == nil {
		r.ID = id
	}
	return true, nil
}

// StartDiscoveryRun implements discovery.Repository.
func (s *SQLiteStore) StartDiscoveryRun(ctx context.Context, r *types.DiscoveryRun) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO discovery_runs(id,job_id,scope_id,status,started_at) VALUES(?,?,?,?,?)`,
		r.ID, r.JobID, r.ScopeID, r.Status, r.StartedAt)
	return err
}

// FinishDiscoveryRun implements discovery.Repository.
func (s *SQLiteStore) FinishDiscoveryRun(ctx context.Context, r *types.DiscoveryRun) error {
	_, err := s.db.ExecContext(ctx, `UPDATE discovery_runs SET status=?, created=?, existing=?, pending=?, errored=?, error_msg=?, finished_at=? WHERE id=?`,
		r.Status, r.Created, r.Existing, r.Pending, r.Errored, r.Error, r.FinishedAt, r.ID)
	return err
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return errors.New("store is nil")
	}
	return s.db.Close()
}
