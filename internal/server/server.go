package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/yourorg/diagflow/internal/analyzer"
	"github.com/yourorg/diagflow/internal/config"
	"github.com/yourorg/diagflow/internal/metric"
	"github.com/yourorg/diagflow/internal/store"
	"github.com/yourorg/diagflow/internal/uds"
	"github.com/yourorg/diagflow/pkg/types"
)

// maxTraceBytes bounds an uploaded trace.
const maxTraceBytes = 64 << 20

// Server wraps the JSON API handlers.
type Server struct {
	cfg      *config.Config
	store    store.Store
	analyzer *analyzer.Analyzer
	metrics  *metric.Metrics
	decoded  *lru.Cache[string, uds.Result]
	logger   *zap.Logger
	mux      *http.ServeMux
}

// New constructs a new Server with routes registered. metrics and logger may be nil.
func New(cfg *config.Config, st store.Store, an *analyzer.Analyzer, metrics *metric.Metrics, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if st == nil {
		return nil, errors.New("store is nil")
	}
	if an == nil {
		return nil, errors.New("analyzer is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	size := cfg.Server.DecodeCacheSize
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, uds.Result](size)
	if err != nil {
		return nil, err
	}

	srv := &Server{
		cfg:      cfg,
		store:    st,
		analyzer: an,
		metrics:  metrics,
		decoded:  cache,
		logger:   logger.Named("server"),
		mux:      http.NewServeMux(),
	}
	srv.registerRoutes()
	return srv, nil
}

// Handler returns the http handler.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	hs := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr))
		errCh <- hs.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hs.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) registerRoutes() {
	// Static file server for generated reports and ODX files.
	s.mux.Handle("/output/", http.StripPrefix("/output/", http.FileServer(http.Dir(s.cfg.Output.Dir))))

	s.mux.HandleFunc("/api/jobs", s.handleJobs)
	s.mux.HandleFunc("/api/jobs/", s.handleJobRoutes)
	s.mux.HandleFunc("/api/traces", s.handleTraces)
	s.mux.HandleFunc("/api/analyze", s.handleAnalyze)
	s.mux.HandleFunc("/api/knowledge", s.handleKnowledge)
	s.mux.HandleFunc("/api/decode", s.handleDecode)
	s.mux.Handle("/metrics", s.metrics.Handler())
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	jobs, err := s.store.ListJobs()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if jobs == nil {
		jobs = []types.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleJobRoutes(w http.ResponseWriter, r *http.Request) {
	id, tail, ok := splitPath(r.URL.Path, "/api/jobs/")
	if !ok || id == "" {
		http.NotFound(w, r)
		return
	}
	switch tail {
	case "":
		s.handleJobDetail(w, r, id)
	case "procedures":
		s.handleJobProcedures(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleJobDetail(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodDelete:
		if _, err := s.store.GetJob(id); err != nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		if err := s.store.DeleteJob(id); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	job, err := s.store.GetJob(id)
	if err != nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	runs, err := s.store.ListDiscoveryRuns(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp := struct {
		Job  *types.Job           `json:"job"`
		Runs []types.DiscoveryRun `json:"discovery_runs"`
	}{
		Job:  job,
		Runs: runs,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleJobProcedures(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, err := s.store.GetJob(id); err != nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	procs, err := s.store.GetProcedures(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if procs == nil {
		procs = []types.DiagnosticProcedure{}
	}
	writeJSON(w, http.StatusOK, procs)
}

func (s *Server) handleTraces(w http.ResponseWriter, r *http.Request) {
	setCORS(w, s.cfg.Server.CORSOrigin)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Name    string      `json:"name"`
		Source  string      `json:"source"`
		Scope   types.Scope `json:"scope"`
		VIN     string      `json:"vin"`
		Content string      `json:"content"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTraceBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		http.Error(w, "content required", http.StatusBadRequest)
		return
	}
	if req.Source == "" {
		req.Source = "upload"
	}
	if req.Scope == (types.Scope{}) {
		req.Scope = s.cfg.Scope
	}

	imp, err := s.analyzer.Import(r.Context(), req.Name, req.Source, strings.NewReader(req.Content), req.Scope, req.VIN)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, imp)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	setCORS(w, s.cfg.Server.CORSOrigin)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		JobID string      `json:"job_id"`
		Scope types.Scope `json:"scope"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.JobID) == "" {
		http.Error(w, "job_id required", http.StatusBadRequest)
		return
	}
	if req.Scope == (types.Scope{}) {
		req.Scope = s.cfg.Scope
	}
	res, err := s.analyzer.Analyze(r.Context(), req.JobID, req.Scope, nil)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "analyze failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleKnowledge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	recs, err := s.store.ListKnowledge(r.URL.Query().Get("scope"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []types.KnowledgeRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleDecode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	data := types.NormalizeHex(r.URL.Query().Get("data"))
	if data == "" {
		http.Error(w, "data required", http.StatusBadRequest)
		return
	}
	res, ok := s.decoded.Get(data)
	if !ok {
		res = uds.DecodeHex(data)
		s.decoded.Add(data, res)
	}
	writeJSON(w, http.StatusOK, res)
}

func splitPath(fullPath, prefix string) (string, string, bool) {
	if !strings.HasPrefix(fullPath, prefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(fullPath, prefix)
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	id := parts[0]
	tail := ""
	if len(parts) > 1 {
		tail = strings.Join(parts[1:], "/")
	}
	return id, tail, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func setCORS(w http.ResponseWriter, origin string) {
	if origin == "" {
		origin = "*"
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}
