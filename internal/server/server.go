// Package server exposes the HTTP + WebSocket API surface: run admission
// with quota checks, result retrieval and live event streaming.
package server

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/simulant-labs/simulant/internal/agent"
	"github.com/simulant-labs/simulant/internal/app"
	"github.com/simulant-labs/simulant/internal/browser"
	"github.com/simulant-labs/simulant/internal/logging"
	"github.com/simulant-labs/simulant/internal/oracle"
	"github.com/simulant-labs/simulant/internal/persona"
	"github.com/simulant-labs/simulant/internal/registry"

	_ "modernc.org/sqlite" // SQLite driver
)

// Server is the HTTP + WebSocket API surface for Simulant.
type Server struct {
	cfg          Config
	orchestrator *app.Orchestrator
	reg          *registry.Registry
	hub          *Hub
	router       chi.Router
	upgrader     websocket.Upgrader
	logger       logging.Logger
	registryDB   *sql.DB
	launcher     browser.Launcher
}

// NewServer creates a new Server with its own Orchestrator.
func NewServer(cfg Config) (*Server, error) {
	if cfg.AppConfig == nil {
		cfg.AppConfig = app.DefaultConfig()
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = cfg.AppConfig.ListenAddr
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewStdoutLogger("Server")
	}

	// Make sure storage root exists
	storageRoot, err := expandPath(cfg.AppConfig.StorageRoot)
	if err != nil {
		return nil, fmt.Errorf("expanding storage root path: %w", err)
	}
	cfg.AppConfig.StorageRoot = storageRoot
	err = os.MkdirAll(cfg.AppConfig.StorageRoot, 0755)
	if err != nil {
		logger.Warn("creating storage root directory", logging.Field{Key: "path", Value: cfg.AppConfig.StorageRoot}, logging.Field{Key: "error", Value: err.Error()})
	}

	// Set up registry DB
	db, err := sql.Open("sqlite", filepath.Join(cfg.AppConfig.StorageRoot, "registry.db"))
	if err != nil {
		return nil, fmt.Errorf("opening registry database: %w", err)
	}

	reg, err := registry.NewRegistry(db, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating registry: %w", err)
	}
	if err := reg.StartRetentionSweep(cfg.AppConfig.RunRetention); err != nil {
		logger.Warn("starting retention sweep", logging.Field{Key: "error", Value: err.Error()})
	}

	launcher := cfg.Launcher
	if launcher == nil {
		launcher = browser.NewChromeLauncher(cfg.AppConfig.BrowserCfg, logger)
	}
	llm := cfg.Oracle
	if llm == nil {
		llm = oracle.NewClient(cfg.AppConfig.OracleCfg, logger)
	}

	hub := NewHub(logger)
	orch := app.NewOrchestrator(cfg.AppConfig, reg, hub, launcher, llm, logger)

	r := chi.NewRouter()
	s := &Server{
		cfg:          cfg,
		orchestrator: orch,
		reg:          reg,
		hub:          hub,
		router:       r,
		logger:       logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// TODO: tighten for production
				return true
			},
		},
		registryDB: db,
		launcher:   launcher,
	}

	s.routes()
	return s, nil
}

// Orchestrator returns the underlying orchestrator for advanced use (tests, etc.).
func (s *Server) Orchestrator() *app.Orchestrator {
	return s.orchestrator
}

// Registry returns the run store.
func (s *Server) Registry() *registry.Registry {
	return s.reg
}

func (s *Server) routes() {
	r := s.router

	r.Use(s.corsMiddleware)

	// CORS preflight
	r.Options("/tests/start", s.optionsHandler("POST"))
	r.Options("/tests/{testID}/cancel", s.optionsHandler("POST"))
	r.Options("/tests/{testID}", s.optionsHandler("GET"))
	r.Options("/tests/{testID}/bugs", s.optionsHandler("GET"))
	r.Options("/tests", s.optionsHandler("GET"))
	r.Options("/personas", s.optionsHandler("GET"))
	r.Options("/usage/{userID}", s.optionsHandler("GET"))
	r.Options("/runs/active", s.optionsHandler("GET"))

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/personas", s.handleListPersonas)

	// Runs over REST
	r.Post("/tests/start", s.handleStartTest)
	r.Post("/tests/{testID}/cancel", s.handleCancelTest)
	r.Get("/tests/{testID}", s.handleGetTest)
	r.Get("/tests/{testID}/bugs", s.handleGetBugs)
	r.Get("/tests", s.handleListTests)
	r.Get("/usage/{userID}", s.handleGetUsage)
	r.Get("/runs/active", s.handleListActiveRuns)

	// WebSocket for run progress
	r.Get("/ws/tests/{testID}", s.handleTestWS)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		next.ServeHTTP(w, r)
	})
}

func (s *Server) optionsHandler(methods string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Methods", methods)
		w.WriteHeader(http.StatusNoContent)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fields := []logging.Field{
		{Key: "method", Value: r.Method},
		{Key: "path", Value: r.URL.Path},
	}

	if q := r.URL.Query(); len(q) > 0 {
		fields = append(fields, logging.Field{Key: "query", Value: q})
	}

	if r.Body != nil && r.Method == http.MethodPost {
		if bodyBytes, err := io.ReadAll(r.Body); err == nil {
			fields = append(fields, logging.Field{Key: "body", Value: string(bodyBytes)})
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}
	}

	s.logger.Info("http_request", fields...)

	s.router.ServeHTTP(w, r)
}

// Close shuts down the orchestrator and underlying resources.
func (s *Server) Close() {
	if s.orchestrator != nil {
		s.orchestrator.Close()
	}
	if s.launcher != nil {
		_ = s.launcher.Close()
	}
	if s.reg != nil {
		s.reg.Close()
	}
	if s.registryDB != nil {
		s.registryDB.Close()
	}
}

// HTTPServer creates an *http.Server ready to ListenAndServe.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // allow streaming
	}
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// --- HTTP handlers ---

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    "Simulant API",
		"version": "1.0.0",
		"status":  "running",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	type personaInfo struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Role  string `json:"role"`
		Focus string `json:"focus"`
	}
	var out []personaInfo
	for _, p := range persona.List() {
		out = append(out, personaInfo{ID: p.ID, Name: p.Name, Role: p.Role, Focus: p.Focus})
	}
	writeJSON(w, http.StatusOK, map[string]any{"personas": out})
}

func (s *Server) handleStartTest(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.AppConfig.BetaEnd.IsZero() && time.Now().UTC().After(s.cfg.AppConfig.BetaEnd) {
		writeError(w, http.StatusForbidden, "Beta period has ended. Paid plans coming soon!")
		return
	}

	var body StartTestRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := body.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	used := 0
	if limit := s.cfg.AppConfig.FreeRunLimit; limit > 0 {
		n, err := s.reg.CountRuns(r.Context(), body.UserID)
		if err != nil {
			s.logger.Warn("counting runs", logging.Field{Key: "error", Value: err.Error()})
			writeError(w, http.StatusInternalServerError, "failed to start test")
			return
		}
		used = n
		if used >= limit {
			writeError(w, http.StatusForbidden,
				fmt.Sprintf("Free tier limit reached (%d tests). Paid plans coming soon!", limit))
			return
		}
	}

	run, err := s.reg.CreateRun(r.Context(), body.UserID, body.URL, body.Personas)
	if err != nil {
		s.logger.Warn("creating run", logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusInternalServerError, "failed to start test")
		return
	}

	if err := s.orchestrator.StartRun(run.ID, run.URL, run.Personas); err != nil {
		s.logger.Warn("starting run", logging.Field{Key: "run_id", Value: run.ID}, logging.Field{Key: "error", Value: err.Error()})
		writeError(w, http.StatusInternalServerError, "failed to start test")
		return
	}
	s.logger.Info("started run",
		logging.Field{Key: "run_id", Value: run.ID},
		logging.Field{Key: "url", Value: run.URL},
		logging.Field{Key: "personas", Value: run.Personas})

	msg := "Test started."
	if limit := s.cfg.AppConfig.FreeRunLimit; limit > 0 {
		msg = fmt.Sprintf("Test started. %d free tests remaining.", limit-used-1)
	}
	writeJSON(w, http.StatusOK, StartTestResponse{
		TestID:  run.ID,
		Status:  "started",
		Message: msg,
	})
}

func (s *Server) handleCancelTest(w http.ResponseWriter, r *http.Request) {
	testID := chi.URLParam(r, "testID")

	run, err := s.reg.GetRun(r.Context(), testID)
	if err != nil {
		if errors.Is(err, registry.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "Test not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	switch run.Status {
	case "completed", "cancelled", "failed":
		writeJSON(w, http.StatusOK, CancelResponse{Status: run.Status, Message: "Test already finished"})
		return
	}

	if s.orchestrator.CancelRun(testID) {
		writeJSON(w, http.StatusOK, CancelResponse{
			Status:  "cancelling",
			Message: "Test is being cancelled. Reports will be generated for completed work.",
		})
		return
	}
	writeJSON(w, http.StatusOK, CancelResponse{Status: "completed", Message: "Test already finished or not running"})
}

func (s *Server) handleGetTest(w http.ResponseWriter, r *http.Request) {
	testID := chi.URLParam(r, "testID")

	run, err := s.reg.GetRun(r.Context(), testID)
	if err != nil {
		if errors.Is(err, registry.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "Test not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	results, err := s.reg.ListResults(r.Context(), testID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	summary := map[string]any{"total_bugs": 0, "critical": 0, "high": 0, "medium": 0, "low": 0, "avg_score": 0.0}
	var totalScore float64
	counts := map[string]int{}
	total := 0
	for _, res := range results {
		totalScore += res.QualityScore
		for _, f := range res.Findings {
			total++
			counts[f.Severity]++
		}
	}
	summary["total_bugs"] = total
	summary["critical"] = counts["critical"]
	summary["high"] = counts["high"]
	summary["medium"] = counts["medium"]
	summary["low"] = counts["low"]
	if len(results) > 0 {
		summary["avg_score"] = round1(totalScore / float64(len(results)))
	}

	type resultView struct {
		Persona      string          `json:"persona"`
		Status       string          `json:"status"`
		Findings     []agent.Finding `json:"bugs_found"`
		QualityScore float64         `json:"quality_score"`
		Summary      string          `json:"summary"`
	}
	views := make([]resultView, 0, len(results))
	for _, res := range results {
		findings := res.Findings
		if findings == nil {
			findings = []agent.Finding{}
		}
		views = append(views, resultView{
			Persona:      res.Persona,
			Status:       res.Status,
			Findings:     findings,
			QualityScore: res.QualityScore,
			Summary:      res.Summary,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":         run.ID,
		"url":        run.URL,
		"status":     run.Status,
		"personas":   run.Personas,
		"created_at": run.CreatedAt.Format(time.RFC3339),
		"summary":    summary,
		"results":    views,
	})
}

func (s *Server) handleGetBugs(w http.ResponseWriter, r *http.Request) {
	testID := chi.URLParam(r, "testID")
	severity := r.URL.Query().Get("severity")

	results, err := s.reg.ListResults(r.Context(), testID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	bugs := []agent.Finding{}
	for _, res := range results {
		for _, f := range res.Findings {
			f.FoundBy = res.Persona
			if severity == "" || f.Severity == severity {
				bugs = append(bugs, f)
			}
		}
	}
	sort.SliceStable(bugs, func(i, j int) bool {
		return severityRank(bugs[i].Severity) < severityRank(bugs[j].Severity)
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"test_id": testID,
		"total":   len(bugs),
		"bugs":    bugs,
	})
}

func (s *Server) handleListTests(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = "anonymous"
	}
	limit := 20
	if ls := r.URL.Query().Get("limit"); ls != "" {
		if v, err := strconv.Atoi(ls); err == nil && v > 0 {
			limit = v
		}
	}

	runs, err := s.reg.ListRuns(r.Context(), userID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	type runView struct {
		ID          string   `json:"id"`
		URL         string   `json:"url"`
		Status      string   `json:"status"`
		Personas    []string `json:"personas"`
		CreatedAt   string   `json:"created_at"`
		CompletedAt string   `json:"completed_at,omitempty"`
	}
	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		v := runView{
			ID:        run.ID,
			URL:       run.URL,
			Status:    run.Status,
			Personas:  run.Personas,
			CreatedAt: run.CreatedAt.Format(time.RFC3339),
		}
		if run.CompletedAt != nil {
			v.CompletedAt = run.CompletedAt.Format(time.RFC3339)
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"tests": views})
}

func (s *Server) handleGetUsage(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	used, err := s.reg.CountRuns(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	limit := s.cfg.AppConfig.FreeRunLimit
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	resp := UsageResponse{
		TestsUsed:      used,
		TestsLimit:     limit,
		TestsRemaining: remaining,
		BetaActive:     true,
		Plan:           "free_beta",
	}
	if end := s.cfg.AppConfig.BetaEnd; !end.IsZero() {
		resp.BetaActive = !time.Now().UTC().After(end)
		resp.BetaEnds = end.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListActiveRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"active": s.orchestrator.ListActiveRuns()})
}

// handleTestWS streams run events to the client. The read loop answers
// application-level "ping" messages and notices disconnects; the subscriber
// is removed when the loop exits.
func (s *Server) handleTestWS(w http.ResponseWriter, r *http.Request) {
	testID := chi.URLParam(r, "testID")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrading to websocket", logging.Field{Key: "error", Value: err.Error()})
		return
	}
	defer conn.Close()

	c := &wsConn{conn: conn}
	s.hub.subscribe(testID, c)
	defer s.hub.unsubscribe(testID, c)

	if err := c.writeJSON(map[string]string{"type": "connected", "test_id": testID}); err != nil {
		return
	}

	// Keepalive pings so idle connections survive proxies.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				c.mu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				c.mu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if string(msg) == "ping" {
			if err := c.writeJSON(map[string]string{"type": "pong"}); err != nil {
				return
			}
		}
	}
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}

func expandPath(p string) (string, error) {
	if len(p) > 0 && p[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, p[1:]), nil
	}
	return p, nil
}
