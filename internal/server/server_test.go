package server_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/simulant-labs/simulant/internal/agent"
	"github.com/simulant-labs/simulant/internal/app"
	"github.com/simulant-labs/simulant/internal/oracle"
	"github.com/simulant-labs/simulant/internal/server"
	"github.com/simulant-labs/simulant/internal/testutil"
)

func testServerConfig(t *testing.T) server.Config {
	t.Helper()

	appCfg := app.DefaultConfig()
	appCfg.StorageRoot = t.TempDir()
	appCfg.FreeRunLimit = 5
	appCfg.AgentCfg = agent.Config{
		MaxSteps:          12,
		StepsPerPhase:     3,
		NavigationTimeout: time.Second,
		StepPause:         time.Millisecond,
	}

	return server.Config{
		ListenAddr: ":0",
		AppConfig:  appCfg,
		Logger:     &testutil.DummyLogger{},
		Launcher:   &testutil.DummyLauncher{},
		Oracle: &testutil.ScriptedOracle{
			Script: []*oracle.Decision{
				{Bugs: []oracle.Bug{{Title: "Broken checkout", Severity: "critical"}}},
			},
		},
	}
}

func newTestServer(t *testing.T) *server.Server {
	t.Helper()
	s, err := server.NewServer(testServerConfig(t))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func doJSON(t *testing.T, s http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON response: %v (body: %s)", err, rec.Body.String())
	}
}

// startRun admits a run and waits until it reaches a terminal status.
func startRun(t *testing.T, s *server.Server, userID string) string {
	t.Helper()

	body := fmt.Sprintf(`{"url": "http://example.test", "personas": ["priya"], "user_id": %q}`, userID)
	rec := doJSON(t, s, http.MethodPost, "/tests/start", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("start test: status %d (body: %s)", rec.Code, rec.Body.String())
	}
	var resp server.StartTestResponse
	decodeJSON(t, rec, &resp)
	if resp.TestID == "" || resp.Status != "started" {
		t.Fatalf("start response = %+v", resp)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := doJSON(t, s, http.MethodGet, "/tests/"+resp.TestID, "")
		var got struct {
			Status string `json:"status"`
		}
		decodeJSON(t, rec, &got)
		switch got.Status {
		case "completed", "cancelled", "failed":
			return resp.TestID
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("run did not finish in time")
	return ""
}

func TestRootAndHealth(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var root map[string]string
	decodeJSON(t, rec, &root)
	if root["name"] != "Simulant API" {
		t.Errorf("root = %v", root)
	}

	rec = doJSON(t, s, http.MethodGet, "/health", "")
	var health map[string]string
	decodeJSON(t, rec, &health)
	if health["status"] != "healthy" || health["timestamp"] == "" {
		t.Errorf("health = %v", health)
	}
}

func TestListPersonas(t *testing.T) {
	s := newTestServer(t)

	rec := doJSON(t, s, http.MethodGet, "/personas", "")
	var resp struct {
		Personas []struct {
			ID   string `json:"id"`
			Role string `json:"role"`
		} `json:"personas"`
	}
	decodeJSON(t, rec, &resp)
	if len(resp.Personas) != 5 {
		t.Fatalf("personas = %d", len(resp.Personas))
	}
	if resp.Personas[0].ID != "jake" {
		t.Errorf("first persona = %+v", resp.Personas[0])
	}
}

func TestStartTestValidation(t *testing.T) {
	s := newTestServer(t)

	cases := []struct {
		name string
		body string
	}{
		{"empty body", `{}`},
		{"bad scheme", `{"url": "ftp://example.test", "personas": ["priya"]}`},
		{"no personas", `{"url": "http://example.test", "personas": []}`},
		{"unknown persona", `{"url": "http://example.test", "personas": ["bob"]}`},
		{"duplicate persona", `{"url": "http://example.test", "personas": ["priya", "priya"]}`},
		{"not json", `personas=priya`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, s, http.MethodPost, "/tests/start", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body: %s)", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestStartTestQuota(t *testing.T) {
	cfg := testServerConfig(t)
	cfg.AppConfig.FreeRunLimit = 2
	s, err := server.NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(s.Close)

	startRun(t, s, "heavy-user")
	startRun(t, s, "heavy-user")

	rec := doJSON(t, s, http.MethodPost, "/tests/start",
		`{"url": "http://example.test", "personas": ["priya"], "user_id": "heavy-user"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 (body: %s)", rec.Code, rec.Body.String())
	}

	// Other users are unaffected.
	rec = doJSON(t, s, http.MethodPost, "/tests/start",
		`{"url": "http://example.test", "personas": ["priya"], "user_id": "light-user"}`)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d for fresh user", rec.Code)
	}
}

func TestStartTestAfterBetaEnds(t *testing.T) {
	cfg := testServerConfig(t)
	cfg.AppConfig.BetaEnd = time.Now().UTC().Add(-time.Hour)
	s, err := server.NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(s.Close)

	rec := doJSON(t, s, http.MethodPost, "/tests/start",
		`{"url": "http://example.test", "personas": ["priya"]}`)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestGetTestResults(t *testing.T) {
	s := newTestServer(t)
	testID := startRun(t, s, "user-1")

	rec := doJSON(t, s, http.MethodGet, "/tests/"+testID, "")
	var resp struct {
		ID      string `json:"id"`
		Status  string `json:"status"`
		Summary struct {
			TotalBugs int     `json:"total_bugs"`
			Critical  int     `json:"critical"`
			AvgScore  float64 `json:"avg_score"`
		} `json:"summary"`
		Results []struct {
			Persona  string          `json:"persona"`
			Status   string          `json:"status"`
			Findings []agent.Finding `json:"bugs_found"`
		} `json:"results"`
	}
	decodeJSON(t, rec, &resp)

	if resp.ID != testID || resp.Status != "completed" {
		t.Errorf("run = %+v", resp)
	}
	if resp.Summary.TotalBugs != 1 || resp.Summary.Critical != 1 {
		t.Errorf("summary = %+v", resp.Summary)
	}
	if resp.Summary.AvgScore != 7.0 {
		t.Errorf("avg_score = %v, want 7.0", resp.Summary.AvgScore)
	}
	if len(resp.Results) != 1 || resp.Results[0].Persona != "priya" {
		t.Fatalf("results = %+v", resp.Results)
	}
	if len(resp.Results[0].Findings) != 1 || resp.Results[0].Findings[0].Title != "Broken checkout" {
		t.Errorf("findings = %+v", resp.Results[0].Findings)
	}
}

func TestGetTestNotFound(t *testing.T) {
	s := newTestServer(t)
	if rec := doJSON(t, s, http.MethodGet, "/tests/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestGetBugs(t *testing.T) {
	s := newTestServer(t)
	testID := startRun(t, s, "user-1")

	rec := doJSON(t, s, http.MethodGet, "/tests/"+testID+"/bugs", "")
	var resp struct {
		Total int             `json:"total"`
		Bugs  []agent.Finding `json:"bugs"`
	}
	decodeJSON(t, rec, &resp)
	if resp.Total != 1 || len(resp.Bugs) != 1 {
		t.Fatalf("bugs = %+v", resp)
	}
	if resp.Bugs[0].FoundBy != "priya" {
		t.Errorf("found_by = %q", resp.Bugs[0].FoundBy)
	}

	// Severity filter that matches nothing.
	rec = doJSON(t, s, http.MethodGet, "/tests/"+testID+"/bugs?severity=low", "")
	decodeJSON(t, rec, &resp)
	if resp.Total != 0 {
		t.Errorf("filtered total = %d", resp.Total)
	}
}

func TestCancelTest(t *testing.T) {
	s := newTestServer(t)

	if rec := doJSON(t, s, http.MethodPost, "/tests/missing/cancel", ""); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}

	testID := startRun(t, s, "user-1")
	rec := doJSON(t, s, http.MethodPost, "/tests/"+testID+"/cancel", "")
	var resp server.CancelResponse
	decodeJSON(t, rec, &resp)
	if resp.Message != "Test already finished" {
		t.Errorf("cancel response = %+v", resp)
	}
}

func TestListTests(t *testing.T) {
	s := newTestServer(t)
	startRun(t, s, "user-1")
	startRun(t, s, "user-1")

	rec := doJSON(t, s, http.MethodGet, "/tests?user_id=user-1", "")
	var resp struct {
		Tests []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"tests"`
	}
	decodeJSON(t, rec, &resp)
	if len(resp.Tests) != 2 {
		t.Errorf("tests = %+v", resp.Tests)
	}

	rec = doJSON(t, s, http.MethodGet, "/tests?user_id=somebody-else", "")
	decodeJSON(t, rec, &resp)
	if len(resp.Tests) != 0 {
		t.Errorf("tests for other user = %+v", resp.Tests)
	}
}

func TestUsage(t *testing.T) {
	s := newTestServer(t)
	startRun(t, s, "user-1")

	rec := doJSON(t, s, http.MethodGet, "/usage/user-1", "")
	var resp server.UsageResponse
	decodeJSON(t, rec, &resp)
	if resp.TestsUsed != 1 || resp.TestsLimit != 5 || resp.TestsRemaining != 4 {
		t.Errorf("usage = %+v", resp)
	}
	if !resp.BetaActive || resp.Plan != "free_beta" {
		t.Errorf("usage = %+v", resp)
	}
}

func TestValidateStartTestRequest(t *testing.T) {
	r := server.StartTestRequest{URL: "  http://example.test  ", Personas: []string{"priya"}}
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if r.URL != "http://example.test" {
		t.Errorf("URL not trimmed: %q", r.URL)
	}
	if r.UserID != "anonymous" {
		t.Errorf("UserID = %q, want anonymous", r.UserID)
	}

	long := strings.Repeat("x", 150)
	r = server.StartTestRequest{URL: "http://example.test", Personas: []string{"jake"}, UserID: long}
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(r.UserID) != 100 {
		t.Errorf("UserID length = %d, want clipped to 100", len(r.UserID))
	}
}
