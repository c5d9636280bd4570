package registry_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/simulant-labs/simulant/internal/agent"
	"github.com/simulant-labs/simulant/internal/app"
	"github.com/simulant-labs/simulant/internal/registry"
	"github.com/simulant-labs/simulant/internal/testutil"

	_ "modernc.org/sqlite"
)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	reg, err := registry.NewRegistry(db, &testutil.DummyLogger{})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	t.Cleanup(reg.Close)
	return reg
}

func TestCreateAndGetRun(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	run, err := reg.CreateRun(ctx, "user-1", "http://example.test", []string{"priya", "jake"})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if run.ID == "" || run.Status != "pending" {
		t.Errorf("run = %+v", run)
	}

	got, err := reg.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.URL != "http://example.test" || got.UserID != "user-1" {
		t.Errorf("got = %+v", got)
	}
	if len(got.Personas) != 2 || got.Personas[0] != "priya" {
		t.Errorf("personas = %v", got.Personas)
	}
	if got.CompletedAt != nil {
		t.Errorf("CompletedAt = %v for pending run", got.CompletedAt)
	}
}

func TestGetRunNotFound(t *testing.T) {
	reg := newTestRegistry(t)
	if _, err := reg.GetRun(context.Background(), "missing"); !errors.Is(err, registry.ErrRunNotFound) {
		t.Errorf("err = %v, want ErrRunNotFound", err)
	}
}

func TestUpdateRunStatus(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	run, err := reg.CreateRun(ctx, "user-1", "http://example.test", []string{"priya"})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	if err := reg.UpdateRunStatus(ctx, run.ID, "running"); err != nil {
		t.Fatalf("UpdateRunStatus: %v", err)
	}
	got, _ := reg.GetRun(ctx, run.ID)
	if got.Status != "running" || got.CompletedAt != nil {
		t.Errorf("after running: %+v", got)
	}

	if err := reg.UpdateRunStatus(ctx, run.ID, "completed"); err != nil {
		t.Fatalf("UpdateRunStatus: %v", err)
	}
	got, _ = reg.GetRun(ctx, run.ID)
	if got.Status != "completed" {
		t.Errorf("Status = %q", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not stamped on terminal status")
	}

	if err := reg.UpdateRunStatus(ctx, "missing", "running"); !errors.Is(err, registry.ErrRunNotFound) {
		t.Errorf("err = %v, want ErrRunNotFound", err)
	}
}

func TestListAndCountRuns(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := reg.CreateRun(ctx, "user-1", "http://example.test", []string{"priya"}); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}
	if _, err := reg.CreateRun(ctx, "user-2", "http://other.test", []string{"jake"}); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	runs, err := reg.ListRuns(ctx, "user-1", 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 3 {
		t.Errorf("ListRuns = %d runs", len(runs))
	}

	runs, err = reg.ListRuns(ctx, "user-1", 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("ListRuns with limit 2 = %d runs", len(runs))
	}

	n, err := reg.CountRuns(ctx, "user-1")
	if err != nil {
		t.Fatalf("CountRuns: %v", err)
	}
	if n != 3 {
		t.Errorf("CountRuns = %d", n)
	}
	if n, _ := reg.CountRuns(ctx, "nobody"); n != 0 {
		t.Errorf("CountRuns(nobody) = %d", n)
	}
}

func TestWorkerRecordRoundtrip(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	run, err := reg.CreateRun(ctx, "user-1", "http://example.test", []string{"priya"})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	recordID, err := reg.CreateWorkerRecord(ctx, run.ID, "priya")
	if err != nil {
		t.Fatalf("CreateWorkerRecord: %v", err)
	}

	results, err := reg.ListResults(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(results) != 1 || results[0].Status != "running" {
		t.Fatalf("results = %+v", results)
	}

	update := app.WorkerRecordUpdate{
		Status: "completed",
		Findings: []agent.Finding{
			{Title: "Tiny text", Severity: "low", FoundBy: "Priya", Phase: "content"},
		},
		QualityScore: 9.5,
		Summary:      "Priya found 1 minor issues.",
		ActionsTaken: 6,
		Duration:     42.1,
	}
	if err := reg.UpdateWorkerRecord(ctx, recordID, update); err != nil {
		t.Fatalf("UpdateWorkerRecord: %v", err)
	}

	results, err = reg.ListResults(ctx, run.ID)
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	res := results[0]
	if res.Status != "completed" || res.QualityScore != 9.5 || res.ActionsTaken != 6 {
		t.Errorf("result = %+v", res)
	}
	if len(res.Findings) != 1 || res.Findings[0].Title != "Tiny text" {
		t.Errorf("findings = %+v", res.Findings)
	}

	if err := reg.UpdateWorkerRecord(ctx, "missing", update); !errors.Is(err, registry.ErrResultNotFound) {
		t.Errorf("err = %v, want ErrResultNotFound", err)
	}
}

func TestPruneFinished(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	done, err := reg.CreateRun(ctx, "user-1", "http://example.test", []string{"priya"})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := reg.UpdateRunStatus(ctx, done.ID, "completed"); err != nil {
		t.Fatalf("UpdateRunStatus: %v", err)
	}
	running, err := reg.CreateRun(ctx, "user-1", "http://example.test", []string{"priya"})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	// Negative retention puts the cutoff in the future, so every finished
	// run qualifies regardless of age.
	n, err := reg.PruneFinished(ctx, -time.Minute)
	if err != nil {
		t.Fatalf("PruneFinished: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}

	if _, err := reg.GetRun(ctx, done.ID); !errors.Is(err, registry.ErrRunNotFound) {
		t.Errorf("finished run survived prune: %v", err)
	}
	if _, err := reg.GetRun(ctx, running.ID); err != nil {
		t.Errorf("pending run was pruned: %v", err)
	}
}
