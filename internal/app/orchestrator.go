// Package app hosts the test orchestrator: run admission, persona worker
// fan-out under a global concurrency cap, cooperative cancellation and
// run-level aggregation.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/simulant-labs/simulant/internal/agent"
	"github.com/simulant-labs/simulant/internal/browser"
	"github.com/simulant-labs/simulant/internal/logging"
	"github.com/simulant-labs/simulant/internal/persona"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunPending    RunStatus = "pending"
	RunRunning    RunStatus = "running"
	RunCancelling RunStatus = "cancelling"
	RunCancelled  RunStatus = "cancelled"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
)

// RunSummary aggregates all worker reports of a run. Computed once, after
// every worker has settled.
type RunSummary struct {
	TotalBugs    int  `json:"total_bugs"`
	Critical     int  `json:"critical"`
	High         int  `json:"high"`
	Medium       int  `json:"medium"`
	Low          int  `json:"low"`
	WasCancelled bool `json:"was_cancelled"`
}

// RunInfo is the observability snapshot for one active run.
type RunInfo struct {
	URL    string    `json:"url"`
	Status RunStatus `json:"status"`
}

// Store is the persistence collaborator. The orchestrator never depends on
// its storage model, only on these lifecycle hooks.
type Store interface {
	UpdateRunStatus(ctx context.Context, runID string, status string) error
	CreateWorkerRecord(ctx context.Context, runID, personaID string) (string, error)
	UpdateWorkerRecord(ctx context.Context, recordID string, rec WorkerRecordUpdate) error
}

// WorkerRecordUpdate carries a worker's final state to the store.
type WorkerRecordUpdate struct {
	Status       string
	Findings     []agent.Finding
	QualityScore float64
	Summary      string
	ActionsTaken int
	Duration     float64
}

// Broadcaster delivers run events to observers. Delivery is fire-and-forget;
// a missing or failing sink never affects orchestration.
type Broadcaster interface {
	Broadcast(runID string, event map[string]any)
}

type runEntry struct {
	url          string
	status       RunStatus
	wasCancelled bool
	workers      map[string]*agent.Worker
	startedAt    time.Time
}

// Orchestrator admits runs, fans them out into persona workers and owns the
// in-memory registry of everything currently executing.
type Orchestrator struct {
	cfg      *Config
	store    Store
	sink     Broadcaster
	launcher browser.Launcher
	oracle   agent.Oracle
	logger   logging.Logger

	sem chan struct{}

	mu     sync.Mutex
	active map[string]*runEntry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator wires the orchestrator. sink may be nil.
func NewOrchestrator(cfg *Config, store Store, sink Broadcaster, launcher browser.Launcher, o agent.Oracle, logger logging.Logger) *Orchestrator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logging.NewStdoutLogger("orchestrator")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		sink:     sink,
		launcher: launcher,
		oracle:   o,
		logger:   logger,
		sem:      make(chan struct{}, cfg.MaxConcurrentAgents),
		active:   make(map[string]*runEntry),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (o *Orchestrator) broadcast(runID string, event map[string]any) {
	if o.sink == nil {
		return
	}
	o.sink.Broadcast(runID, event)
}

// StartRun registers the run, spawns one worker per persona and returns
// immediately. Completion is observed through events and the store.
func (o *Orchestrator) StartRun(runID, url string, personaIDs []string) error {
	if len(personaIDs) == 0 {
		return fmt.Errorf("no personas selected")
	}

	workers := make(map[string]*agent.Worker, len(personaIDs))
	for _, id := range personaIDs {
		pid := id
		p := persona.Get(pid)
		emit := func(event string, data map[string]any) {
			payload := map[string]any{"type": event, "persona": pid}
			for k, v := range data {
				payload[k] = v
			}
			o.broadcast(runID, payload)
		}
		workers[pid] = agent.NewWorker(p, o.launcher, o.oracle, o.cfg.AgentCfg, o.logger, emit)
	}

	o.mu.Lock()
	if _, exists := o.active[runID]; exists {
		o.mu.Unlock()
		return fmt.Errorf("run %s already active", runID)
	}
	o.active[runID] = &runEntry{
		url:       url,
		status:    RunRunning,
		workers:   workers,
		startedAt: time.Now().UTC(),
	}
	o.mu.Unlock()

	if err := o.store.UpdateRunStatus(o.ctx, runID, string(RunRunning)); err != nil {
		o.logger.Warn("update run status", logging.Field{Key: "run_id", Value: runID}, logging.Field{Key: "error", Value: err.Error()})
	}
	o.broadcast(runID, map[string]any{"type": "test_started", "personas": personaIDs})

	reports := make([]*agent.Report, len(personaIDs))
	var workerWG sync.WaitGroup
	for i, id := range personaIDs {
		i, id := i, id
		workerWG.Add(1)
		o.wg.Add(1)
		go func() {
			defer workerWG.Done()
			defer o.wg.Done()
			reports[i] = o.runWorker(runID, url, id, workers[id])
		}()
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		workerWG.Wait()
		o.finishRun(runID, reports)
	}()

	return nil
}

// runWorker executes one persona worker. The admission semaphore gates the
// whole body, so queued workers hold no browser or oracle resources. Any
// failure is isolated into a degraded report.
func (o *Orchestrator) runWorker(runID, url, personaID string, w *agent.Worker) (report *agent.Report) {
	o.sem <- struct{}{}
	defer func() { <-o.sem }()

	p := persona.Get(personaID)

	recordID, err := o.store.CreateWorkerRecord(o.ctx, runID, personaID)
	if err != nil {
		o.logger.Warn("create worker record",
			logging.Field{Key: "run_id", Value: runID},
			logging.Field{Key: "persona", Value: personaID},
			logging.Field{Key: "error", Value: err.Error()})
	}

	o.broadcast(runID, map[string]any{"type": "persona_started", "persona": personaID})

	fail := func(errMsg string) *agent.Report {
		errMsg = clip(errMsg, 200)
		if recordID != "" {
			_ = o.store.UpdateWorkerRecord(o.ctx, recordID, WorkerRecordUpdate{
				Status:  "failed",
				Summary: "Error: " + errMsg,
			})
		}
		o.broadcast(runID, map[string]any{"type": "persona_failed", "persona": personaID, "error": errMsg})
		return &agent.Report{
			PersonaID:    personaID,
			Persona:      p.Name,
			Role:         p.Role,
			Status:       "failed",
			QualityScore: 0,
			Summary:      "Error: " + errMsg,
		}
	}

	// A panicking worker must not take down its siblings or the run.
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("worker panicked",
				logging.Field{Key: "run_id", Value: runID},
				logging.Field{Key: "persona", Value: personaID},
				logging.Field{Key: "panic", Value: fmt.Sprint(r)})
			report = fail(fmt.Sprintf("panic: %v", r))
		}
	}()

	rep, err := w.Run(o.ctx, url)
	if err != nil {
		return fail(err.Error())
	}

	if recordID != "" {
		if err := o.store.UpdateWorkerRecord(o.ctx, recordID, WorkerRecordUpdate{
			Status:       rep.Status,
			Findings:     rep.Findings,
			QualityScore: rep.QualityScore,
			Summary:      rep.Summary,
			ActionsTaken: len(rep.PhasesCompleted),
			Duration:     rep.Duration,
		}); err != nil {
			o.logger.Warn("update worker record",
				logging.Field{Key: "run_id", Value: runID},
				logging.Field{Key: "persona", Value: personaID},
				logging.Field{Key: "error", Value: err.Error()})
		}
	}

	o.broadcast(runID, map[string]any{
		"type":          "persona_completed",
		"persona":       personaID,
		"bugs_count":    len(rep.Findings),
		"quality_score": rep.QualityScore,
		"was_cancelled": rep.WasCancelled,
	})
	return rep
}

// finishRun aggregates settled worker reports, writes the final status and
// removes the run from the registry. Runs exactly once per run.
func (o *Orchestrator) finishRun(runID string, reports []*agent.Report) {
	summary := Aggregate(reports)

	o.mu.Lock()
	entry := o.active[runID]
	if entry != nil {
		summary.WasCancelled = entry.wasCancelled
	}
	delete(o.active, runID)
	o.mu.Unlock()

	final := RunCompleted
	if summary.WasCancelled {
		final = RunCancelled
	}
	if err := o.store.UpdateRunStatus(o.ctx, runID, string(final)); err != nil {
		o.logger.Warn("update final run status", logging.Field{Key: "run_id", Value: runID}, logging.Field{Key: "error", Value: err.Error()})
	}

	o.broadcast(runID, map[string]any{
		"type":          "test_completed",
		"test_id":       runID,
		"was_cancelled": summary.WasCancelled,
		"summary":       summary,
	})

	o.logger.Info("run finished",
		logging.Field{Key: "run_id", Value: runID},
		logging.Field{Key: "status", Value: string(final)},
		logging.Field{Key: "total_bugs", Value: summary.TotalBugs})
}

// Aggregate folds worker reports into a run summary. Nil reports (which
// should not occur) count as empty. Unrecognized severities count as medium,
// consistent with scoring.
func Aggregate(reports []*agent.Report) RunSummary {
	var s RunSummary
	for _, rep := range reports {
		if rep == nil {
			continue
		}
		for _, f := range rep.Findings {
			s.TotalBugs++
			switch f.Severity {
			case "critical":
				s.Critical++
			case "high":
				s.High++
			case "low":
				s.Low++
			default:
				s.Medium++
			}
		}
	}
	return s
}

// CancelRun signals every worker of the run to stop. Returns false when the
// run is not registered (unknown or already finished) — a no-op, not an
// error. Cancellation is advisory: workers finish their current step first.
func (o *Orchestrator) CancelRun(runID string) bool {
	o.mu.Lock()
	entry, ok := o.active[runID]
	if !ok {
		o.mu.Unlock()
		return false
	}
	entry.status = RunCancelling
	entry.wasCancelled = true
	for _, w := range entry.workers {
		w.Cancel()
	}
	o.mu.Unlock()

	if err := o.store.UpdateRunStatus(o.ctx, runID, string(RunCancelling)); err != nil {
		o.logger.Warn("update run status", logging.Field{Key: "run_id", Value: runID}, logging.Field{Key: "error", Value: err.Error()})
	}
	o.broadcast(runID, map[string]any{
		"type":    "test_cancelling",
		"message": "Stopping test, generating reports for completed work...",
	})
	return true
}

// ListActiveRuns returns a point-in-time snapshot of registered runs.
// Finished runs are absent by construction.
func (o *Orchestrator) ListActiveRuns() map[string]RunInfo {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make(map[string]RunInfo, len(o.active))
	for id, entry := range o.active {
		out[id] = RunInfo{URL: entry.url, Status: entry.status}
	}
	return out
}

// Close cancels the orchestrator context and waits for in-flight workers to
// settle.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	for _, entry := range o.active {
		entry.wasCancelled = true
		for _, w := range entry.workers {
			w.Cancel()
		}
	}
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
