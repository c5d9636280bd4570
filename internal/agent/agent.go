// Package agent drives one persona through the fixed testing protocol
// against a target site. A worker owns its browser session, consults the
// oracle at every step, accumulates deduplicated findings and always ends
// with a report, whatever happened along the way.
package agent

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/simulant-labs/simulant/internal/browser"
	"github.com/simulant-labs/simulant/internal/logging"
	"github.com/simulant-labs/simulant/internal/oracle"
	"github.com/simulant-labs/simulant/internal/persona"
)

// Phases is the fixed protocol every persona walks through, in order.
var Phases = []string{
	"initial_load",
	"navigation",
	"forms",
	"interactions",
	"content",
	"final_review",
}

// stepPhases are the middle phases that run the oracle-driven action loop.
var stepPhases = []string{"navigation", "forms", "interactions", "content"}

// Finding is one defect discovered by a worker. Title is the dedup key
// within a worker's finding set.
type Finding struct {
	Title          string `json:"title"`
	Severity       string `json:"severity"`
	Description    string `json:"description"`
	Impact         string `json:"impact"`
	Recommendation string `json:"recommendation"`
	FoundBy        string `json:"found_by"`
	Phase          string `json:"phase"`
}

// Report is the outcome of one worker's run.
type Report struct {
	PersonaID       string    `json:"persona_id"`
	Persona         string    `json:"persona"`
	Role            string    `json:"role"`
	Status          string    `json:"status"` // completed | cancelled
	Findings        []Finding `json:"bugs_found"`
	QualityScore    float64   `json:"quality_score"`
	Summary         string    `json:"summary"`
	Duration        float64   `json:"test_duration"`
	PhasesCompleted []string  `json:"phases_completed"`
	WasCancelled    bool      `json:"was_cancelled"`
}

// Oracle is the decision service consulted at each step.
type Oracle interface {
	Ask(ctx context.Context, prompt string, screenshot []byte) (*oracle.Decision, error)
}

// EventFunc receives worker progress events. Delivery is best-effort; the
// worker never blocks on or reacts to the sink.
type EventFunc func(event string, data map[string]any)

// Config bounds a worker's run.
type Config struct {
	// MaxSteps is the global action budget across all step phases.
	MaxSteps int `yaml:"max_steps"`

	// StepsPerPhase bounds iterations within one step phase.
	StepsPerPhase int `yaml:"steps_per_phase"`

	// NavigationTimeout bounds the initial page load.
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`

	// StepPause lets page transitions settle between actions.
	StepPause time.Duration `yaml:"step_pause"`
}

// DefaultConfig mirrors the protocol defaults: 12 actions total, 3 per
// phase, 30 s initial load bound, 300 ms pacing.
func DefaultConfig() Config {
	return Config{
		MaxSteps:          12,
		StepsPerPhase:     3,
		NavigationTimeout: 30 * time.Second,
		StepPause:         300 * time.Millisecond,
	}
}

// Worker runs one persona against one target.
type Worker struct {
	persona  persona.Persona
	launcher browser.Launcher
	oracle   Oracle
	cfg      Config
	logger   logging.Logger
	emit     EventFunc

	cancelled atomic.Bool

	// run state, touched only by the worker's own goroutine
	currentPhase    string
	phasesCompleted []string
	findings        []Finding
	seenTitles      map[string]struct{}
	pageInfo        *browser.PageInfo
	assessment      string
}

// NewWorker builds a worker. emit may be nil.
func NewWorker(p persona.Persona, launcher browser.Launcher, o Oracle, cfg Config, logger logging.Logger, emit EventFunc) *Worker {
	if cfg.MaxSteps <= 0 {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = logging.NewStdoutLogger("agent")
	}
	return &Worker{
		persona:    p,
		launcher:   launcher,
		oracle:     o,
		cfg:        cfg,
		logger:     logger.With(logging.Field{Key: "component", Value: "agent:" + p.ID}),
		emit:       emit,
		seenTitles: make(map[string]struct{}),
	}
}

// Cancel asks the worker to stop. Advisory: the worker finishes its current
// step, then winds down and still produces a report.
func (w *Worker) Cancel() {
	w.cancelled.Store(true)
}

func (w *Worker) isCancelled(ctx context.Context) bool {
	return w.cancelled.Load() || ctx.Err() != nil
}

func (w *Worker) broadcast(event string, data map[string]any) {
	if w.emit == nil {
		return
	}
	w.emit(event, data)
}

// Run executes the full protocol and returns the report. An error is
// returned only for failures outside the protocol (e.g. the browser could
// not start); the caller converts those into a failed report. Everything
// inside the protocol degrades into findings or skipped work.
func (w *Worker) Run(ctx context.Context, url string) (*Report, error) {
	start := time.Now()

	session, err := w.launcher.NewSession(ctx, browser.SessionOptions{Mobile: w.persona.Mobile})
	if err != nil {
		return nil, err
	}
	// The session is the only transient artifact; release it on every exit
	// path.
	defer session.Close()

	// Phase 1: initial load. The only phase whose failure ends the worker.
	w.currentPhase = "initial_load"
	w.broadcast("phase", map[string]any{"phase": "Loading page..."})

	loadStart := time.Now()
	if err := session.Navigate(ctx, url, w.cfg.NavigationTimeout); err != nil {
		w.addFinding(oracle.Bug{
			Title:          "Page failed to load",
			Severity:       "critical",
			Description:    "The page at " + url + " failed to load within " + w.cfg.NavigationTimeout.String() + ".",
			Impact:         "Users cannot access the site at all.",
			Recommendation: "Check server status and error: " + truncate(err.Error(), 100),
		})
		return w.report(time.Since(start)), nil
	}
	loadTime := time.Since(loadStart).Seconds()

	if w.isCancelled(ctx) {
		return w.report(time.Since(start)), nil
	}

	if info, err := session.Info(ctx); err == nil {
		info.LoadTime = round1(loadTime)
		w.pageInfo = info
	} else {
		w.logger.Warn("page info failed", logging.Field{Key: "error", Value: err.Error()})
	}

	shot := w.screenshot(ctx, session)
	w.analyzeInitialLoad(ctx, shot, url)
	w.phasesCompleted = append(w.phasesCompleted, "initial_load")

	// Phases 2-5: oracle-driven step loops.
	actionCount := 0
	for _, phase := range stepPhases {
		if w.isCancelled(ctx) {
			break
		}
		w.currentPhase = phase
		w.broadcast("phase", map[string]any{"phase": "Testing " + phase + "..."})
		actionCount = w.runStepPhase(ctx, session, phase, actionCount)
		w.phasesCompleted = append(w.phasesCompleted, phase)
	}

	// Phase 6: final review, skipped entirely once cancelled.
	if !w.isCancelled(ctx) {
		w.currentPhase = "final_review"
		w.broadcast("phase", map[string]any{"phase": "Final review..."})
		shot := w.screenshot(ctx, session)
		w.finalReview(ctx, shot, url)
		w.phasesCompleted = append(w.phasesCompleted, "final_review")
	}

	return w.report(time.Since(start)), nil
}

// runStepPhase runs up to StepsPerPhase oracle consultations for one phase
// and returns the updated global action count.
func (w *Worker) runStepPhase(ctx context.Context, session browser.Session, phase string, actionCount int) int {
	for i := 0; i < w.cfg.StepsPerPhase; i++ {
		if w.isCancelled(ctx) || actionCount >= w.cfg.MaxSteps {
			return actionCount
		}

		shot := w.screenshot(ctx, session)
		loc, _ := session.Location(ctx)

		decision, err := w.oracle.Ask(ctx, w.actionPrompt(ctx, session, phase, loc), shot)
		if err != nil {
			w.logger.Warn("oracle gave no decision",
				logging.Field{Key: "phase", Value: phase},
				logging.Field{Key: "error", Value: err.Error()})
		}
		if decision == nil {
			return actionCount
		}

		if decision.Thought != "" {
			w.broadcast("action", map[string]any{"thought": decision.Thought})
		}
		for _, bug := range decision.Bugs {
			w.addFinding(bug)
		}

		action := decision.Action
		if action == nil || action.Type == "done" || action.Type == "skip" {
			return actionCount
		}

		before, _ := session.HTML(ctx)
		ok := w.execute(ctx, session, action)
		after, _ := session.HTML(ctx)

		w.broadcast("action", map[string]any{
			"action":       action.Type,
			"target":       action.Target,
			"succeeded":    ok,
			"change_ratio": pageChangeRatio(before, after),
		})

		actionCount++
		time.Sleep(w.cfg.StepPause)
	}
	return actionCount
}

func (w *Worker) screenshot(ctx context.Context, session browser.Session) []byte {
	shot, err := session.Screenshot(ctx)
	if err != nil {
		w.logger.Debug("screenshot failed", logging.Field{Key: "error", Value: err.Error()})
		return nil
	}
	return shot
}

func (w *Worker) analyzeInitialLoad(ctx context.Context, shot []byte, url string) {
	decision, err := w.oracle.Ask(ctx, w.analyzePrompt("initial_load", url), shot)
	if err != nil {
		w.logger.Warn("initial analysis gave no decision", logging.Field{Key: "error", Value: err.Error()})
		return
	}
	if decision == nil {
		return
	}
	for _, bug := range decision.Bugs {
		w.addFinding(bug)
	}
}

func (w *Worker) finalReview(ctx context.Context, shot []byte, url string) {
	decision, err := w.oracle.Ask(ctx, w.finalReviewPrompt(url), shot)
	if err != nil {
		w.logger.Warn("final review gave no decision", logging.Field{Key: "error", Value: err.Error()})
		return
	}
	if decision == nil {
		return
	}
	for _, bug := range decision.Bugs {
		w.addFinding(bug)
	}
	w.assessment = decision.OverallAssessment
}

// addFinding records a bug unless a finding with the same title already
// exists. The first occurrence wins and keeps its phase tag.
func (w *Worker) addFinding(bug oracle.Bug) {
	if bug.Title == "" {
		return
	}
	if _, dup := w.seenTitles[bug.Title]; dup {
		return
	}
	w.seenTitles[bug.Title] = struct{}{}

	f := Finding{
		Title:          bug.Title,
		Severity:       bug.Severity,
		Description:    bug.Description,
		Impact:         bug.Impact,
		Recommendation: bug.Recommendation,
		FoundBy:        w.persona.Name,
		Phase:          w.currentPhase,
	}
	w.findings = append(w.findings, f)
	w.broadcast("bug_found", map[string]any{"bug": f})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
