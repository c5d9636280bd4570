// Package testutil provides shared test doubles for use across package tests.
// All dummies implement the corresponding interfaces from the production code,
// allowing injection into components under test without real I/O or side effects.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/simulant-labs/simulant/internal/app"
	"github.com/simulant-labs/simulant/internal/browser"
	"github.com/simulant-labs/simulant/internal/logging"
	"github.com/simulant-labs/simulant/internal/oracle"
)

// ─── Logger ────────────────────────────────────────────────────────────

// DummyLogger implements logging.Logger with in-memory recording.
type DummyLogger struct {
	mu     sync.Mutex
	Errors []string
	Infos  []string
	Debugs []string
	Warns  []string
}

func (l *DummyLogger) Debug(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Debugs = append(l.Debugs, msg)
}

func (l *DummyLogger) Info(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Infos = append(l.Infos, msg)
}

func (l *DummyLogger) Warn(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Warns = append(l.Warns, msg)
}

func (l *DummyLogger) Error(msg string, fields ...logging.Field) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Errors = append(l.Errors, msg)
}

func (l *DummyLogger) With(_ ...logging.Field) logging.Logger { return l }

// ─── Browser ───────────────────────────────────────────────────────────

// DummySession implements browser.Session with in-memory recording.
// By default every call succeeds; set NavigateErr to force navigation
// failures, or Page to control what Info returns.
type DummySession struct {
	NavigateErr error
	Page        *browser.PageInfo
	PageHTML    string
	URL         string
	Errors      []string

	mu      sync.Mutex
	Visited []string
	Clicks  []string
	Typed   []string
	Scrolls []int
	Closed  bool
}

func (s *DummySession) Navigate(ctx context.Context, url string, _ time.Duration) error {
	if s.NavigateErr != nil {
		return s.NavigateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Visited = append(s.Visited, url)
	if s.URL == "" {
		s.URL = url
	}
	return nil
}

func (s *DummySession) Screenshot(context.Context) ([]byte, error) {
	return []byte("png"), nil
}

func (s *DummySession) HTML(context.Context) (string, error) {
	if s.PageHTML != "" {
		return s.PageHTML, nil
	}
	return "<html><body></body></html>", nil
}

func (s *DummySession) Info(context.Context) (*browser.PageInfo, error) {
	if s.Page != nil {
		return s.Page, nil
	}
	return &browser.PageInfo{Title: "Dummy Page", URL: s.URL, HasViewport: true}, nil
}

func (s *DummySession) Location(context.Context) (string, error) {
	return s.URL, nil
}

func (s *DummySession) ClickText(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Clicks = append(s.Clicks, text)
	return nil
}

func (s *DummySession) ClickRole(_ context.Context, role, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Clicks = append(s.Clicks, role+":"+name)
	return nil
}

func (s *DummySession) FillFirstInput(_ context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Typed = append(s.Typed, text)
	return nil
}

func (s *DummySession) Scroll(_ context.Context, deltaY int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Scrolls = append(s.Scrolls, deltaY)
	return nil
}

func (s *DummySession) ConsoleErrors() []string { return s.Errors }

func (s *DummySession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

// DummyLauncher implements browser.Launcher. Each NewSession call returns
// Session (shared) or a fresh DummySession when Session is nil. Set
// SessionErr to make launches fail.
type DummyLauncher struct {
	Session    *DummySession
	SessionErr error

	mu       sync.Mutex
	Launched int
	Sessions []*DummySession
	Options  []browser.SessionOptions
}

func (l *DummyLauncher) NewSession(_ context.Context, opts browser.SessionOptions) (browser.Session, error) {
	if l.SessionErr != nil {
		return nil, l.SessionErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Launched++
	l.Options = append(l.Options, opts)
	s := l.Session
	if s == nil {
		s = &DummySession{}
	}
	l.Sessions = append(l.Sessions, s)
	return s, nil
}

func (l *DummyLauncher) Close() error { return nil }

// ─── Oracle ────────────────────────────────────────────────────────────

// ScriptedOracle implements agent.Oracle by replaying a fixed sequence of
// decisions. Once the script runs out it keeps answering "done" so workers
// wind down naturally. Set Err to force every Ask to fail instead.
type ScriptedOracle struct {
	Script []*oracle.Decision
	Err    error

	// Delay stalls each Ask, useful for observing concurrency.
	Delay time.Duration

	mu      sync.Mutex
	next    int
	Prompts []string
}

func (o *ScriptedOracle) Ask(ctx context.Context, prompt string, _ []byte) (*oracle.Decision, error) {
	if o.Delay > 0 {
		select {
		case <-time.After(o.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Prompts = append(o.Prompts, prompt)

	if o.Err != nil {
		return nil, o.Err
	}
	if o.next < len(o.Script) {
		d := o.Script[o.next]
		o.next++
		return d, nil
	}
	return &oracle.Decision{
		Thought: "Nothing left to try.",
		Action:  &oracle.Action{Type: "done"},
	}, nil
}

// Asks returns how many times the oracle was consulted.
func (o *ScriptedOracle) Asks() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.Prompts)
}

// ─── Store ─────────────────────────────────────────────────────────────

// MemStore implements app.Store with in-memory recording.
type MemStore struct {
	mu       sync.Mutex
	Statuses map[string][]string               // runID -> status transitions
	Records  map[string]app.WorkerRecordUpdate // recordID -> last update
	Created  []string                          // recordIDs in creation order
	Personas map[string]string                 // recordID -> personaID
}

func NewMemStore() *MemStore {
	return &MemStore{
		Statuses: make(map[string][]string),
		Records:  make(map[string]app.WorkerRecordUpdate),
		Personas: make(map[string]string),
	}
}

func (m *MemStore) UpdateRunStatus(_ context.Context, runID string, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Statuses[runID] = append(m.Statuses[runID], status)
	return nil
}

func (m *MemStore) CreateWorkerRecord(_ context.Context, runID, personaID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := runID + "/" + personaID
	m.Created = append(m.Created, id)
	m.Personas[id] = personaID
	return id, nil
}

func (m *MemStore) UpdateWorkerRecord(_ context.Context, recordID string, rec app.WorkerRecordUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Records[recordID] = rec
	return nil
}

// LastStatus returns the most recent status written for runID, or "".
func (m *MemStore) LastStatus(runID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ss := m.Statuses[runID]
	if len(ss) == 0 {
		return ""
	}
	return ss[len(ss)-1]
}

// ─── Broadcaster ───────────────────────────────────────────────────────

// RecordingBroadcaster implements app.Broadcaster with in-memory recording.
type RecordingBroadcaster struct {
	mu     sync.Mutex
	Events map[string][]map[string]any // runID -> events in order
}

func NewRecordingBroadcaster() *RecordingBroadcaster {
	return &RecordingBroadcaster{Events: make(map[string][]map[string]any)}
}

func (b *RecordingBroadcaster) Broadcast(runID string, event map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Events[runID] = append(b.Events[runID], event)
}

// TypesFor returns the "type" field of every event recorded for runID.
func (b *RecordingBroadcaster) TypesFor(runID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, ev := range b.Events[runID] {
		if t, ok := ev["type"].(string); ok {
			out = append(out, t)
		}
	}
	return out
}
