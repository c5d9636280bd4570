package server

import (
	"fmt"
	"strings"

	"github.com/simulant-labs/simulant/internal/persona"
)

// StartTestRequest is the POST /tests/start body.
type StartTestRequest struct {
	URL      string   `json:"url"`
	Personas []string `json:"personas"`
	UserID   string   `json:"user_id"`
}

// Validate normalizes the request in place and reports the first problem.
func (r *StartTestRequest) Validate() error {
	r.URL = strings.TrimSpace(r.URL)
	if r.URL == "" {
		return fmt.Errorf("URL is required")
	}
	if !strings.HasPrefix(r.URL, "http://") && !strings.HasPrefix(r.URL, "https://") {
		return fmt.Errorf("URL must start with http:// or https://")
	}
	if len(r.URL) > 2000 {
		return fmt.Errorf("URL too long")
	}

	if len(r.Personas) == 0 {
		return fmt.Errorf("select at least one agent")
	}
	if len(r.Personas) > 5 {
		return fmt.Errorf("maximum 5 agents")
	}
	seen := make(map[string]struct{}, len(r.Personas))
	for _, id := range r.Personas {
		if !persona.Known(id) {
			return fmt.Errorf("invalid persona: %s", id)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("duplicate persona: %s", id)
		}
		seen[id] = struct{}{}
	}

	if r.UserID == "" {
		r.UserID = "anonymous"
	}
	if len(r.UserID) > 100 {
		r.UserID = r.UserID[:100]
	}
	return nil
}

// StartTestResponse acknowledges an admitted run.
type StartTestResponse struct {
	TestID  string `json:"test_id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// CancelResponse reports the outcome of a cancel request.
type CancelResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// UsageResponse reports a user's quota state.
type UsageResponse struct {
	TestsUsed      int    `json:"tests_used"`
	TestsLimit     int    `json:"tests_limit"`
	TestsRemaining int    `json:"tests_remaining"`
	BetaActive     bool   `json:"beta_active"`
	BetaEnds       string `json:"beta_ends,omitempty"`
	Plan           string `json:"plan"`
}

// severityOrder sorts findings critical first in bug listings.
var severityOrder = map[string]int{
	"critical": 0,
	"high":     1,
	"medium":   2,
	"low":      3,
}

func severityRank(severity string) int {
	if r, ok := severityOrder[severity]; ok {
		return r
	}
	return 4
}
