package oracle

import (
	"testing"
)

func TestExtractDecisionFenced(t *testing.T) {
	raw := "Here is what I found:\n```json\n{\"thought\": \"checking the header\", \"bugs\": [], \"action\": {\"type\": \"scroll\"}}\n```\nLet me know if you need more."

	d, err := ExtractDecision(raw)
	if err != nil {
		t.Fatalf("ExtractDecision: %v", err)
	}
	if d.Thought != "checking the header" {
		t.Errorf("thought = %q", d.Thought)
	}
	if d.Action == nil || d.Action.Type != "scroll" {
		t.Errorf("action = %+v", d.Action)
	}
}

func TestExtractDecisionBareObject(t *testing.T) {
	raw := `Sure! {"thought": "looks fine", "bugs": [{"title": "Tiny text", "severity": "low"}], "action": {"type": "done"}} hope that helps`

	d, err := ExtractDecision(raw)
	if err != nil {
		t.Fatalf("ExtractDecision: %v", err)
	}
	if len(d.Bugs) != 1 || d.Bugs[0].Title != "Tiny text" {
		t.Errorf("bugs = %+v", d.Bugs)
	}
}

func TestExtractDecisionBracesInsideStrings(t *testing.T) {
	raw := `{"thought": "the CSS uses {braces} and a \"quote\"", "action": {"type": "skip"}}`

	d, err := ExtractDecision(raw)
	if err != nil {
		t.Fatalf("ExtractDecision: %v", err)
	}
	if d.Action == nil || d.Action.Type != "skip" {
		t.Errorf("action = %+v", d.Action)
	}
}

func TestExtractDecisionInvalidFenceFallsThrough(t *testing.T) {
	// Fence holds garbage; the balanced object after it should still parse.
	raw := "```json\nnot json at all\n```\n{\"thought\": \"recovered\"}"

	d, err := ExtractDecision(raw)
	if err != nil {
		t.Fatalf("ExtractDecision: %v", err)
	}
	if d.Thought != "recovered" {
		t.Errorf("thought = %q", d.Thought)
	}
}

func TestExtractDecisionNoJSON(t *testing.T) {
	if _, err := ExtractDecision("I could not find any problems with this page."); err == nil {
		t.Fatal("expected error for response without JSON")
	}
}

func TestExtractDecisionUnbalanced(t *testing.T) {
	if _, err := ExtractDecision(`{"thought": "cut off`); err == nil {
		t.Fatal("expected error for unbalanced object")
	}
}
