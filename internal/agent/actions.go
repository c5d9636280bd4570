package agent

import (
	"context"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/simulant-labs/simulant/internal/browser"
	"github.com/simulant-labs/simulant/internal/logging"
	"github.com/simulant-labs/simulant/internal/oracle"
)

// execute performs one oracle-chosen action on the page. Failures are
// swallowed: an action that cannot be performed is a no-op, never an error
// that stops the phase loop.
func (w *Worker) execute(ctx context.Context, session browser.Session, action *oracle.Action) bool {
	switch action.Type {
	case "click":
		if action.Target == "" {
			return false
		}
		// Ordered strategy list, same as a human would scan the page:
		// visible text first, then button, then link.
		strategies := []func() error{
			func() error { return session.ClickText(ctx, action.Target) },
			func() error { return session.ClickRole(ctx, "button", action.Target) },
			func() error { return session.ClickRole(ctx, "link", action.Target) },
		}
		for _, try := range strategies {
			if err := try(); err == nil {
				return true
			}
		}
		w.logger.Debug("click target not found", logging.Field{Key: "target", Value: action.Target})
		return false

	case "type":
		text := action.Text
		if text == "" {
			text = "test@example.com"
		}
		if err := session.FillFirstInput(ctx, text); err != nil {
			w.logger.Debug("type failed", logging.Field{Key: "error", Value: err.Error()})
			return false
		}
		return true

	case "scroll":
		if err := session.Scroll(ctx, 400); err != nil {
			w.logger.Debug("scroll failed", logging.Field{Key: "error", Value: err.Error()})
			return false
		}
		return true
	}

	// Unknown action types are treated as executed no-ops.
	return true
}

// pageChangeRatio measures how much of the document changed across an
// action, 0 (identical) to 1 (fully replaced). A near-zero ratio on a
// "succeeded" click usually means the click hit nothing interactive.
func pageChangeRatio(before, after string) float64 {
	if before == "" || after == "" {
		return 0
	}
	if before == after {
		return 0
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)

	var changed, total int
	for _, d := range diffs {
		n := len(d.Text)
		total += n
		if d.Type != diffmatchpatch.DiffEqual {
			changed += n
		}
	}
	if total == 0 {
		return 0
	}
	return round2(float64(changed) / float64(total))
}
