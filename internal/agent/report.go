package agent

import (
	"fmt"
	"math"
	"time"
)

var severityWeights = map[string]float64{
	"critical": 3,
	"high":     2,
	"medium":   1,
	"low":      0.5,
}

// Score computes the quality score for a finding set: start at 10, subtract
// a weight per finding (unknown severities count as medium), clamp to
// [0, 10], one decimal.
func Score(findings []Finding) float64 {
	score := 10.0
	for _, f := range findings {
		weight, ok := severityWeights[f.Severity]
		if !ok {
			weight = severityWeights["medium"]
		}
		score -= weight
	}
	return math.Max(0, math.Min(10, round1(score)))
}

// report assembles the final Report. It runs on every exit path.
func (w *Worker) report(elapsed time.Duration) *Report {
	status := "completed"
	if w.cancelled.Load() {
		status = "cancelled"
	}

	return &Report{
		PersonaID:       w.persona.ID,
		Persona:         w.persona.Name,
		Role:            w.persona.Role,
		Status:          status,
		Findings:        w.findings,
		QualityScore:    Score(w.findings),
		Summary:         w.summaryText(),
		Duration:        round1(elapsed.Seconds()),
		PhasesCompleted: w.phasesCompleted,
		WasCancelled:    w.cancelled.Load(),
	}
}

func (w *Worker) summaryText() string {
	name, role := w.persona.Name, w.persona.Role

	var summary string
	if len(w.findings) == 0 {
		summary = fmt.Sprintf("%s (%s) completed testing. No significant issues found in the areas tested.", name, role)
	} else {
		var critical, high int
		for _, f := range w.findings {
			switch f.Severity {
			case "critical":
				critical++
			case "high":
				high++
			}
		}
		switch {
		case critical > 0:
			summary = fmt.Sprintf("%s found %d issues including %d critical. Immediate attention required.", name, len(w.findings), critical)
		case high > 0:
			summary = fmt.Sprintf("%s found %d issues including %d high severity. Review recommended.", name, len(w.findings), high)
		default:
			summary = fmt.Sprintf("%s found %d minor issues. Site is functional but has room for improvement.", name, len(w.findings))
		}
	}

	if w.assessment != "" {
		summary += " Assessment: " + truncate(w.assessment, 200)
	}
	return summary
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
