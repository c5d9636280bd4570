package agent

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/simulant-labs/simulant/internal/browser"
)

var phaseInstructions = map[string]string{
	"navigation":   "Test the main navigation. Click menu items, check if links work.",
	"forms":        "Find and test forms. Try submitting empty, test validation.",
	"interactions": "Test buttons, dropdowns, interactive elements.",
	"content":      "Review content quality, check for broken images, typos.",
}

const decisionSchema = `Respond in JSON:
` + "```json" + `
{
    "thought": "What you're checking and why",
    "bugs": [
        {
            "title": "Clear, specific title",
            "severity": "critical/high/medium/low",
            "description": "What is wrong and evidence",
            "impact": "How this affects users",
            "recommendation": "How to fix it"
        }
    ],
    "action": {
        "type": "click/type/scroll/skip/done",
        "target": "Text of element to interact with",
        "text": "Text to type if type action"
    }
}
` + "```" + `

Use "skip" if nothing relevant for this phase. Use "done" if phase is complete.`

// analyzePrompt seeds findings for a phase from a single screenshot, no
// action requested.
func (w *Worker) analyzePrompt(phase, url string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a %s.\n%s\n\n", w.persona.Name, w.persona.Role, w.persona.Prompt)
	fmt.Fprintf(&b, "CURRENT PHASE: %s\nURL: %s\n", phase, url)
	b.WriteString("PAGE DATA: " + w.pageDataLine() + "\n\n")

	b.WriteString("YOUR CHECKLIST FOR THIS PHASE:\n")
	for i, item := range w.persona.Checklist {
		if i >= 3 {
			break
		}
		b.WriteString("- " + item + "\n")
	}

	b.WriteString(`
Analyze the screenshot. Report any issues you find.

Respond in JSON:
` + "```json" + `
{
    "thought": "Brief analysis of what you see",
    "bugs": [
        {
            "title": "Clear, specific title",
            "severity": "critical/high/medium/low",
            "description": "What is wrong and evidence",
            "impact": "How this affects users",
            "recommendation": "How to fix it"
        }
    ]
}
` + "```" + `

Only report real issues with evidence. No speculation.`)
	return b.String()
}

// actionPrompt asks for the next action within a step phase. The content
// phase additionally lists on-page links so the oracle can spot dead ends
// without clicking everything.
func (w *Worker) actionPrompt(ctx context.Context, session browser.Session, phase, url string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a %s.\n%s\n\n", w.persona.Name, w.persona.Role, w.persona.Prompt)
	fmt.Fprintf(&b, "CURRENT PHASE: %s\nINSTRUCTION: %s\nURL: %s\n", phase, phaseInstructions[phase], url)

	if phase == "content" {
		if doc, err := session.HTML(ctx); err == nil {
			if links := extractLinks(doc, 10); len(links) > 0 {
				b.WriteString("LINKS ON PAGE:\n")
				for _, l := range links {
					b.WriteString("- " + l + "\n")
				}
			}
		}
	}

	b.WriteString("\nLook at the screenshot. What should you test next?\n\n")
	b.WriteString(decisionSchema)
	return b.String()
}

// finalReviewPrompt asks for a closing assessment plus any missed findings.
func (w *Worker) finalReviewPrompt(url string) string {
	bugsSummary := fmt.Sprintf("Found %d issues so far.", len(w.findings))
	if len(w.findings) > 0 {
		bySeverity := map[string]int{}
		for _, f := range w.findings {
			sev := f.Severity
			if sev == "" {
				sev = "medium"
			}
			bySeverity[sev]++
		}
		bugsSummary += fmt.Sprintf(" Breakdown: %v", bySeverity)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a %s.\n\n", w.persona.Name, w.persona.Role)
	fmt.Fprintf(&b, "FINAL REVIEW for %s\n\n%s\n\n", url, bugsSummary)
	fmt.Fprintf(&b, "Phases completed: %s\n\n", strings.Join(w.phasesCompleted, ", "))
	fmt.Fprintf(&b, "Look at the screenshot one final time. Are there any issues you missed?\nFocus on your specialty: %s\n\n", w.persona.Focus)

	b.WriteString(`Respond in JSON:
` + "```json" + `
{
    "thought": "Final observations",
    "bugs": [],
    "overall_assessment": "One paragraph professional summary of site quality from your perspective"
}
` + "```")
	return b.String()
}

func (w *Worker) pageDataLine() string {
	if w.pageInfo == nil {
		return "Load time: N/A, Forms: 0, Links: 0"
	}
	line := fmt.Sprintf("Load time: %.1fs, Forms: %d, Links: %d, Buttons: %d, Images without alt: %d",
		w.pageInfo.LoadTime, w.pageInfo.FormCount, w.pageInfo.LinkCount,
		w.pageInfo.ButtonCount, w.pageInfo.ImagesWithoutAlt)
	if n := len(w.pageInfo.ConsoleErrors); n > 0 {
		line += fmt.Sprintf(", Console errors: %d", n)
	}
	return line
}

// extractLinks walks the document and collects up to max distinct href
// values, skipping fragments and javascript pseudo-links.
func extractLinks(doc string, max int) []string {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var out []string

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if len(out) >= max {
			return
		}
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				href := strings.TrimSpace(attr.Val)
				if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
					continue
				}
				if _, dup := seen[href]; dup {
					continue
				}
				seen[href] = struct{}{}
				out = append(out, href)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}
