package agent

import (
	"testing"
)

func TestScore(t *testing.T) {
	tests := []struct {
		name     string
		findings []Finding
		want     float64
	}{
		{"no findings", nil, 10.0},
		{"one of each", []Finding{
			{Severity: "critical"},
			{Severity: "high"},
			{Severity: "medium"},
			{Severity: "low"},
		}, 3.5},
		{"critical high medium", []Finding{
			{Severity: "critical"},
			{Severity: "high"},
			{Severity: "medium"},
		}, 4.0},
		{"unknown counts as medium", []Finding{{Severity: "catastrophic"}}, 9.0},
		{"clamped at zero", []Finding{
			{Severity: "critical"}, {Severity: "critical"},
			{Severity: "critical"}, {Severity: "critical"},
		}, 0.0},
		{"two low", []Finding{{Severity: "low"}, {Severity: "low"}}, 9.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Score(tt.findings); got != tt.want {
				t.Errorf("Score() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPageChangeRatio(t *testing.T) {
	if r := pageChangeRatio("<html>same</html>", "<html>same</html>"); r != 0 {
		t.Errorf("identical pages: ratio = %v", r)
	}

	r := pageChangeRatio("<html><body>hello world</body></html>", "<html><body>goodbye moon</body></html>")
	if r <= 0 || r > 1 {
		t.Errorf("changed page: ratio = %v, want in (0, 1]", r)
	}

	if r := pageChangeRatio("", ""); r != 0 {
		t.Errorf("empty pages: ratio = %v", r)
	}
}

func TestExtractLinks(t *testing.T) {
	doc := `<html><body>
		<a href="/products">Products</a>
		<a href="/products">Products again</a>
		<a href="#top">Top</a>
		<a href="javascript:void(0)">Noop</a>
		<a href="/contact">Contact</a>
		<a href="">Empty</a>
		<a href="https://example.com/about">About</a>
	</body></html>`

	got := extractLinks(doc, 10)
	want := []string{"/products", "/contact", "https://example.com/about"}
	if len(got) != len(want) {
		t.Fatalf("extractLinks = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("extractLinks[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestExtractLinksRespectsMax(t *testing.T) {
	doc := `<html><body>
		<a href="/a">a</a><a href="/b">b</a><a href="/c">c</a><a href="/d">d</a>
	</body></html>`
	if got := extractLinks(doc, 2); len(got) != 2 {
		t.Errorf("extractLinks with max 2 returned %v", got)
	}
}
