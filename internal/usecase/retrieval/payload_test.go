package retrieval

import (
	"strings"
	"testing"

	"github.com/kailas-cloud/ragindex/internal/domain"
)

func TestBuildPayload(t *testing.T) {
	page := 2
	results := []domain.RetrievalResult{
		{ChunkID: "alice_a.md_0", Source: "a.md", Content: "First passage.", RelevanceScore: 0.9, Snippet: "First passage."},
		{ChunkID: "alice_b.pdf_3", Source: "b.pdf", Content: "Second passage.", RelevanceScore: 0.7, Page: &page},
	}

	p := BuildPayload(results)

	want := "[Source 1: a.md]\nFirst passage.\n\n[Source 2: b.pdf]\nSecond passage."
	if p.Context != want {
		t.Errorf("context mismatch:\ngot  %q\nwant %q", p.Context, want)
	}
	if len(p.Citations) != 2 {
		t.Fatalf("expected 2 citations, got %d", len(p.Citations))
	}
	c := p.Citations[1]
	if c.Index != 2 || c.Source != "b.pdf" || c.CitationID != "alice_b.pdf_3" || c.RelevanceScore != 0.7 {
		t.Errorf("unexpected citation %+v", c)
	}
	if c.Page == nil || *c.Page != 2 {
		t.Error("expected page to be carried")
	}

	tc := TelemetryCitations(p.Citations)
	if len(tc) != 2 || tc[0].Index != 1 || tc[0].Source != "a.md" {
		t.Errorf("unexpected telemetry citations %+v", tc)
	}
}

func TestBuildPayload_Empty(t *testing.T) {
	p := BuildPayload(nil)
	if p.Context != "" || len(p.Citations) != 0 {
		t.Errorf("expected empty payload, got %+v", p)
	}
}

func TestSnippet(t *testing.T) {
	cases := []struct {
		name, in, want string
		max            int
	}{
		{"short unchanged", "hello world", "hello world", 120},
		{"whitespace normalized", "hello \n\n  world\t!", "hello world !", 120},
		{"cut at word boundary", "alpha beta gamma delta", "alpha beta...", 13},
		{"boundary right after limit", "alpha beta gamma", "alpha beta...", 10},
		{"no space hard cut", strings.Repeat("x", 20), strings.Repeat("x", 8) + "...", 8},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Snippet(tc.in, tc.max); got != tc.want {
				t.Errorf("Snippet(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
			}
		})
	}
}
