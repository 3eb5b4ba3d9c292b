package retrieval

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kailas-cloud/ragindex/internal/domain"
	"github.com/kailas-cloud/ragindex/internal/telemetry"
)

// Citation is one numbered source of a payload.
type Citation struct {
	Index          int     `json:"index"`
	Source         string  `json:"source"`
	Content        string  `json:"content"`
	RelevanceScore float64 `json:"relevanceScore"`
	CitationID     string  `json:"citationId"`
	Snippet        string  `json:"snippet"`
	Page           *int    `json:"page,omitempty"`
}

// Payload is handed to the completion step.
type Payload struct {
	Citations []Citation `json:"citations"`
	Context   string     `json:"context"`
}

// BuildPayload numbers results from 1 and frames each as
// "[Source n: source]\ncontent", separated by blank lines.
func BuildPayload(results []domain.RetrievalResult) Payload {
	p := Payload{Citations: make([]Citation, len(results))}
	blocks := make([]string, len(results))
	for i, r := range results {
		n := i + 1
		p.Citations[i] = Citation{
			Index:          n,
			Source:         r.Source,
			Content:        r.Content,
			RelevanceScore: r.RelevanceScore,
			CitationID:     r.ChunkID,
			Snippet:        r.Snippet,
			Page:           r.Page,
		}
		blocks[i] = fmt.Sprintf("[Source %d: %s]\n%s", n, r.Source, r.Content)
	}
	p.Context = strings.Join(blocks, "\n\n")
	return p
}

// TelemetryCitations converts payload citations for a telemetry session.
func TelemetryCitations(cs []Citation) []telemetry.Citation {
	out := make([]telemetry.Citation, len(cs))
	for i, c := range cs {
		out[i] = telemetry.Citation{
			Index:          c.Index,
			Source:         c.Source,
			CitationID:     c.CitationID,
			RelevanceScore: c.RelevanceScore,
			Page:           c.Page,
		}
	}
	return out
}

// Snippet normalizes whitespace and shortens text to at most maxLen
// characters at a word boundary, appending "..." when shortened.
func Snippet(text string, maxLen int) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= maxLen {
		return text
	}
	all := []rune(text)
	r := all[:maxLen]
	cut := len(r)
	if all[maxLen] != ' ' {
		for i := len(r) - 1; i > 0; i-- {
			if r[i] == ' ' {
				cut = i
				break
			}
		}
	}
	return strings.TrimRight(string(r[:cut]), " ") + "..."
}
