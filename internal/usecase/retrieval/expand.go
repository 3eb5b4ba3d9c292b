package retrieval

import (
	"strings"
	"unicode"
)

var definitional = []string{"what is", "what are", "define", "definition of", "meaning of", "explain"}

var howTo = []string{"how to", "how do i", "how can i", "how do you"}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true, "were": true,
	"of": true, "to": true, "in": true, "on": true, "for": true, "and": true, "or": true,
	"what": true, "how": true, "why": true, "when": true, "where": true, "which": true, "who": true,
	"do": true, "does": true, "did": true, "i": true, "you": true, "can": true, "my": true,
	"me": true, "about": true, "please": true, "tell": true,
}

// expandQuery returns query followed by at most maxVariants rewrites.
// Rewrites are produced by fixed patterns and deduplicated case-insensitively.
func expandQuery(query string, maxVariants int) []string {
	query = strings.Join(strings.Fields(query), " ")
	out := []string{query}
	if maxVariants <= 0 || query == "" {
		return out
	}

	seen := map[string]bool{strings.ToLower(query): true}
	add := func(v string) {
		v = strings.Join(strings.Fields(v), " ")
		k := strings.ToLower(v)
		if v == "" || seen[k] || len(out) > maxVariants {
			return
		}
		seen[k] = true
		out = append(out, v)
	}

	lower := strings.ToLower(query)
	core := strings.TrimFunc(query, func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSpace(r) })

	if p, ok := matchPrefix(lower, definitional); ok {
		subject := strings.TrimFunc(core[min(len(p), len(core)):], isTrim)
		if subject != "" {
			add("What is " + subject + "?")
			add(subject + " definition")
			add(subject + " overview")
		}
	}
	if p, ok := matchPrefix(lower, howTo); ok {
		task := strings.TrimFunc(core[min(len(p), len(core)):], isTrim)
		if task != "" {
			add("steps to " + task)
			add(task + " guide")
		}
	}
	if kw := keywords(core); kw != "" && !strings.EqualFold(kw, core) {
		add(kw)
	}
	if len(out) == 1 && !strings.HasSuffix(core, "?") && len(strings.Fields(core)) <= 4 {
		add("What is " + core + "?")
	}
	return out
}

func matchPrefix(s string, prefixes []string) (string, bool) {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p+" ") {
			return p, true
		}
	}
	return "", false
}

func isTrim(r rune) bool { return unicode.IsSpace(r) || unicode.IsPunct(r) }

func keywords(s string) string {
	words := strings.FieldsFunc(s, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' })
	kept := words[:0]
	for _, w := range words {
		if !stopwords[strings.ToLower(w)] {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}
