// Package normalize canonicalizes pattern and heading text for
// comparison. Key produces the normalization key used as the join key for
// lexical grouping, so it must be deterministic and stable across runs:
// same input text, same key, always.
package normalize

import (
	"regexp"
	"strings"
)

var (
	numberRe     = regexp.MustCompile(`\b\d+(\.\d+)?\b`)
	isoDateRe    = regexp.MustCompile(`\b\d{4}[-/]\d{2}[-/]\d{2}\b`)
	slashDateRe  = regexp.MustCompile(`\b\d{1,2}[-/]\d{1,2}[-/]\d{2,4}\b`)
	articleRe    = regexp.MustCompile(`\b(a|an|the)\b`)
	whitespaceRe = regexp.MustCompile(`\s+`)
	wordRe       = regexp.MustCompile(`\b[a-z]{3,}\b`)

	// Modal phrase canonicalization, applied after lowercasing.
	modalReplacements = []struct {
		re  *regexp.Regexp
		out string
	}{
		{regexp.MustCompile(`\bmust\s+have\b`), "must"},
		{regexp.MustCompile(`\bshould\s+have\b`), "should"},
		{regexp.MustCompile(`\bneeds?\s+to\b`), "must"},
		{regexp.MustCompile(`\bhas\s+to\b`), "must"},
		{regexp.MustCompile(`\brequired\s+to\b`), "must"},
	}
)

// Key normalizes text into a stable comparison key: lowercase, numbers
// and dates replaced with placeholders, articles stripped, modal phrases
// canonicalized, whitespace collapsed, boundary punctuation trimmed.
func Key(text string) string {
	s := strings.ToLower(text)

	// Dates first so their digit groups are not rewritten as NUM.
	s = isoDateRe.ReplaceAllString(s, "DATE")
	s = slashDateRe.ReplaceAllString(s, "DATE")
	s = numberRe.ReplaceAllString(s, "NUM")

	s = articleRe.ReplaceAllString(s, "")
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = strings.Trim(s, ".,;:!? ")

	for _, r := range modalReplacements {
		s = r.re.ReplaceAllString(s, r.out)
	}

	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// stopwords excluded from keyword extraction.
var stopwords = map[string]struct{}{
	"and": {}, "or": {}, "but": {}, "the": {}, "for": {}, "with": {},
	"from": {}, "are": {}, "was": {}, "were": {}, "been": {}, "being": {},
	"have": {}, "has": {}, "had": {}, "does": {}, "did": {}, "will": {},
	"would": {}, "should": {}, "could": {}, "may": {}, "might": {},
	"can": {}, "must": {}, "shall": {}, "this": {}, "that": {},
	"these": {}, "those": {},
}

// Keywords returns the content-bearing lowercase words of text (length
// three or more, stopwords removed), in order of first appearance.
func Keywords(text string) []string {
	words := wordRe.FindAllString(strings.ToLower(text), -1)
	out := make([]string, 0, len(words))
	for _, w := range words {
		if _, skip := stopwords[w]; !skip {
			out = append(out, w)
		}
	}
	return out
}

// Jaccard computes word-set Jaccard similarity between two texts.
// Used as a cheap lexical similarity for glossary term grouping.
func Jaccard(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	inter := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = struct{}{}
	}
	return set
}
