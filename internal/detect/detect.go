// Package detect implements the candidate detector: a cheap,
// deterministic keyword prefilter that decides whether a chunk is worth
// sending to the structured extractor for a given pattern type.
//
// The detector never calls an external service and runs in time linear
// in the chunk text. It is deliberately recall-biased: a false positive
// only costs one extraction call, which independently validates and
// scores the chunk.
package detect

import (
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/playbookd/internal/corpus"
)

// Detector matches per-type keyword sets against chunk text and, for
// table-shaped chunks, column headers.
type Detector struct {
	patterns map[corpus.PatternType][]*regexp.Regexp
}

// New creates a detector from per-type keyword lists. Empty or missing
// lists fall back to DefaultKeywords. Keywords are matched on word
// boundaries, case-insensitively.
func New(keywords map[corpus.PatternType][]string) *Detector {
	compiled := make(map[corpus.PatternType][]*regexp.Regexp)
	for _, pt := range corpus.PatternTypes() {
		kws := keywords[pt]
		if len(kws) == 0 {
			kws = DefaultKeywords()[pt]
		}
		res := make([]*regexp.Regexp, 0, len(kws))
		for _, kw := range kws {
			re, err := regexp.Compile(`\b` + regexp.QuoteMeta(strings.ToLower(kw)) + `\b`)
			if err != nil {
				// Skip invalid keywords
				continue
			}
			res = append(res, re)
		}
		compiled[pt] = res
	}
	return &Detector{patterns: compiled}
}

// Candidate reports whether the chunk is likely to contain a pattern of
// the given type.
func (d *Detector) Candidate(chunk *corpus.Chunk, pt corpus.PatternType) bool {
	res := d.patterns[pt]
	if len(res) == 0 {
		return false
	}

	text := strings.ToLower(chunk.Text)
	if matchAny(res, text) {
		return true
	}

	// Table-shaped chunks often carry the signal in the header row
	// rather than the cell text.
	if chunk.ChunkType == corpus.ChunkTableRow || chunk.ChunkType == corpus.ChunkSheetRange {
		for _, header := range chunk.TableHeaders() {
			if matchAny(res, strings.ToLower(header)) {
				return true
			}
		}
	}

	return false
}

func matchAny(res []*regexp.Regexp, text string) bool {
	for _, re := range res {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// DefaultKeywords returns the built-in per-type keyword sets.
func DefaultKeywords() map[corpus.PatternType][]string {
	return map[corpus.PatternType][]string{
		corpus.PatternRequirement: {
			"must", "shall", "should", "required", "mandatory", "may",
			"optional", "needs to", "has to",
		},
		corpus.PatternSuccess: {
			"achieved", "completed", "successful", "exceeded", "delivered",
			"proven", "demonstrated", "track record", "accomplished",
			"effective", "improved",
		},
		corpus.PatternFailure: {
			"risk", "issue", "failed", "problem", "challenge", "gap",
			"concern", "weakness", "unable to", "limitation", "blocker",
			"difficulty",
		},
		corpus.PatternRisk: {
			"risk", "potential", "possible", "may occur", "likelihood",
			"probability", "threat", "vulnerability", "exposure",
		},
		corpus.PatternConstraint: {
			"limited to", "restricted", "cannot", "constraint",
			"limitation", "dependency", "prerequisite", "maximum",
			"minimum", "must not exceed",
		},
	}
}
