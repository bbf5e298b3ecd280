package qa

import (
	"strings"

	"github.com/fyrsmithlabs/playbookd/internal/corpus"
)

// Kind classifies a question's routing path.
type Kind string

const (
	KindComparative     Kind = "comparative"
	KindPatternSpecific Kind = "pattern_specific"
	KindGeneral         Kind = "general"
)

// comparativeKeywords route to the aggregate comparison path.
var comparativeKeywords = []string{
	"compare", "comparison", "versus", " vs ", "more than", "less than",
	"balance", "ratio", "distribution", "how many",
}

// typeVocabulary maps per-type question keywords for routing.
// Overridable per router via WithVocabulary.
var typeVocabulary = map[corpus.PatternType][]string{
	corpus.PatternSuccess: {
		"success", "achievement", "accomplishment", "completed",
		"delivered", "proven", "strength", "advantage", "positive",
	},
	corpus.PatternFailure: {
		"failure", "problem", "issue", "concern", "weakness", "gap",
		"challenge", "difficulty",
	},
	corpus.PatternRisk: {
		"risk", "threat", "potential problem", "vulnerability",
		"exposure", "uncertain",
	},
	corpus.PatternConstraint: {
		"constraint", "limitation", "restriction", "boundary",
		"dependency", "prerequisite",
	},
	corpus.PatternRequirement: {
		"requirement", "must", "shall", "should", "mandatory", "needed",
	},
}

// classify decides the routing path for a question. A caller-supplied
// pattern type always wins.
func (r *Router) classify(question string, forced corpus.PatternType) (Kind, corpus.PatternType) {
	if forced != "" {
		return KindPatternSpecific, forced
	}

	lower := strings.ToLower(question)

	for _, kw := range comparativeKeywords {
		if strings.Contains(lower, kw) {
			return KindComparative, ""
		}
	}

	best := corpus.PatternType("")
	bestScore := 0
	for _, pt := range corpus.PatternTypes() {
		score := 0
		for _, kw := range r.vocabulary[pt] {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		// Canonical type order breaks score ties deterministically.
		if score > bestScore {
			best, bestScore = pt, score
		}
	}
	if bestScore > 0 {
		return KindPatternSpecific, best
	}
	return KindGeneral, ""
}
