package score

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/playbookd/internal/corpus"
	"github.com/fyrsmithlabs/playbookd/internal/normalize"
)

// checkStructure computes the fraction of required sections present in
// the draft's structure paths, matched on normalization keys.
func (s *Scorer) checkStructure(playbook *corpus.Playbook, draft []corpus.Chunk) (float64, []Issue) {
	if len(playbook.RequiredSections) == 0 {
		return 1.0, nil
	}

	present := draftSectionKeys(draft)

	found := 0
	var issues []Issue
	for _, section := range playbook.RequiredSections {
		if _, ok := present[normalize.Key(section)]; ok {
			found++
			continue
		}
		issues = append(issues, Issue{
			Type:           IssueMissingSection,
			Severity:       corpus.SeverityHigh,
			Message:        fmt.Sprintf("required section %q is missing from the draft", section),
			RecommendedFix: fmt.Sprintf("add a %q section; it appears in at least %.0f%% of this company's documents", section, s.requiredFrequency(playbook, section)*100),
		})
	}
	return float64(found) / float64(len(playbook.RequiredSections)), issues
}

func (s *Scorer) requiredFrequency(playbook *corpus.Playbook, section string) float64 {
	for _, o := range playbook.Outline {
		if o.Title == section {
			return o.Frequency
		}
	}
	return s.cfg.CoverageThreshold
}

// draftSectionKeys collects the normalized structure path elements and
// heading texts of the draft.
func draftSectionKeys(draft []corpus.Chunk) map[string]struct{} {
	keys := make(map[string]struct{})
	for _, chunk := range draft {
		for _, element := range chunk.StructurePath {
			keys[normalize.Key(element)] = struct{}{}
		}
		if chunk.ChunkType == corpus.ChunkHeading {
			keys[normalize.Key(chunk.Text)] = struct{}{}
		}
	}
	delete(keys, "")
	return keys
}

// checkRequirements computes the fraction of top families, for topics
// the draft touches, that have a semantically matching draft sentence.
func (s *Scorer) checkRequirements(ctx context.Context, playbook *corpus.Playbook, draft []corpus.Chunk) (float64, []Issue, error) {
	families := s.touchedFamilies(playbook, draft)
	if len(families) == 0 {
		return 1.0, nil, nil
	}

	sentences := draftSentences(draft)
	if len(sentences) == 0 {
		return 0, nil, nil
	}

	texts := make([]string, len(sentences))
	for i, sent := range sentences {
		texts[i] = sent.text
	}
	sentenceVecs, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, nil, err
	}

	covered := 0
	var issues []Issue
	for _, family := range families {
		vec := family.Embedding
		if len(vec) == 0 {
			vec, err = s.embedder.EmbedQuery(ctx, normalize.Key(family.CanonicalText))
			if err != nil {
				return 0, nil, err
			}
		}

		bestSim := 0.0
		for _, sv := range sentenceVecs {
			if sim := cosine(vec, sv); sim > bestSim {
				bestSim = sim
			}
		}
		if bestSim >= s.cfg.CoverageThreshold {
			covered++
			continue
		}

		issues = append(issues, Issue{
			Type:           IssueMissingRequirement,
			Severity:       corpus.SeverityHigh,
			Message:        fmt.Sprintf("draft does not address: %s", family.CanonicalText),
			RecommendedFix: fmt.Sprintf("cover %q; it is mentioned %d times across %d documents", family.CanonicalText, family.MentionCount, family.DocumentCount),
			Evidence:       familyEvidence(family),
		})
	}

	return float64(covered) / float64(len(families)), issues, nil
}

// touchedFamilies returns the playbook's top families for topics whose
// label keywords appear in the draft, in stable order.
func (s *Scorer) touchedFamilies(playbook *corpus.Playbook, draft []corpus.Chunk) []corpus.Family {
	draftWords := make(map[string]struct{})
	for _, chunk := range draft {
		for _, w := range normalize.Keywords(chunk.Text) {
			draftWords[w] = struct{}{}
		}
	}

	topics := make([]string, 0, len(playbook.TopFamiliesByTopic))
	for topic := range playbook.TopFamiliesByTopic {
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	var families []corpus.Family
	for _, topic := range topics {
		if !topicTouched(topic, draftWords) {
			continue
		}
		families = append(families, playbook.TopFamiliesByTopic[topic]...)
	}
	return families
}

func topicTouched(topic string, draftWords map[string]struct{}) bool {
	label := strings.NewReplacer("-", " ", "_", " ").Replace(topic)
	for _, w := range normalize.Keywords(label) {
		if _, ok := draftWords[w]; ok {
			return true
		}
	}
	return false
}

func familyEvidence(f corpus.Family) []Evidence {
	ev := []Evidence{{FamilyID: f.FamilyID, Text: f.CanonicalText}}
	return ev
}

type sentence struct {
	chunkID string
	text    string
}

var sentenceSplitRe = regexp.MustCompile(`[.!?\n]+`)

func draftSentences(draft []corpus.Chunk) []sentence {
	var out []sentence
	for _, chunk := range draft {
		for _, part := range sentenceSplitRe.Split(chunk.Text, -1) {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			out = append(out, sentence{chunkID: chunk.ChunkID, text: part})
		}
	}
	return out
}

// checkTerminology computes the fraction of glossary term usages in
// preferred form.
func (s *Scorer) checkTerminology(playbook *corpus.Playbook, draft []corpus.Chunk) (float64, []Issue) {
	if len(playbook.Glossary) == 0 {
		return 1.0, nil
	}

	preferredUses := 0
	rawUses := 0
	var issues []Issue

	for _, entry := range playbook.Glossary {
		rawLower := strings.ToLower(entry.RawTerm)
		preferredLower := strings.ToLower(entry.PreferredTerm)

		entryRaw := 0
		var evidence []Evidence
		for _, chunk := range draft {
			text := strings.ToLower(chunk.Text)
			preferredUses += strings.Count(text, preferredLower)
			// A raw variant containing the preferred term would double
			// count; subtract overlapping occurrences.
			n := strings.Count(text, rawLower)
			if n > 0 && strings.Contains(rawLower, preferredLower) {
				preferredUses -= n
			}
			if n > 0 {
				entryRaw += n
				evidence = append(evidence, Evidence{ChunkID: chunk.ChunkID, Text: chunk.Text})
			}
		}
		rawUses += entryRaw

		if entryRaw > 0 {
			severity := corpus.SeverityLow
			if entryRaw > 1 {
				severity = corpus.SeverityMedium
			}
			issues = append(issues, Issue{
				Type:           IssueTerminologyMismatch,
				Severity:       severity,
				Message:        fmt.Sprintf("draft uses %q instead of the preferred term %q", entry.RawTerm, entry.PreferredTerm),
				RecommendedFix: fmt.Sprintf("replace %q with %q", entry.RawTerm, entry.PreferredTerm),
				Evidence:       evidence,
			})
		}
	}

	total := preferredUses + rawUses
	if total == 0 {
		return 1.0, nil
	}
	return float64(preferredUses) / float64(total), issues
}

// labeledValueRe captures "<label> <connector> <value> <unit>" phrases
// such as "recovery time objective is 4 hours" or "uptime SLA of 99.9%".
var labeledValueRe = regexp.MustCompile(
	`\b([A-Za-z][A-Za-z -]{1,40}[A-Za-z])\s+(?:of|is|at|within|:|=)\s*(\d+(?:\.\d+)?)\s*(%|percent|days?|hours?|minutes?|months?|years?)\b`)

type labeledValue struct {
	chunkID string
	phrase  string
	value   string
}

// checkConsistency verifies that numeric values bound to the same label
// and unit agree across the draft.
func (s *Scorer) checkConsistency(draft []corpus.Chunk) (float64, []Issue) {
	observed := make(map[string][]labeledValue)

	for _, chunk := range draft {
		for _, m := range labeledValueRe.FindAllStringSubmatch(chunk.Text, -1) {
			label := normalize.Key(m[1])
			if label == "" {
				continue
			}
			key := label + "|" + strings.TrimSuffix(strings.ToLower(m[3]), "s")
			observed[key] = append(observed[key], labeledValue{
				chunkID: chunk.ChunkID,
				phrase:  m[0],
				value:   m[2],
			})
		}
	}

	keys := make([]string, 0, len(observed))
	for key, values := range observed {
		if len(values) > 1 {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return 1.0, nil
	}
	sort.Strings(keys)

	consistent := 0
	var issues []Issue
	for _, key := range keys {
		values := observed[key]
		if allSameValue(values) {
			consistent++
			continue
		}
		evidence := make([]Evidence, len(values))
		for i, v := range values {
			evidence[i] = Evidence{ChunkID: v.chunkID, Text: v.phrase}
		}
		label := strings.SplitN(key, "|", 2)[0]
		issues = append(issues, Issue{
			Type:           IssueInconsistentValue,
			Severity:       corpus.SeverityHigh,
			Message:        fmt.Sprintf("conflicting values for %q across the draft", label),
			RecommendedFix: fmt.Sprintf("reconcile the values given for %q so all sections agree", label),
			Evidence:       evidence,
		})
	}

	return float64(consistent) / float64(len(keys)), issues
}

func allSameValue(values []labeledValue) bool {
	first := values[0].value
	for _, v := range values[1:] {
		if v.value != first {
			return false
		}
	}
	return true
}

var (
	digitRe = regexp.MustCompile(`\d`)

	vagueMarkers = []string{"tbd", "to be determined", "pending", "unclear", "maybe", "possibly"}
)

// checkSpecificity computes, over the required sections the draft
// contains, the fraction that hold at least one concrete number or date
// and no vague placeholder markers.
func (s *Scorer) checkSpecificity(playbook *corpus.Playbook, draft []corpus.Chunk) (float64, []Issue) {
	if len(playbook.RequiredSections) == 0 {
		return 1.0, nil
	}

	// Section key -> chunks under a matching structure path prefix.
	sectionChunks := make(map[string][]corpus.Chunk)
	sectionTitle := make(map[string]string)
	for _, section := range playbook.RequiredSections {
		key := normalize.Key(section)
		sectionTitle[key] = section
		for _, chunk := range draft {
			if chunkInSection(chunk, key) {
				sectionChunks[key] = append(sectionChunks[key], chunk)
			}
		}
	}

	keys := make([]string, 0, len(sectionChunks))
	for key := range sectionChunks {
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return 1.0, nil
	}
	sort.Strings(keys)

	specific := 0
	var issues []Issue
	for _, key := range keys {
		chunks := sectionChunks[key]
		hasConcrete := false
		var vagueEvidence []Evidence
		for _, chunk := range chunks {
			if digitRe.MatchString(chunk.Text) {
				hasConcrete = true
			}
			lower := strings.ToLower(chunk.Text)
			for _, marker := range vagueMarkers {
				if strings.Contains(lower, marker) {
					vagueEvidence = append(vagueEvidence, Evidence{ChunkID: chunk.ChunkID, Text: chunk.Text})
					break
				}
			}
		}

		if hasConcrete && len(vagueEvidence) == 0 {
			specific++
			continue
		}
		issues = append(issues, Issue{
			Type:           IssueInsufficientSpecificity,
			Severity:       corpus.SeverityMedium,
			Message:        fmt.Sprintf("section %q lacks concrete figures or contains placeholder language", sectionTitle[key]),
			RecommendedFix: fmt.Sprintf("replace placeholders in %q with concrete numbers, dates or thresholds", sectionTitle[key]),
			Evidence:       vagueEvidence,
		})
	}

	return float64(specific) / float64(len(keys)), issues
}

func chunkInSection(chunk corpus.Chunk, sectionKey string) bool {
	for _, element := range chunk.StructurePath {
		if normalize.Key(element) == sectionKey {
			return true
		}
	}
	return chunk.ChunkType == corpus.ChunkHeading && normalize.Key(chunk.Text) == sectionKey
}

// cosine computes cosine similarity between two vectors.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
