// Package playbook aggregates a company's per-document structure and
// terminology into a reusable profile: the common outline, which
// sections are required versus optional, the strongest pattern families
// per topic and a glossary of preferred terms.
//
// Aggregation is a pure fold over stored chunks and families. Running it
// twice over the same inputs yields the same playbook, and each run
// replaces the previous playbook for its (company, document type) key
// wholesale.
package playbook

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fyrsmithlabs/playbookd/internal/config"
	"github.com/fyrsmithlabs/playbookd/internal/corpus"
	"github.com/fyrsmithlabs/playbookd/internal/normalize"
	"go.uber.org/zap"
)

// Aggregator builds playbooks from heading chunks and families.
type Aggregator struct {
	requiredThreshold float64
	optionalThreshold float64
	topPerTopic       int
	logger            *zap.Logger
	now               func() time.Time
}

// NewAggregator creates an aggregator with the given thresholds.
func NewAggregator(cfg config.Playbook, logger *zap.Logger) (*Aggregator, error) {
	if cfg.OptionalSectionThreshold > cfg.RequiredSectionThreshold {
		return nil, fmt.Errorf("optional threshold %v exceeds required threshold %v",
			cfg.OptionalSectionThreshold, cfg.RequiredSectionThreshold)
	}
	if cfg.TopFamiliesPerTopic < 1 {
		return nil, fmt.Errorf("top families per topic must be >= 1, got %d", cfg.TopFamiliesPerTopic)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		requiredThreshold: cfg.RequiredSectionThreshold,
		optionalThreshold: cfg.OptionalSectionThreshold,
		topPerTopic:       cfg.TopFamiliesPerTopic,
		logger:            logger,
		now:               time.Now,
	}, nil
}

// Aggregate builds the playbook for one company and document type.
// headings are the heading chunks of every document in scope; families
// are the scope's current families across all pattern types.
//
// Returns corpus.ErrEmptyCorpus when the scope holds no headings and no
// families.
func (a *Aggregator) Aggregate(companyID, docType string, headings []corpus.Chunk, families []corpus.Family) (*corpus.Playbook, error) {
	if companyID == "" || docType == "" {
		return nil, errors.New("company ID and doc type are required")
	}
	if len(headings) == 0 && len(families) == 0 {
		return nil, fmt.Errorf("%w: company %s doc type %s", corpus.ErrEmptyCorpus, companyID, docType)
	}

	outline, required, optional := a.buildOutline(headings)

	pb := &corpus.Playbook{
		CompanyID:          companyID,
		DocType:            docType,
		Outline:            outline,
		RequiredSections:   required,
		OptionalSections:   optional,
		TopFamiliesByTopic: a.topFamilies(families),
		Glossary:           buildGlossary(headings),
		GeneratedAt:        a.now().UTC(),
	}

	a.logger.Info("playbook aggregated",
		zap.String("company_id", companyID),
		zap.String("doc_type", docType),
		zap.Int("sections", len(outline)),
		zap.Int("required", len(required)),
		zap.Int("topics", len(pb.TopFamiliesByTopic)),
	)

	return pb, nil
}

// sectionGroup accumulates surface forms of one normalized title.
type sectionGroup struct {
	surfaces map[string]int
	docs     map[string]struct{}
}

// buildOutline computes section frequency over the scope's documents.
// Frequency is the fraction of distinct documents containing a heading
// with the same normalization key. The displayed title is the most
// frequent surface form.
func (a *Aggregator) buildOutline(headings []corpus.Chunk) (outline []corpus.OutlineSection, required, optional []string) {
	groups := make(map[string]*sectionGroup)
	allDocs := make(map[string]struct{})

	for _, chunk := range headings {
		if chunk.ChunkType != corpus.ChunkHeading || chunk.Text == "" {
			continue
		}
		allDocs[chunk.DocID] = struct{}{}

		key := normalize.Key(chunk.Text)
		if key == "" {
			continue
		}
		g, ok := groups[key]
		if !ok {
			g = &sectionGroup{surfaces: make(map[string]int), docs: make(map[string]struct{})}
			groups[key] = g
		}
		g.surfaces[chunk.Text]++
		g.docs[chunk.DocID] = struct{}{}
	}

	if len(allDocs) == 0 {
		return nil, nil, nil
	}

	for _, g := range groups {
		freq := float64(len(g.docs)) / float64(len(allDocs))
		outline = append(outline, corpus.OutlineSection{
			Title:     preferredSurface(g.surfaces),
			Frequency: freq,
		})
	}

	sort.Slice(outline, func(i, j int) bool {
		if outline[i].Frequency != outline[j].Frequency {
			return outline[i].Frequency > outline[j].Frequency
		}
		return outline[i].Title < outline[j].Title
	})

	for _, section := range outline {
		switch {
		case section.Frequency >= a.requiredThreshold:
			required = append(required, section.Title)
		case section.Frequency >= a.optionalThreshold:
			optional = append(optional, section.Title)
		}
	}
	return outline, required, optional
}

// topFamilies groups families by topic and keeps the strongest per
// topic, ordered by mention count, then document count, then ID.
func (a *Aggregator) topFamilies(families []corpus.Family) map[string][]corpus.Family {
	byTopic := make(map[string][]corpus.Family)
	for _, f := range families {
		if f.Topic == "" {
			continue
		}
		byTopic[f.Topic] = append(byTopic[f.Topic], f)
	}

	for topic, fams := range byTopic {
		sort.Slice(fams, func(i, j int) bool {
			if fams[i].MentionCount != fams[j].MentionCount {
				return fams[i].MentionCount > fams[j].MentionCount
			}
			if fams[i].DocumentCount != fams[j].DocumentCount {
				return fams[i].DocumentCount > fams[j].DocumentCount
			}
			return fams[i].FamilyID < fams[j].FamilyID
		})
		if len(fams) > a.topPerTopic {
			fams = fams[:a.topPerTopic]
		}
		byTopic[topic] = fams
	}
	return byTopic
}

// buildGlossary maps variant section titles to the preferred surface
// form of their normalization group. Groups with a single surface form
// need no entry.
func buildGlossary(headings []corpus.Chunk) []corpus.GlossaryEntry {
	groups := make(map[string]map[string]int)
	for _, chunk := range headings {
		if chunk.ChunkType != corpus.ChunkHeading || chunk.Text == "" {
			continue
		}
		key := normalize.Key(chunk.Text)
		if key == "" {
			continue
		}
		if groups[key] == nil {
			groups[key] = make(map[string]int)
		}
		groups[key][chunk.Text]++
	}

	var entries []corpus.GlossaryEntry
	for _, surfaces := range groups {
		if len(surfaces) < 2 {
			continue
		}
		preferred := preferredSurface(surfaces)
		for raw, count := range surfaces {
			if raw == preferred {
				continue
			}
			entries = append(entries, corpus.GlossaryEntry{
				RawTerm:       raw,
				PreferredTerm: preferred,
				Frequency:     count,
			})
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].PreferredTerm != entries[j].PreferredTerm {
			return entries[i].PreferredTerm < entries[j].PreferredTerm
		}
		return entries[i].RawTerm < entries[j].RawTerm
	})
	return entries
}

// preferredSurface picks the most frequent surface form, ties broken
// lexicographically.
func preferredSurface(surfaces map[string]int) string {
	best := ""
	bestCount := 0
	for surface, count := range surfaces {
		if count > bestCount || (count == bestCount && (best == "" || surface < best)) {
			best, bestCount = surface, count
		}
	}
	return best
}
