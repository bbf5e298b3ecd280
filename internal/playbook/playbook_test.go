package playbook

import (
	"testing"

	"github.com/fyrsmithlabs/playbookd/internal/config"
	"github.com/fyrsmithlabs/playbookd/internal/corpus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAggregator(t *testing.T) *Aggregator {
	t.Helper()
	agg, err := NewAggregator(config.Playbook{
		RequiredSectionThreshold: 0.8,
		OptionalSectionThreshold: 0.3,
		TopFamiliesPerTopic:      2,
	}, nil)
	require.NoError(t, err)
	return agg
}

func heading(docID, text string) corpus.Chunk {
	return corpus.Chunk{
		ChunkID:   corpus.NewID(),
		DocID:     docID,
		CompanyID: "acme",
		ChunkType: corpus.ChunkHeading,
		Text:      text,
	}
}

// Five docs: "Scope" in all five, "Security Controls" in four (one as a
// variant spelling), "Appendix" in one.
func fixtureHeadings() []corpus.Chunk {
	return []corpus.Chunk{
		heading("d1", "Scope"),
		heading("d2", "Scope"),
		heading("d3", "Scope"),
		heading("d4", "Scope"),
		heading("d5", "Scope"),
		heading("d1", "Security Controls"),
		heading("d2", "Security Controls"),
		heading("d3", "Security Controls"),
		heading("d4", "The Security Controls"),
		heading("d5", "Appendix"),
	}
}

func TestAggregate_OutlineAndThresholds(t *testing.T) {
	agg := newAggregator(t)

	pb, err := agg.Aggregate("acme", "security_policy", fixtureHeadings(), nil)
	require.NoError(t, err)

	require.Len(t, pb.Outline, 3)
	assert.Equal(t, "Scope", pb.Outline[0].Title)
	assert.InDelta(t, 1.0, pb.Outline[0].Frequency, 1e-9)
	// Variant spelling normalizes into the same section.
	assert.Equal(t, "Security Controls", pb.Outline[1].Title)
	assert.InDelta(t, 0.8, pb.Outline[1].Frequency, 1e-9)
	assert.InDelta(t, 0.2, pb.Outline[2].Frequency, 1e-9)

	assert.Equal(t, []string{"Scope", "Security Controls"}, pb.RequiredSections)
	// Appendix at 0.2 is below the optional threshold.
	assert.Empty(t, pb.OptionalSections)

	assert.Equal(t, "acme", pb.CompanyID)
	assert.Equal(t, "security_policy", pb.DocType)
	assert.False(t, pb.GeneratedAt.IsZero())
}

func TestAggregate_OptionalSections(t *testing.T) {
	agg := newAggregator(t)

	headings := []corpus.Chunk{
		heading("d1", "Scope"), heading("d2", "Scope"), heading("d3", "Scope"),
		heading("d1", "Glossary"),
	}
	pb, err := agg.Aggregate("acme", "security_policy", headings, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"Scope"}, pb.RequiredSections)
	// 1/3 clears the 0.3 optional threshold but not 0.8.
	assert.Equal(t, []string{"Glossary"}, pb.OptionalSections)
}

func TestAggregate_TopFamiliesByTopic(t *testing.T) {
	agg := newAggregator(t)

	families := []corpus.Family{
		{FamilyID: "f1", Topic: "access-control", MentionCount: 3, DocumentCount: 2},
		{FamilyID: "f2", Topic: "access-control", MentionCount: 9, DocumentCount: 4},
		{FamilyID: "f3", Topic: "access-control", MentionCount: 9, DocumentCount: 5},
		{FamilyID: "f4", Topic: "backup", MentionCount: 1, DocumentCount: 1},
		{FamilyID: "f5", Topic: "", MentionCount: 50, DocumentCount: 10},
	}

	pb, err := agg.Aggregate("acme", "security_policy", fixtureHeadings(), families)
	require.NoError(t, err)

	require.Len(t, pb.TopFamiliesByTopic, 2)

	access := pb.TopFamiliesByTopic["access-control"]
	require.Len(t, access, 2)
	// Equal mentions break on document count.
	assert.Equal(t, "f3", access[0].FamilyID)
	assert.Equal(t, "f2", access[1].FamilyID)

	require.Len(t, pb.TopFamiliesByTopic["backup"], 1)
}

func TestAggregate_Glossary(t *testing.T) {
	agg := newAggregator(t)

	pb, err := agg.Aggregate("acme", "security_policy", fixtureHeadings(), nil)
	require.NoError(t, err)

	require.Len(t, pb.Glossary, 1)
	entry := pb.Glossary[0]
	assert.Equal(t, "The Security Controls", entry.RawTerm)
	assert.Equal(t, "Security Controls", entry.PreferredTerm)
	assert.Equal(t, 1, entry.Frequency)
}

func TestAggregate_EmptyCorpus(t *testing.T) {
	agg := newAggregator(t)

	_, err := agg.Aggregate("acme", "security_policy", nil, nil)
	assert.ErrorIs(t, err, corpus.ErrEmptyCorpus)
}

func TestAggregate_Idempotent(t *testing.T) {
	agg := newAggregator(t)

	families := []corpus.Family{
		{FamilyID: "f1", Topic: "backup", MentionCount: 2, DocumentCount: 2},
	}

	first, err := agg.Aggregate("acme", "security_policy", fixtureHeadings(), families)
	require.NoError(t, err)
	second, err := agg.Aggregate("acme", "security_policy", fixtureHeadings(), families)
	require.NoError(t, err)

	assert.Equal(t, first.Outline, second.Outline)
	assert.Equal(t, first.RequiredSections, second.RequiredSections)
	assert.Equal(t, first.OptionalSections, second.OptionalSections)
	assert.Equal(t, first.TopFamiliesByTopic, second.TopFamiliesByTopic)
	assert.Equal(t, first.Glossary, second.Glossary)
}

func TestAggregate_IgnoresNonHeadingChunks(t *testing.T) {
	agg := newAggregator(t)

	chunks := []corpus.Chunk{
		heading("d1", "Scope"),
		{ChunkID: "c2", DocID: "d1", ChunkType: corpus.ChunkParagraph, Text: "Body text."},
	}
	pb, err := agg.Aggregate("acme", "security_policy", chunks, nil)
	require.NoError(t, err)
	require.Len(t, pb.Outline, 1)
	assert.Equal(t, "Scope", pb.Outline[0].Title)
}
