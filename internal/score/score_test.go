package score

import (
	"context"
	"testing"
	"time"

	"github.com/fyrsmithlabs/playbookd/internal/config"
	"github.com/fyrsmithlabs/playbookd/internal/corpus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder returns fixed vectors per text, a unit vector otherwise.
type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := f.vectors[text]; ok {
			out[i] = v
		} else {
			out[i] = []float32{1, 0}
		}
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vs, err := f.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

func scoreConfig() config.Score {
	return config.Score{
		StructureWeight:   0.3,
		RequirementWeight: 0.3,
		TerminologyWeight: 0.15,
		ConsistencyWeight: 0.1,
		SpecificityWeight: 0.15,
		CoverageThreshold: 0.85,
	}
}

func newScorer(t *testing.T, emb *fakeEmbedder) *Scorer {
	t.Helper()
	if emb == nil {
		emb = &fakeEmbedder{}
	}
	s, err := NewScorer(scoreConfig(), emb, nil)
	require.NoError(t, err)
	return s
}

func securityPlaybook() *corpus.Playbook {
	return &corpus.Playbook{
		CompanyID:        "acme",
		DocType:          "security_policy",
		RequiredSections: []string{"Security"},
		Outline: []corpus.OutlineSection{
			{Title: "Security", Frequency: 0.9},
		},
		TopFamiliesByTopic: map[string][]corpus.Family{
			"access-control": {{
				FamilyID:      "f-access",
				CanonicalText: "Access rights must be reviewed every 90 days",
				Topic:         "access-control",
				Embedding:     []float32{1, 0},
				MentionCount:  7,
				DocumentCount: 4,
			}},
		},
		Glossary: []corpus.GlossaryEntry{
			{RawTerm: "InfoSec Policy", PreferredTerm: "Security Policy", Frequency: 2},
		},
		GeneratedAt: time.Now(),
	}
}

func draftChunk(id, section, text string) corpus.Chunk {
	return corpus.Chunk{
		ChunkID:       id,
		DocID:         "draft-1",
		CompanyID:     "acme",
		ChunkType:     corpus.ChunkParagraph,
		Text:          text,
		StructurePath: []string{section},
	}
}

func TestScore_GoodDraft(t *testing.T) {
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"Access to systems is reviewed every 90 days": {1, 0},
	}}
	scorer := newScorer(t, emb)

	draft := []corpus.Chunk{
		draftChunk("d1", "Security", "Access to systems is reviewed every 90 days"),
	}
	report, err := scorer.Score(context.Background(), securityPlaybook(), draft)
	require.NoError(t, err)

	assert.Equal(t, 1.0, report.Scores.StructureAlignment)
	assert.Equal(t, 1.0, report.Scores.RequirementCoverage)
	assert.Equal(t, 1.0, report.Scores.Terminology)
	assert.Equal(t, 1.0, report.Scores.Consistency)
	assert.Equal(t, 1.0, report.Scores.Specificity)
	assert.InDelta(t, 1.0, report.Scores.Overall, 1e-9)
	assert.Empty(t, report.Issues)
}

func TestScore_MissingRequiredSection(t *testing.T) {
	scorer := newScorer(t, nil)

	draft := []corpus.Chunk{
		draftChunk("d1", "Introduction", "This document describes our approach."),
	}
	report, err := scorer.Score(context.Background(), securityPlaybook(), draft)
	require.NoError(t, err)

	assert.Less(t, report.Scores.StructureAlignment, 1.0)

	var missing []Issue
	for _, issue := range report.Issues {
		if issue.Type == IssueMissingSection {
			missing = append(missing, issue)
		}
	}
	require.Len(t, missing, 1)
	assert.Equal(t, corpus.SeverityHigh, missing[0].Severity)
	assert.Contains(t, missing[0].Message, "Security")
}

func TestScore_MissingRequirementCarriesEvidence(t *testing.T) {
	// Draft mentions access control but its sentences are far from the
	// family embedding.
	emb := &fakeEmbedder{vectors: map[string][]float32{
		"We take access control seriously": {0, 1},
	}}
	scorer := newScorer(t, emb)

	draft := []corpus.Chunk{
		draftChunk("d1", "Security", "We take access control seriously"),
	}
	report, err := scorer.Score(context.Background(), securityPlaybook(), draft)
	require.NoError(t, err)

	assert.Equal(t, 0.0, report.Scores.RequirementCoverage)

	var found bool
	for _, issue := range report.Issues {
		if issue.Type != IssueMissingRequirement {
			continue
		}
		found = true
		assert.Equal(t, corpus.SeverityHigh, issue.Severity)
		require.NotEmpty(t, issue.Evidence)
		assert.Equal(t, "f-access", issue.Evidence[0].FamilyID)
	}
	assert.True(t, found)
}

func TestScore_UntouchedTopicsNotPenalized(t *testing.T) {
	scorer := newScorer(t, nil)

	// Draft never mentions access control, so the topic is out of scope
	// for coverage.
	draft := []corpus.Chunk{
		draftChunk("d1", "Security", "Backups run nightly and retention is 30 days."),
	}
	report, err := scorer.Score(context.Background(), securityPlaybook(), draft)
	require.NoError(t, err)
	assert.Equal(t, 1.0, report.Scores.RequirementCoverage)
}

func TestScore_TerminologyMismatch(t *testing.T) {
	scorer := newScorer(t, nil)

	draft := []corpus.Chunk{
		draftChunk("d1", "Security", "Per the InfoSec Policy, access badges expire after 30 days."),
	}
	report, err := scorer.Score(context.Background(), securityPlaybook(), draft)
	require.NoError(t, err)

	assert.Less(t, report.Scores.Terminology, 1.0)

	var found bool
	for _, issue := range report.Issues {
		if issue.Type == IssueTerminologyMismatch {
			found = true
			assert.Contains(t, issue.Message, "InfoSec Policy")
			assert.Contains(t, issue.RecommendedFix, "Security Policy")
		}
	}
	assert.True(t, found)
}

func TestScore_InconsistentValues(t *testing.T) {
	scorer := newScorer(t, nil)

	draft := []corpus.Chunk{
		draftChunk("d1", "Security", "The recovery time objective is 4 hours for all services."),
		draftChunk("d2", "Security", "The recovery time objective is 8 hours during weekends."),
	}
	report, err := scorer.Score(context.Background(), securityPlaybook(), draft)
	require.NoError(t, err)

	assert.Equal(t, 0.0, report.Scores.Consistency)

	var found bool
	for _, issue := range report.Issues {
		if issue.Type == IssueInconsistentValue {
			found = true
			assert.Equal(t, corpus.SeverityHigh, issue.Severity)
			assert.Len(t, issue.Evidence, 2)
		}
	}
	assert.True(t, found)
}

func TestScore_ConsistentValuesAgree(t *testing.T) {
	scorer := newScorer(t, nil)

	draft := []corpus.Chunk{
		draftChunk("d1", "Security", "The recovery time objective is 4 hours."),
		draftChunk("d2", "Security", "As stated, the recovery time objective is 4 hours."),
	}
	report, err := scorer.Score(context.Background(), securityPlaybook(), draft)
	require.NoError(t, err)
	assert.Equal(t, 1.0, report.Scores.Consistency)
}

func TestScore_InsufficientSpecificity(t *testing.T) {
	scorer := newScorer(t, nil)

	draft := []corpus.Chunk{
		draftChunk("d1", "Security", "Password rotation cadence is TBD pending review."),
	}
	report, err := scorer.Score(context.Background(), securityPlaybook(), draft)
	require.NoError(t, err)

	assert.Equal(t, 0.0, report.Scores.Specificity)

	var found bool
	for _, issue := range report.Issues {
		if issue.Type == IssueInsufficientSpecificity {
			found = true
			assert.Equal(t, corpus.SeverityMedium, issue.Severity)
			require.NotEmpty(t, issue.Evidence)
			assert.Equal(t, "d1", issue.Evidence[0].ChunkID)
		}
	}
	assert.True(t, found)
}

func TestScore_Bounds(t *testing.T) {
	scorer := newScorer(t, &fakeEmbedder{vectors: map[string][]float32{
		"Access control is unclear and TBD": {0, 1},
	}})

	// A draft failing every check still yields scores in [0,1].
	draft := []corpus.Chunk{
		draftChunk("d1", "Overview", "Access control is unclear and TBD. The InfoSec Policy SLA is 99 percent. The InfoSec Policy SLA is 95 percent."),
	}
	report, err := scorer.Score(context.Background(), securityPlaybook(), draft)
	require.NoError(t, err)

	for _, v := range []float64{
		report.Scores.StructureAlignment,
		report.Scores.RequirementCoverage,
		report.Scores.Terminology,
		report.Scores.Consistency,
		report.Scores.Specificity,
		report.Scores.Overall,
	} {
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
	assert.Less(t, report.Scores.Overall, 1.0)
}

func TestScore_EmptyInputs(t *testing.T) {
	scorer := newScorer(t, nil)

	_, err := scorer.Score(context.Background(), nil, []corpus.Chunk{draftChunk("d1", "Security", "text")})
	assert.ErrorIs(t, err, corpus.ErrEmptyCorpus)

	_, err = scorer.Score(context.Background(), securityPlaybook(), nil)
	assert.ErrorIs(t, err, corpus.ErrEmptyCorpus)
}

func TestScore_IssuesSortedBySeverity(t *testing.T) {
	scorer := newScorer(t, nil)

	draft := []corpus.Chunk{
		draftChunk("d1", "Overview", "Per the InfoSec Policy, everything is pending."),
	}
	report, err := scorer.Score(context.Background(), securityPlaybook(), draft)
	require.NoError(t, err)
	require.NotEmpty(t, report.Issues)

	last := 0
	for _, issue := range report.Issues {
		rank := severityRank(issue.Severity)
		assert.GreaterOrEqual(t, rank, last)
		last = rank
	}
}
