package qa

import (
	"context"
	"errors"
	"testing"

	"github.com/fyrsmithlabs/playbookd/internal/config"
	"github.com/fyrsmithlabs/playbookd/internal/corpus"
	"github.com/fyrsmithlabs/playbookd/internal/lexical"
	"github.com/fyrsmithlabs/playbookd/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePatterns struct {
	patterns []corpus.Pattern
	counts   map[corpus.PatternType]int
}

func (f *fakePatterns) ListPatterns(_ context.Context, _ string, pt corpus.PatternType) ([]corpus.Pattern, error) {
	var out []corpus.Pattern
	for _, p := range f.patterns {
		if p.PatternType == pt {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePatterns) CountPatternsByType(_ context.Context, _ string) (map[corpus.PatternType]int, error) {
	return f.counts, nil
}

type fakeVector struct {
	results []vectorstore.SearchResult
	err     error
}

func (f *fakeVector) AddDocuments(context.Context, []vectorstore.Document) ([]string, error) {
	return nil, nil
}

func (f *fakeVector) Search(context.Context, string, int, map[string]string) ([]vectorstore.SearchResult, error) {
	return f.results, f.err
}

func (f *fakeVector) DeleteDocuments(context.Context, []string) error { return nil }
func (f *fakeVector) Count(context.Context) (int, error)              { return len(f.results), nil }
func (f *fakeVector) Close() error                                    { return nil }

func qaConfig() config.QA {
	return config.QA{LexicalTopK: 50, VectorTopK: 50, HybridTopK: 20}
}

func newRouter(t *testing.T, patterns *fakePatterns, idx *lexical.Index, vec *fakeVector) *Router {
	t.Helper()
	if patterns == nil {
		patterns = &fakePatterns{counts: map[corpus.PatternType]int{}}
	}
	if idx == nil {
		idx = lexical.NewIndex()
	}
	if vec == nil {
		vec = &fakeVector{}
	}
	r, err := NewRouter(patterns, idx, vec, qaConfig(), nil)
	require.NoError(t, err)
	return r
}

func TestClassify(t *testing.T) {
	r := newRouter(t, nil, nil, nil)

	tests := []struct {
		question string
		forced   corpus.PatternType
		wantKind Kind
		wantType corpus.PatternType
	}{
		{"Compare risks and constraints", "", KindComparative, ""},
		{"How many failures did we have?", "", KindComparative, ""},
		{"What risks threaten the rollout?", "", KindPatternSpecific, corpus.PatternRisk},
		{"What is mandatory for vendors?", "", KindPatternSpecific, corpus.PatternRequirement},
		{"Tell me about the backup process", "", KindGeneral, ""},
		{"Tell me about the backup process", corpus.PatternConstraint, KindPatternSpecific, corpus.PatternConstraint},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			kind, pt := r.classify(tt.question, tt.forced)
			assert.Equal(t, tt.wantKind, kind)
			assert.Equal(t, tt.wantType, pt)
		})
	}
}

func TestAsk_Comparative(t *testing.T) {
	patterns := &fakePatterns{counts: map[corpus.PatternType]int{
		corpus.PatternRequirement: 12,
		corpus.PatternRisk:        3,
		corpus.PatternSuccess:     5,
	}}
	r := newRouter(t, patterns, nil, nil)

	answer, err := r.Ask(context.Background(), Request{CompanyID: "acme", Question: "What is the distribution of patterns?"})
	require.NoError(t, err)

	assert.Equal(t, KindComparative, answer.Kind)
	assert.Contains(t, answer.Answer, "requirement: 12")
	assert.Contains(t, answer.Answer, "Total patterns: 20")

	require.Len(t, answer.Evidence, 5)
	assert.Equal(t, corpus.PatternRequirement, answer.Evidence[0].PatternType)
	assert.Equal(t, 12, answer.Evidence[0].Count)
}

func TestAsk_ComparativeEmpty(t *testing.T) {
	r := newRouter(t, nil, nil, nil)

	answer, err := r.Ask(context.Background(), Request{CompanyID: "acme", Question: "how many risks?"})
	require.NoError(t, err)
	assert.Contains(t, answer.Answer, "No patterns")
	assert.Empty(t, answer.Evidence)
}

func TestAsk_PatternSpecific(t *testing.T) {
	patterns := &fakePatterns{patterns: []corpus.Pattern{
		{PatternID: "p-1", ChunkID: "c-1", PatternType: corpus.PatternRisk,
			PatternText: "Vendor lock-in", Severity: corpus.SeverityMedium, Confidence: 0.8},
		{PatternID: "p-2", ChunkID: "c-2", PatternType: corpus.PatternRisk,
			PatternText: "Data loss during migration", Severity: corpus.SeverityHigh, Confidence: 0.95},
	}}
	r := newRouter(t, patterns, nil, nil)

	answer, err := r.Ask(context.Background(), Request{CompanyID: "acme", Question: "What risk exposure exists?"})
	require.NoError(t, err)

	assert.Equal(t, KindPatternSpecific, answer.Kind)
	require.Len(t, answer.Evidence, 2)
	// Highest confidence first.
	assert.Equal(t, "p-2", answer.Evidence[0].PatternID)
	assert.Equal(t, "c-2", answer.Evidence[0].ChunkID)
	assert.Contains(t, answer.Answer, "Data loss during migration")
}

func TestAsk_PatternSpecificTopK(t *testing.T) {
	patterns := &fakePatterns{patterns: []corpus.Pattern{
		{PatternID: "p-1", PatternType: corpus.PatternRisk, PatternText: "A", Confidence: 0.9},
		{PatternID: "p-2", PatternType: corpus.PatternRisk, PatternText: "B", Confidence: 0.8},
		{PatternID: "p-3", PatternType: corpus.PatternRisk, PatternText: "C", Confidence: 0.7},
	}}
	r := newRouter(t, patterns, nil, nil)

	answer, err := r.Ask(context.Background(), Request{
		CompanyID: "acme", Question: "x", PatternType: corpus.PatternRisk, TopK: 2,
	})
	require.NoError(t, err)
	assert.Len(t, answer.Evidence, 2)
}

func TestAsk_GeneralHybrid(t *testing.T) {
	idx := lexical.NewIndex()
	idx.Add(
		lexical.Document{ID: "c-1", Content: "Backups run nightly and are stored offsite.",
			Metadata: map[string]string{"company_id": "acme", "kind": "chunk", "doc_id": "d-1"}},
		lexical.Document{ID: "c-2", Content: "Access reviews happen quarterly.",
			Metadata: map[string]string{"company_id": "acme", "kind": "chunk", "doc_id": "d-1"}},
	)
	vec := &fakeVector{results: []vectorstore.SearchResult{
		{ID: "c-3", Content: "Restore drills are performed monthly.", Score: 0.9,
			Metadata: map[string]string{"doc_id": "d-2"}},
		{ID: "c-1", Content: "Backups run nightly and are stored offsite.", Score: 0.8,
			Metadata: map[string]string{"doc_id": "d-1"}},
	}}
	r := newRouter(t, nil, idx, vec)

	answer, err := r.Ask(context.Background(), Request{CompanyID: "acme", Question: "Where are backups stored?"})
	require.NoError(t, err)

	assert.Equal(t, KindGeneral, answer.Kind)
	require.NotEmpty(t, answer.Evidence)
	// c-1 appears in both arms, so fusion puts it first.
	assert.Equal(t, "c-1", answer.Evidence[0].ChunkID)
	assert.Equal(t, "d-1", answer.Evidence[0].DocID)

	ids := make(map[string]int)
	for _, ev := range answer.Evidence {
		ids[ev.ChunkID]++
	}
	// Deduplicated by chunk.
	assert.Equal(t, 1, ids["c-1"])
}

func TestAsk_GeneralVectorFailureDegrades(t *testing.T) {
	idx := lexical.NewIndex()
	idx.Add(lexical.Document{ID: "c-1", Content: "Backups run nightly.",
		Metadata: map[string]string{"company_id": "acme", "kind": "chunk"}})
	vec := &fakeVector{err: errors.New("connection refused")}
	r := newRouter(t, nil, idx, vec)

	answer, err := r.Ask(context.Background(), Request{CompanyID: "acme", Question: "When do backups run?"})
	require.NoError(t, err)
	require.Len(t, answer.Evidence, 1)
	assert.Equal(t, "c-1", answer.Evidence[0].ChunkID)
}

func TestAsk_GeneralFallsBackToRequirements(t *testing.T) {
	patterns := &fakePatterns{patterns: []corpus.Pattern{
		{PatternID: "p-1", ChunkID: "c-1", PatternType: corpus.PatternRequirement,
			PatternText: "Data is encrypted at rest", Confidence: 0.9},
	}}
	r := newRouter(t, patterns, nil, nil)

	answer, err := r.Ask(context.Background(), Request{CompanyID: "acme", Question: "Tell me about encryption at rest"})
	require.NoError(t, err)

	assert.Equal(t, KindGeneral, answer.Kind)
	require.Len(t, answer.Evidence, 1)
	assert.Equal(t, "p-1", answer.Evidence[0].PatternID)
}

func TestAsk_InputValidation(t *testing.T) {
	r := newRouter(t, nil, nil, nil)

	_, err := r.Ask(context.Background(), Request{Question: "x"})
	assert.Error(t, err)

	_, err = r.Ask(context.Background(), Request{CompanyID: "acme", Question: "  "})
	assert.Error(t, err)
}
