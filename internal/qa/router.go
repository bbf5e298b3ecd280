// Package qa answers questions over the extracted corpus. Questions are
// classified as comparative, pattern-type-specific or general; every
// answer carries the literal evidence records consulted so the caller
// can verify each claim through its citations.
package qa

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/playbookd/internal/config"
	"github.com/fyrsmithlabs/playbookd/internal/corpus"
	"github.com/fyrsmithlabs/playbookd/internal/lexical"
	"github.com/fyrsmithlabs/playbookd/internal/vectorstore"
	"go.uber.org/zap"
)

// rrfK is the reciprocal rank fusion constant for hybrid merging.
const rrfK = 60

// PatternSource provides stored patterns for the specific and
// comparative paths.
type PatternSource interface {
	ListPatterns(ctx context.Context, companyID string, pt corpus.PatternType) ([]corpus.Pattern, error)
	CountPatternsByType(ctx context.Context, companyID string) (map[corpus.PatternType]int, error)
}

// Request is one question.
type Request struct {
	CompanyID string `json:"company_id"`
	Question  string `json:"question"`

	// PatternType forces the pattern-specific path when set.
	PatternType corpus.PatternType `json:"pattern_type,omitempty"`

	// TopK caps the evidence count; 0 uses the configured default.
	TopK int `json:"top_k,omitempty"`
}

// Evidence is one record consulted to produce the answer.
type Evidence struct {
	PatternID   string             `json:"pattern_id,omitempty"`
	ChunkID     string             `json:"chunk_id,omitempty"`
	DocID       string             `json:"doc_id,omitempty"`
	Text        string             `json:"text,omitempty"`
	PatternType corpus.PatternType `json:"pattern_type,omitempty"`
	Confidence  float64            `json:"confidence,omitempty"`
	Score       float64            `json:"score,omitempty"`
	Count       int                `json:"count,omitempty"`
}

// Answer is the response to one question.
type Answer struct {
	Question string     `json:"question"`
	Kind     Kind       `json:"kind"`
	Answer   string     `json:"answer"`
	Evidence []Evidence `json:"evidence"`
}

// Router routes and answers questions.
type Router struct {
	patterns   PatternSource
	lexical    *lexical.Index
	vector     vectorstore.Store
	cfg        config.QA
	vocabulary map[corpus.PatternType][]string
	logger     *zap.Logger
}

// NewRouter creates a QA router.
func NewRouter(patterns PatternSource, lexicalIndex *lexical.Index, vector vectorstore.Store, cfg config.QA, logger *zap.Logger) (*Router, error) {
	if patterns == nil {
		return nil, fmt.Errorf("pattern source is required")
	}
	if lexicalIndex == nil {
		return nil, fmt.Errorf("lexical index is required")
	}
	if vector == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		patterns:   patterns,
		lexical:    lexicalIndex,
		vector:     vector,
		cfg:        cfg,
		vocabulary: typeVocabulary,
		logger:     logger,
	}, nil
}

// WithVocabulary overrides the per-type routing keywords.
func (r *Router) WithVocabulary(vocabulary map[corpus.PatternType][]string) *Router {
	r.vocabulary = vocabulary
	return r
}

// Ask answers a question.
func (r *Router) Ask(ctx context.Context, req Request) (*Answer, error) {
	if req.CompanyID == "" || strings.TrimSpace(req.Question) == "" {
		return nil, fmt.Errorf("company ID and question are required")
	}
	topK := req.TopK
	if topK <= 0 {
		topK = r.cfg.HybridTopK
	}

	kind, pt := r.classify(req.Question, req.PatternType)
	r.logger.Debug("question classified",
		zap.String("company_id", req.CompanyID),
		zap.String("kind", string(kind)),
		zap.String("pattern_type", string(pt)),
	)

	switch kind {
	case KindComparative:
		return r.answerComparative(ctx, req)
	case KindPatternSpecific:
		return r.answerPatternSpecific(ctx, req, pt, topK)
	default:
		return r.answerGeneral(ctx, req, topK)
	}
}

// answerComparative reports pattern counts and ratios across types.
func (r *Router) answerComparative(ctx context.Context, req Request) (*Answer, error) {
	counts, err := r.patterns.CountPatternsByType(ctx, req.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("counting patterns: %w", err)
	}

	total := 0
	for _, pt := range corpus.PatternTypes() {
		total += counts[pt]
	}
	if total == 0 {
		return &Answer{
			Question: req.Question,
			Kind:     KindComparative,
			Answer:   "No patterns have been extracted yet for this company.",
			Evidence: []Evidence{},
		}, nil
	}

	type typeCount struct {
		pt    corpus.PatternType
		count int
	}
	ordered := make([]typeCount, 0, len(corpus.PatternTypes()))
	for _, pt := range corpus.PatternTypes() {
		ordered = append(ordered, typeCount{pt, counts[pt]})
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].count > ordered[j].count })

	var b strings.Builder
	b.WriteString("Pattern distribution:\n")
	evidence := make([]Evidence, 0, len(ordered))
	for _, tc := range ordered {
		pct := float64(tc.count) / float64(total) * 100
		fmt.Fprintf(&b, "- %s: %d (%.1f%%)\n", tc.pt, tc.count, pct)
		evidence = append(evidence, Evidence{PatternType: tc.pt, Count: tc.count})
	}
	fmt.Fprintf(&b, "Total patterns: %d\n", total)

	if s, f := counts[corpus.PatternSuccess], counts[corpus.PatternFailure]; s > 0 || f > 0 {
		fmt.Fprintf(&b, "Success/failure ratio: %.2f\n", float64(s)/float64(f+1))
	}

	return &Answer{
		Question: req.Question,
		Kind:     KindComparative,
		Answer:   strings.TrimRight(b.String(), "\n"),
		Evidence: evidence,
	}, nil
}

// answerPatternSpecific lists the highest-confidence patterns of one
// type.
func (r *Router) answerPatternSpecific(ctx context.Context, req Request, pt corpus.PatternType, topK int) (*Answer, error) {
	patterns, err := r.patterns.ListPatterns(ctx, req.CompanyID, pt)
	if err != nil {
		return nil, fmt.Errorf("listing %s patterns: %w", pt, err)
	}
	if len(patterns) == 0 {
		return &Answer{
			Question: req.Question,
			Kind:     KindPatternSpecific,
			Answer:   fmt.Sprintf("No %s patterns have been extracted yet for this company.", pt),
			Evidence: []Evidence{},
		}, nil
	}

	sort.SliceStable(patterns, func(i, j int) bool {
		if patterns[i].Confidence != patterns[j].Confidence {
			return patterns[i].Confidence > patterns[j].Confidence
		}
		return patterns[i].PatternID < patterns[j].PatternID
	})
	if len(patterns) > topK {
		patterns = patterns[:topK]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Top %d %s patterns:\n", len(patterns), pt)
	evidence := make([]Evidence, 0, len(patterns))
	for i, p := range patterns {
		fmt.Fprintf(&b, "%d. %s (confidence %.2f", i+1, p.PatternText, p.Confidence)
		if p.Topic != "" {
			fmt.Fprintf(&b, ", topic %s", p.Topic)
		}
		if p.Severity != "" {
			fmt.Fprintf(&b, ", severity %s", p.Severity)
		}
		b.WriteString(")\n")

		evidence = append(evidence, Evidence{
			PatternID:   p.PatternID,
			ChunkID:     p.ChunkID,
			Text:        p.PatternText,
			PatternType: p.PatternType,
			Confidence:  p.Confidence,
		})
	}

	return &Answer{
		Question: req.Question,
		Kind:     KindPatternSpecific,
		Answer:   strings.TrimRight(b.String(), "\n"),
		Evidence: evidence,
	}, nil
}

// answerGeneral runs hybrid retrieval over the lexical and vector
// indexes, fused by reciprocal rank. When neither index yields
// anything it falls back to the requirement patterns.
func (r *Router) answerGeneral(ctx context.Context, req Request, topK int) (*Answer, error) {
	filters := map[string]string{"company_id": req.CompanyID, "kind": "chunk"}

	lexHits := r.lexical.Search(req.Question, r.cfg.LexicalTopK, filters)

	vecHits, err := r.vector.Search(ctx, req.Question, r.cfg.VectorTopK, filters)
	if err != nil {
		// The lexical arm can still answer; degrade rather than fail.
		r.logger.Warn("vector search failed, using lexical results only", zap.Error(err))
		vecHits = nil
	}

	fused := fuse(lexHits, vecHits, topK)
	if len(fused) == 0 {
		return r.requirementFallback(ctx, req, topK)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Most relevant passages (%d):\n", len(fused))
	for i, ev := range fused {
		fmt.Fprintf(&b, "%d. %s\n", i+1, ev.Text)
	}

	return &Answer{
		Question: req.Question,
		Kind:     KindGeneral,
		Answer:   strings.TrimRight(b.String(), "\n"),
		Evidence: fused,
	}, nil
}

// fuse merges the two ranked lists with reciprocal rank fusion,
// deduplicated by chunk ID, ties broken by ID.
func fuse(lexHits []lexical.Hit, vecHits []vectorstore.SearchResult, topK int) []Evidence {
	scores := make(map[string]float64)
	byID := make(map[string]Evidence)

	for rank, hit := range lexHits {
		scores[hit.ID] += 1.0 / float64(rrfK+rank+1)
		if _, ok := byID[hit.ID]; !ok {
			byID[hit.ID] = Evidence{
				ChunkID: hit.ID,
				DocID:   hit.Metadata["doc_id"],
				Text:    hit.Content,
			}
		}
	}
	for rank, hit := range vecHits {
		scores[hit.ID] += 1.0 / float64(rrfK+rank+1)
		if _, ok := byID[hit.ID]; !ok {
			byID[hit.ID] = Evidence{
				ChunkID: hit.ID,
				DocID:   hit.Metadata["doc_id"],
				Text:    hit.Content,
			}
		}
	}

	fused := make([]Evidence, 0, len(scores))
	for id, score := range scores {
		ev := byID[id]
		ev.Score = score
		fused = append(fused, ev)
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].ChunkID < fused[j].ChunkID
	})
	if len(fused) > topK {
		fused = fused[:topK]
	}
	return fused
}

// requirementFallback answers from the requirement patterns when hybrid
// retrieval finds nothing.
func (r *Router) requirementFallback(ctx context.Context, req Request, topK int) (*Answer, error) {
	answer, err := r.answerPatternSpecific(ctx, req, corpus.PatternRequirement, topK)
	if err != nil {
		return nil, err
	}
	answer.Kind = KindGeneral
	if len(answer.Evidence) == 0 {
		answer.Answer = "No indexed content matched the question and no patterns have been extracted yet."
	}
	return answer, nil
}
