// Package score evaluates a draft document against a company playbook.
// Five independent deterministic checks each yield a [0,1] sub-score and
// itemized issues; the overall score is their configured convex
// combination. Scoring reads the playbook and draft, never mutates them.
package score

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/fyrsmithlabs/playbookd/internal/config"
	"github.com/fyrsmithlabs/playbookd/internal/corpus"
	"github.com/fyrsmithlabs/playbookd/internal/vectorstore"
	"go.uber.org/zap"
)

// Issue types reported by the checks.
const (
	IssueMissingSection          = "missing_section"
	IssueMissingRequirement      = "missing_requirement"
	IssueTerminologyMismatch     = "terminology_mismatch"
	IssueInconsistentValue       = "inconsistent_value"
	IssueInsufficientSpecificity = "insufficient_specificity"
)

// Evidence cites a family or chunk supporting an issue.
type Evidence struct {
	FamilyID string `json:"family_id,omitempty"`
	ChunkID  string `json:"chunk_id,omitempty"`
	Text     string `json:"text,omitempty"`
}

// Issue is one finding from a check.
type Issue struct {
	Type           string          `json:"type"`
	Severity       corpus.Severity `json:"severity"`
	Message        string          `json:"message"`
	RecommendedFix string          `json:"recommended_fix"`
	Evidence       []Evidence      `json:"evidence,omitempty"`
}

// Scores holds the five sub-scores and the overall score.
type Scores struct {
	StructureAlignment  float64 `json:"structure_alignment_score"`
	RequirementCoverage float64 `json:"requirement_coverage_score"`
	Terminology         float64 `json:"terminology_score"`
	Consistency         float64 `json:"consistency_score"`
	Specificity         float64 `json:"specificity_score"`
	Overall             float64 `json:"overall_quality_score"`
}

// Report is the result of scoring one draft.
type Report struct {
	CompanyID string  `json:"company_id"`
	DocType   string  `json:"doc_type"`
	Scores    Scores  `json:"scores"`
	Issues    []Issue `json:"issues"`
}

// Scorer runs the five checks.
type Scorer struct {
	cfg      config.Score
	embedder vectorstore.Embedder
	logger   *zap.Logger
}

// NewScorer creates a scorer. The embedder backs the semantic
// requirement-coverage check.
func NewScorer(cfg config.Score, embedder vectorstore.Embedder, logger *zap.Logger) (*Scorer, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	sum := cfg.StructureWeight + cfg.RequirementWeight + cfg.TerminologyWeight +
		cfg.ConsistencyWeight + cfg.SpecificityWeight
	if math.Abs(sum-1.0) > 1e-9 {
		return nil, fmt.Errorf("score weights must sum to 1, got %v", sum)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scorer{cfg: cfg, embedder: embedder, logger: logger}, nil
}

// Score evaluates draft chunks against the playbook.
func (s *Scorer) Score(ctx context.Context, playbook *corpus.Playbook, draft []corpus.Chunk) (*Report, error) {
	if playbook == nil {
		return nil, fmt.Errorf("%w: no playbook for scope", corpus.ErrEmptyCorpus)
	}
	if len(draft) == 0 {
		return nil, fmt.Errorf("%w: draft has no chunks", corpus.ErrEmptyCorpus)
	}

	report := &Report{
		CompanyID: playbook.CompanyID,
		DocType:   playbook.DocType,
		Issues:    []Issue{},
	}

	var issues []Issue

	structureScore, structureIssues := s.checkStructure(playbook, draft)
	issues = append(issues, structureIssues...)

	requirementScore, requirementIssues, err := s.checkRequirements(ctx, playbook, draft)
	if err != nil {
		return nil, fmt.Errorf("requirement coverage check: %w", err)
	}
	issues = append(issues, requirementIssues...)

	terminologyScore, terminologyIssues := s.checkTerminology(playbook, draft)
	issues = append(issues, terminologyIssues...)

	consistencyScore, consistencyIssues := s.checkConsistency(draft)
	issues = append(issues, consistencyIssues...)

	specificityScore, specificityIssues := s.checkSpecificity(playbook, draft)
	issues = append(issues, specificityIssues...)

	report.Scores = Scores{
		StructureAlignment:  structureScore,
		RequirementCoverage: requirementScore,
		Terminology:         terminologyScore,
		Consistency:         consistencyScore,
		Specificity:         specificityScore,
	}
	report.Scores.Overall = clamp01(
		structureScore*s.cfg.StructureWeight +
			requirementScore*s.cfg.RequirementWeight +
			terminologyScore*s.cfg.TerminologyWeight +
			consistencyScore*s.cfg.ConsistencyWeight +
			specificityScore*s.cfg.SpecificityWeight)

	sort.SliceStable(issues, func(i, j int) bool {
		return severityRank(issues[i].Severity) < severityRank(issues[j].Severity)
	})
	report.Issues = issues

	s.logger.Info("draft scored",
		zap.String("company_id", playbook.CompanyID),
		zap.String("doc_type", playbook.DocType),
		zap.Float64("overall", report.Scores.Overall),
		zap.Int("issues", len(issues)),
	)

	return report, nil
}

func severityRank(s corpus.Severity) int {
	switch s {
	case corpus.SeverityHigh:
		return 0
	case corpus.SeverityMedium:
		return 1
	default:
		return 2
	}
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
