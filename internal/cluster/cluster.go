// Package cluster groups semantically equivalent patterns into
// families. Candidate pairs come from minhash LSH over normalization
// keys; pairs are then scored with embedding cosine similarity and
// merged single-linkage above a configurable threshold. The whole run
// is deterministic for a fixed input set and embedding model.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/playbookd/internal/corpus"
	"github.com/fyrsmithlabs/playbookd/internal/vectorstore"
	"go.uber.org/zap"
)

// ErrScopeLocked indicates a clustering run is already in progress for
// the same company and pattern type. Callers retry after the active run
// finishes.
var ErrScopeLocked = errors.New("clustering already running for scope")

// Scope identifies one clustering unit. Families never cross companies
// or pattern types.
type Scope struct {
	CompanyID   string
	PatternType corpus.PatternType
}

func (s Scope) String() string {
	return s.CompanyID + "/" + string(s.PatternType)
}

// Engine clusters patterns into families.
type Engine struct {
	embedder  vectorstore.Embedder
	threshold float64
	logger    *zap.Logger

	mu    sync.Mutex
	locks map[Scope]struct{}
}

// NewEngine creates a clustering engine. Patterns whose pairwise
// embedding similarity reaches threshold are linked into one family.
func NewEngine(embedder vectorstore.Embedder, threshold float64, logger *zap.Logger) (*Engine, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("similarity threshold must be in [0,1], got %v", threshold)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		embedder:  embedder,
		threshold: threshold,
		logger:    logger,
		locks:     make(map[Scope]struct{}),
	}, nil
}

func (e *Engine) acquire(scope Scope) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, held := e.locks[scope]; held {
		return fmt.Errorf("%w: %s", ErrScopeLocked, scope)
	}
	e.locks[scope] = struct{}{}
	return nil
}

func (e *Engine) release(scope Scope) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.locks, scope)
}

// Cluster groups the scope's patterns into families. docIDByChunk maps
// chunk IDs to document IDs for per-family document counting. The
// returned families fully replace any previous families for the scope.
//
// Patterns outside the scope's type, retired patterns and patterns with
// an empty normalization key are ignored.
func (e *Engine) Cluster(ctx context.Context, scope Scope, patterns []corpus.Pattern, docIDByChunk map[string]string) ([]corpus.Family, error) {
	if err := e.acquire(scope); err != nil {
		return nil, err
	}
	defer e.release(scope)

	start := time.Now()

	members := make([]corpus.Pattern, 0, len(patterns))
	for _, p := range patterns {
		if p.PatternType != scope.PatternType || p.Retired || p.PatternNorm == "" {
			continue
		}
		members = append(members, p)
	}
	if len(members) == 0 {
		return nil, nil
	}

	// Fixed processing order makes bucket iteration and linkage
	// independent of input order.
	sort.Slice(members, func(i, j int) bool { return members[i].PatternID < members[j].PatternID })

	vectors, err := e.embedNorms(ctx, members)
	if err != nil {
		return nil, fmt.Errorf("embedding patterns: %w", err)
	}

	uf := e.link(members, vectors)

	families := e.assemble(scope, members, vectors, uf, docIDByChunk)

	e.logger.Info("clustering complete",
		zap.String("scope", scope.String()),
		zap.Int("patterns", len(members)),
		zap.Int("families", len(families)),
		zap.Duration("elapsed", time.Since(start)),
	)
	recordClustering(string(scope.PatternType), len(members), len(families), time.Since(start))

	return families, nil
}

// embedNorms embeds each member's normalization key. Duplicate keys are
// embedded once and shared.
func (e *Engine) embedNorms(ctx context.Context, members []corpus.Pattern) ([][]float32, error) {
	unique := make([]string, 0, len(members))
	seen := make(map[string]struct{}, len(members))
	for _, p := range members {
		if _, ok := seen[p.PatternNorm]; ok {
			continue
		}
		seen[p.PatternNorm] = struct{}{}
		unique = append(unique, p.PatternNorm)
	}

	embedded, err := e.embedder.EmbedDocuments(ctx, unique)
	if err != nil {
		return nil, err
	}

	byNorm := make(map[string][]float32, len(unique))
	for i, norm := range unique {
		byNorm[norm] = embedded[i]
	}

	vectors := make([][]float32, len(members))
	for i, p := range members {
		vectors[i] = byNorm[p.PatternNorm]
	}
	return vectors, nil
}

// link builds the single-linkage clustering. Identical normalization
// keys merge outright; LSH candidate pairs merge when their embedding
// similarity reaches the threshold.
func (e *Engine) link(members []corpus.Pattern, vectors [][]float32) *unionFind {
	uf := newUnionFind(len(members))

	byNorm := make(map[string]int, len(members))
	for i, p := range members {
		if first, ok := byNorm[p.PatternNorm]; ok {
			uf.union(first, i)
		} else {
			byNorm[p.PatternNorm] = i
		}
	}

	buckets := make(map[string][]int)
	for i, p := range members {
		for _, key := range bandKeys(signature(p.PatternNorm)) {
			buckets[key] = append(buckets[key], i)
		}
	}

	compared := make(map[[2]int]struct{})
	for _, bucket := range buckets {
		for a := 0; a < len(bucket); a++ {
			for b := a + 1; b < len(bucket); b++ {
				i, j := bucket[a], bucket[b]
				if uf.find(i) == uf.find(j) {
					continue
				}
				pair := [2]int{i, j}
				if _, done := compared[pair]; done {
					continue
				}
				compared[pair] = struct{}{}
				if cosine(vectors[i], vectors[j]) >= e.threshold {
					uf.union(i, j)
				}
			}
		}
	}

	return uf
}

// assemble turns linkage components into families with medoid canonical
// selection.
func (e *Engine) assemble(scope Scope, members []corpus.Pattern, vectors [][]float32, uf *unionFind, docIDByChunk map[string]string) []corpus.Family {
	components := make(map[int][]int)
	for i := range members {
		root := uf.find(i)
		components[root] = append(components[root], i)
	}

	roots := make([]int, 0, len(components))
	for root := range components {
		roots = append(roots, root)
	}
	// Order components by their smallest member's pattern ID.
	sort.Slice(roots, func(a, b int) bool {
		return members[components[roots[a]][0]].PatternID < members[components[roots[b]][0]].PatternID
	})

	families := make([]corpus.Family, 0, len(roots))
	for _, root := range roots {
		idx := components[root]
		medoid := medoidIndex(members, vectors, idx)

		memberIDs := make([]string, len(idx))
		docs := make(map[string]struct{})
		topics := make(map[string]int)
		for k, i := range idx {
			memberIDs[k] = members[i].PatternID
			if docID, ok := docIDByChunk[members[i].ChunkID]; ok {
				docs[docID] = struct{}{}
			}
			if members[i].Topic != "" {
				topics[members[i].Topic]++
			}
		}
		sort.Strings(memberIDs)

		families = append(families, corpus.Family{
			FamilyID:         corpus.NewID(),
			PatternType:      scope.PatternType,
			CompanyID:        scope.CompanyID,
			CanonicalText:    members[medoid].PatternText,
			Topic:            dominantTopic(topics),
			MemberPatternIDs: memberIDs,
			Embedding:        vectors[medoid],
			DocumentCount:    len(docs),
			MentionCount:     len(idx),
		})
	}
	return families
}

// medoidIndex returns the member index with the lowest mean cosine
// distance to the rest of its component. Ties break to the shortest
// pattern text, then lexicographically smallest, then smallest ID.
func medoidIndex(members []corpus.Pattern, vectors [][]float32, idx []int) int {
	if len(idx) == 1 {
		return idx[0]
	}

	best := idx[0]
	bestDist := math.Inf(1)
	for _, i := range idx {
		var sum float64
		for _, j := range idx {
			if i == j {
				continue
			}
			sum += 1 - cosine(vectors[i], vectors[j])
		}
		dist := sum / float64(len(idx)-1)

		if dist < bestDist {
			best, bestDist = i, dist
			continue
		}
		if dist == bestDist && betterCanonical(members[i], members[best]) {
			best = i
		}
	}
	return best
}

func betterCanonical(a, b corpus.Pattern) bool {
	if len(a.PatternText) != len(b.PatternText) {
		return len(a.PatternText) < len(b.PatternText)
	}
	if a.PatternText != b.PatternText {
		return a.PatternText < b.PatternText
	}
	return a.PatternID < b.PatternID
}

// dominantTopic returns the most frequent topic, ties broken
// lexicographically. Empty when no member carries a topic.
func dominantTopic(topics map[string]int) string {
	best := ""
	bestCount := 0
	for topic, count := range topics {
		if count > bestCount || (count == bestCount && (best == "" || topic < best)) {
			best, bestCount = topic, count
		}
	}
	return best
}

// cosine computes cosine similarity between two vectors. Mismatched or
// zero-magnitude vectors score zero.
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
