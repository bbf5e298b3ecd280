// Package pipeline orchestrates the corpus lifecycle: ingesting
// documents and chunks, running detection and extraction over the
// unprocessed backlog, clustering patterns into families and
// aggregating playbooks.
//
// Extraction is commutative per chunk, so candidate chunks are fanned
// out to a small fixed worker pool. A service outage never crashes a
// run: affected chunks are left pending and picked up by the next run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/playbookd/internal/cluster"
	"github.com/fyrsmithlabs/playbookd/internal/corpus"
	"github.com/fyrsmithlabs/playbookd/internal/detect"
	"github.com/fyrsmithlabs/playbookd/internal/extraction"
	"github.com/fyrsmithlabs/playbookd/internal/lexical"
	"github.com/fyrsmithlabs/playbookd/internal/playbook"
	"github.com/fyrsmithlabs/playbookd/internal/store"
	"github.com/fyrsmithlabs/playbookd/internal/vectorstore"
	"go.uber.org/zap"
)

const defaultWorkers = 4

// Extractor extracts patterns of one type from a chunk.
type Extractor interface {
	Extract(ctx context.Context, chunk *corpus.Chunk, pt corpus.PatternType) ([]corpus.Pattern, error)
}

// Deps holds the pipeline's collaborators.
type Deps struct {
	Store      *store.Store
	Detector   *detect.Detector
	Extractor  Extractor
	Cluster    *cluster.Engine
	Aggregator *playbook.Aggregator
	Lexical    *lexical.Index
	Vector     vectorstore.Store

	// Workers bounds extraction concurrency; 0 uses the default.
	Workers int
	Logger  *zap.Logger
}

// Pipeline runs the corpus lifecycle stages.
type Pipeline struct {
	store      *store.Store
	detector   *detect.Detector
	extractor  Extractor
	cluster    *cluster.Engine
	aggregator *playbook.Aggregator
	lexical    *lexical.Index
	vector     vectorstore.Store
	workers    int
	logger     *zap.Logger
}

// New creates a pipeline.
func New(deps Deps) (*Pipeline, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Detector == nil {
		return nil, fmt.Errorf("detector is required")
	}
	if deps.Extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if deps.Cluster == nil {
		return nil, fmt.Errorf("cluster engine is required")
	}
	if deps.Aggregator == nil {
		return nil, fmt.Errorf("aggregator is required")
	}
	if deps.Lexical == nil {
		return nil, fmt.Errorf("lexical index is required")
	}
	if deps.Vector == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	workers := deps.Workers
	if workers < 1 {
		workers = defaultWorkers
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:      deps.Store,
		detector:   deps.Detector,
		extractor:  deps.Extractor,
		cluster:    deps.Cluster,
		aggregator: deps.Aggregator,
		lexical:    deps.Lexical,
		vector:     deps.Vector,
		workers:    workers,
		logger:     logger,
	}, nil
}

// Ingest persists documents and chunks and indexes the chunks into the
// lexical and vector indexes. A vector indexing failure is logged and
// tolerated; the vector index is a derived view and can be rebuilt with
// RebuildIndexes.
func (p *Pipeline) Ingest(ctx context.Context, docs []corpus.Document, chunks []corpus.Chunk) error {
	if len(docs) == 0 && len(chunks) == 0 {
		return fmt.Errorf("nothing to ingest")
	}
	start := time.Now()

	if len(docs) > 0 {
		if err := p.store.SaveDocuments(ctx, docs...); err != nil {
			recordStage("ingest", "error", time.Since(start))
			return fmt.Errorf("saving documents: %w", err)
		}
	}
	if len(chunks) > 0 {
		if err := p.store.SaveChunks(ctx, chunks...); err != nil {
			recordStage("ingest", "error", time.Since(start))
			return fmt.Errorf("saving chunks: %w", err)
		}
		p.indexChunks(ctx, chunks)
	}

	p.logger.Info("corpus ingested",
		zap.Int("documents", len(docs)),
		zap.Int("chunks", len(chunks)),
	)
	recordStage("ingest", "success", time.Since(start))
	return nil
}

// RebuildIndexes re-indexes every stored chunk of a company into the
// lexical and vector indexes.
func (p *Pipeline) RebuildIndexes(ctx context.Context, companyID string) (int, error) {
	chunks, err := p.store.ListChunks(ctx, companyID, "")
	if err != nil {
		return 0, fmt.Errorf("listing chunks: %w", err)
	}
	p.indexChunks(ctx, chunks)
	return len(chunks), nil
}

func (p *Pipeline) indexChunks(ctx context.Context, chunks []corpus.Chunk) {
	lexDocs := make([]lexical.Document, 0, len(chunks))
	vecDocs := make([]vectorstore.Document, 0, len(chunks))
	for _, chunk := range chunks {
		meta := map[string]string{
			"company_id": chunk.CompanyID,
			"doc_id":     chunk.DocID,
			"kind":       "chunk",
		}
		lexDocs = append(lexDocs, lexical.Document{ID: chunk.ChunkID, Content: chunk.Text, Metadata: meta})
		vecDocs = append(vecDocs, vectorstore.Document{ID: chunk.ChunkID, Content: chunk.Text, Metadata: meta})
	}

	p.lexical.Add(lexDocs...)
	if _, err := p.vector.AddDocuments(ctx, vecDocs); err != nil {
		p.logger.Warn("vector indexing failed, index can be rebuilt later", zap.Error(err))
	}
}

// TypeSummary reports one pattern type's share of an extraction run.
type TypeSummary struct {
	PatternType corpus.PatternType `json:"pattern_type"`

	// Chunks is the unprocessed backlog size at the start of the run.
	Chunks     int `json:"chunks"`
	Candidates int `json:"candidates"`
	Extracted  int `json:"extracted"`
	Patterns   int `json:"patterns"`

	// Skipped lists chunks whose model output stayed invalid after the
	// corrective retry; they are final and never re-extracted.
	Skipped []string `json:"skipped,omitempty"`

	// Pending lists chunks left behind by service failures; the next
	// run picks them up again.
	Pending []string `json:"pending,omitempty"`
}

// Report summarizes one extraction run.
type Report struct {
	CompanyID string        `json:"company_id"`
	Started   time.Time     `json:"started"`
	Finished  time.Time     `json:"finished"`
	Types     []TypeSummary `json:"types"`
}

// TotalPatterns returns the number of patterns saved by the run.
func (r *Report) TotalPatterns() int {
	total := 0
	for _, ts := range r.Types {
		total += ts.Patterns
	}
	return total
}

// ExtractPatterns runs detection and extraction over a company's
// unprocessed chunks for the given pattern types (all types when nil).
// Non-candidate chunks are marked processed without a model call.
func (p *Pipeline) ExtractPatterns(ctx context.Context, companyID string, types []corpus.PatternType) (*Report, error) {
	if companyID == "" {
		return nil, fmt.Errorf("company ID is required")
	}
	if len(types) == 0 {
		types = corpus.PatternTypes()
	}
	start := time.Now()
	report := &Report{CompanyID: companyID, Started: start.UTC()}

	for _, pt := range types {
		if !pt.Valid() {
			return nil, fmt.Errorf("unknown pattern type %q", pt)
		}
		summary, err := p.extractType(ctx, companyID, pt)
		if err != nil {
			recordStage("extract", "error", time.Since(start))
			return nil, fmt.Errorf("extracting %s patterns: %w", pt, err)
		}
		report.Types = append(report.Types, summary)
	}

	report.Finished = time.Now().UTC()
	p.logger.Info("extraction run finished",
		zap.String("company_id", companyID),
		zap.Int("patterns", report.TotalPatterns()),
		zap.Duration("elapsed", report.Finished.Sub(report.Started)),
	)
	recordStage("extract", "success", time.Since(start))
	return report, nil
}

func (p *Pipeline) extractType(ctx context.Context, companyID string, pt corpus.PatternType) (TypeSummary, error) {
	summary := TypeSummary{PatternType: pt}

	chunks, err := p.store.UnprocessedChunks(ctx, companyID, pt)
	if err != nil {
		return summary, fmt.Errorf("listing unprocessed chunks: %w", err)
	}
	summary.Chunks = len(chunks)

	candidates := make([]corpus.Chunk, 0, len(chunks))
	for _, chunk := range chunks {
		if p.detector.Candidate(&chunk, pt) {
			candidates = append(candidates, chunk)
			continue
		}
		// Not worth a model call; final for this type.
		if err := p.store.SetExtractionStatus(ctx, chunk.ChunkID, pt, store.StatusExtracted); err != nil {
			return summary, err
		}
	}
	summary.Candidates = len(candidates)
	if len(candidates) == 0 {
		return summary, nil
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	jobs := make(chan corpus.Chunk)
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for chunk := range jobs {
				p.extractChunk(ctx, chunk, pt, &summary, &mu)
			}
		}()
	}

	for _, chunk := range candidates {
		select {
		case jobs <- chunk:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()

	sort.Strings(summary.Skipped)
	sort.Strings(summary.Pending)
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

func (p *Pipeline) extractChunk(ctx context.Context, chunk corpus.Chunk, pt corpus.PatternType, summary *TypeSummary, mu *sync.Mutex) {
	patterns, err := p.extractor.Extract(ctx, &chunk, pt)
	switch {
	case errors.Is(err, extraction.ErrServiceUnavailable):
		p.logger.Warn("extraction service unavailable, chunk left pending",
			zap.String("chunk_id", chunk.ChunkID),
			zap.String("pattern_type", string(pt)),
		)
		p.setStatus(ctx, chunk.ChunkID, pt, store.StatusPending)
		mu.Lock()
		summary.Pending = append(summary.Pending, chunk.ChunkID)
		mu.Unlock()
		return
	case errors.Is(err, extraction.ErrValidation):
		p.setStatus(ctx, chunk.ChunkID, pt, store.StatusSkipped)
		mu.Lock()
		summary.Skipped = append(summary.Skipped, chunk.ChunkID)
		mu.Unlock()
		return
	case err != nil:
		p.logger.Error("extraction failed, chunk left pending",
			zap.String("chunk_id", chunk.ChunkID),
			zap.String("pattern_type", string(pt)),
			zap.Error(err),
		)
		p.setStatus(ctx, chunk.ChunkID, pt, store.StatusPending)
		mu.Lock()
		summary.Pending = append(summary.Pending, chunk.ChunkID)
		mu.Unlock()
		return
	}

	// Supersede any patterns from an earlier processing of this chunk.
	if err := p.store.RetirePatterns(ctx, chunk.ChunkID, pt); err != nil {
		p.logger.Error("retiring superseded patterns failed, chunk left pending",
			zap.String("chunk_id", chunk.ChunkID),
			zap.Error(err),
		)
		p.setStatus(ctx, chunk.ChunkID, pt, store.StatusPending)
		mu.Lock()
		summary.Pending = append(summary.Pending, chunk.ChunkID)
		mu.Unlock()
		return
	}
	if len(patterns) > 0 {
		if err := p.store.SavePatterns(ctx, patterns...); err != nil {
			p.logger.Error("saving patterns failed, chunk left pending",
				zap.String("chunk_id", chunk.ChunkID),
				zap.Error(err),
			)
			p.setStatus(ctx, chunk.ChunkID, pt, store.StatusPending)
			mu.Lock()
			summary.Pending = append(summary.Pending, chunk.ChunkID)
			mu.Unlock()
			return
		}
	}

	p.setStatus(ctx, chunk.ChunkID, pt, store.StatusExtracted)
	mu.Lock()
	summary.Extracted++
	summary.Patterns += len(patterns)
	mu.Unlock()
}

func (p *Pipeline) setStatus(ctx context.Context, chunkID string, pt corpus.PatternType, status string) {
	if err := p.store.SetExtractionStatus(ctx, chunkID, pt, status); err != nil {
		// The chunk stays unprocessed and is retried next run.
		p.logger.Error("recording extraction status failed",
			zap.String("chunk_id", chunkID),
			zap.String("status", status),
			zap.Error(err),
		)
	}
}

// ClusterFamilies re-clusters a company's patterns for the given types
// (all types when nil) and replaces the stored families wholesale per
// scope. It returns the family count per type.
func (p *Pipeline) ClusterFamilies(ctx context.Context, companyID string, types []corpus.PatternType) (map[corpus.PatternType]int, error) {
	if companyID == "" {
		return nil, fmt.Errorf("company ID is required")
	}
	if len(types) == 0 {
		types = corpus.PatternTypes()
	}
	start := time.Now()

	docIDs, err := p.store.DocIDsByChunk(ctx, companyID)
	if err != nil {
		recordStage("cluster", "error", time.Since(start))
		return nil, fmt.Errorf("loading chunk-document map: %w", err)
	}

	counts := make(map[corpus.PatternType]int, len(types))
	for _, pt := range types {
		if !pt.Valid() {
			return nil, fmt.Errorf("unknown pattern type %q", pt)
		}
		patterns, err := p.store.ListPatterns(ctx, companyID, pt)
		if err != nil {
			recordStage("cluster", "error", time.Since(start))
			return nil, fmt.Errorf("listing %s patterns: %w", pt, err)
		}

		scope := cluster.Scope{CompanyID: companyID, PatternType: pt}
		families, err := p.cluster.Cluster(ctx, scope, patterns, docIDs)
		if err != nil {
			recordStage("cluster", "error", time.Since(start))
			return nil, fmt.Errorf("clustering %s patterns: %w", pt, err)
		}
		if err := p.store.ReplaceFamilies(ctx, companyID, pt, families); err != nil {
			recordStage("cluster", "error", time.Since(start))
			return nil, fmt.Errorf("replacing %s families: %w", pt, err)
		}
		counts[pt] = len(families)
	}

	p.logger.Info("clustering run finished",
		zap.String("company_id", companyID),
		zap.Int("types", len(types)),
	)
	recordStage("cluster", "success", time.Since(start))
	return counts, nil
}

// BuildPlaybook aggregates a company's playbook for one doc type from
// the stored headings and families, and persists it.
func (p *Pipeline) BuildPlaybook(ctx context.Context, companyID, docType string) (*corpus.Playbook, error) {
	if companyID == "" || docType == "" {
		return nil, fmt.Errorf("company ID and doc type are required")
	}
	start := time.Now()

	headings, err := p.store.ListHeadings(ctx, companyID, docType)
	if err != nil {
		recordStage("aggregate", "error", time.Since(start))
		return nil, fmt.Errorf("listing headings: %w", err)
	}
	families, err := p.store.ListFamilies(ctx, companyID, "")
	if err != nil {
		recordStage("aggregate", "error", time.Since(start))
		return nil, fmt.Errorf("listing families: %w", err)
	}

	pb, err := p.aggregator.Aggregate(companyID, docType, headings, families)
	if err != nil {
		recordStage("aggregate", "error", time.Since(start))
		return nil, err
	}
	if err := p.store.SavePlaybook(ctx, pb); err != nil {
		recordStage("aggregate", "error", time.Since(start))
		return nil, fmt.Errorf("saving playbook: %w", err)
	}

	p.logger.Info("playbook aggregated",
		zap.String("company_id", companyID),
		zap.String("doc_type", docType),
		zap.Int("outline_sections", len(pb.Outline)),
	)
	recordStage("aggregate", "success", time.Since(start))
	return pb, nil
}
