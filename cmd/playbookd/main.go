// Package main implements the playbookd CLI: corpus ingestion, pattern
// extraction, clustering, playbook aggregation, draft scoring, question
// answering and the HTTP server.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/playbookd/internal/cluster"
	"github.com/fyrsmithlabs/playbookd/internal/config"
	"github.com/fyrsmithlabs/playbookd/internal/corpus"
	"github.com/fyrsmithlabs/playbookd/internal/detect"
	"github.com/fyrsmithlabs/playbookd/internal/embeddings"
	"github.com/fyrsmithlabs/playbookd/internal/extraction"
	"github.com/fyrsmithlabs/playbookd/internal/lexical"
	"github.com/fyrsmithlabs/playbookd/internal/logging"
	"github.com/fyrsmithlabs/playbookd/internal/pipeline"
	"github.com/fyrsmithlabs/playbookd/internal/playbook"
	"github.com/fyrsmithlabs/playbookd/internal/qa"
	"github.com/fyrsmithlabs/playbookd/internal/score"
	"github.com/fyrsmithlabs/playbookd/internal/store"
	"github.com/fyrsmithlabs/playbookd/internal/vectorstore"
	"go.uber.org/zap"
)

var (
	// configPath is the --config flag value; empty uses the default
	// location under the user config directory.
	configPath string

	// version information (set via ldflags during build)
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "playbookd",
	Short: "Pattern extraction, clustering and draft scoring for business documents",
	Long: `playbookd mines a company's historical documents for recurring
requirements, risks, constraints and outcomes, clusters them into
canonical pattern families, aggregates per-document-type playbooks and
scores new drafts against them.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(clusterCmd)
	rootCmd.AddCommand(aggregateCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(askCmd)
}

// app wires the long-lived collaborators behind every command.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *store.Store
	vector   vectorstore.Store
	lexical  *lexical.Index
	pipeline *pipeline.Pipeline
	scorer   *score.Scorer
	router   *qa.Router
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	embedSvc, err := embeddings.NewService(embeddings.Config{
		BaseURL:   cfg.Embedding.BaseURL,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("creating embedding service: %w", err)
	}
	embedder := embeddings.NewCache(embedSvc)

	vector, err := vectorstore.NewStore(cfg.Vector, embedSvc.Dimension(), embedder, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("creating vector store: %w", err)
	}

	generator, err := extraction.NewGenerator(cfg.Generation)
	if err != nil {
		st.Close()
		vector.Close()
		return nil, fmt.Errorf("creating generator: %w", err)
	}
	extractor, err := extraction.NewExtractor(generator, cfg.Extraction.ConfidenceThreshold, logger)
	if err != nil {
		st.Close()
		vector.Close()
		return nil, err
	}

	engine, err := cluster.NewEngine(embedder, cfg.Clustering.SimilarityThreshold, logger)
	if err != nil {
		st.Close()
		vector.Close()
		return nil, err
	}
	aggregator, err := playbook.NewAggregator(cfg.Playbook, logger)
	if err != nil {
		st.Close()
		vector.Close()
		return nil, err
	}

	idx := lexical.NewIndex()
	pipe, err := pipeline.New(pipeline.Deps{
		Store:      st,
		Detector:   detect.New(keywordOverrides(cfg.Extraction.Keywords)),
		Extractor:  extractor,
		Cluster:    engine,
		Aggregator: aggregator,
		Lexical:    idx,
		Vector:     vector,
		Workers:    cfg.Extraction.Workers,
		Logger:     logger,
	})
	if err != nil {
		st.Close()
		vector.Close()
		return nil, err
	}

	scorer, err := score.NewScorer(cfg.Score, embedder, logger)
	if err != nil {
		st.Close()
		vector.Close()
		return nil, err
	}
	router, err := qa.NewRouter(st, idx, vector, cfg.QA, logger)
	if err != nil {
		st.Close()
		vector.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		vector:   vector,
		lexical:  idx,
		pipeline: pipe,
		scorer:   scorer,
		router:   router,
	}, nil
}

// rebuildLexical reloads the in-memory lexical index from the store,
// for every company when companyID is empty.
func (a *app) rebuildLexical(ctx context.Context, companyID string) error {
	companies := []string{companyID}
	if companyID == "" {
		var err error
		companies, err = a.store.CompanyIDs(ctx)
		if err != nil {
			return fmt.Errorf("listing companies: %w", err)
		}
	}
	for _, company := range companies {
		chunks, err := a.store.ListChunks(ctx, company, "")
		if err != nil {
			return fmt.Errorf("listing chunks for %s: %w", company, err)
		}
		docs := make([]lexical.Document, 0, len(chunks))
		for _, chunk := range chunks {
			docs = append(docs, lexical.Document{
				ID:      chunk.ChunkID,
				Content: chunk.Text,
				Metadata: map[string]string{
					"company_id": chunk.CompanyID,
					"doc_id":     chunk.DocID,
					"kind":       "chunk",
				},
			})
		}
		a.lexical.Add(docs...)
	}
	return nil
}

func (a *app) Close() {
	if err := a.vector.Close(); err != nil {
		a.logger.Warn("closing vector store", zap.Error(err))
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing store", zap.Error(err))
	}
	_ = logging.Sync(a.logger)
}

func keywordOverrides(kw config.Keywords) map[corpus.PatternType][]string {
	return map[corpus.PatternType][]string{
		corpus.PatternRequirement: kw.Requirement,
		corpus.PatternSuccess:     kw.Success,
		corpus.PatternFailure:     kw.Failure,
		corpus.PatternRisk:        kw.Risk,
		corpus.PatternConstraint:  kw.Constraint,
	}
}

func parsePatternTypes(raw []string) ([]corpus.PatternType, error) {
	types := make([]corpus.PatternType, 0, len(raw))
	for _, s := range raw {
		pt := corpus.PatternType(s)
		if !pt.Valid() {
			return nil, fmt.Errorf("unknown pattern type %q (valid: %v)", s, corpus.PatternTypes())
		}
		types = append(types, pt)
	}
	return types, nil
}
