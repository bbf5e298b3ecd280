package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/playbookd/internal/corpus"
	"github.com/fyrsmithlabs/playbookd/internal/httpapi"
	"github.com/fyrsmithlabs/playbookd/internal/qa"
	"go.uber.org/zap"
)

var (
	flagCompany string
	flagDocType string
	flagTypes   []string
	flagQAType  string
	flagTopK    int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the playbookd HTTP server",
	RunE:  runServe,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest parsed documents and chunks from a JSON file or stdin",
	Long: `Ingest reads a JSON payload with "documents" and "chunks" arrays,
persists them and indexes the chunks for retrieval.

Examples:
  playbookd ingest corpus.json
  cat corpus.json | playbookd ingest -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Run pattern extraction over a company's unprocessed chunks",
	RunE:  runExtract,
}

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Re-cluster a company's patterns into families",
	RunE:  runCluster,
}

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Aggregate a company's playbook for one document type",
	RunE:  runAggregate,
}

var scoreCmd = &cobra.Command{
	Use:   "score [draft-file]",
	Short: "Score a draft against a company's playbook",
	Long: `Score reads a JSON array of draft chunks and evaluates it against
the stored playbook for the company and document type.

Examples:
  playbookd score --company acme --doc-type proposal draft.json
  cat draft.json | playbookd score --company acme --doc-type proposal -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScore,
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question over a company's extracted corpus",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	for _, cmd := range []*cobra.Command{extractCmd, clusterCmd, aggregateCmd, scoreCmd, askCmd} {
		cmd.Flags().StringVar(&flagCompany, "company", "", "company ID (required)")
		_ = cmd.MarkFlagRequired("company")
	}
	extractCmd.Flags().StringSliceVar(&flagTypes, "type", nil, "pattern types to extract (default: all)")
	clusterCmd.Flags().StringSliceVar(&flagTypes, "type", nil, "pattern types to cluster (default: all)")
	aggregateCmd.Flags().StringVar(&flagDocType, "doc-type", "", "document type (required)")
	_ = aggregateCmd.MarkFlagRequired("doc-type")
	scoreCmd.Flags().StringVar(&flagDocType, "doc-type", "", "document type (required)")
	_ = scoreCmd.MarkFlagRequired("doc-type")
	askCmd.Flags().StringVar(&flagQAType, "type", "", "force a pattern-specific answer for this type")
	askCmd.Flags().IntVar(&flagTopK, "top-k", 0, "evidence count (default: configured hybrid top k)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	// The lexical index is in-memory and rebuilt from the store on boot.
	if err := a.rebuildLexical(ctx, ""); err != nil {
		return err
	}

	srv, err := httpapi.NewServer(httpapi.Deps{
		Pipeline: a.pipeline,
		Scorer:   a.scorer,
		Router:   a.router,
		Store:    a.store,
		Logger:   a.logger,
		Config:   a.cfg.Server,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("shutdown failed", zap.Error(err))
		return err
	}
	return nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	payload, err := readInput(args)
	if err != nil {
		return err
	}

	var req httpapi.IngestRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("parsing ingest payload: %w", err)
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.pipeline.Ingest(cmd.Context(), req.Documents, req.Chunks); err != nil {
		return err
	}
	fmt.Printf("Ingested %d documents and %d chunks\n", len(req.Documents), len(req.Chunks))
	return nil
}

func runExtract(cmd *cobra.Command, _ []string) error {
	types, err := parsePatternTypes(flagTypes)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.pipeline.ExtractPatterns(cmd.Context(), flagCompany, types)
	if err != nil {
		return err
	}
	return printJSON(report)
}

func runCluster(cmd *cobra.Command, _ []string) error {
	types, err := parsePatternTypes(flagTypes)
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	counts, err := a.pipeline.ClusterFamilies(cmd.Context(), flagCompany, types)
	if err != nil {
		return err
	}
	return printJSON(counts)
}

func runAggregate(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	pb, err := a.pipeline.BuildPlaybook(cmd.Context(), flagCompany, flagDocType)
	if err != nil {
		return err
	}
	return printJSON(pb)
}

func runScore(cmd *cobra.Command, args []string) error {
	payload, err := readInput(args)
	if err != nil {
		return err
	}

	var draft []corpus.Chunk
	if err := json.Unmarshal(payload, &draft); err != nil {
		return fmt.Errorf("parsing draft chunks: %w", err)
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	pb, err := a.store.GetPlaybook(cmd.Context(), flagCompany, flagDocType)
	if err != nil {
		return err
	}
	report, err := a.scorer.Score(cmd.Context(), pb, draft)
	if err != nil {
		return err
	}
	return printJSON(report)
}

func runAsk(cmd *cobra.Command, args []string) error {
	if flagQAType != "" && !corpus.PatternType(flagQAType).Valid() {
		return fmt.Errorf("unknown pattern type %q (valid: %v)", flagQAType, corpus.PatternTypes())
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	// The general path searches the lexical index; load this company's
	// chunks before asking.
	if err := a.rebuildLexical(cmd.Context(), flagCompany); err != nil {
		return err
	}

	answer, err := a.router.Ask(cmd.Context(), qa.Request{
		CompanyID:   flagCompany,
		Question:    strings.Join(args, " "),
		PatternType: corpus.PatternType(flagQAType),
		TopK:        flagTopK,
	})
	if err != nil {
		return err
	}
	return printJSON(answer)
}

// readInput reads the file named by the first argument, or stdin when
// the argument is missing or "-".
func readInput(args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", args[0], err)
	}
	return data, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
