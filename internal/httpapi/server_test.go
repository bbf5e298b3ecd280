package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/fyrsmithlabs/playbookd/internal/cluster"
	"github.com/fyrsmithlabs/playbookd/internal/config"
	"github.com/fyrsmithlabs/playbookd/internal/corpus"
	"github.com/fyrsmithlabs/playbookd/internal/detect"
	"github.com/fyrsmithlabs/playbookd/internal/lexical"
	"github.com/fyrsmithlabs/playbookd/internal/pipeline"
	"github.com/fyrsmithlabs/playbookd/internal/playbook"
	"github.com/fyrsmithlabs/playbookd/internal/qa"
	"github.com/fyrsmithlabs/playbookd/internal/score"
	"github.com/fyrsmithlabs/playbookd/internal/store"
	"github.com/fyrsmithlabs/playbookd/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct{}

func (fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (f fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

type fakeExtractor struct{}

func (fakeExtractor) Extract(_ context.Context, chunk *corpus.Chunk, pt corpus.PatternType) ([]corpus.Pattern, error) {
	if pt != corpus.PatternRequirement {
		return nil, nil
	}
	return []corpus.Pattern{{
		PatternID:   corpus.NewID(),
		ChunkID:     chunk.ChunkID,
		PatternType: pt,
		PatternText: "Vendors must provide audit logs",
		PatternNorm: "vendors must provide audit logs",
		Modality:    corpus.ModalityMust,
		Topic:       "auditing",
		Confidence:  0.9,
	}}, nil
}

type fakeVector struct{}

func (fakeVector) AddDocuments(_ context.Context, docs []vectorstore.Document) ([]string, error) {
	ids := make([]string, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID
	}
	return ids, nil
}

func (fakeVector) Search(context.Context, string, int, map[string]string) ([]vectorstore.SearchResult, error) {
	return nil, nil
}

func (fakeVector) DeleteDocuments(context.Context, []string) error { return nil }
func (fakeVector) Count(context.Context) (int, error)              { return 0, nil }
func (fakeVector) Close() error                                    { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()

	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	engine, err := cluster.NewEngine(fakeEmbedder{}, cfg.Clustering.SimilarityThreshold, nil)
	require.NoError(t, err)
	agg, err := playbook.NewAggregator(cfg.Playbook, nil)
	require.NoError(t, err)

	idx := lexical.NewIndex()
	p, err := pipeline.New(pipeline.Deps{
		Store:      st,
		Detector:   detect.New(nil),
		Extractor:  fakeExtractor{},
		Cluster:    engine,
		Aggregator: agg,
		Lexical:    idx,
		Vector:     fakeVector{},
	})
	require.NoError(t, err)

	scorer, err := score.NewScorer(cfg.Score, fakeEmbedder{}, nil)
	require.NoError(t, err)
	router, err := qa.NewRouter(st, idx, fakeVector{}, cfg.QA, nil)
	require.NoError(t, err)

	srv, err := NewServer(Deps{
		Pipeline: p,
		Scorer:   scorer,
		Router:   router,
		Store:    st,
		Config:   cfg.Server,
	})
	require.NoError(t, err)
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set(echoHeaderContentType, "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

const echoHeaderContentType = "Content-Type"

func seedCorpus(t *testing.T, srv *Server) {
	t.Helper()
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/ingest", IngestRequest{
		Documents: []corpus.Document{
			{DocID: "d-1", CompanyID: "acme", DocType: "proposal", Name: "Proposal A"},
			{DocID: "d-2", CompanyID: "acme", DocType: "proposal", Name: "Proposal B"},
		},
		Chunks: []corpus.Chunk{
			{ChunkID: "h-1", DocID: "d-1", CompanyID: "acme", ChunkType: corpus.ChunkHeading, Text: "Scope"},
			{ChunkID: "h-2", DocID: "d-2", CompanyID: "acme", ChunkType: corpus.ChunkHeading, Text: "Scope"},
			{ChunkID: "c-1", DocID: "d-1", CompanyID: "acme", ChunkType: corpus.ChunkParagraph,
				Text: "Vendors must provide audit logs for every deployment."},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestServer_Health(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_Metrics(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "playbookd_")
}

func TestServer_FullLifecycle(t *testing.T) {
	srv := newTestServer(t)
	seedCorpus(t, srv)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/extract", ExtractRequest{
		CompanyID:    "acme",
		PatternTypes: []corpus.PatternType{corpus.PatternRequirement},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report pipeline.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 1, report.TotalPatterns())

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/cluster", ExtractRequest{
		CompanyID:    "acme",
		PatternTypes: []corpus.PatternType{corpus.PatternRequirement},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var clustered ClusterResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &clustered))
	assert.Equal(t, 1, clustered.Families[corpus.PatternRequirement])

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/playbooks", AggregateRequest{
		CompanyID: "acme", DocType: "proposal",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var pb corpus.Playbook
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pb))
	assert.Contains(t, pb.RequiredSections, "Scope")

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/playbooks/acme/proposal", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/score", ScoreRequest{
		CompanyID: "acme",
		DocType:   "proposal",
		Draft: []corpus.Chunk{
			{ChunkID: "draft-1", ChunkType: corpus.ChunkHeading, Text: "Scope"},
			{ChunkID: "draft-2", ChunkType: corpus.ChunkParagraph, StructurePath: []string{"Scope"},
				Text: "Vendors must provide audit logs within 30 days of deployment."},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var scored score.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &scored))
	assert.GreaterOrEqual(t, scored.Scores.Overall, 0.0)
	assert.LessOrEqual(t, scored.Scores.Overall, 1.0)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/ask", qa.Request{
		CompanyID: "acme", Question: "How many requirements were extracted?",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var answer qa.Answer
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &answer))
	assert.Equal(t, qa.KindComparative, answer.Kind)
}

func TestServer_ErrorMapping(t *testing.T) {
	srv := newTestServer(t)

	// Unknown playbook scope.
	rec := doJSON(t, srv, http.MethodGet, "/api/v1/playbooks/nobody/proposal", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Aggregating an empty corpus.
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/playbooks", AggregateRequest{
		CompanyID: "nobody", DocType: "proposal",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// Scoring without a playbook.
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/score", ScoreRequest{
		CompanyID: "nobody", DocType: "proposal",
		Draft: []corpus.Chunk{{ChunkID: "c", Text: "x"}},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_BadRequests(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/extract", bytes.NewReader([]byte("{not json")))
	req.Header.Set(echoHeaderContentType, "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/extract", ExtractRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/ingest", IngestRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/score", ScoreRequest{CompanyID: "acme", DocType: "proposal"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/ask", qa.Request{Question: "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
