package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEmbedServer(t *testing.T, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		require.Equal(t, "/api/embed", r.URL.Path)

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := embedResponse{Embeddings: make([][]float32, len(req.Input))}
		for i, text := range req.Input {
			resp.Embeddings[i] = []float32{float32(len(text)), 0.5, 1.0}
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestNewService_Validation(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{"missing base URL", Config{Model: "nomic-embed-text"}},
		{"missing model", Config{BaseURL: "http://localhost:11434"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewService(tt.config)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestService_EmbedDocuments(t *testing.T) {
	server := newEmbedServer(t, nil)
	defer server.Close()

	svc, err := NewService(Config{BaseURL: server.URL, Model: "nomic-embed-text", Dimension: 3})
	require.NoError(t, err)

	vectors, err := svc.EmbedDocuments(context.Background(), []string{"access review", "backup policy"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{13, 0.5, 1.0}, vectors[0])
	assert.Equal(t, 3, svc.Dimension())
}

func TestService_EmbedDocuments_Empty(t *testing.T) {
	svc, err := NewService(Config{BaseURL: "http://localhost:11434", Model: "nomic-embed-text"})
	require.NoError(t, err)

	_, err = svc.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestService_EmbedDocuments_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	svc, err := NewService(Config{BaseURL: server.URL, Model: "missing"})
	require.NoError(t, err)

	_, err = svc.EmbedDocuments(context.Background(), []string{"text"})
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Contains(t, err.Error(), "404")
}

func TestService_EmbedDocuments_CountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{1}}})
	}))
	defer server.Close()

	svc, err := NewService(Config{BaseURL: server.URL, Model: "nomic-embed-text"})
	require.NoError(t, err)

	_, err = svc.EmbedDocuments(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestCache_DeduplicatesCalls(t *testing.T) {
	var calls atomic.Int64
	server := newEmbedServer(t, &calls)
	defer server.Close()

	svc, err := NewService(Config{BaseURL: server.URL, Model: "nomic-embed-text"})
	require.NoError(t, err)
	cache := NewCache(svc)

	ctx := context.Background()
	first, err := cache.EmbedDocuments(ctx, []string{"access must be reviewed every NUM days", "data must be encrypted"})
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, int64(1), calls.Load())

	// Second call with one repeat and one new text fetches only the new one.
	second, err := cache.EmbedDocuments(ctx, []string{"access must be reviewed every NUM days", "backups run daily"})
	require.NoError(t, err)
	assert.Equal(t, first[0], second[0])
	assert.Equal(t, int64(2), calls.Load())
	assert.Equal(t, 3, cache.Len())

	// Fully cached batch makes no upstream call.
	_, err = cache.EmbedDocuments(ctx, []string{"data must be encrypted", "backups run daily"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

func TestCache_EmbedQuery(t *testing.T) {
	var calls atomic.Int64
	server := newEmbedServer(t, &calls)
	defer server.Close()

	svc, err := NewService(Config{BaseURL: server.URL, Model: "nomic-embed-text"})
	require.NoError(t, err)
	cache := NewCache(svc)

	v1, err := cache.EmbedQuery(context.Background(), "incident response")
	require.NoError(t, err)
	v2, err := cache.EmbedQuery(context.Background(), "incident response")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Equal(t, int64(1), calls.Load())
}
