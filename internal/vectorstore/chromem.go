package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

// ChromemConfig holds configuration for the embedded chromem-go store.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	Path string

	// Collection is the collection name.
	Collection string

	// Compress enables gzip compression for stored data.
	Compress bool
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = ".playbookd/vectorstore"
	}
	if c.Collection == "" {
		c.Collection = "playbookd_chunks"
	}
}

// ChromemStore implements Store using chromem-go, an embeddable pure-Go
// vector database with persistence to gob files. No external service is
// required, which keeps the batch pipeline self-contained.
type ChromemStore struct {
	db       *chromem.DB
	embedder Embedder
	config   ChromemConfig
	logger   *zap.Logger
}

// NewChromemStore creates a ChromemStore with the given configuration.
func NewChromemStore(config ChromemConfig, embedder Embedder, logger *zap.Logger) (*ChromemStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()

	path, err := expandPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(path, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	logger.Info("chromem store initialized",
		zap.String("path", path),
		zap.String("collection", config.Collection),
	)

	return &ChromemStore{
		db:       db,
		embedder: embedder,
		config:   config,
		logger:   logger,
	}, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// embeddingFunc adapts the Embedder to chromem's per-text callback.
func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, text)
	}
}

func (s *ChromemStore) collection() (*chromem.Collection, error) {
	coll, err := s.db.GetOrCreateCollection(s.config.Collection, nil, s.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("getting collection %s: %w", s.config.Collection, err)
	}
	return coll, nil
}

// AddDocuments embeds and stores documents.
func (s *ChromemStore) AddDocuments(ctx context.Context, docs []Document) ([]string, error) {
	if len(docs) == 0 {
		return nil, ErrEmptyDocuments
	}

	coll, err := s.collection()
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(docs))
	texts := make([]string, len(docs))
	for i, doc := range docs {
		if doc.ID == "" {
			return nil, fmt.Errorf("document at index %d has no ID", i)
		}
		ids[i] = doc.ID
		texts[i] = doc.Content
	}

	// Batch embed up front; chromem then stores precomputed vectors.
	embeddings, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	chromemDocs := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		chromemDocs[i] = chromem.Document{
			ID:        doc.ID,
			Content:   doc.Content,
			Metadata:  doc.Metadata,
			Embedding: embeddings[i],
		}
	}

	if err := coll.AddDocuments(ctx, chromemDocs, 1); err != nil {
		return nil, fmt.Errorf("adding documents: %w", err)
	}

	s.logger.Debug("added documents to chromem",
		zap.String("collection", s.config.Collection),
		zap.Int("count", len(docs)),
	)

	return ids, nil
}

// Search performs filtered similarity search.
func (s *ChromemStore) Search(ctx context.Context, query string, k int, filters map[string]string) ([]SearchResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	coll := s.db.GetCollection(s.config.Collection, s.embeddingFunc())
	if coll == nil {
		return []SearchResult{}, nil
	}

	// chromem requires nResults <= document count.
	count := coll.Count()
	if count == 0 {
		return []SearchResult{}, nil
	}
	if k > count {
		k = count
	}

	results, err := coll.Query(ctx, query, k, filters, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", s.config.Collection, err)
	}

	out := make([]SearchResult, len(results))
	for i, r := range results {
		out[i] = SearchResult{
			ID:       r.ID,
			Content:  r.Content,
			Score:    r.Similarity,
			Metadata: r.Metadata,
		}
	}
	return out, nil
}

// DeleteDocuments removes documents by ID.
func (s *ChromemStore) DeleteDocuments(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	coll := s.db.GetCollection(s.config.Collection, s.embeddingFunc())
	if coll == nil {
		return ErrCollectionNotFound
	}
	if err := coll.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("deleting documents: %w", err)
	}
	return nil
}

// Count returns the number of stored documents.
func (s *ChromemStore) Count(ctx context.Context) (int, error) {
	coll := s.db.GetCollection(s.config.Collection, s.embeddingFunc())
	if coll == nil {
		return 0, nil
	}
	return coll.Count(), nil
}

// Close is a no-op: chromem persists on write.
func (s *ChromemStore) Close() error {
	return nil
}

var _ Store = (*ChromemStore)(nil)
