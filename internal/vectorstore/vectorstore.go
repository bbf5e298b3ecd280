// Package vectorstore defines the vector storage contract and its
// implementations: an embedded chromem-go store (default) and an
// external Qdrant store behind the same interface.
package vectorstore

import (
	"context"
	"errors"
)

// Sentinel errors for vector store operations.
var (
	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyDocuments indicates empty or nil documents.
	ErrEmptyDocuments = errors.New("empty or nil documents")

	// ErrConnectionFailed indicates the external store is unreachable.
	ErrConnectionFailed = errors.New("failed to connect to vector store")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("failed to generate embeddings")
)

// Document is a text payload to be embedded and stored.
//
// Metadata carries the filterable citation fields: company_id, doc_id,
// chunk_id and kind ("chunk" or "pattern").
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// SearchResult is one similarity search hit.
type SearchResult struct {
	ID       string
	Content  string
	Score    float32
	Metadata map[string]string
}

// Embedder generates vector embeddings from text.
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts, one per input.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Store is the interface for vector storage operations.
//
// Implementations embed document content on write and perform cosine
// similarity search on read. Filters match document metadata exactly;
// only documents matching all filter conditions are returned.
type Store interface {
	// AddDocuments embeds and stores documents, returning their IDs.
	AddDocuments(ctx context.Context, docs []Document) ([]string, error)

	// Search returns up to k documents similar to query, highest score
	// first, restricted to documents matching filters (nil for none).
	Search(ctx context.Context, query string, k int, filters map[string]string) ([]SearchResult, error)

	// DeleteDocuments removes documents by ID.
	DeleteDocuments(ctx context.Context, ids []string) error

	// Count returns the number of stored documents.
	Count(ctx context.Context) (int, error)

	// Close releases store resources.
	Close() error
}
