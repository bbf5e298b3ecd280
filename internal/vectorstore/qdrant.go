package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// QdrantConfig holds configuration for the external Qdrant store.
type QdrantConfig struct {
	Host       string
	Port       int
	Collection string
	VectorSize int
	UseTLS     bool

	// MaxMessageSize bounds gRPC message sizes in bytes.
	MaxMessageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "playbookd_chunks"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 768
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 32 * 1024 * 1024
	}
}

// QdrantStore implements Store against an external Qdrant instance over
// gRPC. Used when the corpus outgrows the embedded store.
type QdrantStore struct {
	client   *qdrant.Client
	embedder Embedder
	config   QdrantConfig
	logger   *zap.Logger
}

// NewQdrantStore creates a QdrantStore and ensures its collection exists.
func NewQdrantStore(config QdrantConfig, embedder Embedder, logger *zap.Logger) (*QdrantStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	s := &QdrantStore{
		client:   client,
		embedder: embedder,
		config:   config,
		logger:   logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("qdrant store initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("collection", config.Collection),
	)

	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.config.Collection)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.config.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.config.VectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.config.Collection, err)
	}
	return nil
}

// AddDocuments embeds and upserts documents.
func (s *QdrantStore) AddDocuments(ctx context.Context, docs []Document) ([]string, error) {
	if len(docs) == 0 {
		return nil, ErrEmptyDocuments
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

	embeddings, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	points := make([]*qdrant.PointStruct, len(docs))
	for i, doc := range docs {
		payload := map[string]*qdrant.Value{
			"content": {Kind: &qdrant.Value_StringValue{StringValue: doc.Content}},
			"id":      {Kind: &qdrant.Value_StringValue{StringValue: doc.ID}},
		}
		for k, v := range doc.Metadata {
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(doc.ID),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: payload,
		}
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.config.Collection,
		Points:         points,
	})
	if err != nil {
		return nil, fmt.Errorf("upserting points: %w", err)
	}

	return ids, nil
}

// Search performs filtered similarity search.
func (s *QdrantStore) Search(ctx context.Context, query string, k int, filters map[string]string) ([]SearchResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	queryVector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	var filter *qdrant.Filter
	if len(filters) > 0 {
		conditions := make([]*qdrant.Condition, 0, len(filters))
		for key, value := range filters {
			conditions = append(conditions, &qdrant.Condition{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key: key,
						Match: &qdrant.Match{
							MatchValue: &qdrant.Match_Keyword{Keyword: value},
						},
					},
				},
			})
		}
		filter = &qdrant.Filter{Must: conditions}
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.config.Collection,
		Query:          qdrant.NewQuery(queryVector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         filter,
	})
	if err != nil {
		return nil, fmt.Errorf("searching collection %s: %w", s.config.Collection, err)
	}

	results := make([]SearchResult, len(points))
	for i, point := range points {
		r := SearchResult{
			Score:    point.Score,
			Metadata: make(map[string]string),
		}
		for key, v := range point.Payload {
			sv, ok := v.Kind.(*qdrant.Value_StringValue)
			if !ok {
				continue
			}
			switch key {
			case "content":
				r.Content = sv.StringValue
			case "id":
				r.ID = sv.StringValue
			default:
				r.Metadata[key] = sv.StringValue
			}
		}
		results[i] = r
	}
	return results, nil
}

// DeleteDocuments removes documents by ID.
func (s *QdrantStore) DeleteDocuments(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.config.Collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{{
						ConditionOneOf: &qdrant.Condition_Field{
							Field: &qdrant.FieldCondition{
								Key: "id",
								Match: &qdrant.Match{
									MatchValue: &qdrant.Match_Keywords{
										Keywords: &qdrant.RepeatedStrings{Strings: ids},
									},
								},
							},
						},
					}},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("deleting points: %w", err)
	}
	return nil
}

// Count returns the number of stored documents.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	info, err := s.client.GetCollectionInfo(ctx, s.config.Collection)
	if err != nil {
		return 0, fmt.Errorf("getting collection info: %w", err)
	}
	if info.PointsCount == nil {
		return 0, nil
	}
	return int(*info.PointsCount), nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

var _ Store = (*QdrantStore)(nil)
