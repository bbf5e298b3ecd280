package vectorstore

import (
	"fmt"

	"github.com/fyrsmithlabs/playbookd/internal/config"
	"go.uber.org/zap"
)

// NewStore creates a Store based on the configuration.
//
// The provider field selects the implementation:
//   - "chromem" (default): embedded ChromemStore, no external service
//   - "qdrant": external Qdrant server over gRPC
func NewStore(cfg config.Vector, dimension int, embedder Embedder, logger *zap.Logger) (Store, error) {
	switch cfg.Provider {
	case "chromem", "":
		return NewChromemStore(ChromemConfig{
			Path:       cfg.Path,
			Collection: cfg.Collection,
		}, embedder, logger)

	case "qdrant":
		return NewQdrantStore(QdrantConfig{
			Host:       cfg.Host,
			Port:       cfg.Port,
			Collection: cfg.Collection,
			VectorSize: dimension,
		}, embedder, logger)

	default:
		return nil, fmt.Errorf("%w: unsupported provider %q (supported: chromem, qdrant)",
			ErrInvalidConfig, cfg.Provider)
	}
}
