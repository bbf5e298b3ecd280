package extraction

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/playbookd/internal/config"
)

const (
	defaultRateLimit   = 5.0
	defaultBurst       = 1
	defaultBaseBackoff = 500 // milliseconds
)

// Generator produces a model completion for a system/user prompt pair.
// Implementations must return the raw completion text; the extractor
// owns parsing and validation.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// NewGenerator creates a Generator from generation configuration.
func NewGenerator(cfg config.Generation) (Generator, error) {
	switch cfg.Provider {
	case "ollama", "":
		return newOllamaGenerator(cfg)
	case "openai":
		return newOpenAIGenerator(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported generation provider %q (supported: ollama, openai)",
			ErrValidation, cfg.Provider)
	}
}

// retryableError marks transient failures worth retrying with backoff.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func isRetryableError(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
