package extraction

import "errors"

var (
	// ErrValidation indicates malformed input or a model response that
	// failed schema validation after the corrective retry.
	ErrValidation = errors.New("validation failed")

	// ErrServiceUnavailable indicates the generation service could not
	// be reached or kept failing after retries. Callers keep the chunk
	// pending and retry on a later run.
	ErrServiceUnavailable = errors.New("generation service unavailable")
)
