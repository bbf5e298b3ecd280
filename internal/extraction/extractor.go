// Package extraction turns candidate chunks into typed, validated,
// confidence-scored patterns using a structured-output language model.
//
// The extractor enforces a strict response schema. A response that fails
// validation gets exactly one corrective retry carrying the validation
// error; if the retry also fails, the chunk is skipped and logged rather
// than poisoning the run. Transport failures surface as
// ErrServiceUnavailable so the caller can keep the chunk pending.
package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/playbookd/internal/corpus"
	"github.com/fyrsmithlabs/playbookd/internal/normalize"
	"go.uber.org/zap"
)

// Extractor extracts patterns of one type at a time from chunks.
type Extractor struct {
	generator           Generator
	confidenceThreshold float64
	logger              *zap.Logger
	now                 func() time.Time
}

// NewExtractor creates an extractor. Patterns scored below
// confidenceThreshold are discarded.
func NewExtractor(generator Generator, confidenceThreshold float64, logger *zap.Logger) (*Extractor, error) {
	if generator == nil {
		return nil, fmt.Errorf("%w: generator is required", ErrValidation)
	}
	if confidenceThreshold < 0 || confidenceThreshold > 1 {
		return nil, fmt.Errorf("%w: confidence threshold must be in [0,1], got %v", ErrValidation, confidenceThreshold)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		generator:           generator,
		confidenceThreshold: confidenceThreshold,
		logger:              logger,
		now:                 time.Now,
	}, nil
}

// rawPattern is one entry of the model's JSON response.
type rawPattern struct {
	PatternText string   `json:"pattern_text"`
	Category    string   `json:"category"`
	Severity    string   `json:"severity"`
	Modality    string   `json:"modality"`
	Topic       string   `json:"topic"`
	Entities    []string `json:"entities"`
	Confidence  float64  `json:"confidence"`
}

type extractionResponse struct {
	Patterns []rawPattern `json:"patterns"`
}

// Extract runs structured extraction of one pattern type on a chunk.
//
// An empty result with a nil error means the chunk held no pattern of
// this type above the confidence threshold. A response that still fails
// validation after the corrective retry returns ErrValidation so the
// caller can record the chunk as skipped; the run continues.
func (e *Extractor) Extract(ctx context.Context, chunk *corpus.Chunk, pt corpus.PatternType) ([]corpus.Pattern, error) {
	if chunk == nil || chunk.Text == "" {
		return nil, fmt.Errorf("%w: chunk text is empty", ErrValidation)
	}
	if !pt.Valid() {
		return nil, fmt.Errorf("%w: unknown pattern type %q", ErrValidation, pt)
	}

	start := time.Now()
	system := systemPrompt(pt)

	response, err := e.generator.Generate(ctx, system, userPrompt(chunk))
	if err != nil {
		recordExtraction(string(pt), "error", time.Since(start))
		return nil, err
	}

	raws, validationErr := parseAndValidate(response, pt)
	if validationErr != nil {
		// One corrective retry echoing the validation error back.
		response, err = e.generator.Generate(ctx, system, correctivePrompt(chunk, response, validationErr))
		if err != nil {
			recordExtraction(string(pt), "error", time.Since(start))
			return nil, err
		}
		raws, validationErr = parseAndValidate(response, pt)
		if validationErr != nil {
			e.logger.Warn("skipping chunk after failed corrective retry",
				zap.String("chunk_id", chunk.ChunkID),
				zap.String("pattern_type", string(pt)),
				zap.Error(validationErr),
			)
			recordExtraction(string(pt), "skipped", time.Since(start))
			return nil, validationErr
		}
	}

	patterns := make([]corpus.Pattern, 0, len(raws))
	for _, raw := range raws {
		if raw.Confidence < e.confidenceThreshold {
			recordDiscarded(string(pt))
			continue
		}
		patterns = append(patterns, corpus.Pattern{
			PatternID:   corpus.NewID(),
			ChunkID:     chunk.ChunkID,
			PatternType: pt,
			PatternText: raw.PatternText,
			PatternNorm: normalize.Key(raw.PatternText),
			Category:    raw.Category,
			Severity:    corpus.Severity(raw.Severity),
			Modality:    corpus.Modality(raw.Modality),
			Topic:       raw.Topic,
			Entities:    raw.Entities,
			Confidence:  raw.Confidence,
			ExtractedAt: e.now().UTC(),
		})
	}

	recordExtraction(string(pt), "success", time.Since(start))
	recordPatterns(string(pt), len(patterns))
	return patterns, nil
}

// parseAndValidate decodes the model response and checks every pattern
// against the schema for the given type.
func parseAndValidate(response string, pt corpus.PatternType) ([]rawPattern, error) {
	var decoded extractionResponse
	dec := json.NewDecoder(strings.NewReader(response))
	if err := dec.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: response is not valid JSON: %v", ErrValidation, err)
	}

	for i, raw := range decoded.Patterns {
		if err := validatePattern(raw, pt); err != nil {
			return nil, fmt.Errorf("%w: pattern %d: %v", ErrValidation, i, err)
		}
	}
	return decoded.Patterns, nil
}

func validatePattern(raw rawPattern, pt corpus.PatternType) error {
	if strings.TrimSpace(raw.PatternText) == "" {
		return errors.New("pattern_text is empty")
	}
	if raw.Confidence < 0 || raw.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0,1]", raw.Confidence)
	}

	switch pt {
	case corpus.PatternRequirement:
		switch corpus.Modality(raw.Modality) {
		case corpus.ModalityMust, corpus.ModalityShould, corpus.ModalityMay:
		default:
			return fmt.Errorf("modality %q is not one of must, should, may", raw.Modality)
		}
	case corpus.PatternRisk, corpus.PatternFailure:
		switch corpus.Severity(raw.Severity) {
		case corpus.SeverityHigh, corpus.SeverityMedium, corpus.SeverityLow:
		default:
			return fmt.Errorf("severity %q is not one of high, medium, low", raw.Severity)
		}
	}
	return nil
}
