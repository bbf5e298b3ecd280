// Package config provides configuration loading for playbookd.
//
// Configuration is loaded from a YAML file, then overridden by
// environment variables, with hardcoded defaults underneath. Thresholds
// here are the single source of truth for the extraction, clustering,
// aggregation and scoring stages.
package config

import (
	"fmt"
	"math"
	"time"
)

// Config holds the complete playbookd configuration.
type Config struct {
	Generation Generation `koanf:"generation"`
	Embedding  Embedding  `koanf:"embedding"`
	Store      Store      `koanf:"store"`
	Vector     Vector     `koanf:"vector"`
	Extraction Extraction `koanf:"extraction"`
	Clustering Clustering `koanf:"clustering"`
	Playbook   Playbook   `koanf:"playbook"`
	Score      Score      `koanf:"score"`
	QA         QA         `koanf:"qa"`
	Server     Server     `koanf:"server"`
	Logging    Logging    `koanf:"logging"`
}

// Generation holds text-generation capability settings.
type Generation struct {
	// Provider is "ollama" or "openai".
	Provider   string   `koanf:"provider"`
	BaseURL    string   `koanf:"base_url"`
	Model      string   `koanf:"model"`
	APIKey     Secret   `koanf:"api_key"`
	Timeout    Duration `koanf:"timeout"`
	MaxRetries int      `koanf:"max_retries"`
}

// Embedding holds embedding capability settings.
type Embedding struct {
	BaseURL   string `koanf:"base_url"`
	Model     string `koanf:"model"`
	Dimension int    `koanf:"dimension"`
}

// Store holds relational store settings.
type Store struct {
	Path string `koanf:"path"`
}

// Vector holds vector store settings.
type Vector struct {
	// Provider is "chromem" (embedded, default) or "qdrant".
	Provider   string `koanf:"provider"`
	Path       string `koanf:"path"`
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	Collection string `koanf:"collection"`
}

// Extraction holds structured-extractor settings.
type Extraction struct {
	ConfidenceThreshold float64  `koanf:"confidence_threshold"`
	Workers             int      `koanf:"workers"`
	Keywords            Keywords `koanf:"keywords"`
}

// Keywords holds per-pattern-type detector keyword overrides.
// Empty lists fall back to the built-in defaults.
type Keywords struct {
	Requirement []string `koanf:"requirement"`
	Success     []string `koanf:"success_point"`
	Failure     []string `koanf:"failure_point"`
	Risk        []string `koanf:"risk"`
	Constraint  []string `koanf:"constraint"`
}

// Clustering holds family clustering settings.
type Clustering struct {
	SimilarityThreshold float64 `koanf:"similarity_threshold"`
}

// Playbook holds aggregation settings.
type Playbook struct {
	RequiredSectionThreshold float64 `koanf:"required_section_threshold"`
	OptionalSectionThreshold float64 `koanf:"optional_section_threshold"`
	TopFamiliesPerTopic      int     `koanf:"top_families_per_topic"`
}

// Score holds draft scoring weights. Weights must sum to 1.
type Score struct {
	StructureWeight   float64 `koanf:"structure_weight"`
	RequirementWeight float64 `koanf:"requirement_weight"`
	TerminologyWeight float64 `koanf:"terminology_weight"`
	ConsistencyWeight float64 `koanf:"consistency_weight"`
	SpecificityWeight float64 `koanf:"specificity_weight"`
	CoverageThreshold float64 `koanf:"coverage_threshold"`
}

// QA holds hybrid retrieval settings.
type QA struct {
	LexicalTopK int `koanf:"lexical_top_k"`
	VectorTopK  int `koanf:"vector_top_k"`
	HybridTopK  int `koanf:"hybrid_top_k"`
}

// Server holds HTTP server settings.
type Server struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// Logging holds logger settings.
type Logging struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Generation: Generation{
			Provider:   "ollama",
			BaseURL:    "http://localhost:11434",
			Model:      "qwen2.5:7b-instruct",
			Timeout:    Duration(60 * time.Second),
			MaxRetries: 1,
		},
		Embedding: Embedding{
			BaseURL:   "http://localhost:11434",
			Model:     "nomic-embed-text",
			Dimension: 768,
		},
		Store: Store{
			Path: "playbookd.db",
		},
		Vector: Vector{
			Provider:   "chromem",
			Path:       ".playbookd/vectorstore",
			Host:       "localhost",
			Port:       6334,
			Collection: "playbookd_chunks",
		},
		Extraction: Extraction{
			ConfidenceThreshold: 0.7,
			Workers:             4,
		},
		Clustering: Clustering{
			SimilarityThreshold: 0.85,
		},
		Playbook: Playbook{
			RequiredSectionThreshold: 0.8,
			OptionalSectionThreshold: 0.3,
			TopFamiliesPerTopic:      10,
		},
		Score: Score{
			StructureWeight:   0.3,
			RequirementWeight: 0.3,
			TerminologyWeight: 0.15,
			ConsistencyWeight: 0.1,
			SpecificityWeight: 0.15,
			CoverageThreshold: 0.85,
		},
		QA: QA{
			LexicalTopK: 50,
			VectorTopK:  50,
			HybridTopK:  20,
		},
		Server: Server{
			Host:            "localhost",
			Port:            8930,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Extraction.ConfidenceThreshold < 0 || c.Extraction.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be in [0,1], got %v", c.Extraction.ConfidenceThreshold)
	}
	if c.Clustering.SimilarityThreshold < 0 || c.Clustering.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity threshold must be in [0,1], got %v", c.Clustering.SimilarityThreshold)
	}
	if c.Playbook.OptionalSectionThreshold > c.Playbook.RequiredSectionThreshold {
		return fmt.Errorf("optional section threshold %v exceeds required threshold %v",
			c.Playbook.OptionalSectionThreshold, c.Playbook.RequiredSectionThreshold)
	}
	if c.Extraction.Workers < 1 {
		return fmt.Errorf("extraction workers must be >= 1, got %d", c.Extraction.Workers)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}

	sum := c.Score.StructureWeight + c.Score.RequirementWeight +
		c.Score.TerminologyWeight + c.Score.ConsistencyWeight + c.Score.SpecificityWeight
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("score weights must sum to 1, got %v", sum)
	}
	for _, w := range []float64{
		c.Score.StructureWeight, c.Score.RequirementWeight,
		c.Score.TerminologyWeight, c.Score.ConsistencyWeight, c.Score.SpecificityWeight,
	} {
		if w < 0 {
			return fmt.Errorf("score weights must be non-negative, got %v", w)
		}
	}
	return nil
}
