package corpus

import (
	"time"

	"github.com/google/uuid"
)

// ChunkType classifies the shape of a document fragment.
type ChunkType string

const (
	ChunkHeading    ChunkType = "heading"
	ChunkParagraph  ChunkType = "paragraph"
	ChunkTableRow   ChunkType = "table_row"
	ChunkSheetRange ChunkType = "sheet_range"
	ChunkPageBlock  ChunkType = "page_block"
)

// PatternType classifies an extracted pattern.
type PatternType string

const (
	PatternRequirement PatternType = "requirement"
	PatternSuccess     PatternType = "success_point"
	PatternFailure     PatternType = "failure_point"
	PatternRisk        PatternType = "risk"
	PatternConstraint  PatternType = "constraint"
)

// PatternTypes lists all pattern types in canonical order.
func PatternTypes() []PatternType {
	return []PatternType{
		PatternRequirement,
		PatternSuccess,
		PatternFailure,
		PatternRisk,
		PatternConstraint,
	}
}

// Valid reports whether t is a known pattern type.
func (t PatternType) Valid() bool {
	switch t {
	case PatternRequirement, PatternSuccess, PatternFailure, PatternRisk, PatternConstraint:
		return true
	}
	return false
}

// Severity grades risks and failure points.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Modality grades requirement strength.
type Modality string

const (
	ModalityMust   Modality = "must"
	ModalityShould Modality = "should"
	ModalityMay    Modality = "may"
)

// Document is an ingested source document. Chunks reference it by ID;
// playbooks aggregate over all documents of one (company, doc type).
type Document struct {
	DocID      string    `json:"doc_id"`
	CompanyID  string    `json:"company_id"`
	DocType    string    `json:"doc_type"`
	Name       string    `json:"name,omitempty"`
	IngestedAt time.Time `json:"ingested_at,omitempty"`
}

// Chunk is the canonical representation of a document fragment.
//
// Locator is an opaque positional citation (page/sheet/cell/section)
// produced by the parsers; the engine passes it through verbatim so that
// every pattern and family evidence reference stays independently
// verifiable.
type Chunk struct {
	ChunkID       string     `json:"chunk_id"`
	DocID         string     `json:"doc_id"`
	CompanyID     string     `json:"company_id"`
	ChunkType     ChunkType  `json:"chunk_type"`
	Text          string     `json:"text"`
	StructurePath []string   `json:"structure_path,omitempty"`
	Locator       string     `json:"locator,omitempty"`
	RawTable      [][]string `json:"raw_table,omitempty"`
}

// TableHeaders returns the first row of RawTable, or nil for non-table
// chunks. The candidate detector matches keywords against these in
// addition to the chunk text.
func (c *Chunk) TableHeaders() []string {
	if len(c.RawTable) == 0 {
		return nil
	}
	return c.RawTable[0]
}

// Pattern is a typed, confidence-scored statement extracted from a chunk.
type Pattern struct {
	PatternID   string      `json:"pattern_id"`
	ChunkID     string      `json:"chunk_id"`
	PatternType PatternType `json:"pattern_type"`
	PatternText string      `json:"pattern_text"`
	PatternNorm string      `json:"pattern_norm"`
	Category    string      `json:"category,omitempty"`
	Severity    Severity    `json:"severity,omitempty"` // risks/failures only
	Modality    Modality    `json:"modality,omitempty"` // requirements only
	Topic       string      `json:"topic,omitempty"`
	Entities    []string    `json:"entities,omitempty"`
	Confidence  float64     `json:"confidence"`
	ExtractedAt time.Time   `json:"extracted_at,omitempty"`
	Retired     bool        `json:"retired,omitempty"`
}

// Family is a cluster of semantically equivalent patterns of one type,
// scoped to a company. CanonicalText is the medoid member's text.
type Family struct {
	FamilyID         string      `json:"family_id"`
	PatternType      PatternType `json:"pattern_type"`
	CompanyID        string      `json:"company_id"`
	CanonicalText    string      `json:"canonical_text"`
	Topic            string      `json:"topic,omitempty"`
	MemberPatternIDs []string    `json:"member_pattern_ids"`
	Embedding        []float32   `json:"embedding,omitempty"`
	DocumentCount    int         `json:"document_count"`
	MentionCount     int         `json:"mention_count"`
}

// OutlineSection is one entry in a playbook outline.
type OutlineSection struct {
	Title     string  `json:"title"`
	Frequency float64 `json:"frequency"`
}

// GlossaryEntry maps a raw surface form to the preferred term.
type GlossaryEntry struct {
	RawTerm       string `json:"raw_term"`
	PreferredTerm string `json:"preferred_term"`
	Frequency     int    `json:"frequency"`
}

// Playbook is the aggregated structural and terminological profile of a
// company's documents of one type. Keyed by (CompanyID, DocType) and
// replaced wholesale on every aggregation run.
type Playbook struct {
	CompanyID          string                `json:"company_id"`
	DocType            string                `json:"doc_type"`
	Outline            []OutlineSection      `json:"outline"`
	RequiredSections   []string              `json:"required_sections"`
	OptionalSections   []string              `json:"optional_sections"`
	TopFamiliesByTopic map[string][]Family   `json:"top_families_by_topic"`
	Glossary           []GlossaryEntry       `json:"glossary"`
	GeneratedAt        time.Time             `json:"generated_at"`
}

// NewID returns a fresh entity identifier.
func NewID() string {
	return uuid.NewString()
}
