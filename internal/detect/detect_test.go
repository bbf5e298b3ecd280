package detect

import (
	"testing"

	"github.com/fyrsmithlabs/playbookd/internal/corpus"
	"github.com/stretchr/testify/assert"
)

func paragraph(text string) *corpus.Chunk {
	return &corpus.Chunk{ChunkID: "c", ChunkType: corpus.ChunkParagraph, Text: text}
}

func TestDetector_Defaults(t *testing.T) {
	d := New(nil)

	tests := []struct {
		name string
		text string
		pt   corpus.PatternType
		want bool
	}{
		{"requirement modal", "Vendors must provide audit logs.", corpus.PatternRequirement, true},
		{"requirement absent", "It was a sunny afternoon.", corpus.PatternRequirement, false},
		{"risk keyword", "There is a risk of data loss.", corpus.PatternRisk, true},
		{"constraint keyword", "Spending is limited to the approved budget.", corpus.PatternConstraint, true},
		{"success keyword", "The migration was completed ahead of schedule.", corpus.PatternSuccess, true},
		{"failure keyword", "The rollout failed in the first week.", corpus.PatternFailure, true},
		{"word boundary", "Mustard is served with lunch.", corpus.PatternRequirement, false},
		{"case insensitive", "ACCESS MUST BE REVIEWED.", corpus.PatternRequirement, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.Candidate(paragraph(tt.text), tt.pt))
		})
	}
}

func TestDetector_TableHeaders(t *testing.T) {
	d := New(nil)

	chunk := &corpus.Chunk{
		ChunkID:   "c",
		ChunkType: corpus.ChunkTableRow,
		Text:      "REQ-1 Encrypt data",
		RawTable: [][]string{
			{"ID", "Description", "Mandatory"},
			{"REQ-1", "Encrypt data", "Yes"},
		},
	}
	assert.True(t, d.Candidate(chunk, corpus.PatternRequirement))

	// Same content in a paragraph chunk ignores the table headers.
	chunk.ChunkType = corpus.ChunkParagraph
	assert.False(t, d.Candidate(chunk, corpus.PatternRequirement))
}

func TestDetector_Overrides(t *testing.T) {
	d := New(map[corpus.PatternType][]string{
		corpus.PatternRequirement: {"widget"},
	})

	assert.True(t, d.Candidate(paragraph("Each widget ships monthly."), corpus.PatternRequirement))
	assert.False(t, d.Candidate(paragraph("Vendors must provide logs."), corpus.PatternRequirement))

	// Types without overrides keep the defaults.
	assert.True(t, d.Candidate(paragraph("There is a risk of churn."), corpus.PatternRisk))
}
