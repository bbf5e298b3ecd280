package extraction

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/playbookd/internal/corpus"
)

// typeInstructions describes what to extract for each pattern type and
// which optional fields apply.
var typeInstructions = map[corpus.PatternType]string{
	corpus.PatternRequirement: `Extract explicit requirements: obligations, mandates, and permissions.
Each requirement must set "modality" to one of "must", "should" or "may"
reflecting the strength of the obligation in the text.`,

	corpus.PatternSuccess: `Extract success points: achieved outcomes, delivered results, and
demonstrated capabilities stated as facts.`,

	corpus.PatternFailure: `Extract failure points: problems, gaps, issues and shortcomings the
text reports as having occurred. Set "severity" to one of "high",
"medium" or "low".`,

	corpus.PatternRisk: `Extract risks: potential future problems, threats and exposures the
text anticipates. Set "severity" to one of "high", "medium" or "low".`,

	corpus.PatternConstraint: `Extract constraints: hard limits, dependencies, prerequisites and
boundaries on what can be done.`,
}

// systemPrompt builds the system prompt for a pattern type. The schema
// is stated inline so the model returns exactly the fields the
// validator checks.
func systemPrompt(pt corpus.PatternType) string {
	var b strings.Builder
	b.WriteString("You analyze business document fragments and extract structured patterns.\n\n")
	b.WriteString(typeInstructions[pt])
	b.WriteString("\n\nRespond with a single JSON object and nothing else:\n")
	b.WriteString(`{
  "patterns": [
    {
      "pattern_text": "verbatim or minimally trimmed statement from the fragment",
      "category": "short free-form category label",
      "topic": "short topic label such as access-control or backup",
      "entities": ["named systems, roles, standards or parties"],
      "confidence": 0.0`)
	switch pt {
	case corpus.PatternRequirement:
		b.WriteString(`,
      "modality": "must|should|may"`)
	case corpus.PatternRisk, corpus.PatternFailure:
		b.WriteString(`,
      "severity": "high|medium|low"`)
	}
	b.WriteString(`
    }
  ]
}`)
	b.WriteString("\n\nRules:\n")
	b.WriteString("- \"confidence\" is your certainty the statement is a genuine pattern of this type, between 0 and 1.\n")
	b.WriteString("- Only extract statements actually present in the fragment. Never invent content.\n")
	b.WriteString("- Return {\"patterns\": []} when the fragment contains no pattern of this type.\n")
	return b.String()
}

// userPrompt builds the user prompt carrying the chunk content.
func userPrompt(chunk *corpus.Chunk) string {
	var b strings.Builder
	if len(chunk.StructurePath) > 0 {
		fmt.Fprintf(&b, "Section: %s\n\n", strings.Join(chunk.StructurePath, " > "))
	}
	if len(chunk.RawTable) > 0 {
		b.WriteString("Table:\n")
		for _, row := range chunk.RawTable {
			b.WriteString(strings.Join(row, " | "))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("Fragment:\n")
	b.WriteString(chunk.Text)
	return b.String()
}

// correctivePrompt builds the retry prompt after a failed validation.
// The invalid response and the specific validation error are echoed back
// so the model can repair its own output.
func correctivePrompt(chunk *corpus.Chunk, invalid string, validationErr error) string {
	var b strings.Builder
	b.WriteString(userPrompt(chunk))
	b.WriteString("\n\nYour previous response was invalid.\n")
	fmt.Fprintf(&b, "Error: %v\n", validationErr)
	b.WriteString("Previous response:\n")
	b.WriteString(invalid)
	b.WriteString("\n\nReturn a corrected JSON object matching the schema exactly.")
	return b.String()
}
