// Package extract implements the structured-extraction validator:
// the extraction prompt template, the validate-first-matching parse
// algorithm, and the one-shot repair round-trip.
package extract

import (
	"fmt"
	"strings"

	"github.com/wisbric/llmgate/pkg/schema"
)

const (
	delimOpen  = "<<<JSON>>>"
	delimClose = "<<<END>>>"
)

// BuildPrompt renders the extraction prompt: an instruction block
// forbidding markdown/commentary, the literal delimiter pair, a compact
// schema summary, and the input text.
func BuildPrompt(s *schema.Schema, text string) string {
	var b strings.Builder
	b.WriteString("Extract structured data from the input text below as a single JSON object.\n")
	b.WriteString("Respond with nothing but the JSON object: no markdown, no code fences, no commentary.\n")
	fmt.Fprintf(&b, "Wrap the object between the literal markers %s and %s.\n\n", delimOpen, delimClose)
	b.WriteString("Schema:\n")
	b.WriteString(s.Summary())
	b.WriteString("\n\nInput text:\n")
	b.WriteString(text)
	return b.String()
}

// BuildRepairPrompt renders the single repair round-trip prompt: the
// schema summary, the input text, the previous bad output, and a
// serialized error hint.
func BuildRepairPrompt(s *schema.Schema, text, badOutput, errorHint string) string {
	var b strings.Builder
	b.WriteString("The previous response did not satisfy the schema below. Produce a corrected JSON object only.\n")
	fmt.Fprintf(&b, "Wrap the object between the literal markers %s and %s.\n\n", delimOpen, delimClose)
	b.WriteString("Schema:\n")
	b.WriteString(s.Summary())
	b.WriteString("\n\nInput text:\n")
	b.WriteString(text)
	b.WriteString("\n\nPrevious response:\n")
	b.WriteString(badOutput)
	b.WriteString("\n\nError:\n")
	b.WriteString(errorHint)
	return b.String()
}
