package rag

import (
	"fmt"
	"strings"
)

const promptInstructions = `You are a question-answering assistant. Answer the question using ONLY the information in the CONTEXT section below.

Rules:
1. If the answer is not contained in the context, reply with exactly: ` + RefusalText + `
2. Do not use prior knowledge or make assumptions beyond the context.
3. Cite the numbered document you used for each fact, for example [DOCUMENT 1].
4. Keep the answer concise and factual.`

const emptyContext = "(no documents were provided)"

// BuildPrompt renders the grounded prompt. Sources are numbered from 1 in
// the given order, which is the order shown to the user.
func BuildPrompt(query string, sources []RankedResult) string {
	var sb strings.Builder

	sb.WriteString(promptInstructions)
	sb.WriteString("\n\nCONTEXT:\n")

	if len(sources) == 0 {
		sb.WriteString(emptyContext)
		sb.WriteString("\n")
	}

	for i, src := range sources {
		chunk := src.Chunk
		fmt.Fprintf(&sb, "\n[DOCUMENT %d]\n", i+1)
		sb.WriteString("Source: ")
		sb.WriteString(SourceLabel(src))
		sb.WriteString("\n")
		fmt.Fprintf(&sb, "ID: doc=%s, chunk=%d\n", chunk.DocumentID, chunk.Index)
		sb.WriteString("Content:\n")
		sb.WriteString(strings.TrimSpace(chunk.Text))
		sb.WriteString("\n")
	}

	sb.WriteString("\nQUESTION: ")
	sb.WriteString(strings.TrimSpace(query))
	sb.WriteString("\n\nAnswer:")

	return sb.String()
}

// SourceLabel is the document name, with the page when one is known.
func SourceLabel(src RankedResult) string {
	chunk := src.Chunk
	name := chunk.DocumentName
	if name == "" {
		name = chunk.DocumentID.String()
	}
	if page := chunk.Page(); page != "" {
		return fmt.Sprintf("%s (page %s)", name, page)
	}
	return name
}

// IsRefusal reports whether the model answered with the refusal text.
func IsRefusal(answer string) bool {
	return strings.TrimSpace(answer) == RefusalText
}
