package rag

import (
	"fmt"
	"strings"

	"doc-rag/internal/llm"
	"doc-rag/internal/retriever"
)

const systemPrompt = `You are a document analysis assistant that answers questions about uploaded documents.

Instructions:
1. Answer the question based ONLY on the document chunks provided.
2. If the chunks do not contain the answer, say: "I don't have enough information to answer this question based on the provided documents."
3. Do not make up information or use knowledge outside of the provided chunks.
4. When chunks conflict, acknowledge the conflict and present each position.
5. Cite the source document when you rely on a specific chunk.
6. Format the answer for readability with paragraphs or lists as appropriate.`

const (
	noContextNotice = "No relevant context was found in the indexed documents."
	omittedNotice   = "Relevant passages were found but did not fit in the context window."
)

// BuildPrompt renders the question and admitted hits, highest score first.
// dropped counts retrieved hits left out of the prompt.
func BuildPrompt(question string, hits []retriever.Hit, dropped int) llm.Prompt {
	var b strings.Builder
	b.WriteString("QUESTION: ")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\n\nCONTEXT FROM DOCUMENTS:\n")

	switch {
	case len(hits) == 0 && dropped > 0:
		b.WriteString(omittedNotice)
		b.WriteString("\n")
	case len(hits) == 0:
		b.WriteString(noContextNotice)
		b.WriteString("\n")
	}
	for i, h := range hits {
		fmt.Fprintf(&b, "\n[%d] Document: %s", i+1, h.Source())
		if p := h.Page(); p > 0 {
			fmt.Fprintf(&b, " (page %d)", p)
		}
		b.WriteString("\nContent: ")
		b.WriteString(h.Text)
		b.WriteString("\n")
	}
	b.WriteString("\nANSWER:")
	return llm.Prompt{System: systemPrompt, User: b.String()}
}

// fitBudget admits hits in order while their combined text stays within
// budget characters. The first hit that does not fit ends admission, except
// that a top hit longer than the whole budget is admitted cut to budget.
func fitBudget(hits []retriever.Hit, budget int) (admitted, dropped []retriever.Hit) {
	used := 0
	for i, h := range hits {
		runes := []rune(h.Text)
		if used+len(runes) <= budget {
			used += len(runes)
			continue
		}
		if i == 0 && budget > 0 {
			h.Text = string(runes[:budget])
			return []retriever.Hit{h}, hits[1:]
		}
		return hits[:i], hits[i:]
	}
	return hits, nil
}
