package usecase

import (
	"fmt"
	"strings"

	"github.com/dmakarov/persona-chat/internal/core/domain"
)

const citationExcerptChars = 200

// buildContextBlock renders the final document set as a numbered evidence
// block and mints the citation manifest. Citation ids are assigned 1-based
// in input order; this is the only place numeric ids are created. An empty
// input yields an empty block and no citations.
func buildContextBlock(docs []domain.Document) (string, []domain.Citation) {
	if len(docs) == 0 {
		return "", nil
	}

	parts := []string{
		"## Reference Materials",
		"Use these real quotes and writings to inform your response.",
		"When you use information from a reference, cite it with [N] notation.\n",
	}
	citations := make([]domain.Citation, 0, len(docs))

	for i, doc := range docs {
		source := doc.Metadata.Source
		if source == "" {
			source = "Unknown"
		}
		docType := doc.Metadata.DocType
		if docType == "" {
			docType = "text"
		}

		parts = append(parts, fmt.Sprintf("[%d] (Source: %s, Type: %s)\n%s\n", i+1, source, docType, doc.Content))
		citations = append(citations, domain.Citation{
			ID:      i + 1,
			Source:  source,
			DocType: docType,
			Text:    truncateRunes(doc.Content, citationExcerptChars),
		})
	}

	return strings.Join(parts, "\n"), citations
}
