package ports

import (
	"context"

	"github.com/dmakarov/persona-chat/internal/core/domain"
)

// VectorStore is the dense retrieval collaborator, keyed by persona.
type VectorStore interface {
	Query(ctx context.Context, personaID, query string, topK int) ([]domain.ScoredDocument, error)
	FetchAll(ctx context.Context, personaID string) ([]domain.Document, error)
}

// LexicalIndex serves sparse (term-overlap) retrieval over a persona corpus.
// An empty or missing corpus yields an empty result, not an error.
type LexicalIndex interface {
	Search(ctx context.Context, personaID, query string, topK int) ([]domain.ScoredDocument, error)
	Invalidate(personaID string)
	InvalidateAll()
}

// CompletionChunk is one streamed fragment. A non-nil Err terminates the
// stream; the producer closes the channel afterwards.
type CompletionChunk struct {
	Content string
	Err     error
}

// ChatModel is the language model backend.
type ChatModel interface {
	Complete(ctx context.Context, messages []domain.ChatMessage, temperature float64, maxTokens int) (string, error)
	CompleteStream(ctx context.Context, messages []domain.ChatMessage, temperature float64, maxTokens int) (<-chan CompletionChunk, error)
}

// PairwiseScorer scores (query, text) pairs jointly. The capability may be
// absent at runtime; availability is probed once at startup, and components
// that hold a scorer hold a present one.
type PairwiseScorer interface {
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
}

// PersonaStore resolves persona records.
type PersonaStore interface {
	GetByID(ctx context.Context, id string) (*domain.Persona, error)
	List(ctx context.Context) ([]domain.Persona, error)
}

// StageObserver receives pipeline stage outcomes for instrumentation.
// Implementations must be safe for concurrent use.
type StageObserver interface {
	ObserveStage(stage string, seconds float64)
	StageFallback(stage, reason string)
	RerankPath(path string)
}
