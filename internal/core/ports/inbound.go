package ports

import (
	"context"

	"github.com/dmakarov/persona-chat/internal/core/domain"
)

// ChatStreamer is the inbound contract for the answer pipeline. The returned
// error covers pre-stream failures only (persona resolution, bad input);
// everything after the first token travels on the event channel.
type ChatStreamer interface {
	Stream(ctx context.Context, req domain.ChatRequest) (<-chan domain.ChatEvent, error)
}

// PersonaReader is the inbound read model for persona records.
type PersonaReader interface {
	GetByID(ctx context.Context, id string) (*domain.Persona, error)
	List(ctx context.Context) ([]domain.Persona, error)
}
