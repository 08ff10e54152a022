package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dmakarov/persona-chat/internal/core/domain"
	"github.com/dmakarov/persona-chat/internal/core/ports"
)

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 1024

	citationInstruction = "IMPORTANT: When referencing information from the Reference Materials, " +
		"cite the source using [N] notation (e.g., [1], [2]). " +
		"Blend citations naturally into your response."
)

type ChatConfig struct {
	TopK               int
	HybridCandidates   int
	EnableQueryRewrite bool
	EnableReranker     bool

	RewriteTimeout  time.Duration
	RetrieveTimeout time.Duration
	RerankTimeout   time.Duration
}

func (c ChatConfig) normalize() ChatConfig {
	out := c
	if out.TopK <= 0 {
		out.TopK = 5
	}
	if out.HybridCandidates <= 0 {
		out.HybridCandidates = 20
	}
	if out.RewriteTimeout <= 0 {
		out.RewriteTimeout = 10 * time.Second
	}
	if out.RetrieveTimeout <= 0 {
		out.RetrieveTimeout = 15 * time.Second
	}
	if out.RerankTimeout <= 0 {
		out.RerankTimeout = 20 * time.Second
	}
	return out
}

// ChatUseCase sequences the answer pipeline: rewrite, retrieve, rerank,
// context build, streamed generation, trailing citation manifest. Only a
// missing persona or a broken generation stream surface as failures; every
// other stage degrades to its pre-stage input.
type ChatUseCase struct {
	personas   ports.PersonaStore
	retriever  *HybridRetriever
	reranker   *Reranker
	model      ports.ChatModel
	strategies []rewriteStrategy
	cfg        ChatConfig
	observer   ports.StageObserver
	log        *slog.Logger
}

func NewChatUseCase(
	personas ports.PersonaStore,
	retriever *HybridRetriever,
	reranker *Reranker,
	model ports.ChatModel,
	strategies []rewriteStrategy,
	cfg ChatConfig,
	observer ports.StageObserver,
	log *slog.Logger,
) *ChatUseCase {
	if log == nil {
		log = slog.Default()
	}
	return &ChatUseCase{
		personas:   personas,
		retriever:  retriever,
		reranker:   reranker,
		model:      model,
		strategies: strategies,
		cfg:        cfg.normalize(),
		observer:   observer,
		log:        log,
	}
}

// RewriteStrategies builds the strategy chain for the configured technique.
// Only one technique is active per request; direct rewrite is the default.
func RewriteStrategies(model ports.ChatModel, technique string) []rewriteStrategy {
	switch strings.ToLower(strings.TrimSpace(technique)) {
	case "hyde":
		return []rewriteStrategy{newHypotheticalAnswer(model)}
	default:
		return []rewriteStrategy{newDirectRewrite(model)}
	}
}

func (uc *ChatUseCase) Stream(ctx context.Context, req domain.ChatRequest) (<-chan domain.ChatEvent, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "chat stream", fmt.Errorf("message is required"))
	}

	persona, err := uc.personas.GetByID(ctx, req.PersonaID)
	if err != nil {
		return nil, fmt.Errorf("resolve persona: %w", err)
	}

	events := make(chan domain.ChatEvent)
	go uc.run(ctx, persona, message, req.History, events)
	return events, nil
}

func (uc *ChatUseCase) run(
	ctx context.Context,
	persona *domain.Persona,
	message string,
	history []domain.ChatMessage,
	events chan<- domain.ChatEvent,
) {
	defer close(events)

	searchQuery, rewrittenQuery := uc.rewriteStage(ctx, persona, message)
	candidates := uc.retrieveStage(ctx, persona.ID, searchQuery)
	final := uc.rerankStage(ctx, searchQuery, candidates)
	contextBlock, citations := buildContextBlock(final)

	messages := buildMessages(persona, message, history, contextBlock)

	stream, err := uc.model.CompleteStream(ctx, messages, personaTemperature(persona), personaMaxTokens(persona))
	if err != nil {
		uc.send(ctx, events, domain.ChatEvent{
			Type: domain.EventError,
			Err:  domain.WrapError(domain.ErrGeneration, "open completion stream", err),
		})
		return
	}

	for chunk := range stream {
		if chunk.Err != nil {
			uc.send(ctx, events, domain.ChatEvent{
				Type: domain.EventError,
				Err:  domain.WrapError(domain.ErrGeneration, "completion stream", chunk.Err),
			})
			return
		}
		if chunk.Content == "" {
			continue
		}
		if !uc.send(ctx, events, domain.ChatEvent{Type: domain.EventToken, Token: chunk.Content}) {
			return
		}
	}

	if len(citations) > 0 {
		uc.send(ctx, events, domain.ChatEvent{
			Type: domain.EventSources,
			Sources: &domain.SourceManifest{
				Sources:        citations,
				RewrittenQuery: rewrittenQuery,
			},
		})
	}
}

// rewriteStage returns the query to retrieve with and, when rewriting
// succeeded, the rewritten form for the source manifest.
func (uc *ChatUseCase) rewriteStage(ctx context.Context, persona *domain.Persona, message string) (string, *string) {
	if !uc.cfg.EnableQueryRewrite || len(uc.strategies) == 0 {
		return message, nil
	}

	start := time.Now()
	rewriteCtx, cancel := context.WithTimeout(ctx, uc.cfg.RewriteTimeout)
	defer cancel()

	rewritten, strategy, ok := attemptRewrite(rewriteCtx, uc.strategies, message, persona.Name, uc.log)
	uc.observeStage("rewrite", start)
	if !ok {
		uc.fallback("rewrite", "all_strategies_failed")
		return message, nil
	}

	uc.log.Debug("query_rewritten", "persona_id", persona.ID, "strategy", strategy)
	return rewritten, &rewritten
}

func (uc *ChatUseCase) retrieveStage(ctx context.Context, personaID, query string) []domain.ScoredDocument {
	start := time.Now()
	retrieveCtx, cancel := context.WithTimeout(ctx, uc.cfg.RetrieveTimeout)
	defer cancel()

	candidates := uc.retriever.Retrieve(retrieveCtx, personaID, query, uc.cfg.HybridCandidates)
	uc.observeStage("retrieve", start)
	return candidates
}

func (uc *ChatUseCase) rerankStage(ctx context.Context, query string, candidates []domain.ScoredDocument) []domain.Document {
	docs := make([]domain.Document, 0, len(candidates))
	for _, c := range candidates {
		docs = append(docs, c.Document)
	}

	if !uc.cfg.EnableReranker || len(docs) <= uc.cfg.TopK {
		return trimCandidates(docs, uc.cfg.TopK)
	}

	start := time.Now()
	rerankCtx, cancel := context.WithTimeout(ctx, uc.cfg.RerankTimeout)
	defer cancel()

	reranked := uc.reranker.Rerank(rerankCtx, query, docs, uc.cfg.TopK)
	uc.observeStage("rerank", start)
	return reranked
}

func buildMessages(
	persona *domain.Persona,
	userMessage string,
	history []domain.ChatMessage,
	contextBlock string,
) []domain.ChatMessage {
	system := persona.SystemPrompt
	if contextBlock != "" {
		system += "\n\n" + contextBlock + "\n\n" + citationInstruction
	}

	messages := make([]domain.ChatMessage, 0, len(history)+2)
	messages = append(messages, domain.ChatMessage{Role: "system", Content: system})
	for _, msg := range history {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		messages = append(messages, domain.ChatMessage{Role: msg.Role, Content: msg.Content})
	}
	messages = append(messages, domain.ChatMessage{Role: "user", Content: userMessage})
	return messages
}

// send delivers an event unless the consumer is gone. A false return means
// the request context ended and the pipeline should stop producing.
func (uc *ChatUseCase) send(ctx context.Context, events chan<- domain.ChatEvent, event domain.ChatEvent) bool {
	select {
	case events <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

func (uc *ChatUseCase) observeStage(stage string, start time.Time) {
	if uc.observer != nil {
		uc.observer.ObserveStage(stage, time.Since(start).Seconds())
	}
}

func (uc *ChatUseCase) fallback(stage, reason string) {
	if uc.observer != nil {
		uc.observer.StageFallback(stage, reason)
	}
}

func personaTemperature(p *domain.Persona) float64 {
	if p.Temperature <= 0 {
		return defaultTemperature
	}
	return p.Temperature
}

func personaMaxTokens(p *domain.Persona) int {
	if p.MaxTokens <= 0 {
		return defaultMaxTokens
	}
	return p.MaxTokens
}
