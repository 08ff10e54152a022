package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dmakarov/persona-chat/internal/core/domain"
	"github.com/dmakarov/persona-chat/internal/core/ports"
)

const (
	rewriteMaxTokens      = 100
	hypotheticalMaxTokens = 150
)

// rewriteStrategy turns a conversational query into a retrieval-optimized
// one. Strategies are tried in order; the first non-empty result wins, and a
// fully failed chain leaves the original query in place.
type rewriteStrategy interface {
	Name() string
	Rewrite(ctx context.Context, query, personaName string) (string, error)
}

type directRewrite struct {
	model ports.ChatModel
}

func newDirectRewrite(model ports.ChatModel) *directRewrite {
	return &directRewrite{model: model}
}

func (s *directRewrite) Name() string { return "rewrite" }

func (s *directRewrite) Rewrite(ctx context.Context, query, personaName string) (string, error) {
	messages := []domain.ChatMessage{
		{
			Role: "system",
			Content: fmt.Sprintf(
				"You are a search query optimizer. Rewrite the user's conversational "+
					"question into a clear, specific search query optimized for retrieving "+
					"relevant documents about %s's teachings, writings, and philosophy. "+
					"Keep the core intent. Output ONLY the rewritten query, nothing else.",
				personaName,
			),
		},
		{Role: "user", Content: query},
	}

	rewritten, err := s.model.Complete(ctx, messages, 0.0, rewriteMaxTokens)
	if err != nil {
		return "", fmt.Errorf("rewrite query: %w", err)
	}
	return stripSurroundingQuotes(rewritten), nil
}

// hypotheticalAnswer generates a short answer in the persona's voice and
// uses it as the search query. The hypothetical passage tends to sit closer
// to real corpus documents in embedding space than the raw question does.
type hypotheticalAnswer struct {
	model ports.ChatModel
}

func newHypotheticalAnswer(model ports.ChatModel) *hypotheticalAnswer {
	return &hypotheticalAnswer{model: model}
}

func (s *hypotheticalAnswer) Name() string { return "hyde" }

func (s *hypotheticalAnswer) Rewrite(ctx context.Context, query, personaName string) (string, error) {
	messages := []domain.ChatMessage{
		{
			Role: "system",
			Content: fmt.Sprintf(
				"You are %s. Write a short paragraph (2-3 sentences) that directly "+
					"answers the following question in your authentic voice and style. "+
					"Use specific concepts and terminology you are known for.",
				personaName,
			),
		},
		{Role: "user", Content: query},
	}

	answer, err := s.model.Complete(ctx, messages, 0.3, hypotheticalMaxTokens)
	if err != nil {
		return "", fmt.Errorf("hypothetical answer: %w", err)
	}
	return strings.TrimSpace(answer), nil
}

// attemptRewrite runs the strategy chain. Returns the rewritten query, the
// winning strategy name, and whether any strategy succeeded.
func attemptRewrite(
	ctx context.Context,
	strategies []rewriteStrategy,
	query, personaName string,
	log *slog.Logger,
) (string, string, bool) {
	for _, strategy := range strategies {
		rewritten, err := strategy.Rewrite(ctx, query, personaName)
		if err != nil {
			log.Warn("query_rewrite_degraded", "strategy", strategy.Name(), "error", err)
			continue
		}
		if strings.TrimSpace(rewritten) == "" {
			log.Warn("query_rewrite_degraded", "strategy", strategy.Name(), "error", "empty rewrite result")
			continue
		}
		return rewritten, strategy.Name(), true
	}
	return "", "", false
}

func stripSurroundingQuotes(s string) string {
	s = strings.TrimSpace(s)
	for len(s) >= 2 {
		first := s[0]
		last := s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			s = strings.TrimSpace(s[1 : len(s)-1])
			continue
		}
		break
	}
	return s
}
