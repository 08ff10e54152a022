package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/dmakarov/persona-chat/internal/core/domain"
	"github.com/dmakarov/persona-chat/internal/core/ports"
)

const (
	rerankPreviewChars = 300
	rerankMaxTokens    = 100
)

// Reranker reorders a candidate set by estimated relevance. It prefers the
// pairwise scorer when the capability exists and otherwise asks the language
// model to judge a ranking. Both paths degrade to the input order; Rerank
// never fails its caller.
type Reranker struct {
	scorer   ports.PairwiseScorer // nil when the capability is absent
	model    ports.ChatModel
	observer ports.StageObserver
	log      *slog.Logger
}

func NewReranker(scorer ports.PairwiseScorer, model ports.ChatModel, observer ports.StageObserver, log *slog.Logger) *Reranker {
	if log == nil {
		log = slog.Default()
	}
	return &Reranker{
		scorer:   scorer,
		model:    model,
		observer: observer,
		log:      log,
	}
}

func (r *Reranker) Rerank(ctx context.Context, query string, docs []domain.Document, topK int) []domain.Document {
	if len(docs) == 0 {
		return docs
	}
	if topK <= 0 {
		topK = len(docs)
	}
	if len(docs) <= topK {
		return docs
	}

	if r.scorer != nil {
		reranked, err := r.rerankPairwise(ctx, query, docs, topK)
		if err == nil {
			r.path("pairwise")
			return reranked
		}
		r.log.Warn("pairwise_rerank_degraded", "error", err)
	}

	reranked, err := r.rerankWithJudge(ctx, query, docs, topK)
	if err != nil {
		r.log.Warn("judge_rerank_degraded", "error", err)
		r.path("passthrough")
		return trimCandidates(docs, topK)
	}
	r.path("judge")
	return reranked
}

func (r *Reranker) rerankPairwise(ctx context.Context, query string, docs []domain.Document, topK int) ([]domain.Document, error) {
	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Content
	}

	scores, err := r.scorer.Score(ctx, query, texts)
	if err != nil {
		return nil, fmt.Errorf("score pairs: %w", err)
	}
	if len(scores) != len(docs) {
		return nil, fmt.Errorf("scores/documents mismatch: %d/%d", len(scores), len(docs))
	}

	indices := make([]int, len(docs))
	for i := range indices {
		indices[i] = i
	}
	sort.SliceStable(indices, func(i, j int) bool {
		return scores[indices[i]] > scores[indices[j]]
	})

	out := make([]domain.Document, 0, topK)
	for _, idx := range indices[:topK] {
		out = append(out, docs[idx])
	}
	return out, nil
}

func (r *Reranker) rerankWithJudge(ctx context.Context, query string, docs []domain.Document, topK int) ([]domain.Document, error) {
	entries := make([]string, 0, len(docs))
	for i, doc := range docs {
		preview := strings.ReplaceAll(truncateRunes(doc.Content, rerankPreviewChars), "\n", " ")
		entries = append(entries, fmt.Sprintf("[%d] %s", i+1, preview))
	}

	messages := []domain.ChatMessage{
		{
			Role: "system",
			Content: "You are a relevance judge. Given a query and a list of documents, " +
				"rank the documents by relevance to the query. " +
				"Output ONLY the document numbers in order from most to least relevant, " +
				"comma-separated. Example: 3,1,7,2,5",
		},
		{
			Role:    "user",
			Content: fmt.Sprintf("Query: %s\n\nDocuments:\n%s\n\nRanking:", query, strings.Join(entries, "\n")),
		},
	}

	response, err := r.model.Complete(ctx, messages, 0.0, rerankMaxTokens)
	if err != nil {
		return nil, fmt.Errorf("judge ranking: %w", err)
	}

	order := parseRankedIndices(response, len(docs))
	if len(order) == 0 {
		return nil, fmt.Errorf("no usable indices in judge response")
	}

	out := make([]domain.Document, 0, topK)
	for _, idx := range order {
		out = append(out, docs[idx])
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

// parseRankedIndices extracts integer tokens from a judge response and maps
// them to 0-based indices: out-of-range and duplicate values are dropped
// (first occurrence wins), and every index the model never mentioned is
// appended in original order.
func parseRankedIndices(response string, total int) []int {
	seen := make(map[int]struct{}, total)
	order := make([]int, 0, total)

	for _, token := range splitDigitRuns(response) {
		n, err := strconv.Atoi(token)
		if err != nil {
			continue
		}
		idx := n - 1
		if idx < 0 || idx >= total {
			continue
		}
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		order = append(order, idx)
	}

	if len(order) == 0 {
		return nil
	}
	for i := 0; i < total; i++ {
		if _, ok := seen[i]; !ok {
			order = append(order, i)
		}
	}
	return order
}

func splitDigitRuns(s string) []string {
	out := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func (r *Reranker) path(path string) {
	if r.observer != nil {
		r.observer.RerankPath(path)
	}
}
