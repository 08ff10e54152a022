package usecase

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dmakarov/persona-chat/internal/core/domain"
	"github.com/dmakarov/persona-chat/internal/core/ports"
)

// HybridRetriever combines dense (vector store) and sparse (lexical index)
// retrieval and fuses the two rankings. Retrieval degrades instead of
// failing: a broken leg is treated as an empty list, so the worst case is a
// single-method or empty candidate set.
type HybridRetriever struct {
	vector   ports.VectorStore
	lexical  ports.LexicalIndex
	rrfK     int
	hybrid   bool
	observer ports.StageObserver
	log      *slog.Logger
}

func NewHybridRetriever(
	vector ports.VectorStore,
	lexical ports.LexicalIndex,
	rrfK int,
	hybrid bool,
	observer ports.StageObserver,
	log *slog.Logger,
) *HybridRetriever {
	if rrfK < 0 {
		rrfK = 60
	}
	if log == nil {
		log = slog.Default()
	}
	return &HybridRetriever{
		vector:   vector,
		lexical:  lexical,
		rrfK:     rrfK,
		hybrid:   hybrid,
		observer: observer,
		log:      log,
	}
}

func (r *HybridRetriever) Retrieve(ctx context.Context, personaID, query string, topK int) []domain.ScoredDocument {
	if topK <= 0 {
		topK = 20
	}

	if !r.hybrid {
		dense := r.queryDense(ctx, personaID, query, topK)
		return trimCandidates(dense, topK)
	}

	var (
		wg     sync.WaitGroup
		dense  []domain.ScoredDocument
		sparse []domain.ScoredDocument
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		dense = r.queryDense(ctx, personaID, query, topK)
	}()
	go func() {
		defer wg.Done()
		sparse = r.querySparse(ctx, personaID, query, topK)
	}()
	wg.Wait()

	fused := fuseRankedLists([][]domain.ScoredDocument{dense, sparse}, r.rrfK)
	out := make([]domain.ScoredDocument, 0, len(fused))
	for i, f := range fused {
		out = append(out, domain.ScoredDocument{
			Document: f.Document,
			Score:    f.RRFScore,
			Rank:     i,
		})
	}
	return trimCandidates(out, topK)
}

func (r *HybridRetriever) queryDense(ctx context.Context, personaID, query string, topK int) []domain.ScoredDocument {
	docs, err := r.vector.Query(ctx, personaID, query, topK)
	if err != nil {
		r.log.Warn("dense_retrieval_degraded", "persona_id", personaID, "error", err)
		r.fallback("retrieve_dense", "query_error")
		return nil
	}
	return docs
}

func (r *HybridRetriever) querySparse(ctx context.Context, personaID, query string, topK int) []domain.ScoredDocument {
	docs, err := r.lexical.Search(ctx, personaID, query, topK)
	if err != nil {
		r.log.Warn("sparse_retrieval_degraded", "persona_id", personaID, "error", err)
		r.fallback("retrieve_sparse", "search_error")
		return nil
	}
	return docs
}

func (r *HybridRetriever) fallback(stage, reason string) {
	if r.observer != nil {
		r.observer.StageFallback(stage, reason)
	}
}
