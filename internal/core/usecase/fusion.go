package usecase

import (
	"sort"

	"github.com/dmakarov/persona-chat/internal/core/domain"
)

// fuseRankedLists merges ranked lists with Reciprocal Rank Fusion: every
// document at 0-based rank r contributes 1/(k+r+1) to its accumulator.
// The first occurrence of an id defines the payload. Output is sorted by
// descending RRF score; ties keep first-seen order across the input
// sequence, so identical inputs always produce identical output.
func fuseRankedLists(lists [][]domain.ScoredDocument, k int) []domain.FusionResult {
	if k < 0 {
		k = 0
	}

	acc := make(map[string]*domain.FusionResult)
	order := make([]string, 0)

	for _, list := range lists {
		for rank, doc := range list {
			result, ok := acc[doc.ID]
			if !ok {
				result = &domain.FusionResult{Document: doc.Document}
				acc[doc.ID] = result
				order = append(order, doc.ID)
			}
			result.RRFScore += 1.0 / float64(k+rank+1)
			result.ContributingRanks = append(result.ContributingRanks, rank)
		}
	}

	out := make([]domain.FusionResult, 0, len(order))
	for _, id := range order {
		out = append(out, *acc[id])
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RRFScore > out[j].RRFScore
	})
	return out
}

func trimCandidates[T any](items []T, limit int) []T {
	if limit <= 0 || len(items) <= limit {
		return items
	}
	return items[:limit]
}
