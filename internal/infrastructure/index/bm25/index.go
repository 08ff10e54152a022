package bm25

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/sync/singleflight"

	"github.com/dmakarov/persona-chat/internal/core/domain"
	"github.com/dmakarov/persona-chat/internal/core/ports"
)

const (
	defaultK1 = 1.5
	defaultB  = 0.75
)

// Index is an in-memory BM25 ranking over per-persona corpora. Each persona
// index is built lazily from the vector store's full document set and cached
// until invalidated. Builds are deduplicated per persona: concurrent callers
// for the same cold persona share one build, and a published index is never
// observed partially constructed.
type Index struct {
	store ports.VectorStore
	k1    float64
	b     float64

	group singleflight.Group

	mu    sync.RWMutex
	cache map[string]*personaIndex
	// gens fences builds against invalidation: a build publishes only if the
	// persona's generation is unchanged since the build started.
	gens map[string]uint64
}

type personaIndex struct {
	docs      []domain.Document
	termFreqs []map[string]int
	docLens   []int
	docFreq   map[string]int
	avgDocLen float64
}

func New(store ports.VectorStore) *Index {
	return &Index{
		store: store,
		k1:    defaultK1,
		b:     defaultB,
		cache: make(map[string]*personaIndex),
		gens:  make(map[string]uint64),
	}
}

func (i *Index) Search(ctx context.Context, personaID, query string, topK int) ([]domain.ScoredDocument, error) {
	if topK <= 0 {
		topK = 10
	}

	idx, err := i.getOrBuild(ctx, personaID)
	if err != nil {
		return nil, err
	}
	if len(idx.docs) == 0 {
		return nil, nil
	}

	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil, nil
	}

	type hit struct {
		pos   int
		score float64
	}
	hits := make([]hit, 0, len(idx.docs))
	for pos := range idx.docs {
		score := idx.score(queryTokens, pos, i.k1, i.b)
		if score <= 0 {
			continue
		}
		hits = append(hits, hit{pos: pos, score: score})
	}

	// Stable sort keeps corpus order on ties.
	sort.SliceStable(hits, func(a, b int) bool {
		return hits[a].score > hits[b].score
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}

	out := make([]domain.ScoredDocument, 0, len(hits))
	for rank, h := range hits {
		out = append(out, domain.ScoredDocument{
			Document: idx.docs[h.pos],
			Score:    h.score,
			Rank:     rank,
		})
	}
	return out, nil
}

// Invalidate drops the cached index so the next search rebuilds it from the
// current corpus. An empty persona id clears everything.
func (i *Index) Invalidate(personaID string) {
	if personaID == "" {
		i.InvalidateAll()
		return
	}
	i.group.Forget(personaID)
	i.mu.Lock()
	delete(i.cache, personaID)
	i.gens[personaID]++
	i.mu.Unlock()
}

func (i *Index) InvalidateAll() {
	i.mu.Lock()
	// Every persona that ever started a build has a generation entry, so
	// this also fences builds still in flight.
	for personaID := range i.gens {
		i.group.Forget(personaID)
		delete(i.cache, personaID)
		i.gens[personaID]++
	}
	i.mu.Unlock()
}

func (i *Index) getOrBuild(ctx context.Context, personaID string) (*personaIndex, error) {
	i.mu.RLock()
	idx, ok := i.cache[personaID]
	i.mu.RUnlock()
	if ok {
		return idx, nil
	}

	value, err, _ := i.group.Do(personaID, func() (any, error) {
		i.mu.Lock()
		idx, ok := i.cache[personaID]
		gen := i.gens[personaID]
		i.gens[personaID] = gen
		i.mu.Unlock()
		if ok {
			return idx, nil
		}

		built, err := i.build(ctx, personaID)
		if err != nil {
			return nil, err
		}

		i.mu.Lock()
		if i.gens[personaID] == gen {
			i.cache[personaID] = built
		}
		i.mu.Unlock()
		// An invalidation during the build means the snapshot serves this
		// search only; the next search rebuilds.
		return built, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*personaIndex), nil
}

func (i *Index) build(ctx context.Context, personaID string) (*personaIndex, error) {
	docs, err := i.store.FetchAll(ctx, personaID)
	if err != nil {
		return nil, fmt.Errorf("fetch corpus for %s: %w", personaID, err)
	}

	idx := &personaIndex{
		docs:      docs,
		termFreqs: make([]map[string]int, len(docs)),
		docLens:   make([]int, len(docs)),
		docFreq:   make(map[string]int),
	}

	totalLen := 0
	for pos, doc := range docs {
		tokens := tokenize(doc.Content)
		freq := make(map[string]int, len(tokens))
		for _, token := range tokens {
			freq[token]++
		}
		idx.termFreqs[pos] = freq
		idx.docLens[pos] = len(tokens)
		totalLen += len(tokens)
		for token := range freq {
			idx.docFreq[token]++
		}
	}
	if len(docs) > 0 {
		idx.avgDocLen = float64(totalLen) / float64(len(docs))
	}
	return idx, nil
}

func (idx *personaIndex) score(queryTokens []string, pos int, k1, b float64) float64 {
	docLen := float64(idx.docLens[pos])
	if idx.avgDocLen == 0 {
		return 0
	}
	n := float64(len(idx.docs))

	score := 0.0
	for _, token := range queryTokens {
		tf := float64(idx.termFreqs[pos][token])
		if tf == 0 {
			continue
		}
		df := float64(idx.docFreq[token])
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		score += idf * (tf * (k1 + 1)) / (tf + k1*(1-b+b*docLen/idx.avgDocLen))
	}
	return score
}

func tokenize(s string) []string {
	if s == "" {
		return nil
	}
	out := make([]string, 0, 24)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
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
