package domain

type DocumentMetadata struct {
	Source    string `json:"source"`
	DocType   string `json:"doc_type"`
	PersonaID string `json:"persona_id"`
}

// Document is an ingested corpus chunk. Immutable once indexed; retrieval
// stages annotate copies with transient scores, never the document itself.
type Document struct {
	ID       string           `json:"id"`
	Content  string           `json:"content"`
	Metadata DocumentMetadata `json:"metadata"`
}

// ScoredDocument carries a retrieval score whose scale depends on the
// producer (cosine similarity, BM25, RRF). Scores from different producers
// are not comparable; ranks are.
type ScoredDocument struct {
	Document
	Score float64 `json:"score"`
	Rank  int     `json:"rank"`
}

// FusionResult is one fused candidate: the document payload from its first
// occurrence, the accumulated reciprocal-rank score, and the 0-based ranks
// the document held in each contributing list.
type FusionResult struct {
	Document
	RRFScore          float64
	ContributingRanks []int
}
