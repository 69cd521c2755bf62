// Package index provides similarity search over the knowledge-base corpus,
// backed by Qdrant. It exposes two views of the same corpus: a
// diversity-aware ranking (MMR) for candidate selection and a raw
// relevance ranking for scoring, which the retrieval gate reconciles.
package index

import (
	"context"

	"github.com/madoguchi-ai/madoguchi/internal/model"
)

// SectionScore pairs a section key with its best raw relevance score.
type SectionScore struct {
	SectionKey string
	Score      float64
}

// Index is the similarity index consumed by the retrieval gate.
// Implementations must be safe for concurrent use, and both search methods
// must be queryable against the same underlying corpus and query
// representation.
type Index interface {
	// DiverseSearch returns up to fetchK candidates ranked by a greedy
	// MMR selection: each pick maximizes
	// lambda*relevance(candidate, query) - (1-lambda)*max similarity to the
	// already-selected set. lambda 1.0 ranks on relevance alone; lower
	// values penalize redundancy harder, down to 0.0 which ranks purely on
	// dissimilarity to prior picks.
	DiverseSearch(ctx context.Context, query string, fetchK int, lambda float64) ([]model.RetrievalCandidate, error)

	// ScoredSearch returns raw relevance scores for the same candidate
	// pool, keyed by section, without the diversity reordering.
	ScoredSearch(ctx context.Context, query string, fetchK int) ([]SectionScore, error)

	// Healthy returns nil if the index is reachable.
	Healthy(ctx context.Context) error
}
