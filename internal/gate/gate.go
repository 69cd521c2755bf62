// Package gate implements the retrieval confidence gate: it turns the
// similarity index's ranked-but-redundant candidates into a deduplicated,
// thresholded verdict of "sufficient evidence" plus a bounded chunk set.
//
// Pure top-k relevance retrieval tends to return redundant passages from
// the same document section, inflating apparent confidence without adding
// information; the diversity fetch widens coverage before any confidence
// judgment is made. The verdict itself is deliberately a simple, auditable
// two-part rule (chunk count and mean raw score) rather than a learned
// signal: its job is a conservative, explainable "do we have grounds to
// answer", not a relevance ranker.
package gate

import (
	"context"
	"log/slog"
	"time"

	"github.com/madoguchi-ai/madoguchi/internal/index"
	"github.com/madoguchi-ai/madoguchi/internal/model"
)

// Config holds the gate's tunables. Each knob is documented with its
// operational effect; defaults come from DefaultConfig.
type Config struct {
	// FetchK is how many candidates are considered before filtering.
	// Raising it widens coverage at the cost of more index work.
	FetchK int

	// TopK caps the chunks handed to the specialist after dedup.
	TopK int

	// Lambda is the relevance weight of the MMR fetch: 1.0 ranks on
	// relevance alone, lower values increasingly penalize redundancy with
	// already-picked candidates.
	Lambda float64

	// MinHits is the minimum deduplicated chunk count before evidence can
	// be called sufficient. Raising it demands broader corpus support.
	MinHits int

	// ScoreThreshold is the minimum mean raw score. Raising it raises the
	// bar for declaring sufficient evidence.
	ScoreThreshold float64

	// RetrieveTimeout bounds one index round trip. On expiry the query
	// degrades to an insufficient-evidence verdict like any other index
	// failure. Zero leaves the caller's context as the only bound.
	RetrieveTimeout time.Duration
}

// DefaultConfig returns the gate settings the system ships with.
func DefaultConfig() Config {
	return Config{
		FetchK:          24,
		TopK:            8,
		Lambda:          0.7,
		MinHits:         3,
		ScoreThreshold:  0.5,
		RetrieveTimeout: 5 * time.Second,
	}
}

// Gate evaluates retrieval sufficiency for queries against one index.
type Gate struct {
	idx    index.Index
	cfg    Config
	logger *slog.Logger
}

// New creates a Gate. A nil index is allowed and degrades every retrieval
// to an insufficient-evidence verdict (index disabled deployments).
func New(idx index.Index, cfg Config, logger *slog.Logger) *Gate {
	return &Gate{idx: idx, cfg: cfg, logger: logger}
}

// Retrieve runs the full gate pipeline for one query:
//
//  1. Diverse candidate fetch (MMR ordering from the index).
//  2. Raw score reconciliation — the diversity ranking reorders candidates
//     for variety, so raw relevance scores are fetched separately and the
//     best score per section is kept for the verdict.
//  3. First-occurrence dedup by section key, preserving diversity order.
//  4. Truncation to TopK.
//  5. Sufficiency verdict over the retained chunks' raw scores.
//
// Both index calls run under RetrieveTimeout, so a hung index degrades
// the verdict instead of stalling the turn.
//
// Retrieve never returns an error: index failure and an empty candidate
// set both yield sufficientEvidence=false with an empty chunk list, which
// callers treat identically to a genuine "no good match". The
// IndexDegraded flag preserves the distinction for audit logs.
func (g *Gate) Retrieve(ctx context.Context, query string) model.RetrievalResult {
	if g.idx == nil {
		return model.RetrievalResult{
			AppliedThreshold: g.cfg.ScoreThreshold,
			IndexDegraded:    true,
		}
	}

	if g.cfg.RetrieveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.RetrieveTimeout)
		defer cancel()
	}

	diverse, err := g.idx.DiverseSearch(ctx, query, g.cfg.FetchK, g.cfg.Lambda)
	if err != nil {
		g.logger.Warn("gate: diverse search failed, degrading to insufficient evidence", "error", err)
		return model.RetrievalResult{
			AppliedThreshold: g.cfg.ScoreThreshold,
			IndexDegraded:    true,
		}
	}

	rawScores := g.rawScores(ctx, query)

	// Dedup: walk the diversity ordering and keep only the first (highest
	// ranked) occurrence of each section key. This preserves the ordering
	// while guaranteeing the uniqueness invariant on SelectedChunks.
	seen := make(map[string]struct{}, len(diverse))
	selected := make([]model.RetrievalCandidate, 0, g.cfg.TopK)
	for _, c := range diverse {
		if c.SectionKey == "" {
			// Malformed candidate: skip it, never abort the batch.
			g.logger.Warn("gate: candidate missing section key, skipped", "id", c.ID)
			continue
		}
		if _, dup := seen[c.SectionKey]; dup {
			continue
		}
		seen[c.SectionKey] = struct{}{}

		// Prefer the reconciled raw score; the diversity pass may have
		// surfaced this candidate below its best-scoring sibling.
		if raw, ok := rawScores[c.SectionKey]; ok && raw > c.RelevanceScore {
			c.RelevanceScore = raw
		}

		selected = append(selected, c)
		if len(selected) == g.cfg.TopK {
			break
		}
	}

	var mean float64
	for _, c := range selected {
		mean += c.RelevanceScore
	}
	if len(selected) > 0 {
		mean /= float64(len(selected))
	}

	return model.RetrievalResult{
		SelectedChunks:     selected,
		MeanScore:          mean,
		SufficientEvidence: len(selected) >= g.cfg.MinHits && mean >= g.cfg.ScoreThreshold,
		AppliedThreshold:   g.cfg.ScoreThreshold,
	}
}

// rawScores builds the sectionKey -> best raw score lookup from the
// relevance ranking. A failure here is non-fatal: the diversity-ordered
// scores stand in, so only the reconciliation is lost.
func (g *Gate) rawScores(ctx context.Context, query string) map[string]float64 {
	scored, err := g.idx.ScoredSearch(ctx, query, g.cfg.FetchK)
	if err != nil {
		g.logger.Warn("gate: scored search failed, using diversity-order scores", "error", err)
		return nil
	}
	best := make(map[string]float64, len(scored))
	for _, s := range scored {
		if cur, ok := best[s.SectionKey]; !ok || s.Score > cur {
			best[s.SectionKey] = s.Score
		}
	}
	return best
}
