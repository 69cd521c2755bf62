package model

// ChunkMetadata carries citation fields for a retrieved passage.
type ChunkMetadata struct {
	Title   string `json:"title,omitempty"`
	Section string `json:"section,omitempty"`
	Source  string `json:"source,omitempty"`
	Version string `json:"version,omitempty"`
}

// RetrievalCandidate is one ranked passage returned by the similarity index.
// Ephemeral: exists only for the duration of one retrieval call.
type RetrievalCandidate struct {
	ID string `json:"id"`

	// SectionKey is document identifier + section path, the unit of
	// deduplication. A candidate without one is malformed and skipped.
	SectionKey string `json:"section_key"`

	// RelevanceScore is cosine-similarity-like: not strictly bounded to
	// [0,1] but typically close to it.
	RelevanceScore float64 `json:"relevance_score"`

	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
}

// Citation points a specialist reply at the passage it drew on.
type Citation struct {
	Title   string  `json:"title"`
	Section string  `json:"section"`
	Source  string  `json:"source"`
	Version string  `json:"version,omitempty"`
	Score   float64 `json:"score"`
}

// RetrievalResult is the confidence gate's verdict for one query.
type RetrievalResult struct {
	// SelectedChunks preserves the diversity ordering. Invariant: all
	// SectionKey values are pairwise distinct and len <= the configured TopK.
	SelectedChunks []RetrievalCandidate `json:"selected_chunks"`

	// MeanScore is the mean raw relevance score over SelectedChunks.
	MeanScore float64 `json:"mean_score"`

	// SufficientEvidence is true when the corpus holds enough grounding to
	// answer: chunk count >= MinHits and MeanScore >= AppliedThreshold.
	SufficientEvidence bool `json:"sufficient_evidence"`

	// AppliedThreshold records the score threshold in effect, for audit.
	AppliedThreshold float64 `json:"applied_threshold"`

	// IndexDegraded is true when the verdict came from an index failure
	// rather than a genuine search. SufficientEvidence is false either way;
	// this flag keeps an infra outage distinguishable from "no evidence"
	// in audit logs without changing caller behavior.
	IndexDegraded bool `json:"index_degraded,omitempty"`
}
