package index

import "math"

// scoredVector is an internal candidate for MMR selection: its relevance to
// the query plus its embedding for redundancy checks against prior picks.
type scoredVector struct {
	relevance float64
	vector    []float32
}

// mmrSelect returns the indexes of up to k candidates in greedy MMR order.
// Each round picks the remaining candidate maximizing
// lambda*relevance - (1-lambda)*maxSim(candidate, selected), so the ranking
// trades closeness to the query against redundancy with what has already
// been picked. The first pick is always the most relevant candidate
// (nothing is selected yet, so the penalty term is zero).
func mmrSelect(candidates []scoredVector, lambda float64, k int) []int {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	selected := make([]int, 0, k)
	used := make([]bool, len(candidates))

	// Ties break toward the lower index, i.e. the better raw rank, keeping
	// the selection deterministic.
	for len(selected) < k {
		best := -1
		bestScore := math.Inf(-1)
		for i := range candidates {
			if used[i] {
				continue
			}
			penalty := 0.0
			for _, s := range selected {
				if sim := cosine(candidates[i].vector, candidates[s].vector); sim > penalty {
					penalty = sim
				}
			}
			score := lambda*candidates[i].relevance - (1-lambda)*penalty
			if score > bestScore {
				bestScore = score
				best = i
			}
		}
		selected = append(selected, best)
		used[best] = true
	}

	return selected
}

// cosine returns the cosine similarity of two vectors, 0 when either is
// zero-length or zero-norm.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
