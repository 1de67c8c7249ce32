package face

import (
	"math"

	"github.com/andresmejia3/facereel/internal/types"
)

// DefaultThreshold is the default BestOne acceptance distance.
const DefaultThreshold = 25.0

// Distance returns the Euclidean norm between two embeddings.
// Vectors of different length are infinitely far apart.
func Distance(a, b types.Embedding) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Select maps candidates to transformation targets under policy.
// An empty result means "no suitable face" and is never an error.
func Select(candidates []types.FaceCandidate, ref types.Embedding, policy types.SelectionPolicy, threshold float64) []types.FaceCandidate {
	switch policy {
	case types.AllFaces:
		out := make([]types.FaceCandidate, len(candidates))
		copy(out, candidates)
		return out
	case types.BestOne:
		if best, ok := BestOne(candidates, ref, threshold); ok {
			return []types.FaceCandidate{best}
		}
	}
	return nil
}

// BestOne returns the candidate closest to ref. A lone candidate is returned as is.
// Otherwise the scan is seeded at threshold, so a winner must be strictly closer than it,
// and the first candidate wins ties.
func BestOne(candidates []types.FaceCandidate, ref types.Embedding, threshold float64) (types.FaceCandidate, bool) {
	switch len(candidates) {
	case 0:
		return types.FaceCandidate{}, false
	case 1:
		return candidates[0], true
	}

	bestScore := threshold
	bestIdx := -1
	for i, c := range candidates {
		if d := Distance(ref, c.Embedding); d < bestScore {
			bestScore = d
			bestIdx = i
		}
	}
	if bestIdx == -1 {
		return types.FaceCandidate{}, false
	}
	return candidates[bestIdx], true
}

// LeftMost returns the candidate with the smallest left edge, the rule used to pick
// "the" face of a source or subject image.
func LeftMost(candidates []types.FaceCandidate) (types.FaceCandidate, bool) {
	if len(candidates) == 0 {
		return types.FaceCandidate{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Box.Left < best.Box.Left {
			best = c
		}
	}
	return best, true
}
