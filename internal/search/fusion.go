// Package search runs the hybrid retrieval pipeline and fuses its scores into one ranking.
package search

import (
	"fmt"
	"math"
	"sort"

	"github.com/hyperjump/kensa/internal/models"
)

// Normalize min-max scales scores into [0, 1]. A constant set (min == max) maps to 0.0.
func Normalize(scores []float64) []float64 {
	out := make([]float64, len(scores))
	if len(scores) == 0 {
		return out
	}
	lo, hi := scores[0], scores[0]
	for _, s := range scores[1:] {
		lo = math.Min(lo, s)
		hi = math.Max(hi, s)
	}
	// Halving first keeps hi-lo finite for any finite inputs.
	span := hi/2 - lo/2
	if hi == lo || span == 0 {
		return out
	}
	for i, s := range scores {
		out[i] = clamp01((s/2 - lo/2) / span)
	}
	return out
}

// Fuse combines lexical and semantic scores, aligned with cands, into the top-k ranking.
// semantic == nil means lexical-only and is accepted only with alpha == 1.
// Ties on the fused score fall back to the candidate order (published desc, id asc).
func Fuse(cands models.CandidateSet, lexical, semantic []float64, alpha float64, k int) ([]models.ScoredCandidate, error) {
	if err := models.ValidateAlpha(alpha); err != nil {
		return nil, err
	}
	if k < 1 {
		return nil, fmt.Errorf("k=%d: %w", k, models.ErrInvalidK)
	}
	if semantic == nil && alpha < 1 {
		return nil, &models.InvalidWeightError{Alpha: alpha, Reason: "semantic scores are required when alpha < 1"}
	}
	if err := checkShape("lexical", lexical, len(cands)); err != nil {
		return nil, err
	}
	if semantic != nil {
		if err := checkShape("semantic", semantic, len(cands)); err != nil {
			return nil, err
		}
	}

	nl := Normalize(lexical)
	var ns []float64
	if semantic != nil {
		ns = Normalize(semantic)
	}

	scored := make([]models.ScoredCandidate, len(cands))
	for i, c := range cands {
		sc := models.ScoredCandidate{ID: c.ID, PublishedAt: c.PublishedAt, Lexical: lexical[i]}
		if semantic == nil {
			sc.Fused = clamp01(nl[i])
		} else {
			s := semantic[i]
			sc.Semantic = &s
			sc.Fused = clamp01(alpha*nl[i] + (1-alpha)*ns[i])
		}
		scored[i] = sc
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Fused != b.Fused {
			return a.Fused > b.Fused
		}
		return models.CandidateLess(
			models.Candidate{ID: a.ID, PublishedAt: a.PublishedAt},
			models.Candidate{ID: b.ID, PublishedAt: b.PublishedAt},
		)
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	for i := range scored {
		scored[i].Rank = i + 1
	}
	return scored, nil
}

func checkShape(name string, scores []float64, n int) error {
	if len(scores) != n {
		return fmt.Errorf("%w: %d %s scores for %d candidates", models.ErrScoreShape, len(scores), name, n)
	}
	for i, s := range scores {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return fmt.Errorf("%w: %s score %d is not finite", models.ErrScoreShape, name, i)
		}
	}
	return nil
}

// clamp01 absorbs rounding in the weighted sum so the result never leaves [0, 1].
func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
