package vector

import "github.com/hyperjump/kensa/internal/models"

// Item is a candidate embedding.
type Item struct {
	ID     string
	Vector []float32
}

// Scorer computes semantic scores for candidates.
type Scorer struct{}

// Score returns the cosine similarity of each item to query, aligned with items.
// Any item whose length differs from the query fails the whole call.
func (Scorer) Score(query []float32, items []Item) ([]float64, error) {
	scores := make([]float64, len(items))
	for i, it := range items {
		if len(it.Vector) != len(query) {
			return nil, &models.DimensionMismatchError{ID: it.ID, Expected: len(query), Got: len(it.Vector)}
		}
		scores[i] = Cosine(query, it.Vector)
	}
	return scores, nil
}
