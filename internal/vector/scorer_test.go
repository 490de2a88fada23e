package vector

import (
	"errors"
	"math"
	"testing"

	"github.com/hyperjump/kensa/internal/models"
)

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"scaled", []float32{1, 0}, []float32{5, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 1}, []float32{-1, -1}, -1},
		{"zero query", []float32{0, 0}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cosine(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Cosine = %v, want %v", got, tt.want)
			}
			if got < -1 || got > 1 {
				t.Errorf("Cosine = %v outside [-1,1]", got)
			}
		})
	}
}

func TestScorer_Score(t *testing.T) {
	q := []float32{1, 0}
	scores, err := Scorer{}.Score(q, []Item{
		{ID: "a", Vector: []float32{1, 0}},
		{ID: "b", Vector: []float32{0, 1}},
		{ID: "c", Vector: []float32{1, 1}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if scores[0] != 1 || scores[1] != 0 || math.Abs(scores[2]-math.Sqrt2/2) > 1e-9 {
		t.Errorf("scores = %v", scores)
	}
}

func TestScorer_dimensionMismatch(t *testing.T) {
	_, err := Scorer{}.Score([]float32{1, 0, 0}, []Item{
		{ID: "ok", Vector: []float32{1, 0, 0}},
		{ID: "short", Vector: []float32{1, 0}},
	})
	var dm *models.DimensionMismatchError
	if !errors.As(err, &dm) {
		t.Fatalf("got %v, want DimensionMismatchError", err)
	}
	if dm.ID != "short" || dm.Expected != 3 || dm.Got != 2 {
		t.Errorf("error = %+v", dm)
	}
	if !errors.Is(err, models.ErrDimensionMismatch) {
		t.Error("should wrap ErrDimensionMismatch")
	}
}
