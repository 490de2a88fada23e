// Package keyword scores candidate documents against a query with Okapi BM25.
package keyword

import (
	"math"

	"github.com/hyperjump/kensa/internal/models"
)

// Default BM25 constants.
const (
	DefaultK1 = 1.2
	DefaultB  = 0.75
)

// Scorer computes BM25 scores using the candidate set itself as the corpus.
// It is safe for concurrent use.
type Scorer struct {
	k1       float64
	b        float64
	analyzer *Analyzer
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithParams overrides k1 and b.
func WithParams(k1, b float64) Option {
	return func(s *Scorer) {
		s.k1 = k1
		s.b = b
	}
}

// NewScorer returns a BM25 scorer.
func NewScorer(opts ...Option) (*Scorer, error) {
	a, err := NewAnalyzer()
	if err != nil {
		return nil, err
	}
	s := &Scorer{k1: DefaultK1, b: DefaultB, analyzer: a}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Params returns k1 and b.
func (s *Scorer) Params() (k1, b float64) {
	return s.k1, s.b
}

// Score returns one non-negative score per document, aligned with docs.
// A query with no terms after analysis scores every document 0.
func (s *Scorer) Score(query string, docs []*models.Document) []float64 {
	scores := make([]float64, len(docs))
	terms := s.analyzer.UniqueTerms(query)
	if len(terms) == 0 || len(docs) == 0 {
		return scores
	}

	tfs := make([]map[string]int, len(docs))
	lengths := make([]float64, len(docs))
	df := make(map[string]int, len(terms))
	var total float64
	for i, d := range docs {
		docTerms := s.analyzer.Terms(d.Text())
		tf := make(map[string]int, len(docTerms))
		for _, t := range docTerms {
			tf[t]++
		}
		tfs[i] = tf
		lengths[i] = float64(len(docTerms))
		total += lengths[i]
		for _, t := range terms {
			if tf[t] > 0 {
				df[t]++
			}
		}
	}
	avgdl := total / float64(len(docs))
	n := int64(len(docs))

	// Terms are summed in query order so the float result does not depend on map iteration.
	for i := range docs {
		var score float64
		for _, t := range terms {
			tf := tfs[i][t]
			if tf == 0 {
				continue
			}
			score += computeIDF(n, int64(df[t])) * s.tfNorm(float64(tf), lengths[i], avgdl)
		}
		scores[i] = score
	}
	return scores
}

func computeIDF(totalDocs, docFreq int64) float64 {
	numerator := float64(totalDocs-docFreq) + 0.5
	denominator := float64(docFreq) + 0.5
	return math.Log(numerator/denominator + 1)
}

func (s *Scorer) tfNorm(tf, docLength, avgDocLength float64) float64 {
	ratio := 0.0
	if avgDocLength > 0 {
		ratio = docLength / avgDocLength
	}
	return (tf * (s.k1 + 1)) / (tf + s.k1*(1-s.b+s.b*ratio))
}
