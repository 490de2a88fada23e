package models

import "time"

// ScoredCandidate is one fused ranking entry.
// Semantic is nil when retrieval ran lexical-only; it is never a silent zero.
type ScoredCandidate struct {
	ID          string    `json:"id"`
	PublishedAt time.Time `json:"published_at"`
	Lexical     float64   `json:"lexical"`
	Semantic    *float64  `json:"semantic,omitempty"`
	Fused       float64   `json:"fused"`
	Rank        int       `json:"rank"`
}

// ParityVerdict is the result of the evidence-parity gate.
// SubsetOK is true exactly when Missing is empty.
type ParityVerdict struct {
	Evidence []string `json:"evidence"`
	TopK     []string `json:"top_k"`
	SubsetOK bool     `json:"subset_ok"`
	Missing  []string `json:"missing"`
}

// Err returns ErrParityViolation for a failing verdict and nil otherwise.
func (v ParityVerdict) Err() error {
	if v.SubsetOK {
		return nil
	}
	return &ParityViolationError{Missing: append([]string(nil), v.Missing...)}
}

// TopKIDs returns the identifiers of a fused list in rank order.
func TopKIDs(list []ScoredCandidate) []string {
	ids := make([]string, len(list))
	for i, c := range list {
		ids[i] = c.ID
	}
	return ids
}
