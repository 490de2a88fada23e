// Package models defines core data structures for documents, filters, scored candidates and verdicts.
package models

import (
	"sort"
	"time"
)

// Document is a catalog row. It is created by the ingestion side and read-only here.
type Document struct {
	ID          string    `json:"id"`
	Company     string    `json:"company"`
	Theme       string    `json:"theme"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	PublishedAt time.Time `json:"published_at"`
	TextLength  int       `json:"text_length"`
	AgeDays     int       `json:"age_days"`
}

// Text returns the text used for lexical and semantic scoring.
func (d *Document) Text() string {
	if d.Title == "" {
		return d.Body
	}
	return d.Title + "\n" + d.Body
}

// Candidate is a prefiltered document identifier with the attribute that orders it.
type Candidate struct {
	ID          string    `json:"id"`
	PublishedAt time.Time `json:"published_at"`
}

// CandidateSet is ordered by (PublishedAt desc, ID asc).
type CandidateSet []Candidate

// CandidateLess reports whether a sorts before b in the candidate total order.
func CandidateLess(a, b Candidate) bool {
	if !a.PublishedAt.Equal(b.PublishedAt) {
		return a.PublishedAt.After(b.PublishedAt)
	}
	return a.ID < b.ID
}

// Sort puts the set into its total order in place.
func (s CandidateSet) Sort() {
	sort.SliceStable(s, func(i, j int) bool { return CandidateLess(s[i], s[j]) })
}

// IDs returns the identifiers in set order.
func (s CandidateSet) IDs() []string {
	ids := make([]string, len(s))
	for i, c := range s {
		ids[i] = c.ID
	}
	return ids
}

// CandidateOf returns the candidate view of a document.
func CandidateOf(d *Document) Candidate {
	return Candidate{ID: d.ID, PublishedAt: d.PublishedAt}
}
