package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Mode selects whether the embedding cache may reach the network.
type Mode string

const (
	// ModeOnline fetches missing embeddings from the provider and stores them.
	ModeOnline Mode = "online"
	// ModeReplay serves embeddings from the cache only; a miss is a hard failure.
	ModeReplay Mode = "replay"
)

// ParseMode parses a mode name. The empty string is rejected so the mode is always explicit.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeOnline:
		return ModeOnline, nil
	case ModeReplay:
		return ModeReplay, nil
	default:
		return "", fmt.Errorf("unknown mode %q (supported: online, replay)", s)
	}
}

// Filter is the structured prefilter: equality and range predicates plus a limit.
// Zero values mean "no predicate" for every field except Limit.
type Filter struct {
	Company         string     `json:"company,omitempty" yaml:"company,omitempty"`
	Theme           string     `json:"theme,omitempty" yaml:"theme,omitempty"`
	PublishedAfter  *time.Time `json:"published_after,omitempty" yaml:"published_after,omitempty"`   // inclusive
	PublishedBefore *time.Time `json:"published_before,omitempty" yaml:"published_before,omitempty"` // exclusive
	MinLength       int        `json:"min_length,omitempty" yaml:"min_length,omitempty"`
	MaxLength       int        `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	Limit           int        `json:"limit" yaml:"limit"`
}

// Validate rejects filters that cannot select a well-defined candidate set.
func (f *Filter) Validate() error {
	if f.Limit < 1 {
		return &InvalidFilterError{Field: "limit", Reason: fmt.Sprintf("must be >= 1, got %d", f.Limit)}
	}
	if f.MinLength < 0 || f.MaxLength < 0 {
		return &InvalidFilterError{Field: "length", Reason: "bounds must be non-negative"}
	}
	if f.MaxLength > 0 && f.MinLength > f.MaxLength {
		return &InvalidFilterError{Field: "length", Reason: fmt.Sprintf("min %d > max %d", f.MinLength, f.MaxLength)}
	}
	if f.PublishedAfter != nil && f.PublishedBefore != nil && !f.PublishedAfter.Before(*f.PublishedBefore) {
		return &InvalidFilterError{Field: "published", Reason: "published_after must be before published_before"}
	}
	return nil
}

// RetrieveRequest is one hybrid retrieval call.
type RetrieveRequest struct {
	Corpus string  `json:"corpus"`
	Query  string  `json:"query"`
	Filter Filter  `json:"filter"`
	Alpha  float64 `json:"alpha"`
	K      int     `json:"k"`
	Mode   Mode    `json:"mode"`
	// Model overrides the configured embedding model id when set.
	Model string `json:"model,omitempty"`
}

// LexicalOnly reports whether the request needs no semantic scores.
func (r *RetrieveRequest) LexicalOnly() bool {
	return r.Alpha == 1
}

// Validate checks the request before any stage runs.
func (r *RetrieveRequest) Validate() error {
	if strings.TrimSpace(r.Corpus) == "" {
		return &InvalidFilterError{Field: "corpus", Reason: "is required"}
	}
	if err := ValidateAlpha(r.Alpha); err != nil {
		return err
	}
	if r.K < 1 {
		return fmt.Errorf("k=%d: %w", r.K, ErrInvalidK)
	}
	if _, err := ParseMode(string(r.Mode)); err != nil {
		return fmt.Errorf("%v: %w", err, ErrInvalidMode)
	}
	return r.Filter.Validate()
}

// ValidateAlpha checks that the fusion weight lies in [0, 1].
func ValidateAlpha(alpha float64) error {
	if math.IsNaN(alpha) || alpha < 0 || alpha > 1 {
		return &InvalidWeightError{Alpha: alpha}
	}
	return nil
}
