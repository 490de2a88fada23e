// Package ledger records every embedding cache lookup so a run can prove how its vectors were obtained.
package ledger

import (
	"context"
	"time"

	"github.com/hyperjump/kensa/internal/models"
)

// Outcome is the result of one cache lookup.
type Outcome string

// Lookup outcomes.
const (
	OutcomeHit         Outcome = "hit"
	OutcomeMissFetched Outcome = "miss-fetched"
	OutcomeMissFailed  Outcome = "miss-failed"
)

// Record is one append-only ledger entry. Seq and Time are assigned by the ledger.
type Record struct {
	Seq               int64       `json:"seq"`
	RunID             string      `json:"run_id"`
	Time              time.Time   `json:"time"`
	Key               string      `json:"key"`
	ModelID           string      `json:"model_id"`
	Outcome           Outcome     `json:"outcome"`
	Mode              models.Mode `json:"mode"`
	NetworkDisallowed bool        `json:"network_disallowed"`
}

// Summary aggregates the records of one run.
type Summary struct {
	RunID   string `json:"run_id"`
	Hits    int    `json:"hits"`
	Fetched int    `json:"fetched"`
	Failed  int    `json:"failed"`
	// NetworkDisallowed is true when the run had lookups and every one of them was made
	// with the network disallowed.
	NetworkDisallowed bool `json:"network_disallowed"`
}

// Total returns the number of lookups in the run.
func (s Summary) Total() int {
	return s.Hits + s.Fetched + s.Failed
}

// Ledger is an append-only log of cache lookups, safe for concurrent writers.
type Ledger interface {
	Append(ctx context.Context, r Record) (Record, error)
	Records(ctx context.Context, runID string) ([]Record, error)
	Summary(ctx context.Context, runID string) (Summary, error)
	Close() error
}

// Summarize folds records into a Summary.
func Summarize(runID string, records []Record) Summary {
	s := Summary{RunID: runID}
	disallowed := len(records) > 0
	for _, r := range records {
		switch r.Outcome {
		case OutcomeHit:
			s.Hits++
		case OutcomeMissFetched:
			s.Fetched++
		case OutcomeMissFailed:
			s.Failed++
		}
		if !r.NetworkDisallowed {
			disallowed = false
		}
	}
	s.NetworkDisallowed = disallowed
	return s
}

// Option configures a ledger implementation.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
