// Package harness re-runs the retrieval pipeline and checks that every run produces
// byte-identical fused output.
package harness

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kylelemons/godebug/pretty"
	"go.uber.org/zap"

	"github.com/hyperjump/kensa/internal/ledger"
	"github.com/hyperjump/kensa/internal/metrics"
	"github.com/hyperjump/kensa/internal/models"
	"github.com/hyperjump/kensa/internal/search"
)

// MinRuns is the smallest number of executions a verification uses.
const MinRuns = 3

// Retriever is satisfied by *search.Engine.
type Retriever interface {
	Retrieve(ctx context.Context, req models.RetrieveRequest) (*search.RetrieveResponse, error)
}

// Execution is one pipeline run as seen by the harness.
type Execution struct {
	RunID  string         `json:"run_id"`
	Hash   string         `json:"hash"`
	Ledger ledger.Summary `json:"ledger"`
}

// Report is the outcome of a verification.
type Report struct {
	Mode          models.Mode `json:"mode"`
	Runs          []Execution `json:"runs"`
	Deterministic bool        `json:"deterministic"`
	// Diffs maps a run index (0-based) to its diff against run 0.
	Diffs     map[int]string           `json:"diffs,omitempty"`
	FusedTopK []models.ScoredCandidate `json:"fused_top_k"`
}

// Err returns ErrNondeterministic when any run diverged.
func (r *Report) Err() error {
	if r.Deterministic {
		return nil
	}
	return fmt.Errorf("%w: %d of %d runs diverged from the first", models.ErrNondeterministic, len(r.Diffs), len(r.Runs))
}

// entry is the hashed view of one ranked candidate. Its field set is fixed so the hash
// does not drift with unrelated response fields.
type entry struct {
	ID          string   `json:"id"`
	PublishedAt string   `json:"published_at"`
	Lexical     float64  `json:"lexical"`
	Semantic    *float64 `json:"semantic"`
	Fused       float64  `json:"fused"`
	Rank        int      `json:"rank"`
}

func canonical(list []models.ScoredCandidate) []entry {
	out := make([]entry, len(list))
	for i, c := range list {
		out[i] = entry{
			ID:          c.ID,
			PublishedAt: c.PublishedAt.UTC().Format(time.RFC3339Nano),
			Lexical:     c.Lexical,
			Semantic:    c.Semantic,
			Fused:       c.Fused,
			Rank:        c.Rank,
		}
	}
	return out
}

// Hash returns the hex sha256 of the canonical JSON encoding of a fused top-k.
func Hash(list []models.ScoredCandidate) (string, error) {
	b, err := json.Marshal(canonical(list))
	if err != nil {
		return "", fmt.Errorf("encode fused list: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Harness runs verifications.
type Harness struct {
	retriever Retriever
	logger    *zap.Logger
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// New returns a harness over retriever.
func New(retriever Retriever, opts ...Option) *Harness {
	h := &Harness{retriever: retriever, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Verify executes req n times (at least MinRuns) and compares the fused outputs.
// Only replay requests are accepted: an online run may fetch and commit vectors, so
// its runs do not share one cache state. A failing run aborts the verification.
func (h *Harness) Verify(ctx context.Context, req models.RetrieveRequest, n int) (*Report, error) {
	if req.Mode != models.ModeReplay {
		return nil, fmt.Errorf("verification needs mode %q, got %q: %w", models.ModeReplay, req.Mode, models.ErrInvalidMode)
	}
	if n < MinRuns {
		n = MinRuns
	}
	report := &Report{Mode: req.Mode, Deterministic: true}
	var first []entry
	for i := 0; i < n; i++ {
		resp, err := h.retriever.Retrieve(ctx, req)
		if err != nil {
			metrics.HarnessRunsTotal.WithLabelValues("error").Inc()
			h.logger.Warn("verification run failed", zap.Int("run", i), zap.Error(err))
			return nil, fmt.Errorf("run %d: %w", i, err)
		}
		hash, err := Hash(resp.FusedTopK)
		if err != nil {
			return nil, err
		}
		report.Runs = append(report.Runs, Execution{RunID: resp.RunID, Hash: hash, Ledger: resp.Ledger})
		if i == 0 {
			first = canonical(resp.FusedTopK)
			report.FusedTopK = resp.FusedTopK
			continue
		}
		if hash != report.Runs[0].Hash {
			if report.Diffs == nil {
				report.Diffs = make(map[int]string)
			}
			report.Diffs[i] = pretty.Compare(first, canonical(resp.FusedTopK))
			report.Deterministic = false
		}
	}

	result := "deterministic"
	if !report.Deterministic {
		result = "diverged"
		h.logger.Error("pipeline output diverged",
			zap.String("mode", string(req.Mode)),
			zap.Int("runs", n),
			zap.Int("diverged", len(report.Diffs)))
	}
	metrics.HarnessRunsTotal.WithLabelValues(result).Inc()
	return report, nil
}

// Run is shorthand for New(retriever).Verify(ctx, req, n).
func Run(ctx context.Context, retriever Retriever, req models.RetrieveRequest, n int) (*Report, error) {
	return New(retriever).Verify(ctx, req, n)
}
