package search

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kensa/internal/embcache"
	"github.com/hyperjump/kensa/internal/keyword"
	"github.com/hyperjump/kensa/internal/ledger"
	"github.com/hyperjump/kensa/internal/metrics"
	"github.com/hyperjump/kensa/internal/models"
	"github.com/hyperjump/kensa/internal/parity"
	"github.com/hyperjump/kensa/internal/vector"
)

// DefaultFetchConcurrency bounds concurrent candidate embedding lookups in online mode.
const DefaultFetchConcurrency = 4

// candidateSource is satisfied by *prefilter.Prefilter.
type candidateSource interface {
	SelectDocuments(ctx context.Context, corpus string, filter models.Filter) ([]*models.Document, error)
}

// RetrieveResponse is the outcome of one pipeline execution.
type RetrieveResponse struct {
	RunID      string                   `json:"run_id"`
	Corpus     string                   `json:"corpus"`
	Mode       models.Mode              `json:"mode"`
	Alpha      float64                  `json:"alpha"`
	K          int                      `json:"k"`
	Candidates int                      `json:"candidates"`
	FusedTopK  []models.ScoredCandidate `json:"fused_top_k"`
	Ledger     ledger.Summary           `json:"ledger"`
}

// TopKIDs returns the fused identifiers in rank order.
func (r *RetrieveResponse) TopKIDs() []string {
	return models.TopKIDs(r.FusedTopK)
}

// Engine runs prefilter, lexical and semantic scoring, and fusion for one query.
type Engine struct {
	candidates candidateSource
	lexical    *keyword.Scorer
	semantic   vector.Scorer
	cache      *embcache.Cache
	model      string
	logger     *zap.Logger
	newRunID   func() string
	fetchLimit int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithModel sets the embedding model used when a request names none.
func WithModel(model string) Option {
	return func(e *Engine) {
		e.model = model
	}
}

// WithRunIDs replaces the run id generator (uuid v4 by default).
func WithRunIDs(gen func() string) Option {
	return func(e *Engine) {
		e.newRunID = gen
	}
}

// WithFetchConcurrency bounds concurrent embedding lookups in online mode.
func WithFetchConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.fetchLimit = n
		}
	}
}

// NewEngine creates a retrieval engine. cache may be nil when only lexical-only
// (alpha == 1) requests are served.
func NewEngine(candidates candidateSource, lexical *keyword.Scorer, cache *embcache.Cache, opts ...Option) *Engine {
	e := &Engine{
		candidates: candidates,
		lexical:    lexical,
		cache:      cache,
		logger:     zap.NewNop(),
		newRunID:   uuid.NewString,
		fetchLimit: DefaultFetchConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Retrieve executes the pipeline for req. Lexical and semantic scoring run concurrently
// over the same candidate set and are joined before fusion. With alpha == 1 no embedding
// is looked up at all.
func (e *Engine) Retrieve(ctx context.Context, req models.RetrieveRequest) (resp *RetrieveResponse, err error) {
	start := time.Now()
	modeLabel := "invalid"
	if mode, perr := models.ParseMode(string(req.Mode)); perr == nil {
		req.Mode = mode
		modeLabel = string(mode)
	}
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.RetrievalsTotal.WithLabelValues(modeLabel, status).Inc()
		metrics.RetrievalDuration.WithLabelValues(modeLabel).Observe(time.Since(start).Seconds())
	}()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	model := req.Model
	if model == "" {
		model = e.model
	}
	if !req.LexicalOnly() {
		if e.cache == nil {
			return nil, errors.New("semantic scoring requested but no embedding cache is configured")
		}
		if model == "" {
			return nil, errors.New("semantic scoring requested but no embedding model is configured")
		}
	}

	runID := e.newRunID()
	logger := e.logger.With(zap.String("run_id", runID), zap.String("corpus", req.Corpus), zap.String("mode", string(req.Mode)))

	docs, err := e.candidates.SelectDocuments(ctx, req.Corpus, req.Filter)
	if err != nil {
		logger.Warn("prefilter failed", zap.Error(err))
		return nil, err
	}
	cands := make(models.CandidateSet, len(docs))
	for i, d := range docs {
		cands[i] = models.CandidateOf(d)
	}

	lexical := []float64{}
	var semantic []float64
	if !req.LexicalOnly() {
		semantic = []float64{}
	}
	if len(docs) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			lexical = e.lexical.Score(req.Query, docs)
			return nil
		})
		if !req.LexicalOnly() {
			g.Go(func() error {
				s, err := e.semanticScores(gctx, runID, req.Mode, model, req.Query, docs)
				semantic = s
				return err
			})
		}
		if err := g.Wait(); err != nil {
			logger.Warn("scoring failed", zap.Error(err))
			return nil, err
		}
	}

	top, err := Fuse(cands, lexical, semantic, req.Alpha, req.K)
	if err != nil {
		return nil, err
	}

	summary := ledger.Summary{RunID: runID}
	if e.cache != nil {
		if summary, err = e.cache.Ledger().Summary(ctx, runID); err != nil {
			return nil, err
		}
	}

	logger.Debug("retrieval complete",
		zap.Int("candidates", len(cands)),
		zap.Int("returned", len(top)),
		zap.Int("cache_hits", summary.Hits),
		zap.Int("cache_fetched", summary.Fetched),
		zap.Duration("duration", time.Since(start)))

	return &RetrieveResponse{
		RunID:      runID,
		Corpus:     req.Corpus,
		Mode:       req.Mode,
		Alpha:      req.Alpha,
		K:          req.K,
		Candidates: len(cands),
		FusedTopK:  top,
		Ledger:     summary,
	}, nil
}

// semanticScores embeds the query and every candidate through the cache and scores them
// by cosine similarity. Replay lookups run one at a time and stop at the first miss.
func (e *Engine) semanticScores(ctx context.Context, runID string, mode models.Mode, model, query string, docs []*models.Document) ([]float64, error) {
	lookup := func(ctx context.Context, text string) ([]float32, error) {
		return e.cache.LookupOrFetch(ctx, embcache.Lookup{RunID: runID, Mode: mode, ModelID: model, Text: text})
	}
	qvec, err := lookup(ctx, query)
	if err != nil {
		return nil, err
	}

	items := make([]vector.Item, len(docs))
	g, gctx := errgroup.WithContext(ctx)
	if mode == models.ModeReplay {
		g.SetLimit(1)
	} else {
		g.SetLimit(e.fetchLimit)
	}
	for i, d := range docs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			vec, err := lookup(gctx, d.Text())
			if err != nil {
				return err
			}
			items[i] = vector.Item{ID: d.ID, Vector: vec}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return e.semantic.Score(qvec, items)
}

// CheckParity runs the evidence-parity gate against a fused top-k and counts the verdict.
func (e *Engine) CheckParity(evidence, topK []string) models.ParityVerdict {
	v := parity.Validate(evidence, topK)
	result := "pass"
	if !v.SubsetOK {
		result = "fail"
		e.logger.Warn("evidence parity violated", zap.Strings("missing", v.Missing))
	}
	metrics.ParityVerdictsTotal.WithLabelValues(result).Inc()
	return v
}
