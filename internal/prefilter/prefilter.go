// Package prefilter narrows a corpus to the candidate set a query is scored against.
package prefilter

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kensa/internal/metrics"
	"github.com/hyperjump/kensa/internal/models"
	"github.com/hyperjump/kensa/internal/storage"
)

// catalogSource is satisfied by *storage.Registry.
type catalogSource interface {
	View(ctx context.Context, corpus string, fn func(storage.Catalog) error) error
}

// Prefilter applies structured filters against a corpus catalog.
type Prefilter struct {
	catalogs catalogSource
	logger   *zap.Logger
}

// Option configures a Prefilter.
type Option func(*Prefilter)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Prefilter) {
		p.logger = l
	}
}

// New returns a prefilter reading from catalogs.
func New(catalogs catalogSource, opts ...Option) *Prefilter {
	p := &Prefilter{catalogs: catalogs, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Select returns the candidate set for filter over corpus.
func (p *Prefilter) Select(ctx context.Context, corpus string, filter models.Filter) (models.CandidateSet, error) {
	docs, err := p.SelectDocuments(ctx, corpus, filter)
	if err != nil {
		return nil, err
	}
	set := make(models.CandidateSet, len(docs))
	for i, d := range docs {
		set[i] = models.CandidateOf(d)
	}
	return set, nil
}

// SelectDocuments is Select returning the full documents, in candidate order.
// The catalog's own ordering is not trusted: rows are re-sorted by (published_at desc, id asc).
func (p *Prefilter) SelectDocuments(ctx context.Context, corpus string, filter models.Filter) ([]*models.Document, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	start := time.Now()

	var docs []*models.Document
	err := p.catalogs.View(ctx, corpus, func(c storage.Catalog) error {
		var err error
		docs, err = c.Select(ctx, filter)
		return err
	})
	if err != nil {
		return nil, err
	}

	docs = dedupe(docs)
	sort.SliceStable(docs, func(i, j int) bool {
		return models.CandidateLess(models.CandidateOf(docs[i]), models.CandidateOf(docs[j]))
	})
	if len(docs) > filter.Limit {
		docs = docs[:filter.Limit]
	}

	metrics.PrefilterDuration.Observe(time.Since(start).Seconds())
	metrics.PrefilterCandidates.Observe(float64(len(docs)))
	p.logger.Debug("prefilter selected candidates",
		zap.String("corpus", corpus),
		zap.Int("count", len(docs)),
		zap.Duration("elapsed", time.Since(start)))
	return docs, nil
}

// dedupe drops repeated ids, keeping the first row seen.
func dedupe(docs []*models.Document) []*models.Document {
	seen := make(map[string]struct{}, len(docs))
	out := docs[:0]
	for _, d := range docs {
		if _, ok := seen[d.ID]; ok {
			continue
		}
		seen[d.ID] = struct{}{}
		out = append(out, d)
	}
	return out
}
