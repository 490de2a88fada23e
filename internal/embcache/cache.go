package embcache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hyperjump/kensa/internal/embedding"
	"github.com/hyperjump/kensa/internal/ledger"
	"github.com/hyperjump/kensa/internal/models"
)

// Source tells where a returned vector came from.
type Source string

// Vector sources.
const (
	SourceCached  Source = "cached"
	SourceFetched Source = "fetched"
)

// Entry is a resolved cache lookup.
type Entry struct {
	Key     Key
	ModelID string
	Vector  []float32
	Source  Source
}

// Lookup is one request for the vector of Text under ModelID.
type Lookup struct {
	RunID   string
	Mode    models.Mode
	ModelID string
	Text    string
}

// RetryPolicy bounds the online fetch path.
type RetryPolicy struct {
	Timeout         time.Duration // per attempt
	MaxRetries      int           // retries after the first attempt
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy is used when no policy is configured.
var DefaultRetryPolicy = RetryPolicy{
	Timeout:         10 * time.Second,
	MaxRetries:      3,
	InitialInterval: 250 * time.Millisecond,
	MaxInterval:     4 * time.Second,
}

// Cache resolves embeddings from the store, fetching and committing misses in online
// mode and failing closed on misses in replay mode. Every lookup is written to the ledger.
type Cache struct {
	store      *Store
	ledger     ledger.Ledger
	provider   embedding.Provider
	retry      RetryPolicy
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
	flight     singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) {
		c.logger = l
	}
}

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Cache) {
		c.retry = p
	}
}

// WithCacheCounter sets the counter vec (label "outcome") incremented per lookup.
func WithCacheCounter(cv *prometheus.CounterVec) Option {
	return func(c *Cache) {
		c.cacheTotal = cv
	}
}

// New creates a cache. provider may be nil when only replay lookups are served.
func New(store *Store, led ledger.Ledger, provider embedding.Provider, opts ...Option) *Cache {
	c := &Cache{
		store:    store,
		ledger:   led,
		provider: provider,
		retry:    DefaultRetryPolicy,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ledger returns the ledger lookups are recorded in.
func (c *Cache) Ledger() ledger.Ledger {
	return c.ledger
}

// Store returns the underlying vector store.
func (c *Cache) Store() *Store {
	return c.store
}

// LookupOrFetch returns the vector for l.Text, see Resolve.
func (c *Cache) LookupOrFetch(ctx context.Context, l Lookup) ([]float32, error) {
	e, err := c.Resolve(ctx, l)
	if err != nil {
		return nil, err
	}
	return e.Vector, nil
}

// Resolve looks l up and records exactly one ledger entry for it.
// Replay misses return ReplayCacheMissError without contacting the provider.
func (c *Cache) Resolve(ctx context.Context, l Lookup) (Entry, error) {
	if l.Mode != models.ModeOnline && l.Mode != models.ModeReplay {
		return Entry{}, fmt.Errorf("%w: %q", models.ErrInvalidMode, l.Mode)
	}
	if l.ModelID == "" {
		return Entry{}, errors.New("lookup without model id")
	}
	key := KeyFor(l.ModelID, l.Text)
	rec := ledger.Record{
		RunID:             l.RunID,
		Key:               key.String(),
		ModelID:           l.ModelID,
		Mode:              l.Mode,
		NetworkDisallowed: l.Mode == models.ModeReplay,
	}

	if model, vec, ok := c.store.Get(key); ok && model == l.ModelID {
		if err := c.record(ctx, rec, ledger.OutcomeHit); err != nil {
			return Entry{}, err
		}
		return Entry{Key: key, ModelID: model, Vector: vec, Source: SourceCached}, nil
	}

	if l.Mode == models.ModeReplay {
		if err := c.record(ctx, rec, ledger.OutcomeMissFailed); err != nil {
			return Entry{}, err
		}
		c.logger.Warn("replay cache miss", zap.String("key", rec.Key), zap.String("model", l.ModelID))
		return Entry{}, &models.ReplayCacheMissError{Key: rec.Key, ModelID: l.ModelID}
	}

	vec, fetched, err := c.fetchOnce(ctx, key, l)
	if err != nil {
		if lerr := c.record(ctx, rec, ledger.OutcomeMissFailed); lerr != nil {
			return Entry{}, errors.Join(err, lerr)
		}
		return Entry{}, err
	}
	// One caller per fetch records it as fetched; callers that joined its flight or
	// found the vector committed meanwhile record a hit.
	outcome, source := ledger.OutcomeHit, SourceCached
	if fetched {
		outcome, source = ledger.OutcomeMissFetched, SourceFetched
	}
	if err := c.record(ctx, rec, outcome); err != nil {
		return Entry{}, err
	}
	return Entry{Key: key, ModelID: l.ModelID, Vector: vec, Source: source}, nil
}

// flightResult is shared by every caller that joined one fetch. The first caller to
// consume a fetched result claims the miss-fetched ledger outcome.
type flightResult struct {
	vec     []float32
	fetched bool
	claimed atomic.Bool
}

// fetchOnce runs at most one fetch per key. The fetch is detached from the cancellation
// of whichever caller started it, so joiners from other queries are not failed by it;
// each caller still stops waiting when its own ctx ends.
func (c *Cache) fetchOnce(ctx context.Context, key Key, l Lookup) ([]float32, bool, error) {
	fctx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(key.String(), func() (any, error) {
		if err := c.store.Refresh(); err != nil {
			return nil, err
		}
		if model, vec, ok := c.store.Get(key); ok && model == l.ModelID {
			return &flightResult{vec: vec}, nil
		}
		vec, err := c.fetch(fctx, key, l)
		if err != nil {
			return nil, err
		}
		if err := c.store.Put(key, l.ModelID, vec); err != nil {
			// Another writer committed this key first; its vector is the canonical one.
			if model, stored, ok := c.store.Get(key); ok && model == l.ModelID && errors.Is(err, models.ErrCacheIntegrity) {
				c.logger.Warn("vector committed concurrently, using stored value", zap.String("key", key.String()))
				return &flightResult{vec: stored}, nil
			}
			return nil, err
		}
		return &flightResult{vec: vec, fetched: true}, nil
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, false, r.Err
		}
		res := r.Val.(*flightResult)
		fetched := res.fetched && res.claimed.CompareAndSwap(false, true)
		return append([]float32(nil), res.vec...), fetched, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// fetch calls the provider with a per-attempt timeout, retrying rate-limit and
// unavailable failures with exponential backoff. Invalid input fails at once.
func (c *Cache) fetch(ctx context.Context, key Key, l Lookup) ([]float32, error) {
	if c.provider == nil {
		return nil, &models.FetchError{Key: key.String(), ModelID: l.ModelID, Cause: errors.New("no embedding provider configured")}
	}
	attempts := 0
	op := func() ([]float32, error) {
		attempts++
		actx := ctx
		if c.retry.Timeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, c.retry.Timeout)
			defer cancel()
		}
		vec, err := c.provider.Embed(actx, l.ModelID, l.Text)
		if err != nil {
			kind := embedding.KindOf(err)
			c.logger.Debug("embedding attempt failed",
				zap.Int("attempt", attempts),
				zap.String("kind", string(kind)),
				zap.Error(err))
			if !kind.Retryable() {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return vec, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retry.InitialInterval
	b.MaxInterval = c.retry.MaxInterval
	vec, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.retry.MaxRetries+1)),
	)
	if err != nil {
		c.logger.Warn("embedding fetch failed",
			zap.String("key", key.String()),
			zap.String("model", l.ModelID),
			zap.Int("attempts", attempts),
			zap.Error(err))
		return nil, &models.FetchError{Key: key.String(), ModelID: l.ModelID, Attempts: attempts, Cause: err}
	}
	return vec, nil
}

func (c *Cache) record(ctx context.Context, rec ledger.Record, outcome ledger.Outcome) error {
	rec.Outcome = outcome
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(string(outcome)).Inc()
	}
	if _, err := c.ledger.Append(ctx, rec); err != nil {
		return fmt.Errorf("ledger append: %w", err)
	}
	return nil
}
