package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/kensa/internal/models"
)

// CatalogExt is the file extension of catalog files inside the catalog directory.
const CatalogExt = ".db"

// Registry resolves corpus names to open catalogs under one directory and caches the handles.
// A handle stays valid while a View callback runs; Invalidate waits for in-flight views.
type Registry struct {
	dir    string
	logger *zap.Logger

	mu      sync.RWMutex
	handles map[string]*SQLiteCatalog
	closed  bool
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger.
func WithRegistryLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = l
	}
}

// NewRegistry returns a registry for catalogs stored as <dir>/<corpus>.db.
func NewRegistry(dir string, opts ...RegistryOption) *Registry {
	r := &Registry{
		dir:     dir,
		logger:  zap.NewNop(),
		handles: make(map[string]*SQLiteCatalog),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dir returns the catalog directory.
func (r *Registry) Dir() string {
	return r.dir
}

// PathFor returns the catalog file path for corpus.
func (r *Registry) PathFor(corpus string) string {
	return filepath.Join(r.dir, corpus+CatalogExt)
}

// CorpusForPath maps a catalog file path back to its corpus name.
// ok is false for files that are not catalogs (WAL/SHM side files, other extensions).
func (r *Registry) CorpusForPath(path string) (corpus string, ok bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, CatalogExt) {
		return "", false
	}
	corpus = strings.TrimSuffix(base, CatalogExt)
	return corpus, validCorpusName(corpus) == nil
}

// View runs fn with the catalog for corpus. The handle must not be retained after fn returns.
func (r *Registry) View(ctx context.Context, corpus string, fn func(Catalog) error) error {
	if err := validCorpusName(corpus); err != nil {
		return &models.CatalogUnavailableError{Corpus: corpus, Path: r.dir, Cause: err}
	}
	for {
		r.mu.RLock()
		if r.closed {
			r.mu.RUnlock()
			return &models.CatalogUnavailableError{Corpus: corpus, Path: r.dir, Cause: errors.New("registry closed")}
		}
		if c, ok := r.handles[corpus]; ok {
			err := fn(c)
			r.mu.RUnlock()
			return err
		}
		r.mu.RUnlock()

		if err := r.open(ctx, corpus); err != nil {
			return err
		}
	}
}

func (r *Registry) open(ctx context.Context, corpus string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handles[corpus]; ok || r.closed {
		return nil
	}
	c, err := OpenCatalog(ctx, corpus, r.PathFor(corpus))
	if err != nil {
		return err
	}
	r.handles[corpus] = c
	r.logger.Debug("catalog opened", zap.String("corpus", corpus), zap.String("path", c.Path()))
	return nil
}

// Invalidate closes the cached handle for corpus so the next View reopens the file.
func (r *Registry) Invalidate(corpus string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.handles[corpus]
	if !ok {
		return
	}
	delete(r.handles, corpus)
	if err := c.Close(); err != nil {
		r.logger.Warn("catalog close failed", zap.String("corpus", corpus), zap.Error(err))
	}
	r.logger.Info("catalog invalidated", zap.String("corpus", corpus))
}

// Corpora lists the corpus names that have a catalog file, sorted.
func (r *Registry) Corpora() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if name, ok := r.CorpusForPath(e.Name()); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Close closes every cached handle. Later Views fail with CatalogUnavailableError.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	var errs []error
	for name, c := range r.handles {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	r.handles = map[string]*SQLiteCatalog{}
	return errors.Join(errs...)
}

func validCorpusName(name string) error {
	if name == "" {
		return errors.New("empty corpus name")
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid corpus name %q", name)
	}
	return nil
}
