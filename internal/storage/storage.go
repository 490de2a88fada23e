// Package storage provides read access to per-corpus document catalogs.
package storage

import (
	"context"

	"github.com/hyperjump/kensa/internal/models"
)

// Catalog is a snapshot of one corpus. The retrieval pipeline only reads from it.
type Catalog interface {
	// Select returns the documents matching filter, at most filter.Limit of them,
	// ordered by (published_at desc, id asc).
	Select(ctx context.Context, filter models.Filter) ([]*models.Document, error)

	// Stats
	CountDocuments(ctx context.Context) (int64, error)

	Close() error
}
