package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kensa/internal/models"
)

var documentColumns = []string{
	"id", "company", "theme", "title", "body", "published_at", "text_length", "age_days",
}

// SQLiteCatalog implements Catalog over a single SQLite file.
type SQLiteCatalog struct {
	db   *sql.DB
	path string
}

// OpenCatalog opens an existing catalog file read-only.
// A missing or malformed file is reported as a CatalogUnavailableError; it is never created.
func OpenCatalog(ctx context.Context, corpus, path string) (*SQLiteCatalog, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, &models.CatalogUnavailableError{Corpus: corpus, Path: path, Cause: err}
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, &models.CatalogUnavailableError{Corpus: corpus, Path: path, Cause: err}
	}
	// Probe the schema so a stray file in the catalog dir fails here, not mid-query.
	var one int
	err = db.QueryRowContext(ctx, "SELECT 1 FROM documents LIMIT 1").Scan(&one)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		_ = db.Close()
		return nil, &models.CatalogUnavailableError{Corpus: corpus, Path: path, Cause: err}
	}
	return &SQLiteCatalog{db: db, path: path}, nil
}

// CreateCatalog opens or creates a writable catalog at path and initializes the schema.
// Parent directories are created if they do not exist. Used by fixture loading only.
func CreateCatalog(path string) (*SQLiteCatalog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create catalog directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	// Rollback journal, not WAL: read-only opens cannot create the -shm file.
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteCatalog{db: db, path: path}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		company TEXT NOT NULL DEFAULT '',
		theme TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL,
		published_at INTEGER NOT NULL,
		text_length INTEGER NOT NULL,
		age_days INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_documents_order ON documents(published_at DESC, id ASC);
	CREATE INDEX IF NOT EXISTS idx_documents_company ON documents(company);
	CREATE INDEX IF NOT EXISTS idx_documents_theme ON documents(theme);
	`
	_, err := db.Exec(schema)
	return err
}

// PutDocuments upserts documents in one transaction.
// TextLength is derived from the scored text when zero.
func (c *SQLiteCatalog) PutDocuments(ctx context.Context, docs []*models.Document) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO documents (id, company, theme, title, body, published_at, text_length, age_days)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, d := range docs {
		if d.ID == "" {
			return fmt.Errorf("document without id")
		}
		length := d.TextLength
		if length == 0 {
			length = utf8.RuneCountInString(d.Text())
		}
		if _, err := stmt.ExecContext(ctx, d.ID, d.Company, d.Theme, d.Title, d.Body,
			d.PublishedAt.UTC().UnixMilli(), length, d.AgeDays); err != nil {
			return fmt.Errorf("insert %s: %w", d.ID, err)
		}
	}
	return tx.Commit()
}

// Select implements Catalog.
func (c *SQLiteCatalog) Select(ctx context.Context, filter models.Filter) ([]*models.Document, error) {
	query, args, err := selectQuery(filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build catalog query: %w", err)
	}
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		var d models.Document
		var publishedMS int64
		if err := rows.Scan(&d.ID, &d.Company, &d.Theme, &d.Title, &d.Body,
			&publishedMS, &d.TextLength, &d.AgeDays); err != nil {
			return nil, err
		}
		d.PublishedAt = time.UnixMilli(publishedMS).UTC()
		docs = append(docs, &d)
	}
	return docs, rows.Err()
}

func selectQuery(filter models.Filter) sq.SelectBuilder {
	b := sq.Select(documentColumns...).From("documents")
	if filter.Company != "" {
		b = b.Where(sq.Eq{"company": filter.Company})
	}
	if filter.Theme != "" {
		b = b.Where(sq.Eq{"theme": filter.Theme})
	}
	if filter.PublishedAfter != nil {
		b = b.Where(sq.GtOrEq{"published_at": filter.PublishedAfter.UTC().UnixMilli()})
	}
	if filter.PublishedBefore != nil {
		b = b.Where(sq.Lt{"published_at": filter.PublishedBefore.UTC().UnixMilli()})
	}
	if filter.MinLength > 0 {
		b = b.Where(sq.GtOrEq{"text_length": filter.MinLength})
	}
	if filter.MaxLength > 0 {
		b = b.Where(sq.LtOrEq{"text_length": filter.MaxLength})
	}
	return b.OrderBy("published_at DESC", "id ASC").Limit(uint64(filter.Limit))
}

// CountDocuments returns the total number of documents in the catalog.
func (c *SQLiteCatalog) CountDocuments(ctx context.Context) (int64, error) {
	var count int64
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}

// Path returns the catalog file path.
func (c *SQLiteCatalog) Path() string {
	return c.path
}

// Close closes the database connection.
func (c *SQLiteCatalog) Close() error {
	return c.db.Close()
}
