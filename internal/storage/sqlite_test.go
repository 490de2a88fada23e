package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/kensa/internal/models"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func fixtureDocs() []*models.Document {
	return []*models.Document{
		{ID: "d1", Company: "acme", Theme: "climate", Title: "Scope 1", Body: "emissions fell", PublishedAt: day(3)},
		{ID: "d2", Company: "acme", Theme: "governance", Body: "board independence", PublishedAt: day(2)},
		{ID: "d3", Company: "globex", Theme: "climate", Body: "net zero target", PublishedAt: day(2)},
		{ID: "d4", Company: "acme", Theme: "climate", Body: "water usage", PublishedAt: day(1), TextLength: 500},
	}
}

func newFixtureCatalog(t *testing.T) *SQLiteCatalog {
	t.Helper()
	path := filepath.Join(t.TempDir(), "esg.db")
	if err := WriteCatalog(context.Background(), path, fixtureDocs()); err != nil {
		t.Fatal(err)
	}
	c, err := OpenCatalog(context.Background(), "esg", path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func ids(docs []*models.Document) string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return strings.Join(out, ",")
}

func TestSQLiteCatalog_Select(t *testing.T) {
	c := newFixtureCatalog(t)
	ctx := context.Background()
	after := day(2)
	before := day(3)

	tests := []struct {
		name   string
		filter models.Filter
		want   string
	}{
		{"all ordered by date desc then id", models.Filter{Limit: 10}, "d1,d2,d3,d4"},
		{"limit", models.Filter{Limit: 2}, "d1,d2"},
		{"company", models.Filter{Company: "acme", Limit: 10}, "d1,d2,d4"},
		{"company and theme", models.Filter{Company: "acme", Theme: "climate", Limit: 10}, "d1,d4"},
		{"after inclusive", models.Filter{PublishedAfter: &after, Limit: 10}, "d1,d2,d3"},
		{"before exclusive", models.Filter{PublishedBefore: &before, Limit: 10}, "d2,d3,d4"},
		{"min length", models.Filter{MinLength: 100, Limit: 10}, "d4"},
		{"max length", models.Filter{MaxLength: 100, Limit: 10}, "d1,d2,d3"},
		{"no match", models.Filter{Company: "initech", Limit: 10}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := c.Select(ctx, tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			if got := ids(docs); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSQLiteCatalog_roundTripsFields(t *testing.T) {
	c := newFixtureCatalog(t)
	docs, err := c.Select(context.Background(), models.Filter{Company: "globex", Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 {
		t.Fatalf("got %d docs", len(docs))
	}
	d := docs[0]
	if !d.PublishedAt.Equal(day(2)) {
		t.Errorf("PublishedAt = %v", d.PublishedAt)
	}
	if d.TextLength != len("net zero target") {
		t.Errorf("TextLength = %d, want derived length", d.TextLength)
	}
	n, err := c.CountDocuments(context.Background())
	if err != nil || n != 4 {
		t.Errorf("CountDocuments = %d, %v", n, err)
	}
}

func TestOpenCatalog_missingFileIsUnavailable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.db")
	_, err := OpenCatalog(context.Background(), "absent", path)
	if !errors.Is(err, models.ErrCatalogUnavailable) {
		t.Fatalf("got %v, want ErrCatalogUnavailable", err)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("opening a missing catalog must not create it")
	}
}

func TestOpenCatalog_notACatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.db")
	if err := os.WriteFile(path, []byte("not sqlite"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := OpenCatalog(context.Background(), "junk", path)
	if !errors.Is(err, models.ErrCatalogUnavailable) {
		t.Fatalf("got %v, want ErrCatalogUnavailable", err)
	}
}

func TestReadJSONLines(t *testing.T) {
	in := `{"id":"a","company":"acme","body":"x","published_at":"2024-01-01T00:00:00Z"}

{"id":"b","body":"y","published_at":"2024-01-02T00:00:00Z"}
`
	docs, err := ReadJSONLines(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 || docs[0].Company != "acme" || !docs[1].PublishedAt.Equal(day(2)) {
		t.Errorf("docs = %+v", docs)
	}

	if _, err := ReadJSONLines(strings.NewReader(`{"body":"no id"}`)); err == nil {
		t.Error("expected error for missing id")
	}
}
