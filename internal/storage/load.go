package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/kensa/internal/models"
)

// WriteCatalog creates (or extends) the catalog at path with docs.
func WriteCatalog(ctx context.Context, path string, docs []*models.Document) error {
	c, err := CreateCatalog(path)
	if err != nil {
		return err
	}
	if err := c.PutDocuments(ctx, docs); err != nil {
		_ = c.Close()
		return err
	}
	return c.Close()
}

// ReadJSONLines decodes one document per line. Blank lines are skipped.
func ReadJSONLines(r io.Reader) ([]*models.Document, error) {
	var docs []*models.Document
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var d models.Document
		if err := json.Unmarshal([]byte(text), &d); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if d.ID == "" {
			return nil, fmt.Errorf("line %d: missing id", line)
		}
		docs = append(docs, &d)
	}
	return docs, sc.Err()
}
