package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDiskUsageBytes(t *testing.T) {
	dir := t.TempDir()

	vectors := filepath.Join(dir, "vectors.kvec")
	if err := os.WriteFile(vectors, []byte("KENSAVEC"), 0644); err != nil {
		t.Fatal(err)
	}
	catalogs := filepath.Join(dir, "catalogs")
	if err := os.Mkdir(catalogs, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(catalogs, "a.db"), []byte("ab"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(catalogs, "b.db"), []byte("c"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		paths []string
		want  int64
	}{
		{"single file", []string{vectors}, 8},
		{"directory", []string{catalogs}, 3},
		{"file and directory", []string{vectors, catalogs}, 11},
		{"missing path skipped", []string{vectors, filepath.Join(dir, "ledger.db"), catalogs}, 11},
		{"empty path skipped", []string{"", vectors}, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DiskUsageBytes(tt.paths...)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %d bytes, want %d", got, tt.want)
			}
		})
	}
}
