// Package cli provides output helpers for the kensa command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hyperjump/kensa/internal/harness"
	"github.com/hyperjump/kensa/internal/models"
	"github.com/hyperjump/kensa/internal/search"
	"github.com/hyperjump/kensa/pkg/utils"
)

// OutputFormat selects how results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text" and "json"; the empty string means text.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (supported: text, json)", s)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// RetrieveOutput is a retrieval result with the optional parity verdict.
type RetrieveOutput struct {
	*search.RetrieveResponse
	Parity *models.ParityVerdict `json:"parity,omitempty"`
}

// WriteRetrieveResult writes a fused top-k in the given format.
func WriteRetrieveResult(w io.Writer, out RetrieveOutput, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, out)
	}
	r := out.RetrieveResponse
	fmt.Fprintf(w, "\nRun %s (%s, alpha=%.2f): %d candidates, top %d\n",
		r.RunID, r.Mode, r.Alpha, r.Candidates, len(r.FusedTopK))
	fmt.Fprintf(w, "Cache: %d hits, %d fetched, %d failed\n\n",
		r.Ledger.Hits, r.Ledger.Fetched, r.Ledger.Failed)
	for _, c := range r.FusedTopK {
		sem := "n/a"
		if c.Semantic != nil {
			sem = fmt.Sprintf("%.4f", *c.Semantic)
		}
		fmt.Fprintf(w, "%3d. %-24s fused %.4f  (lexical %.4f, semantic %s)  %s\n",
			c.Rank, c.ID, c.Fused, c.Lexical, sem, c.PublishedAt.Format("2006-01-02"))
	}
	if out.Parity != nil {
		fmt.Fprintln(w)
		writeVerdictText(w, *out.Parity)
	}
	return nil
}

// WriteVerdict writes a parity verdict in the given format.
func WriteVerdict(w io.Writer, v models.ParityVerdict, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, v)
	}
	writeVerdictText(w, v)
	return nil
}

func writeVerdictText(w io.Writer, v models.ParityVerdict) {
	if v.SubsetOK {
		fmt.Fprintf(w, "Parity: PASS (%d evidence ids in top-k)\n", len(v.Evidence))
		return
	}
	fmt.Fprintf(w, "Parity: FAIL, missing %s\n", strings.Join(v.Missing, ", "))
}

// WriteReport writes a determinism report in the given format.
func WriteReport(w io.Writer, r *harness.Report, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, r)
	}
	verdict := "DETERMINISTIC"
	if !r.Deterministic {
		verdict = "DIVERGED"
	}
	fmt.Fprintf(w, "%s over %d runs (%s)\n", verdict, len(r.Runs), r.Mode)
	for i, run := range r.Runs {
		fmt.Fprintf(w, "  run %d  %s  %s\n", i+1, utils.Truncate(run.Hash, 16), run.RunID)
	}
	idx := make([]int, 0, len(r.Diffs))
	for i := range r.Diffs {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	for _, i := range idx {
		fmt.Fprintf(w, "\n--- run 1 vs run %d ---\n%s\n", i+1, r.Diffs[i])
	}
	return nil
}

// SplitIDs parses a comma separated id list, dropping blanks.
func SplitIDs(s string) []string {
	var ids []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, p)
		}
	}
	return ids
}
