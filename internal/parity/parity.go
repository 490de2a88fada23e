// Package parity checks that every evidence id a caller relies on is present in the fused top-k.
package parity

import (
	"sort"

	"github.com/hyperjump/kensa/internal/models"
)

// Validate computes evidence minus topK. The verdict lists evidence and Missing sorted
// and de-duplicated; SubsetOK holds exactly when Missing is empty. An empty evidence set
// always passes.
func Validate(evidence, topK []string) models.ParityVerdict {
	present := make(map[string]struct{}, len(topK))
	for _, id := range topK {
		present[id] = struct{}{}
	}
	ev := uniqueSorted(evidence)
	missing := []string{}
	for _, id := range ev {
		if _, ok := present[id]; !ok {
			missing = append(missing, id)
		}
	}
	return models.ParityVerdict{
		Evidence: ev,
		TopK:     append([]string{}, topK...),
		SubsetOK: len(missing) == 0,
		Missing:  missing,
	}
}

func uniqueSorted(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
