package keyword

import (
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
)

// Analyzer turns text into index terms with bleve's standard analyzer:
// unicode word segmentation, lowercasing and English stop word removal. No stemming,
// so "emission" and "emissions" stay distinct terms.
type Analyzer struct {
	analyze func([]byte) analysis.TokenStream
}

// NewAnalyzer resolves the standard analyzer from a default index mapping.
func NewAnalyzer() (*Analyzer, error) {
	a := bleve.NewIndexMapping().AnalyzerNamed(standard.Name)
	if a == nil {
		return nil, fmt.Errorf("bleve analyzer %q not registered", standard.Name)
	}
	return &Analyzer{analyze: a.Analyze}, nil
}

// Terms returns the terms of text in order of appearance, repeats included.
func (a *Analyzer) Terms(text string) []string {
	if text == "" {
		return nil
	}
	tokens := a.analyze([]byte(text))
	terms := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if len(tok.Term) == 0 {
			continue
		}
		terms = append(terms, string(tok.Term))
	}
	return terms
}

// UniqueTerms returns Terms with repeats removed, first occurrence kept.
func (a *Analyzer) UniqueTerms(text string) []string {
	terms := a.Terms(text)
	seen := make(map[string]struct{}, len(terms))
	out := terms[:0]
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
