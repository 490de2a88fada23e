package keyword

import (
	"math"
	"reflect"
	"testing"

	"github.com/hyperjump/kensa/internal/models"
)

func newTestScorer(t *testing.T) *Scorer {
	t.Helper()
	s, err := NewScorer()
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func docs(bodies ...string) []*models.Document {
	out := make([]*models.Document, len(bodies))
	for i, b := range bodies {
		out[i] = &models.Document{ID: string(rune('a' + i)), Body: b}
	}
	return out
}

func TestAnalyzer_Terms(t *testing.T) {
	a, err := NewAnalyzer()
	if err != nil {
		t.Fatal(err)
	}
	got := a.Terms("The Scope-1 Emissions of the company")
	want := []string{"scope", "1", "emissions", "company"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Terms() = %v, want %v", got, want)
	}
	if again := a.Terms("The Scope-1 Emissions of the company"); !reflect.DeepEqual(again, got) {
		t.Error("analysis must be idempotent")
	}
	if got := a.UniqueTerms("water Water WATER usage"); !reflect.DeepEqual(got, []string{"water", "usage"}) {
		t.Errorf("UniqueTerms() = %v", got)
	}
}

func TestScore_emptyQuery(t *testing.T) {
	s := newTestScorer(t)
	for _, q := range []string{"", "   ", "the of and"} {
		scores := s.Score(q, docs("emissions fell", "board"))
		for i, v := range scores {
			if v != 0 {
				t.Errorf("query %q doc %d: score %v, want 0", q, i, v)
			}
		}
	}
}

func TestScore_noDocs(t *testing.T) {
	if got := newTestScorer(t).Score("emissions", nil); len(got) != 0 {
		t.Errorf("got %v", got)
	}
}

func TestScore_matchesFormula(t *testing.T) {
	s := newTestScorer(t)
	// Two docs, one term present once in the first.
	scores := s.Score("emissions", docs("emissions fell", "board independence"))
	idf := math.Log((2-1+0.5)/(1+0.5) + 1)
	// dl = 2, avgdl = 2
	tf := 1 * (DefaultK1 + 1) / (1 + DefaultK1*(1-DefaultB+DefaultB*1))
	want := idf * tf
	if math.Abs(scores[0]-want) > 1e-12 {
		t.Errorf("score = %v, want %v", scores[0], want)
	}
	if scores[1] != 0 {
		t.Errorf("non-matching doc: %v", scores[1])
	}
}

func TestScore_repeatedQueryTermsCountOnce(t *testing.T) {
	s := newTestScorer(t)
	d := docs("net zero target by 2030", "water usage")
	once := s.Score("target", d)
	twice := s.Score("target target TARGET", d)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("once = %v, twice = %v", once, twice)
	}
}

func TestScore_higherTermFrequencyScoresHigher(t *testing.T) {
	s := newTestScorer(t)
	scores := s.Score("emissions", docs("emissions emissions reduced", "emissions stable today", "board"))
	if !(scores[0] > scores[1] && scores[1] > scores[2]) {
		t.Errorf("scores not ordered by tf: %v", scores)
	}
}

func TestScore_usesTitle(t *testing.T) {
	s := newTestScorer(t)
	d := []*models.Document{
		{ID: "t", Title: "Emissions report", Body: "annual figures"},
		{ID: "u", Body: "annual figures"},
	}
	scores := s.Score("emissions", d)
	if scores[0] <= 0 || scores[1] != 0 {
		t.Errorf("scores = %v", scores)
	}
}

func TestScore_deterministic(t *testing.T) {
	s := newTestScorer(t)
	d := docs("scope one scope two scope three", "scope three supply chain", "renewable energy share")
	first := s.Score("scope three renewable", d)
	for i := 0; i < 3; i++ {
		if got := s.Score("scope three renewable", d); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d = %v, want %v", i, got, first)
		}
	}
}

func TestWithParams(t *testing.T) {
	s, err := NewScorer(WithParams(2.0, 0.5))
	if err != nil {
		t.Fatal(err)
	}
	if k1, b := s.Params(); k1 != 2.0 || b != 0.5 {
		t.Errorf("Params() = %v, %v", k1, b)
	}
}
