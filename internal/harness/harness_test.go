package harness

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/kensa/internal/models"
	"github.com/hyperjump/kensa/internal/search"
)

// scripted returns its responses in order, repeating the last one.
type scripted struct {
	lists [][]models.ScoredCandidate
	err   error
	calls int
}

func (s *scripted) Retrieve(context.Context, models.RetrieveRequest) (*search.RetrieveResponse, error) {
	i := s.calls
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if i >= len(s.lists) {
		i = len(s.lists) - 1
	}
	return &search.RetrieveResponse{RunID: "r", FusedTopK: s.lists[i]}, nil
}

var replayRequest = models.RetrieveRequest{Mode: models.ModeReplay}

func sem(v float64) *float64 { return &v }

var published = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func list(fusedB float64) []models.ScoredCandidate {
	return []models.ScoredCandidate{
		{ID: "a", PublishedAt: published, Lexical: 2.5, Semantic: sem(0.8), Fused: 1, Rank: 1},
		{ID: "b", PublishedAt: published, Lexical: 1.5, Semantic: sem(0.1), Fused: fusedB, Rank: 2},
	}
}

func TestVerify_deterministic(t *testing.T) {
	r := &scripted{lists: [][]models.ScoredCandidate{list(0.25)}}
	report, err := New(r).Verify(context.Background(), replayRequest, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Deterministic || report.Err() != nil {
		t.Errorf("report = %+v", report)
	}
	if len(report.Runs) != 3 || r.calls != 3 {
		t.Errorf("runs = %d calls = %d, want 3", len(report.Runs), r.calls)
	}
	for _, run := range report.Runs {
		if run.Hash != report.Runs[0].Hash {
			t.Error("hashes differ for identical output")
		}
	}
}

func TestVerify_raisesRunsToMinimum(t *testing.T) {
	r := &scripted{lists: [][]models.ScoredCandidate{list(0.25)}}
	report, err := Run(context.Background(), r, replayRequest, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Runs) != MinRuns {
		t.Errorf("runs = %d, want %d", len(report.Runs), MinRuns)
	}
}

func TestVerify_divergence(t *testing.T) {
	r := &scripted{lists: [][]models.ScoredCandidate{list(0.25), list(0.25), list(0.5)}}
	report, err := New(r).Verify(context.Background(), replayRequest, 3)
	if err != nil {
		t.Fatal(err)
	}
	if report.Deterministic {
		t.Fatal("expected divergence")
	}
	if !errors.Is(report.Err(), models.ErrNondeterministic) {
		t.Errorf("Err() = %v", report.Err())
	}
	if len(report.Diffs) != 1 || !strings.Contains(report.Diffs[2], "0.5") {
		t.Errorf("diffs = %v", report.Diffs)
	}
}

func TestVerify_runErrorAborts(t *testing.T) {
	r := &scripted{err: models.ErrReplayCacheMiss}
	_, err := New(r).Verify(context.Background(), replayRequest, 3)
	if !errors.Is(err, models.ErrReplayCacheMiss) {
		t.Errorf("err = %v", err)
	}
	if r.calls != 1 {
		t.Errorf("calls = %d, want 1", r.calls)
	}
}

func TestHash(t *testing.T) {
	h1, err := Hash(list(0.25))
	if err != nil {
		t.Fatal(err)
	}
	h2, _ := Hash(list(0.25))
	h3, _ := Hash(list(0.2500001))
	if h1 != h2 {
		t.Error("equal lists must hash equally")
	}
	if h1 == h3 {
		t.Error("different fused scores must change the hash")
	}

	lexOnly := list(0.25)
	lexOnly[1].Semantic = nil
	h4, _ := Hash(lexOnly)
	if h4 == h1 {
		t.Error("absent semantic score must differ from a present one")
	}
}

func TestVerify_requiresReplayMode(t *testing.T) {
	tests := []struct {
		name string
		mode models.Mode
	}{
		{"online", models.ModeOnline},
		{"unset", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &scripted{lists: [][]models.ScoredCandidate{list(0.25)}}
			_, err := New(r).Verify(context.Background(), models.RetrieveRequest{Mode: tt.mode}, 3)
			if !errors.Is(err, models.ErrInvalidMode) {
				t.Errorf("err = %v, want ErrInvalidMode", err)
			}
			if r.calls != 0 {
				t.Errorf("calls = %d, want 0", r.calls)
			}
		})
	}
}
