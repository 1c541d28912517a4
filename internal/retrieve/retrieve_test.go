package retrieve

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/lavlagaa/lavlagaa/internal/corpus"
	"github.com/lavlagaa/lavlagaa/internal/index"
	"github.com/lavlagaa/lavlagaa/internal/log"
)

// stubRetriever returns a fixed result list or a fixed error.
type stubRetriever struct {
	results []index.Result
	err     error
}

func (s *stubRetriever) Retrieve(_ context.Context, _ string, k int) ([]index.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	results := s.results
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

func scored(id string, score float64) index.Result {
	return index.Result{Passage: corpus.Passage{ID: id, Text: "бичвэр " + id}, Score: score}
}

func defaultCfg() Config {
	return Config{TopK: 3, SemanticWeight: 0.6, LexicalWeight: 0.4}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestHybrid_WeightedMerge(t *testing.T) {
	sem := &stubRetriever{results: []index.Result{
		scored("A", 1.0), scored("B", 0.5), scored("C", 0.0),
	}}
	lex := &stubRetriever{results: []index.Result{
		scored("B", 2.0), scored("D", 1.0), scored("E", 0.0),
	}}

	h := NewHybrid(sem, lex, defaultCfg(), log.NewNop())
	got, err := h.Retrieve(context.Background(), "асуулт", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	// Normalised: sem A=1, B=0.5, C=0; lex B=1, D=0.5, E=0.
	// Merged: B=0.6*0.5+0.4*1=0.7, A=0.6, D=0.2, C=0, E=0.
	// C before E on the zero tie: C has a semantic rank, E does not.
	wantOrder := []string{"B", "A", "D", "C", "E"}
	wantScore := []float64{0.7, 0.6, 0.2, 0.0, 0.0}

	if len(got) != len(wantOrder) {
		t.Fatalf("got %d results, want %d", len(got), len(wantOrder))
	}
	for i := range got {
		if got[i].Passage.ID != wantOrder[i] {
			t.Errorf("rank %d = %s, want %s", i, got[i].Passage.ID, wantOrder[i])
		}
		if !almostEqual(got[i].Score, wantScore[i]) {
			t.Errorf("rank %d score = %f, want %f", i, got[i].Score, wantScore[i])
		}
	}
}

func TestHybrid_DedupesByPassageID(t *testing.T) {
	sem := &stubRetriever{results: []index.Result{scored("A", 1.0), scored("B", 0.0)}}
	lex := &stubRetriever{results: []index.Result{scored("A", 1.0), scored("C", 0.0)}}

	h := NewHybrid(sem, lex, defaultCfg(), log.NewNop())
	got, err := h.Retrieve(context.Background(), "асуулт", 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	seen := make(map[string]int)
	for _, r := range got {
		seen[r.Passage.ID]++
	}
	if seen["A"] != 1 {
		t.Errorf("passage A appears %d times, want 1", seen["A"])
	}
	// A is in both lists at full normalised score: 0.6 + 0.4.
	if !almostEqual(got[0].Score, 1.0) {
		t.Errorf("deduped score = %f, want 1.0", got[0].Score)
	}
}

func TestHybrid_TruncatesToK(t *testing.T) {
	sem := &stubRetriever{results: []index.Result{
		scored("A", 3), scored("B", 2), scored("C", 1),
	}}
	lex := &stubRetriever{results: []index.Result{
		scored("D", 3), scored("E", 2), scored("F", 1),
	}}

	h := NewHybrid(sem, lex, defaultCfg(), log.NewNop())
	got, err := h.Retrieve(context.Background(), "асуулт", 3)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("got %d results, want 3", len(got))
	}
}

func TestHybrid_SemanticFailureDegradesToLexical(t *testing.T) {
	sem := &stubRetriever{err: errors.New("embedding endpoint down")}
	lex := &stubRetriever{results: []index.Result{
		scored("A", 2.0), scored("B", 1.0), scored("C", 0.0),
	}}

	h := NewHybrid(sem, lex, defaultCfg(), log.NewNop())
	got, err := h.Retrieve(context.Background(), "асуулт", 3)
	if err != nil {
		t.Fatalf("expected degradation, got error: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("got %d results, want 3", len(got))
	}
	// Lexical-only results are still scaled by the lexical weight.
	if !almostEqual(got[0].Score, 0.4) {
		t.Errorf("top degraded score = %f, want 0.4", got[0].Score)
	}
	if got[0].Passage.ID != "A" {
		t.Errorf("top result = %s, want A", got[0].Passage.ID)
	}
}

func TestHybrid_LexicalFailureDegradesToSemantic(t *testing.T) {
	sem := &stubRetriever{results: []index.Result{scored("A", 1.0), scored("B", 0.0)}}
	lex := &stubRetriever{err: errors.New("index corrupted")}

	h := NewHybrid(sem, lex, defaultCfg(), log.NewNop())
	got, err := h.Retrieve(context.Background(), "асуулт", 3)
	if err != nil {
		t.Fatalf("expected degradation, got error: %v", err)
	}
	if len(got) != 2 || got[0].Passage.ID != "A" {
		t.Fatalf("unexpected results: %v", got)
	}
	if !almostEqual(got[0].Score, 0.6) {
		t.Errorf("top degraded score = %f, want 0.6", got[0].Score)
	}
}

func TestHybrid_AllFailed(t *testing.T) {
	sem := &stubRetriever{err: errors.New("sem down")}
	lex := &stubRetriever{err: errors.New("lex down")}

	h := NewHybrid(sem, lex, defaultCfg(), log.NewNop())
	_, err := h.Retrieve(context.Background(), "асуулт", 3)
	if !errors.Is(err, ErrAllRetrieversFailed) {
		t.Errorf("expected ErrAllRetrieversFailed, got %v", err)
	}
}

func TestHybrid_SingleResultNormalisesToFullScore(t *testing.T) {
	sem := &stubRetriever{results: []index.Result{scored("A", 0.123)}}
	lex := &stubRetriever{results: []index.Result{scored("B", 42.0)}}

	h := NewHybrid(sem, lex, defaultCfg(), log.NewNop())
	got, err := h.Retrieve(context.Background(), "асуулт", 3)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	if got[0].Passage.ID != "A" || !almostEqual(got[0].Score, 0.6) {
		t.Errorf("got %s/%f, want A/0.6", got[0].Passage.ID, got[0].Score)
	}
	if got[1].Passage.ID != "B" || !almostEqual(got[1].Score, 0.4) {
		t.Errorf("got %s/%f, want B/0.4", got[1].Passage.ID, got[1].Score)
	}
}

func TestHybrid_DefaultKFromConfig(t *testing.T) {
	sem := &stubRetriever{results: []index.Result{
		scored("A", 3), scored("B", 2), scored("C", 1), scored("D", 0),
	}}
	lex := &stubRetriever{results: nil}

	h := NewHybrid(sem, lex, Config{TopK: 2, SemanticWeight: 0.6, LexicalWeight: 0.4}, log.NewNop())
	got, err := h.Retrieve(context.Background(), "асуулт", 0)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d results, want TopK=2", len(got))
	}
}
