package index

import (
	"context"
	"errors"
	"testing"

	"github.com/lavlagaa/lavlagaa/internal/corpus"
)

func lexicalPassages() []corpus.Passage {
	return []corpus.Passage{
		{ID: "p-0001", Seq: 0, Text: "Иргэний үнэмлэх шинээр авахад бүрдүүлэх баримт бичиг"},
		{ID: "p-0002", Seq: 1, Text: "Оршин суугаа хаягийн лавлагааг цахимаар авч болно"},
		{ID: "p-0003", Seq: 2, Text: "Төрсний гэрчилгээг дахин олгох журам"},
	}
}

func TestLexical_Retrieve(t *testing.T) {
	idx := BuildLexical(lexicalPassages())

	results, err := idx.Retrieve(context.Background(), "хаягийн лавлагаа", 3)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].Passage.ID != "p-0002" {
		t.Errorf("top result = %s, want p-0002 (contains the query terms)", results[0].Passage.ID)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Error("results not sorted by descending score")
		}
	}
}

func TestLexical_Retrieve_LimitsK(t *testing.T) {
	idx := BuildLexical(lexicalPassages())

	results, err := idx.Retrieve(context.Background(), "лавлагаа", 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(results) != 2 {
		t.Errorf("got %d results, want 2", len(results))
	}
}

func TestLexical_Retrieve_NoMatchKeepsDocumentOrder(t *testing.T) {
	idx := BuildLexical(lexicalPassages())

	results, err := idx.Retrieve(context.Background(), "огт хамаагүй үгс", 3)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	for i, r := range results {
		if r.Score != 0 {
			t.Errorf("result %d score = %f, want 0 for no-match query", i, r.Score)
		}
		if r.Passage.Seq != i {
			t.Errorf("tie order broken: position %d has seq %d", i, r.Passage.Seq)
		}
	}
}

func TestLexical_Retrieve_Empty(t *testing.T) {
	idx := BuildLexical(nil)

	if _, err := idx.Retrieve(context.Background(), "лавлагаа", 3); !errors.Is(err, ErrEmptyIndex) {
		t.Errorf("expected ErrEmptyIndex, got %v", err)
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"cyrillic lowered", "Иргэний Үнэмлэх", []string{"иргэний", "үнэмлэх"}},
		{"numbers kept", "2024 оны 5 сар", []string{"2024", "оны", "5", "сар"}},
		{"punctuation dropped", "лавлагаа, тодорхойлолт!", []string{"лавлагаа", "тодорхойлолт"}},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tokenize(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("tokenize(%q) = %v, want %v", tt.in, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("token %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestBM25_RepeatedTermSaturates(t *testing.T) {
	passages := []corpus.Passage{
		{ID: "a", Seq: 0, Text: "лавлагаа"},
		{ID: "b", Seq: 1, Text: "лавлагаа лавлагаа лавлагаа лавлагаа тайлбар тайлбар тайлбар"},
	}
	idx := BuildLexical(passages)

	results, err := idx.Retrieve(context.Background(), "лавлагаа", 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	// Both contain the term; scores must be positive and finite.
	for _, r := range results {
		if r.Score <= 0 {
			t.Errorf("passage %s score = %f, want > 0", r.Passage.ID, r.Score)
		}
	}
}
