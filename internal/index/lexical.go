package index

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/lavlagaa/lavlagaa/internal/corpus"
)

// BM25 parameters. Standard values from the literature.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// tokenPattern matches words in any script (Cyrillic included) plus numbers.
// Apostrophes inside words are kept so tokens like "байгууллага'д" survive.
var tokenPattern = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)

// Lexical is a BM25 index over the passage texts. It is cheap to build, so it
// is reconstructed from the passages on every startup instead of being
// persisted with the semantic snapshot.
type Lexical struct {
	passages  []corpus.Passage
	termFreqs []map[string]int
	docLens   []int
	avgDocLen float64
	docFreqs  map[string]int
}

// BuildLexical tokenises all passages and assembles the BM25 index.
func BuildLexical(passages []corpus.Passage) *Lexical {
	l := &Lexical{
		passages:  passages,
		termFreqs: make([]map[string]int, len(passages)),
		docLens:   make([]int, len(passages)),
		docFreqs:  make(map[string]int),
	}

	total := 0
	for i, p := range passages {
		tokens := tokenize(p.Text)
		tf := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			tf[tok]++
		}
		l.termFreqs[i] = tf
		l.docLens[i] = len(tokens)
		total += len(tokens)
		for tok := range tf {
			l.docFreqs[tok]++
		}
	}
	if len(passages) > 0 {
		l.avgDocLen = float64(total) / float64(len(passages))
	}
	return l
}

// Len returns the number of indexed passages.
func (l *Lexical) Len() int { return len(l.passages) }

// Retrieve scores all passages with BM25 against the query terms and returns
// up to k passages by descending score. Ties keep document order.
// Satisfies retrieve.Retriever. The context is accepted for interface
// symmetry; scoring is purely in-memory.
func (l *Lexical) Retrieve(_ context.Context, query string, k int) ([]Result, error) {
	if len(l.passages) == 0 {
		return nil, ErrEmptyIndex
	}

	terms := tokenize(query)

	results := make([]Result, len(l.passages))
	for i := range l.passages {
		results[i] = Result{Passage: l.passages[i], Score: l.score(terms, i)}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// score computes the BM25 score of passage i for the query terms.
func (l *Lexical) score(terms []string, i int) float64 {
	if l.avgDocLen == 0 {
		return 0
	}
	var s float64
	n := float64(len(l.passages))
	norm := 1 - bm25B + bm25B*float64(l.docLens[i])/l.avgDocLen

	for _, term := range terms {
		tf := float64(l.termFreqs[i][term])
		if tf == 0 {
			continue
		}
		df := float64(l.docFreqs[term])
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		s += idf * tf * (bm25K1 + 1) / (tf + bm25K1*norm)
	}
	return s
}

// tokenize lowercases text and extracts word and number tokens.
func tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}
