// Package index holds the two in-memory passage indexes: a semantic index
// over embedding vectors and a lexical BM25 index. Both are built once at
// startup and are read-only afterwards, so concurrent queries need no locking.
//
// The semantic index can be persisted to a snapshot directory keyed by the
// corpus content, chunking configuration and embedder model (see snapshot.go).
package index

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/firebase/genkit/go/ai"
	"golang.org/x/sync/errgroup"

	"github.com/lavlagaa/lavlagaa/internal/corpus"
	"github.com/lavlagaa/lavlagaa/internal/log"
)

var (
	// ErrIndexUnavailable indicates an index could not be built or loaded.
	// Fatal at startup.
	ErrIndexUnavailable = errors.New("index unavailable")

	// ErrDimensionMismatch indicates the embedder returned vectors of
	// inconsistent dimensions.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrEmptyIndex indicates a query against an index with no passages.
	ErrEmptyIndex = errors.New("index is empty")
)

const (
	// embedBatchSize is the number of passages per embedding request.
	embedBatchSize = 16

	// embedConcurrency bounds parallel embedding requests during a build.
	embedConcurrency = 4
)

// Result is one scored passage returned by an index query.
type Result struct {
	Passage corpus.Passage
	Score   float64
}

// Semantic is the embedding index: unit vectors for every passage plus a
// brute-force inner-product search. With normalised vectors the inner product
// equals cosine similarity.
type Semantic struct {
	embedder ai.Embedder
	model    string
	dim      int
	passages []corpus.Passage
	vectors  [][]float32
	logger   log.Logger
}

// BuildSemantic embeds all passages and assembles the semantic index.
// Requests are batched and run concurrently; vector order follows passage
// order regardless of completion order.
func BuildSemantic(ctx context.Context, embedder ai.Embedder, model string, passages []corpus.Passage, logger log.Logger) (*Semantic, error) {
	vectors := make([][]float32, len(passages))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)

	for start := 0; start < len(passages); start += embedBatchSize {
		end := min(start+embedBatchSize, len(passages))
		g.Go(func() error {
			docs := make([]*ai.Document, 0, end-start)
			for _, p := range passages[start:end] {
				docs = append(docs, ai.DocumentFromText(p.Text, nil))
			}
			resp, err := embedder.Embed(ctx, &ai.EmbedRequest{Input: docs})
			if err != nil {
				return fmt.Errorf("embedding passages %d..%d: %w", start, end, err)
			}
			if len(resp.Embeddings) != end-start {
				return fmt.Errorf("%w: got %d embeddings for %d passages",
					ErrIndexUnavailable, len(resp.Embeddings), end-start)
			}
			for i, e := range resp.Embeddings {
				vectors[start+i] = normalize(e.Embedding)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIndexUnavailable, err)
	}

	dim := 0
	for i, v := range vectors {
		if i == 0 {
			dim = len(v)
			continue
		}
		if len(v) != dim {
			return nil, fmt.Errorf("%w: passage %d has dim %d, expected %d",
				ErrDimensionMismatch, i, len(v), dim)
		}
	}

	logger.Info("semantic index built", "passages", len(passages), "dim", dim, "model", model)

	return &Semantic{
		embedder: embedder,
		model:    model,
		dim:      dim,
		passages: passages,
		vectors:  vectors,
		logger:   logger,
	}, nil
}

// Model returns the embedder model name the index was built with.
func (s *Semantic) Model() string { return s.model }

// Dim returns the vector dimension.
func (s *Semantic) Dim() int { return s.dim }

// Len returns the number of indexed passages.
func (s *Semantic) Len() int { return len(s.passages) }

// Passages returns the indexed passages in document order.
func (s *Semantic) Passages() []corpus.Passage { return s.passages }

// Retrieve embeds the query and returns up to k passages by descending inner
// product. Ties keep document order. Satisfies retrieve.Retriever.
func (s *Semantic) Retrieve(ctx context.Context, query string, k int) ([]Result, error) {
	if len(s.passages) == 0 {
		return nil, ErrEmptyIndex
	}

	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(query, nil)},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(resp.Embeddings) != 1 {
		return nil, fmt.Errorf("embedding query: got %d embeddings, want 1", len(resp.Embeddings))
	}

	qv := normalize(resp.Embeddings[0].Embedding)
	if len(qv) != s.dim {
		return nil, fmt.Errorf("%w: query dim %d, index dim %d", ErrDimensionMismatch, len(qv), s.dim)
	}

	results := make([]Result, len(s.passages))
	for i := range s.passages {
		results[i] = Result{Passage: s.passages[i], Score: dot(qv, s.vectors[i])}
	}

	// Stable sort keeps document order on score ties.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// normalize returns a unit-length copy of v. A zero vector is returned as-is.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	if norm == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
