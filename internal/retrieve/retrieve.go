// Package retrieve merges the semantic and lexical indexes into one hybrid
// retriever: both sides are queried with the same fan-out, scores are min-max
// normalised per list, and the lists are fused with fixed weights.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/lavlagaa/lavlagaa/internal/index"
	"github.com/lavlagaa/lavlagaa/internal/log"
)

// ErrAllRetrieversFailed indicates every sub-retriever returned an error.
// The hybrid retriever degrades to one side when only the other fails.
var ErrAllRetrieversFailed = errors.New("all retrievers failed")

// Retriever returns up to k scored passages for a query, best first.
// Both index types and the Hybrid itself satisfy this.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]index.Result, error)
}

// Config controls the hybrid merge.
type Config struct {
	// TopK is the fan-out per sub-retriever and the cap on merged results.
	TopK int

	// SemanticWeight and LexicalWeight scale the normalised scores.
	SemanticWeight float64
	LexicalWeight  float64
}

// Hybrid fuses a semantic and a lexical retriever.
type Hybrid struct {
	semantic Retriever
	lexical  Retriever
	cfg      Config
	logger   log.Logger
}

// NewHybrid creates the hybrid retriever.
func NewHybrid(semantic, lexical Retriever, cfg Config, logger log.Logger) *Hybrid {
	return &Hybrid{semantic: semantic, lexical: lexical, cfg: cfg, logger: logger}
}

// candidate accumulates one passage's contribution from both sides.
// Missing sides contribute zero; ranks default past any real rank so that
// tie-breaking prefers passages a side actually returned.
type candidate struct {
	result  index.Result
	merged  float64
	semRank int
	lexRank int
}

// Retrieve queries both sides with k, normalises each score list to [0, 1],
// merges as SemanticWeight*sem + LexicalWeight*lex and dedupes by passage ID.
// Order is merged score descending, ties broken by semantic rank then lexical
// rank. If one side fails the other's results are returned alone (still
// scaled by its weight); only both sides failing is an error.
func (h *Hybrid) Retrieve(ctx context.Context, query string, k int) ([]index.Result, error) {
	if k <= 0 {
		k = h.cfg.TopK
	}

	semRes, semErr := h.semantic.Retrieve(ctx, query, k)
	lexRes, lexErr := h.lexical.Retrieve(ctx, query, k)

	if semErr != nil && lexErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrAllRetrieversFailed, errors.Join(semErr, lexErr))
	}
	if semErr != nil {
		h.logger.Warn("semantic retrieval failed, serving lexical results only", "error", semErr)
		semRes = nil
	}
	if lexErr != nil {
		h.logger.Warn("lexical retrieval failed, serving semantic results only", "error", lexErr)
		lexRes = nil
	}

	semNorm := normalizeScores(semRes)
	lexNorm := normalizeScores(lexRes)

	noRank := k + 1
	byID := make(map[string]*candidate)
	var order []string

	add := func(r index.Result) *candidate {
		c, ok := byID[r.Passage.ID]
		if !ok {
			c = &candidate{result: r, semRank: noRank, lexRank: noRank}
			byID[r.Passage.ID] = c
			order = append(order, r.Passage.ID)
		}
		return c
	}

	for i, r := range semRes {
		c := add(r)
		c.semRank = i
		c.merged += h.cfg.SemanticWeight * semNorm[i]
	}
	for i, r := range lexRes {
		c := add(r)
		c.lexRank = i
		c.merged += h.cfg.LexicalWeight * lexNorm[i]
	}

	merged := make([]*candidate, 0, len(order))
	for _, id := range order {
		byID[id].result.Score = byID[id].merged
		merged = append(merged, byID[id])
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].merged != merged[j].merged {
			return merged[i].merged > merged[j].merged
		}
		if merged[i].semRank != merged[j].semRank {
			return merged[i].semRank < merged[j].semRank
		}
		return merged[i].lexRank < merged[j].lexRank
	})

	if k < len(merged) {
		merged = merged[:k]
	}

	out := make([]index.Result, len(merged))
	for i, c := range merged {
		out[i] = c.result
	}
	return out, nil
}

// normalizeScores maps scores to [0, 1] by min-max. A constant list (single
// result included) normalises to 1.0 for every entry: the retriever ranked
// them all worth returning and there is no spread to preserve.
func normalizeScores(results []index.Result) []float64 {
	if len(results) == 0 {
		return nil
	}

	minS, maxS := results[0].Score, results[0].Score
	for _, r := range results[1:] {
		if r.Score < minS {
			minS = r.Score
		}
		if r.Score > maxS {
			maxS = r.Score
		}
	}

	norm := make([]float64, len(results))
	if maxS == minS {
		for i := range norm {
			norm[i] = 1.0
		}
		return norm
	}
	for i, r := range results {
		norm[i] = (r.Score - minS) / (maxS - minS)
	}
	return norm
}
