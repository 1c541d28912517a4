// Package testutil provides shared test doubles: a scripted streaming chat
// model, a deterministic embedder and an SSE response parser.
package testutil

import (
	"context"
	"testing"

	"github.com/firebase/genkit/go/genkit"
)

// NewGenkit initialises a plugin-free Genkit instance for tests.
func NewGenkit(t *testing.T) *genkit.Genkit {
	t.Helper()
	return genkit.Init(context.Background())
}
