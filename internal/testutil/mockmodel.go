package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// MockChatModel streams a scripted token sequence. It records every request
// so tests can assert on the composed prompt, and can be told to fail after a
// given number of streamed tokens.
//
// Thread-safe for concurrent use.
type MockChatModel struct {
	mu        sync.Mutex
	tokens    []string
	failAfter int // -1 = never fail
	failErr   error
	requests  []*ai.ModelRequest
}

// NewMockChatModel creates a mock that streams the given tokens in order.
func NewMockChatModel(tokens ...string) *MockChatModel {
	return &MockChatModel{tokens: tokens, failAfter: -1}
}

// FailAfter makes generation return err after streaming n tokens.
func (m *MockChatModel) FailAfter(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
	m.failErr = err
}

// Requests returns a copy of all recorded model requests.
func (m *MockChatModel) Requests() []*ai.ModelRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]*ai.ModelRequest, len(m.requests))
	copy(cp, m.requests)
	return cp
}

// LastRequest returns the most recent model request, or nil.
func (m *MockChatModel) LastRequest() *ai.ModelRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}

// Register registers the mock as a Genkit model named "mock/chat-model".
func (m *MockChatModel) Register(g *genkit.Genkit) ai.Model {
	return genkit.DefineModel(g, "mock/chat-model", &ai.ModelOptions{
		Label: "Mock Chat Model",
		Supports: &ai.ModelSupports{
			Multiturn:  true,
			SystemRole: true,
		},
	}, m.generate)
}

func (m *MockChatModel) generate(ctx context.Context, req *ai.ModelRequest, cb ai.ModelStreamCallback) (*ai.ModelResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	tokens := make([]string, len(m.tokens))
	copy(tokens, m.tokens)
	failAfter := m.failAfter
	failErr := m.failErr
	m.mu.Unlock()

	var sb strings.Builder
	for i, tok := range tokens {
		if failAfter >= 0 && i == failAfter {
			return nil, failErr
		}
		sb.WriteString(tok)
		if cb != nil {
			if err := cb(ctx, &ai.ModelResponseChunk{
				Content: []*ai.Part{ai.NewTextPart(tok)},
			}); err != nil {
				return nil, err
			}
		}
	}
	if failAfter >= 0 && failAfter >= len(tokens) {
		return nil, failErr
	}

	return &ai.ModelResponse{
		Request: req,
		Message: &ai.Message{
			Role:    ai.RoleModel,
			Content: []*ai.Part{ai.NewTextPart(sb.String())},
		},
	}, nil
}
