// Package pipeline ties retrieval, prompt composition and streamed answer
// generation into a single per-query flow.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/google/uuid"

	"github.com/lavlagaa/lavlagaa/internal/config"
	"github.com/lavlagaa/lavlagaa/internal/index"
	"github.com/lavlagaa/lavlagaa/internal/log"
	"github.com/lavlagaa/lavlagaa/internal/retrieve"
	"github.com/lavlagaa/lavlagaa/internal/session"
)

// System prompt and the grounding instruction, in Mongolian. The instruction
// constrains the model to the retrieved context and names the exact phrase to
// use when the context cannot answer the question.
const (
	systemPrompt = "Чи бол ухаалаг туслах."

	unknownAnswer = "Мэдэхгүй байна."
)

// Sentinel errors for pipeline operations.
var (
	// ErrCompletionStream indicates the completion endpoint failed before the
	// answer finished streaming. History is never updated when this is returned.
	ErrCompletionStream = errors.New("completion stream failed")

	// ErrEmptyQuery indicates the caller submitted a blank question.
	ErrEmptyQuery = errors.New("empty query")
)

// HistoryStore is the slice of the session store the pipeline needs.
// Defined by the consumer; *session.Store satisfies it.
type HistoryStore interface {
	ListMessages(ctx context.Context, sessionID uuid.UUID, limit int32) ([]session.Message, error)
	AppendExchange(ctx context.Context, sessionID uuid.UUID, userText, assistantText string) error
}

// StreamFunc receives each answer delta in arrival order, exactly once.
// Returning an error aborts the stream.
type StreamFunc func(ctx context.Context, delta string) error

// Config contains all required parameters for the pipeline.
type Config struct {
	Genkit    *genkit.Genkit
	Retriever retrieve.Retriever
	History   HistoryStore
	Logger    log.Logger

	// ModelName is the provider-qualified completion model
	// (e.g. "deepseek/deepseek-chat").
	ModelName string

	// MaxHistoryMessages bounds the prior-turn window sent to the model.
	// Values outside the allowed range are clamped.
	MaxHistoryMessages int

	// Generation parameters forwarded to the completion endpoint.
	Temperature     float64
	MaxOutputTokens int
	TopP            float64
}

func (cfg Config) validate() error {
	if cfg.Genkit == nil {
		return errors.New("genkit instance is required")
	}
	if cfg.Retriever == nil {
		return errors.New("retriever is required")
	}
	if cfg.History == nil {
		return errors.New("history store is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ModelName == "" {
		return errors.New("model name is required")
	}
	return nil
}

// Pipeline answers questions grounded in retrieved corpus passages.
//
// One Pipeline is shared process-wide; the indexes behind the retriever are
// read-only after construction, so concurrent queries are safe. Turns within
// a single session are serialized with a per-session lock so history writes
// cannot interleave.
type Pipeline struct {
	g          *genkit.Genkit
	retriever  retrieve.Retriever
	history    HistoryStore
	logger     log.Logger
	modelName  string
	maxHistory int32
	genConfig  *ai.GenerationCommonConfig

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// New creates a Pipeline with required configuration.
func New(cfg Config) (*Pipeline, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var genConfig *ai.GenerationCommonConfig
	if cfg.Temperature > 0 || cfg.MaxOutputTokens > 0 || cfg.TopP > 0 {
		genConfig = &ai.GenerationCommonConfig{
			Temperature:     cfg.Temperature,
			MaxOutputTokens: cfg.MaxOutputTokens,
			TopP:            cfg.TopP,
		}
	}

	p := &Pipeline{
		g:          cfg.Genkit,
		retriever:  cfg.Retriever,
		history:    cfg.History,
		logger:     cfg.Logger,
		modelName:  cfg.ModelName,
		maxHistory: int32(config.NormalizeMaxHistoryMessages(cfg.MaxHistoryMessages)),
		genConfig:  genConfig,
		locks:      make(map[uuid.UUID]*sync.Mutex),
	}

	p.logger.Info("pipeline initialized",
		"model", p.modelName,
		"history_window", p.maxHistory,
	)
	return p, nil
}

// Answer retrieves context for query, streams the model's answer through
// stream (nil disables streaming) and returns the full answer text.
//
// On success exactly one user turn and one assistant turn are appended to the
// session's history. On any completion failure the error wraps
// ErrCompletionStream and history is left untouched; deltas already forwarded
// are not retracted.
func (p *Pipeline) Answer(ctx context.Context, sessionID uuid.UUID, query string, stream StreamFunc) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", ErrEmptyQuery
	}

	lock := p.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	prior, err := p.history.ListMessages(ctx, sessionID, p.maxHistory)
	if err != nil {
		return "", fmt.Errorf("loading history: %w", err)
	}

	answer, err := p.generate(ctx, historyMessages(prior), query, stream)
	if err != nil {
		return "", err
	}

	if err := p.history.AppendExchange(ctx, sessionID, query, answer); err != nil {
		// Best-effort: the caller already has the full answer.
		p.logger.Warn("appending exchange to history", "session_id", sessionID, "error", err)
	}
	return answer, nil
}

// AnswerOnce answers a single question with no session history and no
// persistence. Used by the one-shot CLI and the voice endpoint.
func (p *Pipeline) AnswerOnce(ctx context.Context, query string, stream StreamFunc) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", ErrEmptyQuery
	}
	return p.generate(ctx, nil, query, stream)
}

// generate runs retrieval, composes the grounded prompt and calls the
// completion model, forwarding every delta to stream in arrival order.
func (p *Pipeline) generate(ctx context.Context, prior []*ai.Message, query string, stream StreamFunc) (string, error) {
	results, err := p.retriever.Retrieve(ctx, query, 0)
	if err != nil {
		return "", fmt.Errorf("retrieving context: %w", err)
	}
	p.logger.Debug("retrieved context", "passages", len(results), "query_length", len(query))

	messages := append(prior, ai.NewUserMessage(ai.NewTextPart(composePrompt(results, query))))

	opts := []ai.GenerateOption{
		ai.WithModelName(p.modelName),
		ai.WithSystem(systemPrompt),
		ai.WithMessages(messages...),
	}
	if p.genConfig != nil {
		opts = append(opts, ai.WithConfig(p.genConfig))
	}
	if stream != nil {
		opts = append(opts, ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			delta := chunk.Text()
			if delta == "" {
				return nil
			}
			return stream(ctx, delta)
		}))
	}

	resp, err := genkit.Generate(ctx, p.g, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCompletionStream, err)
	}

	answer := resp.Text()
	if strings.TrimSpace(answer) == "" {
		p.logger.Warn("model returned empty answer")
		answer = unknownAnswer
	}
	return answer, nil
}

// composePrompt assembles the grounding instruction, the retrieved passages
// in retrieval order and the literal question.
func composePrompt(results []index.Result, query string) string {
	var b strings.Builder
	b.WriteString("Дараах мэдээллээр асуултанд хариулна уу:\n")
	b.WriteString("1. Хэрэв мэдээлэл хангалттай бол монгол хэлээр товч, ойлгомжтой хариул.\n")
	b.WriteString("2. Хэрэв мэдээлэл байхгүй бол 'Мэдэхгүй байна' гэж хариул.\n")
	b.WriteString("\nКонтекст:\n")
	for _, r := range results {
		b.WriteString(r.Passage.Text)
		b.WriteString("\n\n")
	}
	b.WriteString("Асуулт: ")
	b.WriteString(query)
	return b.String()
}

// historyMessages converts stored turns into model messages.
func historyMessages(msgs []session.Message) []*ai.Message {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]*ai.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == session.RoleAssistant {
			out = append(out, ai.NewModelMessage(ai.NewTextPart(m.Content)))
			continue
		}
		out = append(out, ai.NewUserMessage(ai.NewTextPart(m.Content)))
	}
	return out
}

// sessionLock returns the mutex serializing turns for one session.
func (p *Pipeline) sessionLock(id uuid.UUID) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[id]
	if !ok {
		l = &sync.Mutex{}
		p.locks[id] = l
	}
	return l
}
