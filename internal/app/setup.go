// Package app wires configuration, storage, indexes, the pipeline and the
// HTTP server into a runnable application.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openai/openai-go/option"

	"github.com/lavlagaa/lavlagaa/db"
	"github.com/lavlagaa/lavlagaa/internal/api"
	"github.com/lavlagaa/lavlagaa/internal/auth"
	"github.com/lavlagaa/lavlagaa/internal/config"
	"github.com/lavlagaa/lavlagaa/internal/corpus"
	"github.com/lavlagaa/lavlagaa/internal/index"
	"github.com/lavlagaa/lavlagaa/internal/log"
	"github.com/lavlagaa/lavlagaa/internal/observability"
	"github.com/lavlagaa/lavlagaa/internal/pipeline"
	"github.com/lavlagaa/lavlagaa/internal/retrieve"
	"github.com/lavlagaa/lavlagaa/internal/session"
)

// Completion and embedding providers are both OpenAI-compatible endpoints.
const (
	completionProvider = "deepseek"
	embeddingProvider  = "openai"
)

// App holds the wired application.
type App struct {
	Config   *config.Config
	Logger   log.Logger
	Genkit   *genkit.Genkit
	Pool     *pgxpool.Pool
	Store    *session.Store
	Auth     *auth.Service
	Pipeline *pipeline.Pipeline
	Server   *api.Server

	tracingShutdown func(context.Context) error
}

// Setup builds the full server application: traces, database, indexes,
// pipeline, auth and HTTP server. Index build or load failures are fatal;
// the process must not serve traffic without its corpus.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	if cfg.OTLPEndpoint != "" {
		shutdown, err := observability.SetupTracing(ctx, observability.Config{
			CollectorHost: cfg.OTLPEndpoint,
			Environment:   cfg.Environment,
			ServiceName:   cfg.ServiceName,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("setting up tracing: %w", err)
		}
		a.tracingShutdown = shutdown
	}

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Pool = pool
	a.Store = session.NewStore(pool, logger)

	g, embedder, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		a.closeQuietly(ctx)
		return nil, err
	}
	a.Genkit = g

	retriever, err := provideRetriever(ctx, embedder, cfg, logger)
	if err != nil {
		a.closeQuietly(ctx)
		return nil, err
	}

	p, err := pipeline.New(pipeline.Config{
		Genkit:             g,
		Retriever:          retriever,
		History:            a.Store,
		Logger:             logger,
		ModelName:          cfg.FullModelName(),
		MaxHistoryMessages: cfg.MaxHistoryMessages,
		Temperature:        cfg.Temperature,
		MaxOutputTokens:    cfg.MaxTokens,
		TopP:               cfg.TopP,
	})
	if err != nil {
		a.closeQuietly(ctx)
		return nil, fmt.Errorf("creating pipeline: %w", err)
	}
	a.Pipeline = p

	a.Auth = provideAuthService(cfg, a.Store, logger)

	server, err := api.NewServer(api.Config{
		Store:         a.Store,
		Pool:          pool,
		Auth:          a.Auth,
		Pipeline:      p,
		Logger:        logger,
		RatePerSecond: cfg.ChatRateRPS,
		RateBurst:     cfg.ChatRateBurst,
	})
	if err != nil {
		a.closeQuietly(ctx)
		return nil, fmt.Errorf("creating server: %w", err)
	}
	a.Server = server

	return a, nil
}

// SetupPipeline builds only the retrieval and answer pipeline, without
// database, auth or server. Used by the one-shot CLI. Answers are not
// persisted; Answer calls against sessions will fail.
func SetupPipeline(ctx context.Context, cfg *config.Config, logger log.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	g, embedder, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	retriever, err := provideRetriever(ctx, embedder, cfg, logger)
	if err != nil {
		return nil, err
	}

	p, err := pipeline.New(pipeline.Config{
		Genkit:             g,
		Retriever:          retriever,
		History:            nopHistory{},
		Logger:             logger,
		ModelName:          cfg.FullModelName(),
		MaxHistoryMessages: cfg.MaxHistoryMessages,
		Temperature:        cfg.Temperature,
		MaxOutputTokens:    cfg.MaxTokens,
		TopP:               cfg.TopP,
	})
	if err != nil {
		return nil, fmt.Errorf("creating pipeline: %w", err)
	}
	a.Pipeline = p

	return a, nil
}

// Run serves HTTP traffic until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	return a.Server.Run(ctx, a.Config.ListenAddr)
}

// Close releases the pool and flushes pending trace spans.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Pool != nil {
		a.Pool.Close()
	}
	if a.tracingShutdown != nil {
		if err := a.tracingShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down tracing: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (a *App) closeQuietly(ctx context.Context) {
	if err := a.Close(ctx); err != nil {
		a.Logger.Warn("cleanup after failed setup", "error", err)
	}
}

// provideGenkit initializes Genkit with the completion and embedding
// providers and registers the configured model and embedder.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, ai.Embedder, error) {
	completion := &compat_oai.OpenAICompatible{
		Provider: completionProvider,
		Opts: []option.RequestOption{
			option.WithAPIKey(cfg.APIKey),
			option.WithBaseURL(cfg.BaseURL),
		},
	}

	embedBaseURL, embedAPIKey := cfg.EmbedderCredentials()
	embedding := &compat_oai.OpenAICompatible{
		Provider: embeddingProvider,
		Opts: []option.RequestOption{
			option.WithAPIKey(embedAPIKey),
			option.WithBaseURL(embedBaseURL),
		},
	}

	g := genkit.Init(ctx, genkit.WithPlugins(completion, embedding))
	if g == nil {
		return nil, nil, errors.New("initializing genkit")
	}

	// The compat_oai plugin does not auto-discover models on third-party
	// endpoints; register the configured ones explicitly.
	if model := completion.DefineModel(completionProvider, cfg.ModelName, ai.ModelOptions{
		Label: "DeepSeek " + cfg.ModelName,
		Supports: &ai.ModelSupports{
			Multiturn:  true,
			SystemRole: true,
		},
	}); model == nil {
		return nil, nil, errors.New("defining completion model")
	}

	embedder := embedding.DefineEmbedder(embeddingProvider, cfg.EmbedderModel, nil)
	if embedder == nil {
		return nil, nil, errors.New("defining embedder")
	}

	logger.Info("initialized genkit",
		"model", cfg.FullModelName(),
		"embedder", cfg.EmbedderModel,
	)
	return g, embedder, nil
}

// provideRetriever loads the corpus, loads or builds the semantic index,
// rebuilds the lexical index and combines them.
func provideRetriever(ctx context.Context, embedder ai.Embedder, cfg *config.Config, logger log.Logger) (*retrieve.Hybrid, error) {
	text, err := corpus.Load(cfg.CorpusPath)
	if err != nil {
		return nil, fmt.Errorf("loading corpus: %w", err)
	}

	chunkCfg := corpus.Config{
		ChunkSize: cfg.ChunkSize,
		Overlap:   cfg.ChunkOverlap,
	}

	semantic, err := index.LoadOrBuildSemantic(ctx, embedder, cfg.EmbedderModel, text, chunkCfg, cfg.IndexDir, logger)
	if err != nil {
		return nil, fmt.Errorf("preparing semantic index: %w", err)
	}

	// The lexical index is cheap to rebuild and must come from the exact
	// passage sequence behind the semantic index.
	lexical := index.BuildLexical(semantic.Passages())

	return retrieve.NewHybrid(semantic, lexical, retrieve.Config{
		TopK:           cfg.TopK,
		SemanticWeight: cfg.SemanticWeight,
		LexicalWeight:  cfg.LexicalWeight,
	}, logger), nil
}

// provideAuthService assembles token manager, Google verifier and service.
func provideAuthService(cfg *config.Config, store *session.Store, logger log.Logger) *auth.Service {
	tokens := auth.NewManager(cfg.JWTSecret,
		time.Duration(cfg.AccessTokenTTL)*time.Minute,
		time.Duration(cfg.RefreshTokenTTL)*24*time.Hour,
	)

	var google auth.GoogleVerifier
	if cfg.GoogleClientID != "" {
		google = auth.NewGoogleVerifier(cfg.GoogleClientID)
	}

	return auth.NewService(store, tokens, google, cfg.AllowPasswordLogin, logger)
}

// provideDBPool runs migrations and opens the connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// RebuildIndex re-embeds the corpus and replaces the persisted snapshot,
// ignoring any existing one. Run after the corpus document changes.
func RebuildIndex(ctx context.Context, cfg *config.Config, logger log.Logger) error {
	_, embedder, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return err
	}

	text, err := corpus.Load(cfg.CorpusPath)
	if err != nil {
		return fmt.Errorf("loading corpus: %w", err)
	}

	chunkCfg := corpus.Config{ChunkSize: cfg.ChunkSize, Overlap: cfg.ChunkOverlap}
	passages := corpus.Split(text, chunkCfg)
	logger.Info("split corpus", "passages", len(passages))

	semantic, err := index.BuildSemantic(ctx, embedder, cfg.EmbedderModel, passages, logger)
	if err != nil {
		return fmt.Errorf("building semantic index: %w", err)
	}

	key := index.SnapshotKey(text, chunkCfg, cfg.EmbedderModel)
	if err := semantic.Save(cfg.IndexDir, key); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}

	logger.Info("index rebuilt", "dir", cfg.IndexDir, "key", key, "passages", semantic.Len())
	return nil
}

// nopHistory backs the one-shot pipeline: nothing to read, nothing kept.
type nopHistory struct{}

func (nopHistory) ListMessages(context.Context, uuid.UUID, int32) ([]session.Message, error) {
	return nil, nil
}

func (nopHistory) AppendExchange(context.Context, uuid.UUID, string, string) error {
	return nil
}
