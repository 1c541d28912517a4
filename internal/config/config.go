// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (./lavlagaa.yaml or /etc/lavlagaa/lavlagaa.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Model: OpenAI-compatible completion endpoint (DeepSeek), sampling parameters
//   - Retrieval: corpus location, chunking, index snapshot directory, merge weights
//   - Storage: PostgreSQL connection (see storage.go)
//   - Auth: JWT secret and token lifetimes, Google OAuth client
//   - Server: listen address, rate limits, CORS
//
// Security: sensitive fields (API key, JWT secret, DB password) are masked in
// MarshalJSON. Validation uses sentinel errors checked with errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates the completion endpoint API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidModelName indicates the model name is invalid.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max tokens")

	// ErrInvalidEmbedderModel indicates the embedder model is invalid.
	ErrInvalidEmbedderModel = errors.New("invalid embedder model")

	// ErrInvalidCorpusPath indicates the corpus path is empty.
	ErrInvalidCorpusPath = errors.New("invalid corpus path")

	// ErrInvalidChunking indicates the chunk size/overlap pair is unusable.
	ErrInvalidChunking = errors.New("invalid chunking configuration")

	// ErrInvalidTopK indicates the retrieval fan-out is out of range.
	ErrInvalidTopK = errors.New("invalid retrieval top k")

	// ErrInvalidWeights indicates the hybrid merge weights are malformed.
	ErrInvalidWeights = errors.New("invalid retrieval weights")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresPassword indicates the PostgreSQL password is invalid.
	ErrInvalidPostgresPassword = errors.New("invalid PostgreSQL password")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrMissingJWTSecret indicates the JWT signing secret is not set.
	ErrMissingJWTSecret = errors.New("missing JWT secret")

	// ErrInvalidJWTSecret indicates the JWT signing secret is too short.
	ErrInvalidJWTSecret = errors.New("invalid JWT secret")
)

const (
	// DefaultChunkSize is the target passage length in runes.
	DefaultChunkSize = 300

	// DefaultChunkOverlap is the rune overlap between consecutive passages.
	DefaultChunkOverlap = 50

	// DefaultTopK is the per-retriever fan-out before merging.
	DefaultTopK = 3

	// DefaultSemanticWeight and DefaultLexicalWeight are the hybrid merge weights.
	DefaultSemanticWeight = 0.6
	DefaultLexicalWeight  = 0.4

	// DefaultMaxHistoryMessages bounds the history window passed to the model.
	DefaultMaxHistoryMessages = 40

	// MaxAllowedHistoryMessages is the absolute maximum to prevent OOM.
	MaxAllowedHistoryMessages = 1000
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
// When adding new sensitive fields, update MarshalJSON.
type Config struct {
	// Completion endpoint (OpenAI-compatible, DeepSeek by default)
	BaseURL     string  `mapstructure:"base_url" json:"base_url"`
	APIKey      string  `mapstructure:"api_key" json:"api_key"` // SENSITIVE: masked in MarshalJSON
	ModelName   string  `mapstructure:"model_name" json:"model_name"`
	Temperature float64 `mapstructure:"temperature" json:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" json:"max_tokens"`
	TopP        float64 `mapstructure:"top_p" json:"top_p"`

	// Embedding endpoint. Defaults to the completion endpoint credentials
	// when left empty.
	EmbedderModel   string `mapstructure:"embedder_model" json:"embedder_model"`
	EmbedderBaseURL string `mapstructure:"embedder_base_url" json:"embedder_base_url"`
	EmbedderAPIKey  string `mapstructure:"embedder_api_key" json:"embedder_api_key"` // SENSITIVE: masked in MarshalJSON

	// Retrieval configuration
	CorpusPath     string  `mapstructure:"corpus_path" json:"corpus_path"`
	IndexDir       string  `mapstructure:"index_dir" json:"index_dir"`
	ChunkSize      int     `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap   int     `mapstructure:"chunk_overlap" json:"chunk_overlap"`
	TopK           int     `mapstructure:"top_k" json:"top_k"`
	SemanticWeight float64 `mapstructure:"semantic_weight" json:"semantic_weight"`
	LexicalWeight  float64 `mapstructure:"lexical_weight" json:"lexical_weight"`

	// Conversation history window passed to the model
	MaxHistoryMessages int `mapstructure:"max_history_messages" json:"max_history_messages"`

	// Storage configuration (see storage.go)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Auth configuration
	JWTSecret        string `mapstructure:"jwt_secret" json:"jwt_secret"` // SENSITIVE: masked in MarshalJSON
	AccessTokenTTL   int    `mapstructure:"access_token_ttl_minutes" json:"access_token_ttl_minutes"`
	RefreshTokenTTL  int    `mapstructure:"refresh_token_ttl_days" json:"refresh_token_ttl_days"`
	GoogleClientID   string `mapstructure:"google_client_id" json:"google_client_id"`
	AllowPasswordLogin bool `mapstructure:"allow_password_login" json:"allow_password_login"`

	// Server configuration
	ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
	CORSOrigins    []string `mapstructure:"cors_origins" json:"cors_origins"`
	ChatRateRPS    float64  `mapstructure:"chat_rate_rps" json:"chat_rate_rps"`
	ChatRateBurst  int      `mapstructure:"chat_rate_burst" json:"chat_rate_burst"`

	// Observability (optional OTLP trace export; empty endpoint disables it)
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"`
	Environment  string `mapstructure:"environment" json:"environment"`
	ServiceName  string `mapstructure:"service_name" json:"service_name"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	viper.SetConfigName("lavlagaa")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/lavlagaa")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{".", "/etc/lavlagaa"},
			"config_name", "lavlagaa.yaml")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings when set
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// Completion endpoint defaults
	viper.SetDefault("base_url", "https://api.deepseek.com/v1")
	viper.SetDefault("model_name", "deepseek-chat")
	viper.SetDefault("temperature", 0.3)
	viper.SetDefault("max_tokens", 1000)
	viper.SetDefault("top_p", 0.95)

	// Embedding defaults
	viper.SetDefault("embedder_model", "text-embedding-3-small")
	viper.SetDefault("embedder_base_url", "https://api.openai.com/v1")

	// Retrieval defaults
	viper.SetDefault("corpus_path", "data/lavlagaa.txt")
	viper.SetDefault("index_dir", "data/index")
	viper.SetDefault("chunk_size", DefaultChunkSize)
	viper.SetDefault("chunk_overlap", DefaultChunkOverlap)
	viper.SetDefault("top_k", DefaultTopK)
	viper.SetDefault("semantic_weight", DefaultSemanticWeight)
	viper.SetDefault("lexical_weight", DefaultLexicalWeight)
	viper.SetDefault("max_history_messages", DefaultMaxHistoryMessages)

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "lavlagaa")
	viper.SetDefault("postgres_password", "lavlagaa_dev_password")
	viper.SetDefault("postgres_db_name", "lavlagaa")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Auth defaults
	viper.SetDefault("access_token_ttl_minutes", 30)
	viper.SetDefault("refresh_token_ttl_days", 30)
	viper.SetDefault("allow_password_login", true)

	// Server defaults
	viper.SetDefault("listen_addr", ":8080")
	viper.SetDefault("cors_origins", []string{"http://localhost:4200"})
	viper.SetDefault("chat_rate_rps", 1.0)
	viper.SetDefault("chat_rate_burst", 5)

	// Observability defaults
	viper.SetDefault("environment", "dev")
	viper.SetDefault("service_name", "lavlagaa")
}

// bindEnvVariables binds environment variables explicitly.
// Secrets are only accepted from the environment, never from the YAML file
// checked into deployments.
func bindEnvVariables() {
	// Helper to panic on unexpected bind errors (hardcoded strings can't fail).
	// If this panics, it's a BUG in our code, not a runtime error.
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("api_key", "DEEPSEEK_API_KEY")
	mustBind("embedder_api_key", "EMBEDDER_API_KEY")
	mustBind("jwt_secret", "LAVLAGAA_JWT_SECRET")
	mustBind("google_client_id", "LAVLAGAA_GOOGLE_CLIENT_ID")

	mustBind("base_url", "LAVLAGAA_BASE_URL")
	mustBind("model_name", "LAVLAGAA_MODEL_NAME")
	mustBind("embedder_model", "LAVLAGAA_EMBEDDER_MODEL")
	mustBind("embedder_base_url", "LAVLAGAA_EMBEDDER_BASE_URL")
	mustBind("corpus_path", "LAVLAGAA_CORPUS_PATH")
	mustBind("index_dir", "LAVLAGAA_INDEX_DIR")
	mustBind("listen_addr", "LAVLAGAA_LISTEN_ADDR")
	mustBind("cors_origins", "LAVLAGAA_CORS_ORIGINS")
	mustBind("otlp_endpoint", "LAVLAGAA_OTLP_ENDPOINT")
	mustBind("environment", "LAVLAGAA_ENVIRONMENT")
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks avoid accidental substring matches against real secrets.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Secrets of 8 characters or fewer are fully masked; longer secrets keep the
// first and last 2 characters for debug utility.
//
// THREAT MODEL: this defends against accidental logging of real secrets.
// It is NOT cryptographically secure. If logs are compromised, rotate secrets.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	prefix := make([]byte, 2)
	suffix := make([]byte, 2)
	copy(prefix, s[:2])
	copy(suffix, s[len(s)-2:])
	return string(prefix) + "<" + maskedValue + ">" + string(suffix)
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
//
// Sensitive fields masked:
//   - APIKey, EmbedderAPIKey
//   - PostgresPassword
//   - JWTSecret
//
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.APIKey = maskSecret(a.APIKey)
	a.EmbedderAPIKey = maskSecret(a.EmbedderAPIKey)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.JWTSecret = maskSecret(a.JWTSecret)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// FullModelName returns the provider-qualified model name for Genkit.
// Example: "deepseek/deepseek-chat". If ModelName already contains a "/",
// it is returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	return "deepseek/" + c.ModelName
}

// EmbedderCredentials returns the base URL and API key for the embedding
// endpoint, falling back to the completion endpoint credentials.
func (c *Config) EmbedderCredentials() (baseURL, apiKey string) {
	baseURL, apiKey = c.EmbedderBaseURL, c.EmbedderAPIKey
	if baseURL == "" {
		baseURL = c.BaseURL
	}
	if apiKey == "" {
		apiKey = c.APIKey
	}
	return baseURL, apiKey
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
