package config

import (
	"fmt"
	"log/slog"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// 1. Completion endpoint validation
	if c.APIKey == "" {
		return fmt.Errorf("%w: DEEPSEEK_API_KEY environment variable is required", ErrMissingAPIKey)
	}

	if c.ModelName == "" {
		return fmt.Errorf("%w: model_name cannot be empty", ErrInvalidModelName)
	}

	// Temperature range: 0.0 (deterministic) to 2.0
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}

	if c.MaxTokens < 1 || c.MaxTokens > 8192 {
		return fmt.Errorf("%w: must be between 1 and 8192, got %d", ErrInvalidMaxTokens, c.MaxTokens)
	}

	// 2. Retrieval validation
	if c.EmbedderModel == "" {
		return fmt.Errorf("%w: embedder_model cannot be empty", ErrInvalidEmbedderModel)
	}

	if c.CorpusPath == "" {
		return fmt.Errorf("%w: corpus_path cannot be empty", ErrInvalidCorpusPath)
	}

	if c.ChunkSize < 1 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidChunking, c.ChunkSize)
	}

	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap must be in [0, chunk_size), got %d", ErrInvalidChunking, c.ChunkOverlap)
	}

	if c.TopK < 1 || c.TopK > 50 {
		return fmt.Errorf("%w: must be between 1 and 50, got %d", ErrInvalidTopK, c.TopK)
	}

	if c.SemanticWeight < 0 || c.LexicalWeight < 0 {
		return fmt.Errorf("%w: weights must be non-negative, got %.2f/%.2f",
			ErrInvalidWeights, c.SemanticWeight, c.LexicalWeight)
	}

	if c.SemanticWeight+c.LexicalWeight == 0 {
		return fmt.Errorf("%w: at least one weight must be positive", ErrInvalidWeights)
	}

	// 3. PostgreSQL validation
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}

	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	if c.PostgresPassword == "" {
		return fmt.Errorf("%w: postgres_password must be set", ErrInvalidPostgresPassword)
	}

	// Warn but don't block: user might be in dev
	if c.PostgresPassword == "lavlagaa_dev_password" {
		slog.Warn("using default development password for PostgreSQL",
			"warning", "change postgres_password for production deployments")
	}

	if len(c.PostgresPassword) < 8 {
		return fmt.Errorf("%w: postgres_password must be at least 8 characters (got %d)",
			ErrInvalidPostgresPassword, len(c.PostgresPassword))
	}

	// Modern SSL modes only. The deprecated allow/prefer modes are vulnerable
	// to MITM, so they are rejected.
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if c.PostgresSSLMode == "" {
		return fmt.Errorf("%w: postgres_ssl_mode is empty (should have default from setDefaults)",
			ErrInvalidPostgresSSLMode)
	}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	// 4. Auth validation
	if c.JWTSecret == "" {
		return fmt.Errorf("%w: LAVLAGAA_JWT_SECRET environment variable is required", ErrMissingJWTSecret)
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("%w: must be at least 32 characters (got %d)", ErrInvalidJWTSecret, len(c.JWTSecret))
	}

	return nil
}

// NormalizeMaxHistoryMessages clamps the history window to a sane range.
func NormalizeMaxHistoryMessages(limit int) int {
	if limit <= 0 {
		return DefaultMaxHistoryMessages
	}
	if limit > MaxAllowedHistoryMessages {
		return MaxAllowedHistoryMessages
	}
	return limit
}
