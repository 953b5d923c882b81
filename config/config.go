package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds the application configuration, loaded from environment
// variables per spec 1.3. Every component reads its own Config field rather
// than touching os.Getenv directly, so tests can construct a Config by hand.
type Config struct {
	HTTP HTTPConfig

	Embedding    EmbeddingConfig
	LLM          LLMConfig
	VectorStore  VectorStoreConfig
	Relational   RelationalConfig
	RateLimit    RateLimitConfig
	Gateway      GatewayConfig
	SemanticCache SemanticCacheConfig
	HistoryCache  HistoryCacheConfig
	Memory        MemoryConfig
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Enabled bool
	Host    string
	Port    int
}

// EmbeddingConfig configures the Embedding Service (C2).
type EmbeddingConfig struct {
	EndpointURL   string
	APIKey        string
	DimensionHint int
}

// LLMConfig configures the Streaming LLM Client (C1).
type LLMConfig struct {
	EndpointURL string
	APIKey      string
	Model       string
}

// VectorStoreConfig configures the Milvus-backed Vector Store (C3).
type VectorStoreConfig struct {
	Endpoint string
	APIKey   string
}

// RelationalConfig configures the Relational Store (C4): sqlite (a file
// path) or Mongo (a connection URI), selected by Backend.
type RelationalConfig struct {
	URL                     string
	Backend                 string // "sqlite" or "mongo"
	ChatHistoryCollection   string
	FileDataCollection      string
}

// RateLimitConfig holds the default per-API-key limits the Auth & Rate
// Limiter (C12) enforces absent a key-specific override.
type RateLimitConfig struct {
	DefaultRPM         int
	DefaultTPM         int
	DefaultConcurrency int
}

// GatewayConfig configures the Tool Gateway's transports (C11).
type GatewayConfig struct {
	WebSocketPath string
}

// SemanticCacheConfig configures the Semantic Cache (C13).
type SemanticCacheConfig struct {
	MaxSize int
}

// HistoryCacheConfig configures the Chat History Cache (C10).
type HistoryCacheConfig struct {
	SessionCap     int
	UserSessionCap int
}

// MemoryConfig configures the Memory Builder's window/parallel modes (C6).
type MemoryConfig struct {
	WindowSize      int
	ParallelWorkers int
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		HTTP: HTTPConfig{
			Enabled: getEnvBool("AGENTIZE_HTTP_ENABLED", true),
			Host:    getEnvString("AGENTIZE_HTTP_HOST", "0.0.0.0"),
			Port:    getEnvInt("AGENTIZE_HTTP_PORT", 8080),
		},
		Embedding: EmbeddingConfig{
			EndpointURL:   getEnvString("AGENTIZE_EMBEDDING_ENDPOINT_URL", ""),
			APIKey:        getEnvString("AGENTIZE_EMBEDDING_API_KEY", ""),
			DimensionHint: getEnvInt("AGENTIZE_EMBEDDING_DIMENSION_HINT", 1536),
		},
		LLM: LLMConfig{
			EndpointURL: getEnvString("AGENTIZE_LLM_ENDPOINT_URL", ""),
			APIKey:      getEnvString("AGENTIZE_LLM_API_KEY", ""),
			Model:       getEnvString("AGENTIZE_LLM_MODEL", "gpt-4o-mini"),
		},
		VectorStore: VectorStoreConfig{
			Endpoint: getEnvString("AGENTIZE_VECTOR_STORE_ENDPOINT", "localhost:19530"),
			APIKey:   getEnvString("AGENTIZE_VECTOR_STORE_API_KEY", ""),
		},
		Relational: RelationalConfig{
			URL:                   getEnvString("AGENTIZE_RELATIONAL_STORE_URL", "./agentize.db"),
			Backend:               getEnvString("AGENTIZE_RELATIONAL_STORE_BACKEND", "sqlite"),
			ChatHistoryCollection: getEnvString("AGENTIZE_CHAT_HISTORY_COLLECTION_NAME", "chat_history"),
			FileDataCollection:    getEnvString("AGENTIZE_FILE_DATA_COLLECTION_NAME", "file_data"),
		},
		RateLimit: RateLimitConfig{
			DefaultRPM:         getEnvInt("AGENTIZE_RATE_LIMIT_DEFAULT_RPM", 60),
			DefaultTPM:         getEnvInt("AGENTIZE_RATE_LIMIT_DEFAULT_TPM", 100000),
			DefaultConcurrency: getEnvInt("AGENTIZE_RATE_LIMIT_DEFAULT_CONCURRENCY", 4),
		},
		Gateway: GatewayConfig{
			WebSocketPath: getEnvString("AGENTIZE_GATEWAY_WS_PATH", "/api/v1/ws"),
		},
		SemanticCache: SemanticCacheConfig{
			MaxSize: getEnvInt("AGENTIZE_SEMANTIC_CACHE_MAX_SIZE", 300),
		},
		HistoryCache: HistoryCacheConfig{
			SessionCap:     getEnvInt("AGENTIZE_HISTORY_CACHE_SESSION_CAP", 30),
			UserSessionCap: getEnvInt("AGENTIZE_HISTORY_CACHE_USER_SESSION_CAP", 300),
		},
		Memory: MemoryConfig{
			WindowSize:      getEnvInt("AGENTIZE_MEMORY_WINDOW_SIZE", 5),
			ParallelWorkers: getEnvInt("AGENTIZE_MEMORY_PARALLEL_WORKERS", 4),
		},
	}

	if cfg.Relational.Backend != "sqlite" && cfg.Relational.Backend != "mongo" {
		return nil, fmt.Errorf("config: AGENTIZE_RELATIONAL_STORE_BACKEND must be 'sqlite' or 'mongo', got %q", cfg.Relational.Backend)
	}

	return cfg, nil
}

// GetAddress returns the HTTP server address.
func (c *Config) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
