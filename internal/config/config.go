package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Service
	ServiceName string
	LogLevel    string
	MetricsAddr string

	// NATS
	NatsURL           string
	NatsDialogSubject string
	NatsSearchSubject string
	NatsHealthSubject string
	NatsTimeout       time.Duration
	RequestTimeout    time.Duration

	// Session persistence
	RedisURL   string
	SessionTTL time.Duration

	// Catalog storage
	MySQLDSN             string
	IndexRefreshInterval time.Duration

	// Provider assignment
	ChatProvider        string
	ChatModel           string
	EmbeddingsProvider  string
	EmbeddingsModel     string
	EmbeddingsFallbacks []string

	// OpenRouter (hosted chat gateway)
	OpenRouterBaseURL string
	OpenRouterAPIKey  string
	OpenRouterTimeout time.Duration

	// Ollama (local backend)
	OllamaBaseURL      string
	OllamaTimeout      time.Duration
	OllamaDefaultModel string

	// Dialog limits
	DialogMaxTurns   int
	DialogMaxContext int
}

func Load() *Config {
	return &Config{
		ServiceName: getEnv("SERVICE_NAME", "equipsearch"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9091"),

		NatsURL:           getEnv("NATS_URL", "nats://localhost:4222"),
		NatsDialogSubject: getEnv("NATS_DIALOG_SUBJECT", "equipment.dialog"),
		NatsSearchSubject: getEnv("NATS_SEARCH_SUBJECT", "equipment.search"),
		NatsHealthSubject: getEnv("NATS_HEALTH_SUBJECT", "equipment.health"),
		NatsTimeout:       getDurationEnv("NATS_TIMEOUT", 30*time.Second),
		RequestTimeout:    getDurationEnv("REQUEST_TIMEOUT", 150*time.Second),

		RedisURL:   getEnv("REDIS_URL", "redis://localhost:6379/0"),
		SessionTTL: getDurationEnv("SESSION_TTL", 30*time.Minute),

		MySQLDSN:             getEnv("MYSQL_DSN", ""),
		IndexRefreshInterval: getDurationEnv("INDEX_REFRESH_INTERVAL", 5*time.Minute),

		ChatProvider:        getEnv("CHAT_PROVIDER", "openrouter"),
		ChatModel:           getEnv("CHAT_MODEL", "deepseek/deepseek-chat"),
		EmbeddingsProvider:  getEnv("EMBEDDINGS_PROVIDER", "ollama"),
		EmbeddingsModel:     getEnv("EMBEDDINGS_MODEL", "nomic-embed-text"),
		EmbeddingsFallbacks: getListEnv("EMBEDDINGS_FALLBACKS", []string{"openrouter"}),

		OpenRouterBaseURL: getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterAPIKey:  getEnv("OPENROUTER_API_KEY", ""),
		OpenRouterTimeout: getDurationEnv("OPENROUTER_TIMEOUT", 30*time.Second),

		// Local backends answer slowly with larger models.
		OllamaBaseURL:      getEnv("OLLAMA_BASE_URL", "http://localhost:11434/v1"),
		OllamaTimeout:      getDurationEnv("OLLAMA_TIMEOUT", 120*time.Second),
		OllamaDefaultModel: getEnv("OLLAMA_DEFAULT_MODEL", "llama3.1"),

		DialogMaxTurns:   getIntEnv("DIALOG_MAX_TURNS", 5),
		DialogMaxContext: getIntEnv("DIALOG_MAX_CONTEXT", 20),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
