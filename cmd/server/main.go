package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bontafix/equipsearch/internal/catalog"
	"github.com/bontafix/equipsearch/internal/config"
	"github.com/bontafix/equipsearch/internal/dialog"
	"github.com/bontafix/equipsearch/internal/llm"
	"github.com/bontafix/equipsearch/internal/session"
	mysqlstore "github.com/bontafix/equipsearch/internal/storage/mysql"
	"github.com/bontafix/equipsearch/internal/transport"
)

func main() {
	// .env is for development; production sets real environment variables.
	_ = godotenv.Load()

	cfg := config.Load()

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()
	sugar := logger.Sugar()

	sugar.Infow("starting equipment search service",
		"service", cfg.ServiceName,
		"nats", cfg.NatsURL,
		"chat_provider", cfg.ChatProvider,
		"chat_model", cfg.ChatModel,
	)

	if cfg.MySQLDSN == "" {
		sugar.Fatal("MYSQL_DSN environment variable is required")
	}
	if cfg.ChatProvider == "openrouter" && cfg.OpenRouterAPIKey == "" {
		sugar.Fatal("OPENROUTER_API_KEY environment variable is required")
	}

	store, err := mysqlstore.Open(cfg.MySQLDSN, sugar)
	if err != nil {
		sugar.Fatalw("failed to connect to catalog database", "error", err)
	}
	defer store.Close()

	cache := catalog.NewCache(store, catalog.CacheOptions{
		RefreshInterval: cfg.IndexRefreshInterval,
	}, sugar)
	cache.Start(context.Background())
	defer cache.Stop()

	facade := catalog.NewFacade(store, cache, sugar)

	factory, err := llm.NewFactory(llm.FactoryConfig{
		ChatProvider:        cfg.ChatProvider,
		ChatModel:           cfg.ChatModel,
		EmbeddingsProvider:  cfg.EmbeddingsProvider,
		EmbeddingsModel:     cfg.EmbeddingsModel,
		EmbeddingsFallbacks: cfg.EmbeddingsFallbacks,
	}, []llm.Registration{
		{
			Client: llm.NewOpenAIClient(llm.OpenAIConfig{
				Name:    "openrouter",
				BaseURL: cfg.OpenRouterBaseURL,
				APIKey:  cfg.OpenRouterAPIKey,
				Timeout: cfg.OpenRouterTimeout,
			}),
			RoutedModels: true,
		},
		{
			Client: llm.NewOpenAIClient(llm.OpenAIConfig{
				Name:       "ollama",
				BaseURL:    cfg.OllamaBaseURL,
				Timeout:    cfg.OllamaTimeout,
				Embeddings: true,
			}),
			DefaultModel: cfg.OllamaDefaultModel,
		},
	}, sugar)
	if err != nil {
		sugar.Fatalw("failed to build provider factory", "error", err)
	}

	redisStore, err := session.NewRedisStore(cfg.RedisURL, cfg.SessionTTL)
	if err != nil {
		sugar.Fatalw("failed to connect to Redis", "error", err)
	}

	sessions := session.NewManager(redisStore, factory, dialog.Options{
		MaxTurns:           cfg.DialogMaxTurns,
		MaxContextMessages: cfg.DialogMaxContext,
	}, func() session.Grounding {
		return session.Grounding{
			Categories:     cache.CategoriesForPrompt(30),
			ParameterHints: cache.ParameterHints(5, 8),
		}
	}, sugar)
	defer sessions.Close()

	nt, err := transport.NewNATSTransport(cfg, sessions, facade, factory, cache, sugar)
	if err != nil {
		sugar.Fatalw("failed to initialize NATS transport", "error", err)
	}
	defer nt.Close()

	if err := nt.Start(); err != nil {
		sugar.Fatalw("failed to start NATS transport", "error", err)
	}

	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler()}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Errorw("metrics listener stopped", "error", err)
		}
	}()

	sugar.Infow("service is running",
		"dialog_subject", cfg.NatsDialogSubject,
		"search_subject", cfg.NatsSearchSubject,
		"metrics", cfg.MetricsAddr,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	sugar.Infow("shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("metrics listener shutdown failed", "error", err)
	}
}

func newLogger(level string) *zap.Logger {
	lvl := zapcore.InfoLevel
	switch level {
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn", "warning":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
