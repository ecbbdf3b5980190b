package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.ServiceName != "equipsearch" {
		t.Errorf("ServiceName = %q", cfg.ServiceName)
	}
	if cfg.ChatProvider != "openrouter" || cfg.ChatModel != "deepseek/deepseek-chat" {
		t.Errorf("chat assignment = %q/%q", cfg.ChatProvider, cfg.ChatModel)
	}
	if cfg.IndexRefreshInterval != 5*time.Minute {
		t.Errorf("IndexRefreshInterval = %v", cfg.IndexRefreshInterval)
	}
	if cfg.RequestTimeout != 150*time.Second {
		t.Errorf("RequestTimeout = %v", cfg.RequestTimeout)
	}
	if !reflect.DeepEqual(cfg.EmbeddingsFallbacks, []string{"openrouter"}) {
		t.Errorf("EmbeddingsFallbacks = %v", cfg.EmbeddingsFallbacks)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CHAT_PROVIDER", "ollama")
	t.Setenv("SESSION_TTL", "2h")
	t.Setenv("DIALOG_MAX_TURNS", "7")
	t.Setenv("EMBEDDINGS_FALLBACKS", "openrouter, ollama")

	cfg := Load()
	if cfg.ChatProvider != "ollama" {
		t.Errorf("ChatProvider = %q", cfg.ChatProvider)
	}
	if cfg.SessionTTL != 2*time.Hour {
		t.Errorf("SessionTTL = %v", cfg.SessionTTL)
	}
	if cfg.DialogMaxTurns != 7 {
		t.Errorf("DialogMaxTurns = %d", cfg.DialogMaxTurns)
	}
	if !reflect.DeepEqual(cfg.EmbeddingsFallbacks, []string{"openrouter", "ollama"}) {
		t.Errorf("EmbeddingsFallbacks = %v", cfg.EmbeddingsFallbacks)
	}
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("SESSION_TTL", "tomorrow")
	t.Setenv("DIALOG_MAX_TURNS", "many")

	cfg := Load()
	if cfg.SessionTTL != 30*time.Minute {
		t.Errorf("SessionTTL = %v, want default", cfg.SessionTTL)
	}
	if cfg.DialogMaxTurns != 5 {
		t.Errorf("DialogMaxTurns = %d, want default", cfg.DialogMaxTurns)
	}
}
