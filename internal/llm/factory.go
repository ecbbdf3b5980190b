package llm

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bontafix/equipsearch/internal/metrics"
)

// Registration binds a provider identifier to a live client plus the model
// policy for that backend.
type Registration struct {
	Client Client

	// DefaultModel is the documented safe model name for this backend, used
	// when no override applies and the globally configured name is not
	// compatible with it.
	DefaultModel string

	// RoutedModels reports whether the backend accepts gateway-routed
	// "vendor/model" names. Local backends (Ollama and friends) do not.
	RoutedModels bool
}

// FactoryConfig fixes the capability-to-provider assignment. The chat
// provider is a hard constraint: prompt and response contract compatibility
// depend on its identity, so it is never switched at runtime.
type FactoryConfig struct {
	ChatProvider string
	ChatModel    string

	EmbeddingsProvider  string
	EmbeddingsModel     string
	EmbeddingsFallbacks []string

	// ModelOverrides maps provider name to a model name that always wins
	// over the global configuration.
	ModelOverrides map[string]string

	// Silent suppresses advisory logs on embeddings fallback.
	Silent bool
}

// Factory is the single point of truth for which backend serves which
// capability.
type Factory struct {
	cfg      FactoryConfig
	registry map[string]Registration
	logger   *zap.SugaredLogger
}

// NewFactory builds a factory over the given registrations. It fails fast
// when the designated chat provider is not registered.
func NewFactory(cfg FactoryConfig, regs []Registration, logger *zap.SugaredLogger) (*Factory, error) {
	registry := make(map[string]Registration, len(regs))
	for _, r := range regs {
		registry[r.Client.Name()] = r
	}
	if cfg.ChatProvider == "" {
		return nil, &ConfigError{Detail: "no chat provider configured"}
	}
	if _, ok := registry[cfg.ChatProvider]; !ok {
		return nil, &ConfigError{Detail: "chat provider " + cfg.ChatProvider + " is not registered"}
	}
	return &Factory{cfg: cfg, registry: registry, logger: logger}, nil
}

// Chat dispatches to the one designated chat provider. There is no fallback
// for chat: an unavailable chat backend is surfaced immediately.
func (f *Factory) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	reg, ok := f.registry[f.cfg.ChatProvider]
	if !ok {
		return nil, &ConfigError{Detail: "no chat provider configured"}
	}
	if !reg.Client.Ping(ctx) {
		metrics.RecordLLMRequest(f.cfg.ChatProvider, "chat", "unavailable", 0)
		return nil, &UnavailableError{Capability: "chat", Attempted: []string{f.cfg.ChatProvider}}
	}

	dispatched := *req
	dispatched.Model = f.resolveModel(reg, req.Model, f.cfg.ChatModel)

	start := time.Now()
	resp, err := reg.Client.Chat(ctx, &dispatched)
	if err != nil {
		metrics.RecordLLMRequest(f.cfg.ChatProvider, "chat", "error", time.Since(start))
		return nil, err
	}
	metrics.RecordLLMRequest(f.cfg.ChatProvider, "chat", "ok", time.Since(start))
	return resp, nil
}

// Embeddings tries the preferred provider first and then walks the ordered
// fallback chain, skipping backends that never serve embeddings. A
// successful fallback is advisory, never an error.
func (f *Factory) Embeddings(ctx context.Context, req *EmbeddingsRequest) (*EmbeddingsResponse, error) {
	preferred := f.cfg.EmbeddingsProvider
	chain := make([]string, 0, 1+len(f.cfg.EmbeddingsFallbacks))
	if preferred != "" {
		chain = append(chain, preferred)
	}
	for _, name := range f.cfg.EmbeddingsFallbacks {
		if name != preferred {
			chain = append(chain, name)
		}
	}

	var attempted []string
	for _, name := range chain {
		reg, ok := f.registry[name]
		if !ok {
			continue
		}
		if !reg.Client.SupportsEmbeddings() {
			if name == preferred && !f.cfg.Silent {
				f.logger.Warnw("preferred provider does not serve embeddings, trying fallbacks",
					"provider", name)
			}
			continue
		}
		attempted = append(attempted, name)
		if !reg.Client.Ping(ctx) {
			continue
		}

		dispatched := *req
		dispatched.Model = f.resolveModel(reg, req.Model, f.cfg.EmbeddingsModel)

		start := time.Now()
		resp, err := reg.Client.Embeddings(ctx, &dispatched)
		if err != nil {
			metrics.RecordLLMRequest(name, "embeddings", "error", time.Since(start))
			if !f.cfg.Silent {
				f.logger.Warnw("embeddings call failed, trying next provider",
					"provider", name, "error", err)
			}
			continue
		}
		metrics.RecordLLMRequest(name, "embeddings", "ok", time.Since(start))
		if name != preferred {
			metrics.RecordFallback(preferred, name)
			if !f.cfg.Silent {
				f.logger.Infow("embeddings served by fallback provider",
					"preferred", preferred, "used", name)
			}
		}
		return resp, nil
	}

	if len(attempted) == 0 {
		attempted = chain
	}
	return nil, &UnavailableError{Capability: "embeddings", Attempted: attempted}
}

// CheckHealth probes every registered provider concurrently.
func (f *Factory) CheckHealth(ctx context.Context) map[string]bool {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		health = make(map[string]bool, len(f.registry))
	)
	for name, reg := range f.registry {
		wg.Add(1)
		go func(name string, c Client) {
			defer wg.Done()
			alive := c.Ping(ctx)
			mu.Lock()
			health[name] = alive
			mu.Unlock()
		}(name, reg.Client)
	}
	wg.Wait()
	return health
}

// Providers returns the registered provider names.
func (f *Factory) Providers() []string {
	names := make([]string, 0, len(f.registry))
	for name := range f.registry {
		names = append(names, name)
	}
	return names
}

// resolveModel picks the model name for one dispatch. An explicit
// per-provider override always wins; the global name is used when the
// backend can serve it; otherwise the backend's safe default substitutes.
func (f *Factory) resolveModel(reg Registration, requested, global string) string {
	if o := f.cfg.ModelOverrides[reg.Client.Name()]; o != "" {
		return o
	}
	name := requested
	if name == "" {
		name = global
	}
	if name == "" {
		return reg.DefaultModel
	}
	// Gateway-routed "vendor/model" names mean nothing to a local backend.
	if !reg.RoutedModels && strings.Contains(name, "/") && reg.DefaultModel != "" {
		if !f.cfg.Silent {
			f.logger.Warnw("model name incompatible with provider, using its default",
				"provider", reg.Client.Name(), "requested", name, "default", reg.DefaultModel)
		}
		return reg.DefaultModel
	}
	return name
}
