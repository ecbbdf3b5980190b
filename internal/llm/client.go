// Package llm contains the provider client contract and the factory that
// assigns backends to capabilities with deterministic failover.
package llm

import "context"

// Message is one role-tagged turn in a chat exchange.
type Message struct {
	Role    string `json:"role"` // "system", "user" or "assistant"
	Content string `json:"content"`
}

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatRequest is a chat completion call.
type ChatRequest struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// ChatResponse is the assistant's reply.
type ChatResponse struct {
	Message Message
	Usage   *Usage
}

// EmbeddingsRequest embeds one or more input strings.
type EmbeddingsRequest struct {
	Model string
	Input []string
}

// EmbeddingsResponse carries one vector per input string, in order.
type EmbeddingsResponse struct {
	Embeddings [][]float64
	Usage      *Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Client is the uniform contract for one language-model backend.
type Client interface {
	// Name returns the provider identifier used by the factory registry.
	Name() string

	// Chat performs a non-streaming chat completion.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Embeddings computes vectors for a batch of texts. The returned vector
	// count equals the input count.
	Embeddings(ctx context.Context, req *EmbeddingsRequest) (*EmbeddingsResponse, error)

	// Ping probes liveness with a short timeout. It never returns an error;
	// any failure reads as false.
	Ping(ctx context.Context) bool

	// SupportsEmbeddings reports whether this backend serves the embeddings
	// endpoint at all. Chat-only backends are skipped by the fallback chain.
	SupportsEmbeddings() bool
}
