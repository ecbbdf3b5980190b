package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIConfig configures an OpenAI-compatible backend. Works against
// hosted gateways (OpenRouter, OpenAI) and local servers (Ollama, vLLM)
// that expose the /chat/completions and /embeddings shapes.
type OpenAIConfig struct {
	Name       string
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	Embeddings bool // whether the backend serves /embeddings at all
}

// OpenAIClient implements Client over the OpenAI-compatible HTTP JSON API.
type OpenAIClient struct {
	name       string
	baseURL    string
	apiKey     string
	embeddings bool
	client     *http.Client
	pingClient *http.Client
}

// NewOpenAIClient creates a client for one backend. Timeout defaults to 30s
// for hosted backends; local backends should pass something larger (large
// models answer slowly).
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	return &OpenAIClient{
		name:       cfg.Name,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		embeddings: cfg.Embeddings,
		client:     &http.Client{Timeout: t},
		pingClient: &http.Client{Timeout: pingDeadline},
	}
}

func (c *OpenAIClient) Name() string             { return c.name }
func (c *OpenAIClient) SupportsEmbeddings() bool { return c.embeddings }

type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage *usagePayload `json:"usage"`
	Error *errorPayload `json:"error"`
}

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage *usagePayload `json:"usage"`
	Error *errorPayload `json:"error"`
}

type usagePayload struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// Chat performs a chat completion against /chat/completions.
func (c *OpenAIClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	body := chatCompletionRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	payload, err := c.post(ctx, "/chat/completions", body)
	if err != nil {
		return nil, err
	}

	var out chatCompletionResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, &ParseError{Provider: c.name, Detail: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return nil, &ParseError{Provider: c.name, Detail: "no choices in chat completion"}
	}

	msg := out.Choices[0].Message
	if msg.Role == "" {
		msg.Role = RoleAssistant
	}
	return &ChatResponse{Message: msg, Usage: usageFrom(out.Usage)}, nil
}

// Embeddings computes vectors against /embeddings. The backend must return
// exactly one vector per input string.
func (c *OpenAIClient) Embeddings(ctx context.Context, req *EmbeddingsRequest) (*EmbeddingsResponse, error) {
	if !c.embeddings {
		return nil, &ConfigError{Detail: fmt.Sprintf("provider %s does not serve embeddings", c.name)}
	}
	if len(req.Input) == 0 {
		return nil, &ParseError{Provider: c.name, Detail: "empty embeddings input"}
	}

	payload, err := c.post(ctx, "/embeddings", embeddingsRequest{Model: req.Model, Input: req.Input})
	if err != nil {
		return nil, err
	}

	var out embeddingsResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, &ParseError{Provider: c.name, Detail: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if len(out.Data) != len(req.Input) {
		return nil, &ParseError{
			Provider: c.name,
			Detail:   fmt.Sprintf("got %d embeddings for %d inputs", len(out.Data), len(req.Input)),
		}
	}

	vectors := make([][]float64, len(out.Data))
	for _, d := range out.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, &ParseError{Provider: c.name, Detail: fmt.Sprintf("embedding index %d out of range", d.Index)}
		}
		vectors[d.Index] = d.Embedding
	}
	return &EmbeddingsResponse{Embeddings: vectors, Usage: usageFrom(out.Usage)}, nil
}

// Ping probes the backend with a short deadline. A reachable backend that
// answers /models with any status below 500 counts as alive.
func (c *OpenAIClient) Ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, pingDeadline)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.pingClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode < 500
}

func (c *OpenAIClient) post(ctx context.Context, path string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(c.name, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(c.name, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{
			Provider:   c.name,
			Endpoint:   path,
			StatusCode: resp.StatusCode,
			Message:    upstreamMessage(payload, resp.Status),
		}
	}
	return payload, nil
}

// upstreamMessage pulls the error message out of an OpenAI-style error body,
// falling back to the HTTP status line.
func upstreamMessage(payload []byte, status string) string {
	var body struct {
		Error *errorPayload `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err == nil && body.Error != nil && body.Error.Message != "" {
		return body.Error.Message
	}
	return status
}

func usageFrom(u *usagePayload) *Usage {
	if u == nil {
		return nil
	}
	return &Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}
