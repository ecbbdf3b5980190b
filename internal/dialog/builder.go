// Package dialog drives the multi-turn clarification exchange that turns
// free-form user utterances into validated search queries.
package dialog

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/bontafix/equipsearch/internal/llm"
	"github.com/bontafix/equipsearch/internal/metrics"
	"github.com/bontafix/equipsearch/internal/models"
	"github.com/bontafix/equipsearch/internal/prompts"
	"github.com/bontafix/equipsearch/internal/query"
)

// ErrEmptyUtterance rejects an empty or whitespace-only user turn. The
// caller prompts the user again; no model call happens.
var ErrEmptyUtterance = errors.New("empty utterance")

const (
	defaultMaxTurns   = 5
	defaultMaxContext = 20
	defaultMaxTokens  = 700
	defaultTemp       = 0.1

	maxSummaryLen = 1000

	// finalMarker stands in for the full query in history so follow-up
	// turns see that a search happened without re-reading the whole JSON.
	finalMarker = "[запрос сформирован и отправлен в поиск]"
)

// ChatProvider is the one capability the builder needs from the factory.
type ChatProvider interface {
	Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)
}

// Options tunes one conversation.
type Options struct {
	// MaxTurns bounds the number of user turns before the builder nudges
	// the model to answer best-effort instead of asking again.
	MaxTurns int

	// MaxContextMessages caps retained non-system messages. System turns
	// are never evicted.
	MaxContextMessages int

	// Categories ground the system prompt in real catalog data.
	Categories []string

	// ParameterHints lists the parameter names actually used within the
	// top categories, keyed by category name.
	ParameterHints map[string][]string

	Temperature float64
	MaxTokens   int
}

func (o *Options) fill() {
	if o.MaxTurns <= 0 {
		o.MaxTurns = defaultMaxTurns
	}
	if o.MaxContextMessages <= 0 {
		o.MaxContextMessages = defaultMaxContext
	}
	if o.Temperature == 0 {
		o.Temperature = defaultTemp
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = defaultMaxTokens
	}
}

// Builder is the per-conversation state machine. It is not safe for
// concurrent use: the caller serializes access within one conversation.
// Separate conversations use separate builders.
type Builder struct {
	chat    ChatProvider
	logger  *zap.SugaredLogger
	opts    Options
	history []llm.Message
	turns   int
	nudged  bool
}

// NewBuilder starts a fresh conversation, seeding the protocol system
// instruction.
func NewBuilder(chat ChatProvider, opts Options, logger *zap.SugaredLogger) *Builder {
	opts.fill()
	return &Builder{
		chat:   chat,
		logger: logger,
		opts:   opts,
		history: []llm.Message{
			{Role: llm.RoleSystem, Content: prompts.BuildSystemPrompt(opts.Categories, opts.ParameterHints)},
		},
	}
}

// NewBuilderWithHistory resumes a conversation from externally persisted
// history. A missing system prefix is re-seeded; the turn counter resumes
// from the number of user turns present.
func NewBuilderWithHistory(chat ChatProvider, opts Options, history []llm.Message, logger *zap.SugaredLogger) *Builder {
	b := NewBuilder(chat, opts, logger)
	for _, m := range history {
		if m.Role == llm.RoleSystem && len(b.history) == 1 && m.Content == b.history[0].Content {
			continue // same seed, keep ours
		}
		b.history = append(b.history, m)
		if m.Role == llm.RoleUser {
			b.turns++
		}
	}
	b.trim()
	return b
}

// Next runs one dialog turn: append the utterance, call the model, parse
// the protocol reply and either return a clarifying question or a
// validated final query. Provider and protocol failures leave the appended
// user turn in history, so retrying with the same or a refined utterance
// is safe.
func (b *Builder) Next(ctx context.Context, text string) (*models.Step, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyUtterance
	}

	b.history = append(b.history, llm.Message{Role: llm.RoleUser, Content: text})
	b.turns++

	if b.turns > b.opts.MaxTurns && !b.nudged {
		b.history = append(b.history, llm.Message{Role: llm.RoleSystem, Content: prompts.BestEffortNudge})
		b.nudged = true
	}

	resp, err := b.chat.Chat(ctx, &llm.ChatRequest{
		Messages:    b.retained(),
		Temperature: b.opts.Temperature,
		MaxTokens:   b.opts.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	raw, err := prompts.ParseStep(resp.Message.Content)
	if err != nil {
		return nil, err
	}

	switch raw.Action {
	case models.ActionAsk:
		b.history = append(b.history, llm.Message{Role: llm.RoleAssistant, Content: raw.Question})
		b.trim()
		metrics.RecordDialogTurn(models.ActionAsk)
		return &models.Step{Action: models.ActionAsk, Question: raw.Question}, nil

	case models.ActionFinal:
		validated, issues, err := query.Validate(raw.Query)
		if err != nil {
			return nil, err
		}
		if len(issues) > 0 {
			b.logger.Debugw("query coerced during validation", "turns", b.turns, "issues", issues)
		}
		b.history = append(b.history, llm.Message{Role: llm.RoleAssistant, Content: finalMarker})
		b.trim()
		metrics.RecordDialogTurn(models.ActionFinal)
		return &models.Step{Action: models.ActionFinal, Query: validated}, nil
	}

	// ParseStep only emits the two actions above.
	return nil, &llm.ProtocolError{Detail: "unreachable action " + raw.Action}
}

// AddSearchResults appends a system grounding turn describing what the
// last search found, so follow-up refinements ("дешевле", "другой бренд")
// stay anchored in real results.
func (b *Builder) AddSearchResults(count int, summary string) {
	if runes := []rune(summary); len(runes) > maxSummaryLen {
		summary = string(runes[:maxSummaryLen])
	}
	b.history = append(b.history, llm.Message{
		Role:    llm.RoleSystem,
		Content: prompts.BuildResultsContext(count, summary),
	})
	b.trim()
}

// History returns a copy of the retained messages for external
// persistence. The core keeps no cross-restart state itself.
func (b *Builder) History() []llm.Message {
	out := make([]llm.Message, len(b.history))
	copy(out, b.history)
	return out
}

// Turns returns the user-turn counter.
func (b *Builder) Turns() int { return b.turns }

func (b *Builder) retained() []llm.Message {
	return b.history
}

// trim evicts the oldest non-system messages once the retained count
// exceeds the cap. System turns are exempt: the protocol instruction and
// grounding context must survive long conversations.
func (b *Builder) trim() {
	excess := b.nonSystemCount() - b.opts.MaxContextMessages
	if excess <= 0 {
		return
	}
	kept := b.history[:0]
	for _, m := range b.history {
		if excess > 0 && m.Role != llm.RoleSystem {
			excess--
			continue
		}
		kept = append(kept, m)
	}
	b.history = kept
}

func (b *Builder) nonSystemCount() int {
	n := 0
	for _, m := range b.history {
		if m.Role != llm.RoleSystem {
			n++
		}
	}
	return n
}
