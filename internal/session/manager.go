package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/memory"
	"go.uber.org/zap"

	"github.com/bontafix/equipsearch/internal/dialog"
	"github.com/bontafix/equipsearch/internal/llm"
	"github.com/bontafix/equipsearch/internal/models"
)

// Manager owns one dialog builder per active conversation, backed by the
// persistent store and mirrored into a LangChainGo conversation buffer.
// Access within a session is serialized by a per-session lock; separate
// sessions run concurrently.
type Manager struct {
	store     Store
	chat      dialog.ChatProvider
	opts      dialog.Options
	grounding func() Grounding
	logger    *zap.SugaredLogger

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// Grounding is the catalog context injected into new conversations.
type Grounding struct {
	Categories     []string
	ParameterHints map[string][]string
}

type sessionState struct {
	mu      sync.Mutex
	builder *dialog.Builder
	buffer  *memory.ConversationBuffer
}

// NewManager creates a session manager. grounding supplies catalog context
// for new conversations and may be nil.
func NewManager(store Store, chat dialog.ChatProvider, opts dialog.Options, grounding func() Grounding, logger *zap.SugaredLogger) *Manager {
	return &Manager{
		store:     store,
		chat:      chat,
		opts:      opts,
		grounding: grounding,
		logger:    logger,
		sessions:  make(map[string]*sessionState),
	}
}

// Turn runs one dialog turn for a session, persisting the user utterance
// and the assistant's reply. A rejected utterance is never persisted; an
// accepted one is persisted before the model call so a failed call can be
// retried without losing it.
func (m *Manager) Turn(ctx context.Context, sessionID, text string) (*models.Step, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, dialog.ErrEmptyUtterance
	}

	sess, err := m.getOrCreate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := m.persist(ctx, sessionID, sess, llm.RoleUser, text); err != nil {
		return nil, err
	}

	step, err := sess.builder.Next(ctx, text)
	if err != nil {
		return nil, err
	}

	reply := step.Question
	if step.Action == models.ActionFinal {
		reply = "[final]"
	}
	if err := m.persist(ctx, sessionID, sess, llm.RoleAssistant, reply); err != nil {
		m.logger.Warnw("failed to persist assistant turn", "session", sessionID, "error", err)
	}
	return step, nil
}

// AddSearchResults feeds search outcome back into a session as grounding
// context for refinement turns.
func (m *Manager) AddSearchResults(ctx context.Context, sessionID string, count int, summary string) {
	sess, err := m.getOrCreate(ctx, sessionID)
	if err != nil {
		m.logger.Warnw("failed to load session for result grounding", "session", sessionID, "error", err)
		return
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.builder.AddSearchResults(count, summary)
	grounding := fmt.Sprintf("найдено результатов: %d", count)
	if err := m.persist(ctx, sessionID, sess, llm.RoleSystem, grounding); err != nil {
		m.logger.Warnw("failed to persist grounding turn", "session", sessionID, "error", err)
	}
}

// ClearSession drops a conversation from the cache and the store.
func (m *Manager) ClearSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	return m.store.ClearSession(ctx, sessionID)
}

// ActiveSessions returns the number of cached conversations.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close releases the underlying store if it is closable.
func (m *Manager) Close() error {
	if closer, ok := m.store.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// getOrCreate returns the cached session state or rebuilds it from the
// persisted history. The conversation buffer is the in-memory source of
// truth: stored messages are loaded into it once, and the dialog history
// is rebuilt from what the buffer holds.
func (m *Manager) getOrCreate(ctx context.Context, sessionID string) (*sessionState, error) {
	m.mu.Lock()
	if sess, ok := m.sessions[sessionID]; ok {
		m.mu.Unlock()
		return sess, nil
	}
	m.mu.Unlock()

	data, err := m.store.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}

	buffer := memory.NewConversationBuffer()
	for _, msg := range data.Messages {
		var chatMsg llms.ChatMessage
		switch msg.Role {
		case llm.RoleUser:
			chatMsg = llms.HumanChatMessage{Content: msg.Content}
		case llm.RoleAssistant:
			chatMsg = llms.AIChatMessage{Content: msg.Content}
		case llm.RoleSystem:
			chatMsg = llms.SystemChatMessage{Content: msg.Content}
		default:
			m.logger.Warnw("skipping message with unknown role", "session", sessionID, "role", msg.Role)
			continue
		}
		if err := buffer.ChatHistory.AddMessage(ctx, chatMsg); err != nil {
			return nil, fmt.Errorf("mirroring message into buffer: %w", err)
		}
	}

	history, err := bufferedHistory(ctx, buffer)
	if err != nil {
		return nil, err
	}

	opts := m.opts
	if m.grounding != nil {
		g := m.grounding()
		opts.Categories = g.Categories
		opts.ParameterHints = g.ParameterHints
	}

	sess := &sessionState{
		builder: dialog.NewBuilderWithHistory(m.chat, opts, history, m.logger),
		buffer:  buffer,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[sessionID]; ok {
		return existing, nil
	}
	m.sessions[sessionID] = sess
	m.logger.Debugw("session restored", "session", sessionID, "messages", len(data.Messages))
	return sess, nil
}

// bufferedHistory reads the conversation buffer back into dialog messages.
func bufferedHistory(ctx context.Context, buffer *memory.ConversationBuffer) ([]llm.Message, error) {
	stored, err := buffer.ChatHistory.Messages(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading conversation buffer: %w", err)
	}
	history := make([]llm.Message, 0, len(stored))
	for _, msg := range stored {
		switch m := msg.(type) {
		case llms.HumanChatMessage:
			history = append(history, llm.Message{Role: llm.RoleUser, Content: m.Content})
		case llms.AIChatMessage:
			history = append(history, llm.Message{Role: llm.RoleAssistant, Content: m.Content})
		case llms.SystemChatMessage:
			history = append(history, llm.Message{Role: llm.RoleSystem, Content: m.Content})
		}
	}
	return history, nil
}

// persist writes one turn to the store and mirrors it into the LangChainGo
// buffer. Caller holds the session lock.
func (m *Manager) persist(ctx context.Context, sessionID string, sess *sessionState, role, content string) error {
	switch role {
	case llm.RoleUser:
		if err := sess.buffer.ChatHistory.AddUserMessage(ctx, content); err != nil {
			return fmt.Errorf("mirroring user message: %w", err)
		}
	case llm.RoleAssistant:
		if err := sess.buffer.ChatHistory.AddAIMessage(ctx, content); err != nil {
			return fmt.Errorf("mirroring assistant message: %w", err)
		}
	case llm.RoleSystem:
		if err := sess.buffer.ChatHistory.AddMessage(ctx, llms.SystemChatMessage{Content: content}); err != nil {
			return fmt.Errorf("mirroring system message: %w", err)
		}
	}
	return m.store.SaveMessage(ctx, sessionID, "", Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
}
