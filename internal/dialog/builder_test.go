package dialog

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/bontafix/equipsearch/internal/llm"
	"github.com/bontafix/equipsearch/internal/models"
	"github.com/bontafix/equipsearch/internal/prompts"
)

// fakeChat replays scripted replies and records every request it saw.
type fakeChat struct {
	replies  []string
	err      error
	requests []*llm.ChatRequest
}

func (f *fakeChat) Chat(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	copied := *req
	copied.Messages = append([]llm.Message(nil), req.Messages...)
	f.requests = append(f.requests, &copied)
	if f.err != nil {
		return nil, f.err
	}
	reply := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return &llm.ChatResponse{Message: llm.Message{Role: llm.RoleAssistant, Content: reply}}, nil
}

func testLogger() *zap.SugaredLogger { return zap.NewNop().Sugar() }

func TestNext_EndToEndFinal(t *testing.T) {
	chat := &fakeChat{replies: []string{
		`{"action":"final","query":{"text":"кран","category":"Кран","parameters":{"грузоподъемность_min":50}}}`,
	}}
	b := NewBuilder(chat, Options{}, testLogger())

	step, err := b.Next(context.Background(), "Нужен кран грузоподъемностью более 50 тонн")
	if err != nil {
		t.Fatalf("next failed: %v", err)
	}
	if step.Action != models.ActionFinal {
		t.Fatalf("action = %q, want final", step.Action)
	}
	if step.Query.Category != "Кран" {
		t.Errorf("category = %q", step.Query.Category)
	}
	if got := step.Query.Parameters["грузоподъемность_min"]; got != float64(50) {
		t.Errorf("parameter = %v, want 50", got)
	}
	if step.Query.Limit != 0 {
		t.Errorf("limit = %d, want unset (defaulted downstream)", step.Query.Limit)
	}
}

func TestNext_AskThenFinal(t *testing.T) {
	chat := &fakeChat{replies: []string{
		`{"action":"ask","question":"В каком регионе нужна техника?"}`,
		`{"action":"final","query":{"category":"Экскаватор","region":"Москва"}}`,
	}}
	b := NewBuilder(chat, Options{}, testLogger())

	step, err := b.Next(context.Background(), "нужен экскаватор")
	if err != nil {
		t.Fatalf("first turn failed: %v", err)
	}
	if step.Action != models.ActionAsk || step.Question == "" {
		t.Fatalf("unexpected step: %+v", step)
	}

	step, err = b.Next(context.Background(), "в Москве")
	if err != nil {
		t.Fatalf("second turn failed: %v", err)
	}
	if step.Action != models.ActionFinal || step.Query.Region != "Москва" {
		t.Fatalf("unexpected step: %+v", step)
	}

	// The model must have seen the question it asked as an assistant turn.
	last := chat.requests[len(chat.requests)-1]
	var sawAssistant bool
	for _, m := range last.Messages {
		if m.Role == llm.RoleAssistant && strings.Contains(m.Content, "регионе") {
			sawAssistant = true
		}
	}
	if !sawAssistant {
		t.Error("assistant question missing from retained history")
	}
}

func TestNext_EmptyUtterance(t *testing.T) {
	chat := &fakeChat{replies: []string{`{"action":"ask","question":"?"}`}}
	b := NewBuilder(chat, Options{}, testLogger())

	if _, err := b.Next(context.Background(), "   "); !errors.Is(err, ErrEmptyUtterance) {
		t.Fatalf("expected ErrEmptyUtterance, got %v", err)
	}
	if len(chat.requests) != 0 {
		t.Error("empty utterance must not reach the model")
	}
}

func TestNext_ProtocolViolationKeepsUserTurn(t *testing.T) {
	chat := &fakeChat{replies: []string{"Конечно, вот кран"}}
	b := NewBuilder(chat, Options{}, testLogger())

	_, err := b.Next(context.Background(), "нужен кран")
	var protoErr *llm.ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}

	history := b.History()
	last := history[len(history)-1]
	if last.Role != llm.RoleUser || last.Content != "нужен кран" {
		t.Errorf("user turn missing after protocol violation, history tail: %+v", last)
	}
}

func TestNext_SchemaErrorSurfaced(t *testing.T) {
	chat := &fakeChat{replies: []string{`{"action":"final","query":{"unknownField":1}}`}}
	b := NewBuilder(chat, Options{}, testLogger())

	_, err := b.Next(context.Background(), "что-нибудь")
	var schemaErr *llm.SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected SchemaError, got %v", err)
	}
}

func TestNext_ProviderErrorPropagates(t *testing.T) {
	wantErr := &llm.ConnectionError{Provider: "openrouter", Timeout: true, Cause: errors.New("deadline")}
	chat := &fakeChat{err: wantErr}
	b := NewBuilder(chat, Options{}, testLogger())

	_, err := b.Next(context.Background(), "нужен кран")
	if !llm.IsTimeout(err) {
		t.Fatalf("expected timeout error, got %v", err)
	}
	history := b.History()
	if history[len(history)-1].Role != llm.RoleUser {
		t.Error("user turn must remain after provider failure")
	}
}

func TestNext_TurnBoundNudge(t *testing.T) {
	chat := &fakeChat{replies: []string{`{"action":"ask","question":"ещё вопрос?"}`}}
	b := NewBuilder(chat, Options{MaxTurns: 2}, testLogger())

	for i := 0; i < 2; i++ {
		if _, err := b.Next(context.Background(), "уточняю"); err != nil {
			t.Fatalf("turn %d failed: %v", i+1, err)
		}
	}
	for _, m := range b.History() {
		if m.Role == llm.RoleSystem && m.Content == prompts.BestEffortNudge {
			t.Fatal("nudge appeared before the turn limit was crossed")
		}
	}

	if _, err := b.Next(context.Background(), "ещё уточняю"); err != nil {
		t.Fatalf("turn past limit failed: %v", err)
	}
	var nudged bool
	for _, m := range b.History() {
		if m.Role == llm.RoleSystem && m.Content == prompts.BestEffortNudge {
			nudged = true
		}
	}
	if !nudged {
		t.Error("expected best-effort nudge after crossing the turn limit")
	}
}

func TestTrim_CapsNonSystemHistory(t *testing.T) {
	chat := &fakeChat{replies: []string{`{"action":"ask","question":"и ещё?"}`}}
	maxContext := 6
	b := NewBuilder(chat, Options{MaxTurns: 100, MaxContextMessages: maxContext}, testLogger())

	for i := 0; i < 10; i++ {
		if _, err := b.Next(context.Background(), "сообщение"); err != nil {
			t.Fatalf("turn %d failed: %v", i+1, err)
		}
		if got := b.nonSystemCount(); got > maxContext {
			t.Fatalf("non-system history = %d, cap is %d", got, maxContext)
		}
	}

	// The protocol instruction survives all trimming.
	if b.History()[0].Role != llm.RoleSystem {
		t.Error("system instruction evicted by trimming")
	}
}

func TestAddSearchResults(t *testing.T) {
	chat := &fakeChat{replies: []string{`{"action":"ask","question":"?"}`}}
	b := NewBuilder(chat, Options{}, testLogger())

	long := strings.Repeat("п", 1500)
	b.AddSearchResults(7, long)

	history := b.History()
	last := history[len(history)-1]
	if last.Role != llm.RoleSystem {
		t.Fatalf("grounding turn role = %q", last.Role)
	}
	if !strings.Contains(last.Content, "7") {
		t.Error("grounding turn missing result count")
	}
	if got := len([]rune(last.Content)); got > 1200 {
		t.Errorf("summary not truncated, grounding turn is %d runes", got)
	}
}

func TestNewBuilderWithHistory(t *testing.T) {
	chat := &fakeChat{replies: []string{`{"action":"ask","question":"?"}`}}
	history := []llm.Message{
		{Role: llm.RoleUser, Content: "нужен кран"},
		{Role: llm.RoleAssistant, Content: "Какой грузоподъемности?"},
	}
	b := NewBuilderWithHistory(chat, Options{}, history, testLogger())

	if b.Turns() != 1 {
		t.Errorf("turns = %d, want 1", b.Turns())
	}
	got := b.History()
	if got[0].Role != llm.RoleSystem {
		t.Fatal("system instruction not seeded on resume")
	}
	if len(got) != 3 {
		t.Fatalf("history length = %d, want 3", len(got))
	}
}
