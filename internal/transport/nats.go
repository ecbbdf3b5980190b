// Package transport exposes the search core over NATS request/reply. It is
// the conversation owner: it serializes per-session access through the
// session manager and renders results for the chat-bot backend.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/bontafix/equipsearch/internal/catalog"
	"github.com/bontafix/equipsearch/internal/config"
	"github.com/bontafix/equipsearch/internal/dialog"
	"github.com/bontafix/equipsearch/internal/llm"
	"github.com/bontafix/equipsearch/internal/models"
	"github.com/bontafix/equipsearch/internal/prompts"
	"github.com/bontafix/equipsearch/internal/session"
)

// NATSTransport subscribes to the dialog, search and health subjects.
type NATSTransport struct {
	conn     *nats.Conn
	cfg      *config.Config
	sessions *session.Manager
	facade   *catalog.Facade
	factory  *llm.Factory
	cache    *catalog.Cache
	logger   *zap.SugaredLogger
	subs     []*nats.Subscription
}

// NewNATSTransport connects to NATS with infinite reconnects.
func NewNATSTransport(cfg *config.Config, sessions *session.Manager, facade *catalog.Facade,
	factory *llm.Factory, cache *catalog.Cache, logger *zap.SugaredLogger) (*NATSTransport, error) {

	conn, err := nats.Connect(cfg.NatsURL,
		nats.Name(cfg.ServiceName),
		nats.Timeout(cfg.NatsTimeout),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	logger.Infow("connected to NATS", "url", cfg.NatsURL)

	return &NATSTransport{
		conn:     conn,
		cfg:      cfg,
		sessions: sessions,
		facade:   facade,
		factory:  factory,
		cache:    cache,
		logger:   logger,
	}, nil
}

// Start subscribes to all subjects.
func (nt *NATSTransport) Start() error {
	for subject, handler := range map[string]nats.MsgHandler{
		nt.cfg.NatsDialogSubject: nt.handleDialog,
		nt.cfg.NatsSearchSubject: nt.handleSearch,
		nt.cfg.NatsHealthSubject: nt.handleHealth,
	} {
		sub, err := nt.conn.Subscribe(subject, handler)
		if err != nil {
			return fmt.Errorf("subscribing to %s: %w", subject, err)
		}
		nt.subs = append(nt.subs, sub)
		nt.logger.Infow("subscribed", "subject", subject)
	}
	return nil
}

func (nt *NATSTransport) handleDialog(msg *nats.Msg) {
	requestID := uuid.NewString()

	var req models.DialogRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		nt.logger.Errorw("unreadable dialog request", "request_id", requestID, "error", err)
		nt.respondError(msg, &req, requestID, models.ErrorParseError)
		return
	}
	if req.SessionID == "" {
		nt.respondError(msg, &req, requestID, models.ErrorParseError)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), nt.cfg.RequestTimeout)
	defer cancel()

	step, err := nt.sessions.Turn(ctx, req.SessionID, req.UserMessage)
	if err != nil {
		nt.logger.Errorw("dialog turn failed",
			"request_id", requestID, "session", req.SessionID, "error", err)
		nt.respondError(msg, &req, requestID, classifyDialogError(err))
		return
	}

	resp := &models.DialogResponse{
		SessionID: req.SessionID,
		RequestID: requestID,
	}

	switch step.Action {
	case models.ActionAsk:
		resp.Status = models.StatusNeedsInfo
		resp.Question = step.Question
		resp.UserMessage = step.Question
	case models.ActionFinal:
		result, err := nt.facade.SearchEquipment(ctx, step.Query)
		if err != nil {
			nt.logger.Errorw("search failed",
				"request_id", requestID, "session", req.SessionID, "error", err)
			nt.respondError(msg, &req, requestID, models.ErrorSearchFailed)
			return
		}
		nt.sessions.AddSearchResults(ctx, req.SessionID, result.Total, summarizeItems(result.Items))
		resp.Status = models.StatusReady
		resp.Query = step.Query
		resp.Result = result
	}

	nt.respond(msg, resp)
}

func (nt *NATSTransport) handleSearch(msg *nats.Msg) {
	requestID := uuid.NewString()

	var req models.SearchRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil || req.Query == nil {
		nt.logger.Errorw("unreadable search request", "request_id", requestID, "error", err)
		nt.respondError(msg, nil, requestID, models.ErrorParseError)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), nt.cfg.RequestTimeout)
	defer cancel()

	result, err := nt.facade.SearchEquipment(ctx, req.Query)
	if err != nil {
		nt.logger.Errorw("search failed", "request_id", requestID, "error", err)
		nt.respondError(msg, nil, requestID, models.ErrorSearchFailed)
		return
	}

	nt.respond(msg, &models.DialogResponse{
		RequestID: requestID,
		Status:    models.StatusReady,
		Query:     req.Query,
		Result:    result,
	})
}

type healthResponse struct {
	Providers      map[string]bool `json:"providers"`
	IndexAge       string          `json:"index_age"`
	ActiveSessions int             `json:"active_sessions"`
}

func (nt *NATSTransport) handleHealth(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	nt.respond(msg, &healthResponse{
		Providers:      nt.factory.CheckHealth(ctx),
		IndexAge:       nt.cache.SnapshotAge().String(),
		ActiveSessions: nt.sessions.ActiveSessions(),
	})
}

func (nt *NATSTransport) respond(msg *nats.Msg, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		nt.logger.Errorw("failed to marshal response", "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		nt.logger.Errorw("failed to send response", "error", err)
	}
}

// respondError always carries a generic, safe user message. Upstream error
// detail stays in the logs.
func (nt *NATSTransport) respondError(msg *nats.Msg, req *models.DialogRequest, requestID, code string) {
	resp := &models.DialogResponse{
		RequestID:   requestID,
		Status:      models.StatusError,
		UserMessage: userMessageFor(code),
		ErrorCode:   &code,
	}
	if req != nil {
		resp.SessionID = req.SessionID
	}
	nt.respond(msg, resp)
}

// classifyDialogError maps core errors onto transport error codes.
func classifyDialogError(err error) string {
	var (
		protocolErr *llm.ProtocolError
		schemaErr   *llm.SchemaError
		parseErr    *llm.ParseError
	)
	switch {
	case errors.Is(err, dialog.ErrEmptyUtterance):
		return models.ErrorEmptyUtterance
	case errors.As(err, &schemaErr):
		return models.ErrorInvalidQuery
	case errors.As(err, &protocolErr), errors.As(err, &parseErr):
		return models.ErrorParseError
	case llm.IsTimeout(err):
		return models.ErrorLLMTimeout
	default:
		return models.ErrorLLMFailed
	}
}

func userMessageFor(code string) string {
	switch code {
	case models.ErrorEmptyUtterance:
		return "Опишите, пожалуйста, какая техника вам нужна."
	case models.ErrorInvalidQuery:
		return "Не удалось понять достаточно деталей запроса. Уточните, пожалуйста, что именно вы ищете."
	case models.ErrorSearchFailed:
		return "Поиск временно недоступен. Попробуйте ещё раз чуть позже."
	default:
		return prompts.FallbackMessage
	}
}

// summarizeItems renders a short human-readable list of the top items for
// dialog grounding.
func summarizeItems(items []models.EquipmentSummary) string {
	var b strings.Builder
	for i, item := range items {
		if i >= 5 {
			break
		}
		fmt.Fprintf(&b, "%d. %s", i+1, item.Name)
		if item.Brand != "" {
			fmt.Fprintf(&b, " (%s)", item.Brand)
		}
		switch p := item.Price.(type) {
		case nil:
			b.WriteString(" — цена по запросу")
		case float64:
			fmt.Fprintf(&b, " — %.0f руб.", p)
		case string:
			fmt.Fprintf(&b, " — %s", p)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Close drains subscriptions and closes the connection.
func (nt *NATSTransport) Close() error {
	for _, sub := range nt.subs {
		if err := sub.Unsubscribe(); err != nil {
			nt.logger.Warnw("unsubscribe failed", "error", err)
		}
	}
	if nt.conn != nil {
		nt.conn.Close()
		nt.logger.Infow("NATS connection closed")
	}
	return nil
}
