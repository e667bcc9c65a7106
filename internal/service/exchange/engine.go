// Package exchange drives session start, message exchange and transcript saving.
package exchange

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/persona-relay/backend/internal/model/chat"
	"github.com/zhouzirui/persona-relay/backend/internal/model/persona"
	"github.com/zhouzirui/persona-relay/backend/internal/service/ai"
	chatsvc "github.com/zhouzirui/persona-relay/backend/internal/service/chat"
	"github.com/zhouzirui/persona-relay/backend/internal/service/ratelimit"
	"github.com/zhouzirui/persona-relay/backend/internal/storage"
)

// DefaultProviderTimeout bounds one provider call.
const DefaultProviderTimeout = 60 * time.Second

// Deps are the collaborators the engine orchestrates. Gateway may be nil when
// no provider credentials are configured; starts then fail with MISSING_API_KEY.
type Deps struct {
	Personas persona.Store
	Gateway  ai.Gateway
	Registry *chatsvc.Registry
	Limiter  *ratelimit.Limiter
	Store    storage.Store
	Logger   *zap.Logger

	ProviderTimeout time.Duration
}

// Engine is safe for concurrent use.
type Engine struct {
	personas persona.Store
	gateway  ai.Gateway
	registry *chatsvc.Registry
	limiter  *ratelimit.Limiter
	store    storage.Store
	logger   *zap.Logger
	timeout  time.Duration
	now      func() time.Time

	currentMu sync.RWMutex
	current   string
}

// StartRequest opens a new session.
type StartRequest struct {
	PersonaKey  string
	DisplayName string
	ClientKey   string
}

// SendRequest sends one user message. An empty SessionID targets the current session.
type SendRequest struct {
	SessionID string
	Message   string
	ClientKey string
}

// ExchangeResult is the classified outcome of one send.
type ExchangeResult struct {
	SessionID string
	Outcome   ai.Outcome
}

// HistoryResult is the live transcript of one session.
type HistoryResult struct {
	SessionID string
	Turns     []chat.Turn
}

// New wires an Engine. Personas and Registry are required.
func New(deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := deps.ProviderTimeout
	if timeout <= 0 {
		timeout = DefaultProviderTimeout
	}
	registry := deps.Registry
	if registry == nil {
		registry = chatsvc.NewRegistry()
	}
	return &Engine{
		personas: deps.Personas,
		gateway:  deps.Gateway,
		registry: registry,
		limiter:  deps.Limiter,
		store:    deps.Store,
		logger:   logger.Named("exchange"),
		timeout:  timeout,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (e *Engine) allow(kind ratelimit.Kind, client string) error {
	if e.limiter == nil || e.limiter.Allow(kind, client) {
		return nil
	}
	e.logger.Info("rate limited", zap.String("kind", string(kind)), zap.String("client", client))
	return newError(CodeRateLimited, "too many requests, try again later", nil)
}

// StartSession validates the request, prepares the provider context and
// registers a new session, which also becomes the current session.
func (e *Engine) StartSession(ctx context.Context, req StartRequest) (chat.Session, error) {
	if err := e.allow(ratelimit.KindStart, req.ClientKey); err != nil {
		return chat.Session{}, err
	}

	p, ok := e.personas.FindByID(req.PersonaKey)
	if !ok {
		return chat.Session{}, newError(CodeInvalidPersona, "invalid persona", nil)
	}

	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		return chat.Session{}, newError(CodeMissingSessionName, "session name is required", nil)
	}

	if e.gateway == nil {
		return chat.Session{}, newError(CodeMissingAPIKey, "provider credentials are not configured", ai.ErrMissingAPIKey)
	}

	pctx, err := e.gateway.NewContext(ctx, p)
	if err != nil {
		e.logger.Error("provider context failed", zap.String("persona", p.Key), zap.Error(err))
		return chat.Session{}, newError(CodeStartException, err.Error(), err)
	}

	s, err := e.registry.Create(p.Key, name, pctx)
	if err != nil {
		return chat.Session{}, newError(CodeStartException, err.Error(), err)
	}
	e.setCurrent(s.ID)

	e.logger.Info("session started",
		zap.String("session", s.ID),
		zap.String("persona", p.Key),
		zap.String("client", req.ClientKey))
	return s, nil
}

// SendMessage runs one exchange. Provider failures and unfavourable finishes
// come back as the Outcome, never as an error.
func (e *Engine) SendMessage(ctx context.Context, req SendRequest) (ExchangeResult, error) {
	if err := e.allow(ratelimit.KindSend, req.ClientKey); err != nil {
		return ExchangeResult{}, err
	}

	// Whitespace only decides emptiness; the message itself is stored and sent verbatim.
	text := req.Message
	if strings.TrimSpace(text) == "" {
		return ExchangeResult{}, newError(CodeMissingMessage, "message is required", nil)
	}

	id, err := e.resolve(req.SessionID, CodeUnknownSession, CodeNoActiveChat)
	if err != nil {
		return ExchangeResult{}, err
	}

	if e.gateway == nil {
		return ExchangeResult{}, newError(CodeMissingAPIKey, "provider credentials are not configured", ai.ErrMissingAPIKey)
	}

	release, err := e.registry.BeginExchange(ctx, id)
	if err != nil {
		return ExchangeResult{SessionID: id, Outcome: ai.Classify(ai.Completion{}, err)}, nil
	}
	defer release()

	pctx, err := e.registry.Context(id)
	if err != nil {
		return ExchangeResult{}, newError(CodeUnknownSession, "session "+id+" does not exist", err)
	}
	history, err := e.registry.Turns(id)
	if err != nil {
		return ExchangeResult{}, newError(CodeUnknownSession, "session "+id+" does not exist", err)
	}
	if _, err := e.registry.AppendTurn(id, chat.RoleUser, text); err != nil {
		return ExchangeResult{}, newError(CodeUnknownSession, "session "+id+" does not exist", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	completion, err := e.gateway.Exchange(callCtx, pctx, history, text)
	cancel()

	outcome := ai.Classify(completion, err)
	if outcome.Accepted() {
		if _, err := e.registry.AppendTurn(id, chat.RoleAssistant, outcome.Text); err != nil {
			return ExchangeResult{}, newError(CodeUnknownSession, "session "+id+" does not exist", err)
		}
	}

	fields := []zap.Field{
		zap.String("session", id),
		zap.Stringer("outcome", outcome.Kind),
		zap.Int("code", completion.Code),
		zap.String("reason", completion.Reason),
	}
	switch outcome.Kind {
	case ai.OutcomeSuccess:
		e.logger.Debug("exchange completed", fields...)
	case ai.OutcomeProviderError:
		e.logger.Error("exchange failed", append(fields, zap.Error(err))...)
	default:
		e.logger.Warn("exchange not accepted", fields...)
	}

	return ExchangeResult{SessionID: id, Outcome: outcome}, nil
}

// History returns the live transcript. An omitted id with no current session
// yields an empty history rather than an error.
func (e *Engine) History(_ context.Context, sessionID string) (HistoryResult, error) {
	id, err := e.resolve(sessionID, CodeUnknownSession, CodeNoActiveChat)
	if err != nil {
		if sessionID == "" {
			return HistoryResult{Turns: []chat.Turn{}}, nil
		}
		return HistoryResult{}, err
	}

	turns, err := e.registry.Turns(id)
	if err != nil {
		return HistoryResult{}, newError(CodeUnknownSession, "session "+id+" does not exist", err)
	}
	return HistoryResult{SessionID: id, Turns: turns}, nil
}

// SaveSession writes the full transcript as a new conversation record. Saving
// the same session twice creates two records.
func (e *Engine) SaveSession(ctx context.Context, sessionID string) (int64, error) {
	id, err := e.resolve(sessionID, CodeNothingToSave, CodeNothingToSave)
	if err != nil {
		return 0, err
	}
	if e.store == nil {
		return 0, newError(CodeSaveException, "persistence is not configured", nil)
	}

	// Wait for an in-flight exchange so a save never splits a user turn from its reply.
	release, err := e.registry.BeginExchange(ctx, id)
	if err != nil {
		return 0, newError(CodeSaveException, err.Error(), err)
	}
	defer release()

	s, err := e.registry.Get(id)
	if err != nil {
		return 0, newError(CodeNothingToSave, "no active chat to save", err)
	}
	if len(s.Turns) == 0 {
		return 0, newError(CodeNothingToSave, "no active chat to save", nil)
	}

	personaName := s.PersonaKey
	if p, ok := e.personas.FindByID(s.PersonaKey); ok {
		personaName = p.Name
	}

	savedAt := e.now()
	convID, err := storage.SaveTranscript(ctx, e.store, storage.Transcript{
		SessionName: s.DisplayName,
		PersonaName: personaName,
		SavedAt:     savedAt,
		Messages:    chat.MessagesFromTurns(s.Turns),
	})
	if err != nil {
		e.logger.Error("save failed", zap.String("session", id), zap.Error(err))
		return 0, newError(CodeSaveException, err.Error(), err)
	}
	if err := e.registry.MarkSaved(id, savedAt); err != nil {
		e.logger.Warn("mark saved failed", zap.String("session", id), zap.Error(err))
	}

	e.logger.Info("session saved",
		zap.String("session", id),
		zap.Int64("conversation", convID),
		zap.Int("messages", len(s.Turns)))
	return convID, nil
}

// Remaining reports the operations client has left in the current window,
// or -1 when kind is not limited.
func (e *Engine) Remaining(kind ratelimit.Kind, client string) int {
	if e.limiter == nil {
		return -1
	}
	return e.limiter.Remaining(kind, client)
}

// Sessions lists live sessions for diagnostics.
func (e *Engine) Sessions() []chat.SessionSummary {
	return e.registry.List()
}

// Personas lists the catalog.
func (e *Engine) Personas() []persona.Persona {
	return e.personas.List()
}

// Conversations lists saved conversations, most recently updated first.
func (e *Engine) Conversations(ctx context.Context) ([]chat.ConversationSummary, error) {
	if e.store == nil {
		return []chat.ConversationSummary{}, nil
	}
	list, err := e.store.ListConversations(ctx)
	if err != nil {
		return nil, newError(CodeStorageException, err.Error(), err)
	}
	return list, nil
}

// Conversation loads one saved conversation with its messages.
func (e *Engine) Conversation(ctx context.Context, id int64) (chat.Conversation, error) {
	if e.store == nil {
		return chat.Conversation{}, newError(CodeConversationNotFound, "conversation not found", storage.ErrNotFound)
	}
	c, err := e.store.GetConversation(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return chat.Conversation{}, newError(CodeConversationNotFound, "conversation not found", err)
	}
	if err != nil {
		return chat.Conversation{}, newError(CodeStorageException, err.Error(), err)
	}
	return c, nil
}
