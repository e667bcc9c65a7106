// Package aitest provides a scripted ai.Gateway for tests.
package aitest

import (
	"context"
	"errors"
	"sync"

	"github.com/zhouzirui/persona-relay/backend/internal/model/chat"
	"github.com/zhouzirui/persona-relay/backend/internal/model/persona"
	"github.com/zhouzirui/persona-relay/backend/internal/service/ai"
)

// Reply is one scripted provider answer.
type Reply struct {
	Completion ai.Completion
	Err        error
}

// Call records one Exchange invocation.
type Call struct {
	PersonaKey string
	History    []chat.Turn
	Text       string
}

// Gateway answers exchanges from a queue of replies, falling back to an echo.
type Gateway struct {
	mu      sync.Mutex
	replies []Reply
	calls   []Call

	// ContextErr fails NewContext when set.
	ContextErr error
	// Block, when non-nil, is waited on (or ctx.Done) before answering.
	Block chan struct{}
}

// New returns a Gateway that will answer with the given replies in order.
func New(replies ...Reply) *Gateway {
	return &Gateway{replies: replies}
}

// Stop is shorthand for a successful completion.
func Stop(text string) Reply {
	return Reply{Completion: ai.Completion{Code: ai.CodeStop, Content: text, Reason: "STOP"}}
}

// Code is shorthand for a completion with a bare code.
func Code(code int, text string) Reply {
	return Reply{Completion: ai.Completion{Code: code, Content: text}}
}

// Fail is shorthand for a transport failure.
func Fail(msg string) Reply {
	return Reply{Err: errors.New(msg)}
}

// Calls returns the recorded exchanges.
func (g *Gateway) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Call(nil), g.calls...)
}

// NewContext implements ai.Gateway.
func (g *Gateway) NewContext(_ context.Context, p persona.Persona) (ai.Context, error) {
	if g.ContextErr != nil {
		return nil, g.ContextErr
	}
	return &ai.PersonaContext{Persona: p}, nil
}

// Exchange implements ai.Gateway.
func (g *Gateway) Exchange(ctx context.Context, pctx ai.Context, history []chat.Turn, text string) (ai.Completion, error) {
	if g.Block != nil {
		select {
		case <-g.Block:
		case <-ctx.Done():
			return ai.Completion{}, ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls = append(g.calls, Call{
		PersonaKey: pctx.PersonaKey(),
		History:    append([]chat.Turn(nil), history...),
		Text:       text,
	})

	if len(g.replies) == 0 {
		return ai.Completion{Code: ai.CodeStop, Content: "echo: " + text, Reason: "STOP"}, nil
	}
	next := g.replies[0]
	g.replies = g.replies[1:]
	return next.Completion, next.Err
}
