package ai

import (
	"context"
	"errors"

	"github.com/zhouzirui/persona-relay/backend/internal/model/chat"
	"github.com/zhouzirui/persona-relay/backend/internal/model/persona"
)

// ErrMissingAPIKey is returned when a gateway is requested without credentials.
var ErrMissingAPIKey = errors.New("ai: provider credentials are not configured")

// Completion codes surfaced by every gateway. The numbering follows the
// provider's finish-reason enumeration and is part of the relay's contract.
const (
	CodeUnspecified = 0
	CodeStop        = 1
	CodeMaxTokens   = 2
	CodeSafety      = 3
	CodeRecitation  = 4
	CodeOther       = 5
)

// Completion is the raw provider verdict for one exchange.
type Completion struct {
	Code    int
	Content string
	// Reason is the provider's own label for Code, kept for logs.
	Reason string
}

// Context carries the per-session generation setup built from a persona.
type Context interface {
	PersonaKey() string
}

// Gateway is the narrow boundary to the remote language model.
type Gateway interface {
	// NewContext validates the persona parameters and prepares a generation setup.
	NewContext(ctx context.Context, p persona.Persona) (Context, error)
	// Exchange sends text on top of history and reports how generation finished.
	Exchange(ctx context.Context, pctx Context, history []chat.Turn, text string) (Completion, error)
}

// PersonaContext is the plain Context used by gateways that need nothing beyond the persona.
type PersonaContext struct {
	Persona persona.Persona
}

// PersonaKey implements Context.
func (c *PersonaContext) PersonaKey() string {
	return c.Persona.Key
}
