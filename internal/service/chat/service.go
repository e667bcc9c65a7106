package chat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/persona-relay/backend/internal/model/chat"
	"github.com/zhouzirui/persona-relay/backend/internal/service/ai"
)

var (
	ErrPersonaRequired = errors.New("persona key is required")
	ErrSessionNotFound = errors.New("session not found")
	ErrInvalidRole     = errors.New("invalid turn role")
)

// entry is the registry-owned state of one live session.
type entry struct {
	// immutable after creation
	id          string
	personaKey  string
	displayName string
	createdAt   time.Time
	pctx        ai.Context

	// exchange serializes full send cycles on this session.
	exchange chan struct{}

	mu          sync.Mutex
	turns       []chat.Turn
	savedCount  int
	lastSavedAt *time.Time
}

// Registry is the concurrency-safe store of live chat sessions. The map lock
// only guards lookup and insert; each session carries its own locks, so work
// on one session never blocks another.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	now   func() time.Time
	newID func() string
}

// NewRegistry bootstraps an empty registry. Sessions live until the process exits.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*entry),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// Create provisions a session bound to a persona and its provider context.
func (r *Registry) Create(personaKey, displayName string, pctx ai.Context) (chat.Session, error) {
	if strings.TrimSpace(personaKey) == "" {
		return chat.Session{}, ErrPersonaRequired
	}

	e := &entry{
		personaKey:  personaKey,
		displayName: displayName,
		createdAt:   r.now(),
		pctx:        pctx,
		exchange:    make(chan struct{}, 1),
		turns:       make([]chat.Turn, 0, 16),
	}

	r.mu.Lock()
	for {
		e.id = r.newID()
		if _, taken := r.sessions[e.id]; !taken {
			break
		}
	}
	r.sessions[e.id] = e
	r.mu.Unlock()

	return e.snapshot(), nil
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e, nil
}

// Get returns a copy of the session.
func (r *Registry) Get(id string) (chat.Session, error) {
	e, err := r.lookup(id)
	if err != nil {
		return chat.Session{}, err
	}
	return e.snapshot(), nil
}

// Exists reports whether id names a live session.
func (r *Registry) Exists(id string) bool {
	_, err := r.lookup(id)
	return err == nil
}

// Context returns the provider context bound at creation.
func (r *Registry) Context(id string) (ai.Context, error) {
	e, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	return e.pctx, nil
}

// AppendTurn atomically appends one turn to the session history.
func (r *Registry) AppendTurn(id string, role chat.Role, text string) (chat.Turn, error) {
	if !role.Valid() {
		return chat.Turn{}, ErrInvalidRole
	}
	e, err := r.lookup(id)
	if err != nil {
		return chat.Turn{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	turn := chat.Turn{Role: role, Text: text, Timestamp: r.now()}
	e.turns = append(e.turns, turn)
	return turn, nil
}

// Turns returns a copy of the ordered history.
func (r *Registry) Turns(id string) ([]chat.Turn, error) {
	e, err := r.lookup(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.copyTurns(), nil
}

// BeginExchange claims the session's exchange slot, waiting for any in-flight
// exchange on the same session. The returned release must be called exactly once.
func (r *Registry) BeginExchange(ctx context.Context, id string) (release func(), err error) {
	e, err := r.lookup(id)
	if err != nil {
		return nil, err
	}

	select {
	case e.exchange <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() { once.Do(func() { <-e.exchange }) }, nil
}

// MarkSaved records that the session was persisted at the given time.
func (r *Registry) MarkSaved(id string, at time.Time) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.savedCount++
	e.lastSavedAt = &at
	return nil
}

// List returns a summary of every live session, oldest first.
func (r *Registry) List() []chat.SessionSummary {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]chat.SessionSummary, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		count := len(e.turns)
		e.mu.Unlock()
		out = append(out, chat.SessionSummary{
			ID:          e.id,
			PersonaKey:  e.personaKey,
			DisplayName: e.displayName,
			TurnCount:   count,
			CreatedAt:   e.createdAt,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (e *entry) snapshot() chat.Session {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := chat.Session{
		ID:          e.id,
		PersonaKey:  e.personaKey,
		DisplayName: e.displayName,
		Turns:       e.copyTurns(),
		CreatedAt:   e.createdAt,
		SavedCount:  e.savedCount,
	}
	if e.lastSavedAt != nil {
		at := *e.lastSavedAt
		s.LastSavedAt = &at
	}
	return s
}

// copyTurns returns a non-nil copy of the history. Caller holds e.mu.
func (e *entry) copyTurns() []chat.Turn {
	out := make([]chat.Turn, len(e.turns))
	copy(out, e.turns)
	return out
}
