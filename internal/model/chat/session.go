package chat

import "time"

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the two conversation roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn is one entry of a session's ordered history.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session captures a live conversation held by the registry.
type Session struct {
	ID          string     `json:"id"`
	PersonaKey  string     `json:"personaKey"`
	DisplayName string     `json:"sessionName"`
	Turns       []Turn     `json:"turns"`
	CreatedAt   time.Time  `json:"createdAt"`
	SavedCount  int        `json:"savedCount"`
	LastSavedAt *time.Time `json:"lastSavedAt,omitempty"`
}

// SessionSummary is the diagnostic view of a live session.
type SessionSummary struct {
	ID          string    `json:"id"`
	PersonaKey  string    `json:"personaKey"`
	DisplayName string    `json:"sessionName"`
	TurnCount   int       `json:"turnCount"`
	CreatedAt   time.Time `json:"createdAt"`
}
