package chat

import "time"

// Message is one persisted turn of a saved conversation.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationSummary is the list view of a saved conversation.
type ConversationSummary struct {
	ID          int64     `json:"id"`
	SessionName string    `json:"sessionName"`
	PersonaName string    `json:"personaName"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Conversation is the durable copy of a session transcript.
type Conversation struct {
	ConversationSummary
	Messages []Message `json:"messages"`
}

// MessagesFromTurns copies a live history into its persisted form, preserving order.
func MessagesFromTurns(turns []Turn) []Message {
	out := make([]Message, len(turns))
	for i, t := range turns {
		out[i] = Message{Role: t.Role, Content: t.Text, Timestamp: t.Timestamp}
	}
	return out
}
