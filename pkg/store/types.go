package store

import "time"

// ConversationStatus is the lifecycle state of a conversation. Conversations
// are soft-deleted by archiving; rows are never removed.
type ConversationStatus string

const (
	StatusActive   ConversationStatus = "active"
	StatusArchived ConversationStatus = "archived"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// DefaultTitle is used when a conversation is created without one.
const DefaultTitle = "Untitled Conversation"

// Conversation owns an ordered, append-only sequence of messages. Message
// order is insertion order and is semantically meaningful.
type Conversation struct {
	ID            string
	Title         string
	Status        ConversationStatus
	Pinned        bool
	Summary       string
	MessageCount  int
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastMessageAt time.Time
	Messages      []Message
}

// Message is one entry in a conversation's log. Messages are never mutated
// or removed once appended.
type Message struct {
	ID             string
	ConversationID string
	Role           Role
	Content        string
	CreatedAt      time.Time
	// Truncated marks an assistant message whose streamed generation was
	// cancelled mid-flight; the fragments received before cancellation are
	// kept.
	Truncated      bool
	ModelUsed      string
	ResponseTimeMS int64
	TokenCount     int
}

// ListFilter narrows ListConversations. The zero value lists everything.
type ListFilter struct {
	Status ConversationStatus
}

// AppendOptions carries the optional assistant-message metadata recorded by
// the chat service.
type AppendOptions struct {
	Truncated      bool
	ModelUsed      string
	ResponseTimeMS int64
	TokenCount     int
}
