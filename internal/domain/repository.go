package domain

import (
	"context"
	"time"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	ListOthers(ctx context.Context, excludeID int64) ([]*User, error)
}

// ConversationRepository stores one record per unordered user pair.
type ConversationRepository interface {
	FindByPair(ctx context.Context, u, v int64) (*Conversation, error)
	CreateForPair(ctx context.Context, u, v int64) (*Conversation, error)
	GetByID(ctx context.Context, id int64) (*Conversation, error)
	ApplyIncomingMessage(ctx context.Context, conversationID, senderID int64, sentAt time.Time) error
	SetSaved(ctx context.Context, conversationID, userID int64, saved bool) error
	MarkRead(ctx context.Context, conversationID, userID int64) error
	ListForUser(ctx context.Context, userID int64, filter ListFilter) ([]*Conversation, error)
}

// MessageRepository defines persistence operations for messages.
type MessageRepository interface {
	Append(ctx context.Context, m *Message) error
	// AppendAndApply stores m, creates the pair's conversation if needed and
	// applies m to it in one transaction. Nothing is kept when any step fails.
	AppendAndApply(ctx context.Context, m *Message) (*Conversation, error)
	ListBetween(ctx context.Context, userA, userB int64) ([]*Message, error)
}
