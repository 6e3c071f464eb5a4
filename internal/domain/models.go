package domain

import (
	"fmt"
	"strings"
	"time"
)

// User represents an application user. Accounts are owned by the auth
// collaborator; the chat core only references them by ID.
type User struct {
	ID             int64     `db:"id" json:"id"`
	Username       string    `db:"username" json:"username"`
	Email          string    `db:"email" json:"email"`
	HashedPassword string    `db:"hashed_password" json:"-"`
	FullName       string    `db:"full_name" json:"full_name"`
	ProfilePic     string    `db:"profile_pic" json:"profile_pic"`
	Bio            string    `db:"bio" json:"bio"`
	IsActive       bool      `db:"is_active" json:"is_active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Profile is the public view of a user joined into conversation lists.
type Profile struct {
	UserID      int64  `json:"id"`
	DisplayName string `json:"name"`
	Username    string `json:"username"`
	Avatar      string `json:"profile_pic"`
}

// Profile returns the public view of u.
func (u *User) Profile() Profile {
	return Profile{
		UserID:      u.ID,
		DisplayName: u.FullName,
		Username:    u.Username,
		Avatar:      u.ProfilePic,
	}
}

// Conversation is the single record kept per unordered pair of users.
// PartyA and PartyB are fixed at creation; PartyA is the user who caused it.
type Conversation struct {
	ID             int64      `db:"id" json:"id"`
	PartyA         int64      `db:"party_a" json:"party_a"`
	PartyB         int64      `db:"party_b" json:"party_b"`
	SavedByA       bool       `db:"saved_by_a" json:"saved_by_a"`
	SavedByB       bool       `db:"saved_by_b" json:"saved_by_b"`
	UnreadForA     int        `db:"unread_for_a" json:"unread_for_a"`
	UnreadForB     int        `db:"unread_for_b" json:"unread_for_b"`
	LastActivityAt *time.Time `db:"last_activity_at" json:"last_activity_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// Perspective is a conversation seen from one of its parties.
type Perspective struct {
	ConversationID int64
	SelfID         int64
	OtherID        int64
	Unread         int
	Saved          bool
	LastActivityAt *time.Time
}

// Project resolves which slot of c belongs to selfID.
func (c *Conversation) Project(selfID int64) (Perspective, error) {
	p := Perspective{
		ConversationID: c.ID,
		SelfID:         selfID,
		LastActivityAt: c.LastActivityAt,
	}
	switch selfID {
	case c.PartyA:
		p.OtherID, p.Unread, p.Saved = c.PartyB, c.UnreadForA, c.SavedByA
	case c.PartyB:
		p.OtherID, p.Unread, p.Saved = c.PartyA, c.UnreadForB, c.SavedByB
	default:
		return Perspective{}, fmt.Errorf("user %d in conversation %d: %w", selfID, c.ID, ErrNotFound)
	}
	return p, nil
}

// PairKey returns the canonical (low, high) ordering of an unordered pair.
func PairKey(u, v int64) (int64, int64) {
	if u < v {
		return u, v
	}
	return v, u
}

// ListFilter selects which conversations ListForUser returns.
type ListFilter int

const (
	ListAny ListFilter = iota
	ListSavedOnly
)

// Message represents a single direct message. Read is kept for wire
// compatibility only; unread state lives on the conversation.
type Message struct {
	ID         int64     `db:"id" json:"id"`
	SenderID   int64     `db:"sender_id" json:"sender_id"`
	ReceiverID int64     `db:"receiver_id" json:"receiver_id"`
	Text       string    `db:"text" json:"text"` // encrypted at rest
	Read       bool      `db:"read" json:"read"`
	SentAt     time.Time `db:"sent_at" json:"sent_at"`
}

// Validate checks the invariants every stored message must hold.
func (m *Message) Validate() error {
	if m.SenderID == m.ReceiverID {
		return fmt.Errorf("%w: cannot send a message to yourself", ErrInvalidInput)
	}
	if strings.TrimSpace(m.Text) == "" {
		return fmt.Errorf("%w: message text cannot be empty", ErrInvalidInput)
	}
	return nil
}
