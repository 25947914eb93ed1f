package domain

import (
	"encoding/json"
	"time"
)

// Actor is the user a notification is about, in the flattened shape the
// server embeds in notification payloads.
type Actor struct {
	ID        string `json:"id,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Nickname  string `json:"nickname,omitempty"`
	Email     string `json:"email,omitempty"`
	Avatar    string `json:"avatar,omitempty"`
}

// DisplayName picks the best human-readable name, falling back to
// "Someone" the way the original client renders unknown actors.
func (a *Actor) DisplayName() string {
	if a == nil {
		return "Someone"
	}
	if a.Nickname != "" {
		return a.Nickname
	}
	if a.FirstName != "" || a.LastName != "" {
		name := a.FirstName
		if a.LastName != "" {
			if name != "" {
				name += " "
			}
			name += a.LastName
		}
		return name
	}
	if a.Email != "" {
		return a.Email
	}
	return "Someone"
}

// UINotification is the structured event the notification router hands
// to consumers: a title, a description, whether the consumer can act on
// it, and the raw payload for anything schema-specific.
type UINotification struct {
	ID         string          `json:"id"`
	Kind       EventType       `json:"kind"`
	Title      string          `json:"title"`
	Body       string          `json:"body"`
	Actor      *Actor          `json:"actor,omitempty"`
	GroupID    string          `json:"group_id,omitempty"`
	Actionable bool            `json:"actionable"`
	Read       bool            `json:"read"`
	CreatedAt  time.Time       `json:"created_at"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// ChatMessage is the decoded payload of a private or group chat
// delivery, in the superset shape the server uses for both.
type ChatMessage struct {
	ID          string    `json:"id,omitempty"`
	SenderID    string    `json:"sender_id,omitempty"`
	RecipientID string    `json:"recipient_Id,omitempty"`
	ReceiverID  string    `json:"receiver_id,omitempty"`
	GroupID     string    `json:"group_id,omitempty"`
	Message     string    `json:"message,omitempty"`
	Content     string    `json:"content,omitempty"`
	IsRead      bool      `json:"is_read,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
	Sender      *Actor    `json:"sender,omitempty"`
}

// GroupEvent is the payload of an event-creation notification. The
// server formats event_time as "2006-01-02 15:04:05", so it stays a
// string here.
type GroupEvent struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	EventTime   string `json:"event_time,omitempty"`
	GroupTitle  string `json:"group_title,omitempty"`
	Location    string `json:"location,omitempty"`
}

// InboxStore persists routed notifications locally so the inbox
// survives restarts. Implementations live outside the transport core;
// the router works without one.
type InboxStore interface {
	Insert(n *UINotification) error
	List(limit int) ([]*UINotification, error)
	UnreadCount() (int, error)
	MarkRead(id string) error
	MarkAllRead() error
	Delete(id string) error
	Prune(olderThan time.Time) (int, error)
	Close() error
}
