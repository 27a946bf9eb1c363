package types

import (
	"time"
)

// User is a stable chat identity. A user is created lazily the first time an
// unseen username connects and is never mutated or deleted afterwards.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is one persisted chat line. SendTime is assigned by the store at
// persistence time, in UTC. Messages are immutable after creation.
type Message struct {
	ID       string    `json:"id"`
	UserID   string    `json:"user_id"`
	Content  string    `json:"content"`
	SendTime time.Time `json:"send_time"`
}

// Envelope is the wire-level unit delivered to clients. Live broadcast frames
// carry username and content only; history replay and the messages API add
// send_time. The pointer with omitempty keeps both shapes on a single type.
type Envelope struct {
	Username string     `json:"username"`
	Content  string     `json:"content"`
	SendTime *time.Time `json:"send_time,omitempty"`
}

// BroadcastEnvelope builds the live frame for a message.
func BroadcastEnvelope(username, content string) Envelope {
	return Envelope{Username: username, Content: content}
}

// HistoryEnvelope builds the replay frame for a persisted message.
func HistoryEnvelope(username string, msg *Message) Envelope {
	t := msg.SendTime
	return Envelope{Username: username, Content: msg.Content, SendTime: &t}
}
