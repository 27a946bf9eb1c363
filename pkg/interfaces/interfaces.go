// Package interfaces defines the contracts between the relay's components.
// Handlers and the API server depend on these rather than on concrete
// implementations so tests can substitute failing or in-memory stores.
package interfaces

import (
	"context"

	"chatrelay/pkg/types"
)

// MessageStore is the durable append-only message log.
type MessageStore interface {
	// AppendMessage persists a new message attributed to userID, assigning
	// its ID and send time. Appends from a single caller are persisted in
	// submission order.
	AppendMessage(ctx context.Context, userID, content string) (*types.Message, error)

	// HistoryForUser returns all messages sent by userID, ordered by send
	// time ascending.
	HistoryForUser(ctx context.Context, userID string) ([]*types.Message, error)

	// RoomHistory returns wire envelopes for every stored message across all
	// users, ordered by send time ascending.
	RoomHistory(ctx context.Context) ([]types.Envelope, error)

	// MessagesForUsername returns wire envelopes for every message sent by
	// the named user. An unknown username yields an empty slice, not an
	// error.
	MessagesForUsername(ctx context.Context, username string) ([]types.Envelope, error)
}

// UserStore persists chat identities. Consumed by the user directory.
type UserStore interface {
	// CreateUser inserts a new user. Returns ErrUsernameTaken when the
	// username already exists.
	CreateUser(ctx context.Context, user *types.User) error

	// GetUserByUsername returns the user with the exact username, or
	// ErrUserNotFound.
	GetUserByUsername(ctx context.Context, username string) (*types.User, error)
}

// UserDirectory maps usernames to stable identities, creating one on first
// sight.
type UserDirectory interface {
	// Resolve returns the user for username, creating it if it has never
	// been seen. Concurrent resolves of the same unseen username return the
	// same identity.
	Resolve(ctx context.Context, username string) (*types.User, error)
}
