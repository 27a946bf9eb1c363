// Package directory maps usernames to stable user identities, creating one on
// first sight. Resolved users are cached in memory for the process lifetime;
// users are never mutated or deleted.
package directory

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// Directory implements interfaces.UserDirectory on top of a UserStore.
type Directory struct {
	store interfaces.UserStore
	users map[string]*types.User // username -> User
	mu    sync.Mutex
}

// New creates a directory backed by the given user store.
func New(store interfaces.UserStore) *Directory {
	return &Directory{
		store: store,
		users: make(map[string]*types.User),
	}
}

// Resolve returns the identity for username, creating and persisting one if
// it has never been seen. Create-or-fetch runs under the directory mutex so
// concurrent resolves of the same unseen username produce exactly one user;
// the users.username UNIQUE constraint backstops creation races from other
// processes.
func (d *Directory) Resolve(ctx context.Context, username string) (*types.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if user, ok := d.users[username]; ok {
		return user, nil
	}

	user, err := d.store.GetUserByUsername(ctx, username)
	if err == nil {
		d.users[username] = user
		return user, nil
	}
	if err != interfaces.ErrUserNotFound {
		return nil, fmt.Errorf("failed to look up user %q: %w", username, err)
	}

	user = &types.User{
		ID:        uuid.New().String(),
		Username:  username,
		CreatedAt: time.Now().UTC(),
	}

	switch err := d.store.CreateUser(ctx, user); err {
	case nil:
		log.Printf("Created user: username=%s id=%s", user.Username, user.ID)
	case interfaces.ErrUsernameTaken:
		// Lost a creation race outside this process; the row exists now.
		user, err = d.store.GetUserByUsername(ctx, username)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch user %q after creation race: %w", username, err)
		}
	default:
		return nil, fmt.Errorf("failed to create user %q: %w", username, err)
	}

	d.users[username] = user
	return user, nil
}

// Stats returns directory cache statistics.
func (d *Directory) Stats() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return map[string]int{"cached_users": len(d.users)}
}
