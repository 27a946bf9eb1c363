// Package store implements the durable message log and user persistence over
// SQLite. All writes are funneled through a single writer goroutine; reads run
// concurrently on the connection pool.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/samber/lo"

	"chatrelay/pkg/database"
	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// Manager implements interfaces.MessageStore and interfaces.UserStore.
type Manager struct {
	db           *sql.DB
	config       *database.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

// writeOperation is one queued database write and its completion channel.
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database, applies migrations, and starts the write
// loop.
func NewManager(config *database.Config) (*Manager, error) {
	db, err := sql.Open("sqlite3", config.Path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := database.ApplyMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	m := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	m.wg.Add(1)
	go m.writeLoop()

	return m, nil
}

// writeLoop processes all write operations in a single goroutine. SQLite
// allows one writer at a time; serializing here avoids lock contention
// between connection handlers.
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			op.result <- op.operation(m.db)
		case <-m.shutdown:
			// Drain queued writes so no accepted append is lost.
			for {
				select {
				case op := <-m.writeChannel:
					op.result <- op.operation(m.db)
				default:
					return
				}
			}
		}
	}
}

// executeWrite queues a write and waits for it to complete. Because the
// caller blocks until its own write finishes, writes submitted sequentially
// by one handler are persisted in submission order.
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return interfaces.ErrStoreClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return interfaces.ErrStoreClosed
	}
}

// AppendMessage persists a new message for userID, assigning its ID and UTC
// send time.
func (m *Manager) AppendMessage(ctx context.Context, userID, content string) (*types.Message, error) {
	msg := &types.Message{
		ID:       uuid.New().String(),
		UserID:   userID,
		Content:  content,
		SendTime: time.Now().UTC(),
	}

	err := m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			"INSERT INTO messages (id, user_id, content, send_time) VALUES (?, ?, ?, ?)",
			msg.ID, msg.UserID, msg.Content, msg.SendTime,
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}

	return msg, nil
}

// HistoryForUser returns every message sent by userID, ordered by send time
// ascending. Equal timestamps are broken by message ID so replay order is
// stable.
func (m *Manager) HistoryForUser(ctx context.Context, userID string) ([]*types.Message, error) {
	return m.queryMessages(ctx,
		"SELECT id, user_id, content, send_time FROM messages WHERE user_id = ? ORDER BY send_time ASC, id ASC",
		userID,
	)
}

// RoomHistory returns envelopes for every stored message across all users in
// send-time order. Backs the room-wide history variant.
func (m *Manager) RoomHistory(ctx context.Context) ([]types.Envelope, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT u.username, m.content, m.send_time
		FROM messages m JOIN users u ON u.id = m.user_id
		ORDER BY m.send_time ASC, m.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query room history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	envelopes := []types.Envelope{}
	for rows.Next() {
		var envelope types.Envelope
		var sendTime time.Time
		if err := rows.Scan(&envelope.Username, &envelope.Content, &sendTime); err != nil {
			return nil, fmt.Errorf("failed to scan room history row: %w", err)
		}
		envelope.SendTime = &sendTime
		envelopes = append(envelopes, envelope)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating room history rows: %w", err)
	}
	return envelopes, nil
}

// MessagesForUsername projects a user's history to wire envelopes. An unknown
// username yields an empty slice.
func (m *Manager) MessagesForUsername(ctx context.Context, username string) ([]types.Envelope, error) {
	user, err := m.GetUserByUsername(ctx, username)
	if err == interfaces.ErrUserNotFound {
		return []types.Envelope{}, nil
	}
	if err != nil {
		return nil, err
	}

	messages, err := m.HistoryForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	return lo.Map(messages, func(msg *types.Message, _ int) types.Envelope {
		return types.HistoryEnvelope(user.Username, msg)
	}), nil
}

// CreateUser inserts a new user row. A duplicate username maps to
// interfaces.ErrUsernameTaken so the directory can resolve the race.
func (m *Manager) CreateUser(ctx context.Context, user *types.User) error {
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			"INSERT INTO users (id, username, created_at) VALUES (?, ?, ?)",
			user.ID, user.Username, user.CreatedAt,
		)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return interfaces.ErrUsernameTaken
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUserByUsername returns the user with the exact username.
func (m *Manager) GetUserByUsername(ctx context.Context, username string) (*types.User, error) {
	row := m.db.QueryRowContext(ctx,
		"SELECT id, username, created_at FROM users WHERE username = ?",
		username,
	)

	var user types.User
	if err := row.Scan(&user.ID, &user.Username, &user.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

// HealthCheck validates database connectivity.
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// DB exposes the underlying connection for schema validation.
func (m *Manager) DB() *sql.DB {
	return m.db
}

// Close shuts down the write loop and closes the database. Safe to call more
// than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	log.Println("Message store closed")
	return nil
}

func (m *Manager) queryMessages(ctx context.Context, query string, args ...interface{}) ([]*types.Message, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*types.Message
	for rows.Next() {
		var msg types.Message
		if err := rows.Scan(&msg.ID, &msg.UserID, &msg.Content, &msg.SendTime); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return messages, nil
}

// isUniqueViolation detects the sqlite unique-constraint failure on
// users.username without depending on driver error types.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}
