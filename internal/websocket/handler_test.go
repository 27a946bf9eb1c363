package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"chatrelay/internal/directory"
	"chatrelay/internal/store"
	"chatrelay/pkg/database"
	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// testRelay bundles a live relay endpoint with its backing components.
type testRelay struct {
	store     *store.Manager
	directory *directory.Directory
	registry  *Registry
	server    *httptest.Server
}

func defaultTestOptions() Options {
	return Options{
		PingInterval: 10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Second,
		SendBuffer:   32,
		HistoryScope: HistoryScopeUser,
	}
}

func newTestRelay(t *testing.T, opts Options, messageStore interfaces.MessageStore) *testRelay {
	t.Helper()

	m, err := store.NewManager(database.DefaultConfig(filepath.Join(t.TempDir(), "relay.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	if messageStore == nil {
		messageStore = m
	}

	userDirectory := directory.New(m)
	registry := NewRegistry()
	handler := NewHandler(registry, userDirectory, messageStore, opts)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/chat", handler.HandleChat)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &testRelay{store: m, directory: userDirectory, registry: registry, server: server}
}

func (tr *testRelay) dial(t *testing.T, username string) *gorilla.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(tr.server.URL, "http") + "/ws/chat?username=" + username
	client, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// seedMessages resolves username and appends the contents in order with
// distinct send times.
func (tr *testRelay) seedMessages(t *testing.T, username string, contents ...string) {
	t.Helper()
	user, err := tr.directory.Resolve(context.Background(), username)
	require.NoError(t, err)
	for _, content := range contents {
		_, err := tr.store.AppendMessage(context.Background(), user.ID, content)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}
}

func readHistory(t *testing.T, client *gorilla.Conn) []types.Envelope {
	t.Helper()
	frame := readFrame(t, client, 2*time.Second)
	require.True(t, strings.HasPrefix(frame, "["), "history frame must be a JSON array, got %s", frame)

	var envelopes []types.Envelope
	require.NoError(t, json.Unmarshal([]byte(frame), &envelopes))
	return envelopes
}

func TestHandlerRejectsMissingUsername(t *testing.T) {
	tr := newTestRelay(t, defaultTestOptions(), nil)

	url := "ws" + strings.TrimPrefix(tr.server.URL, "http") + "/ws/chat"
	_, resp, err := gorilla.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandlerRejectsInvalidUsername(t *testing.T) {
	tr := newTestRelay(t, defaultTestOptions(), nil)

	url := "ws" + strings.TrimPrefix(tr.server.URL, "http") + "/ws/chat?username=bad%0Aname"
	_, resp, err := gorilla.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHistoryReplayFirstFrameIsOrderedArray(t *testing.T) {
	req := require.New(t)
	tr := newTestRelay(t, defaultTestOptions(), nil)
	tr.seedMessages(t, "alice", "hi", "bye")

	client := tr.dial(t, "alice")
	history := readHistory(t, client)

	req.Len(history, 2)
	req.Equal("alice", history[0].Username)
	req.Equal("hi", history[0].Content)
	req.Equal("bye", history[1].Content)
	req.NotNil(history[0].SendTime)
	req.NotNil(history[1].SendTime)
	req.True(history[0].SendTime.Before(*history[1].SendTime))
}

func TestHistoryReplayEmptyForNewUser(t *testing.T) {
	tr := newTestRelay(t, defaultTestOptions(), nil)

	client := tr.dial(t, "newcomer")
	history := readHistory(t, client)
	require.Empty(t, history)
}

func TestHistoryScopedToConnectingUser(t *testing.T) {
	req := require.New(t)
	tr := newTestRelay(t, defaultTestOptions(), nil)
	tr.seedMessages(t, "alice", "mine")
	tr.seedMessages(t, "bob", "not mine")

	client := tr.dial(t, "alice")
	history := readHistory(t, client)

	req.Len(history, 1)
	req.Equal("mine", history[0].Content)
}

func TestRoomHistoryVariantReplaysAllUsers(t *testing.T) {
	req := require.New(t)
	opts := defaultTestOptions()
	opts.HistoryScope = HistoryScopeRoom
	tr := newTestRelay(t, opts, nil)
	tr.seedMessages(t, "alice", "from alice")
	tr.seedMessages(t, "bob", "from bob")

	client := tr.dial(t, "carol")
	history := readHistory(t, client)

	req.Len(history, 2)
	req.Equal("alice", history[0].Username)
	req.Equal("bob", history[1].Username)
}

func TestBroadcastReachesAllConnectedClients(t *testing.T) {
	req := require.New(t)
	tr := newTestRelay(t, defaultTestOptions(), nil)

	a := tr.dial(t, "a")
	b := tr.dial(t, "b")
	c := tr.dial(t, "c")
	for _, client := range []*gorilla.Conn{a, b, c} {
		readHistory(t, client)
	}

	req.NoError(a.WriteMessage(gorilla.TextMessage, []byte("hello")))

	// Every registered connection receives the frame, the sender included.
	for _, client := range []*gorilla.Conn{a, b, c} {
		frame := readFrame(t, client, 2*time.Second)
		req.JSONEq(`{"username":"a","content":"hello"}`, frame)
	}
}

func TestBroadcastFrameOmitsSendTime(t *testing.T) {
	req := require.New(t)
	tr := newTestRelay(t, defaultTestOptions(), nil)

	a := tr.dial(t, "a")
	readHistory(t, a)

	req.NoError(a.WriteMessage(gorilla.TextMessage, []byte("now")))
	frame := readFrame(t, a, 2*time.Second)
	req.NotContains(frame, "send_time")
}

func TestMessagesPersistDuringActiveLoop(t *testing.T) {
	req := require.New(t)
	tr := newTestRelay(t, defaultTestOptions(), nil)

	a := tr.dial(t, "a")
	readHistory(t, a)

	req.NoError(a.WriteMessage(gorilla.TextMessage, []byte("durable")))
	readFrame(t, a, 2*time.Second)

	require.Eventually(t, func() bool {
		envelopes, err := tr.store.MessagesForUsername(context.Background(), "a")
		return err == nil && len(envelopes) == 1 && envelopes[0].Content == "durable"
	}, 2*time.Second, 20*time.Millisecond)
}

// flakyStore wraps a real message store and fails appends on demand,
// signalling each rejection so tests can sequence around it.
type flakyStore struct {
	interfaces.MessageStore
	fail     atomic.Bool
	rejected chan struct{}
}

func (f *flakyStore) AppendMessage(ctx context.Context, userID, content string) (*types.Message, error) {
	if f.fail.Load() {
		select {
		case f.rejected <- struct{}{}:
		default:
		}
		return nil, errors.New("append failed: disk full")
	}
	return f.MessageStore.AppendMessage(ctx, userID, content)
}

func TestStoreFailureDropsMessageAndKeepsConnectionActive(t *testing.T) {
	req := require.New(t)

	m, err := store.NewManager(database.DefaultConfig(filepath.Join(t.TempDir(), "relay.db")))
	req.NoError(err)
	t.Cleanup(func() { _ = m.Close() })

	flaky := &flakyStore{MessageStore: m, rejected: make(chan struct{}, 1)}
	userDirectory := directory.New(m)
	registry := NewRegistry()
	handler := NewHandler(registry, userDirectory, flaky, defaultTestOptions())

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/chat", handler.HandleChat)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	tr := &testRelay{store: m, directory: userDirectory, registry: registry, server: server}

	a := tr.dial(t, "a")
	b := tr.dial(t, "b")
	readHistory(t, a)
	readHistory(t, b)

	// First message hits a failing store: dropped, never broadcast.
	flaky.fail.Store(true)
	req.NoError(a.WriteMessage(gorilla.TextMessage, []byte("lost")))
	select {
	case <-flaky.rejected:
	case <-time.After(2 * time.Second):
		t.Fatal("store never saw the failing append")
	}

	// The connection stayed active: the next message goes through, and
	// since per-connection delivery is ordered, the first frame each peer
	// sees proves the dropped message was never broadcast.
	flaky.fail.Store(false)
	req.NoError(a.WriteMessage(gorilla.TextMessage, []byte("recovered")))
	req.JSONEq(`{"username":"a","content":"recovered"}`, readFrame(t, b, 2*time.Second))
	req.JSONEq(`{"username":"a","content":"recovered"}`, readFrame(t, a, 2*time.Second))

	// Only the surviving message was persisted.
	envelopes, err := m.MessagesForUsername(context.Background(), "a")
	req.NoError(err)
	req.Len(envelopes, 1)
	req.Equal("recovered", envelopes[0].Content)
}

func TestClientCloseTriggersUnregister(t *testing.T) {
	tr := newTestRelay(t, defaultTestOptions(), nil)

	a := tr.dial(t, "a")
	readHistory(t, a)
	require.Eventually(t, func() bool { return tr.registry.Count() == 1 },
		2*time.Second, 20*time.Millisecond)

	require.NoError(t, a.Close())
	require.Eventually(t, func() bool { return tr.registry.Count() == 0 },
		2*time.Second, 20*time.Millisecond)
}

func TestDisconnectedPeerDoesNotBlockOthers(t *testing.T) {
	req := require.New(t)
	tr := newTestRelay(t, defaultTestOptions(), nil)

	a := tr.dial(t, "a")
	b := tr.dial(t, "b")
	readHistory(t, a)
	readHistory(t, b)

	req.NoError(b.Close())

	req.NoError(a.WriteMessage(gorilla.TextMessage, []byte("still relaying")))
	req.JSONEq(`{"username":"a","content":"still relaying"}`, readFrame(t, a, 2*time.Second))
}
