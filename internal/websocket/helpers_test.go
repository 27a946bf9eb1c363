package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newTestConnPair upgrades a loopback websocket and returns the server side
// wrapped in a Connection plus the raw client side for observing delivered
// frames.
func newTestConnPair(t *testing.T, buffer int) (*Connection, *websocket.Conn) {
	t.Helper()

	serverConnCh := make(chan *websocket.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade test connection: %v", err)
			return
		}
		serverConnCh <- c
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	serverConn := <-serverConnCh
	conn := NewConnection(serverConn, buffer, time.Second)
	t.Cleanup(func() { _ = conn.Close() })

	return conn, client
}

// readFrame reads one text frame from the client side within the deadline.
func readFrame(t *testing.T, client *websocket.Conn, deadline time.Duration) string {
	t.Helper()
	require.NoError(t, client.SetReadDeadline(time.Now().Add(deadline)))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

// expectNoFrame asserts that no frame arrives on the client side within the
// window.
func expectNoFrame(t *testing.T, client *websocket.Conn, window time.Duration) {
	t.Helper()
	require.NoError(t, client.SetReadDeadline(time.Now().Add(window)))
	_, _, err := client.ReadMessage()
	require.Error(t, err)
}
