package subscription

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishesEventToConnectedSubscriber(t *testing.T) {
	hub := NewHub(4, time.Second, nil)
	defer hub.Close()

	srv := httptest.NewServer(hub)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	time.Sleep(10 * time.Millisecond) // let ServeHTTP register the client

	hub.Publish(Event{Kind: EventConnectionState, CameraID: "cam_01", State: "running", Timestamp: time.Now()})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(payload), "cam_01")
	assert.Contains(t, string(payload), "connection_state")
}

func TestHub_ClientDisconnectIsDeregistered(t *testing.T) {
	hub := NewHub(4, time.Second, nil)
	defer hub.Close()

	srv := httptest.NewServer(hub)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	conn.Close()
	time.Sleep(10 * time.Millisecond)

	hub.mu.RLock()
	n := len(hub.clients)
	hub.mu.RUnlock()
	assert.Equal(t, 0, n)
}
