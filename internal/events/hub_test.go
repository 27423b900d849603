package events

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	r := gin.New()
	r.GET("/ws", WSHandler(hub))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, welcome, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(welcome), "welcome")
	return ws
}

func TestBroadcastReachesClients(t *testing.T) {
	hub := NewHub(nil)
	ws := dialHub(t, hub)

	require.Eventually(t, func() bool { return hub.Stats().WSClients == 1 }, time.Second, 5*time.Millisecond)

	hub.Broadcast(NewEvent(TypeManga, "mangadex-manga-a1", map[string]string{"id": "a1"}))

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := ws.ReadMessage()
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, TypeManga, ev.Type)
	assert.Equal(t, "mangadex-manga-a1", ev.Name)
	assert.JSONEq(t, `{"id":"a1"}`, string(ev.Payload))
	assert.Equal(t, uint64(1), hub.Stats().Sent)
}

func TestClientDisconnectIsRemoved(t *testing.T) {
	hub := NewHub(nil)
	ws := dialHub(t, hub)
	require.Eventually(t, func() bool { return hub.Stats().WSClients == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, ws.Close())
	require.Eventually(t, func() bool { return hub.Stats().WSClients == 0 }, time.Second, 5*time.Millisecond)
}

func TestLoopbackOrigin(t *testing.T) {
	tests := map[string]bool{
		"":                      true,
		"http://127.0.0.1:1420": true,
		"http://localhost:1420": true,
		"http://[::1]:1420":     true,
		"https://example.com":   false,
	}
	for origin, want := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		assert.Equal(t, want, loopbackOrigin(r), origin)
	}
}
