package events

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/BundleOS/backend/internal/logging"
)

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/stream", hub.HandleConnection)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestConnectSendsWelcome(t *testing.T) {
	hub := NewHub(logging.NewNop())
	conn := dialHub(t, hub)

	ev := readEvent(t, conn)
	assert.Equal(t, "system", ev.Type)
}

func TestPingPong(t *testing.T) {
	hub := NewHub(logging.NewNop())
	conn := dialHub(t, hub)
	readEvent(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	ev := readEvent(t, conn)
	assert.Equal(t, "pong", ev.Type)
}

func TestUnknownMessageType(t *testing.T) {
	hub := NewHub(logging.NewNop())
	conn := dialHub(t, hub)
	readEvent(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "bogus"}))
	ev := readEvent(t, conn)
	assert.Equal(t, "error", ev.Type)
}

func TestNotifyBundleEventReachesSubscriber(t *testing.T) {
	hub := NewHub(logging.NewNop())
	conn := dialHub(t, hub)
	readEvent(t, conn)

	// Registration happens in the handler goroutine after upgrade; the
	// welcome read above guarantees it already ran.
	hub.NotifyBundleEvent("install", "com.example.demo", 100)

	ev := readEvent(t, conn)
	assert.Equal(t, "install", ev.Type)
	assert.Equal(t, "com.example.demo", ev.Bundle)
	assert.Equal(t, int32(100), ev.UserID)
	assert.NotZero(t, ev.Timestamp)
}

func TestClientCountTracksConnections(t *testing.T) {
	hub := NewHub(logging.NewNop())
	assert.Equal(t, 0, hub.ClientCount())

	conn := dialHub(t, hub)
	readEvent(t, conn)
	assert.Equal(t, 1, hub.ClientCount())

	conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestBroadcastWithNoClients(t *testing.T) {
	hub := NewHub(logging.NewNop())
	hub.NotifyBundleEvent("uninstall", "com.example.demo", 0)
}
