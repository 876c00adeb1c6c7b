package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/attend/internal/session"
	"github.com/your-org/attend/pkg/dto"
)

func TestEnvelope(t *testing.T) {
	id := uuid.New()
	data, err := Envelope(session.Event{
		Type:      session.EventCheckedIn,
		SessionID: id,
		Message:   "checked in: alice",
		Timestamp: time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	var env dto.WSEvent
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "checked_in", env.Type)
	assert.Equal(t, id, env.SessionID)
	assert.Equal(t, "2026-03-02T09:30:00Z", env.Timestamp)

	var inner session.Event
	require.NoError(t, json.Unmarshal(env.Data, &inner))
	assert.Equal(t, "checked in: alice", inner.Message)
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubFiltersBySession(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws", hub.HandleWS)
	srv := httptest.NewServer(r)
	defer srv.Close()

	mine, other := uuid.New(), uuid.New()
	all := dial(t, srv, "")
	filtered := dial(t, srv, "?session_id="+mine.String())

	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	hub.BroadcastEvent(session.Event{Type: session.EventStatus, SessionID: other})
	hub.BroadcastEvent(session.Event{Type: session.EventOutcome, SessionID: mine})

	read := func(conn *websocket.Conn) dto.WSEvent {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var env dto.WSEvent
		require.NoError(t, json.Unmarshal(data, &env))
		return env
	}

	assert.Equal(t, other, read(all).SessionID)
	assert.Equal(t, mine, read(all).SessionID)
	got := read(filtered)
	assert.Equal(t, mine, got.SessionID)
	assert.Equal(t, "outcome", got.Type)
}

func TestHandleWSRejectsBadFilter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub()
	r := gin.New()
	r.GET("/ws", hub.HandleWS)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/ws?session_id=nope", nil))
	assert.Equal(t, 400, w.Code)
}
