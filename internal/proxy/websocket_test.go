package proxy

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lucasduarte0/whatsapp-api/internal/events"
)

func newStream(t *testing.T) (*events.Hub, string) {
	t.Helper()
	// the handler outlives the test once the connection is hijacked
	logger := zap.NewNop()
	hub := events.NewHub(logger)
	s := NewServer(hub, logger)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.HandleEvents(w, r, strings.TrimPrefix(r.URL.Path, "/"))
	}))
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestHandleEvents_StreamsOnlyOwnSession(t *testing.T) {
	hub, base := newStream(t)

	conn, _, err := websocket.DefaultDialer.Dial(base+"/alpha", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Subscribers("alpha") == 1 }, time.Second, 5*time.Millisecond)

	hub.Publish(events.Envelope{DataType: "ready", SessionID: "beta"})
	hub.Publish(events.Envelope{DataType: "authenticated", SessionID: "alpha"})
	hub.Publish(events.Envelope{DataType: "ready", SessionID: "alpha"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got []string
	for i := 0; i < 2; i++ {
		var env events.Envelope
		require.NoError(t, conn.ReadJSON(&env))
		assert.Equal(t, "alpha", env.SessionID)
		got = append(got, env.DataType)
	}
	assert.Equal(t, []string{"authenticated", "ready"}, got)
}

func TestHandleEvents_UnsubscribesOnClose(t *testing.T) {
	hub, base := newStream(t)

	conn, _, err := websocket.DefaultDialer.Dial(base+"/alpha", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Subscribers("alpha") == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	conn.Close()

	assert.Eventually(t, func() bool { return hub.Subscribers("alpha") == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHandleEvents_RejectsPlainHTTP(t *testing.T) {
	logger := zap.NewNop()
	hub := events.NewHub(logger)
	s := NewServer(hub, logger)

	rec := httptest.NewRecorder()
	s.HandleEvents(rec, httptest.NewRequest(http.MethodGet, "/alpha", nil), "alpha")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, hub.Subscribers("alpha"))
}
