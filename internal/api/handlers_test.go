package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/lucasduarte0/whatsapp-api/internal/client"
	"github.com/lucasduarte0/whatsapp-api/internal/client/clienttest"
	"github.com/lucasduarte0/whatsapp-api/internal/events"
	"github.com/lucasduarte0/whatsapp-api/internal/proxy"
	"github.com/lucasduarte0/whatsapp-api/internal/ratelimit"
	"github.com/lucasduarte0/whatsapp-api/internal/session"
)

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(string, events.Envelope) {}

type testServer struct {
	router  *mux.Router
	manager *session.Manager
	factory *clienttest.Factory
	hub     *events.Hub
	root    string
}

type serverOpts struct {
	api     Options
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

func newTestServer(t *testing.T, tweak func(*serverOpts)) *testServer {
	t.Helper()
	root := t.TempDir()
	so := serverOpts{
		api:     Options{SessionsPath: root, MaxBodySize: 1024},
		limiter: ratelimit.NewLimiter(1000, time.Second),
		logger:  zaptest.NewLogger(t),
	}
	if tweak != nil {
		tweak(&so)
	}
	logger := so.logger

	hub := events.NewHub(logger)
	binder := session.NewBinder(session.BinderConfig{
		Dispatcher: nopDispatcher{},
		Publisher:  hub,
		WebhookURL: func(string) string { return "http://hooks.test/cb" },
	}, logger)
	factory := &clienttest.Factory{}
	manager := session.NewManager(session.Config{
		SessionsPath:       root,
		ReadyTimeout:       200 * time.Millisecond,
		ReadyInterval:      5 * time.Millisecond,
		CheckTimeout:       30 * time.Millisecond,
		StateTimeout:       100 * time.Millisecond,
		ShutdownTimeout:    50 * time.Millisecond,
		DisconnectPoll:     5 * time.Millisecond,
		DisconnectAttempts: 3,
		TeardownTimeout:    time.Second,
	}, session.NewRegistry(), factory, binder, logger)

	h := NewHandler(manager, so.api, logger)
	router := h.SetupRoutes(proxy.NewServer(hub, logger), so.limiter)
	return &testServer{router: router, manager: manager, factory: factory, hub: hub, root: root}
}

func (s *testServer) do(t *testing.T, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) get(t *testing.T, path string) *httptest.ResponseRecorder {
	return s.do(t, http.MethodGet, path, "", nil)
}

// start creates a session over HTTP and returns its fake client
func (s *testServer) start(t *testing.T, id string) *clienttest.Client {
	t.Helper()
	rec := s.get(t, "/session/start/"+id)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	c := s.factory.Last(1, time.Second)
	require.NotNil(t, c)
	return c
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestPing(t *testing.T) {
	s := newTestServer(t, func(o *serverOpts) { o.api.APIKey = "secret" })

	rec := s.get(t, "/ping")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"success": true, "message": "pong"}, decode(t, rec))
	assert.NotEmpty(t, rec.Header().Get(HeaderRequestID))
}

func TestAPIKey(t *testing.T) {
	s := newTestServer(t, func(o *serverOpts) { o.api.APIKey = "secret" })

	rec := s.get(t, "/session/getSessions")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, map[string]any{"success": false, "error": "Invalid API key"}, decode(t, rec))

	rec = s.do(t, http.MethodGet, "/session/getSessions", "", http.Header{HeaderAPIKey: {"wrong"}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/session/getSessions", "", http.Header{HeaderAPIKey: {"secret"}})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStartSession(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.get(t, "/session/start/alpha")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"success": true, "message": session.MsgSessionInitiated}, decode(t, rec))

	rec = s.get(t, "/session/start/alpha")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "Session already exists for: alpha", decode(t, rec)["error"])
	assert.Len(t, s.factory.Clients(), 1)

	rec = s.get(t, "/session/getSessions")
	assert.Equal(t, []any{"alpha"}, decode(t, rec)["sessions"])
}

func TestStartSession_InvalidName(t *testing.T) {
	s := newTestServer(t, nil)

	for _, path := range []string{"/session/start/bad.id", "/session/status/a%20b", "/session/qr/x$y"} {
		rec := s.get(t, path)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, path)
		assert.Equal(t, session.ErrInvalidID.Error(), decode(t, rec)["error"], path)
	}
	assert.Empty(t, s.factory.Clients())
}

func TestStartSession_ReadinessTimeout(t *testing.T) {
	s := newTestServer(t, nil)
	s.factory.Configure = func(c *clienttest.Client) { c.LaunchOnInit(false) }

	rec := s.get(t, "/session/start/slow")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "timeout waiting for nested object")
}

func TestSessionStatus(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.get(t, "/session/status/ghost")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"success": false, "state": nil, "message": session.MsgSessionNotFound}, decode(t, rec))

	c := s.start(t, "alpha")

	rec = s.get(t, "/session/status/alpha")
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, string(client.StateUnpaired), body["state"])
	assert.Equal(t, session.MsgSessionNotConnected, body["message"])

	c.SetState(client.StateConnected, nil)
	rec = s.get(t, "/session/status/alpha")
	body = decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, string(client.StateConnected), body["state"])
	assert.Equal(t, session.MsgSessionConnected, body["message"])
}

func TestSessionQR(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.get(t, "/session/qr/alpha")
	assert.Equal(t, map[string]any{"success": false, "message": session.MsgSessionNotFound}, decode(t, rec))

	c := s.start(t, "alpha")
	rec = s.get(t, "/session/qr/alpha")
	assert.Equal(t, map[string]any{"success": false, "message": MsgQRNotReady}, decode(t, rec))

	c.Emit(client.Event{Name: client.EventQR, Args: map[string]any{"qr": "2@pairing"}})
	rec = s.get(t, "/session/qr/alpha")
	assert.Equal(t, map[string]any{"success": true, "qr": "2@pairing"}, decode(t, rec))

	c.Emit(client.Event{Name: client.EventReady})
	rec = s.get(t, "/session/qr/alpha")
	assert.Equal(t, MsgQRNotReady, decode(t, rec)["message"])
}

func TestRestartAndTerminate(t *testing.T) {
	s := newTestServer(t, nil)

	for _, path := range []string{"/session/restart/ghost", "/session/terminate/ghost"} {
		rec := s.get(t, path)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, map[string]any{"success": false, "message": session.MsgSessionNotFound}, decode(t, rec), path)
	}

	s.start(t, "alpha")
	rec := s.get(t, "/session/restart/alpha")
	assert.Equal(t, map[string]any{"success": true, "message": session.MsgRestarted}, decode(t, rec))
	assert.Len(t, s.factory.Clients(), 2)

	rec = s.get(t, "/session/terminate/alpha")
	assert.Equal(t, map[string]any{"success": true, "message": session.MsgLoggedOut}, decode(t, rec))
	assert.Empty(t, s.manager.Sessions())
}

func TestFlushEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	for _, id := range []string{"a", "b"} {
		require.NoError(t, os.MkdirAll(filepath.Join(s.root, "session-"+id), 0o755))
	}

	rec := s.get(t, "/session/terminateInactive")
	assert.Equal(t, map[string]any{"success": true, "message": MsgFlushCompleted}, decode(t, rec))
	assert.NoDirExists(t, filepath.Join(s.root, "session-a"))

	require.NoError(t, os.MkdirAll(filepath.Join(s.root, "session-c"), 0o755))
	rec = s.get(t, "/session/terminateAll")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoDirExists(t, filepath.Join(s.root, "session-c"))
}

func TestGetClassInfo(t *testing.T) {
	s := newTestServer(t, nil)
	const path = "/message/getClassInfo/alpha"
	req := `{"chatId":"123@c.us","messageId":"M2"}`

	rec := s.do(t, http.MethodPost, path, req, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, session.MsgSessionNotFound, decode(t, rec)["error"])

	c := s.start(t, "alpha")
	rec = s.do(t, http.MethodPost, path, req, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, session.MsgSessionNotConnected, decode(t, rec)["error"])

	c.SetState(client.StateConnected, nil)
	c.SetChat("123@c.us", []client.Message{
		{ID: client.MessageID{ID: "M1"}, Body: "first"},
		{ID: client.MessageID{ID: "M2"}, Body: "second"},
	})

	rec = s.do(t, http.MethodPost, path, req, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "second", body["message"].(map[string]any)["body"])

	rec = s.do(t, http.MethodPost, path, `{"chatId":"123@c.us","messageId":"nope"}`, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Message not Found", decode(t, rec)["error"])

	rec = s.do(t, http.MethodPost, path, `{"chatId":`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBodyLimit(t *testing.T) {
	s := newTestServer(t, func(o *serverOpts) { o.api.MaxBodySize = 16 })
	c := s.start(t, "alpha")
	c.SetState(client.StateConnected, nil)

	rec := s.do(t, http.MethodPost, "/message/getClassInfo/alpha", `{"chatId":"`+strings.Repeat("x", 64)+`"}`, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, func(o *serverOpts) { o.limiter = ratelimit.NewLimiter(2, time.Hour) })

	for i := 0; i < 2; i++ {
		rec := s.get(t, "/session/getSessions")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := s.get(t, "/session/getSessions")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, MsgRateLimited, decode(t, rec)["error"])

	// another client is not affected
	rec = s.do(t, http.MethodGet, "/session/getSessions", "", http.Header{"X-Forwarded-For": {"10.1.1.1, 10.0.0.1"}})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLocalCallbackExample(t *testing.T) {
	payload := `{"dataType":"qr","data":{"qr":"2@abc"},"sessionId":"alpha"}`

	t.Run("disabled", func(t *testing.T) {
		s := newTestServer(t, nil)
		rec := s.do(t, http.MethodPost, "/localCallbackExample", payload, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("enabled", func(t *testing.T) {
		s := newTestServer(t, func(o *serverOpts) { o.api.EnableLocalCallback = true })

		for i := 0; i < 2; i++ {
			rec := s.do(t, http.MethodPost, "/localCallbackExample", payload, nil)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.Equal(t, map[string]any{"success": true}, decode(t, rec))
		}

		raw, err := os.ReadFile(filepath.Join(s.root, "message_log.txt"))
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
		require.Len(t, lines, 2)
		assert.JSONEq(t, payload, lines[0])
	})
}
