package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lucasduarte0/whatsapp-api/internal/client"
	"github.com/lucasduarte0/whatsapp-api/internal/client/clienttest"
	"github.com/lucasduarte0/whatsapp-api/internal/events"
	"github.com/lucasduarte0/whatsapp-api/internal/waiter"
)

type delivery struct {
	url string
	env events.Envelope
}

type recorder struct {
	mu  sync.Mutex
	got []delivery
}

func (r *recorder) Dispatch(url string, env events.Envelope) {
	r.mu.Lock()
	r.got = append(r.got, delivery{url: url, env: env})
	r.mu.Unlock()
}

func (r *recorder) Publish(env events.Envelope) {
	r.Dispatch("hub", env)
}

func (r *recorder) deliveries() []delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]delivery(nil), r.got...)
}

func (r *recorder) of(dataType string) []delivery {
	var out []delivery
	for _, d := range r.deliveries() {
		if d.env.DataType == dataType && d.url != "hub" {
			out = append(out, d)
		}
	}
	return out
}

type memStore struct {
	mu       sync.Mutex
	messages []client.Message
	media    []client.Media
}

func (s *memStore) SaveMessage(ctx context.Context, sessionID string, msg client.Message) error {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	return nil
}

func (s *memStore) SaveMedia(ctx context.Context, sessionID string, msg client.Message, media client.Media) error {
	s.mu.Lock()
	s.media = append(s.media, media)
	s.mu.Unlock()
	return nil
}

func (s *memStore) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages), len(s.media)
}

var fastReady = waiter.Options{Timeout: 200 * time.Millisecond, Interval: 5 * time.Millisecond}

func testConfig(root string) Config {
	return Config{
		SessionsPath:       root,
		Headless:           true,
		ReadyTimeout:       fastReady.Timeout,
		ReadyInterval:      fastReady.Interval,
		CheckTimeout:       30 * time.Millisecond,
		CheckRetries:       2,
		StateTimeout:       100 * time.Millisecond,
		ShutdownTimeout:    50 * time.Millisecond,
		DisconnectPoll:     5 * time.Millisecond,
		DisconnectAttempts: 3,
		TeardownTimeout:    time.Second,
	}
}

type fixture struct {
	m       *Manager
	reg     *Registry
	factory *clienttest.Factory
	hooks   *recorder
	root    string
}

func newFixture(t *testing.T, tweak func(*BinderConfig)) *fixture {
	t.Helper()
	root := t.TempDir()
	hooks := &recorder{}
	bc := BinderConfig{
		Dispatcher: hooks,
		WebhookURL: func(string) string { return "http://hooks.test/cb" },
		Ready:      fastReady,
	}
	if tweak != nil {
		tweak(&bc)
	}
	reg := NewRegistry()
	factory := &clienttest.Factory{}
	logger := zaptest.NewLogger(t)
	binder := NewBinder(bc, logger)
	m := NewManager(testConfig(root), reg, factory, binder, logger)
	return &fixture{m: m, reg: reg, factory: factory, hooks: hooks, root: root}
}

// start creates id and waits for its fake client to finish Initialize
func (f *fixture) start(t *testing.T, id string) *clienttest.Client {
	t.Helper()
	r, err := f.m.Create(id)
	require.NoError(t, err)
	require.True(t, r.Success, r.Message)
	c, ok := r.Client.(*clienttest.Client)
	require.True(t, ok)
	select {
	case <-c.Initialized():
	case <-time.After(time.Second):
		t.Fatal("client never initialized")
	}
	return c
}

func (f *fixture) mkFolder(t *testing.T, id string) string {
	t.Helper()
	dir := filepath.Join(f.root, folderName(id))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "creds.json"), []byte("{}"), 0o644))
	return dir
}
