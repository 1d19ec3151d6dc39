package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasduarte0/whatsapp-api/internal/client"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(lookupFrom(map[string]string{
		"BASE_WEBHOOK_URL": "http://localhost:3000/localCallbackExample",
	}))
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, "./sessions", cfg.SessionsPath)
	assert.Equal(t, CacheNone, cfg.WebVersionCacheType)
	assert.Equal(t, BrowserLocal, cfg.BrowserMode)
	assert.Equal(t, int64(10000000), cfg.MaxAttachmentSize)
	assert.Equal(t, 1000, cfg.RateLimitMax)
	assert.Equal(t, time.Second, cfg.RateLimitWindow)
	assert.True(t, cfg.Headless)
	assert.False(t, cfg.RecoverSessions)
	assert.Empty(t, cfg.DisabledCallbacks)
}

func TestLoadFrom_RequiresWebhook(t *testing.T) {
	_, err := LoadFrom(lookupFrom(map[string]string{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BASE_WEBHOOK_URL")
}

func TestLoadFrom_Overrides(t *testing.T) {
	cfg, err := LoadFrom(lookupFrom(map[string]string{
		"BASE_WEBHOOK_URL":       "http://hook",
		"DISABLED_CALLBACKS":     "message_ack|unread_count| qr",
		"SET_MESSAGES_AS_SEEN":   "TRUE",
		"RECOVER_SESSIONS":       "true",
		"WEB_VERSION":            "2.2412.54",
		"WEB_VERSION_CACHE_TYPE": "Remote",
		"RATE_LIMIT_MAX":         "5",
		"RATE_LIMIT_WINDOW_MS":   "250",
		"MESSAGE_DB_PATH":        "",
		"HEADLESS":               "false",
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{"message_ack", "unread_count", "qr"}, cfg.DisabledCallbacks)
	assert.True(t, cfg.SetMessagesAsSeen)
	assert.True(t, cfg.RecoverSessions)
	assert.Equal(t, CacheRemote, cfg.WebVersionCacheType)
	assert.Equal(t, 250*time.Millisecond, cfg.RateLimitWindow)
	assert.Empty(t, cfg.MessageDBPath)
	assert.False(t, cfg.Headless)
}

func TestLoadFrom_UnknownCacheFallsBack(t *testing.T) {
	cfg, err := LoadFrom(lookupFrom(map[string]string{
		"BASE_WEBHOOK_URL":       "http://hook",
		"WEB_VERSION_CACHE_TYPE": "bogus",
	}))
	require.NoError(t, err)
	assert.Equal(t, CacheNone, cfg.WebVersionCacheType)
}

func TestLoadFrom_InvalidNumber(t *testing.T) {
	_, err := LoadFrom(lookupFrom(map[string]string{
		"BASE_WEBHOOK_URL": "http://hook",
		"PORT":             "eighty",
	}))
	require.Error(t, err)
}

func TestWebhookURL(t *testing.T) {
	lookup := lookupFrom(map[string]string{"ABC-1_WEBHOOK_URL": "http://override"})

	assert.Equal(t, "http://override", WebhookURL(lookup, "http://base", "abc-1"))
	assert.Equal(t, "http://base", WebhookURL(lookup, "http://base", "other"))
}

func TestWebhookURLFor_UsesProcessEnv(t *testing.T) {
	t.Setenv("SESS_WEBHOOK_URL", "http://sess")
	cfg := &Config{BaseWebhookURL: "http://base"}

	assert.Equal(t, "http://sess", cfg.WebhookURLFor("sess"))
	assert.Equal(t, "http://base", cfg.WebhookURLFor("nope"))
}

func TestLoadFrom_AcceptsClientCacheModes(t *testing.T) {
	for _, mode := range []string{client.CacheNone, client.CacheLocal, client.CacheRemote} {
		cfg, err := LoadFrom(lookupFrom(map[string]string{
			"BASE_WEBHOOK_URL":       "http://hook",
			"WEB_VERSION_CACHE_TYPE": mode,
		}))
		require.NoError(t, err)
		assert.Equal(t, mode, cfg.WebVersionCacheType)
	}
}
