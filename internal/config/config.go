package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lucasduarte0/whatsapp-api/internal/client"
)

// Web version cache modes, shared with client.Options.WebVersionCache
const (
	CacheNone   = client.CacheNone
	CacheLocal  = client.CacheLocal
	CacheRemote = client.CacheRemote
)

// Browser launch modes
const (
	BrowserLocal  = "local"
	BrowserDocker = "docker"
)

// Config holds every environment-driven setting of the gateway
type Config struct {
	Port                       int
	SessionsPath               string
	APIKey                     string
	BaseWebhookURL             string
	DisabledCallbacks          []string
	SetMessagesAsSeen          bool
	RecoverSessions            bool
	WebVersion                 string
	WebVersionCacheType        string
	MaxAttachmentSize          int64
	RateLimitMax               int
	RateLimitWindow            time.Duration
	EnableLocalCallbackExample bool
	ChromeBin                  string
	Headless                   bool
	BrowserMode                string
	MessageDBPath              string
	LogLevel                   string
	LogFormat                  string
}

// Load reads the configuration from the process environment
func Load() (*Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom reads the configuration through the given lookup function
func LoadFrom(lookup func(string) (string, bool)) (*Config, error) {
	get := func(key, def string) string {
		if v, ok := lookup(key); ok && v != "" {
			return v
		}
		return def
	}

	cfg := &Config{
		SessionsPath:               get("SESSIONS_PATH", "./sessions"),
		APIKey:                     get("API_KEY", ""),
		BaseWebhookURL:             get("BASE_WEBHOOK_URL", ""),
		SetMessagesAsSeen:          isTrue(get("SET_MESSAGES_AS_SEEN", "")),
		RecoverSessions:            isTrue(get("RECOVER_SESSIONS", "")),
		WebVersion:                 get("WEB_VERSION", ""),
		WebVersionCacheType:        strings.ToLower(get("WEB_VERSION_CACHE_TYPE", CacheNone)),
		EnableLocalCallbackExample: isTrue(get("ENABLE_LOCAL_CALLBACK_EXAMPLE", "")),
		ChromeBin:                  get("CHROME_BIN", ""),
		Headless:                   get("HEADLESS", "true") != "false",
		BrowserMode:                strings.ToLower(get("BROWSER_MODE", BrowserLocal)),
		MessageDBPath:              get("MESSAGE_DB_PATH", "./data/messages.db"),
		LogLevel:                   get("LOG_LEVEL", "info"),
		LogFormat:                  get("LOG_FORMAT", "console"),
	}
	// MESSAGE_DB_PATH set to an empty string disables persistence
	if v, ok := lookup("MESSAGE_DB_PATH"); ok && v == "" {
		cfg.MessageDBPath = ""
	}

	if raw := get("DISABLED_CALLBACKS", ""); raw != "" {
		for _, name := range strings.Split(raw, "|") {
			if name = strings.TrimSpace(name); name != "" {
				cfg.DisabledCallbacks = append(cfg.DisabledCallbacks, name)
			}
		}
	}

	var err error
	if cfg.Port, err = atoi(get("PORT", "3000"), "PORT"); err != nil {
		return nil, err
	}
	size, err := atoi(get("MAX_ATTACHMENT_SIZE", "10000000"), "MAX_ATTACHMENT_SIZE")
	if err != nil {
		return nil, err
	}
	cfg.MaxAttachmentSize = int64(size)
	if cfg.RateLimitMax, err = atoi(get("RATE_LIMIT_MAX", "1000"), "RATE_LIMIT_MAX"); err != nil {
		return nil, err
	}
	windowMs, err := atoi(get("RATE_LIMIT_WINDOW_MS", "1000"), "RATE_LIMIT_WINDOW_MS")
	if err != nil {
		return nil, err
	}
	cfg.RateLimitWindow = time.Duration(windowMs) * time.Millisecond

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required keys and enumerations
func (c *Config) Validate() error {
	if c.BaseWebhookURL == "" {
		return errors.New("BASE_WEBHOOK_URL environment variable is not available")
	}
	switch c.WebVersionCacheType {
	case CacheNone, CacheLocal, CacheRemote:
	default:
		// Unknown modes fall back to no cache, as the client would
		c.WebVersionCacheType = CacheNone
	}
	switch c.BrowserMode {
	case BrowserLocal, BrowserDocker:
	default:
		return fmt.Errorf("unsupported BROWSER_MODE %q", c.BrowserMode)
	}
	if c.RateLimitMax <= 0 || c.RateLimitWindow <= 0 {
		return errors.New("rate limit max and window must be positive")
	}
	return nil
}

// WebhookURLFor returns the per-session override or the global webhook URL
func (c *Config) WebhookURLFor(sessionID string) string {
	return WebhookURL(os.LookupEnv, c.BaseWebhookURL, sessionID)
}

// WebhookURL resolves <SESSIONID>_WEBHOOK_URL through lookup, falling back to base
func WebhookURL(lookup func(string) (string, bool), base, sessionID string) string {
	if v, ok := lookup(strings.ToUpper(sessionID) + "_WEBHOOK_URL"); ok && v != "" {
		return v
	}
	return base
}

func isTrue(v string) bool {
	return strings.ToLower(v) == "true"
}

func atoi(v, key string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
