// Package client defines the contract of the browser-backed messaging
// client a session wraps. The protocol itself lives behind these interfaces.
package client

import (
	"context"
	"errors"
)

// ErrPageNotReady is returned by operations that need the automation page
// before it has been created
var ErrPageNotReady = errors.New("page not ready")

// State is the protocol-level connection state reported by the client
type State string

const (
	StateConnected         State = "CONNECTED"
	StateOpening           State = "OPENING"
	StatePairing           State = "PAIRING"
	StateUnpaired          State = "UNPAIRED"
	StateUnpairedIdle      State = "UNPAIRED_IDLE"
	StateUnlaunched        State = "UNLAUNCHED"
	StateConflict          State = "CONFLICT"
	StateTimeout           State = "TIMEOUT"
	StateDeprecatedVersion State = "DEPRECATED_VERSION"
	StateProxyBlock        State = "PROXYBLOCK"
	StateTOSBlock          State = "TOS_BLOCK"
	StateSMBTOSBlock       State = "SMB_TOS_BLOCK"
)

// PageEvent names a lifecycle event of the automation page
type PageEvent string

const (
	PageClose PageEvent = "close"
	PageError PageEvent = "error"
)

// Page is the automation tab the client drives
type Page interface {
	IsClosed() bool
	Evaluate(ctx context.Context, expr string) (any, error)
	// Once registers fn to run at most one time when event fires
	Once(event PageEvent, fn func())
	RemoveAllListeners(event PageEvent)
	Close(ctx context.Context) error
}

// Browser is the automation browser process hosting the page
type Browser interface {
	Pages(ctx context.Context) ([]Page, error)
	Close(ctx context.Context) error
	// Kill terminates the underlying process without a graceful shutdown
	Kill() error
	IsConnected() bool
}

// Client is one messaging identity backed by a browser
type Client interface {
	// Initialize launches the browser and starts the connect handshake.
	// Pairing and readiness are reported through events.
	Initialize(ctx context.Context) error
	State(ctx context.Context) (State, error)
	Logout(ctx context.Context) error
	Destroy(ctx context.Context) error

	// Page and Browser return nil until the browser has been launched
	Page() Page
	Browser() Browser

	// On registers a listener for a named client event
	On(event string, fn func(Event))

	FetchMessages(ctx context.Context, chatID string, limit int) ([]Message, error)
	SendSeen(ctx context.Context, chatID string) error
	DownloadMedia(ctx context.Context, msg Message) (*Media, error)
}

// Web version cache modes understood by Options.WebVersionCache
const (
	CacheNone   = "none"
	CacheLocal  = "local"
	CacheRemote = "remote"
)

// Options configures a new client
type Options struct {
	SessionID string
	// AuthDir is the session's durable auth folder, session-<id> under the root
	AuthDir        string
	UserAgent      string
	ExecutablePath string
	Headless       bool
	Args           []string

	WebVersion      string
	WebVersionCache string
	// CacheDir holds locally cached web versions
	CacheDir string
}

// Factory builds clients
type Factory interface {
	New(opts Options) (Client, error)
}

// FactoryFunc adapts a function to Factory
type FactoryFunc func(opts Options) (Client, error)

// New calls f(opts)
func (f FactoryFunc) New(opts Options) (Client, error) {
	return f(opts)
}
