package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lucasduarte0/whatsapp-api/internal/client"
	"github.com/lucasduarte0/whatsapp-api/internal/waiter"
)

// Validation messages
const (
	MsgSessionNotFound     = "session_not_found"
	MsgSessionNotConnected = "session_not_connected"
	MsgSessionConnected    = "session_connected"
	MsgBrowserTabClosed    = "browser tab closed"
	MsgSessionClosed       = "session closed"
)

// Lifecycle result messages
const (
	MsgSessionInitiated = "Session initiated successfully"
	MsgRestarted        = "Restarted successfully"
	MsgLoggedOut        = "Logged out successfully"
)

var (
	// ErrInvalidID is returned for session ids outside [A-Za-z0-9_-]+
	ErrInvalidID = errors.New("Session should be alphanumerical or -")
	// ErrNotFound is returned when a session is not registered
	ErrNotFound = errors.New(MsgSessionNotFound)
)

var idPattern = regexp.MustCompile(`^[\w-]+$`)

// ValidID reports whether id is usable as a session id
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36"

var defaultArgs = []string{
	"--no-sandbox",
	"--disable-setuid-sandbox",
	"--disable-gpu",
	"--disable-dev-shm-usage",
}

// Config configures a Manager. Zero durations fall back to defaults.
type Config struct {
	SessionsPath    string
	UserAgent       string
	ExecutablePath  string
	Headless        bool
	WebVersion      string
	WebVersionCache string

	ReadyTimeout  time.Duration
	ReadyInterval time.Duration
	// CheckTimeout bounds each liveness evaluation; CheckRetries extra
	// attempts follow the first
	CheckTimeout time.Duration
	CheckRetries int
	StateTimeout time.Duration
	// ShutdownTimeout bounds a clean browser close before the process is killed
	ShutdownTimeout    time.Duration
	DisconnectPoll     time.Duration
	DisconnectAttempts int
	TeardownTimeout    time.Duration
	// FlushWorkers bounds how many sessions a flush tears down at once
	FlushWorkers int
}

func (c Config) withDefaults() Config {
	if c.SessionsPath == "" {
		c.SessionsPath = "./sessions"
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.WebVersionCache == "" {
		c.WebVersionCache = client.CacheNone
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = waiter.DefaultTimeout
	}
	if c.ReadyInterval <= 0 {
		c.ReadyInterval = waiter.DefaultInterval
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = time.Second
	}
	if c.CheckRetries < 0 {
		c.CheckRetries = 0
	}
	if c.StateTimeout <= 0 {
		c.StateTimeout = 10 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.DisconnectPoll <= 0 {
		c.DisconnectPoll = time.Second
	}
	if c.DisconnectAttempts <= 0 {
		c.DisconnectAttempts = 10
	}
	if c.TeardownTimeout <= 0 {
		c.TeardownTimeout = 30 * time.Second
	}
	if c.FlushWorkers <= 0 {
		c.FlushWorkers = 1
	}
	return c
}

// DefaultConfig returns the production timings
func DefaultConfig() Config {
	return Config{Headless: true, CheckRetries: 2}.withDefaults()
}

// Result is the outcome of a lifecycle operation
type Result struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Client  client.Client `json:"-"`
}

// Validation is the outcome of a health check. State is nil when the
// session could not be queried.
type Validation struct {
	Success bool          `json:"success"`
	State   *client.State `json:"state"`
	Message string        `json:"message"`
}

// Manager orchestrates the lifecycle of every session
type Manager struct {
	cfg     Config
	reg     *Registry
	factory client.Factory
	binder  *Binder
	logger  *zap.Logger
}

// NewManager creates a manager. The binder's watchdog is routed back to the
// manager so recovery runs under the session lock.
func NewManager(cfg Config, reg *Registry, factory client.Factory, binder *Binder, logger *zap.Logger) *Manager {
	m := &Manager{
		cfg:     cfg.withDefaults(),
		reg:     reg,
		factory: factory,
		binder:  binder,
		logger:  logger.Named("session"),
	}
	binder.onPageLost = m.recoverSession
	return m
}

func (m *Manager) readyOptions() waiter.Options {
	return waiter.Options{Timeout: m.cfg.ReadyTimeout, Interval: m.cfg.ReadyInterval}
}

func (m *Manager) clientOptions(id string) client.Options {
	return client.Options{
		SessionID:       id,
		AuthDir:         filepath.Join(m.cfg.SessionsPath, folderName(id)),
		UserAgent:       m.cfg.UserAgent,
		ExecutablePath:  m.cfg.ExecutablePath,
		Headless:        m.cfg.Headless,
		Args:            append([]string(nil), defaultArgs...),
		WebVersion:      m.cfg.WebVersion,
		WebVersionCache: m.cfg.WebVersionCache,
		CacheDir:        filepath.Join(m.cfg.SessionsPath, ".wwebjs_cache"),
	}
}

// Create registers a new session and starts its connect handshake in the
// background. It returns before the handshake completes; an existing session
// is reported with Success false and left untouched.
func (m *Manager) Create(id string) (Result, error) {
	unlock := m.reg.Lock(id)
	defer unlock()
	return m.createLocked(id)
}

func (m *Manager) createLocked(id string) (Result, error) {
	if !ValidID(id) {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	if e, ok := m.reg.Get(id); ok {
		return Result{Success: false, Message: "Session already exists for: " + id, Client: e.Client}, nil
	}

	c, err := m.factory.New(m.clientOptions(id))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create client: %w", err)
	}

	status := &Status{}
	m.binder.Bind(c, id, status)
	m.reg.Set(id, &Entry{Client: c, Status: status})

	log := m.logger.With(zap.String("session_id", id))
	go func() {
		if err := c.Initialize(context.Background()); err != nil {
			log.Error("failed to initialize client", zap.Error(err))
		}
	}()

	log.Info("session created")
	return Result{Success: true, Message: MsgSessionInitiated, Client: c}, nil
}

// WaitReady blocks until the automation page of c exists
func (m *Manager) WaitReady(ctx context.Context, c client.Client) error {
	return waiter.ForPath(ctx, c, "Page", m.readyOptions())
}

// Validate reports whether a session is alive and connected
func (m *Manager) Validate(ctx context.Context, id string) Validation {
	unlock := m.reg.Lock(id)
	defer unlock()
	return m.validateLocked(ctx, id)
}

func (m *Manager) validateLocked(ctx context.Context, id string) Validation {
	e, ok := m.reg.Get(id)
	if !ok {
		return Validation{Message: MsgSessionNotFound}
	}
	c := e.Client

	if err := m.WaitReady(ctx, c); err != nil {
		return Validation{Message: err.Error()}
	}
	page := c.Page()
	if page == nil {
		return Validation{Message: client.ErrPageNotReady.Error()}
	}

	alive := false
	for attempt := 0; attempt <= m.cfg.CheckRetries; attempt++ {
		if page.IsClosed() {
			return Validation{Message: MsgBrowserTabClosed}
		}
		if m.responsive(ctx, page) {
			alive = true
			break
		}
	}
	if !alive {
		return Validation{Message: MsgSessionClosed}
	}

	sctx, cancel := context.WithTimeout(ctx, m.cfg.StateTimeout)
	state, err := c.State(sctx)
	cancel()
	if err != nil {
		return Validation{Message: err.Error()}
	}
	e.Status.SetState(state)

	if state != client.StateConnected {
		return Validation{State: &state, Message: MsgSessionNotConnected}
	}
	return Validation{Success: true, State: &state, Message: MsgSessionConnected}
}

// responsive evaluates a trivial expression, racing it against the check timeout
// even if the page ignores its context
func (m *Manager) responsive(ctx context.Context, page client.Page) bool {
	pctx, cancel := context.WithTimeout(ctx, m.cfg.CheckTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := page.Evaluate(pctx, "1")
		done <- err
	}()

	select {
	case err := <-done:
		return err == nil
	case <-pctx.Done():
		return false
	}
}

// Restart replaces the client of a session with a fresh one, keeping its
// auth folder
func (m *Manager) Restart(ctx context.Context, id string) (Result, error) {
	unlock := m.reg.Lock(id)
	defer unlock()

	v := m.validateLocked(ctx, id)
	if v.Message == MsgSessionNotFound {
		return Result{Success: false, Message: v.Message}, nil
	}

	if e, ok := m.reg.Get(id); ok {
		detach(e.Client)
		m.shutdownBrowser(id, e.Client)
		m.release(id, e.Client)
	}
	m.reg.Delete(id)

	r, err := m.createLocked(id)
	if err != nil {
		return Result{}, err
	}
	m.logger.Info("session restarted", zap.String("session_id", id))
	return Result{Success: true, Message: MsgRestarted, Client: r.Client}, nil
}

// Terminate logs a session out and removes it from memory and disk
func (m *Manager) Terminate(ctx context.Context, id string) (Result, error) {
	unlock := m.reg.Lock(id)
	defer unlock()

	v := m.validateLocked(ctx, id)
	if v.Message == MsgSessionNotFound {
		return Result{Success: false, Message: v.Message}, nil
	}
	if err := m.deleteLocked(ctx, id, v); err != nil {
		return Result{}, err
	}
	return Result{Success: true, Message: MsgLoggedOut}, nil
}

// Delete tears a session down according to a prior validation and removes
// its folder. The registry entry is always removed.
func (m *Manager) Delete(ctx context.Context, id string, v Validation) error {
	unlock := m.reg.Lock(id)
	defer unlock()
	return m.deleteLocked(ctx, id, v)
}

func (m *Manager) deleteLocked(ctx context.Context, id string, v Validation) error {
	defer m.reg.Delete(id)

	if e, ok := m.reg.Get(id); ok {
		c := e.Client
		detach(c)
		m.teardown(ctx, id, c, v)
		m.awaitDisconnect(ctx, c)
	}

	if err := deleteFolder(m.cfg.SessionsPath, id); err != nil {
		m.logger.Error("failed to delete session folder", zap.String("session_id", id), zap.Error(err))
		return err
	}
	m.logger.Info("session deleted", zap.String("session_id", id))
	return nil
}

// teardown logs out a connected session and destroys every other one.
// Destroy is also the fallback for a failed logout.
func (m *Manager) teardown(ctx context.Context, id string, c client.Client, v Validation) {
	log := m.logger.With(zap.String("session_id", id))
	tctx, cancel := context.WithTimeout(ctx, m.cfg.TeardownTimeout)
	defer cancel()

	if v.Success {
		err := c.Logout(tctx)
		if err == nil {
			return
		}
		log.Warn("logout failed, destroying client", zap.Error(err))
	}
	if err := c.Destroy(tctx); err != nil {
		if v.Success || v.Message == MsgSessionNotConnected {
			log.Warn("failed to destroy client", zap.Error(err))
		} else {
			log.Debug("destroy of unresponsive client failed", zap.String("reason", v.Message), zap.Error(err))
		}
	}
}

func (m *Manager) awaitDisconnect(ctx context.Context, c client.Client) {
	b := c.Browser()
	if b == nil {
		return
	}
	for i := 0; i < m.cfg.DisconnectAttempts && b.IsConnected(); i++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(m.cfg.DisconnectPoll):
		}
	}
}

func detach(c client.Client) {
	if page := c.Page(); page != nil {
		page.RemoveAllListeners(client.PageClose)
		page.RemoveAllListeners(client.PageError)
	}
}

// shutdownBrowser closes every page and the browser, killing the process if
// that does not finish in time
func (m *Manager) shutdownBrowser(id string, c client.Client) {
	b := c.Browser()
	if b == nil {
		return
	}
	log := m.logger.With(zap.String("session_id", id))

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ShutdownTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		if pages, err := b.Pages(ctx); err == nil {
			for _, p := range pages {
				_ = p.Close(ctx)
			}
		}
		done <- b.Close(ctx)
	}()

	select {
	case err := <-done:
		if err == nil {
			return
		}
		log.Warn("browser close failed, killing process", zap.Error(err))
	case <-ctx.Done():
		log.Warn("browser close timed out, killing process")
	}
	if err := b.Kill(); err != nil {
		log.Error("failed to kill browser process", zap.Error(err))
	}
}

// Flush tears down every session found on disk, or only the ones failing
// validation when onlyInactive is set. Per-session failures are collected
// and do not stop the rest.
func (m *Manager) Flush(ctx context.Context, onlyInactive bool) error {
	ids, err := discover(m.cfg.SessionsPath)
	if err != nil {
		return err
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(m.cfg.FlushWorkers)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := m.flushOne(ctx, id, onlyInactive); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("session %s: %w", id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	m.logger.Info("flush completed", zap.Int("sessions", len(ids)), zap.Bool("only_inactive", onlyInactive), zap.Int("failures", len(errs)))
	return errors.Join(errs...)
}

func (m *Manager) flushOne(ctx context.Context, id string, onlyInactive bool) error {
	unlock := m.reg.Lock(id)
	defer unlock()

	v := m.validateLocked(ctx, id)
	if onlyInactive && v.Success {
		return nil
	}
	return m.deleteLocked(ctx, id, v)
}

// Recover re-creates a session for every auth folder found on disk
func (m *Manager) Recover() error {
	if err := os.MkdirAll(m.cfg.SessionsPath, 0o755); err != nil {
		return fmt.Errorf("failed to create sessions folder: %w", err)
	}
	ids, err := discover(m.cfg.SessionsPath)
	if err != nil {
		return err
	}

	restored := 0
	for _, id := range ids {
		r, err := m.Create(id)
		if err != nil {
			m.logger.Error("failed to restore session", zap.String("session_id", id), zap.Error(err))
			continue
		}
		if r.Success {
			restored++
		}
	}
	m.logger.Info("sessions restored", zap.Int("found", len(ids)), zap.Int("restored", restored))
	return nil
}

// release destroys a client whose browser is already gone so its
// background workers stop
func (m *Manager) release(id string, c client.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.TeardownTimeout)
	defer cancel()
	if err := c.Destroy(ctx); err != nil {
		m.logger.Debug("destroy of replaced client failed", zap.String("session_id", id), zap.Error(err))
	}
}

// recoverSession replaces a client whose page closed or crashed. It does
// nothing when the session has already been replaced or removed.
func (m *Manager) recoverSession(id string, dying client.Client) {
	unlock := m.reg.Lock(id)
	defer unlock()

	e, ok := m.reg.Get(id)
	if !ok || e.Client != dying {
		return
	}
	m.reg.Delete(id)

	log := m.logger.With(zap.String("session_id", id))
	m.release(id, dying)

	if _, err := m.createLocked(id); err != nil {
		log.Error("failed to recover session", zap.Error(err))
		return
	}
	log.Info("session recovered")
}

// Client returns the live client of a session
func (m *Manager) Client(id string) (client.Client, error) {
	e, ok := m.reg.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return e.Client, nil
}

// Status returns the status record of a session
func (m *Manager) Status(id string) (StatusSnapshot, bool) {
	e, ok := m.reg.Get(id)
	if !ok {
		return StatusSnapshot{}, false
	}
	return e.Status.Snapshot(), true
}

// QR returns the latest pairing code of a session
func (m *Manager) QR(id string) (string, bool) {
	e, ok := m.reg.Get(id)
	if !ok {
		return "", false
	}
	return e.Status.QR(), true
}

// Sessions lists the registered session ids
func (m *Manager) Sessions() []string {
	return m.reg.Keys()
}
