// Package rodclient drives the messaging web app in Chrome through go-rod.
package rodclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/lucasduarte0/whatsapp-api/internal/client"
	"github.com/lucasduarte0/whatsapp-api/internal/webcache"
)

// DefaultPollInterval is how often the web app is observed
const DefaultPollInterval = time.Second

// Factory builds rod clients
type Factory struct {
	Launcher     Launcher
	Logger       *zap.Logger
	PollInterval time.Duration
}

// New implements client.Factory
func (f *Factory) New(opts client.Options) (client.Client, error) {
	cache, err := webcache.New(opts.WebVersionCache, opts.CacheDir)
	if err != nil {
		return nil, err
	}
	interval := f.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	launcher := f.Launcher
	if launcher == nil {
		launcher = Local{}
	}
	return &Client{
		opts:     opts,
		launcher: launcher,
		cache:    cache,
		interval: interval,
		logger:   f.Logger.Named("rod").With(zap.String("session_id", opts.SessionID)),
		handlers: make(map[string][]func(client.Event)),
	}, nil
}

// Client is a client.Client backed by a real browser
type Client struct {
	opts     client.Options
	launcher Launcher
	cache    webcache.Cache
	interval time.Duration
	logger   *zap.Logger

	mu       sync.RWMutex
	browser  *browserHandle
	page     *page
	router   *rod.HijackRouter
	cancel   context.CancelFunc
	handlers map[string][]func(client.Event)
}

// Initialize launches the browser, opens the web app and starts observing it
func (c *Client) Initialize(ctx context.Context) error {
	controlURL, kill, err := c.launcher.Launch(ctx, c.opts)
	if err != nil {
		return err
	}

	rb := rod.New().ControlURL(controlURL)
	if err := rb.Connect(); err != nil {
		_ = kill()
		return fmt.Errorf("failed to connect to chrome: %w", err)
	}

	rp, err := rb.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = rb.Close()
		_ = kill()
		return fmt.Errorf("failed to open page: %w", err)
	}
	if c.opts.UserAgent != "" {
		if err := rp.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: c.opts.UserAgent}); err != nil {
			c.logger.Warn("failed to set user agent", zap.Error(err))
		}
	}

	pg := newPage(rp)
	bh := &browserHandle{b: rb, main: pg, kill: kill}

	watchCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.browser, c.page, c.cancel = bh, pg, cancel
	c.mu.Unlock()

	c.watchTarget(watchCtx, rb, pg)
	if c.opts.WebVersion != "" {
		if err := c.pinVersion(rp); err != nil {
			c.logger.Warn("failed to pin web version", zap.String("version", c.opts.WebVersion), zap.Error(err))
		}
	}

	if err := rp.Context(ctx).Navigate(WebURL); err != nil {
		return fmt.Errorf("failed to open %s: %w", WebURL, err)
	}
	go c.observe(watchCtx)
	return nil
}

// watchTarget forwards tab destruction and renderer crashes to page listeners
func (c *Client) watchTarget(ctx context.Context, rb *rod.Browser, pg *page) {
	if err := (proto.TargetSetDiscoverTargets{Discover: true}).Call(rb); err != nil {
		c.logger.Debug("target discovery unavailable", zap.Error(err))
	}
	id := pg.p.TargetID
	go rb.Context(ctx).EachEvent(
		func(e *proto.TargetTargetDestroyed) bool {
			if e.TargetID != id {
				return false
			}
			pg.fire(client.PageClose)
			return true
		},
		func(e *proto.TargetTargetCrashed) {
			if e.TargetID == id {
				pg.fire(client.PageError)
			}
		},
	)()
}

// pinVersion serves the cached web app document instead of the live one
// and feeds live documents back into the cache
func (c *Client) pinVersion(rp *rod.Page) error {
	version := c.opts.WebVersion
	router := rp.HijackRequests()
	err := router.Add(WebURL+"*", proto.NetworkResourceTypeDocument, func(h *rod.Hijack) {
		doc, ok, err := c.cache.Resolve(h.Request.Req().Context(), version)
		if err != nil {
			c.logger.Warn("web version cache lookup failed", zap.Error(err))
		}
		if ok {
			h.Response.SetHeader("Content-Type", "text/html; charset=utf-8")
			h.Response.SetBody(doc)
			return
		}
		if err := h.LoadResponse(http.DefaultClient, true); err != nil {
			c.logger.Warn("failed to load web app", zap.Error(err))
			return
		}
		if err := c.cache.Persist(version, []byte(h.Response.Body())); err != nil {
			c.logger.Warn("failed to cache web version", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	go router.Run()

	c.mu.Lock()
	c.router = router
	c.mu.Unlock()
	return nil
}

func (c *Client) observe(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	tr := &tracker{}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pg := c.rodPage()
		if pg == nil || pg.IsClosed() {
			continue
		}
		snap, err := c.snapshot(ctx, pg)
		if err != nil {
			c.logger.Debug("snapshot failed", zap.Error(err))
			continue
		}
		for _, ev := range tr.observe(snap) {
			if ev.Name == client.EventReady {
				c.hook(ctx, pg)
			}
			c.emit(ev)
		}
	}
}

func (c *Client) snapshot(ctx context.Context, pg *page) (snapshot, error) {
	var s snapshot
	err := c.evalInto(ctx, pg, &s, snapshotJS)
	return s, err
}

func (c *Client) hook(ctx context.Context, pg *page) {
	var ok bool
	if err := c.evalInto(ctx, pg, &ok, hookJS); err != nil || !ok {
		c.logger.Warn("failed to subscribe to message events", zap.Error(err))
	}
}

func (c *Client) evalInto(ctx context.Context, pg *page, dst any, js string, args ...any) error {
	ectx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	res, err := pg.p.Context(ectx).Evaluate(rod.Eval(js, args...).ByPromise())
	if err != nil {
		return err
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

func (c *Client) emit(ev client.Event) {
	c.mu.RLock()
	fns := slices.Clone(c.handlers[ev.Name])
	c.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (c *Client) rodPage() *page {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.page
}

func (c *Client) readyPage() (*page, error) {
	pg := c.rodPage()
	if pg == nil {
		return nil, client.ErrPageNotReady
	}
	return pg, nil
}

func (c *Client) State(ctx context.Context) (client.State, error) {
	pg, err := c.readyPage()
	if err != nil {
		return "", err
	}
	var s string
	if err := c.evalInto(ctx, pg, &s, stateJS); err != nil {
		return "", err
	}
	return client.State(s), nil
}

// Logout unlinks the device and closes the browser
func (c *Client) Logout(ctx context.Context) error {
	if pg := c.rodPage(); pg != nil && !pg.IsClosed() {
		var ok bool
		if err := c.evalInto(ctx, pg, &ok, logoutJS); err != nil {
			c.logger.Warn("logout script failed", zap.Error(err))
		}
	}
	return c.Destroy(ctx)
}

// Destroy stops observing and closes the browser, killing it when the close fails
func (c *Client) Destroy(ctx context.Context) error {
	c.mu.Lock()
	cancel, router, bh := c.cancel, c.router, c.browser
	c.cancel, c.router = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if router != nil {
		_ = router.Stop()
	}
	if bh == nil {
		return nil
	}
	if err := bh.Close(ctx); err != nil {
		if kerr := bh.Kill(); kerr != nil {
			return errors.Join(err, kerr)
		}
		return nil
	}
	// the launcher owns the process or container; release it too
	return bh.Kill()
}

func (c *Client) Page() client.Page {
	pg := c.rodPage()
	if pg == nil {
		return nil
	}
	return pg
}

func (c *Client) Browser() client.Browser {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.browser == nil {
		return nil
	}
	return c.browser
}

func (c *Client) On(event string, fn func(client.Event)) {
	c.mu.Lock()
	c.handlers[event] = append(c.handlers[event], fn)
	c.mu.Unlock()
}

func (c *Client) FetchMessages(ctx context.Context, chatID string, limit int) ([]client.Message, error) {
	pg, err := c.readyPage()
	if err != nil {
		return nil, err
	}
	var msgs []client.Message
	if err := c.evalInto(ctx, pg, &msgs, fetchMessagesJS, chatID, limit); err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return msgs, nil
}

func (c *Client) SendSeen(ctx context.Context, chatID string) error {
	pg, err := c.readyPage()
	if err != nil {
		return err
	}
	var ok bool
	return c.evalInto(ctx, pg, &ok, sendSeenJS, chatID)
}

func (c *Client) DownloadMedia(ctx context.Context, msg client.Message) (*client.Media, error) {
	pg, err := c.readyPage()
	if err != nil {
		return nil, err
	}
	var m client.Media
	if err := c.evalInto(ctx, pg, &m, downloadMediaJS, msg.ID.Serialized); err != nil {
		return nil, fmt.Errorf("failed to download media: %w", err)
	}
	return &m, nil
}
