// Package clienttest provides in-memory fakes of the client contract.
package clienttest

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/lucasduarte0/whatsapp-api/internal/client"
)

// Page is a fake automation page
type Page struct {
	mu        sync.Mutex
	closed    bool
	evalErr   error
	evalHang  bool
	evalCalls int
	listeners map[client.PageEvent][]func()
}

// NewPage returns an open page
func NewPage() *Page {
	return &Page{listeners: make(map[client.PageEvent][]func())}
}

func (p *Page) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// SetClosed marks the tab closed
func (p *Page) SetClosed(v bool) {
	p.mu.Lock()
	p.closed = v
	p.mu.Unlock()
}

// FailEvaluate makes every Evaluate return err
func (p *Page) FailEvaluate(err error) {
	p.mu.Lock()
	p.evalErr = err
	p.mu.Unlock()
}

// HangEvaluate makes Evaluate block until its context is done
func (p *Page) HangEvaluate(v bool) {
	p.mu.Lock()
	p.evalHang = v
	p.mu.Unlock()
}

// EvaluateCalls returns how many times Evaluate ran
func (p *Page) EvaluateCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.evalCalls
}

func (p *Page) Evaluate(ctx context.Context, expr string) (any, error) {
	p.mu.Lock()
	p.evalCalls++
	err, hang := p.evalErr, p.evalHang
	p.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return expr, nil
}

func (p *Page) Once(event client.PageEvent, fn func()) {
	p.mu.Lock()
	p.listeners[event] = append(p.listeners[event], fn)
	p.mu.Unlock()
}

func (p *Page) RemoveAllListeners(event client.PageEvent) {
	p.mu.Lock()
	delete(p.listeners, event)
	p.mu.Unlock()
}

// Listeners returns the number of registered listeners for event
func (p *Page) Listeners(event client.PageEvent) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners[event])
}

// Fire runs and unregisters every listener of event
func (p *Page) Fire(event client.PageEvent) {
	p.mu.Lock()
	fns := p.listeners[event]
	delete(p.listeners, event)
	p.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (p *Page) Close(ctx context.Context) error {
	p.SetClosed(true)
	return nil
}

// Browser is a fake automation browser
type Browser struct {
	mu        sync.Mutex
	connected bool
	closeHang bool
	closed    bool
	killed    bool
	pages     []client.Page
}

// NewBrowser returns a connected browser hosting pages
func NewBrowser(pages ...client.Page) *Browser {
	return &Browser{connected: true, pages: pages}
}

// HangClose makes Close block until its context is done
func (b *Browser) HangClose(v bool) {
	b.mu.Lock()
	b.closeHang = v
	b.mu.Unlock()
}

// SetConnected overrides the connection flag
func (b *Browser) SetConnected(v bool) {
	b.mu.Lock()
	b.connected = v
	b.mu.Unlock()
}

func (b *Browser) Pages(ctx context.Context) ([]client.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]client.Page(nil), b.pages...), nil
}

func (b *Browser) Close(ctx context.Context) error {
	b.mu.Lock()
	hang := b.closeHang
	b.mu.Unlock()
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	b.mu.Lock()
	b.closed = true
	b.connected = false
	b.mu.Unlock()
	return nil
}

func (b *Browser) Kill() error {
	b.mu.Lock()
	b.killed = true
	b.connected = false
	b.mu.Unlock()
	return nil
}

func (b *Browser) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// Closed reports whether Close completed
func (b *Browser) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Killed reports whether Kill ran
func (b *Browser) Killed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.killed
}

// Client is a fake messaging client. Initialize attaches a page and a
// browser unless LaunchOnInit is false.
type Client struct {
	Opts client.Options

	mu           sync.Mutex
	launchOnInit bool
	initErr      error
	initCalls    int
	state        client.State
	stateErr     error
	page         *Page
	browser      *Browser
	handlers     map[string][]func(client.Event)
	logouts      int
	destroys     int
	destroyErr   error
	chats        map[string][]client.Message
	seen         []string
	media        *client.Media
	initialized  chan struct{}
}

// NewClient returns a client that launches on Initialize
func NewClient(opts client.Options) *Client {
	return &Client{
		Opts:         opts,
		launchOnInit: true,
		state:        client.StateUnpaired,
		handlers:     make(map[string][]func(client.Event)),
		chats:        make(map[string][]client.Message),
		initialized:  make(chan struct{}),
	}
}

// LaunchOnInit controls whether Initialize attaches a page
func (c *Client) LaunchOnInit(v bool) {
	c.mu.Lock()
	c.launchOnInit = v
	c.mu.Unlock()
}

// FailInit makes Initialize return err
func (c *Client) FailInit(err error) {
	c.mu.Lock()
	c.initErr = err
	c.mu.Unlock()
}

func (c *Client) Initialize(ctx context.Context) error {
	c.mu.Lock()
	c.initCalls++
	first := c.initCalls == 1
	if c.launchOnInit && c.page == nil {
		c.attachLocked()
	}
	err := c.initErr
	c.mu.Unlock()
	if first {
		close(c.initialized)
	}
	return err
}

// Initialized is closed after the first Initialize call
func (c *Client) Initialized() <-chan struct{} {
	return c.initialized
}

// Launch attaches a fresh page and browser
func (c *Client) Launch() {
	c.mu.Lock()
	c.attachLocked()
	c.mu.Unlock()
}

func (c *Client) attachLocked() {
	c.page = NewPage()
	c.browser = NewBrowser(c.page)
}

// SetState sets what State reports
func (c *Client) SetState(s client.State, err error) {
	c.mu.Lock()
	c.state, c.stateErr = s, err
	c.mu.Unlock()
}

func (c *Client) State(ctx context.Context) (client.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.page == nil {
		return "", client.ErrPageNotReady
	}
	return c.state, c.stateErr
}

func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.logouts++
	b := c.browser
	c.mu.Unlock()
	if b != nil {
		return b.Close(ctx)
	}
	return nil
}

// FailDestroy makes Destroy return err
func (c *Client) FailDestroy(err error) {
	c.mu.Lock()
	c.destroyErr = err
	c.mu.Unlock()
}

func (c *Client) Destroy(ctx context.Context) error {
	c.mu.Lock()
	c.destroys++
	b, err := c.browser, c.destroyErr
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if b != nil {
		return b.Close(ctx)
	}
	return nil
}

// Logouts returns how many times Logout ran
func (c *Client) Logouts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logouts
}

// Destroys returns how many times Destroy ran
func (c *Client) Destroys() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroys
}

func (c *Client) Page() client.Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.page == nil {
		return nil
	}
	return c.page
}

// FakePage returns the concrete page or nil
func (c *Client) FakePage() *Page {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page
}

func (c *Client) Browser() client.Browser {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browser == nil {
		return nil
	}
	return c.browser
}

// FakeBrowser returns the concrete browser or nil
func (c *Client) FakeBrowser() *Browser {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.browser
}

func (c *Client) On(event string, fn func(client.Event)) {
	c.mu.Lock()
	c.handlers[event] = append(c.handlers[event], fn)
	c.mu.Unlock()
}

// Handlers returns the number of listeners bound to event
func (c *Client) Handlers(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers[event])
}

// Emit synchronously delivers ev to its listeners
func (c *Client) Emit(ev client.Event) {
	c.mu.Lock()
	fns := slices.Clone(c.handlers[ev.Name])
	c.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// SetChat replaces the history of a chat, oldest first
func (c *Client) SetChat(chatID string, msgs []client.Message) {
	c.mu.Lock()
	c.chats[chatID] = msgs
	c.mu.Unlock()
}

func (c *Client) FetchMessages(ctx context.Context, chatID string, limit int) ([]client.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs, ok := c.chats[chatID]
	if !ok {
		return nil, errors.New("chat not found")
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]client.Message(nil), msgs...), nil
}

func (c *Client) SendSeen(ctx context.Context, chatID string) error {
	c.mu.Lock()
	c.seen = append(c.seen, chatID)
	c.mu.Unlock()
	return nil
}

// Seen returns the chats marked seen
func (c *Client) Seen() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.seen...)
}

// SetMedia sets what DownloadMedia returns; nil makes it fail
func (c *Client) SetMedia(m *client.Media) {
	c.mu.Lock()
	c.media = m
	c.mu.Unlock()
}

func (c *Client) DownloadMedia(ctx context.Context, msg client.Message) (*client.Media, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.media == nil {
		return nil, errors.New("no media")
	}
	m := *c.media
	return &m, nil
}

// Factory records every client it builds
type Factory struct {
	mu      sync.Mutex
	clients []*Client
	err     error
	// Configure runs on each new client before it is returned
	Configure func(*Client)
}

// Fail makes New return err
func (f *Factory) Fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *Factory) New(opts client.Options) (client.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c := NewClient(opts)
	if f.Configure != nil {
		f.Configure(c)
	}
	f.clients = append(f.clients, c)
	return c, nil
}

// Clients returns every client built so far
func (f *Factory) Clients() []*Client {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Client(nil), f.clients...)
}

// Last returns the most recently built client, waiting up to timeout for
// at least n clients to exist
func (f *Factory) Last(n int, timeout time.Duration) *Client {
	deadline := time.Now().Add(timeout)
	for {
		clients := f.Clients()
		if len(clients) >= n {
			return clients[len(clients)-1]
		}
		if time.Now().After(deadline) {
			return nil
		}
		time.Sleep(5 * time.Millisecond)
	}
}
