package rodclient

import (
	"context"
	"sync"
	"time"

	"github.com/go-rod/rod"

	"github.com/lucasduarte0/whatsapp-api/internal/client"
)

// page adapts a rod page to client.Page
type page struct {
	p *rod.Page

	mu        sync.Mutex
	closed    bool
	listeners map[client.PageEvent][]func()
}

func newPage(p *rod.Page) *page {
	return &page{p: p, listeners: make(map[client.PageEvent][]func())}
}

func (pg *page) IsClosed() bool {
	pg.mu.Lock()
	defer pg.mu.Unlock()
	return pg.closed
}

func (pg *page) Evaluate(ctx context.Context, expr string) (any, error) {
	res, err := pg.p.Context(ctx).Evaluate(rod.Eval(expr).ByPromise())
	if err != nil {
		return nil, err
	}
	return res.Value.Val(), nil
}

func (pg *page) Once(event client.PageEvent, fn func()) {
	pg.mu.Lock()
	pg.listeners[event] = append(pg.listeners[event], fn)
	pg.mu.Unlock()
}

func (pg *page) RemoveAllListeners(event client.PageEvent) {
	pg.mu.Lock()
	delete(pg.listeners, event)
	pg.mu.Unlock()
}

// fire runs and drops the listeners of event
func (pg *page) fire(event client.PageEvent) {
	pg.mu.Lock()
	if event == client.PageClose {
		pg.closed = true
	}
	fns := pg.listeners[event]
	delete(pg.listeners, event)
	pg.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (pg *page) Close(ctx context.Context) error {
	pg.mu.Lock()
	pg.closed = true
	pg.mu.Unlock()
	return pg.p.Context(ctx).Close()
}

// browserHandle adapts a rod browser to client.Browser
type browserHandle struct {
	b    *rod.Browser
	main *page
	kill func() error

	mu     sync.Mutex
	closed bool
}

func (bh *browserHandle) Pages(ctx context.Context) ([]client.Page, error) {
	pages, err := bh.b.Context(ctx).Pages()
	if err != nil {
		return nil, err
	}
	out := make([]client.Page, 0, len(pages))
	for _, p := range pages {
		if bh.main != nil && p.TargetID == bh.main.p.TargetID {
			out = append(out, bh.main)
			continue
		}
		out = append(out, newPage(p))
	}
	return out, nil
}

func (bh *browserHandle) Close(ctx context.Context) error {
	err := bh.b.Context(ctx).Close()
	if err == nil {
		bh.mu.Lock()
		bh.closed = true
		bh.mu.Unlock()
	}
	return err
}

func (bh *browserHandle) Kill() error {
	bh.mu.Lock()
	bh.closed = true
	bh.mu.Unlock()
	if bh.kill == nil {
		return nil
	}
	return bh.kill()
}

func (bh *browserHandle) IsConnected() bool {
	bh.mu.Lock()
	closed := bh.closed
	bh.mu.Unlock()
	if closed {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err := bh.b.Context(ctx).Version()
	return err == nil
}
