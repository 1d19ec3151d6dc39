// Package webhook delivers event envelopes to callback URLs.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lucasduarte0/whatsapp-api/internal/events"
)

// Header names sent with every delivery
const (
	HeaderAPIKey     = "x-api-key"
	HeaderDeliveryID = "x-delivery-id"
)

const defaultTimeout = 30 * time.Second

// Dispatcher posts envelopes without blocking the caller.
// There is no retry and no ordering across concurrent deliveries.
type Dispatcher struct {
	client *http.Client
	apiKey string
	logger *zap.Logger

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) {
		d.client = c
	}
}

// NewDispatcher creates a dispatcher that authenticates with apiKey
func NewDispatcher(apiKey string, logger *zap.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		client: &http.Client{Timeout: defaultTimeout},
		apiKey: apiKey,
		logger: logger.Named("webhook"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch schedules a single POST of env to url and returns immediately
func (d *Dispatcher) Dispatch(url string, env events.Envelope) {
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		d.logger.Warn("dispatcher closed, dropping webhook",
			zap.String("session_id", env.SessionID),
			zap.String("event", env.DataType))
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		if err := d.deliver(url, env); err != nil {
			d.logger.Warn("failed to send webhook",
				zap.String("session_id", env.SessionID),
				zap.String("event", env.DataType),
				zap.String("url", url),
				zap.Error(err))
		}
	}()
}

func (d *Dispatcher) deliver(url string, env events.Envelope) error {
	if url == "" {
		return fmt.Errorf("no webhook url configured")
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderDeliveryID, uuid.NewString())
	if d.apiKey != "" {
		req.Header.Set(HeaderAPIKey, d.apiKey)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("webhook responded with status %d", resp.StatusCode)
	}
	return nil
}

// Close stops accepting deliveries and waits for in-flight ones until ctx is done
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closing = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	defer d.client.CloseIdleConnections()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("webhook drain timeout: %w", ctx.Err())
	}
}
