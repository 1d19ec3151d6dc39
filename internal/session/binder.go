package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lucasduarte0/whatsapp-api/internal/client"
	"github.com/lucasduarte0/whatsapp-api/internal/events"
	"github.com/lucasduarte0/whatsapp-api/internal/waiter"
)

const sideEffectTimeout = 30 * time.Second

// Dispatcher delivers an envelope to a webhook URL without blocking
type Dispatcher interface {
	Dispatch(url string, env events.Envelope)
}

// Publisher fans an envelope out to live subscribers
type Publisher interface {
	Publish(env events.Envelope)
}

// MessageStore persists messages and media by message id
type MessageStore interface {
	SaveMessage(ctx context.Context, sessionID string, msg client.Message) error
	SaveMedia(ctx context.Context, sessionID string, msg client.Message, media client.Media) error
}

// binding maps a client event to the argument names forwarded as its payload
type binding struct {
	event string
	args  []string
}

// catalog lists the events forwarded as-is. qr, message and message_create
// have dedicated handlers.
var catalog = []binding{
	{client.EventAuthFailure, []string{"msg"}},
	{client.EventAuthenticated, nil},
	{client.EventCall, []string{"call"}},
	{client.EventChangeState, []string{"state"}},
	{client.EventDisconnected, []string{"reason"}},
	{client.EventGroupJoin, []string{"notification"}},
	{client.EventGroupLeave, []string{"notification"}},
	{client.EventGroupUpdate, []string{"notification"}},
	{client.EventLoadingScreen, []string{"percent", "message"}},
	{client.EventMediaUploaded, []string{"message"}},
	{client.EventMessageAck, []string{"message", "ack"}},
	{client.EventMessageReaction, []string{"reaction"}},
	{client.EventMessageEdit, []string{"message", "newBody", "prevBody"}},
	{client.EventMessageCiphertext, []string{"message"}},
	{client.EventMessageRevokeEveryone, []string{"message"}},
	{client.EventMessageRevokeMe, []string{"message"}},
	{client.EventReady, nil},
	{client.EventContactChanged, []string{"message", "oldId", "newId", "isContact"}},
	{client.EventChatRemoved, []string{"chat"}},
	{client.EventChatArchived, []string{"chat", "currState", "prevState"}},
	{client.EventUnreadCount, []string{"chat"}},
}

// DataTypeStatus is the envelope type auth failures are delivered under
const DataTypeStatus = "status"

// dataTypes renames events whose envelope type differs from the event name
var dataTypes = map[string]string{
	client.EventAuthFailure: DataTypeStatus,
}

func dataType(event string) string {
	if dt, ok := dataTypes[event]; ok {
		return dt
	}
	return event
}

func shape(ev client.Event, args []string) any {
	if len(args) == 0 {
		return nil
	}
	data := make(map[string]any, len(args))
	for _, name := range args {
		if name == "message" && ev.Message != nil {
			data[name] = ev.Message
			continue
		}
		data[name] = ev.Arg(name)
	}
	return data
}

// BinderConfig configures a Binder
type BinderConfig struct {
	Gate       *events.Gate
	Dispatcher Dispatcher
	// Publisher and Store are optional
	Publisher Publisher
	Store     MessageStore
	// WebhookURL resolves the callback URL of a session at bind time
	WebhookURL        func(sessionID string) string
	SetMessagesAsSeen bool
	RecoverSessions   bool
	// Ready bounds the wait for the page before the watchdog is armed
	Ready waiter.Options
}

// Binder attaches the event listeners of a freshly created client
type Binder struct {
	cfg    BinderConfig
	logger *zap.Logger

	// onPageLost is invoked by the watchdog; the manager installs it
	onPageLost func(sessionID string, c client.Client)
}

// NewBinder creates a binder
func NewBinder(cfg BinderConfig, logger *zap.Logger) *Binder {
	return &Binder{cfg: cfg, logger: logger.Named("events")}
}

// Bind wires every enabled event of c to webhook delivery and keeps status
// up to date regardless of which events are enabled
func (b *Binder) Bind(c client.Client, sessionID string, status *Status) {
	var url string
	if b.cfg.WebhookURL != nil {
		url = b.cfg.WebhookURL(sessionID)
	}
	log := b.logger.With(zap.String("session_id", sessionID))

	if b.cfg.RecoverSessions {
		go b.watch(c, sessionID, log)
	}

	b.bindStatus(c, status, log)

	for _, bnd := range catalog {
		if !b.cfg.Gate.Enabled(bnd.event) {
			continue
		}
		bnd := bnd
		c.On(bnd.event, func(ev client.Event) {
			b.emit(url, sessionID, dataType(bnd.event), shape(ev, bnd.args))
			if bnd.event == client.EventMessageAck && ev.Message != nil {
				b.markSeen(c, *ev.Message, log)
			}
		})
	}

	c.On(client.EventQR, func(ev client.Event) {
		qr, _ := ev.Arg("qr").(string)
		status.SetQR(qr)
		if b.cfg.Gate.Enabled(client.EventQR) {
			b.emit(url, sessionID, client.EventQR, map[string]any{"qr": qr})
		}
	})

	for _, name := range []string{client.EventMessage, client.EventMessageCreate} {
		name := name
		c.On(name, func(ev client.Event) {
			if ev.Message == nil {
				return
			}
			msg := *ev.Message
			if b.cfg.Gate.Enabled(name) {
				log.Info("message event", zap.String("event", name), zap.String("from", msg.From))
				b.emit(url, sessionID, name, map[string]any{"message": ev.Message})
				b.persist(c, url, sessionID, name, msg, log)
			}
			b.markSeen(c, msg, log)
		})
	}
}

func (b *Binder) bindStatus(c client.Client, status *Status, log *zap.Logger) {
	c.On(client.EventChangeState, func(ev client.Event) {
		switch s := ev.Arg("state").(type) {
		case client.State:
			status.SetState(s)
		case string:
			status.SetState(client.State(s))
		}
	})
	c.On(client.EventAuthenticated, func(client.Event) {
		log.Info("authenticated")
		status.SetQR("")
	})
	c.On(client.EventReady, func(client.Event) {
		log.Info("ready")
		status.SetQR("")
		status.SetState(client.StateConnected)
	})
	c.On(client.EventAuthFailure, func(ev client.Event) {
		msg, _ := ev.Arg("msg").(string)
		log.Warn("authentication failure", zap.String("reason", msg))
		status.SetLastError(msg)
	})
	c.On(client.EventDisconnected, func(ev client.Event) {
		reason, _ := ev.Arg("reason").(string)
		log.Warn("disconnected", zap.String("reason", reason))
		status.SetLastError(reason)
	})
}

func (b *Binder) emit(url, sessionID, event string, data any) {
	env := events.Envelope{DataType: event, Data: data, SessionID: sessionID}
	b.cfg.Dispatcher.Dispatch(url, env)
	if b.cfg.Publisher != nil {
		b.cfg.Publisher.Publish(env)
	}
}

// persist stores the message and, when enabled, its media. It never blocks
// the event listener.
func (b *Binder) persist(c client.Client, url, sessionID, event string, msg client.Message, log *zap.Logger) {
	store := b.cfg.Store
	withMedia := event == client.EventMessage && msg.HasMedia && b.cfg.Gate.Enabled(client.EventMedia)
	if store == nil && !withMedia {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()

		if store != nil && msg.Type == client.MessageTypeText {
			if err := store.SaveMessage(ctx, sessionID, msg); err != nil {
				log.Warn("failed to save message", zap.String("message_id", msg.ID.Serialized), zap.Error(err))
			}
		}
		if !withMedia {
			return
		}

		media, err := c.DownloadMedia(ctx, msg)
		if err != nil {
			log.Warn("failed to download media", zap.String("message_id", msg.ID.Serialized), zap.Error(err))
			return
		}
		if store != nil {
			if err := store.SaveMedia(ctx, sessionID, msg, *media); err != nil {
				log.Warn("failed to save media", zap.String("message_id", msg.ID.Serialized), zap.Error(err))
			}
		}
		b.emit(url, sessionID, client.EventMedia, map[string]any{"messageMedia": media, "message": msg})
	}()
}

func (b *Binder) markSeen(c client.Client, msg client.Message, log *zap.Logger) {
	if !b.cfg.SetMessagesAsSeen {
		return
	}
	chatID := msg.Chat()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()
		if err := c.SendSeen(ctx, chatID); err != nil {
			log.Warn("failed to mark chat as seen", zap.String("chat_id", chatID), zap.Error(err))
		}
	}()
}

// watch arms one-shot close/crash listeners on the page once it exists
func (b *Binder) watch(c client.Client, sessionID string, log *zap.Logger) {
	if err := waiter.ForPath(context.Background(), c, "Page", b.cfg.Ready); err != nil {
		log.Debug("page never appeared, watchdog not armed", zap.Error(err))
		return
	}
	page := c.Page()
	if page == nil {
		return
	}

	var once sync.Once
	lost := func(reason string) func() {
		return func() {
			once.Do(func() {
				page.RemoveAllListeners(client.PageClose)
				page.RemoveAllListeners(client.PageError)
				log.Warn("browser page lost, restoring session", zap.String("reason", reason))
				if b.onPageLost != nil {
					go b.onPageLost(sessionID, c)
				}
			})
		}
	}
	page.Once(client.PageClose, lost("closed"))
	page.Once(client.PageError, lost("crashed"))
}
