package client

// Client event names
const (
	EventAuthFailure           = "auth_failure"
	EventAuthenticated         = "authenticated"
	EventCall                  = "call"
	EventChangeState           = "change_state"
	EventDisconnected          = "disconnected"
	EventGroupJoin             = "group_join"
	EventGroupLeave            = "group_leave"
	EventGroupUpdate           = "group_update"
	EventLoadingScreen         = "loading_screen"
	EventMediaUploaded         = "media_uploaded"
	EventMessage               = "message"
	EventMessageAck            = "message_ack"
	EventMessageCreate         = "message_create"
	EventMessageReaction       = "message_reaction"
	EventMessageEdit           = "message_edit"
	EventMessageCiphertext     = "message_ciphertext"
	EventMessageRevokeEveryone = "message_revoke_everyone"
	EventMessageRevokeMe       = "message_revoke_me"
	EventQR                    = "qr"
	EventReady                 = "ready"
	EventContactChanged        = "contact_changed"
	EventChatRemoved           = "chat_removed"
	EventChatArchived          = "chat_archived"
	EventUnreadCount           = "unread_count"

	// EventMedia is raised by the gateway after downloading a message's media
	EventMedia = "media"
)

// MessageTypeText is the protocol type of a plain text message
const MessageTypeText = "chat"

// Event is a single emission from the client. Message is set for message
// events; every other argument is carried by name in Args.
type Event struct {
	Name    string
	Message *Message
	Args    map[string]any
}

// Arg returns a named argument or nil
func (e Event) Arg(name string) any {
	if e.Args == nil {
		return nil
	}
	return e.Args[name]
}

// MessageID identifies a message
type MessageID struct {
	ID         string `json:"id"`
	Serialized string `json:"_serialized"`
	FromMe     bool   `json:"fromMe"`
	Remote     string `json:"remote,omitempty"`
}

// Message is a chat message as reported by the client
type Message struct {
	ID        MessageID `json:"id"`
	ChatID    string    `json:"chatId,omitempty"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Author    string    `json:"author,omitempty"`
	Body      string    `json:"body"`
	Type      string    `json:"type"`
	HasMedia  bool      `json:"hasMedia"`
	Timestamp int64     `json:"timestamp"`
	Ack       int       `json:"ack,omitempty"`
}

// Chat returns the id of the chat the message belongs to
func (m Message) Chat() string {
	if m.ChatID != "" {
		return m.ChatID
	}
	if m.ID.Remote != "" {
		return m.ID.Remote
	}
	if m.ID.FromMe {
		return m.To
	}
	return m.From
}

// Media is downloaded message media
type Media struct {
	Mimetype string `json:"mimetype"`
	Data     string `json:"data"`
	Filename string `json:"filename,omitempty"`
	Filesize int64  `json:"filesize,omitempty"`
}
