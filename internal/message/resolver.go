// Package message locates messages by id within a chat's recent history.
package message

import (
	"context"
	"errors"
	"fmt"

	"github.com/lucasduarte0/whatsapp-api/internal/client"
)

// HistoryWindow is how many of a chat's most recent messages are searched
const HistoryWindow = 100

// ErrNotFound is returned when the id is absent from the searched window.
// The message may not exist or may be older than the window.
var ErrNotFound = errors.New("Message not Found")

// Fetcher is the part of a client the resolver needs
type Fetcher interface {
	FetchMessages(ctx context.Context, chatID string, limit int) ([]client.Message, error)
}

// Resolve returns the message of chatID whose id is messageID
func Resolve(ctx context.Context, c Fetcher, chatID, messageID string) (*client.Message, error) {
	msgs, err := c.FetchMessages(ctx, chatID, HistoryWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	for i := range msgs {
		if msgs[i].ID.ID == messageID {
			return &msgs[i], nil
		}
	}
	return nil, ErrNotFound
}
