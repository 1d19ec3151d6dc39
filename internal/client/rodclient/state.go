package rodclient

import (
	"github.com/lucasduarte0/whatsapp-api/internal/client"
)

// snapshot is one observation of the web app
type snapshot struct {
	State   string        `json:"state"`
	QR      string        `json:"qr"`
	Loading int           `json:"loading"`
	Events  []queuedEvent `json:"events"`
}

type queuedEvent struct {
	Name    string          `json:"name"`
	Message *client.Message `json:"message"`
	Args    map[string]any  `json:"args"`
}

// tracker turns successive snapshots into client events
type tracker struct {
	state   client.State
	qr      string
	loading int
}

func (t *tracker) observe(s snapshot) []client.Event {
	var out []client.Event

	if s.Loading > 0 && s.Loading != t.loading {
		out = append(out, client.Event{
			Name: client.EventLoadingScreen,
			Args: map[string]any{"percent": s.Loading, "message": "WhatsApp"},
		})
	}
	t.loading = s.Loading

	if s.QR != "" && s.QR != t.qr {
		out = append(out, client.Event{Name: client.EventQR, Args: map[string]any{"qr": s.QR}})
	}
	t.qr = s.QR

	next := client.State(s.State)
	if next != "" && next != t.state {
		prev := t.state
		t.state = next
		out = append(out, client.Event{Name: client.EventChangeState, Args: map[string]any{"state": next}})

		switch {
		case next == client.StateConnected:
			out = append(out,
				client.Event{Name: client.EventAuthenticated},
				client.Event{Name: client.EventReady},
			)
		case prev == client.StateConnected:
			out = append(out, client.Event{Name: client.EventDisconnected, Args: map[string]any{"reason": string(next)}})
		}
	}

	for _, q := range s.Events {
		if q.Name == "" {
			continue
		}
		out = append(out, client.Event{Name: q.Name, Message: q.Message, Args: q.Args})
	}
	return out
}
