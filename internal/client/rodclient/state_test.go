package rodclient

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lucasduarte0/whatsapp-api/internal/client"
)

func names(evs []client.Event) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.Name
	}
	return out
}

func TestTracker_Handshake(t *testing.T) {
	tr := &tracker{}

	evs := tr.observe(snapshot{State: "OPENING", Loading: 40})
	assert.Equal(t, []string{client.EventLoadingScreen, client.EventChangeState}, names(evs))
	assert.Equal(t, 40, evs[0].Arg("percent"))

	evs = tr.observe(snapshot{State: "UNPAIRED", QR: "2@first"})
	assert.Equal(t, []string{client.EventQR, client.EventChangeState}, names(evs))
	assert.Equal(t, "2@first", evs[0].Arg("qr"))

	// same code is not re-emitted, a rotated one is
	assert.Empty(t, tr.observe(snapshot{State: "UNPAIRED", QR: "2@first"}))
	evs = tr.observe(snapshot{State: "UNPAIRED", QR: "2@second"})
	assert.Equal(t, []string{client.EventQR}, names(evs))

	evs = tr.observe(snapshot{State: "CONNECTED"})
	assert.Equal(t, []string{client.EventChangeState, client.EventAuthenticated, client.EventReady}, names(evs))
	assert.Equal(t, client.StateConnected, evs[0].Arg("state"))
}

func TestTracker_Disconnect(t *testing.T) {
	tr := &tracker{state: client.StateConnected}

	evs := tr.observe(snapshot{State: "CONFLICT"})
	assert.Equal(t, []string{client.EventChangeState, client.EventDisconnected}, names(evs))
	assert.Equal(t, "CONFLICT", evs[1].Arg("reason"))
}

func TestTracker_QueuedEvents(t *testing.T) {
	tr := &tracker{state: client.StateConnected}
	msg := &client.Message{ID: client.MessageID{ID: "m1"}, Body: "hi"}

	evs := tr.observe(snapshot{State: "CONNECTED", Events: []queuedEvent{
		{Name: client.EventMessage, Message: msg},
		{Name: ""},
		{Name: client.EventMessageAck, Message: msg, Args: map[string]any{"ack": 2}},
	}})
	assert.Equal(t, []string{client.EventMessage, client.EventMessageAck}, names(evs))
	assert.Same(t, msg, evs[0].Message)
	assert.Equal(t, 2, evs[1].Arg("ack"))
}
