// Package events decides which client events are dispatched and fans them
// out to live subscribers.
package events

// Gate reports whether an event class is enabled for dispatch
type Gate struct {
	disabled map[string]struct{}
}

// NewGate builds a gate from the static list of disabled event names
func NewGate(disabled []string) *Gate {
	g := &Gate{disabled: make(map[string]struct{}, len(disabled))}
	for _, name := range disabled {
		g.disabled[name] = struct{}{}
	}
	return g
}

// Enabled returns false when the event was disabled at startup
func (g *Gate) Enabled(event string) bool {
	if g == nil {
		return true
	}
	_, off := g.disabled[event]
	return !off
}
