package session

import (
	"sort"
	"sync"
	"time"

	"github.com/lucasduarte0/whatsapp-api/internal/client"
)

// Status is the out-of-band status record of one session, written by the
// event binder and read by status queries
type Status struct {
	mu        sync.RWMutex
	qr        string
	state     client.State
	lastError string
	updatedAt time.Time
}

// StatusSnapshot is a consistent copy of a Status
type StatusSnapshot struct {
	QR        string       `json:"qr,omitempty"`
	State     client.State `json:"state,omitempty"`
	LastError string       `json:"lastError,omitempty"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// SetQR records the latest pairing code; an empty string clears it
func (s *Status) SetQR(qr string) {
	s.mu.Lock()
	s.qr = qr
	s.updatedAt = time.Now()
	s.mu.Unlock()
}

// QR returns the latest pairing code
func (s *Status) QR() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.qr
}

// SetState records the last known protocol state
func (s *Status) SetState(state client.State) {
	s.mu.Lock()
	s.state = state
	s.updatedAt = time.Now()
	s.mu.Unlock()
}

// SetLastError records the last failure reported by the client
func (s *Status) SetLastError(msg string) {
	s.mu.Lock()
	s.lastError = msg
	s.updatedAt = time.Now()
	s.mu.Unlock()
}

// Snapshot copies the record
func (s *Status) Snapshot() StatusSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StatusSnapshot{
		QR:        s.qr,
		State:     s.state,
		LastError: s.lastError,
		UpdatedAt: s.updatedAt,
	}
}

// Entry is what the registry holds per session
type Entry struct {
	Client client.Client
	Status *Status
}

// Registry maps session ids to their live client. It is the single
// in-process authority on which sessions are known.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	locks   map[string]*idLock
}

// idLock is dropped from the registry once nobody holds or waits for it
type idLock struct {
	mu   sync.Mutex
	refs int
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
		locks:   make(map[string]*idLock),
	}
}

// Get returns the entry for id
func (r *Registry) Get(id string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// Set stores the entry for id, replacing any previous one
func (r *Registry) Set(id string, e *Entry) {
	r.mu.Lock()
	r.entries[id] = e
	r.mu.Unlock()
}

// Has reports whether id is registered
func (r *Registry) Has(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// Delete removes id
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

// Keys returns every registered id in sorted order
func (r *Registry) Keys() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.entries))
	for id := range r.entries {
		keys = append(keys, id)
	}
	r.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Len returns the number of registered sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Lock serializes lifecycle operations on one id and returns the unlock func
func (r *Registry) Lock(id string) func() {
	r.mu.Lock()
	l, ok := r.locks[id]
	if !ok {
		l = &idLock{}
		r.locks[id] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()
			r.mu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(r.locks, id)
			}
			r.mu.Unlock()
		})
	}
}
