package session

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasduarte0/whatsapp-api/internal/client"
	"github.com/lucasduarte0/whatsapp-api/internal/client/clienttest"
)

func TestRegistry_CRUD(t *testing.T) {
	reg := NewRegistry()
	assert.False(t, reg.Has("a"))

	c := clienttest.NewClient(client.Options{SessionID: "b"})
	reg.Set("b", &Entry{Client: c, Status: &Status{}})
	reg.Set("a", &Entry{Client: c, Status: &Status{}})

	e, ok := reg.Get("b")
	require.True(t, ok)
	assert.Same(t, c, e.Client)
	assert.Equal(t, []string{"a", "b"}, reg.Keys())
	assert.Equal(t, 2, reg.Len())

	reg.Delete("a")
	reg.Delete("missing")
	assert.False(t, reg.Has("a"))
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_LockSerializesPerID(t *testing.T) {
	reg := NewRegistry()

	var inside, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := reg.Lock("same")
			defer unlock()
			n := atomic.AddInt32(&inside, 1)
			if n > atomic.LoadInt32(&peak) {
				atomic.StoreInt32(&peak, n)
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), peak)
}

func TestRegistry_LockIndependentIDs(t *testing.T) {
	reg := NewRegistry()
	unlock := reg.Lock("a")
	defer unlock()

	done := make(chan struct{})
	go func() {
		reg.Lock("b")()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
}

func TestRegistry_LocksArePruned(t *testing.T) {
	reg := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := []string{"a", "b", "c"}[i%3]
			unlock := reg.Lock(id)
			time.Sleep(time.Millisecond)
			unlock()
			unlock()
		}(i)
	}
	wg.Wait()

	reg.mu.RLock()
	defer reg.mu.RUnlock()
	assert.Empty(t, reg.locks)
}

func TestStatus_Snapshot(t *testing.T) {
	s := &Status{}
	s.SetQR("2@qr")
	s.SetState(client.StatePairing)
	s.SetLastError("boom")

	snap := s.Snapshot()
	assert.Equal(t, "2@qr", snap.QR)
	assert.Equal(t, client.StatePairing, snap.State)
	assert.Equal(t, "boom", snap.LastError)
	assert.False(t, snap.UpdatedAt.IsZero())

	s.SetQR("")
	assert.Empty(t, s.QR())
}
