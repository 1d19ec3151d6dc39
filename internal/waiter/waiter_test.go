package waiter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type handle struct {
	mu   sync.Mutex
	page *page
}

type page struct {
	URL string
}

func (h *handle) Page() *page {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.page
}

func (h *handle) set(p *page) {
	h.mu.Lock()
	h.page = p
	h.mu.Unlock()
}

func TestForPath_ResolvesWhenValueAppears(t *testing.T) {
	h := &handle{}
	time.AfterFunc(100*time.Millisecond, func() { h.set(&page{URL: "x"}) })

	start := time.Now()
	err := ForPath(context.Background(), h, "Page", Options{Timeout: 200 * time.Millisecond, Interval: 20 * time.Millisecond})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, 200*time.Millisecond)
}

func TestForPath_TimesOut(t *testing.T) {
	h := &handle{}

	start := time.Now()
	err := ForPath(context.Background(), h, "Page", Options{Timeout: 200 * time.Millisecond, Interval: 20 * time.Millisecond})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, 400*time.Millisecond)
}

func TestForPath_ImmediateValue(t *testing.T) {
	h := &handle{page: &page{}}
	require.NoError(t, ForPath(context.Background(), h, "Page", Options{Timeout: time.Millisecond}))
}

func TestUntil_DoesNotPollFasterThanInterval(t *testing.T) {
	var calls int
	err := Until(context.Background(), func() bool {
		calls++
		return false
	}, Options{Timeout: 200 * time.Millisecond, Interval: 50 * time.Millisecond})

	require.ErrorIs(t, err, ErrTimeout)
	// initial check + ~4 ticks + final check
	assert.LessOrEqual(t, calls, 7)
}

func TestUntil_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Until(ctx, func() bool { return false }, Options{Timeout: time.Second})
	require.ErrorIs(t, err, context.Canceled)
}

func TestLookup(t *testing.T) {
	type inner struct {
		Name   string
		hidden *int
	}
	type outer struct {
		Inner *inner
		Meta  map[string]any
	}
	n := 1

	tests := []struct {
		name string
		root any
		path string
		want bool
	}{
		{"struct field", outer{Inner: &inner{Name: "a"}}, "Inner.Name", true},
		{"nil pointer", outer{}, "Inner.Name", false},
		{"map key", outer{Meta: map[string]any{"pupPage": 1}}, "Meta.pupPage", true},
		{"missing map key", outer{Meta: map[string]any{}}, "Meta.pupPage", false},
		{"unexported field", outer{Inner: &inner{hidden: &n}}, "Inner.hidden", false},
		{"method", &handle{page: &page{}}, "Page.URL", true},
		{"method returns nil", &handle{}, "Page", false},
		{"nil root", nil, "Page", false},
		{"unknown segment", outer{}, "Nope", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Lookup(tt.root, tt.path) != nil)
		})
	}
}
