// Package waiter polls for a value to materialize within a bounded time.
package waiter

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Defaults used when Options leaves a field zero
const (
	DefaultTimeout  = 10 * time.Second
	DefaultInterval = 100 * time.Millisecond
)

// ErrTimeout is returned when the watched value never appeared
var ErrTimeout = errors.New("timeout waiting for nested object")

// Options bounds a wait
type Options struct {
	Timeout  time.Duration
	Interval time.Duration
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	return o
}

// Until calls cond every interval until it reports true, the timeout
// elapses, or ctx is done. cond is evaluated once immediately.
func Until(ctx context.Context, cond func() bool, opts Options) error {
	opts = opts.withDefaults()

	if cond() {
		return nil
	}

	deadline := time.NewTimer(opts.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			// one last look so a value set right at the deadline still counts
			if cond() {
				return nil
			}
			return ErrTimeout
		case <-ticker.C:
			if cond() {
				return nil
			}
		}
	}
}

// ForPath waits until the dotted path resolves to a non-nil value on root.
// Each segment names a zero-argument method, an exported struct field or a
// string map key, tried in that order.
func ForPath(ctx context.Context, root any, path string, opts Options) error {
	err := Until(ctx, func() bool {
		return Lookup(root, path) != nil
	}, opts)
	if errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w: %s", ErrTimeout, path)
	}
	return err
}

// Lookup resolves path against root and returns nil when any segment is missing or nil
func Lookup(root any, path string) any {
	cur := reflect.ValueOf(root)
	for _, seg := range strings.Split(path, ".") {
		if isNil(cur) {
			return nil
		}
		cur = step(cur, seg)
	}
	if isNil(cur) || !cur.CanInterface() {
		return nil
	}
	return cur.Interface()
}

func step(v reflect.Value, seg string) reflect.Value {
	if v.Kind() == reflect.Interface {
		v = v.Elem()
	}
	if m := v.MethodByName(seg); m.IsValid() {
		t := m.Type()
		if t.NumIn() == 0 && t.NumOut() >= 1 {
			return m.Call(nil)[0]
		}
	}
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Struct:
		f, ok := v.Type().FieldByName(seg)
		if !ok || !f.IsExported() {
			return reflect.Value{}
		}
		return v.FieldByIndex(f.Index)
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return reflect.Value{}
		}
		return v.MapIndex(reflect.ValueOf(seg).Convert(v.Type().Key()))
	}
	return reflect.Value{}
}

func isNil(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}
