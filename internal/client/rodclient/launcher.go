package rodclient

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"

	"github.com/lucasduarte0/whatsapp-api/internal/browser"
	"github.com/lucasduarte0/whatsapp-api/internal/client"
)

// Launcher starts a browser for one session and returns its devtools URL
// and a func that forcibly terminates it
type Launcher interface {
	Launch(ctx context.Context, opts client.Options) (controlURL string, kill func() error, err error)
}

// Local launches Chrome as a child process with the auth folder as its profile
type Local struct{}

type flag struct {
	name  flags.Flag
	value string
	set   bool
}

// parseFlags converts "--name=value" style args to launcher flags
func parseFlags(args []string) []flag {
	out := make([]flag, 0, len(args))
	for _, raw := range args {
		name, val, hasVal := strings.Cut(strings.TrimLeft(raw, "-"), "=")
		if name == "" {
			continue
		}
		out = append(out, flag{name: flags.Flag(name), value: val, set: hasVal})
	}
	return out
}

func (Local) Launch(ctx context.Context, opts client.Options) (string, func() error, error) {
	if err := os.MkdirAll(opts.AuthDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("failed to create auth folder: %w", err)
	}

	l := launcher.New().
		Headless(opts.Headless).
		UserDataDir(opts.AuthDir)
	if opts.UserAgent != "" {
		l = l.Set(flags.Flag("user-agent"), opts.UserAgent)
	}
	if opts.ExecutablePath != "" {
		l = l.Bin(opts.ExecutablePath)
	}
	for _, f := range parseFlags(opts.Args) {
		if f.set {
			l = l.Set(f.name, f.value)
		} else {
			l = l.Set(f.name)
		}
	}

	u, err := l.Launch()
	if err != nil {
		return "", nil, fmt.Errorf("failed to launch chrome: %w", err)
	}
	return u, func() error {
		l.Kill()
		return nil
	}, nil
}

// Docker runs the session's browser in a pooled container
type Docker struct {
	Pool *browser.Pool
}

func (d Docker) Launch(ctx context.Context, opts client.Options) (string, func() error, error) {
	if err := os.MkdirAll(opts.AuthDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("failed to create auth folder: %w", err)
	}
	inst, err := d.Pool.Acquire(ctx, opts.SessionID, opts.AuthDir)
	if err != nil {
		return "", nil, err
	}
	return inst.ConnectURL, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return d.Pool.Release(ctx, opts.SessionID)
	}, nil
}
