// Package webcache supplies the pinned messaging web app document a client
// serves instead of the live one.
package webcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/lucasduarte0/whatsapp-api/internal/client"
)

// DefaultRemoteURL is the published archive of web app versions. %s is the version.
const DefaultRemoteURL = "https://raw.githubusercontent.com/wppconnect-team/wa-version/main/html/%s.html"

const maxDocumentSize = 16 << 20

var versionPattern = regexp.MustCompile(`^[0-9A-Za-z.\-]+$`)

// ErrBadVersion is returned for versions that cannot name a cache file
var ErrBadVersion = errors.New("invalid web version")

// Cache resolves a pinned version to its HTML document
type Cache interface {
	// Resolve returns the document of version; ok is false on a cache miss
	Resolve(ctx context.Context, version string) (doc []byte, ok bool, err error)
	// Persist stores a live document for later runs; caches that cannot
	// store are no-ops
	Persist(version string, doc []byte) error
}

// New returns the cache implementing mode
func New(mode, dir string) (Cache, error) {
	switch strings.ToLower(mode) {
	case "", client.CacheNone:
		return None{}, nil
	case client.CacheLocal:
		return &Local{Dir: dir}, nil
	case client.CacheRemote:
		return NewRemote(DefaultRemoteURL, nil), nil
	}
	return nil, fmt.Errorf("unknown web version cache type %q", mode)
}

func checkVersion(version string) error {
	if !versionPattern.MatchString(version) || strings.Contains(version, "..") {
		return fmt.Errorf("%w: %q", ErrBadVersion, version)
	}
	return nil
}

// None always misses
type None struct{}

func (None) Resolve(context.Context, string) ([]byte, bool, error) { return nil, false, nil }

func (None) Persist(string, []byte) error { return nil }

// Local keeps documents as <Dir>/<version>.html
type Local struct {
	Dir string
}

func (l *Local) path(version string) string {
	return filepath.Join(l.Dir, version+".html")
}

func (l *Local) Resolve(_ context.Context, version string) ([]byte, bool, error) {
	if err := checkVersion(version); err != nil {
		return nil, false, err
	}
	doc, err := os.ReadFile(l.path(version))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached version: %w", err)
	}
	return doc, true, nil
}

// Persist writes doc through a temp file and rename
func (l *Local) Persist(version string, doc []byte) error {
	if err := checkVersion(version); err != nil {
		return err
	}
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(l.Dir, version+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create cache file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(doc); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.path(version)); err != nil {
		return fmt.Errorf("failed to store cache file: %w", err)
	}
	return nil
}

// Remote downloads documents from a URL template
type Remote struct {
	URLTemplate string
	client      *http.Client
}

// NewRemote creates a remote cache. A nil client gets a 30s timeout.
func NewRemote(urlTemplate string, c *http.Client) *Remote {
	if c == nil {
		c = &http.Client{Timeout: 30 * time.Second}
	}
	return &Remote{URLTemplate: urlTemplate, client: c}
}

func (r *Remote) Resolve(ctx context.Context, version string) ([]byte, bool, error) {
	if err := checkVersion(version); err != nil {
		return nil, false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(r.URLTemplate, version), nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("failed to fetch web version: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if resp.StatusCode >= 400 {
		return nil, false, fmt.Errorf("failed to fetch web version: status %d", resp.StatusCode)
	}

	doc, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, false, fmt.Errorf("failed to read web version: %w", err)
	}
	return doc, true, nil
}

func (r *Remote) Persist(string, []byte) error { return nil }
