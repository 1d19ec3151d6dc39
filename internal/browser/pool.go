// Package browser runs one headless Chrome container per session.
package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"go.uber.org/zap"

	"github.com/lucasduarte0/whatsapp-api/internal/waiter"
)

// DefaultImage is the browserless Chrome image every container runs
const DefaultImage = "browserless/chrome:latest"

const (
	devtoolsPort = nat.Port("3000/tcp")
	dataMount    = "/data"
	managedBy    = "whatsapp-api"
)

// Instance is a running browser container bound to one session
type Instance struct {
	ContainerID string
	SessionID   string
	ConnectURL  string
	Port        string
	AuthDir     string
}

// Pool creates and tracks session containers
type Pool struct {
	client *client.Client
	image  string
	logger *zap.Logger
	ready  waiter.Options

	mu        sync.Mutex
	instances map[string]*Instance
	starting  map[string]*sessionLock
}

// sessionLock is dropped from the pool once nobody holds or waits for it
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewPool connects to the docker daemon from the environment
func NewPool(img string, logger *zap.Logger) (*Pool, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if img == "" {
		img = DefaultImage
	}

	return &Pool{
		client:    cli,
		image:     img,
		logger:    logger.Named("browser"),
		ready:     waiter.Options{Timeout: 10 * time.Second, Interval: 500 * time.Millisecond},
		instances: make(map[string]*Instance),
		starting:  make(map[string]*sessionLock),
	}, nil
}

func containerName(sessionID string) string {
	return "wa-session-" + sessionID
}

// containerSpec builds the container for one session with its auth folder
// mounted as the browser profile
func containerSpec(img, sessionID, authDir string) (*container.Config, *container.HostConfig) {
	cfg := &container.Config{
		Image: img,
		Labels: map[string]string{
			"session-id": sessionID,
			"managed-by": managedBy,
		},
		Env: []string{
			"CONNECTION_TIMEOUT=-1",
			"MAX_CONCURRENT_SESSIONS=1",
			"PREBOOT_CHROME=true",
			"KEEP_ALIVE=true",
			"EXIT_ON_HEALTH_FAILURE=false",
		},
		ExposedPorts: nat.PortSet{devtoolsPort: struct{}{}},
	}

	host := &container.HostConfig{
		PortBindings: nat.PortMap{
			devtoolsPort: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: "0"}},
		},
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: authDir,
			Target: dataMount,
		}},
	}
	return cfg, host
}

func connectURL(port string) string {
	return fmt.Sprintf("ws://127.0.0.1:%s?--user-data-dir=%s", port, dataMount)
}

// lock serializes container lifecycle calls for one session and returns
// the unlock func. Other sessions are not blocked.
func (p *Pool) lock(sessionID string) func() {
	p.mu.Lock()
	l, ok := p.starting[sessionID]
	if !ok {
		l = &sessionLock{}
		p.starting[sessionID] = l
	}
	l.refs++
	p.mu.Unlock()

	l.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()
			p.mu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(p.starting, sessionID)
			}
			p.mu.Unlock()
		})
	}
}

func (p *Pool) instance(sessionID string) (*Instance, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	inst, ok := p.instances[sessionID]
	return inst, ok
}

// Acquire returns the container of a session, starting one if needed
func (p *Pool) Acquire(ctx context.Context, sessionID, authDir string) (*Instance, error) {
	unlock := p.lock(sessionID)
	defer unlock()

	if inst, ok := p.instance(sessionID); ok && p.running(ctx, inst.ContainerID) {
		return inst, nil
	}

	absDir, err := filepath.Abs(authDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve auth folder: %w", err)
	}

	// a container left behind by a previous process holds the name
	_ = p.client.ContainerRemove(ctx, containerName(sessionID), container.RemoveOptions{Force: true})

	cfg, host := containerSpec(p.image, sessionID, absDir)
	resp, err := p.client.ContainerCreate(ctx, cfg, host, nil, nil, containerName(sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := p.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	inspect, err := p.client.ContainerInspect(ctx, resp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}
	if inspect.NetworkSettings == nil || len(inspect.NetworkSettings.Ports[devtoolsPort]) == 0 {
		return nil, errors.New("container exposes no devtools port")
	}
	port := inspect.NetworkSettings.Ports[devtoolsPort][0].HostPort

	if err := p.waitReady(ctx, port); err != nil {
		return nil, fmt.Errorf("browser failed to become ready: %w", err)
	}

	inst := &Instance{
		ContainerID: resp.ID,
		SessionID:   sessionID,
		ConnectURL:  connectURL(port),
		Port:        port,
		AuthDir:     absDir,
	}
	p.mu.Lock()
	p.instances[sessionID] = inst
	p.mu.Unlock()
	p.logger.Info("browser container started",
		zap.String("session_id", sessionID),
		zap.String("container_id", shortID(resp.ID)),
		zap.String("port", port),
	)
	return inst, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// Release stops and removes the container of a session
func (p *Pool) Release(ctx context.Context, sessionID string) error {
	unlock := p.lock(sessionID)
	defer unlock()

	p.mu.Lock()
	inst, ok := p.instances[sessionID]
	delete(p.instances, sessionID)
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return p.stop(ctx, inst.ContainerID)
}

func (p *Pool) stop(ctx context.Context, containerID string) error {
	timeout := 10
	if err := p.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	if err := p.client.ContainerRemove(ctx, containerID, container.RemoveOptions{}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

func (p *Pool) running(ctx context.Context, containerID string) bool {
	inspect, err := p.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return false
	}
	return inspect.ContainerJSONBase != nil && inspect.State != nil && inspect.State.Running
}

// IsHealthy reports whether the container of a session is running
func (p *Pool) IsHealthy(ctx context.Context, sessionID string) bool {
	p.mu.Lock()
	inst, ok := p.instances[sessionID]
	p.mu.Unlock()
	return ok && p.running(ctx, inst.ContainerID)
}

// EnsureImage pulls the browser image when it is not present locally
func (p *Pool) EnsureImage(ctx context.Context) error {
	images, err := p.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return fmt.Errorf("failed to list images: %w", err)
	}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == p.image {
				return nil
			}
		}
	}

	p.logger.Info("pulling browser image", zap.String("image", p.image))
	reader, err := p.client.ImagePull(ctx, p.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

// Close stops every container the pool started and closes the docker client
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	instances := p.instances
	p.instances = make(map[string]*Instance)
	p.mu.Unlock()

	var errs []error
	for id, inst := range instances {
		if err := p.stop(ctx, inst.ContainerID); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", id, err))
		}
	}
	if err := p.client.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// waitReady polls the devtools /json/version endpoint of port
func (p *Pool) waitReady(ctx context.Context, port string) error {
	return pollDevtools(ctx, &http.Client{Timeout: time.Second}, fmt.Sprintf("http://127.0.0.1:%s/json/version", port), p.ready)
}

func pollDevtools(ctx context.Context, hc *http.Client, url string, opts waiter.Options) error {
	return waiter.Until(ctx, func() bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false
		}
		resp, err := hc.Do(req)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, opts)
}
