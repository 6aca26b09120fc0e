package env

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"deploycheck/internal/compose"
	"deploycheck/internal/config"
)

// composePS allows mocking the service listing in tests.
var composePS = compose.PS

// ComposeProfile targets a single-host container engine through a compose
// project. Workload instances are service containers; there is no relay
// process since the service port is already published on the host.
type ComposeProfile struct {
	File    string
	Project string
	Service string
}

// NewComposeProfile builds the single-host profile from configuration.
func NewComposeProfile(cfg config.ComposeConfig) *ComposeProfile {
	return &ComposeProfile{
		File:    cfg.File,
		Project: cfg.Project,
		Service: cfg.Service,
	}
}

func (p *ComposeProfile) Name() string { return string(config.EnvironmentCompose) }

func (p *ComposeProfile) CheckPrerequisites(ctx context.Context) error {
	return compose.Available(ctx)
}

func (p *ComposeProfile) Apply(ctx context.Context, spec config.DeploymentSpec) error {
	// `up -d` is create-or-update: unchanged services are left running,
	// changed ones are recreated in place.
	return compose.Up(ctx, p.File, p.Project)
}

func (p *ComposeProfile) CheckReady(ctx context.Context, spec config.DeploymentSpec) (bool, string, error) {
	entries, err := composePS(ctx, p.File, p.Project, p.Service)
	if err != nil {
		return false, "", nil // engine query hiccup, keep polling
	}
	if len(entries) == 0 {
		return false, "no containers yet", nil
	}

	entry := entries[0]
	switch strings.ToLower(entry.State) {
	case "running":
		if entry.Health != "" && !strings.EqualFold(entry.Health, "healthy") {
			return false, fmt.Sprintf("container %s health: %s", entry.Name, entry.Health), nil
		}
		return true, fmt.Sprintf("container %s running", entry.Name), nil
	case "exited", "dead":
		return false, entry.State, fmt.Errorf("container %s is %s", entry.Name, entry.State)
	default:
		return false, fmt.Sprintf("container %s state: %s", entry.Name, entry.State), nil
	}
}

func (p *ComposeProfile) Locate(ctx context.Context, sel Selector) (WorkloadHandle, error) {
	service := p.Service
	if service == "" {
		service = sel.Name
	}
	entries, err := composePS(ctx, p.File, p.Project, service)
	if err != nil {
		return WorkloadHandle{}, &LocatorError{Kind: KindQueryFailed, Environment: p.Name(), Selector: sel.Name, Err: err}
	}

	var running []compose.PSEntry
	for _, e := range entries {
		if strings.EqualFold(e.State, "running") {
			running = append(running, e)
		}
	}
	if len(running) == 0 {
		return WorkloadHandle{}, &LocatorError{Kind: KindNotFound, Environment: p.Name(), Selector: sel.Name}
	}

	// Scaled services produce several containers; the oldest one is taken.
	first := running[0]
	for _, e := range running[1:] {
		if c := e.Created(); !c.IsZero() && c.Before(first.Created()) {
			first = e
		}
	}
	return WorkloadHandle{
		Environment: p.Name(),
		ID:          first.Name,
		CreatedAt:   first.Created(),
	}, nil
}

func (p *ComposeProfile) Exec(ctx context.Context, handle WorkloadHandle, command []string) (string, error) {
	return compose.Exec(ctx, handle.ID, command)
}

func (p *ComposeProfile) OpenRelay(ctx context.Context, handle WorkloadHandle, localPort, remotePort int) (Relay, error) {
	addr, err := compose.Port(ctx, handle.ID, remotePort)
	if err != nil {
		return nil, fmt.Errorf("resolving published port for %s: %w", handle.ID, err)
	}
	return newStaticRelay(addr), nil
}

func (p *ComposeProfile) SecurityAttributes(ctx context.Context, handle WorkloadHandle) (SecurityAttributes, error) {
	info, err := compose.Inspect(ctx, handle.ID)
	if err != nil {
		return SecurityAttributes{}, err
	}
	return containerSecurityAttributes(info), nil
}

// containerSecurityAttributes maps docker inspect output onto the common
// attribute set. The engine has no runAsNonRoot flag; a numeric non-zero
// user implies it.
func containerSecurityAttributes(info *compose.ContainerInfo) SecurityAttributes {
	var attrs SecurityAttributes

	readOnly := info.HostConfig.ReadonlyRootfs
	attrs.ReadOnlyRootFilesystem = &readOnly
	privileged := info.HostConfig.Privileged
	attrs.Privileged = &privileged
	attrs.DroppedCapabilities = append(attrs.DroppedCapabilities, info.HostConfig.CapDrop...)

	user := info.Config.User
	if user != "" {
		// The user field may be "uid", "uid:gid", or a name. Only numeric
		// users can be interpreted here.
		if idx := strings.Index(user, ":"); idx >= 0 {
			user = user[:idx]
		}
		if uid, err := strconv.ParseInt(user, 10, 64); err == nil {
			attrs.RunAsUser = &uid
			nonRoot := uid != 0
			attrs.RunAsNonRoot = &nonRoot
		}
	}
	return attrs
}

// staticRelay is a Relay over an already-reachable endpoint. There is no
// background process, so it is born ready and Stop has nothing to tear down.
type staticRelay struct {
	addr  string
	ready chan struct{}
}

func newStaticRelay(addr string) *staticRelay {
	ready := make(chan struct{})
	close(ready)
	return &staticRelay{addr: addr, ready: ready}
}

func (r *staticRelay) LocalAddr() string { return r.addr }

func (r *staticRelay) Ready() <-chan struct{} { return r.ready }

func (r *staticRelay) Stop() {}
