// Package env abstracts over the runtime substrates deploycheck can target.
//
// A Profile bundles everything environment-specific: how workloads are
// addressed, how commands are executed inside them, how a local network relay
// is established, and what readiness means. The rest of the orchestrator
// (provisioner, tunnel, check runner) only talks to this interface, so the
// cluster and compose variants stay interchangeable.
package env

import (
	"context"
	"time"

	"deploycheck/internal/config"
)

// Selector identifies a logical workload within an environment. For the
// Kubernetes profile it resolves to an app label, for the compose profile to
// a service name.
type Selector struct {
	Name string
}

// WorkloadHandle is a concrete, addressable workload instance. Handles are
// rebound on every run; workloads are recreated between runs so a cached
// handle would dangle.
type WorkloadHandle struct {
	Environment string
	ID          string
	CreatedAt   time.Time
}

// SecurityAttributes are the security-relevant properties an environment
// declares for a workload. Nil pointer fields mean the environment does not
// declare that attribute.
type SecurityAttributes struct {
	RunAsUser              *int64
	RunAsNonRoot           *bool
	ReadOnlyRootFilesystem *bool
	Privileged             *bool
	DroppedCapabilities    []string
}

// Relay is a running local-to-remote network relay. The Kubernetes variant
// is backed by a background SPDY port-forward; the compose variant is a
// static endpoint on an already-published port.
type Relay interface {
	// LocalAddr returns the local host:port the relay listens on.
	LocalAddr() string
	// Ready is closed once the relay is confirmed listening. Relays that
	// need no background setup return an already-closed channel.
	Ready() <-chan struct{}
	// Stop terminates the relay. Safe to call more than once.
	Stop()
}

// Profile is the capability set of one deployment target. Implementations
// must be safe for use from a single run goroutine; all blocking operations
// honor the passed context.
type Profile interface {
	// Name identifies the profile, e.g. "kubernetes" or "compose".
	Name() string

	// CheckPrerequisites verifies the environment's control interface is
	// usable at all (CLI binaries present, API reachable).
	CheckPrerequisites(ctx context.Context) error

	// Apply submits the deployment spec with create-or-update semantics.
	Apply(ctx context.Context, spec config.DeploymentSpec) error

	// CheckReady reports whether the workload is ready to serve. A non-nil
	// error signals a terminal substrate failure, not a transient one.
	CheckReady(ctx context.Context, spec config.DeploymentSpec) (bool, string, error)

	// Locate resolves the selector to a single workload instance. Zero
	// matches yield a *LocatorError with KindNotFound; multiple matches
	// resolve to the first by creation time.
	Locate(ctx context.Context, sel Selector) (WorkloadHandle, error)

	// Exec runs a command inside the workload and returns captured stdout.
	Exec(ctx context.Context, handle WorkloadHandle, command []string) (string, error)

	// OpenRelay establishes a local network path to the workload's port.
	OpenRelay(ctx context.Context, handle WorkloadHandle, localPort, remotePort int) (Relay, error)

	// SecurityAttributes returns the workload's declared security attributes.
	SecurityAttributes(ctx context.Context, handle WorkloadHandle) (SecurityAttributes, error)
}
