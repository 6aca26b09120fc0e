// Package tunnel owns the temporary network path to a workload. A Tunnel is
// a scoped resource: the component that opens it closes it, on every exit
// path, exactly once.
package tunnel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"deploycheck/internal/env"
	"deploycheck/pkg/logging"
)

const subsystem = "Tunnel"

// readyGrace is how long Open waits for the relay to confirm it is
// listening. The relay's readiness is not independently verifiable beyond
// this signal, so the wait is a fixed grace period, not a poll. A variable
// so tests can shorten it.
var readyGrace = 3 * time.Second

// State tracks the tunnel lifecycle.
type State int

const (
	StateOpen State = iota
	StateClosed
)

// Error wraps relay establishment failures so callers can degrade the
// tunnel-dependent checks instead of aborting the run.
type Error struct {
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tunnel: %s: %v", e.Detail, e.Err)
	}
	return "tunnel: " + e.Detail
}

func (e *Error) Unwrap() error { return e.Err }

// Tunnel is an open local network path to a workload port.
type Tunnel struct {
	relay      env.Relay
	remotePort int

	mu        sync.Mutex
	state     State
	closeOnce sync.Once
}

// Open establishes a relay to the workload and blocks until it is confirmed
// listening or the grace period elapses. On failure the partially-opened
// relay is torn down before returning.
func Open(ctx context.Context, profile env.Profile, handle env.WorkloadHandle, localPort, remotePort int) (*Tunnel, error) {
	relay, err := profile.OpenRelay(ctx, handle, localPort, remotePort)
	if err != nil {
		return nil, &Error{Detail: fmt.Sprintf("opening relay to %s port %d", handle.ID, remotePort), Err: err}
	}

	select {
	case <-relay.Ready():
	case <-ctx.Done():
		relay.Stop()
		return nil, &Error{Detail: "relay setup cancelled", Err: ctx.Err()}
	case <-time.After(readyGrace):
		relay.Stop()
		return nil, &Error{Detail: fmt.Sprintf("relay not listening after %s", readyGrace)}
	}

	logging.Info(subsystem, "Tunnel open: %s -> %s:%d", relay.LocalAddr(), handle.ID, remotePort)
	return &Tunnel{relay: relay, remotePort: remotePort, state: StateOpen}, nil
}

// LocalAddr returns the local host:port requests should be issued against.
func (t *Tunnel) LocalAddr() string { return t.relay.LocalAddr() }

// RemotePort returns the workload port the tunnel targets.
func (t *Tunnel) RemotePort() int { return t.remotePort }

// State returns the current lifecycle state.
func (t *Tunnel) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Close tears the relay down. It is idempotent: the first call transitions
// the tunnel to Closed, later calls are no-ops. Teardown problems are logged,
// not escalated; the environment eventually reclaims the relay anyway.
func (t *Tunnel) Close() {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.state = StateClosed
		t.mu.Unlock()

		defer func() {
			if r := recover(); r != nil {
				logging.Warn(subsystem, "Relay teardown panicked: %v", r)
			}
		}()
		t.relay.Stop()
		logging.Debug(subsystem, "Tunnel closed (%s)", t.relay.LocalAddr())
	})
}
