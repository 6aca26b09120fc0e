package checks

import (
	"context"
	"time"

	"deploycheck/internal/config"
	"deploycheck/internal/env"
)

// fakeProfile implements env.Profile for check tests. Only the methods a
// given test exercises need behavior.
type fakeProfile struct {
	execFn   func(ctx context.Context, command []string) (string, error)
	attrs    env.SecurityAttributes
	attrsErr error
	relay    env.Relay
	relayErr error
}

func (f *fakeProfile) Name() string { return "fake" }

func (f *fakeProfile) CheckPrerequisites(ctx context.Context) error { return nil }

func (f *fakeProfile) Apply(ctx context.Context, spec config.DeploymentSpec) error { return nil }

func (f *fakeProfile) CheckReady(ctx context.Context, spec config.DeploymentSpec) (bool, string, error) {
	return true, "", nil
}

func (f *fakeProfile) Locate(ctx context.Context, sel env.Selector) (env.WorkloadHandle, error) {
	return env.WorkloadHandle{Environment: "fake", ID: "instance-1", CreatedAt: time.Now()}, nil
}

func (f *fakeProfile) Exec(ctx context.Context, handle env.WorkloadHandle, command []string) (string, error) {
	if f.execFn == nil {
		return "", nil
	}
	return f.execFn(ctx, command)
}

func (f *fakeProfile) OpenRelay(ctx context.Context, handle env.WorkloadHandle, localPort, remotePort int) (env.Relay, error) {
	return f.relay, f.relayErr
}

func (f *fakeProfile) SecurityAttributes(ctx context.Context, handle env.WorkloadHandle) (env.SecurityAttributes, error) {
	return f.attrs, f.attrsErr
}

// fakeRelay is an env.Relay over a fixed address, born ready.
type fakeRelay struct {
	addr    string
	stopped int
}

func newFakeRelay(addr string) *fakeRelay {
	return &fakeRelay{addr: addr}
}

func (r *fakeRelay) LocalAddr() string { return r.addr }

func (r *fakeRelay) Ready() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (r *fakeRelay) Stop() { r.stopped++ }
