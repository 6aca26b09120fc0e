// Package provision builds the workload artifact, submits it to the target
// environment, and waits for the substrate to report readiness.
package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"deploycheck/internal/compose"
	"deploycheck/internal/config"
	"deploycheck/internal/env"
	"deploycheck/pkg/logging"
)

const subsystem = "Provision"

// pollInterval is the fixed backoff between readiness probes. A variable so
// tests can shorten it.
var pollInterval = 2 * time.Second

// ErrorKind classifies provisioning failures; each kind maps to a distinct
// CLI exit code.
type ErrorKind int

const (
	KindPrerequisiteMissing ErrorKind = iota
	KindBuildFailure
	KindTimeout
	KindSubstrateRejected
)

func (k ErrorKind) String() string {
	switch k {
	case KindPrerequisiteMissing:
		return "PrerequisiteMissing"
	case KindBuildFailure:
		return "BuildFailure"
	case KindTimeout:
		return "Timeout"
	case KindSubstrateRejected:
		return "SubstrateRejected"
	default:
		return "Unknown"
	}
}

// Error is a fatal provisioning failure; the run never reaches the checking
// phase after one.
type Error struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provisioning failed (%s): %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("provisioning failed (%s): %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the error kind, or -1 if err is not a provision error.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return -1
}

// Builder builds and publishes the deployable artifact. The production
// implementation shells out to the container engine; tests substitute fakes.
type Builder interface {
	Build(ctx context.Context, contextDir, tag string) error
	Push(ctx context.Context, tag string) error
}

type dockerBuilder struct{}

func (dockerBuilder) Build(ctx context.Context, contextDir, tag string) error {
	return compose.BuildImage(ctx, contextDir, tag)
}

func (dockerBuilder) Push(ctx context.Context, tag string) error {
	return compose.PushImage(ctx, tag)
}

// DockerBuilder returns the docker-CLI backed artifact builder.
func DockerBuilder() Builder { return dockerBuilder{} }

// Provision makes the workload exist and be ready in the target environment,
// then resolves it to a concrete handle. It does not open network access.
//
// The operation is idempotent: re-running with an unchanged spec updates the
// existing workload in place and returns the same handle.
func Provision(ctx context.Context, spec config.DeploymentSpec, profile env.Profile, builder Builder) (env.WorkloadHandle, error) {
	logging.Info(subsystem, "Provisioning %q into %s", spec.Name, profile.Name())

	if err := profile.CheckPrerequisites(ctx); err != nil {
		return env.WorkloadHandle{}, &Error{Kind: KindPrerequisiteMissing, Detail: "environment prerequisites not met", Err: err}
	}

	if spec.BuildContext != "" {
		logging.Info(subsystem, "Building image %s from %s", spec.Image, spec.BuildContext)
		if err := builder.Build(ctx, spec.BuildContext, spec.Image); err != nil {
			return env.WorkloadHandle{}, &Error{Kind: KindBuildFailure, Detail: "image build failed", Err: err}
		}
		if spec.Push {
			if err := builder.Push(ctx, spec.Image); err != nil {
				return env.WorkloadHandle{}, &Error{Kind: KindBuildFailure, Detail: "image push failed", Err: err}
			}
		}
	}

	if err := profile.Apply(ctx, spec); err != nil {
		return env.WorkloadHandle{}, &Error{Kind: KindSubstrateRejected, Detail: "substrate rejected the deployment", Err: err}
	}

	if err := waitReady(ctx, spec, profile); err != nil {
		return env.WorkloadHandle{}, err
	}

	handle, err := profile.Locate(ctx, env.Selector{Name: spec.Name})
	if err != nil {
		return env.WorkloadHandle{}, err
	}
	logging.Info(subsystem, "Workload ready: %s", handle.ID)
	return handle, nil
}

// waitReady polls the environment's readiness predicate with a fixed backoff
// up to the configured deadline.
func waitReady(ctx context.Context, spec config.DeploymentSpec, profile env.Profile) error {
	timeout := time.Duration(spec.ReadyTimeout)
	if timeout == 0 {
		timeout = config.DefaultReadyTimeout
	}
	deadline := time.Now().Add(timeout)

	var lastDetail string
	for {
		ready, detail, terminal := profile.CheckReady(ctx, spec)
		if terminal != nil {
			return &Error{Kind: KindSubstrateRejected, Detail: detail, Err: terminal}
		}
		if ready {
			logging.Debug(subsystem, "Readiness met: %s", detail)
			return nil
		}
		if detail != "" && detail != lastDetail {
			logging.Info(subsystem, "Waiting for readiness: %s", detail)
			lastDetail = detail
		}

		if time.Now().After(deadline) {
			return &Error{Kind: KindTimeout, Detail: fmt.Sprintf("workload not ready after %s (last: %s)", timeout, lastDetail)}
		}
		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			// A user interrupt is not a readiness timeout; leave it
			// unclassified so it maps to the generic failure code.
			return fmt.Errorf("provisioning cancelled: %w", ctx.Err())
		}
	}
}
