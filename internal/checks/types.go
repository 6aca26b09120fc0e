// Package checks defines the compliance check units and the runner that
// executes them in order against a located workload.
package checks

import (
	"context"
	"net/http"
	"time"

	"deploycheck/internal/env"
	"deploycheck/internal/tunnel"
)

// Outcome is the recorded verdict of one check.
type Outcome string

const (
	OutcomePass    Outcome = "Pass"
	OutcomeFail    Outcome = "Fail"
	OutcomeSkipped Outcome = "Skipped"
	// OutcomeInfo records an observation the check could not turn into a
	// verdict, e.g. when introspection tooling is missing in the workload.
	OutcomeInfo Outcome = "Info"
)

// Severity decides whether a failing check fails the whole report.
type Severity string

const (
	SeverityFatal   Severity = "Fatal"
	SeverityWarning Severity = "Warning"
)

// Result is the immutable record of one executed check. Results are appended
// in execution order; the order matters for report readability.
type Result struct {
	Name        string
	Severity    Severity
	Outcome     Outcome
	Observed    string
	Explanation string
}

// Target bundles everything a check predicate may act on. The tunnel is nil
// when relay establishment failed; tunnel-dependent checks are then skipped.
type Target struct {
	Profile    env.Profile
	Handle     env.WorkloadHandle
	Tunnel     *tunnel.Tunnel
	HTTPClient *http.Client
}

// RunFunc is a check predicate. A returned error means the predicate could
// not produce a verdict at all; transient errors are retried by the runner.
type RunFunc func(ctx context.Context, t Target) (Result, error)

// Spec declares one check unit.
type Spec struct {
	Name        string
	Severity    Severity
	Timeout     time.Duration
	Retries     int
	NeedsTunnel bool
	Run         RunFunc
}
