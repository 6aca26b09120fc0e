package checks

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"deploycheck/pkg/logging"
)

const subsystem = "CheckRunner"

// retryDelay is the fixed pause between retries of a transiently failing
// predicate. A variable so tests can shorten it.
var retryDelay = 2 * time.Second

// ErrTransient marks predicate errors worth retrying, e.g. an exec into a
// container that is still starting. Wrap with fmt.Errorf("%w: ...", ErrTransient).
var ErrTransient = errors.New("transient check error")

// isTransient classifies predicate errors. Connection-level failures and
// per-attempt timeouts are retried; everything else is terminal for the check.
func isTransient(err error) bool {
	if errors.Is(err, ErrTransient) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// RunAll executes the checks strictly in declaration order and records one
// Result per Spec. A fatal failure never aborts the sequence: the report is
// always complete, so partial compliance stays visible.
func RunAll(ctx context.Context, specs []Spec, t Target) []Result {
	results := make([]Result, 0, len(specs))
	for _, spec := range specs {
		results = append(results, runOne(ctx, spec, t))
	}
	return results
}

func runOne(ctx context.Context, spec Spec, t Target) Result {
	if spec.NeedsTunnel && t.Tunnel == nil {
		logging.Warn(subsystem, "Skipping check %q: access tunnel unavailable", spec.Name)
		return Result{
			Name:        spec.Name,
			Severity:    spec.Severity,
			Outcome:     OutcomeSkipped,
			Explanation: "access tunnel unavailable",
		}
	}

	var lastErr error
	for attempt := 0; attempt <= spec.Retries; attempt++ {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}

		attemptCtx := ctx
		var cancel context.CancelFunc
		if spec.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		}
		res, err := spec.Run(attemptCtx, t)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			res.Name = spec.Name
			res.Severity = spec.Severity
			logging.Debug(subsystem, "Check %q attempt %d: %s", spec.Name, attempt+1, res.Outcome)
			return res
		}

		lastErr = err
		if isTransient(err) && attempt < spec.Retries {
			logging.Debug(subsystem, "Check %q attempt %d failed transiently, retrying: %v", spec.Name, attempt+1, err)
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
			}
			continue
		}
		break
	}

	logging.Warn(subsystem, "Check %q exhausted: %v", spec.Name, lastErr)
	return Result{
		Name:        spec.Name,
		Severity:    spec.Severity,
		Outcome:     OutcomeFail,
		Explanation: fmt.Sprintf("check could not complete: %v", lastErr),
	}
}
