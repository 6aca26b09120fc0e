// Package report aggregates check results into a final verdict and renders
// them for humans. Formatting is stateless: a result in, a styled line out.
package report

import (
	"time"

	"github.com/google/uuid"

	"deploycheck/internal/checks"
)

// Status is the overall verdict of a run.
type Status string

const (
	StatusPass Status = "Pass"
	StatusFail Status = "Fail"
)

// CLI exit codes. Provisioning and checking share the space; each failure
// class gets a distinct code so scripts can branch on them.
const (
	ExitOK                  = 0
	ExitCheckFailed         = 1
	ExitPrerequisiteMissing = 2
	ExitBuildFailure        = 3
	ExitProvisionTimeout    = 4
	ExitWorkloadNotFound    = 5
)

// Report is the ordered collection of check results for one run.
type Report struct {
	RunID       string
	Environment string
	Workload    string
	StartedAt   time.Time
	Results     []checks.Result
}

// New creates an empty report stamped with a fresh run identifier.
func New(environment, workload string) *Report {
	return &Report{
		RunID:       uuid.NewString(),
		Environment: environment,
		Workload:    workload,
		StartedAt:   time.Now(),
	}
}

// Overall is Fail iff at least one Fatal-severity result is Fail. Warning
// failures, skips and informational results never fail the report.
func (r *Report) Overall() Status {
	for _, res := range r.Results {
		if res.Severity == checks.SeverityFatal && res.Outcome == checks.OutcomeFail {
			return StatusFail
		}
	}
	return StatusPass
}

// ExitCode maps the overall status to the process exit code.
func (r *Report) ExitCode() int {
	if r.Overall() == StatusFail {
		return ExitCheckFailed
	}
	return ExitOK
}
