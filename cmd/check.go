package cmd

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"deploycheck/internal/checks"
	"deploycheck/internal/env"
	"deploycheck/internal/report"
	"deploycheck/internal/tunnel"
	"deploycheck/pkg/logging"
)

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "check",
		Aliases: []string{"validate"},
		Short:   "Run the compliance checks against the deployed workload",
		Long: `Locates the running workload in the selected environment, opens a
temporary network tunnel to it, and executes the compliance checks in order:
identity, network binding, content, and security attributes. Every check
records a result; a failing check never aborts the remaining ones.

Exit codes:
  0  all fatal-severity checks passed
  1  at least one fatal-severity check failed
  5  the workload could not be located`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadRunConfig()
			if err != nil {
				return err
			}
			profile, err := env.ProfileFor(cfg)
			if err != nil {
				return err
			}

			// A user interrupt must run the deferred tunnel teardown
			// before the process exits.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			handle, err := profile.Locate(ctx, env.Selector{Name: cfg.Deployment.Name})
			if err != nil {
				// Nothing to validate without a workload; short-circuit
				// before any check executes.
				logging.Error("Check", err, "Workload could not be located")
				return &exitCodeError{code: report.ExitWorkloadNotFound, err: err}
			}

			rep := report.New(profile.Name(), cfg.Deployment.Name)
			logging.Info("Check", "Run %s: validating %q in %s (instance %s)",
				rep.RunID, cfg.Deployment.Name, profile.Name(), handle.ID)

			// A tunnel failure degrades the tunnel-dependent checks to
			// Skipped instead of aborting the whole run.
			var tun *tunnel.Tunnel
			tun, tunErr := tunnel.Open(ctx, profile, handle, cfg.Checks.LocalPort, cfg.Deployment.Port)
			if tunErr != nil {
				logging.Warn("Check", "Access tunnel unavailable, network-facing checks will be skipped: %v", tunErr)
				tun = nil
			} else {
				defer tun.Close()
			}

			target := checks.Target{
				Profile: profile,
				Handle:  handle,
				Tunnel:  tun,
			}
			rep.Results = checks.RunAll(ctx, checks.DefaultChecks(cfg.Checks, cfg.Deployment.Port), target)

			if code := report.Render(cmd.OutOrStdout(), rep); code != 0 {
				return &exitCodeError{code: code, err: errors.New("compliance checks failed")}
			}
			return nil
		},
	}
	return cmd
}
