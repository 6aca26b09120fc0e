package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"deploycheck/internal/env"
	"deploycheck/internal/provision"
	"deploycheck/internal/report"
	"deploycheck/pkg/logging"
)

func newProvisionCmd() *cobra.Command {
	var imageRef string
	var buildContext string

	cmd := &cobra.Command{
		Use:     "provision",
		Aliases: []string{"setup"},
		Short:   "Build and deploy the workload, then wait for readiness",
		Long: `Builds the workload image if a build context is configured, submits the
deployment to the selected environment with create-or-update semantics, and
blocks until the substrate reports the workload ready.

Exit codes:
  0  workload is ready
  2  environment prerequisites missing
  3  image build or push failed
  4  readiness not reached before the deadline`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadRunConfig()
			if err != nil {
				return err
			}
			if imageRef != "" {
				cfg.Deployment.Image = imageRef
			}
			if buildContext != "" {
				cfg.Deployment.BuildContext = buildContext
			}

			profile, err := env.ProfileFor(cfg)
			if err != nil {
				return err
			}

			// A user interrupt must cancel in-flight substrate calls.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			handle, err := provision.Provision(ctx, cfg.Deployment, profile, provision.DockerBuilder())
			if err != nil {
				logging.Error("Provision", err, "Provisioning failed")
				return &exitCodeError{code: provisionExitCode(err), err: err}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Workload %q is ready in %s (instance %s)\n",
				cfg.Deployment.Name, profile.Name(), handle.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&imageRef, "image", "", "artifact reference to deploy (overrides config)")
	cmd.Flags().StringVar(&buildContext, "build-context", "", "build the image from this directory before deploying")
	return cmd
}

// provisionExitCode maps provisioning failures onto the documented exit
// codes. Substrate rejections share the generic failure code; only the
// classes scripts are expected to branch on get distinct codes.
func provisionExitCode(err error) int {
	switch provision.KindOf(err) {
	case provision.KindPrerequisiteMissing:
		return report.ExitPrerequisiteMissing
	case provision.KindBuildFailure:
		return report.ExitBuildFailure
	case provision.KindTimeout:
		return report.ExitProvisionTimeout
	default:
		if env.IsNotFound(err) {
			return report.ExitWorkloadNotFound
		}
		return 1
	}
}
