package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"deploycheck/internal/config"
	"deploycheck/pkg/logging"
)

var (
	flagEnvironment string
	flagVerbose     bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "deploycheck",
	Short: "Provision a demo workload and validate its security compliance",
	Long: `deploycheck provisions a demo API into a target runtime environment
(a Kubernetes cluster or a single-host Docker Compose project) and runs an
ordered battery of security-compliance checks against the running workload,
producing a pass/fail report with the observed evidence.`,
	// SilenceUsage is set to true to prevent printing usage message on errors
	// handled by us (e.g. invalid arguments, failed provisioning)
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := logging.LevelInfo
		if flagVerbose {
			level = logging.LevelDebug
		}
		logging.InitForCLI(level, os.Stderr)
	},
}

// exitCodeError carries a specific process exit code up to Execute. The
// message may be empty when the failure was already reported.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit code %d", e.code)
}

func (e *exitCodeError) Unwrap() error { return e.err }

// SetVersion sets the version for the root command
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "deploycheck version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err == nil {
		return
	}
	var ece *exitCodeError
	if errors.As(err, &ece) {
		os.Exit(ece.code)
	}
	// Cobra prints the error, we just exit non-zero
	os.Exit(1)
}

// loadRunConfig layers the configuration files and applies command-line
// overrides on top.
func loadRunConfig() (config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return config.Config{}, err
	}
	if flagEnvironment != "" {
		cfg.Environment = config.EnvironmentKind(flagEnvironment)
	}
	return cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagEnvironment, "env", "", "target environment: kubernetes or compose (default from config)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(newProvisionCmd())
	rootCmd.AddCommand(newCheckCmd())
	rootCmd.AddCommand(newVersionCmd())
}
