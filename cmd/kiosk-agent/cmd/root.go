package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/kiosk-agent/internal/service/agent"
	"github.com/oshokin/kiosk-agent/internal/version"
)

var (
	// envFile stores the path to an optional environment file.
	envFile string
	// composeFile overrides the compose file path from the environment.
	composeFile string
	// logLevel overrides the log level from the environment.
	logLevel string
	// debug switches the agent to short debug cadences.
	debug bool

	// rootCmd represents the base command that runs the update agent.
	rootCmd = &cobra.Command{
		Use:   "kiosk-agent",
		Short: "Keep kiosk containers on the latest published images.",
		Long: `Background service that keeps a kiosk's containers on the latest published images.

Polls the container registry on a fixed cadence and compares remote image digests
with the versions recorded on disk. When the device image changes, the device
container is pulled and recreated in place. When the agent image changes, the
new image is pulled and recorded but the restart is deferred to the next compose
sync so the agent never kills itself mid-cycle. Update windows, registry tokens
and device identity come from the fleet backend, connection settings come from
the environment or an env file.

This runs as a background service on every kiosk in the fleet.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &agent.Options{
				EnvFile:     envFile,
				ComposeFile: composeFile,
				LogLevel:    logLevel,
				Debug:       debug,
			}

			return agent.Run(ctx, options)
		},
	}
)

// Execute runs the kiosk-agent CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&envFile, "env-file", "e", "", "path to environment file")
	rootCmd.Flags().StringVarP(&composeFile, "compose-file", "f", "", "path to compose file")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "", "log level: debug, info, warn or error")

	// Hidden debug flag to shorten the update and sync cadences.
	rootCmd.Flags().BoolVarP(&debug, "debug", "d", false, "use short debug cadences")

	err := rootCmd.Flags().MarkHidden("debug")
	if err != nil {
		panic(err)
	}
}
