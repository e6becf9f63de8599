// Package cli implements the chunkbatch command: launching jobs, restarting
// and abandoning runs, and inspecting batch metadata.
package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
)

// NewRootCommand creates the chunkbatch command. embedded is the default configuration.
func NewRootCommand(embedded config.EmbeddedConfig) *cobra.Command {
	return newRootCommand(&Options{Embedded: embedded})
}

func newRootCommand(o *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chunkbatch",
		Short: "Run chunk-oriented batch jobs",
		Long: "chunkbatch runs the registered batch jobs against a persistent job repository.\n" +
			"Failed and stopped runs can be restarted from their last committed chunk.",
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
	}
	if o.EnvFile == "" {
		o.EnvFile = os.Getenv("ENV_FILE_PATH")
	}

	f := cmd.PersistentFlags()
	f.StringVarP(&o.ConfigFile, "config", "c", "", "YAML configuration file (default: built-in configuration)")
	f.StringVar(&o.EnvFile, "env", o.EnvFile, ".env file loaded before the configuration is expanded (default: ./.env when present)")
	f.StringVar(&o.LogLevel, "log-level", "", "override the configured log level (DEBUG, INFO, WARN, ERROR, SILENT)")

	cmd.AddCommand(
		newRunCommand(o),
		newRunAllCommand(o),
		newRestartCommand(o),
		newAbandonCommand(o),
		newJobsCommand(o),
		newStatusCommand(o),
	)
	return cmd
}

// Execute runs the command with os.Args.
func Execute(ctx context.Context, embedded config.EmbeddedConfig) error {
	return NewRootCommand(embedded).ExecuteContext(ctx)
}
