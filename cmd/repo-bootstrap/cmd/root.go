package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/repo-bootstrap/internal/config"
	"github.com/oshokin/repo-bootstrap/internal/logger"
	"github.com/oshokin/repo-bootstrap/internal/service/bootstrap"
	"github.com/oshokin/repo-bootstrap/internal/version"
)

var (
	// configPath to the settings YAML file.
	configPath string
	// logLevel is the minimum level printed.
	logLevel string
	// options collects the remaining flags.
	options bootstrap.Options

	// rootCmd downloads, unpacks, installs and probes the project.
	rootCmd = &cobra.Command{
		Use:   "repo-bootstrap",
		Short: "Download a project archive, install its dependencies and check it imports.",
		Long: `Downloads the project zip archive from the configured source URL, extracts it
into the working directory, installs the dependencies listed in its manifest with
the interpreter's package manager and runs a generated probe script.

Download and extraction failures stop the run. A failed installation is reported
as a warning and the probe runs anyway.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			level, ok := logger.ParseLogLevel(logLevel)
			if !ok {
				return fmt.Errorf("unknown log level %q", logLevel)
			}

			logger.SetLevel(level)

			return nil
		},
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			opts := options
			opts.ConfigPath = configPath

			_, err := bootstrap.Run(ctx, &opts)

			return err
		},
	}
)

// Execute runs the CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)
	rootCmd.AddCommand(checksumCmd)

	defer logger.Sync()

	if err := rootCmd.Execute(); err != nil {
		logger.Logger().Error(err)
		logger.Sync()
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flags := rootCmd.Flags()

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")

	flags.StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to settings file")
	flags.StringVarP(&options.SourceURL, "source-url", "u", "", "archive URL, overrides source_url")
	flags.StringVarP(&options.ProjectPrefix, "prefix", "p", "", "extracted directory prefix, overrides project_prefix")
	flags.StringVarP(&options.WorkDir, "dir", "d", "", "working directory (default: current directory)")
	flags.StringVar(&options.Interpreter, "interpreter", "", "interpreter for pip and the probe, overrides interpreter")
	flags.StringVar(&options.ReportFile, "report", "", "write a JSON run report to this file, overrides report_file")
	flags.BoolVar(&options.NoLock, "no-lock", false, "do not guard the working directory with a marker file")
}
