package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/extbuild/internal/logger"
	"github.com/oshokin/extbuild/internal/service/builder"
	"github.com/oshokin/extbuild/internal/version"
)

var (
	// values are filled from the command line.
	values flagValues

	// rootCmd translates, synchronizes and packages a browser extension.
	rootCmd = &cobra.Command{
		Use:           "extbuild",
		Short:         "Build browser extension packages for every configured platform",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return builder.Run(ctx, values.options())
		},
	}
)

// Execute runs the extbuild CLI and exits with the code matching the outcome.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	var (
		ctx     = context.Background()
		started = time.Now()
		err     = rootCmd.Execute()
		code    = ExitCode(err)
	)

	if err != nil {
		logger.ErrorKV(ctx, "Build failed", "error", err)
	}

	logger.Infof(ctx, "Process exited in %.2f seconds with code %d", time.Since(started).Seconds(), code)

	os.Exit(code)
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	values.bind(rootCmd.Flags())
	rootCmd.AddCommand(verifyCmd)
}
