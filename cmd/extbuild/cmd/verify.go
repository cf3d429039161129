package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/oshokin/extbuild/internal/logger"
	"github.com/oshokin/extbuild/internal/service/packager"
)

// verifyCmd checks release archives against the checksums of their release description.
var verifyCmd = &cobra.Command{
	Use:   "verify [release-description]",
	Short: "Check release archives against their release description",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		release, err := packager.LoadRelease(path)
		if err != nil {
			return fmt.Errorf("load release description: %w", err)
		}

		if err = release.Verify(filepath.Dir(path)); err != nil {
			return err
		}

		logger.InfoKV(cmd.Context(), "Release verified",
			"project", release.Project,
			"version", release.Version,
			"archives", len(release.Files))

		return nil
	},
}
