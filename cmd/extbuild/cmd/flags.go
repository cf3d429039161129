package cmd

import (
	"github.com/spf13/pflag"

	"github.com/oshokin/extbuild/internal/config"
	"github.com/oshokin/extbuild/internal/domain/extension"
	"github.com/oshokin/extbuild/internal/service/builder"
)

// flagValues holds the parsed command line.
type flagValues struct {
	// configPath to the build configuration file.
	configPath string
	// requested holds the individual action flags.
	requested extension.Actions
	// all enables every action.
	all bool
	// force allows overwriting an existing release.
	force bool
	// cleanManifest removes empty fields from the source manifest.
	cleanManifest bool
	// debug enables debug logging.
	debug bool
}

func (v *flagValues) bind(flags *pflag.FlagSet) {
	flags.StringVarP(&v.configPath, "config", "c", config.DefaultConfigFilename, "path to build configuration file")
	flags.BoolVar(&v.requested.Copy, "copy", false, "translate manifests and synchronize target directories")
	flags.BoolVar(&v.requested.Package, "package", false, "build release archives")
	flags.BoolVar(&v.requested.Git, "git", false, "commit and push the changes")
	flags.BoolVar(&v.all, "all", false, "copy, package and publish")
	flags.BoolVar(&v.force, "force", false, "overwrite packages of an already released version")
	flags.BoolVar(&v.force, "ignore", false, "same as --force")
	flags.BoolVar(&v.cleanManifest, "clean-manifest", false, "remove empty fields from the source manifest")
	flags.BoolVar(&v.debug, "debug", false, "enable debug logging")
}

func (v *flagValues) options() *builder.Options {
	actions := v.requested
	if v.all {
		actions = actions.Merge(extension.Actions{Copy: true, Package: true, Git: true})
	}

	return &builder.Options{
		ConfigPath:    v.configPath,
		Actions:       actions,
		Force:         v.force,
		CleanManifest: v.cleanManifest,
		Debug:         v.debug,
	}
}
